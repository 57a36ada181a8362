package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/mailcore/internal/activity"
	"github.com/edvin/mailcore/internal/model"
)

const (
	defaultBackfillChunkSize = 500
	// maxChunksPerRun bounds the event history of one run.
	maxChunksPerRun = 200
)

// BackfillOrganizationWorkflow re-runs folder assignment over every sent mail
// of an organization, one chunk per activity. Each chunk is its own
// transaction, so a crash loses at most the chunk in flight and rerunning it
// is harmless: assignment only inserts placements that do not exist yet.
//
// After maxChunksPerRun chunks the workflow continues as new with the cursor
// it reached.
func BackfillOrganizationWorkflow(ctx workflow.Context, params model.BackfillParams) error {
	logger := workflow.GetLogger(ctx)
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    10,
			InitialInterval:    2 * time.Second,
			MaximumInterval:    time.Minute,
			BackoffCoefficient: 2.0,
		},
	})

	chunkSize := params.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultBackfillChunkSize
	}

	cursor := params.Cursor
	var processed, created int
	for chunk := 0; chunk < maxChunksPerRun; chunk++ {
		var res model.BackfillChunkResult
		err := workflow.ExecuteActivity(ctx, "BackfillChunk", activity.BackfillChunkParams{
			OrgID:  params.OrgID,
			Cursor: cursor,
			Limit:  chunkSize,
		}).Get(ctx, &res)
		if err != nil {
			logger.Error("backfill chunk failed", "org_id", params.OrgID, "cursor", cursor, "error", err)
			return err
		}

		processed += res.Processed
		created += res.Created
		if res.NextCursor != "" {
			cursor = res.NextCursor
		}
		if res.Done {
			logger.Info("backfill complete", "org_id", params.OrgID, "processed", processed, "created", created)
			return nil
		}
	}

	logger.Info("backfill continuing as new", "org_id", params.OrgID, "cursor", cursor, "processed", processed)
	return workflow.NewContinueAsNewError(ctx, BackfillOrganizationWorkflow, model.BackfillParams{
		OrgID:     params.OrgID,
		Cursor:    cursor,
		ChunkSize: chunkSize,
	})
}
