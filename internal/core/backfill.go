package core

import (
	"context"
	"fmt"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/mailcore/internal/mailerr"
	"github.com/edvin/mailcore/internal/model"
)

// BackfillWorkflowName is the registered name of the workflow that re-runs
// folder assignment over an organization's sent mail.
const BackfillWorkflowName = "BackfillOrganizationWorkflow"

// BackfillService starts backfill workflows. The chunks themselves run in
// AssignmentService.BackfillChunk.
type BackfillService struct {
	db        DB
	tc        temporalclient.Client
	taskQueue string
	chunkSize int
}

func NewBackfillService(pool DB, tc temporalclient.Client, taskQueue string, chunkSize int) *BackfillService {
	return &BackfillService{db: pool, tc: tc, taskQueue: taskQueue, chunkSize: chunkSize}
}

// BackfillWorkflowID is stable per organization, so starting a backfill that
// is already running attaches to the running one.
func BackfillWorkflowID(orgID string) string {
	return fmt.Sprintf("backfill-org-%s", orgID)
}

// Start launches the backfill workflow for an organization and returns its
// workflow id.
func (s *BackfillService) Start(ctx context.Context, orgID string) (string, error) {
	e := mailerr.Error{Op: "start backfill", OrgID: orgID}
	if err := requireIDs(e, orgID); err != nil {
		return "", err
	}
	if s.tc == nil {
		return "", classify(fmt.Errorf("temporal client is not configured"), e)
	}

	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM organizations WHERE id = $1)`, orgID).Scan(&exists)
	if err != nil {
		return "", classify(fmt.Errorf("check organization %s: %w", orgID, err), e)
	}
	if !exists {
		return "", fail(e, mailerr.ErrNotFound, "organization does not exist")
	}

	workflowID := BackfillWorkflowID(orgID)
	_, err = s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.taskQueue,
	}, BackfillWorkflowName, model.BackfillParams{OrgID: orgID, ChunkSize: s.chunkSize})
	if err != nil {
		return "", classify(fmt.Errorf("start %s: %w", BackfillWorkflowName, err), e)
	}
	return workflowID, nil
}
