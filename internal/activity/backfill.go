package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/mailcore/internal/mailerr"
	"github.com/edvin/mailcore/internal/model"
)

// ChunkAssigner re-runs folder assignment over one bounded page of an
// organization's sent mail. *core.AssignmentService satisfies it.
type ChunkAssigner interface {
	BackfillChunk(ctx context.Context, orgID, afterMailID string, limit int) (*model.BackfillChunkResult, error)
}

// Backfill contains the activities driven by BackfillOrganizationWorkflow.
type Backfill struct {
	assigner ChunkAssigner
	logger   zerolog.Logger
}

// NewBackfill creates a new Backfill activity struct.
func NewBackfill(assigner ChunkAssigner, logger zerolog.Logger) *Backfill {
	return &Backfill{assigner: assigner, logger: logger.With().Str("component", "backfill-activity").Logger()}
}

// BackfillChunkParams holds the parameters for BackfillChunk.
type BackfillChunkParams struct {
	OrgID  string `json:"org_id"`
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}

// BackfillChunk assigns one chunk and returns the cursor to continue from.
// Deterministic failures are returned as non-retryable application errors.
func (a *Backfill) BackfillChunk(ctx context.Context, params BackfillChunkParams) (*model.BackfillChunkResult, error) {
	activity.RecordHeartbeat(ctx, params.Cursor)

	res, err := a.assigner.BackfillChunk(ctx, params.OrgID, params.Cursor, params.Limit)
	if err != nil {
		return nil, asNonRetryable(err)
	}
	a.logger.Debug().
		Str("org_id", params.OrgID).
		Str("cursor", res.NextCursor).
		Int("processed", res.Processed).
		Int("created", res.Created).
		Msg("backfill chunk done")
	return res, nil
}

// asNonRetryable wraps validation, not-found and state errors so Temporal
// stops retrying them. Busy and infrastructure errors are returned unchanged.
func asNonRetryable(err error) error {
	kind := mailerr.KindOf(err)
	if kind == nil || mailerr.IsRetryable(err) {
		return err
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), errorType(kind), err)
}

func errorType(kind error) string {
	switch {
	case errors.Is(kind, mailerr.ErrValidation):
		return "Validation"
	case errors.Is(kind, mailerr.ErrNotFound):
		return "NotFound"
	case errors.Is(kind, mailerr.ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(kind, mailerr.ErrOrgSuspended):
		return "OrgSuspended"
	default:
		return fmt.Sprint(kind)
	}
}
