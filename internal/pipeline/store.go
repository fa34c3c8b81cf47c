package pipeline

import (
	"context"

	"github.com/Janar2510/driveapipe-app/model"
)

// PipelineStore persists pipeline aggregates. Stages and deals are only ever
// written as part of their pipeline.
type PipelineStore interface {
	// List returns every pipeline ordered by creation time.
	List(ctx context.Context) ([]model.Pipeline, error)

	// Get retrieves a pipeline by ID. Returns NOT_FOUND if it doesn't exist.
	Get(ctx context.Context, pipelineID string) (model.Pipeline, error)

	// Create persists a new pipeline. Returns CONFLICT if the ID is taken.
	Create(ctx context.Context, p model.Pipeline) error

	// Update replaces one or more pipelines atomically with optimistic
	// locking. Each pipeline's Version must match the stored version; on
	// success the stored version is incremented. Returns CONFLICT on a
	// version mismatch and NOT_FOUND if a pipeline doesn't exist, in which
	// case nothing is written.
	Update(ctx context.Context, pipelines ...model.Pipeline) error

	// Delete removes a pipeline with all its stages and deals.
	// Returns NOT_FOUND if it doesn't exist.
	Delete(ctx context.Context, pipelineID string) error

	// FindDealPipeline returns the ID of the pipeline currently holding the
	// deal. Returns NOT_FOUND if no pipeline holds it.
	FindDealPipeline(ctx context.Context, dealID string) (string, error)
}

// DealFilter narrows ListDeals. Empty fields match everything.
type DealFilter struct {
	PipelineID string
	StageID    string
	OwnerID    string
	// StaleOnly keeps only deals that are stale at the engine's clock.
	StaleOnly          bool
	StaleThresholdDays int
}

func (f DealFilter) match(d model.Deal) bool {
	if f.PipelineID != "" && d.PipelineID != f.PipelineID {
		return false
	}
	if f.StageID != "" && d.StageID != f.StageID {
		return false
	}
	if f.OwnerID != "" && d.OwnerID != f.OwnerID {
		return false
	}
	return true
}
