package storage

import (
	"context"

	"thermoters/internal/model"
)

// Store persists scoring runs and the model bundles refitted by them.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns runs oldest first; kind filters when non-empty.
	ListRuns(ctx context.Context, kind string) ([]model.RunRecord, error)
	DeleteRun(ctx context.Context, id string) error
	SaveModelSnapshot(ctx context.Context, runID string, bundle []byte) error
	GetModelSnapshot(ctx context.Context, runID string) ([]byte, bool, error)
}
