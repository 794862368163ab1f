package repository

import (
	"detectserver/internal/model"
)

// RunRepository defines the interface for detection run history.
type RunRepository interface {
	Insert(run *model.Run) (int64, error)

	GetByID(id int64) (*model.Run, error)
	GetAll(filter *model.RunFilter) ([]model.Run, error)
	GetTotalCount(filter *model.RunFilter) (int, error)

	DeleteAll() error
}

// DetectionRepository defines the interface for per-box records of image runs.
type DetectionRepository interface {
	InsertBatch(detections []model.Detection) error

	GetByRunID(runID int64) ([]model.Detection, error)
	GetLabelCounts(limit int) ([]model.LabelCount, error)
}
