package model

import "time"

// Run statuses.
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run represents one detection request (an image or a full video playback).
type Run struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	Filename   string    `json:"filename"`
	Model      string    `json:"model"`
	Confidence float64   `json:"confidence"`
	Frames     int       `json:"frames"`
	Detections int       `json:"detections"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	ResultFile string    `json:"result_file,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunFilter contains filtering options for querying runs.
type RunFilter struct {
	Source string
	Status string
	Limit  int
	Offset int
}

// LabelCount is the number of boxes recorded for one class label.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}
