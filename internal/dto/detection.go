package dto

import "detectserver/internal/model"

// ImageDetectionResponse is returned by POST /api/detect/image.
type ImageDetectionResponse struct {
	RunID      int64             `json:"runId,omitempty"`
	Image      string            `json:"image"` // base64 encoded annotated JPEG
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Confidence float64           `json:"confidence"`
	Count      int               `json:"count"`
	Detections []model.Detection `json:"detections"`
	Message    string            `json:"message,omitempty"`
}

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}
