package dto

import "detectserver/internal/model"

// Video stream message types.
const (
	MessageFrame = "frame"
	MessageDone  = "done"
	MessageError = "error"
)

// VideoInfo describes an uploaded video as reported by the probe.
type VideoInfo struct {
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	FPS      float64 `json:"fps,omitempty"`
	Duration float64 `json:"duration,omitempty"` // seconds
	Codec    string  `json:"codec,omitempty"`
	Frames   int     `json:"frames,omitempty"`
}

// VideoUploadResponse is returned by POST /api/detect/video.
type VideoUploadResponse struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Size int64     `json:"size"`
	Info VideoInfo `json:"info"`
}

// VideoFrame is one annotated frame pushed over the stream.
type VideoFrame struct {
	Type       string            `json:"type"`
	Index      int               `json:"index"`
	Image      string            `json:"image"` // base64 encoded annotated JPEG
	Detections []model.Detection `json:"detections,omitempty"`
}

// PlaybackSummary closes a successful stream.
type PlaybackSummary struct {
	Type       string `json:"type"`
	RunID      int64  `json:"runId,omitempty"`
	Frames     int    `json:"frames"`
	Detections int    `json:"detections"`
	DurationMs int64  `json:"durationMs"`
}

// StreamError closes a failed stream.
type StreamError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
