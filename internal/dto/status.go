package dto

// StatusResponse tells the page whether detection controls may be shown.
type StatusResponse struct {
	Ready             bool                `json:"ready"`
	ModelName         string              `json:"modelName"`
	ModelPath         string              `json:"modelPath"`
	Error             string              `json:"error,omitempty"`
	Models            []string            `json:"models"`
	ConfidenceMin     float64             `json:"confidenceMin"`
	ConfidenceMax     float64             `json:"confidenceMax"`
	ConfidenceDefault float64             `json:"confidenceDefault"`
	Sources           []string            `json:"sources"`
	Formats           map[string][]string `json:"formats"`
	FrameWidth        int                 `json:"frameWidth"`
	FrameHeight       int                 `json:"frameHeight"`
	HistoryEnabled    bool                `json:"historyEnabled"`
	ActiveStreams     int                 `json:"activeStreams"`
}
