package dto

import (
	"encoding/json"

	"detectserver/internal/model"
)

// RunInfo is a history row as shown by the page.
type RunInfo struct {
	model.Run
}

// MarshalJSON adds display date and time-of-day fields to the run.
func (r RunInfo) MarshalJSON() ([]byte, error) {
	type Alias model.Run
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      r.CreatedAt.Format("02-01-2006"),
		TimeOfDay: r.CreatedAt.Format("15:04:05"),
		Alias:     Alias(r.Run),
	})
}

// HistoryData is a paginated response payload for the run history.
type HistoryData struct {
	Runs        []RunInfo          `json:"runs"`
	TopLabels   []model.LabelCount `json:"topLabels"`
	Length      int                `json:"length"`
	TotalPages  int                `json:"totalPages"`
	CurrentPage int                `json:"currentPage"`
	Limit       int                `json:"pageSize"`
}
