package handler

import (
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"detectserver/internal/dto"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/repository"
	"detectserver/internal/service/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	topLabelsLimit  = 5
)

// GetHistoryHandler returns a page of recorded runs, newest first.
// Query: page, limit, source (image|video), status (completed|failed).
func GetHistoryHandler(logger *logger.Logger, runRepo repository.RunRepository, detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := lo.Clamp(atoiDefault(q.Get("limit"), defaultPageSize), 1, maxPageSize)

		data := dto.HistoryData{
			Runs:        []dto.RunInfo{},
			TopLabels:   []model.LabelCount{},
			CurrentPage: page,
			Limit:       limit,
		}
		if runRepo == nil {
			writeJSON(w, logger, http.StatusOK, data)
			return
		}

		filter := &model.RunFilter{
			Source: q.Get("source"),
			Status: q.Get("status"),
			Limit:  limit,
			Offset: (page - 1) * limit,
		}

		runs, err := runRepo.GetAll(filter)
		if err != nil {
			writeError(w, logger, errors.Wrap(err, "error querying runs from database"))
			return
		}

		totalCount, err := runRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting runs: %v", err)
			totalCount = len(runs)
		}

		if detectionRepo != nil {
			labels, err := detectionRepo.GetLabelCounts(topLabelsLimit)
			if err != nil {
				logger.Error("Error counting labels: %v", err)
			} else if labels != nil {
				data.TopLabels = labels
			}
		}

		data.Runs = lo.Map(runs, func(run model.Run, _ int) dto.RunInfo { return dto.RunInfo{Run: run} })
		data.Length = totalCount
		data.TotalPages = (totalCount + limit - 1) / limit

		writeJSON(w, logger, http.StatusOK, data)
	}
}

// GetRunDetectionsHandler returns the boxes stored for one image run (?id=).
func GetRunDetectionsHandler(logger *logger.Logger, runRepo repository.RunRepository, detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, logger, badRequest("id parameter must be a positive integer"))
			return
		}
		if runRepo == nil || detectionRepo == nil {
			http.NotFound(w, r)
			return
		}

		run, err := runRepo.GetByID(id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if run == nil {
			writeJSON(w, logger, http.StatusNotFound, dto.ErrorResponse{Error: "run not found"})
			return
		}

		detections, err := detectionRepo.GetByRunID(id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if detections == nil {
			detections = []model.Detection{}
		}

		writeJSON(w, logger, http.StatusOK, struct {
			Run        dto.RunInfo       `json:"run"`
			Detections []model.Detection `json:"detections"`
		}{dto.RunInfo{Run: *run}, detections})
	}
}

// ClearHistoryHandler deletes every stored result image and history row.
func ClearHistoryHandler(recorder *storage.Recorder, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := recorder.Clear(); err != nil {
			writeError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ViewResultHandler serves a stored annotated image (?file=).
func ViewResultHandler(recorder *storage.Recorder, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, err := recorder.ResultPath(r.URL.Query().Get("file"))
		if err != nil {
			writeError(w, logger, badRequest("%v", err))
			return
		}
		http.ServeFile(w, r, path)
	}
}
