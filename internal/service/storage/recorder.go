package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/repository"
)

const (
	// timestampLayout prefixes every stored result file.
	timestampLayout = "2006-01-02_15-04_05.000"
	maxNameLength   = 40
)

// ErrInvalidResultName is returned for result file names that would escape the results directory.
var ErrInvalidResultName = errors.New("invalid result file name")

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Recorder persists the outcome of detection runs: one history row per
// request, per-box rows and the annotated JPEG for image runs.
type Recorder struct {
	resultsDir    string
	enabled       bool
	runRepo       repository.RunRepository
	detectionRepo repository.DetectionRepository
	logger        *logger.Logger
	mu            sync.Mutex
}

// NewRecorder creates a Recorder. With history disabled, or without a run
// repository, every Record call is a no-op. A nil *Recorder behaves the same.
func NewRecorder(cfg *config.Config, logger *logger.Logger, runRepo repository.RunRepository, detectionRepo repository.DetectionRepository) *Recorder {
	return &Recorder{
		resultsDir:    cfg.ResultsDirectory,
		enabled:       cfg.HistoryEnabled && runRepo != nil,
		runRepo:       runRepo,
		detectionRepo: detectionRepo,
		logger:        logger,
	}
}

// Enabled reports whether runs are persisted.
func (s *Recorder) Enabled() bool {
	return s != nil && s.enabled
}

// RecordImage stores the annotated image and inserts the run with its boxes.
// It returns the new run id, or 0 when history is disabled.
func (s *Recorder) RecordImage(run *model.Run, annotated []byte, detections []model.Detection) (int64, error) {
	if !s.Enabled() {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(annotated) > 0 {
		name, err := s.writeResult(run, annotated, detections)
		if err != nil {
			// the run is still worth recording without its picture
			s.logger.Error("Error saving result image for %s: %v", run.Filename, err)
		} else {
			run.ResultFile = name
		}
	}

	id, err := s.runRepo.Insert(run)
	if err != nil {
		return 0, errors.Wrap(err, "failed to record run")
	}
	run.ID = id

	if s.detectionRepo != nil && len(detections) > 0 {
		rows := lo.Map(detections, func(d model.Detection, _ int) model.Detection {
			d.RunID = id
			return d
		})
		if err := s.detectionRepo.InsertBatch(rows); err != nil {
			return id, errors.Wrap(err, "failed to record detections")
		}
	}

	s.logger.Info("Recorded %s run %d: %s (%d detections)", run.Source, id, run.Filename, run.Detections)
	return id, nil
}

// RecordVideo inserts a playback run. Per-frame boxes are not kept.
func (s *Recorder) RecordVideo(run *model.Run) (int64, error) {
	if !s.Enabled() {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.runRepo.Insert(run)
	if err != nil {
		return 0, errors.Wrap(err, "failed to record run")
	}
	run.ID = id

	s.logger.Info("Recorded %s run %d: %s (%d frames, status %s)", run.Source, id, run.Filename, run.Frames, run.Status)
	return id, nil
}

// ResultPath resolves a stored result file name inside the results directory.
func (s *Recorder) ResultPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidResultName
	}
	return filepath.Join(s.resultsDir, name), nil
}

// Clear deletes every stored result file and all history rows.
func (s *Recorder) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := os.ReadDir(s.resultsDir)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "unable to read results directory")
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.resultsDir, file.Name())); err != nil {
			s.logger.Error("Error deleting file %s: %v", file.Name(), err)
		}
	}

	if s.runRepo != nil {
		if err := s.runRepo.DeleteAll(); err != nil {
			return errors.Wrap(err, "failed to clear history")
		}
	}

	s.logger.Info("History cleared, results directory: %s", s.resultsDir)
	return nil
}

// writeResult names the file after the time, the upload and the detected
// labels, e.g. 2025-06-15_14-30_05.000_crash_accident_car.jpg.
func (s *Recorder) writeResult(run *model.Run, data []byte, detections []model.Detection) (string, error) {
	if err := os.MkdirAll(s.resultsDir, 0755); err != nil {
		return "", errors.Wrap(err, "error creating directory")
	}

	labels := lo.Uniq(lo.Map(detections, func(d model.Detection, _ int) string {
		return sanitize(d.Label)
	}))

	parts := []string{run.CreatedAt.Format(timestampLayout), sanitize(strings.TrimSuffix(run.Filename, filepath.Ext(run.Filename)))}
	parts = append(parts, labels...)
	name := fmt.Sprintf("%s.jpg", strings.Join(lo.Compact(parts), "_"))

	if err := os.WriteFile(filepath.Join(s.resultsDir, name), data, 0644); err != nil {
		return "", errors.Wrapf(err, "error saving image %s", name)
	}
	return name, nil
}

func sanitize(s string) string {
	s = strings.Trim(unsafeChars.ReplaceAllString(s, "-"), "-")
	if len(s) > maxNameLength {
		s = s[:maxNameLength]
	}
	return s
}
