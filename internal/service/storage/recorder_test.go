package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/repository/sqlite"
)

func newTestRecorder(t *testing.T, enabled bool) (*Recorder, *sqlite.RunRepository, *sqlite.DetectionRepository) {
	t.Helper()
	dir := t.TempDir()

	db, err := sqlite.New(filepath.Join(dir, "history.db"))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { db.Close() })

	runs := sqlite.NewRunRepository(db)
	detections := sqlite.NewDetectionRepository(db)
	cfg := &config.Config{ResultsDirectory: filepath.Join(dir, "results"), HistoryEnabled: enabled}

	return NewRecorder(cfg, logger.NewNop(), runs, detections), runs, detections
}

func imageRun() *model.Run {
	return &model.Run{
		Source:     config.SourceImage,
		Filename:   "highway crash.jpg",
		Model:      "accident",
		Confidence: 0.4,
		Frames:     1,
		Detections: 2,
		Status:     model.RunCompleted,
		CreatedAt:  time.Date(2025, 6, 15, 14, 30, 5, 0, time.UTC),
	}
}

func TestRecorder_RecordImage(t *testing.T) {
	rec, runs, detections := newTestRecorder(t, true)

	dets := []model.Detection{
		{Label: "accident", Confidence: 0.9, X: 1, Y: 2, Width: 30, Height: 40},
		{Label: "accident", Confidence: 0.5, X: 50, Y: 60, Width: 10, Height: 10},
	}
	run := imageRun()

	id, err := rec.RecordImage(run, []byte{0xFF, 0xD8, 0xFF}, dets)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldBeGreaterThan, int64(0))
	test.That(t, run.ResultFile, test.ShouldEqual, "2025-06-15_14-30_05.000_highway-crash_accident.jpg")

	path, err := rec.ResultPath(run.ResultFile)
	test.That(t, err, test.ShouldBeNil)
	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, []byte{0xFF, 0xD8, 0xFF})

	stored, err := runs.GetByID(id)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stored.ResultFile, test.ShouldEqual, run.ResultFile)

	boxes, err := detections.GetByRunID(id)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, boxes, test.ShouldHaveLength, 2)
	test.That(t, boxes[0].RunID, test.ShouldEqual, id)
}

func TestRecorder_RecordVideo(t *testing.T) {
	rec, runs, detections := newTestRecorder(t, true)

	run := &model.Run{
		Source:    config.SourceVideo,
		Filename:  "dashcam.mp4",
		Frames:    120,
		Status:    model.RunFailed,
		Error:     "client disconnected",
		CreatedAt: time.Now(),
	}
	id, err := rec.RecordVideo(run)
	test.That(t, err, test.ShouldBeNil)

	stored, err := runs.GetByID(id)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stored.Frames, test.ShouldEqual, 120)
	test.That(t, stored.Error, test.ShouldEqual, "client disconnected")

	boxes, err := detections.GetByRunID(id)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, boxes, test.ShouldBeEmpty)
}

func TestRecorder_Disabled(t *testing.T) {
	rec, runs, _ := newTestRecorder(t, false)
	test.That(t, rec.Enabled(), test.ShouldBeFalse)

	id, err := rec.RecordImage(imageRun(), []byte{1}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldEqual, int64(0))

	count, err := runs.GetTotalCount(&model.RunFilter{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 0)

	_, err = os.Stat(rec.resultsDir)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
}

func TestRecorder_ResultPath(t *testing.T) {
	rec, _, _ := newTestRecorder(t, true)

	for _, bad := range []string{"", "../secret.jpg", "a/b.jpg", ".hidden"} {
		_, err := rec.ResultPath(bad)
		test.That(t, err, test.ShouldEqual, ErrInvalidResultName)
	}

	path, err := rec.ResultPath("x.jpg")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path, test.ShouldEqual, filepath.Join(rec.resultsDir, "x.jpg"))
}

func TestRecorder_Clear(t *testing.T) {
	rec, runs, _ := newTestRecorder(t, true)

	_, err := rec.RecordImage(imageRun(), []byte{1, 2, 3}, nil)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, rec.Clear(), test.ShouldBeNil)

	entries, err := os.ReadDir(rec.resultsDir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldBeEmpty)

	count, err := runs.GetTotalCount(&model.RunFilter{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 0)
}

func TestSanitize(t *testing.T) {
	test.That(t, sanitize("highway crash (1)"), test.ShouldEqual, "highway-crash-1")
	test.That(t, sanitize("../../etc"), test.ShouldEqual, "etc")
	test.That(t, len(sanitize(string(make([]byte, 100)))), test.ShouldEqual, 0)
}
