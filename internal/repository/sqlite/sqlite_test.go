package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"

	"detectserver/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "data", "test.db"))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRun(source, status string, created time.Time) *model.Run {
	return &model.Run{
		Source:     source,
		Filename:   source + ".bin",
		Model:      "yolov8n",
		Confidence: 0.4,
		Frames:     1,
		Detections: 2,
		Status:     status,
		DurationMs: 15,
		CreatedAt:  created,
	}
}

func TestDatabase_Connection(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	db, err := New(dbPath)
	test.That(t, err, test.ShouldBeNil)
	defer db.Close()

	_, err = os.Stat(dbPath)
	test.That(t, err, test.ShouldBeNil)
}

func TestRunRepository_InsertAndGet(t *testing.T) {
	runs := NewRunRepository(newTestDB(t))

	created := time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)
	run := sampleRun("image", model.RunCompleted, created)
	run.ResultFile = "result.jpg"

	id, err := runs.Insert(run)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldBeGreaterThan, 0)

	got, err := runs.GetByID(id)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldNotBeNil)
	test.That(t, got.Source, test.ShouldEqual, "image")
	test.That(t, got.Confidence, test.ShouldEqual, 0.4)
	test.That(t, got.ResultFile, test.ShouldEqual, "result.jpg")
	test.That(t, got.CreatedAt.Equal(created), test.ShouldBeTrue)

	missing, err := runs.GetByID(id + 100)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, missing, test.ShouldBeNil)
}

func TestRunRepository_FilterAndPaginate(t *testing.T) {
	runs := NewRunRepository(newTestDB(t))

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := runs.Insert(sampleRun("image", model.RunCompleted, base.Add(time.Duration(i)*time.Minute)))
		test.That(t, err, test.ShouldBeNil)
	}
	for i := 0; i < 3; i++ {
		_, err := runs.Insert(sampleRun("video", model.RunFailed, base.Add(time.Hour+time.Duration(i)*time.Minute)))
		test.That(t, err, test.ShouldBeNil)
	}

	all, err := runs.GetAll(&model.RunFilter{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, all, test.ShouldHaveLength, 8)
	test.That(t, all[0].Source, test.ShouldEqual, "video")

	images, err := runs.GetAll(&model.RunFilter{Source: "image", Limit: 2, Offset: 2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, images, test.ShouldHaveLength, 2)
	test.That(t, images[0].CreatedAt.Equal(base.Add(2*time.Minute)), test.ShouldBeTrue)

	count, err := runs.GetTotalCount(&model.RunFilter{Source: "image", Limit: 2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 5)

	count, err = runs.GetTotalCount(&model.RunFilter{Status: model.RunFailed})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 3)

	count, err = runs.GetTotalCount(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 8)
}

func TestDetectionRepository_BatchAndCounts(t *testing.T) {
	db := newTestDB(t)
	runs := NewRunRepository(db)
	detections := NewDetectionRepository(db)

	runID, err := runs.Insert(sampleRun("image", model.RunCompleted, time.Now()))
	test.That(t, err, test.ShouldBeNil)

	err = detections.InsertBatch([]model.Detection{
		{RunID: runID, Label: "accident", Confidence: 0.91, X: 10, Y: 20, Width: 30, Height: 40},
		{RunID: runID, Label: "car", ClassID: 2, Confidence: 0.55},
		{RunID: runID, Label: "car", ClassID: 2, Confidence: 0.75},
	})
	test.That(t, err, test.ShouldBeNil)

	got, err := detections.GetByRunID(runID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, 3)
	test.That(t, got[0].Label, test.ShouldEqual, "accident")
	test.That(t, got[0].Rect().Dx(), test.ShouldEqual, 30)

	counts, err := detections.GetLabelCounts(5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, counts, test.ShouldResemble, []model.LabelCount{{Label: "car", Count: 2}, {Label: "accident", Count: 1}})

	test.That(t, detections.InsertBatch(nil), test.ShouldBeNil)
}

func TestRunRepository_DeleteAll(t *testing.T) {
	db := newTestDB(t)
	runs := NewRunRepository(db)
	detections := NewDetectionRepository(db)

	runID, err := runs.Insert(sampleRun("image", model.RunCompleted, time.Now()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, detections.InsertBatch([]model.Detection{{RunID: runID, Label: "car"}}), test.ShouldBeNil)

	test.That(t, runs.DeleteAll(), test.ShouldBeNil)

	count, err := runs.GetTotalCount(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 0)

	got, err := detections.GetByRunID(runID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldBeEmpty)
}

func TestDatabase_ConcurrentAccess(t *testing.T) {
	runs := NewRunRepository(newTestDB(t))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			run := sampleRun("image", model.RunCompleted, time.Now())
			run.Filename = fmt.Sprintf("concurrent_%d.jpg", idx)
			if _, err := runs.Insert(run); err != nil {
				t.Errorf("Concurrent insert %d failed: %v", idx, err)
			}
		}(i)
	}
	wg.Wait()

	count, err := runs.GetTotalCount(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 10)
}
