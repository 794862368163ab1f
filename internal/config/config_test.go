package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "FRAME_WIDTH", "FRAME_HEIGHT", "DEFAULT_CONFIDENCE", "MODELS_FILE", "MODEL_PATH", "MAX_UPLOAD_SIZE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Port, test.ShouldEqual, 8080)
	test.That(t, cfg.FrameWidth, test.ShouldEqual, 720)
	test.That(t, cfg.FrameHeight, test.ShouldEqual, 405)
	test.That(t, cfg.DefaultConfidence, test.ShouldEqual, 0.40)
	test.That(t, cfg.MaxUploadSize, test.ShouldEqual, int64(200_000_000))
	test.That(t, cfg.PendingVideoTTL, test.ShouldEqual, 10*time.Minute)
	test.That(t, cfg.Models, test.ShouldHaveLength, 1)
	test.That(t, cfg.Models[0].Path, test.ShouldEqual, filepath.Join("weights", "best.onnx"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_CONFIDENCE", "0.6")
	t.Setenv("MAX_UPLOAD_SIZE", "1MB")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("PENDING_VIDEO_TTL", "30s")
	t.Setenv("HISTORY_ENABLED", "false")
	t.Setenv("MODELS_FILE", "")

	cfg, err := Load()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Port, test.ShouldEqual, 9090)
	test.That(t, cfg.DefaultConfidence, test.ShouldEqual, 0.6)
	test.That(t, cfg.MaxUploadSize, test.ShouldEqual, int64(1_000_000))
	test.That(t, cfg.CORSOrigins, test.ShouldResemble, []string{"http://a.test", "http://b.test"})
	test.That(t, cfg.PendingVideoTTL, test.ShouldEqual, 30*time.Second)
	test.That(t, cfg.HistoryEnabled, test.ShouldBeFalse)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	test.That(t, os.WriteFile(envFile, []byte("FRAME_WIDTH=640\nFRAME_HEIGHT=360\n"), 0644), test.ShouldBeNil)
	// godotenv never overrides variables that are already set, even to "".
	os.Unsetenv("FRAME_WIDTH")
	os.Unsetenv("FRAME_HEIGHT")
	t.Cleanup(func() {
		os.Unsetenv("FRAME_WIDTH")
		os.Unsetenv("FRAME_HEIGHT")
	})

	cfg, err := Load(envFile)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.FrameWidth, test.ShouldEqual, 640)
	test.That(t, cfg.FrameHeight, test.ShouldEqual, 360)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLoad_InvalidConfidence(t *testing.T) {
	t.Setenv("DEFAULT_CONFIDENCE", "0.1")
	t.Setenv("MODELS_FILE", "")

	_, err := Load()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "default confidence")
}

func TestConfidenceInRange(t *testing.T) {
	tests := []struct {
		value    float64
		expected bool
	}{
		{0.25, true},
		{0.40, true},
		{1.00, true},
		{0.24, false},
		{1.01, false},
		{0, false},
	}
	for _, tt := range tests {
		test.That(t, ConfidenceInRange(tt.value), test.ShouldEqual, tt.expected)
	}
}

func TestParseConfidence(t *testing.T) {
	v, err := ParseConfidence("", 0.40)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 0.40)

	v, err = ParseConfidence(" 0.55 ", 0.40)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 0.55)

	v, err = ParseConfidence("1", 0.40)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 1.0)

	for _, raw := range []string{"0.2", "1.5", "abc", "NaN", "-0.5"} {
		_, err := ParseConfidence(raw, 0.40)
		test.That(t, errors.Is(err, ErrInvalidConfidence), test.ShouldBeTrue)
	}
}

func TestExtensionsFor(t *testing.T) {
	test.That(t, ExtensionsFor(SourceImage), test.ShouldResemble, []string{"jpg", "jpeg", "png"})
	test.That(t, ExtensionsFor(SourceVideo), test.ShouldResemble, []string{"mp4", "avi", "mov"})
	test.That(t, ExtensionsFor("webcam"), test.ShouldBeNil)
}

func TestLoadModels(t *testing.T) {
	dir := t.TempDir()
	content := `
models:
  - name: accidents
    path: weights/best.onnx
    labels_path: weights/labels.txt
  - path: /opt/models/yolov8n.onnx
    labels: [person, bicycle, car]
`
	path := filepath.Join(dir, "models.yaml")
	test.That(t, os.WriteFile(path, []byte(content), 0644), test.ShouldBeNil)

	models, err := LoadModels(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, models, test.ShouldHaveLength, 2)
	test.That(t, models[0].Name, test.ShouldEqual, "accidents")
	test.That(t, models[0].Path, test.ShouldEqual, filepath.Join(dir, "weights", "best.onnx"))
	test.That(t, models[0].LabelsPath, test.ShouldEqual, filepath.Join(dir, "weights", "labels.txt"))
	test.That(t, models[1].Name, test.ShouldEqual, "yolov8n")
	test.That(t, models[1].Path, test.ShouldEqual, "/opt/models/yolov8n.onnx")
}

func TestLoadModels_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	test.That(t, os.WriteFile(path, []byte("models: []\n"), 0644), test.ShouldBeNil)

	_, err := LoadModels(path)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestResolveLabels(t *testing.T) {
	dir := t.TempDir()
	labelsPath := filepath.Join(dir, "labels.txt")
	test.That(t, os.WriteFile(labelsPath, []byte("# classes\naccident\n\nmoderate\nsevere\n"), 0644), test.ShouldBeNil)

	labels, err := ModelEntry{LabelsPath: labelsPath}.ResolveLabels()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, labels, test.ShouldResemble, []string{"accident", "moderate", "severe"})

	labels, err = ModelEntry{Labels: []string{"car"}, LabelsPath: labelsPath}.ResolveLabels()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, labels, test.ShouldResemble, []string{"car"})

	labels, err = ModelEntry{}.ResolveLabels()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, labels, test.ShouldBeNil)

	_, err = ModelEntry{LabelsPath: filepath.Join(dir, "missing.txt")}.ResolveLabels()
	test.That(t, err, test.ShouldNotBeNil)
}
