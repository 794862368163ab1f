package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
)

const (
	// MinConfidence and MaxConfidence bound the confidence slider.
	MinConfidence = 0.25
	MaxConfidence = 1.00

	SourceImage = "image"
	SourceVideo = "video"
)

// Sources lists the selectable input kinds in display order.
var Sources = []string{SourceImage, SourceVideo}

// ImageExtensions and VideoExtensions are the accepted upload formats.
var (
	ImageExtensions = []string{"jpg", "jpeg", "png"}
	VideoExtensions = []string{"mp4", "avi", "mov"}
)

type Config struct {
	Port              int
	StaticDirectory   string
	LogDirectory      string
	DatabasePath      string
	ResultsDirectory  string
	TempDirectory     string
	MaxUploadSize     int64
	DefaultConfidence float64
	FrameWidth        int // Video frames are resized to FrameWidth x FrameHeight before inference
	FrameHeight       int
	InputSize         int
	NMSThreshold      float64
	PendingVideoTTL   time.Duration
	HistoryEnabled    bool
	CORSOrigins       []string
	Models            []ModelEntry
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		// Missing .env is fine.
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	maxUpload, err := units.FromHumanSize(getEnv("MAX_UPLOAD_SIZE", "200MB"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_SIZE: %w", err)
	}

	cfg := &Config{
		Port:              getEnvAsInt("PORT", 8080),
		StaticDirectory:   getEnv("STATIC_DIR", filepath.Join(".", "static")),
		LogDirectory:      getEnv("LOG_DIR", filepath.Join(".", "logs")),
		DatabasePath:      getEnv("DATABASE_PATH", filepath.Join(".", "data", "detections.db")),
		ResultsDirectory:  getEnv("RESULTS_DIR", filepath.Join(".", "results")),
		TempDirectory:     getEnv("TEMP_DIR", os.TempDir()),
		MaxUploadSize:     maxUpload,
		DefaultConfidence: getEnvAsFloat("DEFAULT_CONFIDENCE", 0.40),
		FrameWidth:        getEnvAsInt("FRAME_WIDTH", 720),
		FrameHeight:       getEnvAsInt("FRAME_HEIGHT", 720*9/16),
		InputSize:         getEnvAsInt("INPUT_SIZE", 640),
		NMSThreshold:      getEnvAsFloat("NMS_THRESHOLD", 0.45),
		PendingVideoTTL:   getEnvAsDuration("PENDING_VIDEO_TTL", 10*time.Minute),
		HistoryEnabled:    getEnvAsBool("HISTORY_ENABLED", true),
		CORSOrigins:       getEnvAsList("CORS_ORIGINS", []string{"*"}),
	}

	if modelsFile := getEnv("MODELS_FILE", ""); modelsFile != "" {
		models, err := LoadModels(modelsFile)
		if err != nil {
			return nil, err
		}
		cfg.Models = models
	} else {
		cfg.Models = []ModelEntry{{
			Name:       getEnv("MODEL_NAME", "YOLOv8 Accident Detection"),
			Path:       getEnv("MODEL_PATH", filepath.Join(".", "weights", "best.onnx")),
			LabelsPath: getEnv("LABELS_PATH", ""),
		}}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return fmt.Errorf("invalid frame size: %dx%d", c.FrameWidth, c.FrameHeight)
	}
	if c.InputSize <= 0 {
		return fmt.Errorf("invalid input size: %d", c.InputSize)
	}
	if !ConfidenceInRange(c.DefaultConfidence) {
		return fmt.Errorf("default confidence %.2f outside [%.2f, %.2f]", c.DefaultConfidence, MinConfidence, MaxConfidence)
	}
	if c.NMSThreshold <= 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("invalid NMS threshold: %.2f", c.NMSThreshold)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("invalid max upload size: %d", c.MaxUploadSize)
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("no models configured")
	}
	for i, m := range c.Models {
		if m.Path == "" {
			return fmt.Errorf("model %d (%s) has no path", i, m.Name)
		}
	}
	return nil
}

// ConfidenceInRange reports whether v is a valid slider value.
func ConfidenceInRange(v float64) bool {
	return v >= MinConfidence && v <= MaxConfidence
}

// ErrInvalidConfidence is returned for confidence values that are not numbers in range.
var ErrInvalidConfidence = errors.New("invalid confidence")

// ParseConfidence parses a request confidence value. An empty value means def.
func ParseConfidence(raw string, def float64) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidConfidence, raw)
	}
	if !ConfidenceInRange(v) {
		return 0, fmt.Errorf("%w: %.2f outside [%.2f, %.2f]", ErrInvalidConfidence, v, MinConfidence, MaxConfidence)
	}
	return v, nil
}

// ExtensionsFor returns the allowed upload extensions for a source kind.
func ExtensionsFor(source string) []string {
	switch source {
	case SourceImage:
		return ImageExtensions
	case SourceVideo:
		return VideoExtensions
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
