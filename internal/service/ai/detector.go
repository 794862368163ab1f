package ai

import (
	"fmt"
	"image"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/model"
)

var (
	// ErrModelNotLoaded is returned when a network could not be read from disk.
	ErrModelNotLoaded = errors.New("detection model not loaded")
	// ErrEmptyFrame is returned for frames or images that decode to nothing.
	ErrEmptyFrame = errors.New("empty frame")
)

// Detector runs object detection on a single BGR frame.
type Detector interface {
	Name() string
	// Predict returns every box whose score is at least confidence.
	Predict(frame gocv.Mat, confidence float64) ([]model.Detection, error)
	Close() error
}

// Loader creates a Detector for a registry entry.
type Loader func(entry config.ModelEntry) (Detector, error)

// Options tune the network input and post-processing.
type Options struct {
	InputSize    int
	NMSThreshold float64
}

// OptionsFromConfig extracts detector options from the server config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{InputSize: cfg.InputSize, NMSThreshold: cfg.NMSThreshold}
}

// NewLoader returns a Loader producing YOLO detectors with the given options.
func NewLoader(opts Options, logger *logger.Logger) Loader {
	return func(entry config.ModelEntry) (Detector, error) {
		return LoadModel(entry, opts, logger)
	}
}

// YOLODetector wraps an Ultralytics YOLOv8 network exported to ONNX.
type YOLODetector struct {
	name         string
	path         string
	net          gocv.Net
	labels       []string
	inputSize    int
	nmsThreshold float32
	logger       *logger.Logger
	mu           sync.Mutex
	closed       bool
}

// LoadModel reads the ONNX network and its class labels.
func LoadModel(entry config.ModelEntry, opts Options, logger *logger.Logger) (*YOLODetector, error) {
	if _, err := os.Stat(entry.Path); err != nil {
		return nil, errors.Wrapf(ErrModelNotLoaded, "model file %s: %v", entry.Path, err)
	}

	labels, err := entry.ResolveLabels()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read labels")
	}

	if opts.InputSize <= 0 {
		opts.InputSize = 640
	}
	if opts.NMSThreshold <= 0 {
		opts.NMSThreshold = 0.45
	}

	net := gocv.ReadNetFromONNX(entry.Path)
	if net.Empty() {
		net.Close()
		return nil, errors.Wrapf(ErrModelNotLoaded, "failed to read network from %s", entry.Path)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, errors.New("failed to set preferable backend or target")
	}

	logger.Info("Detection network %s loaded from %s (%d labels)", entry.Name, entry.Path, len(labels))

	return &YOLODetector{
		name:         entry.Name,
		path:         entry.Path,
		net:          net,
		labels:       labels,
		inputSize:    opts.InputSize,
		nmsThreshold: float32(opts.NMSThreshold),
		logger:       logger,
	}, nil
}

// Name returns the registry name of the model.
func (d *YOLODetector) Name() string {
	return d.name
}

// Predict runs the network on frame and returns boxes in frame coordinates,
// highest confidence first.
func (d *YOLODetector) Predict(frame gocv.Mat, confidence float64) ([]model.Detection, error) {
	if frame.Empty() {
		return nil, ErrEmptyFrame
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrModelNotLoaded
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read network output")
	}

	candidates, err := decodeOutput(data, output.Size(), float32(confidence))
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []model.Detection{}, nil
	}

	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = c.Box
		scores[i] = c.Score
	}
	indices := gocv.NMSBoxes(boxes, scores, float32(confidence), d.nmsThreshold)

	sx := float64(frame.Cols()) / float64(d.inputSize)
	sy := float64(frame.Rows()) / float64(d.inputSize)
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())

	detections := make([]model.Detection, 0, len(indices))
	for _, idx := range indices {
		c := candidates[idx]
		r := scaleBox(c.Box, sx, sy, bounds)
		if r.Empty() {
			continue
		}
		detections = append(detections, model.Detection{
			Label:      labelFor(d.labels, c.ClassID),
			ClassID:    c.ClassID,
			Confidence: float64(c.Score),
			X:          r.Min.X,
			Y:          r.Min.Y,
			Width:      r.Dx(),
			Height:     r.Dy(),
		})
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
	return detections, nil
}

// Close releases the network.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}

func labelFor(labels []string, classID int) string {
	if classID >= 0 && classID < len(labels) {
		return labels[classID]
	}
	return fmt.Sprintf("class_%d", classID)
}
