// Command detect runs the detection pipeline on local image and video files.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"detectserver/internal/config"
	"detectserver/internal/dto"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/service"
	"detectserver/internal/service/ai"
)

const (
	flagModel      = "model"
	flagLabels     = "labels"
	flagConfidence = "confidence"
	flagOut        = "out"
	flagWidth      = "frame-width"
	flagHeight     = "frame-height"
	flagInputSize  = "input-size"
	flagNMS        = "nms"
	flagQuiet      = "quiet"
)

func main() {
	cliApp := &cli.App{
		Name:      "detect",
		Usage:     "run object detection on local images and videos",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagModel, Aliases: []string{"m"}, Required: true, Usage: "ONNX model `FILE`"},
			&cli.StringFlag{Name: flagLabels, Aliases: []string{"l"}, Usage: "class labels `FILE`, one per line"},
			&cli.Float64Flag{Name: flagConfidence, Aliases: []string{"c"}, Value: 0.40, Usage: "minimum confidence (0.25 to 1.00)"},
			&cli.StringFlag{Name: flagOut, Aliases: []string{"o"}, Value: ".", Usage: "output `DIR` for annotated images and frames"},
			&cli.IntFlag{Name: flagWidth, Value: 720, Usage: "video frame width"},
			&cli.IntFlag{Name: flagHeight, Value: 405, Usage: "video frame height"},
			&cli.IntFlag{Name: flagInputSize, Value: 640, Usage: "network input size"},
			&cli.Float64Flag{Name: flagNMS, Value: 0.45, Usage: "NMS IoU threshold"},
			&cli.BoolFlag{Name: flagQuiet, Aliases: []string{"q"}, Usage: "only print summaries"},
		},
		Action: run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("no input files")
	}

	confidence := c.Float64(flagConfidence)
	if !config.ConfidenceInRange(confidence) {
		return errors.Errorf("confidence %.2f outside [%.2f, %.2f]", confidence, config.MinConfidence, config.MaxConfidence)
	}

	outDir := c.String(flagOut)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	modelPath := c.String(flagModel)
	cfg := &config.Config{
		TempDirectory:     os.TempDir(),
		DefaultConfidence: confidence,
		FrameWidth:        c.Int(flagWidth),
		FrameHeight:       c.Int(flagHeight),
		InputSize:         c.Int(flagInputSize),
		NMSThreshold:      c.Float64(flagNMS),
		Models: []config.ModelEntry{{
			Name:       strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath)),
			Path:       modelPath,
			LabelsPath: c.String(flagLabels),
		}},
	}

	logs, err := logger.New("", os.Stderr)
	if err != nil {
		return err
	}
	defer logs.Close()

	manager := service.NewManager(cfg, ai.NewLoader(ai.OptionsFromConfig(cfg), logs), nil, nil, logs)
	defer manager.Close()

	if !manager.Ready() {
		return errors.Wrap(service.ErrDetectorUnavailable, manager.Status().Error)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	p := &pipeline{manager: manager, outDir: outDir, confidence: confidence, quiet: c.Bool(flagQuiet)}

	var failed int
	for _, input := range c.Args().Slice() {
		if err := p.process(ctx, input); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", input, err)
			failed++
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d input(s) failed", failed, c.NArg())
	}
	return nil
}

type pipeline struct {
	manager    *service.Manager
	outDir     string
	confidence float64
	quiet      bool
}

func (p *pipeline) process(ctx context.Context, input string) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(input)), ".")
	switch {
	case lo.Contains(config.ImageExtensions, ext):
		return p.image(ctx, input)
	case lo.Contains(config.VideoExtensions, ext):
		return p.video(ctx, input)
	}
	return errors.Errorf("unsupported file type %q", ext)
}

func (p *pipeline) image(ctx context.Context, input string) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}

	resp, err := p.manager.DetectImage(ctx, data, filepath.Base(input), p.confidence)
	if err != nil {
		return err
	}

	out := filepath.Join(p.outDir, baseName(input)+"_detected.jpg")
	if err := writeBase64(out, resp.Image); err != nil {
		return err
	}

	fmt.Printf("%s: %s (%dx%d) -> %s\n", input, resp.Message, resp.Width, resp.Height, out)
	if !p.quiet {
		printDetections(resp.Detections)
	}
	return nil
}

func (p *pipeline) video(ctx context.Context, input string) error {
	f, err := os.Open(input)
	if err != nil {
		return err
	}
	upload, err := p.manager.PrepareVideo(f, filepath.Base(input))
	f.Close()
	if err != nil {
		return err
	}

	sink := &dirSink{dir: p.outDir, prefix: baseName(input), quiet: p.quiet}
	summary, err := p.manager.PlayVideo(ctx, upload.ID, p.confidence, sink)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d frame(s), %d detection(s) in %dms -> %s\n", input, summary.Frames, summary.Detections, summary.DurationMs,
		filepath.Join(p.outDir, sink.prefix+"_*.jpg"))
	return nil
}

// dirSink writes every annotated frame to dir as <prefix>_<index>.jpg.
type dirSink struct {
	dir    string
	prefix string
	quiet  bool
}

func (s *dirSink) SendFrame(frame dto.VideoFrame) error {
	out := filepath.Join(s.dir, fmt.Sprintf("%s_%05d.jpg", s.prefix, frame.Index))
	if err := writeBase64(out, frame.Image); err != nil {
		return err
	}
	if !s.quiet && len(frame.Detections) > 0 {
		fmt.Printf("frame %05d:\n", frame.Index)
		printDetections(frame.Detections)
	}
	return nil
}

func (s *dirSink) SendDone(dto.PlaybackSummary) error { return nil }

func (s *dirSink) SendError(string) error { return nil }

func writeBase64(path, encoded string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return errors.Wrap(err, "invalid image payload")
	}
	return os.WriteFile(path, data, 0644)
}

func printDetections(detections []model.Detection) {
	for _, d := range detections {
		fmt.Printf("  %-16s %.2f  x=%d y=%d w=%d h=%d\n", d.Label, d.Confidence, d.X, d.Y, d.Width, d.Height)
	}
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
