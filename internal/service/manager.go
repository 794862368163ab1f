package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"

	"detectserver/internal/config"
	"detectserver/internal/dto"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/service/ai"
	"detectserver/internal/service/media"
	"detectserver/internal/service/storage"
	"detectserver/internal/service/stream"
)

var (
	// ErrDetectorUnavailable is returned by every detection call when no model could be loaded.
	ErrDetectorUnavailable = errors.New("detector unavailable")
	// ErrPlaybackNotFound is returned for unknown, expired or already played video ids.
	ErrPlaybackNotFound = errors.New("video not found or already played")
	// ErrInvalidMedia is returned for uploads that cannot be decoded.
	ErrInvalidMedia = errors.New("invalid media")
)

// FrameSource yields decoded frames in order. *gocv.VideoCapture satisfies it.
type FrameSource interface {
	Read(frame *gocv.Mat) bool
	Close() error
}

// SourceOpener opens a decoder for a video file.
type SourceOpener func(path string) (FrameSource, error)

// OpenVideoFile opens path with the OpenCV video decoder.
func OpenVideoFile(path string) (FrameSource, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open video")
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, errors.Errorf("failed to open video %s", path)
	}
	return capture, nil
}

// Option customizes a Manager.
type Option func(*Manager)

// WithSourceOpener replaces the video decoder.
func WithSourceOpener(open SourceOpener) Option {
	return func(m *Manager) { m.openSource = open }
}

// WithProber replaces the upload metadata probe.
func WithProber(probe media.Prober) Option {
	return func(m *Manager) { m.probe = probe }
}

// Manager owns the detector for the process lifetime and runs image
// detections and video playbacks against it.
type Manager struct {
	cfg      *config.Config
	entry    config.ModelEntry
	detector ai.Detector
	loadErr  error

	recorder *storage.Recorder
	hub      *stream.Hub
	logger   *logger.Logger

	openSource SourceOpener
	probe      media.Prober

	pending   map[string]*media.TempVideo
	pendingMu sync.Mutex
	closing   bool

	// playbacks counts in-flight PlayVideo calls; stop cancels them on Close.
	playbacks sync.WaitGroup
	stop      context.Context
	cancel    context.CancelFunc
}

// playbackDrainTimeout bounds how long Close waits for playbacks to clean up.
var playbackDrainTimeout = 10 * time.Second

// NewManager loads the first configured model once. A load failure does not
// stop the server: the manager stays up and reports itself unavailable.
func NewManager(cfg *config.Config, loader ai.Loader, recorder *storage.Recorder, hub *stream.Hub, logger *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg,
		recorder:   recorder,
		hub:        hub,
		logger:     logger,
		openSource: OpenVideoFile,
		probe:      media.Probe,
		pending:    make(map[string]*media.TempVideo),
	}
	m.stop, m.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(m)
	}

	if len(cfg.Models) == 0 {
		m.loadErr = errors.New("no model configured")
		logger.Error("Detector unavailable: %v", m.loadErr)
		return m
	}

	m.entry = cfg.Models[0]
	detector, err := loader(m.entry)
	if err != nil {
		m.loadErr = err
		logger.Error("Detector unavailable, failed to load model %s from %s: %v", m.entry.Name, m.entry.Path, err)
		return m
	}
	m.detector = detector
	logger.Info("Detector ready: %s", detector.Name())
	return m
}

// Ready reports whether a model is loaded.
func (m *Manager) Ready() bool {
	return m.detector != nil
}

// Status describes the detector and the accepted inputs for the page.
func (m *Manager) Status() dto.StatusResponse {
	status := dto.StatusResponse{
		Ready:             m.Ready(),
		ModelName:         m.entry.Name,
		ModelPath:         m.entry.Path,
		Models:            lo.Map(m.cfg.Models, func(e config.ModelEntry, _ int) string { return e.Name }),
		ConfidenceMin:     config.MinConfidence,
		ConfidenceMax:     config.MaxConfidence,
		ConfidenceDefault: m.cfg.DefaultConfidence,
		Sources:           config.Sources,
		Formats: map[string][]string{
			config.SourceImage: config.ImageExtensions,
			config.SourceVideo: config.VideoExtensions,
		},
		FrameWidth:  m.cfg.FrameWidth,
		FrameHeight: m.cfg.FrameHeight,
	}
	if m.loadErr != nil {
		status.Error = m.loadErr.Error()
	}
	if m.recorder != nil {
		status.HistoryEnabled = m.recorder.Enabled()
	}
	if m.hub != nil {
		status.ActiveStreams = m.hub.Count()
	}
	return status
}

// DetectImage runs the detector on an uploaded image at its original
// resolution and returns the annotated JPEG with the records.
func (m *Manager) DetectImage(ctx context.Context, data []byte, filename string, confidence float64) (*dto.ImageDetectionResponse, error) {
	if !m.Ready() {
		return nil, ErrDetectorUnavailable
	}
	if err := media.ValidateUpload(filename, config.SourceImage); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := time.Now()

	frame, err := ai.DecodeImage(data)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidMedia, "%s: %v", filename, err)
	}
	defer frame.Close()

	run := &model.Run{
		Source:     config.SourceImage,
		Filename:   filename,
		Model:      m.detector.Name(),
		Confidence: confidence,
		Frames:     1,
		CreatedAt:  started,
	}

	detections, err := m.detector.Predict(frame, confidence)
	if err != nil {
		m.recordFailure(run, started, err)
		return nil, errors.Wrap(err, "detection failed")
	}
	if err := ai.Annotate(&frame, detections); err != nil {
		m.recordFailure(run, started, err)
		return nil, err
	}
	annotated, err := ai.EncodeJPEG(frame)
	if err != nil {
		m.recordFailure(run, started, err)
		return nil, err
	}

	run.Detections = len(detections)
	run.Status = model.RunCompleted
	run.DurationMs = time.Since(started).Milliseconds()

	runID, err := m.recorder.RecordImage(run, annotated, detections)
	if err != nil {
		m.logger.Error("Error recording image run %s: %v", filename, err)
	}

	m.logger.Info("Image %s: %d detection(s) at confidence %.2f in %dms", filename, len(detections), confidence, run.DurationMs)

	return &dto.ImageDetectionResponse{
		RunID:      runID,
		Image:      base64.StdEncoding.EncodeToString(annotated),
		Width:      frame.Cols(),
		Height:     frame.Rows(),
		Confidence: confidence,
		Count:      len(detections),
		Detections: detections,
		Message:    detectionMessage(len(detections)),
	}, nil
}

// PrepareVideo stores an uploaded video in the temp directory and registers
// it for a single playback.
func (m *Manager) PrepareVideo(r io.Reader, filename string) (*dto.VideoUploadResponse, error) {
	if !m.Ready() {
		return nil, ErrDetectorUnavailable
	}
	if err := media.ValidateUpload(filename, config.SourceVideo); err != nil {
		return nil, err
	}

	video, err := media.WriteTemp(m.cfg.TempDirectory, r, filename)
	if err != nil {
		return nil, err
	}

	info, err := m.probe(video.Path)
	if err != nil {
		m.logger.Warning("Could not probe %s: %v", filename, err)
	}
	video.Info = info

	m.pendingMu.Lock()
	if m.closing {
		m.pendingMu.Unlock()
		return nil, multierr.Append(ErrDetectorUnavailable, video.Remove())
	}
	m.pending[video.ID] = video
	m.pendingMu.Unlock()

	m.logger.Info("Video %s uploaded as %s (%d bytes)", filename, video.ID, video.Size)

	return &dto.VideoUploadResponse{
		ID:   video.ID,
		Name: video.Name,
		Size: video.Size,
		Info: info,
	}, nil
}

// PlayVideo decodes the pending video frame by frame, resizes each frame to
// the configured size, runs the detector and pushes the annotated frame to
// sink. The outcome is always reported through sink, the decoder is always
// closed and the temporary file is always removed.
func (m *Manager) PlayVideo(ctx context.Context, id string, confidence float64, sink stream.FrameSink) (*dto.PlaybackSummary, error) {
	video := m.takePending(id)
	if video == nil {
		m.sendError(sink, ErrPlaybackNotFound.Error())
		return nil, ErrPlaybackNotFound
	}
	defer m.playbacks.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatching := context.AfterFunc(m.stop, cancel)
	defer stopWatching()

	started := time.Now()
	run := &model.Run{
		Source:     config.SourceVideo,
		Filename:   video.Name,
		Confidence: confidence,
		CreatedAt:  started,
	}

	summary, playErr := m.play(ctx, video, confidence, sink)
	summary.DurationMs = time.Since(started).Milliseconds()

	run.Frames = summary.Frames
	run.Detections = summary.Detections
	run.DurationMs = summary.DurationMs
	if m.detector != nil {
		run.Model = m.detector.Name()
	}

	if playErr != nil {
		run.Status = model.RunFailed
		run.Error = playErr.Error()
		m.logger.Warning("Video %s stopped after %d frame(s): %v", video.Name, summary.Frames, playErr)
	} else {
		run.Status = model.RunCompleted
		m.logger.Info("Video %s: %d frame(s), %d detection(s) in %dms", video.Name, summary.Frames, summary.Detections, summary.DurationMs)
	}

	runID, err := m.recorder.RecordVideo(run)
	if err != nil {
		m.logger.Error("Error recording video run %s: %v", video.Name, err)
	}
	summary.RunID = runID

	if playErr != nil {
		if !errors.Is(playErr, errSinkFailed) && !errors.Is(playErr, context.Canceled) {
			m.sendError(sink, playErr.Error())
		}
		return &summary, playErr
	}

	if err := sink.SendDone(summary); err != nil {
		return &summary, errors.Wrap(err, "failed to send summary")
	}
	return &summary, nil
}

var errSinkFailed = errors.New("frame sink failed")

func (m *Manager) sendError(sink stream.FrameSink, msg string) {
	if err := sink.SendError(msg); err != nil {
		m.logger.Warning("Could not deliver error to client: %v", err)
	}
}

func (m *Manager) play(ctx context.Context, video *media.TempVideo, confidence float64, sink stream.FrameSink) (summary dto.PlaybackSummary, err error) {
	var source FrameSource
	defer func() {
		var cleanup error
		if source != nil {
			cleanup = multierr.Append(cleanup, source.Close())
		}
		cleanup = multierr.Append(cleanup, video.Remove())
		if cleanup != nil {
			m.logger.Error("Cleanup after video %s: %v", video.Name, cleanup)
		}
	}()

	if !m.Ready() {
		return summary, ErrDetectorUnavailable
	}

	source, err = m.openSource(video.Path)
	if err != nil {
		return summary, err
	}

	frame := gocv.NewMat()
	defer frame.Close()
	resized := gocv.NewMat()
	defer resized.Close()

	size := image.Pt(m.cfg.FrameWidth, m.cfg.FrameHeight)

	for {
		if err := ctx.Err(); err != nil {
			return summary, errors.Wrap(err, "playback cancelled")
		}
		if !source.Read(&frame) || frame.Empty() {
			break
		}

		if err := ai.ResizeFrame(frame, &resized, size); err != nil {
			return summary, errors.Wrapf(err, "frame %d", summary.Frames)
		}
		detections, err := m.detector.Predict(resized, confidence)
		if err != nil {
			return summary, errors.Wrapf(err, "detection failed on frame %d", summary.Frames)
		}
		if err := ai.Annotate(&resized, detections); err != nil {
			return summary, errors.Wrapf(err, "frame %d", summary.Frames)
		}
		encoded, err := ai.EncodeJPEG(resized)
		if err != nil {
			return summary, errors.Wrapf(err, "frame %d", summary.Frames)
		}

		msg := dto.VideoFrame{
			Type:       dto.MessageFrame,
			Index:      summary.Frames,
			Image:      base64.StdEncoding.EncodeToString(encoded),
			Detections: detections,
		}
		if err := sink.SendFrame(msg); err != nil {
			return summary, errors.Wrapf(errSinkFailed, "frame %d: %v", summary.Frames, err)
		}

		summary.Frames++
		summary.Detections += len(detections)
	}

	if summary.Frames == 0 {
		return summary, errors.Wrap(ErrInvalidMedia, "no frames could be decoded")
	}
	return summary, nil
}

// takePending claims the upload for playback and counts it as in flight.
func (m *Manager) takePending(id string) *media.TempVideo {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	video, ok := m.pending[id]
	if !ok || m.closing {
		return nil
	}
	delete(m.pending, id)
	m.playbacks.Add(1)
	return video
}

// PendingCount returns the number of uploaded videos waiting for playback.
func (m *Manager) PendingCount() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return len(m.pending)
}

// ExpirePending removes uploads older than ttl that were never played.
func (m *Manager) ExpirePending(now time.Time, ttl time.Duration) int {
	m.pendingMu.Lock()
	var expired []*media.TempVideo
	for id, video := range m.pending {
		if now.Sub(video.CreatedAt) >= ttl {
			expired = append(expired, video)
			delete(m.pending, id)
		}
	}
	m.pendingMu.Unlock()

	for _, video := range expired {
		if err := video.Remove(); err != nil {
			m.logger.Error("Error removing expired video %s: %v", video.Path, err)
		}
	}
	if len(expired) > 0 {
		m.logger.Info("Removed %d expired video upload(s)", len(expired))
	}
	return len(expired)
}

// RunJanitor periodically expires pending uploads until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context) {
	ttl := m.cfg.PendingVideoTTL
	if ttl <= 0 {
		return
	}
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.ExpirePending(now, ttl)
		}
	}
}

// Close stops running playbacks and waits for them to remove their files,
// then removes every pending upload and releases the detector.
func (m *Manager) Close() error {
	m.pendingMu.Lock()
	m.closing = true
	pending := lo.Values(m.pending)
	m.pending = make(map[string]*media.TempVideo)
	m.pendingMu.Unlock()

	m.cancel()

	var err error
	drained := make(chan struct{})
	go func() {
		m.playbacks.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(playbackDrainTimeout):
		err = errors.Errorf("playbacks still running after %s", playbackDrainTimeout)
	}

	for _, video := range pending {
		err = multierr.Append(err, video.Remove())
	}
	if m.detector != nil {
		err = multierr.Append(err, m.detector.Close())
	}
	return err
}

func (m *Manager) recordFailure(run *model.Run, started time.Time, cause error) {
	run.Status = model.RunFailed
	run.Error = cause.Error()
	run.DurationMs = time.Since(started).Milliseconds()
	if _, err := m.recorder.RecordImage(run, nil, nil); err != nil {
		m.logger.Error("Error recording failed run %s: %v", run.Filename, err)
	}
}

func detectionMessage(count int) string {
	switch count {
	case 0:
		return "No objects detected"
	case 1:
		return "1 object detected"
	}
	return fmt.Sprintf("%d objects detected", count)
}
