package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/repository"
	"detectserver/internal/repository/sqlite"
	"detectserver/internal/route"
	"detectserver/internal/service"
	"detectserver/internal/service/ai"
	"detectserver/internal/service/storage"
	"detectserver/internal/service/stream"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config   *config.Config
	logger   *logger.Logger
	db       *sqlite.DB
	recorder *storage.Recorder
	hub      *stream.Hub
	manager  *service.Manager
	server   *http.Server
}

// NewApp wires the server. A model that fails to load does not fail startup;
// the page reports the detector as unavailable instead.
func NewApp(cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		config: cfg,
		logger: log,
		hub:    stream.NewHub(log),
	}

	var (
		runRepo       repository.RunRepository
		detectionRepo repository.DetectionRepository
	)
	if cfg.HistoryEnabled {
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open history database")
		}
		a.db = db
		runRepo = sqlite.NewRunRepository(db)
		detectionRepo = sqlite.NewDetectionRepository(db)
	}

	a.recorder = storage.NewRecorder(cfg, log, runRepo, detectionRepo)
	a.manager = service.NewManager(cfg, ai.NewLoader(ai.OptionsFromConfig(cfg), log), a.recorder, a.hub, log)

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           route.SetupRoutes(a.manager, a.hub, a.recorder, cfg, log, runRepo, detectionRepo),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Run serves until ctx is cancelled or the listener fails, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	status := a.manager.Status()
	a.logger.Info("🚀 Detection Server")
	a.logger.Info("📍 URL: http://localhost:%d", a.config.Port)
	a.logger.Info("🤖 Model: %s (%s) ready=%t", status.ModelName, status.ModelPath, status.Ready)
	a.logger.Info("📁 Results: %s, history enabled: %t", a.config.ResultsDirectory, a.config.HistoryEnabled)
	a.logger.Info("📦 Max upload: %s", units.HumanSize(float64(a.config.MaxUploadSize)))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.manager.RunJanitor(ctx)
		return nil
	})

	g.Go(func() error {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("🛑 Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// hijacked WebSocket connections are not tracked by Shutdown
		err := a.hub.CloseAll()
		return multierr.Append(err, a.server.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

// Close releases the detector, pending uploads and the database.
func (a *App) Close() error {
	err := a.manager.Close()
	if a.db != nil {
		err = multierr.Append(err, a.db.Close())
	}
	return err
}
