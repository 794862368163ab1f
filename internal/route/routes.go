package route

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/cors"

	"detectserver/internal/config"
	"detectserver/internal/handler"
	"detectserver/internal/logger"
	"detectserver/internal/middleware"
	"detectserver/internal/repository"
	"detectserver/internal/service"
	"detectserver/internal/service/storage"
	"detectserver/internal/service/stream"
)

// dynamicHTMLHandler serves /path as <static>/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if path == "/" {
			path = "/index"
		}

		filePath := filepath.Join(staticDir, filepath.Clean("/"+path)+".html")

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}

		http.ServeFile(w, r, filePath)
	}
}

// SetupRoutes registers HTTP routes, static file serving and API endpoints,
// and wraps the mux with recovery, logging, CORS and the upload size limit.
func SetupRoutes(manager *service.Manager, hub *stream.Hub, recorder *storage.Recorder, cfg *config.Config, logger *logger.Logger,
	runRepo repository.RunRepository, detectionRepo repository.DetectionRepository) http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDirectory))))

	// Detection
	mux.HandleFunc("GET /api/status", handler.StatusHandler(manager, logger))
	mux.HandleFunc("POST /api/detect/image", handler.DetectImageHandler(manager, cfg, logger))
	mux.HandleFunc("POST /api/detect/video", handler.UploadVideoHandler(manager, logger))
	mux.HandleFunc("GET /api/detect/video/stream", handler.StreamVideoHandler(manager, hub, cfg, logger))

	// History
	mux.HandleFunc("GET /api/history", handler.GetHistoryHandler(logger, runRepo, detectionRepo))
	mux.HandleFunc("GET /api/history/detections", handler.GetRunDetectionsHandler(logger, runRepo, detectionRepo))
	mux.HandleFunc("POST /api/history/clear", handler.ClearHistoryHandler(recorder, logger))
	mux.HandleFunc("GET /api/results/view", handler.ViewResultHandler(recorder, logger))

	// Log endpoints
	mux.HandleFunc("GET /logs/{level}", handler.ShowLogsHandler(logger))
	mux.HandleFunc("POST /logs/{level}/clear", handler.ClearLogsHandler(logger))

	// Automatic HTML handler mapping for example: /about -> /static/about.html
	mux.HandleFunc("GET /", dynamicHTMLHandler(cfg.StaticDirectory))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})

	return middleware.Chain(mux,
		middleware.Recover(logger),
		middleware.Logging(logger),
		corsHandler.Handler,
		middleware.MaxBytes(cfg.MaxUploadSize),
	)
}
