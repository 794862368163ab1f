package handler

import (
	"net/http"

	"detectserver/internal/logger"
	"detectserver/internal/service"
)

// StatusHandler reports whether the detector is loaded and what the page may offer.
func StatusHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, manager.Status())
	}
}
