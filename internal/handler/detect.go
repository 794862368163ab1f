package handler

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/pkg/errors"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/service"
)

const (
	fileField       = "file"
	confidenceField = "confidence"
	// multipartMemory is how much of a form is kept in memory before spilling to disk.
	multipartMemory = 32 << 20
)

// DetectImageHandler runs detection on one uploaded image (multipart field
// "file", optional "confidence") and returns the annotated image.
func DetectImageHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !manager.Ready() {
			writeError(w, logger, service.ErrDetectorUnavailable)
			return
		}

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeError(w, logger, formError(err))
			return
		}
		defer r.MultipartForm.RemoveAll()

		confidence, err := config.ParseConfidence(r.FormValue(confidenceField), cfg.DefaultConfidence)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		file, header, err := r.FormFile(fileField)
		if err != nil {
			writeError(w, logger, badRequest("missing %q file: %v", fileField, err))
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, logger, formError(err))
			return
		}

		resp, err := manager.DetectImage(r.Context(), data, header.Filename, confidence)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, resp)
	}
}

// UploadVideoHandler streams the uploaded video (multipart field "file") to a
// temporary file and returns the id to open the playback stream with.
func UploadVideoHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !manager.Ready() {
			writeError(w, logger, service.ErrDetectorUnavailable)
			return
		}

		reader, err := r.MultipartReader()
		if err != nil {
			writeError(w, logger, badRequest("expected multipart form: %v", err))
			return
		}

		part, err := nextFilePart(reader)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		defer part.Close()

		resp, err := manager.PrepareVideo(part, part.FileName())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, resp)
	}
}

// nextFilePart skips to the "file" part of a multipart body.
func nextFilePart(reader *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil, badRequest("missing %q file", fileField)
		}
		if err != nil {
			return nil, formError(err)
		}
		if part.FormName() == fileField && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

// formError keeps size errors recognisable and turns other body read failures into 400s.
func formError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return badRequest("invalid upload: %v", err)
}
