package media

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"detectserver/internal/config"
	"detectserver/internal/dto"
)

// ErrUnsupportedFormat is returned for uploads outside the allow list.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ValidateUpload checks the file extension against the formats accepted for source.
func ValidateUpload(filename, source string) error {
	allowed := config.ExtensionsFor(source)
	if allowed == nil {
		return errors.Errorf("invalid source %q", source)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if !lo.Contains(allowed, ext) {
		return errors.Wrapf(ErrUnsupportedFormat, "%q (allowed: %s)", filename, strings.Join(allowed, ", "))
	}
	return nil
}

// TempVideo is an uploaded video written to disk for the decoder.
// It belongs to exactly one playback and must be removed afterwards.
type TempVideo struct {
	ID        string
	Path      string
	Name      string
	Size      int64
	CreatedAt time.Time
	Info      dto.VideoInfo
}

// WriteTemp streams r into dir under a random name that keeps the original
// extension (the decoder picks the demuxer from it). A failed copy leaves no file behind.
func WriteTemp(dir string, r io.Reader, name string) (*TempVideo, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create temp directory")
	}

	id := uuid.NewString()
	path := filepath.Join(dir, "upload-"+id+strings.ToLower(filepath.Ext(name)))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temp file")
	}

	size, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(path)
		if copyErr != nil {
			return nil, errors.Wrap(copyErr, "failed to write temp file")
		}
		return nil, errors.Wrap(closeErr, "failed to close temp file")
	}

	return &TempVideo{
		ID:        id,
		Path:      path,
		Name:      filepath.Base(name),
		Size:      size,
		CreatedAt: time.Now(),
	}, nil
}

// Remove deletes the file. Removing an already missing file is not an error.
func (v *TempVideo) Remove() error {
	if err := os.Remove(v.Path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove temp video %s", v.Path)
	}
	return nil
}

// Exists reports whether the temp file is still on disk.
func (v *TempVideo) Exists() bool {
	_, err := os.Stat(v.Path)
	return err == nil
}
