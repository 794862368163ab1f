package ai

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ResizeFrame scales src into dst at exactly size, ignoring aspect ratio.
func ResizeFrame(src gocv.Mat, dst *gocv.Mat, size image.Point) error {
	if src.Empty() {
		return ErrEmptyFrame
	}
	if size.X <= 0 || size.Y <= 0 {
		return errors.Errorf("invalid target size %v", size)
	}
	return gocv.Resize(src, dst, size, 0, 0, gocv.InterpolationLinear)
}

// DecodeImage decodes an uploaded image into a BGR Mat owned by the caller.
// On error there is nothing to close.
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.Mat{}, ErrEmptyFrame
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		mat.Close()
		return gocv.Mat{}, errors.Wrap(err, "failed to decode image")
	}
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, ErrEmptyFrame
	}
	return mat, nil
}

// EncodeJPEG encodes mat and returns a Go-owned copy of the bytes.
func EncodeJPEG(mat gocv.Mat) ([]byte, error) {
	if mat.Empty() {
		return nil, ErrEmptyFrame
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode image")
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
