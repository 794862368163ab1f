package ai

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gocv.io/x/gocv"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/model"
)

func TestLoadModel_MissingFile(t *testing.T) {
	entry := config.ModelEntry{Name: "missing", Path: filepath.Join(t.TempDir(), "best.onnx")}

	_, err := LoadModel(entry, Options{}, logger.NewNop())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrModelNotLoaded), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, entry.Path)
}

func TestLoadModel_BadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "best.onnx")
	test.That(t, os.WriteFile(path, []byte("x"), 0644), test.ShouldBeNil)

	entry := config.ModelEntry{Name: "m", Path: path, LabelsPath: filepath.Join(t.TempDir(), "none.txt")}
	_, err := LoadModel(entry, Options{}, logger.NewNop())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "labels")
}

func TestResizeFrame_FixedTarget(t *testing.T) {
	sizes := []image.Point{{1920, 1080}, {640, 480}, {300, 900}}
	target := image.Pt(720, 405)

	for _, s := range sizes {
		src := gocv.NewMatWithSize(s.Y, s.X, gocv.MatTypeCV8UC3)
		dst := gocv.NewMat()

		test.That(t, ResizeFrame(src, &dst, target), test.ShouldBeNil)
		test.That(t, dst.Cols(), test.ShouldEqual, 720)
		test.That(t, dst.Rows(), test.ShouldEqual, 405)

		src.Close()
		dst.Close()
	}
}

func TestResizeFrame_Rejects(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	test.That(t, ResizeFrame(empty, &dst, image.Pt(720, 405)), test.ShouldEqual, ErrEmptyFrame)

	src := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3)
	defer src.Close()
	test.That(t, ResizeFrame(src, &dst, image.Pt(0, 405)), test.ShouldNotBeNil)
}

func TestAnnotateAndEncode(t *testing.T) {
	frame := gocv.NewMatWithSize(405, 720, gocv.MatTypeCV8UC3)
	defer frame.Close()

	detections := []model.Detection{
		{Label: "accident", Confidence: 0.87, X: 100, Y: 100, Width: 200, Height: 120},
		{Label: "car", ClassID: 3, Confidence: 0.51, X: 0, Y: 0, Width: 50, Height: 50},
	}
	test.That(t, Annotate(&frame, detections), test.ShouldBeNil)

	// the box border is drawn in the class colour (BGR order in the Mat)
	c := colorFor(0)
	test.That(t, frame.GetVecbAt(100, 200)[2], test.ShouldEqual, c.R)

	data, err := EncodeJPEG(frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data[:2], test.ShouldResemble, []byte{0xFF, 0xD8})

	decoded, err := DecodeImage(data)
	test.That(t, err, test.ShouldBeNil)
	defer decoded.Close()
	test.That(t, decoded.Cols(), test.ShouldEqual, 720)
	test.That(t, decoded.Rows(), test.ShouldEqual, 405)
}

func TestDecodeImage_Invalid(t *testing.T) {
	_, err := DecodeImage(nil)
	test.That(t, err, test.ShouldEqual, ErrEmptyFrame)

	_, err = DecodeImage([]byte("definitely not a jpeg"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEncodeJPEG_Empty(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()

	_, err := EncodeJPEG(empty)
	test.That(t, err, test.ShouldEqual, ErrEmptyFrame)
}
