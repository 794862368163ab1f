package ai

import (
	"image"
	"math"

	"github.com/pkg/errors"
)

// candidate is a pre-NMS box in network input coordinates.
type candidate struct {
	Box     image.Rectangle
	Score   float32
	ClassID int
}

// decodeOutput parses a YOLOv8 head. Ultralytics exports [1, 4+C, N]
// (attributes major); some converters emit the transposed [1, N, 4+C].
// Each candidate is cx, cy, w, h followed by C class scores.
func decodeOutput(data []float32, dims []int, threshold float32) ([]candidate, error) {
	if len(dims) != 3 || dims[0] != 1 {
		return nil, errors.Errorf("unexpected output shape %v", dims)
	}

	attrs, n := dims[1], dims[2]
	transposed := false
	if attrs > n {
		attrs, n = n, attrs
		transposed = true
	}
	if attrs <= 4 {
		return nil, errors.Errorf("output shape %v has no class scores", dims)
	}
	if len(data) < attrs*n {
		return nil, errors.Errorf("output has %d values, shape %v needs %d", len(data), dims, attrs*n)
	}

	at := func(attr, i int) float32 {
		if transposed {
			return data[i*attrs+attr]
		}
		return data[attr*n+i]
	}

	var out []candidate
	for i := 0; i < n; i++ {
		classID, best := -1, float32(0)
		for c := 4; c < attrs; c++ {
			if s := at(c, i); s > best {
				best, classID = s, c-4
			}
		}
		if classID < 0 || best < threshold {
			continue
		}

		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		out = append(out, candidate{
			Box: image.Rect(
				int(math.Round(float64(cx-w/2))),
				int(math.Round(float64(cy-h/2))),
				int(math.Round(float64(cx+w/2))),
				int(math.Round(float64(cy+h/2))),
			),
			Score:   best,
			ClassID: classID,
		})
	}
	return out, nil
}

// scaleBox maps a box from network input space to frame space and clips it to bounds.
func scaleBox(r image.Rectangle, sx, sy float64, bounds image.Rectangle) image.Rectangle {
	scaled := image.Rect(
		int(math.Round(float64(r.Min.X)*sx)),
		int(math.Round(float64(r.Min.Y)*sy)),
		int(math.Round(float64(r.Max.X)*sx)),
		int(math.Round(float64(r.Max.Y)*sy)),
	)
	return scaled.Intersect(bounds)
}
