package ai

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"detectserver/internal/model"
)

const (
	fontScale     = 0.5
	textThickness = 1
	boxThickness  = 2
)

// palette is indexed by class id.
var palette = []color.RGBA{
	{R: 255, G: 56, B: 56},
	{R: 255, G: 157, B: 151},
	{R: 255, G: 112, B: 31},
	{R: 255, G: 178, B: 29},
	{R: 207, G: 210, B: 49},
	{R: 72, G: 249, B: 10},
	{R: 146, G: 204, B: 23},
	{R: 61, G: 219, B: 134},
	{R: 26, G: 147, B: 52},
	{R: 0, G: 212, B: 187},
	{R: 44, G: 153, B: 168},
	{R: 0, G: 194, B: 255},
	{R: 52, G: 69, B: 147},
	{R: 100, G: 115, B: 255},
	{R: 0, G: 24, B: 236},
	{R: 132, G: 56, B: 255},
}

func colorFor(classID int) color.RGBA {
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}

// Annotate draws every detection onto frame in place: a box plus a filled
// caption "label 0.87" above it (inside the box when there is no room).
func Annotate(frame *gocv.Mat, detections []model.Detection) error {
	white := color.RGBA{R: 255, G: 255, B: 255, A: 0}

	for _, det := range detections {
		c := colorFor(det.ClassID)
		rect := det.Rect()
		if err := gocv.Rectangle(frame, rect, c, boxThickness); err != nil {
			return errors.Wrap(err, "failed to draw rectangle")
		}

		caption := fmt.Sprintf("%s %.2f", det.Label, det.Confidence)
		textSize := gocv.GetTextSize(caption, gocv.FontHersheySimplex, fontScale, textThickness)

		top := rect.Min.Y - textSize.Y - 6
		if top < 0 {
			top = rect.Min.Y
		}
		background := image.Rect(rect.Min.X, top, rect.Min.X+textSize.X+4, top+textSize.Y+6)
		if err := gocv.Rectangle(frame, background, c, -1); err != nil {
			return errors.Wrap(err, "failed to draw caption background")
		}

		origin := image.Pt(rect.Min.X+2, top+textSize.Y+2)
		if err := gocv.PutText(frame, caption, origin, gocv.FontHersheySimplex, fontScale, white, textThickness); err != nil {
			return errors.Wrap(err, "failed to draw text")
		}
	}
	return nil
}
