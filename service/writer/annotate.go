package writer

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-batch/model"
)

// TrackColor derives a stable BGR color from a track id.
func TrackColor(id int) color.RGBA {
	return color.RGBA{
		B: uint8((id * 37) % 256),
		G: uint8((id * 73) % 256),
		R: uint8((id * 97) % 256),
		A: 255,
	}
}

func trackLabel(tr model.Track) string {
	label := fmt.Sprintf("ID:%d %s", tr.ID, tr.Label)
	if tr.Confidence != nil {
		label += fmt.Sprintf(" %.2f", *tr.Confidence)
	}
	return label
}

// Annotate draws a box and an id label per track onto img.
func Annotate(img *gocv.Mat, tracks []model.Track) {
	for _, tr := range tracks {
		c := TrackColor(tr.ID)
		gocv.Rectangle(img, image.Rect(tr.Box.X1, tr.Box.Y1, tr.Box.X2, tr.Box.Y2), c, 2)
		gocv.PutText(img, trackLabel(tr), image.Pt(tr.Box.X1, max(tr.Box.Y1-10, 10)),
			gocv.FontHersheySimplex, 0.5, c, 2)
	}
}
