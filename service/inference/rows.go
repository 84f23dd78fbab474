package inference

import (
	"fmt"
	"image"
	"sort"

	"github.com/khaledhikmat/vs-batch/model"
)

const (
	LayoutYolov5 = "yolov5"
	LayoutYolov8 = "yolov8"
)

// candidate is a row that passed the thresholds but not yet NMS.
type candidate struct {
	classID    int
	objectness float32
	classScore float32
	confidence float32
	rect       image.Rectangle
}

// outputSchema is the shape of the raw model output.
type outputSchema struct {
	layout  string
	anchors int
	attrs   int
}

// schemaOf validates the output dims against the layout and label count.
// yolov5 emits [1, anchors, 5+classes]; yolov8 emits [1, 4+classes, anchors].
func schemaOf(dims []int, layout string, numClasses int) (outputSchema, error) {
	if len(dims) != 3 || dims[0] != 1 {
		return outputSchema{}, fmt.Errorf("unexpected output dims %v", dims)
	}

	switch layout {
	case LayoutYolov5:
		if dims[2] != 5+numClasses {
			return outputSchema{}, fmt.Errorf("yolov5 output has %d attributes per row, want %d", dims[2], 5+numClasses)
		}
		return outputSchema{layout: layout, anchors: dims[1], attrs: dims[2]}, nil
	case LayoutYolov8:
		if dims[1] != 4+numClasses {
			return outputSchema{}, fmt.Errorf("yolov8 output has %d attributes per anchor, want %d", dims[1], 4+numClasses)
		}
		return outputSchema{layout: layout, anchors: dims[2], attrs: dims[1]}, nil
	}
	return outputSchema{}, fmt.Errorf("unknown layout %q", layout)
}

type rowFilter struct {
	allowed       map[int]bool
	confThreshold float32
	objThreshold  float32
	// input pixels to frame pixels
	scaleX float64
	scaleY float64
	width  int
	height int
}

func (s outputSchema) at(data []float32, anchor, attr int) float32 {
	if s.layout == LayoutYolov8 {
		return data[attr*s.anchors+anchor]
	}
	return data[anchor*s.attrs+attr]
}

// parseRows walks the flat output tensor and keeps the rows whose best class
// is allowed and clears the thresholds.
func parseRows(data []float32, schema outputSchema, filter rowFilter) ([]candidate, error) {
	if len(data) != schema.anchors*schema.attrs {
		return nil, fmt.Errorf("output holds %d values, want %d", len(data), schema.anchors*schema.attrs)
	}

	classOffset := 4
	if schema.layout == LayoutYolov5 {
		classOffset = 5
	}

	var out []candidate
	for i := 0; i < schema.anchors; i++ {
		objectness := float32(1)
		if schema.layout == LayoutYolov5 {
			objectness = schema.at(data, i, 4)
			if objectness < filter.objThreshold {
				continue
			}
		}

		classID := -1
		classScore := float32(0)
		for a := classOffset; a < schema.attrs; a++ {
			if score := schema.at(data, i, a); score > classScore {
				classScore = score
				classID = a - classOffset
			}
		}
		if classID < 0 || !filter.allowed[classID] {
			continue
		}

		conf := objectness * classScore
		if conf < filter.confThreshold {
			continue
		}

		cx := float64(schema.at(data, i, 0))
		cy := float64(schema.at(data, i, 1))
		w := float64(schema.at(data, i, 2))
		h := float64(schema.at(data, i, 3))

		rect := image.Rect(
			int((cx-w/2)*filter.scaleX),
			int((cy-h/2)*filter.scaleY),
			int((cx+w/2)*filter.scaleX),
			int((cy+h/2)*filter.scaleY),
		).Intersect(image.Rect(0, 0, filter.width, filter.height))
		if rect.Empty() {
			continue
		}

		out = append(out, candidate{
			classID:    classID,
			objectness: objectness,
			classScore: classScore,
			confidence: conf,
			rect:       rect,
		})
	}
	return out, nil
}

// sortDetections orders detections by confidence, then position, then class.
func sortDetections(dets []model.Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		a, b := dets[i], dets[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Box.X1 != b.Box.X1 {
			return a.Box.X1 < b.Box.X1
		}
		if a.Box.Y1 != b.Box.Y1 {
			return a.Box.Y1 < b.Box.Y1
		}
		return a.ClassID < b.ClassID
	})
}
