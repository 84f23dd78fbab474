package inference

import (
	"fmt"
	"os"
	"strings"
)

var cocoLabels = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}

// loadLabels reads one label per line. An empty path selects the COCO classes
// the stock YOLO weights are trained on.
func loadLabels(path string) ([]string, error) {
	if path == "" {
		return append([]string(nil), cocoLabels...), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var labels []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		labels = append(labels, strings.TrimSpace(line))
	}
	if len(labels) == 0 || labels[0] == "" {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

// allowedClassIDs maps allowed label names to class ids. Every name must exist.
func allowedClassIDs(labels []string, allowed []string) (map[int]bool, error) {
	ids := map[int]bool{}
	for _, name := range allowed {
		found := false
		for id, label := range labels {
			if strings.EqualFold(label, name) {
				ids[id] = true
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("allowed class %q is not among the model labels", name)
		}
	}
	return ids, nil
}
