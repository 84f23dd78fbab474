package model

import (
	"fmt"
	"runtime/debug"

	"gocv.io/x/gocv"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func (e CustomError) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("%s: %s", e.Processor, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
)

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemDecoding  ItemStatus = "decoding"
	ItemInferring ItemStatus = "inferring"
	ItemWriting   ItemStatus = "writing"
	ItemDone      ItemStatus = "done"
	ItemFailed    ItemStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s ItemStatus) Terminal() bool {
	return s == ItemDone || s == ItemFailed
}

var statusOrder = map[ItemStatus]int{
	ItemPending:   0,
	ItemDecoding:  1,
	ItemInferring: 2,
	ItemWriting:   3,
	ItemDone:      4,
	ItemFailed:    4,
}

// Item is one unit of input media.
type Item struct {
	Path    string     `json:"path"`
	RelPath string     `json:"relPath"`
	Kind    MediaKind  `json:"kind"`
	Size    int64      `json:"size"`
	Status  ItemStatus `json:"status"`
	Reason  string     `json:"reason,omitempty"`
}

// Advance moves the item forward in its state machine. Items only move
// forward and never leave a terminal state.
func (i *Item) Advance(next ItemStatus) error {
	if i.Status == "" {
		i.Status = ItemPending
	}
	if i.Status.Terminal() {
		return fmt.Errorf("item %s is already %s", i.RelPath, i.Status)
	}
	if next != ItemFailed && statusOrder[next] <= statusOrder[i.Status] {
		return fmt.Errorf("item %s cannot move from %s to %s", i.RelPath, i.Status, next)
	}
	i.Status = next
	return nil
}

// Fail moves the item to failed and records why.
func (i *Item) Fail(reason string) error {
	if err := i.Advance(ItemFailed); err != nil {
		return err
	}
	i.Reason = reason
	return nil
}

// Frame is a decoded BGR buffer. The stage holding a frame owns its Mat and
// must Close it.
type Frame struct {
	Mat      gocv.Mat
	Index    int
	Width    int
	Height   int
	Channels int
}

func NewFrame(mat gocv.Mat, index int) Frame {
	return Frame{
		Mat:      mat,
		Index:    index,
		Width:    mat.Cols(),
		Height:   mat.Rows(),
		Channels: mat.Channels(),
	}
}

// Validate checks the frame shape before it reaches the model.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return NewInferenceError("validate_frame", "", fmt.Errorf("invalid frame %d shape %dx%d", f.Index, f.Width, f.Height))
	}
	if f.Channels <= 0 {
		return NewInferenceError("validate_frame", "", fmt.Errorf("invalid frame %d channel count %d", f.Index, f.Channels))
	}
	if f.Mat.Empty() {
		return NewInferenceError("validate_frame", "", fmt.Errorf("frame %d has an empty buffer", f.Index))
	}
	return nil
}

func (f Frame) Close() {
	_ = f.Mat.Close()
}

// StreamInfo describes what the container reports for a media item.
type StreamInfo struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	FrameCount int     `json:"frameCount"`
}

type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b Box) Center() (int, int) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

func (b Box) Area() int {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

type Detection struct {
	Label      string  `json:"label"`
	ClassID    int     `json:"classId"`
	Confidence float32 `json:"confidence"`
	Box        Box     `json:"box"`
}

type Track struct {
	ID         int      `json:"id"`
	Label      string   `json:"label"`
	Box        Box      `json:"box"`
	Confidence *float32 `json:"confidence,omitempty"`
	Hits       int      `json:"hits"`
	Missed     int      `json:"missed"`
}

// InferenceResult is the model output for one frame.
type InferenceResult struct {
	Frame      int         `json:"frame"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Detections []Detection `json:"detections"`
	Tracks     []Track     `json:"tracks,omitempty"`
}

// WithTracks returns a copy of the result carrying the given tracks.
func (r InferenceResult) WithTracks(tracks []Track) InferenceResult {
	out := r
	out.Detections = append([]Detection(nil), r.Detections...)
	out.Tracks = append([]Track(nil), tracks...)
	return out
}

type FrameFailure struct {
	Frame  int    `json:"frame"`
	Reason string `json:"reason"`
}

// ItemRecord is the serialized result for one item.
type ItemRecord struct {
	Source        string            `json:"source"`
	Kind          MediaKind         `json:"kind"`
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	FPS           float64           `json:"fps"`
	FrameCount    int               `json:"frameCount"`
	FramesDecoded int               `json:"framesDecoded"`
	FailedFrames  []FrameFailure    `json:"failedFrames,omitempty"`
	Frames        []InferenceResult `json:"frames"`
}

type OutputArtifact struct {
	MediaPath  string `json:"mediaPath"`
	RecordPath string `json:"recordPath"`
	MediaURL   string `json:"mediaUrl,omitempty"`
	RecordURL  string `json:"recordUrl,omitempty"`
}

type ItemStats struct {
	RunID        string     `json:"runId"`
	Item         string     `json:"item"`
	Kind         MediaKind  `json:"kind"`
	Status       ItemStatus `json:"status"`
	Frames       int        `json:"frames"`
	FailedFrames int        `json:"failedFrames"`
	Detections   int        `json:"detections"`
	Tracks       int        `json:"tracks"`
	Uptime       int64      `json:"uptime"`
	AvgProcTime  float64    `json:"avgProcTime"`
	Timestamp    int64      `json:"timestamp"`
}

type ItemFailure struct {
	Item   string `json:"item"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

type RunSummary struct {
	RunID     string        `json:"runId"`
	InputDir  string        `json:"inputDir"`
	OutputDir string        `json:"outputDir"`
	Total     int           `json:"total"`
	Done      int           `json:"done"`
	Failed    int           `json:"failed"`
	Cancelled bool          `json:"cancelled"`
	Failures  []ItemFailure `json:"failures,omitempty"`
	Uptime    int64         `json:"uptime"`
	Timestamp int64         `json:"timestamp"`
}
