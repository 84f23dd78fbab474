package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-batch/model"
	"github.com/khaledhikmat/vs-batch/service/lgr"
)

type gocvService struct {
	defaultFPS float64
}

// NewGoCV decodes media with OpenCV. defaultFPS is reported for containers
// that carry no frame rate.
func NewGoCV(defaultFPS float64) IService {
	if defaultFPS <= 0 {
		defaultFPS = 25
	}
	return &gocvService{defaultFPS: defaultFPS}
}

func (svc *gocvService) Open(ctx context.Context, item model.Item) (FrameStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch item.Kind {
	case model.MediaImage:
		return openImage(item)
	case model.MediaVideo:
		return svc.openVideo(item)
	}
	return nil, model.NewDecodeError("open", item.Path, fmt.Errorf("unsupported media kind %q", item.Kind))
}

func openImage(item model.Item) (FrameStream, error) {
	img := gocv.IMRead(item.Path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return nil, model.NewDecodeError("read_image", item.Path, errors.New("codec could not parse image"))
	}

	return &imageStream{
		mat: img,
		info: model.StreamInfo{
			Width:      img.Cols(),
			Height:     img.Rows(),
			FrameCount: 1,
		},
	}, nil
}

// imageStream yields its single frame once.
type imageStream struct {
	mat      gocv.Mat
	info     model.StreamInfo
	consumed bool
	closed   bool
}

func (s *imageStream) Info() model.StreamInfo {
	return s.info
}

func (s *imageStream) Next() (model.Frame, error) {
	if s.consumed || s.closed {
		return model.Frame{}, io.EOF
	}
	s.consumed = true

	// Ownership of the Mat moves to the caller
	frame := model.NewFrame(s.mat, 0)
	s.mat = gocv.NewMat()
	return frame, nil
}

func (s *imageStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.mat.Close()
}

func (svc *gocvService) openVideo(item model.Item) (FrameStream, error) {
	capture, err := gocv.VideoCaptureFile(item.Path)
	if err != nil {
		return nil, model.NewDecodeError("open_video", item.Path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, model.NewDecodeError("open_video", item.Path, errors.New("codec could not open video"))
	}

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		fps = svc.defaultFPS
	}

	frameCount := capture.Get(gocv.VideoCaptureFrameCount)
	if frameCount < 0 || math.IsNaN(frameCount) || math.IsInf(frameCount, 0) {
		frameCount = 0
	}

	stream := &videoStream{
		path:    item.Path,
		capture: capture,
		info: model.StreamInfo{
			Width:      int(capture.Get(gocv.VideoCaptureFrameWidth)),
			Height:     int(capture.Get(gocv.VideoCaptureFrameHeight)),
			FPS:        fps,
			FrameCount: int(math.Round(frameCount)),
		},
	}

	// A container that opens but yields nothing is as good as corrupt
	first := gocv.NewMat()
	if ok := capture.Read(&first); !ok || first.Empty() {
		first.Close()
		capture.Close()
		return nil, model.NewDecodeError("read_video", item.Path, errors.New("no decodable frame"))
	}
	stream.pending = &first
	if stream.info.Width <= 0 || stream.info.Height <= 0 {
		stream.info.Width = first.Cols()
		stream.info.Height = first.Rows()
	}

	lgr.Logger.Debug(
		"video opened",
		slog.String("path", item.Path),
		slog.Int("width", stream.info.Width),
		slog.Int("height", stream.info.Height),
		slog.Float64("fps", stream.info.FPS),
		slog.Int("frameCount", stream.info.FrameCount),
	)

	return stream, nil
}

type videoStream struct {
	path    string
	capture *gocv.VideoCapture
	info    model.StreamInfo
	pending *gocv.Mat
	next    int
	done    bool
	closed  bool
}

func (s *videoStream) Info() model.StreamInfo {
	return s.info
}

func (s *videoStream) Next() (model.Frame, error) {
	if s.closed || s.done {
		return model.Frame{}, io.EOF
	}

	var img gocv.Mat
	if s.pending != nil {
		img = *s.pending
		s.pending = nil
	} else {
		img = gocv.NewMat()
		// Read reports false both at the end and on a broken packet
		if ok := s.capture.Read(&img); !ok || img.Empty() {
			img.Close()
			s.done = true
			return model.Frame{}, io.EOF
		}
	}

	frame := model.NewFrame(img, s.next)
	s.next++
	return frame, nil
}

func (s *videoStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pending != nil {
		s.pending.Close()
		s.pending = nil
	}
	return s.capture.Close()
}
