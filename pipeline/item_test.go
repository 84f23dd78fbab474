package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-batch/model"
	"github.com/khaledhikmat/vs-batch/service/config"
	"github.com/khaledhikmat/vs-batch/service/decoder"
	"github.com/khaledhikmat/vs-batch/service/writer"
)

type fakeDecoder struct {
	frames  int
	openErr error
}

func (d *fakeDecoder) Open(_ context.Context, _ model.Item) (decoder.FrameStream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return &fakeStream{total: d.frames}, nil
}

type fakeStream struct {
	total int
	next  int
}

func (s *fakeStream) Info() model.StreamInfo {
	return model.StreamInfo{Width: 64, Height: 48, FPS: 25, FrameCount: s.total}
}

func (s *fakeStream) Next() (model.Frame, error) {
	if s.next >= s.total {
		return model.Frame{}, io.EOF
	}
	mat := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	frame := model.NewFrame(mat, s.next)
	s.next++
	return frame, nil
}

func (s *fakeStream) Close() error { return nil }

// fakeEngine reports one person moving right by 4px per frame.
type fakeEngine struct {
	failOn  map[int]bool
	onFrame func(index int)
}

func (e *fakeEngine) Infer(_ context.Context, frame model.Frame) (model.InferenceResult, error) {
	if e.onFrame != nil {
		e.onFrame(frame.Index)
	}
	if e.failOn[frame.Index] {
		return model.InferenceResult{}, model.NewInferenceError("forward", "", errors.New("bad tensor"))
	}
	x := 4 * frame.Index
	return model.InferenceResult{
		Frame:  frame.Index,
		Width:  frame.Width,
		Height: frame.Height,
		Detections: []model.Detection{{
			Label: "person", Confidence: 0.8,
			Box: model.Box{X1: x, Y1: 4, X2: x + 10, Y2: 30},
		}},
	}, nil
}

func (e *fakeEngine) Close() error { return nil }

type fakeSession struct {
	frames    []model.InferenceResult
	record    model.ItemRecord
	committed bool
	aborted   bool
}

func (s *fakeSession) MediaPath() string { return "out/media" }

func (s *fakeSession) WriteFrame(_ model.Frame, result model.InferenceResult) error {
	s.frames = append(s.frames, result)
	return nil
}

func (s *fakeSession) Commit(_ context.Context, record model.ItemRecord) (model.OutputArtifact, error) {
	s.record = record
	s.committed = true
	return model.OutputArtifact{MediaPath: "out/media", RecordPath: "out/media.json"}, nil
}

func (s *fakeSession) Abort() { s.aborted = true }

type fakeWriter struct {
	mu       sync.Mutex
	beginErr error
	sessions []*fakeSession
}

func (w *fakeWriter) Plan(_ model.Item) (string, string) { return "out/media", "out/media.json" }

func (w *fakeWriter) Begin(_ context.Context, _ model.Item, _ model.StreamInfo) (writer.Session, error) {
	if w.beginErr != nil {
		return nil, w.beginErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := &fakeSession{}
	w.sessions = append(w.sessions, s)
	return s, nil
}

func testServices(dec *fakeDecoder, eng *fakeEngine, wr *fakeWriter) ServicesFactory {
	return ServicesFactory{
		CfgSvc:       config.NewHardCoded(),
		DecoderSvc:   dec,
		InferenceSvc: eng,
		WriterSvc:    wr,
	}
}

func streams() (chan interface{}, chan interface{}) {
	return make(chan interface{}, 10), make(chan interface{}, 10)
}

func videoItem() model.Item {
	return model.Item{Path: "/in/clip.mp4", RelPath: "clip.mp4", Kind: model.MediaVideo, Status: model.ItemPending}
}

func TestProcessItem_Done(t *testing.T) {
	wr := &fakeWriter{}
	errs, stats := streams()

	res := ProcessItem(context.Background(), testServices(&fakeDecoder{frames: 5}, &fakeEngine{}, wr), "run", videoItem(), errs, stats)
	require.NoError(t, res.Err)
	require.Equal(t, model.ItemDone, res.Item.Status)
	require.Equal(t, "out/media", res.Artifact.MediaPath)

	sess := wr.sessions[0]
	require.True(t, sess.committed)
	require.False(t, sess.aborted)
	require.Len(t, sess.frames, 5)
	require.Equal(t, 5, sess.record.FramesDecoded)
	require.Equal(t, "clip.mp4", sess.record.Source)

	for i, frame := range sess.record.Frames {
		require.Equal(t, i, frame.Frame)
		require.Len(t, frame.Tracks, 1)
		require.Equal(t, 1, frame.Tracks[0].ID)
	}

	require.Empty(t, errs)
	st := (<-stats).(model.ItemStats)
	require.Equal(t, model.ItemDone, st.Status)
	require.Equal(t, 5, st.Detections)
	require.Equal(t, 1, st.Tracks)
}

func TestProcessItem_FrameFailureIsRecorded(t *testing.T) {
	wr := &fakeWriter{}
	errs, stats := streams()

	eng := &fakeEngine{failOn: map[int]bool{2: true}}
	res := ProcessItem(context.Background(), testServices(&fakeDecoder{frames: 4}, eng, wr), "run", videoItem(), errs, stats)
	require.NoError(t, res.Err)
	require.Equal(t, model.ItemDone, res.Item.Status)

	sess := wr.sessions[0]
	require.Len(t, sess.frames, 4)
	require.Len(t, sess.record.FailedFrames, 1)
	require.Equal(t, 2, sess.record.FailedFrames[0].Frame)
	require.Empty(t, sess.record.Frames[2].Detections)
	// the track survives the missed frame
	require.Equal(t, 1, sess.record.Frames[3].Tracks[0].ID)
}

func TestProcessItem_EveryFrameFails(t *testing.T) {
	wr := &fakeWriter{}
	errs, stats := streams()

	eng := &fakeEngine{failOn: map[int]bool{0: true, 1: true}}
	res := ProcessItem(context.Background(), testServices(&fakeDecoder{frames: 2}, eng, wr), "run", videoItem(), errs, stats)
	require.ErrorIs(t, res.Err, model.ErrInference)
	require.Equal(t, model.ItemFailed, res.Item.Status)
	require.True(t, wr.sessions[0].aborted)
	require.False(t, wr.sessions[0].committed)

	gen := (<-errs).(model.CustomError)
	require.Equal(t, "inference", gen.Misc["kind"])
}

func TestProcessItem_DecodeError(t *testing.T) {
	wr := &fakeWriter{}
	errs, stats := streams()

	dec := &fakeDecoder{openErr: model.NewDecodeError("open_video", "/in/clip.mp4", errors.New("corrupt"))}
	res := ProcessItem(context.Background(), testServices(dec, &fakeEngine{}, wr), "run", videoItem(), errs, stats)
	require.ErrorIs(t, res.Err, model.ErrDecode)
	require.Equal(t, model.ItemFailed, res.Item.Status)
	require.NotEmpty(t, res.Item.Reason)
	require.Empty(t, wr.sessions)
	require.Len(t, errs, 1)
	require.Len(t, stats, 1)
}

func TestProcessItem_NoFrames(t *testing.T) {
	wr := &fakeWriter{}
	errs, stats := streams()

	res := ProcessItem(context.Background(), testServices(&fakeDecoder{frames: 0}, &fakeEngine{}, wr), "run", videoItem(), errs, stats)
	require.ErrorIs(t, res.Err, model.ErrDecode)
	require.True(t, wr.sessions[0].aborted)
}

func TestProcessItem_WriterError(t *testing.T) {
	wr := &fakeWriter{beginErr: model.NewWriteError("reserve_output", "out/media", errors.New("taken"))}
	errs, stats := streams()

	res := ProcessItem(context.Background(), testServices(&fakeDecoder{frames: 2}, &fakeEngine{}, wr), "run", videoItem(), errs, stats)
	require.ErrorIs(t, res.Err, model.ErrWrite)
	require.Equal(t, model.ItemFailed, res.Item.Status)
}

func TestProcessItem_CancelFinishesCurrentFrame(t *testing.T) {
	wr := &fakeWriter{}
	errs, stats := streams()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := &fakeEngine{onFrame: func(index int) {
		if index == 1 {
			cancel()
		}
	}}
	res := ProcessItem(ctx, testServices(&fakeDecoder{frames: 10}, eng, wr), "run", videoItem(), errs, stats)
	require.ErrorIs(t, res.Err, model.ErrCancelled)
	require.Equal(t, model.ItemFailed, res.Item.Status)
	require.Equal(t, CancelledReason, res.Item.Reason)

	sess := wr.sessions[0]
	require.Len(t, sess.frames, 2)
	require.True(t, sess.aborted)
	require.False(t, sess.committed)
}

func TestProcessItem_CancelledBeforeStart(t *testing.T) {
	wr := &fakeWriter{}
	errs, stats := streams()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := ProcessItem(ctx, testServices(&fakeDecoder{frames: 3}, &fakeEngine{}, wr), "run", videoItem(), errs, stats)
	require.ErrorIs(t, res.Err, model.ErrCancelled)
	require.Equal(t, CancelledReason, res.Item.Reason)
	require.Empty(t, wr.sessions)
}
