package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/khaledhikmat/vs-batch/model"
	"github.com/khaledhikmat/vs-batch/service/decoder"
	"github.com/khaledhikmat/vs-batch/service/lgr"
	"github.com/khaledhikmat/vs-batch/service/metrics"
	"github.com/khaledhikmat/vs-batch/service/writer"
)

const CancelledReason = "cancelled"

// itemRun carries the state of one item through its stages.
type itemRun struct {
	svcs  ServicesFactory
	runID string
	item  model.Item

	info    model.StreamInfo
	stream  decoder.FrameStream
	session writer.Session
	record  model.ItemRecord

	detections    int
	maxTrackID    int
	inferenceTime time.Duration
}

// ProcessItem drives one item through decode, inference, tracking and write.
// It always returns with the item in a terminal state. Per-item failures are
// reported on errorStream and returned in the result; only the item is
// affected. Stats are reported on statsStream.
func ProcessItem(ctx context.Context,
	svcs ServicesFactory,
	runID string,
	item model.Item,
	errorStream chan interface{},
	statsStream chan interface{}) ItemResult {
	ctx, span := otel.Tracer("pipeline").Start(ctx, "process_item",
		trace.WithAttributes(
			attribute.String("item", item.RelPath),
			attribute.String("kind", string(item.Kind)),
		))
	defer span.End()

	startTime := time.Now()
	run := &itemRun{
		svcs:  svcs,
		runID: runID,
		item:  item,
		record: model.ItemRecord{
			Source: item.RelPath,
			Kind:   item.Kind,
			Frames: []model.InferenceResult{},
		},
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	artifact, err := run.process(ctx)
	if run.stream != nil {
		_ = run.stream.Close()
	}

	if err != nil {
		run.fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, run.item.Reason)

		errorStream <- model.GenError("pipeline_item",
			err,
			map[string]interface{}{
				"runId": runID,
				"item":  item.RelPath,
				"kind":  FailureKind(err),
			},
			"item %s failed",
			item.RelPath)
	}

	metrics.ItemsProcessedTotal.WithLabelValues(string(item.Kind), string(run.item.Status)).Inc()
	metrics.StageDuration.WithLabelValues("item").Observe(time.Since(startTime).Seconds())

	var avgProcTime float64
	if n := len(run.record.Frames); n > 0 {
		avgProcTime = run.inferenceTime.Seconds() / float64(n)
	}
	statsStream <- model.ItemStats{
		RunID:        runID,
		Item:         item.RelPath,
		Kind:         item.Kind,
		Status:       run.item.Status,
		Frames:       run.record.FramesDecoded,
		FailedFrames: len(run.record.FailedFrames),
		Detections:   run.detections,
		Tracks:       run.maxTrackID,
		Uptime:       int64(time.Since(startTime).Seconds()),
		AvgProcTime:  avgProcTime,
	}

	lgr.Logger.Info(
		"item finished",
		slog.String("item", item.RelPath),
		slog.String("status", string(run.item.Status)),
		slog.Int("frames", run.record.FramesDecoded),
		slog.Int("failedFrames", len(run.record.FailedFrames)),
		slog.Duration("elapsed", time.Since(startTime)),
	)

	return ItemResult{Item: run.item, Artifact: artifact, Err: err}
}

func (r *itemRun) process(ctx context.Context) (model.OutputArtifact, error) {
	if err := r.decode(ctx); err != nil {
		return model.OutputArtifact{}, err
	}

	if err := r.infer(ctx); err != nil {
		if r.session != nil {
			r.session.Abort()
		}
		return model.OutputArtifact{}, err
	}

	return r.commit(ctx)
}

func (r *itemRun) decode(ctx context.Context) error {
	if err := cancelled(ctx); err != nil {
		return err
	}
	if err := r.item.Advance(model.ItemDecoding); err != nil {
		return err
	}

	_, span := otel.Tracer("pipeline").Start(ctx, "decode")
	defer span.End()
	start := time.Now()

	stream, err := r.svcs.DecoderSvc.Open(ctx, r.item)
	metrics.StageDuration.WithLabelValues("decode").Observe(time.Since(start).Seconds())
	if err != nil {
		if ctxErr := cancelled(ctx); ctxErr != nil {
			return ctxErr
		}
		return err
	}

	r.stream = stream
	r.info = stream.Info()
	r.record.Width = r.info.Width
	r.record.Height = r.info.Height
	r.record.FPS = r.info.FPS
	r.record.FrameCount = r.info.FrameCount
	return nil
}

// infer runs every frame through the model and the tracker and hands the
// annotated frame to the writer. A frame is the unit of interruption.
func (r *itemRun) infer(ctx context.Context) error {
	if err := r.item.Advance(model.ItemInferring); err != nil {
		return err
	}

	ctx, span := otel.Tracer("pipeline").Start(ctx, "infer")
	defer span.End()
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("infer").Observe(time.Since(start).Seconds())
	}()

	session, err := r.svcs.WriterSvc.Begin(ctx, r.item, r.info)
	if err != nil {
		if ctxErr := cancelled(ctx); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	r.session = session

	params := r.svcs.CfgSvc.GetTrackerParameters()
	tracker := NewTracker(params.MaxDistance, params.MaxMissed)
	lastIndex := -1

	for {
		if err := cancelled(ctx); err != nil {
			return err
		}

		frame, err := r.stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return model.NewDecodeError("read_frame", r.item.Path, err)
		}

		if frame.Index < lastIndex {
			frame.Close()
			return model.NewDecodeError("read_frame", r.item.Path, fmt.Errorf("frame %d arrived after frame %d", frame.Index, lastIndex))
		}
		lastIndex = frame.Index

		err = r.frame(ctx, tracker, frame)
		frame.Close()
		if err != nil {
			return err
		}
	}

	if r.record.FramesDecoded == 0 {
		return model.NewDecodeError("read_frame", r.item.Path, errors.New("no decodable frame"))
	}
	if len(r.record.FailedFrames) == r.record.FramesDecoded {
		last := r.record.FailedFrames[len(r.record.FailedFrames)-1]
		return model.NewInferenceError("infer", r.item.Path, fmt.Errorf("inference failed on every frame: %s", last.Reason))
	}
	return nil
}

func (r *itemRun) frame(ctx context.Context, tracker *Tracker, frame model.Frame) error {
	r.record.FramesDecoded++

	start := time.Now()
	result, err := r.svcs.InferenceSvc.Infer(ctx, frame)
	elapsed := time.Since(start)
	r.inferenceTime += elapsed
	metrics.InferenceDuration.Observe(elapsed.Seconds())
	metrics.FramesProcessedTotal.Inc()

	if err != nil {
		if ctxErr := cancelled(ctx); ctxErr != nil {
			return ctxErr
		}
		if model.IsFatal(err) {
			return err
		}

		// The frame is still written, unannotated, and the tracker ages
		metrics.FrameFailuresTotal.Inc()
		lgr.Logger.Warn(
			"frame inference failed",
			slog.String("item", r.item.RelPath),
			slog.Int("frame", frame.Index),
			slog.Any("error", err),
		)
		r.record.FailedFrames = append(r.record.FailedFrames, model.FrameFailure{
			Frame:  frame.Index,
			Reason: err.Error(),
		})
		result = model.InferenceResult{
			Frame:      frame.Index,
			Width:      frame.Width,
			Height:     frame.Height,
			Detections: []model.Detection{},
		}
	}

	result = result.WithTracks(tracker.Update(result.Detections))

	r.detections += len(result.Detections)
	for _, det := range result.Detections {
		metrics.DetectionsTotal.WithLabelValues(det.Label).Inc()
	}
	for _, tr := range result.Tracks {
		r.maxTrackID = max(r.maxTrackID, tr.ID)
	}

	if err := r.session.WriteFrame(frame, result); err != nil {
		return err
	}

	r.record.Frames = append(r.record.Frames, result)
	return nil
}

// commit publishes the artifacts. Once started it runs to completion even if
// the run is cancelled meanwhile.
func (r *itemRun) commit(ctx context.Context) (model.OutputArtifact, error) {
	if err := r.item.Advance(model.ItemWriting); err != nil {
		r.session.Abort()
		return model.OutputArtifact{}, err
	}

	ctx, span := otel.Tracer("pipeline").Start(context.WithoutCancel(ctx), "commit")
	defer span.End()
	start := time.Now()

	artifact, err := r.session.Commit(ctx, r.record)
	metrics.StageDuration.WithLabelValues("write").Observe(time.Since(start).Seconds())
	if err != nil {
		return model.OutputArtifact{}, err
	}

	if err := r.item.Advance(model.ItemDone); err != nil {
		return model.OutputArtifact{}, err
	}
	return artifact, nil
}

func (r *itemRun) fail(err error) {
	reason := err.Error()
	if errors.Is(err, model.ErrCancelled) {
		reason = CancelledReason
	}
	metrics.ItemFailuresTotal.WithLabelValues(FailureKind(err)).Inc()

	if r.item.Status.Terminal() {
		return
	}
	_ = r.item.Fail(reason)
}

// FailureKind names the error kind of a failed item for reports.
func FailureKind(err error) string {
	if errors.Is(err, model.ErrCancelled) {
		return CancelledReason
	}
	if kind := model.KindOf(err); kind != "" {
		return string(kind)
	}
	return "internal"
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrCancelled, err)
	}
	return nil
}
