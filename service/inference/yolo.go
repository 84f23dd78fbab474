package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/natefinch/lumberjack"
	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-batch/model"
	"github.com/khaledhikmat/vs-batch/service/config"
	"github.com/khaledhikmat/vs-batch/service/lgr"
)

type yoloService struct {
	params  config.DetectorParameters
	labels  []string
	allowed map[int]bool
	schema  outputSchema

	// gocv.Net is not thread-safe so each replica is checked out exclusively
	nets     chan *gocv.Net
	replicas []*gocv.Net

	detLogger *lumberjack.Logger
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewYolo loads the ONNX weights once and builds one network replica per
// worker. Any failure to load or validate the model is an environment error.
func NewYolo(params config.DetectorParameters, replicas int) (IService, error) {
	if replicas < 1 {
		replicas = 1
	}

	labels, err := loadLabels(params.LabelsPath)
	if err != nil {
		return nil, model.NewEnvironmentError("load_labels", params.LabelsPath, err)
	}

	allowed, err := allowedClassIDs(labels, params.AllowedClasses)
	if err != nil {
		return nil, model.NewEnvironmentError("load_labels", params.LabelsPath, err)
	}

	weights, err := os.ReadFile(params.ModelPath)
	if err != nil {
		return nil, model.NewEnvironmentError("load_model", params.ModelPath, err)
	}

	svc := &yoloService{
		params:  params,
		labels:  labels,
		allowed: allowed,
		nets:    make(chan *gocv.Net, replicas),
	}

	for i := 0; i < replicas; i++ {
		net, err := gocv.ReadNetFromONNXBytes(weights)
		if err != nil || net.Empty() {
			svc.Close()
			if err == nil {
				err = errors.New("empty network")
			}
			return nil, model.NewEnvironmentError("load_model", params.ModelPath, err)
		}

		if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
			net.Close()
			svc.Close()
			return nil, model.NewEnvironmentError("load_model", params.ModelPath, err)
		}

		if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
			net.Close()
			svc.Close()
			return nil, model.NewEnvironmentError("load_model", params.ModelPath, err)
		}

		svc.replicas = append(svc.replicas, &net)
		svc.nets <- &net
	}

	if err := svc.warmUp(); err != nil {
		svc.Close()
		return nil, model.NewEnvironmentError("load_model", params.ModelPath, err)
	}

	if params.DetectionsLog != "" {
		svc.detLogger = &lumberjack.Logger{
			Filename:   params.DetectionsLog,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     7, // days
			Compress:   true,
		}
	}

	lgr.Logger.Info(
		"inference engine ready",
		slog.String("model", params.ModelPath),
		slog.String("layout", params.Layout),
		slog.Int("replicas", replicas),
		slog.Int("classes", len(labels)),
		slog.String("openCV", gocv.Version()),
	)

	return svc, nil
}

// warmUp runs one blank frame through a replica and checks the output shape.
func (svc *yoloService) warmUp() error {
	size := svc.params.InputSize
	blank := gocv.NewMatWithSize(size, size, gocv.MatTypeCV8UC3)
	defer blank.Close()

	net := <-svc.nets
	defer func() { svc.nets <- net }()

	output, err := svc.forward(net, blank)
	if err != nil {
		return err
	}
	defer output.Close()

	schema, err := schemaOf(output.Size(), svc.params.Layout, len(svc.labels))
	if err != nil {
		return err
	}
	svc.schema = schema
	return nil
}

func (svc *yoloService) forward(net *gocv.Net, img gocv.Mat) (gocv.Mat, error) {
	size := svc.params.InputSize
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	net.SetInput(blob, "")

	output := net.Forward("")
	if output.Empty() {
		output.Close()
		return gocv.Mat{}, errors.New("model produced no output")
	}
	return output, nil
}

func (svc *yoloService) Infer(ctx context.Context, frame model.Frame) (model.InferenceResult, error) {
	if err := frame.Validate(); err != nil {
		return model.InferenceResult{}, err
	}

	if svc.closed.Load() {
		return model.InferenceResult{}, model.NewInferenceError("infer", "", errors.New("engine is closed"))
	}

	var net *gocv.Net
	select {
	case <-ctx.Done():
		return model.InferenceResult{}, ctx.Err()
	case net = <-svc.nets:
	}
	defer func() { svc.nets <- net }()

	output, err := svc.forward(net, frame.Mat)
	if err != nil {
		return model.InferenceResult{}, model.NewInferenceError("forward", "", err)
	}
	defer output.Close()

	schema, err := schemaOf(output.Size(), svc.params.Layout, len(svc.labels))
	if err != nil {
		return model.InferenceResult{}, model.NewInferenceError("parse_output", "", err)
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return model.InferenceResult{}, model.NewInferenceError("parse_output", "", err)
	}

	candidates, err := parseRows(data, schema, rowFilter{
		allowed:       svc.allowed,
		confThreshold: svc.params.ConfidenceThreshold,
		objThreshold:  svc.params.ObjectConfidenceThreshold,
		scaleX:        float64(frame.Width) / float64(svc.params.InputSize),
		scaleY:        float64(frame.Height) / float64(svc.params.InputSize),
		width:         frame.Width,
		height:        frame.Height,
	})
	if err != nil {
		return model.InferenceResult{}, model.NewInferenceError("parse_output", "", err)
	}

	detections := svc.suppress(candidates)
	sortDetections(detections)

	if svc.detLogger != nil && len(detections) > 0 {
		svc.logDetections(frame.Index, detections)
	}

	return model.InferenceResult{
		Frame:      frame.Index,
		Width:      frame.Width,
		Height:     frame.Height,
		Detections: detections,
	}, nil
}

// suppress runs NMS per class.
func (svc *yoloService) suppress(candidates []candidate) []model.Detection {
	byClass := map[int][]candidate{}
	for _, c := range candidates {
		byClass[c.classID] = append(byClass[c.classID], c)
	}

	detections := []model.Detection{}
	for classID, group := range byClass {
		rects := make([]image.Rectangle, len(group))
		scores := make([]float32, len(group))
		for i, c := range group {
			rects[i] = c.rect
			scores[i] = c.confidence
		}

		for _, idx := range gocv.NMSBoxes(rects, scores, svc.params.ConfidenceThreshold, svc.params.NMSThreshold) {
			c := group[idx]
			detections = append(detections, model.Detection{
				Label:      svc.labels[classID],
				ClassID:    classID,
				Confidence: c.confidence,
				Box: model.Box{
					X1: c.rect.Min.X,
					Y1: c.rect.Min.Y,
					X2: c.rect.Max.X,
					Y2: c.rect.Max.Y,
				},
			})
		}
	}
	return detections
}

func (svc *yoloService) logDetections(frame int, detections []model.Detection) {
	entry := map[string]interface{}{
		"time":       time.Now().Format(time.RFC3339),
		"frame":      frame,
		"detections": detections,
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		lgr.Logger.Warn("marshal detections", slog.Any("error", err))
		return
	}

	if _, err := svc.detLogger.Write(append(jsonData, '\n')); err != nil {
		lgr.Logger.Warn("write detections log", slog.Any("error", err))
	}
}

func (svc *yoloService) Close() error {
	var errs []error
	svc.closeOnce.Do(func() {
		svc.closed.Store(true)
		for _, net := range svc.replicas {
			if err := net.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if svc.detLogger != nil {
			if err := svc.detLogger.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("close inference engine: %w", errors.Join(errs...))
	}
	return nil
}
