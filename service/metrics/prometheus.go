package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ItemsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vsbatch_items_processed_total",
		Help: "Total number of items processed, by kind and status",
	}, []string{"kind", "status"})

	ItemFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vsbatch_item_failures_total",
		Help: "Total number of failed items, by error kind",
	}, []string{"error"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vsbatch_stage_duration_seconds",
		Help:    "Duration of an item pipeline stage",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vsbatch_inference_duration_seconds",
		Help:    "Duration of one frame inference",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	FramesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vsbatch_frames_processed_total",
		Help: "Total number of frames run through the model",
	})

	FrameFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vsbatch_frame_failures_total",
		Help: "Total number of frames whose inference failed",
	})

	DetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vsbatch_detections_total",
		Help: "Total number of detections, by label",
	}, []string{"label"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vsbatch_active_workers",
		Help: "Number of workers currently processing an item",
	})
)
