package mode

import (
	"context"
	"log/slog"

	"github.com/khaledhikmat/vs-batch/model"
	"github.com/khaledhikmat/vs-batch/pipeline"
	"github.com/khaledhikmat/vs-batch/service/data"
	"github.com/khaledhikmat/vs-batch/service/lgr"
)

// Processor runs one mode to completion. Only environment errors are
// returned; per-item failures end up in the run summary.
type Processor func(canxCtx context.Context, svcs pipeline.ServicesFactory) error

func procStats(datasvc data.IService, stats interface{}) {
	switch stats := stats.(type) {
	case model.ItemStats:
		procItemStats(datasvc, stats)
	case model.RunSummary:
		procRunSummary(datasvc, stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
	}
}

func procItemStats(datasvc data.IService, stats model.ItemStats) {
	err := datasvc.NewItemStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store item stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procRunSummary(datasvc data.IService, summary model.RunSummary) {
	err := datasvc.NewRunSummary(summary)
	if err != nil {
		lgr.Logger.Error(
			"failed to store run summary",
			slog.String("runId", summary.RunID),
			slog.Any("error", err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			slog.Any("error", errTemp),
		)
	}
}
