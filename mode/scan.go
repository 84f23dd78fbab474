package mode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/khaledhikmat/vs-batch/model"
	"github.com/khaledhikmat/vs-batch/pipeline"
	"github.com/khaledhikmat/vs-batch/service/lgr"
)

// Scan lists the items a batch run would process and where their artifacts
// would go, without decoding anything.
func Scan(canxCtx context.Context, svcs pipeline.ServicesFactory) error {
	return scanTo(canxCtx, svcs, os.Stdout)
}

func scanTo(canxCtx context.Context, svcs pipeline.ServicesFactory, w io.Writer) error {
	items, err := svcs.ScannerSvc.Scan(canxCtx)
	if err != nil {
		return err
	}

	headerColor.Fprintf(w, "Items under %s\n", svcs.ScannerSvc.Root())

	total, unreadable := 0, 0
	for item, err := range items {
		total++
		if err != nil {
			unreadable++
			failedColor.Fprintf(w, "  %-40s unreadable: %v\n", item.RelPath, err)
			continue
		}

		media, record := svcs.WriterSvc.Plan(item)
		fmt.Fprintf(w, "  %-40s %-5s -> %s (+ %s)\n", item.RelPath, item.Kind, media, record)
	}

	doneColor.Fprintf(w, "%d items, %d unreadable\n", total, unreadable)

	if svcs.DataSvc != nil {
		if last, ok := lastRun(svcs); ok {
			noteColor.Fprintf(w, "Last run %s: %d done, %d failed\n", last.RunID, last.Done, last.Failed)
		}
	}

	lgr.Logger.Info(
		"scan finished",
		slog.Int("items", total),
		slog.Int("unreadable", unreadable),
	)
	return nil
}

func lastRun(svcs pipeline.ServicesFactory) (model.RunSummary, bool) {
	summaries, err := svcs.DataSvc.RetrieveRunSummaries()
	if err != nil {
		procError(svcs.DataSvc, model.GenError("scan_mode",
			err,
			map[string]interface{}{},
			"error retrieving run summaries"))
		return model.RunSummary{}, false
	}
	if len(summaries) == 0 {
		return model.RunSummary{}, false
	}
	return summaries[len(summaries)-1], true
}
