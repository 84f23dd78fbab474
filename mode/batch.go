package mode

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khaledhikmat/vs-batch/model"
	"github.com/khaledhikmat/vs-batch/pipeline"
	"github.com/khaledhikmat/vs-batch/service/lgr"
)

const webhookTimeout = 15 * time.Second

// Batch processes every item under the input root once and reports a summary.
func Batch(canxCtx context.Context, svcs pipeline.ServicesFactory) error {
	summary, err := RunBatch(canxCtx, svcs)
	// A run that never started has no summary to report
	if summary.Timestamp != 0 {
		printReport(os.Stdout, summary)
	}
	return err
}

// RunBatch fans the scanned items out to a bounded pool of workers. Each
// item runs its stages sequentially; items run in parallel.
func RunBatch(canxCtx context.Context, svcs pipeline.ServicesFactory) (model.RunSummary, error) {
	runID := uuid.NewString()
	startTime := time.Now()

	summary := model.RunSummary{
		RunID:     runID,
		InputDir:  svcs.ScannerSvc.Root(),
		OutputDir: svcs.CfgSvc.GetOutputFolder(),
	}

	if err := os.MkdirAll(svcs.CfgSvc.GetOutputFolder(), 0o755); err != nil {
		return summary, model.NewEnvironmentError("prepare_output", svcs.CfgSvc.GetOutputFolder(), err)
	}

	items, err := svcs.ScannerSvc.Scan(canxCtx)
	if err != nil {
		return summary, err
	}

	// An environment error mid-run stops the dispatch of further items
	runCtx, runCancel := context.WithCancel(canxCtx)
	defer runCancel()

	errorStream := make(chan interface{})
	statsStream := make(chan interface{})
	resultStream := make(chan pipeline.ItemResult)
	itemStream := make(chan model.Item)

	workers := svcs.CfgSvc.GetMaxWorkers()
	lgr.Logger.Info(
		"batch run starting",
		slog.String("runId", runID),
		slog.String("input", summary.InputDir),
		slog.String("output", summary.OutputDir),
		slog.Int("workers", workers),
	)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for item := range itemStream {
				lgr.Logger.Debug(
					"worker picked item",
					slog.Int("worker", worker),
					slog.String("item", item.RelPath),
				)
				resultStream <- pipeline.ProcessItem(runCtx, svcs, runID, item, errorStream, statsStream)
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(itemStream)

		for item, err := range items {
			if err != nil {
				// Unreadable entries fail without reaching a worker
				_ = item.Fail(err.Error())
				errorStream <- model.GenError("batch_scanner",
					err,
					map[string]interface{}{"runId": runID, "item": item.RelPath},
					"error scanning %s",
					item.Path)
				resultStream <- pipeline.ItemResult{Item: item, Err: err}
				continue
			}

			select {
			case itemStream <- item:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultStream)
	}()

	var fatalErr error
	for {
		select {
		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)

		case r, ok := <-resultStream:
			if !ok {
				goto resume
			}

			summary.Total++
			if r.Err == nil {
				summary.Done++
				continue
			}

			summary.Failed++
			summary.Failures = append(summary.Failures, model.ItemFailure{
				Item:   r.Item.RelPath,
				Kind:   pipeline.FailureKind(r.Err),
				Reason: r.Item.Reason,
			})

			if model.IsFatal(r.Err) && fatalErr == nil {
				fatalErr = r.Err
				lgr.Logger.Error(
					"environment error, stopping the run",
					slog.String("item", r.Item.RelPath),
					slog.Any("error", r.Err),
				)
				runCancel()
			}
		}
	}

resume:
	sort.Slice(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].Item < summary.Failures[j].Item
	})
	summary.Cancelled = canxCtx.Err() != nil
	summary.Uptime = int64(time.Since(startTime).Seconds())
	summary.Timestamp = time.Now().Unix()

	procStats(svcs.DataSvc, summary)

	if svcs.WebhookSvc != nil {
		postCtx, cancel := context.WithTimeout(context.WithoutCancel(canxCtx), webhookTimeout)
		if err := svcs.WebhookSvc.Post(postCtx, summary); err != nil {
			procError(svcs.DataSvc, model.GenError("batch_webhook",
				err,
				map[string]interface{}{"runId": runID},
				"error posting run summary"))
		}
		cancel()
	}

	lgr.Logger.Info(
		"batch run finished",
		slog.String("runId", runID),
		slog.Int("total", summary.Total),
		slog.Int("done", summary.Done),
		slog.Int("failed", summary.Failed),
		slog.Bool("cancelled", summary.Cancelled),
		slog.Int64("uptime", summary.Uptime),
	)

	return summary, fatalErr
}
