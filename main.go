package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-batch/mode"
	"github.com/khaledhikmat/vs-batch/model"
	"github.com/khaledhikmat/vs-batch/pipeline"
	"github.com/khaledhikmat/vs-batch/service/config"
	"github.com/khaledhikmat/vs-batch/service/data"
	"github.com/khaledhikmat/vs-batch/service/decoder"
	"github.com/khaledhikmat/vs-batch/service/inference"
	"github.com/khaledhikmat/vs-batch/service/lgr"
	"github.com/khaledhikmat/vs-batch/service/metrics"
	"github.com/khaledhikmat/vs-batch/service/scanner"
	"github.com/khaledhikmat/vs-batch/service/storage"
	"github.com/khaledhikmat/vs-batch/service/tracing"
	"github.com/khaledhikmat/vs-batch/service/webhook"
	"github.com/khaledhikmat/vs-batch/service/writer"
)

var modeProcessors = map[string]mode.Processor{
	"batch": mode.Batch,
	"scan":  mode.Scan,
}

// modes that never touch the model
var modelFreeModes = map[string]bool{
	"scan": true,
}

func main() {
	os.Exit(run())
}

func run() int {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)
	defer canxFn()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		if err := godotenv.Load(); err != nil {
			lgr.Logger.Debug("no .env file loaded", slog.Any("error", xerrors.New(err.Error())))
		}
	}

	cfgSvc, err := config.NewEnvVars()
	if err != nil {
		lgr.Logger.Error("invalid configuration", slog.Any("error", xerrors.New(err.Error())))
		return 1
	}

	logCloser := lgr.Configure(lgr.Options{
		Level: cfgSvc.GetLogLevel(),
		File:  cfgSvc.GetLogFile(),
	})
	defer logCloser.Close()

	// Hook up a signal handler to cancel the context. It logs, so it starts
	// only once Logger is final.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go watchSignals(canxCtx, sigChan, canxFn)

	if cfgSvc.IsHeadless() && os.Getenv("QT_QPA_PLATFORM") == "" {
		os.Setenv("QT_QPA_PLATFORM", "offscreen")
	}

	modeType := "batch"
	args := os.Args[1:]
	if len(args) > 0 {
		modeType = args[0]
	}

	modeProc, ok := modeProcessors[modeType]
	if !ok {
		lgr.Logger.Error("invalid mode", slog.String("mode", modeType))
		return 1
	}

	if endpoint := cfgSvc.GetOtelEndpoint(); endpoint != "" {
		tp, err := tracing.InitTracer(canxCtx, endpoint)
		if err != nil {
			lgr.Logger.Warn("tracing disabled", slog.Any("error", err))
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(ctx)
			}()
		}
	}

	if port := cfgSvc.GetMetricsPort(); port > 0 {
		srv := metrics.StartServer(port)
		defer func() {
			ctx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	svcs, closeSvcs, err := newServices(canxCtx, cfgSvc, !modelFreeModes[modeType])
	if err != nil {
		lgr.Logger.Error("startup failed", slog.Any("error", err))
		return 1
	}
	defer closeSvcs()

	// Create mode processor result
	modeProcResult := make(chan error, 1)

	// Start the mode processor
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs)
	}()

	// Wait for the mode processor to finish. A cancelled run gets a grace
	// period so in-flight items can abort and the summary gets written.
	select {
	case err = <-modeProcResult:
	case <-canxCtx.Done():
		grace := time.Duration(cfgSvc.GetModeMaxShutdownTime()) * time.Second
		lgr.Logger.Info(
			"waiting for the mode processor to exit",
			slog.Duration("period", grace),
		)

		timer := time.NewTimer(grace)
		defer timer.Stop()

		select {
		case err = <-modeProcResult:
		case <-timer.C:
			lgr.Logger.Warn("shutdown waiting period expired, exiting now", slog.Duration("period", grace))
			return 1
		}
	}

	if err != nil {
		lgr.Logger.Error(
			"mode processor exited",
			slog.String("mode", modeType),
			slog.Any("error", err),
		)
		if model.IsFatal(err) {
			return 1
		}
	}
	return 0
}

func watchSignals(ctx context.Context, sigChan <-chan os.Signal, cancel context.CancelFunc) {
	select {
	case sig := <-sigChan:
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		cancel()
	case <-ctx.Done():
	}
}

// newServices wires the service implementations selected by configuration.
func newServices(ctx context.Context, cfgSvc config.IService, withModel bool) (pipeline.ServicesFactory, func(), error) {
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				lgr.Logger.Warn("close service", slog.Any("error", err))
			}
		}
	}

	// Data service
	var dataSvc data.IService
	var err error
	if url := cfgSvc.GetDatabaseURL(); url != "" {
		dataSvc, err = data.NewPostgres(ctx, url)
	} else {
		dataSvc, err = data.NewFilesDB(cfgSvc.GetStateFolder())
	}
	if err != nil {
		return pipeline.ServicesFactory{}, nil, model.NewEnvironmentError("open_data", "", err)
	}
	closers = append(closers, dataSvc.Close)

	// Storage service
	storageSvc := storage.NewNoop()
	if params := cfgSvc.GetMinioParameters(); params.Endpoint != "" {
		storageSvc, err = storage.NewMinio(ctx, params)
		if err != nil {
			closeAll()
			return pipeline.ServicesFactory{}, nil, model.NewEnvironmentError("open_storage", params.Endpoint, err)
		}
	}

	svcs := pipeline.ServicesFactory{
		CfgSvc:     cfgSvc,
		DataSvc:    dataSvc,
		ScannerSvc: scanner.NewDir(cfgSvc.GetInputFolder()),
		DecoderSvc: decoder.NewGoCV(cfgSvc.GetWriterParameters().DefaultFPS),
		WriterSvc:  writer.NewGoCV(cfgSvc.GetOutputFolder(), cfgSvc.GetWriterParameters(), storageSvc),
		StorageSvc: storageSvc,
		WebhookSvc: webhook.NewHTTP(cfgSvc.GetWebhookURL()),
	}

	// Inference service, loaded once and shared by all workers
	if withModel {
		inferenceSvc, err := inference.NewYolo(cfgSvc.GetDetectorParameters(), cfgSvc.GetMaxWorkers())
		if err != nil {
			closeAll()
			return pipeline.ServicesFactory{}, nil, fmt.Errorf("load inference engine: %w", err)
		}
		closers = append(closers, inferenceSvc.Close)
		svcs.InferenceSvc = inferenceSvc
	}

	return svcs, closeAll, nil
}
