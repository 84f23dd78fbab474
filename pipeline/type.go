package pipeline

import (
	"github.com/khaledhikmat/vs-batch/model"
	"github.com/khaledhikmat/vs-batch/service/config"
	"github.com/khaledhikmat/vs-batch/service/data"
	"github.com/khaledhikmat/vs-batch/service/decoder"
	"github.com/khaledhikmat/vs-batch/service/inference"
	"github.com/khaledhikmat/vs-batch/service/scanner"
	"github.com/khaledhikmat/vs-batch/service/storage"
	"github.com/khaledhikmat/vs-batch/service/webhook"
	"github.com/khaledhikmat/vs-batch/service/writer"
)

type ServicesFactory struct {
	CfgSvc       config.IService
	DataSvc      data.IService
	ScannerSvc   scanner.IService
	DecoderSvc   decoder.IService
	InferenceSvc inference.IService
	WriterSvc    writer.IService
	StorageSvc   storage.IService
	WebhookSvc   webhook.IService
}

// ItemResult is what a worker reports once an item reached a terminal state.
type ItemResult struct {
	Item     model.Item
	Artifact model.OutputArtifact
	Err      error
}
