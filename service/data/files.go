package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-batch/model"
)

const (
	errorsEntity       = "errors"
	itemStatsEntity    = "item-stats"
	runSummariesEntity = "run-summaries"
)

// errorRecord is the persisted shape of an error.
type errorRecord struct {
	Timestamp  int64                  `json:"timestamp"`
	Processor  string                 `json:"processor"`
	Inner      string                 `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func toErrorRecord(err interface{}) errorRecord {
	// Determine if the error is custom
	var customErr model.CustomError
	if custom, ok := err.(model.CustomError); ok {
		customErr = custom
	} else {
		e, ok := err.(error)
		if !ok {
			e = fmt.Errorf("%v", err)
		}
		customErr.Processor = "N/A"
		customErr.Inner = e
		customErr.Message = e.Error()
		customErr.StackTrace = "N/A"
	}

	inner := ""
	if customErr.Inner != nil {
		inner = customErr.Inner.Error()
	}

	return errorRecord{
		Timestamp:  time.Now().Unix(),
		Processor:  customErr.Processor,
		Inner:      inner,
		Message:    customErr.Message,
		StackTrace: customErr.StackTrace,
		Misc:       customErr.Misc,
	}
}

// filesDBService keeps one JSON array file per entity in the state folder.
type filesDBService struct {
	folder string
	mu     sync.Mutex
}

func NewFilesDB(folder string) (IService, error) {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, err
	}
	return &filesDBService{folder: folder}, nil
}

func (svc *filesDBService) NewError(err interface{}) error {
	return newEntity(svc, toErrorRecord(err), errorsEntity)
}

func (svc *filesDBService) NewItemStats(stats model.ItemStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(svc, stats, itemStatsEntity)
}

func (svc *filesDBService) NewRunSummary(summary model.RunSummary) error {
	summary.Timestamp = time.Now().Unix()
	return newEntity(svc, summary, runSummariesEntity)
}

func (svc *filesDBService) RetrieveRunSummaries() ([]model.RunSummary, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return retrieveEntities[model.RunSummary](svc.folder, runSummariesEntity)
}

func (svc *filesDBService) Close() error {
	return nil
}

func newEntity[T any](svc *filesDBService, entity T, name string) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	entities, err := retrieveEntities[T](svc.folder, name)
	if err != nil {
		return err
	}

	entities = append(entities, entity)

	data, err := json.MarshalIndent(entities, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(entityFile(svc.folder, name), data, 0o644)
}

func retrieveEntities[T any](folder, name string) ([]T, error) {
	entities := []T{}

	data, err := os.ReadFile(entityFile(folder, name))
	if errors.Is(err, os.ErrNotExist) {
		return entities, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, &entities); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return entities, nil
}

func entityFile(folder, name string) string {
	return filepath.Join(folder, name+".json")
}
