package data

import "github.com/khaledhikmat/vs-batch/model"

type IService interface {
	NewError(err interface{}) error
	NewItemStats(stats model.ItemStats) error
	NewRunSummary(summary model.RunSummary) error
	RetrieveRunSummaries() ([]model.RunSummary, error)
	Close() error
}
