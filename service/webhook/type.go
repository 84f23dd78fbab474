package webhook

import (
	"context"

	"github.com/khaledhikmat/vs-batch/model"
)

// IService announces a finished run to an external endpoint.
type IService interface {
	Post(ctx context.Context, summary model.RunSummary) error
}
