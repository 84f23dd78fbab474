package inference

import (
	"context"

	"github.com/khaledhikmat/vs-batch/model"
)

// IService runs the detection model over one frame. Implementations are
// built once at startup, are safe for concurrent use and never change their
// weights after construction.
type IService interface {
	Infer(ctx context.Context, frame model.Frame) (model.InferenceResult, error)
	Close() error
}
