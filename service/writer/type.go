package writer

import (
	"context"

	"github.com/khaledhikmat/vs-batch/model"
)

// Session collects the frames of one item into temp files. Commit publishes
// them under their final names; Abort removes them. Both are safe to call
// more than once.
type Session interface {
	MediaPath() string
	WriteFrame(frame model.Frame, result model.InferenceResult) error
	Commit(ctx context.Context, record model.ItemRecord) (model.OutputArtifact, error)
	Abort()
}

type IService interface {
	// Plan returns the final media and record paths of an item.
	Plan(item model.Item) (string, string)
	Begin(ctx context.Context, item model.Item, info model.StreamInfo) (Session, error)
}
