package decoder

import (
	"context"

	"github.com/khaledhikmat/vs-batch/model"
)

// FrameStream yields the frames of one item in index order. Next returns
// io.EOF after the last frame. Close releases the media handle and may be
// called more than once.
type FrameStream interface {
	Info() model.StreamInfo
	Next() (model.Frame, error)
	Close() error
}

type IService interface {
	Open(ctx context.Context, item model.Item) (FrameStream, error)
}
