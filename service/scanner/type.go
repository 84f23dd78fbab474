package scanner

import (
	"context"
	"iter"

	"github.com/khaledhikmat/vs-batch/model"
)

// IService enumerates media items under the input root.
//
// Scan fails with an input-not-found environment error when the root is
// missing. The returned sequence walks lazily and can be ranged over again
// to restart the walk. Entries that cannot be read are yielded with a non-nil
// error instead of stopping the walk.
type IService interface {
	Root() string
	Scan(ctx context.Context) (iter.Seq2[model.Item, error], error)
}
