package storage

import "context"

// IService mirrors local artifacts to remote storage. StoreFile returns the
// remote URL of the stored object, or "" when nothing was stored.
type IService interface {
	StoreFile(ctx context.Context, fileName, key string) (string, error)
}
