package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/khaledhikmat/vs-batch/model"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".m4v":  true,
	".webm": true,
	".mpg":  true,
	".mpeg": true,
	".wmv":  true,
	".flv":  true,
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// KindOf classifies a path by extension. ok is false for unsupported files.
func KindOf(path string) (model.MediaKind, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case videoExtensions[ext]:
		return model.MediaVideo, true
	case imageExtensions[ext]:
		return model.MediaImage, true
	}
	return "", false
}

type dirService struct {
	root string
}

func NewDir(root string) IService {
	return &dirService{root: filepath.Clean(root)}
}

func (svc *dirService) Root() string {
	return svc.root
}

func (svc *dirService) Scan(ctx context.Context) (iter.Seq2[model.Item, error], error) {
	info, err := os.Stat(svc.root)
	if err != nil {
		return nil, model.NewInputNotFoundError(svc.root, err)
	}
	if !info.IsDir() {
		return nil, model.NewInputNotFoundError(svc.root, fmt.Errorf("%s is not a directory", svc.root))
	}

	// WalkDir does not descend into a symlinked root
	root, err := filepath.EvalSymlinks(svc.root)
	if err != nil {
		return nil, model.NewInputNotFoundError(svc.root, err)
	}

	return func(yield func(model.Item, error) bool) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if ctx.Err() != nil {
				return filepath.SkipAll
			}

			if d != nil && path != root && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if walkErr != nil {
				// The root itself vanished or a subdirectory could not be listed
				item := newItem(root, path, "")
				if !yield(item, model.NewDecodeError("scan_entry", path, walkErr)) {
					return filepath.SkipAll
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				return nil
			}

			kind, ok := KindOf(path)
			if !ok {
				return nil
			}

			item := newItem(root, path, kind)
			if fi, err := d.Info(); err == nil {
				item.Size = fi.Size()
			}

			if err := probe(path); err != nil {
				if !yield(item, model.NewDecodeError("scan_entry", path, err)) {
					return filepath.SkipAll
				}
				return nil
			}

			if !yield(item, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	}, nil
}

func newItem(root, path string, kind model.MediaKind) model.Item {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return model.Item{
		Path:    path,
		RelPath: filepath.ToSlash(rel),
		Kind:    kind,
		Status:  model.ItemPending,
	}
}

func probe(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}
