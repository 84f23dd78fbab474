package writer

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/khaledhikmat/vs-batch/model"
)

const recordExt = ".json"

// OutputPaths maps an input path relative to the input root onto the output
// tree. Videos are re-encoded into videoExt; images keep their extension.
func OutputPaths(outDir, prefix, videoExt string, item model.Item) (string, string) {
	rel := path.Clean(filepath.ToSlash(item.RelPath))
	dir, name := path.Split(rel)

	if item.Kind == model.MediaVideo && !strings.EqualFold(path.Ext(name), videoExt) {
		name += videoExt
	}

	media := filepath.Join(outDir, filepath.FromSlash(dir), prefix+name)
	return media, media + recordExt
}

// tempPath is a hidden sibling of final that keeps its extension so encoders
// still pick the right format.
func tempPath(final, token string) string {
	dir, name := filepath.Split(final)
	ext := filepath.Ext(name)
	return filepath.Join(dir, "."+strings.TrimSuffix(name, ext)+"."+token+".tmp"+ext)
}
