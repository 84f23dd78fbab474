package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-batch/model"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

type scanned struct {
	rel  string
	kind model.MediaKind
	err  error
}

func collect(t *testing.T, svc IService) []scanned {
	t.Helper()
	seq, err := svc.Scan(context.Background())
	require.NoError(t, err)

	var out []scanned
	for item, err := range seq {
		out = append(out, scanned{rel: item.RelPath, kind: item.Kind, err: err})
	}
	return out
}

func TestScan_FiltersAndOrders(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "b.MP4"))
	touch(t, filepath.Join(root, "a.jpg"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, ".hidden.png"))
	touch(t, filepath.Join(root, ".cache", "c.png"))
	touch(t, filepath.Join(root, "sub", "c.webm"))

	got := collect(t, NewDir(root))
	require.Equal(t, []scanned{
		{rel: "a.jpg", kind: model.MediaImage},
		{rel: "b.MP4", kind: model.MediaVideo},
		{rel: "sub/c.webm", kind: model.MediaVideo},
	}, got)
}

func TestScan_Restartable(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "one.png"))
	touch(t, filepath.Join(root, "two.avi"))

	svc := NewDir(root)
	seq, err := svc.Scan(context.Background())
	require.NoError(t, err)

	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	require.Equal(t, 2, count())
	require.Equal(t, 2, count())
}

func TestScan_MissingRoot(t *testing.T) {
	svc := NewDir(filepath.Join(t.TempDir(), "nope"))
	_, err := svc.Scan(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, model.ErrInputNotFound))
	require.True(t, model.IsFatal(err))
}

func TestScan_SymlinkedRoot(t *testing.T) {
	base := t.TempDir()
	real := filepath.Join(base, "real")
	touch(t, filepath.Join(real, "a.png"))
	touch(t, filepath.Join(real, "sub", "b.mp4"))
	link := filepath.Join(base, "in")
	require.NoError(t, os.Symlink(real, link))

	got := collect(t, NewDir(link))
	require.Equal(t, []scanned{
		{rel: "a.png", kind: model.MediaImage},
		{rel: "sub/b.mp4", kind: model.MediaVideo},
	}, got)
}

func TestScan_RootIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.mp4")
	touch(t, file)

	_, err := NewDir(file).Scan(context.Background())
	require.ErrorIs(t, err, model.ErrInputNotFound)
}

func TestScan_UnreadableEntryIsReported(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}

	root := t.TempDir()
	touch(t, filepath.Join(root, "ok.png"))
	locked := filepath.Join(root, "locked.png")
	touch(t, locked)
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o644) })

	got := collect(t, NewDir(root))
	require.Len(t, got, 2)
	require.Equal(t, "locked.png", got[0].rel)
	require.ErrorIs(t, got[0].err, model.ErrDecode)
	require.Equal(t, "ok.png", got[1].rel)
	require.NoError(t, got[1].err)
}

func TestScan_StopsOnCancel(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.png"))
	touch(t, filepath.Join(root, "b.png"))

	ctx, cancel := context.WithCancel(context.Background())
	seq, err := NewDir(root).Scan(ctx)
	require.NoError(t, err)

	n := 0
	for range seq {
		n++
		cancel()
	}
	require.Equal(t, 1, n)
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf("/x/y/CLIP.MoV")
	require.True(t, ok)
	require.Equal(t, model.MediaVideo, kind)

	kind, ok = KindOf("photo.TIFF")
	require.True(t, ok)
	require.Equal(t, model.MediaImage, kind)

	_, ok = KindOf("readme.md")
	require.False(t, ok)
}
