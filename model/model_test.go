package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestItem_AdvanceIsMonotonic(t *testing.T) {
	item := Item{RelPath: "a.mp4", Status: ItemPending}

	require.NoError(t, item.Advance(ItemDecoding))
	require.NoError(t, item.Advance(ItemInferring))
	require.Error(t, item.Advance(ItemDecoding))
	require.Error(t, item.Advance(ItemInferring))
	require.NoError(t, item.Advance(ItemWriting))
	require.NoError(t, item.Advance(ItemDone))
	require.True(t, item.Status.Terminal())

	require.Error(t, item.Advance(ItemFailed))
	require.Error(t, item.Fail("late"))
	require.Empty(t, item.Reason)
}

func TestItem_FailFromAnyStage(t *testing.T) {
	for _, status := range []ItemStatus{ItemPending, ItemDecoding, ItemInferring, ItemWriting} {
		item := Item{Status: status}
		require.NoError(t, item.Fail("boom"))
		require.Equal(t, ItemFailed, item.Status)
		require.Equal(t, "boom", item.Reason)
	}

	var zero Item
	require.NoError(t, zero.Advance(ItemDecoding))
}

func TestBox(t *testing.T) {
	b := Box{X1: 10, Y1: 20, X2: 31, Y2: 41}
	cx, cy := b.Center()
	require.Equal(t, 20, cx)
	require.Equal(t, 30, cy)
	require.Equal(t, 441, b.Area())
}

func TestInferenceResult_WithTracksCopies(t *testing.T) {
	orig := InferenceResult{
		Frame:      3,
		Detections: []Detection{{Label: "person"}},
	}
	tracks := []Track{{ID: 1}}

	got := orig.WithTracks(tracks)
	require.Nil(t, orig.Tracks)
	require.Equal(t, 3, got.Frame)
	require.Len(t, got.Tracks, 1)

	tracks[0].ID = 99
	got.Detections[0].Label = "changed"
	require.Equal(t, 1, got.Tracks[0].ID)
	require.Equal(t, "person", orig.Detections[0].Label)
}

func TestFrame_ValidateShape(t *testing.T) {
	require.ErrorIs(t, Frame{Width: 0, Height: 5, Channels: 3}.Validate(), ErrInference)
	require.ErrorIs(t, Frame{Width: 5, Height: -1, Channels: 3}.Validate(), ErrInference)
	require.ErrorIs(t, Frame{Width: 5, Height: 5, Channels: 0}.Validate(), ErrInference)
}

func TestGenError(t *testing.T) {
	err := GenError("worker", ErrDecode, map[string]interface{}{"item": "a"}, "item %s", "a")
	require.Equal(t, "worker: item a: decode error", err.Error())
	require.NotEmpty(t, err.StackTrace)
}
