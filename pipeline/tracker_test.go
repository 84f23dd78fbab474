package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-batch/model"
)

func person(x1, y1, x2, y2 int, conf float32) model.Detection {
	return model.Detection{
		Label:      "person",
		Confidence: conf,
		Box:        model.Box{X1: x1, Y1: y1, X2: x2, Y2: y2},
	}
}

func TestTracker_FollowsMovingBox(t *testing.T) {
	tr := NewTracker(60, 10)

	for i := 0; i < 10; i++ {
		x := 100 + i*5
		tracks := tr.Update([]model.Detection{person(x, 100, x+40, 200, 0.8)})
		require.Len(t, tracks, 1)
		require.Equal(t, 1, tracks[0].ID)
		require.Equal(t, i+1, tracks[0].Hits)
		require.NotNil(t, tracks[0].Confidence)
		require.InDelta(t, 0.8, *tracks[0].Confidence, 1e-6)
	}
}

func TestTracker_FilterUsesUnroundedCenter(t *testing.T) {
	tr := NewTracker(60, 10)

	tr.Update([]model.Detection{person(0, 0, 3, 5, 0.7)})
	require.Len(t, tr.tracks, 1)
	require.InDelta(t, 1.5, tr.tracks[0].filter.x[0], 1e-9)
	require.InDelta(t, 2.5, tr.tracks[0].filter.x[1], 1e-9)

	tr.Update([]model.Detection{person(0, 0, 3, 5, 0.7)})
	require.InDelta(t, 1.5, tr.tracks[0].filter.x[0], 1e-9)
	require.InDelta(t, 2.5, tr.tracks[0].filter.x[1], 1e-9)
}

func TestTracker_NewTrackBeyondDistance(t *testing.T) {
	tr := NewTracker(60, 10)

	tr.Update([]model.Detection{person(0, 0, 20, 20, 0.9)})
	tracks := tr.Update([]model.Detection{person(300, 300, 320, 320, 0.7)})

	require.Len(t, tracks, 2)
	require.Equal(t, 1, tracks[0].ID)
	require.Equal(t, 1, tracks[0].Missed)
	require.Nil(t, tracks[0].Confidence)
	require.Equal(t, 2, tracks[1].ID)
	require.InDelta(t, 0.7, *tracks[1].Confidence, 1e-6)
}

func TestTracker_DropsAfterMaxMissed(t *testing.T) {
	tr := NewTracker(60, 2)
	tr.Update([]model.Detection{person(0, 0, 20, 20, 0.9)})

	require.Len(t, tr.Update(nil), 1)
	require.Len(t, tr.Update(nil), 1)
	require.Empty(t, tr.Update(nil))

	// ids never get reused
	tracks := tr.Update([]model.Detection{person(0, 0, 20, 20, 0.9)})
	require.Equal(t, 2, tracks[0].ID)
}

func TestTracker_GreedyMatchInTrackOrder(t *testing.T) {
	tr := NewTracker(60, 10)
	tr.Update([]model.Detection{
		person(0, 0, 20, 20, 0.9),
		person(30, 0, 50, 20, 0.9),
	})

	// both detections are near both tracks; track 1 claims the closer one
	tracks := tr.Update([]model.Detection{
		person(25, 0, 45, 20, 0.6),
		person(2, 0, 22, 20, 0.5),
	})
	require.Len(t, tracks, 2)
	require.Equal(t, model.Box{X1: 2, Y1: 0, X2: 22, Y2: 20}, tracks[0].Box)
	require.Equal(t, model.Box{X1: 25, Y1: 0, X2: 45, Y2: 20}, tracks[1].Box)
}

func TestTracker_IndependentInstances(t *testing.T) {
	a := NewTracker(60, 10)
	b := NewTracker(60, 10)

	a.Update([]model.Detection{person(0, 0, 10, 10, 0.9), person(200, 200, 210, 210, 0.9)})
	tracks := b.Update([]model.Detection{person(0, 0, 10, 10, 0.9)})
	require.Equal(t, 1, tracks[0].ID)
}

func TestKalman_ConvergesToMeasurement(t *testing.T) {
	k := newKalman(0, 0)
	for i := 0; i < 50; i++ {
		k.predict()
		require.True(t, k.update(100, 50))
	}
	require.InDelta(t, 100, k.x[0], 0.5)
	require.InDelta(t, 50, k.x[1], 0.5)

	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			require.False(t, math.IsNaN(k.p[i][j]))
			require.InDelta(t, k.p[i][j], k.p[j][i], 1e-9)
		}
	}
}
