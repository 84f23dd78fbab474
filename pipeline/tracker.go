package pipeline

import (
	"math"

	"github.com/khaledhikmat/vs-batch/model"
)

// kalman is a constant-velocity filter over [cx, cy, vx, vy] observing the
// box center.
type kalman struct {
	x [4]float64
	p [4][4]float64
}

const (
	kalmanInitialCovariance = 100.0
	kalmanMeasurementNoise  = 5.0
	kalmanProcessNoise      = 0.01
)

func newKalman(cx, cy float64) kalman {
	k := kalman{x: [4]float64{cx, cy, 0, 0}}
	for i := 0; i < 4; i++ {
		k.p[i][i] = kalmanInitialCovariance
	}
	return k
}

// predict applies x = Fx and P = FPF' + Q.
func (k *kalman) predict() {
	k.x[0] += k.x[2]
	k.x[1] += k.x[3]

	// F = I + E where E moves velocity rows into position rows
	var fp [4][4]float64
	for j := 0; j < 4; j++ {
		fp[0][j] = k.p[0][j] + k.p[2][j]
		fp[1][j] = k.p[1][j] + k.p[3][j]
		fp[2][j] = k.p[2][j]
		fp[3][j] = k.p[3][j]
	}
	var fpf [4][4]float64
	for i := 0; i < 4; i++ {
		fpf[i][0] = fp[i][0] + fp[i][2]
		fpf[i][1] = fp[i][1] + fp[i][3]
		fpf[i][2] = fp[i][2]
		fpf[i][3] = fp[i][3]
	}
	for i := 0; i < 4; i++ {
		fpf[i][i] += kalmanProcessNoise
	}
	k.p = fpf
}

// update folds in a measured center. P uses the Joseph form to stay symmetric.
func (k *kalman) update(zx, zy float64) bool {
	// S = HPH' + R, the top-left 2x2 block of P plus R
	s00 := k.p[0][0] + kalmanMeasurementNoise
	s01 := k.p[0][1]
	s10 := k.p[1][0]
	s11 := k.p[1][1] + kalmanMeasurementNoise
	det := s00*s11 - s01*s10
	if det == 0 || math.IsNaN(det) {
		return false
	}
	i00, i01, i10, i11 := s11/det, -s01/det, -s10/det, s00/det

	// K = PH'S^-1, PH' is the first two columns of P
	var gain [4][2]float64
	for i := 0; i < 4; i++ {
		gain[i][0] = k.p[i][0]*i00 + k.p[i][1]*i10
		gain[i][1] = k.p[i][0]*i01 + k.p[i][1]*i11
	}

	yx := zx - k.x[0]
	yy := zy - k.x[1]
	for i := 0; i < 4; i++ {
		k.x[i] += gain[i][0]*yx + gain[i][1]*yy
	}

	// A = I - KH
	var a [4][4]float64
	for i := 0; i < 4; i++ {
		a[i][i] = 1
		a[i][0] -= gain[i][0]
		a[i][1] -= gain[i][1]
	}

	var ap [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			for m := 0; m < 4; m++ {
				ap[i][j] += a[i][m] * k.p[m][j]
			}
		}
	}
	var next [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			for m := 0; m < 4; m++ {
				next[i][j] += ap[i][m] * a[j][m]
			}
			// KRK' with R = rI
			next[i][j] += kalmanMeasurementNoise * (gain[i][0]*gain[j][0] + gain[i][1]*gain[j][1])
		}
	}
	k.p = next
	return true
}

type track struct {
	id     int
	label  string
	box    model.Box
	filter kalman
	hits   int
	missed int
}

// Tracker follows detections across the frames of one item. It is not safe
// for concurrent use; each item owns its own.
type Tracker struct {
	maxDistance float64
	maxMissed   int
	nextID      int
	tracks      []*track
}

func NewTracker(maxDistance float64, maxMissed int) *Tracker {
	return &Tracker{
		maxDistance: maxDistance,
		maxMissed:   maxMissed,
		nextID:      1,
	}
}

// Update advances every track by one frame and returns the live tracks in
// creation order.
func (t *Tracker) Update(detections []model.Detection) []model.Track {
	for _, tr := range t.tracks {
		tr.filter.predict()
	}

	matched := make([]bool, len(detections))
	for _, tr := range t.tracks {
		best := -1
		bestDist := math.Inf(1)
		for di, det := range detections {
			if matched[di] {
				continue
			}
			cx, cy := det.Box.Center()
			d := math.Hypot(tr.filter.x[0]-float64(cx), tr.filter.x[1]-float64(cy))
			if d < bestDist {
				bestDist = d
				best = di
			}
		}

		if best >= 0 && bestDist <= t.maxDistance {
			det := detections[best]
			if tr.filter.update(exactCenter(det.Box)) {
				tr.box = det.Box
				tr.label = det.Label
				tr.missed = 0
				tr.hits++
			}
			matched[best] = true
			continue
		}
		tr.missed++
	}

	for di, det := range detections {
		if matched[di] {
			continue
		}
		cx, cy := exactCenter(det.Box)
		t.tracks = append(t.tracks, &track{
			id:     t.nextID,
			label:  det.Label,
			box:    det.Box,
			filter: newKalman(cx, cy),
			hits:   1,
		})
		t.nextID++
	}

	live := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.missed <= t.maxMissed {
			live = append(live, tr)
		}
	}
	t.tracks = live

	out := make([]model.Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		mt := model.Track{
			ID:     tr.id,
			Label:  tr.label,
			Box:    tr.box,
			Hits:   tr.hits,
			Missed: tr.missed,
		}
		for _, det := range detections {
			if det.Box == tr.box {
				conf := det.Confidence
				mt.Confidence = &conf
			}
		}
		out = append(out, mt)
	}
	return out
}

// exactCenter is the unrounded box center the filter is fed with. Matching
// distance uses the integer Box.Center.
func exactCenter(b model.Box) (float64, float64) {
	return float64(b.X1+b.X2) / 2, float64(b.Y1+b.Y2) / 2
}
