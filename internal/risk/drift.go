package risk

import (
	"math"
	"sort"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

const (
	bandWidth   = 0.10
	minBandSize = 20 // below this the z-score is too noisy to act on
)

// BandDrift is the calibration drift measured over one price band.
type BandDrift struct {
	Lo, Hi     float64
	N          int
	ObservedWR float64
	ExpectedWR float64
	Z          float64
}

// DriftZScores buckets settled outcomes into price bands 0.10 wide and
// compares each band's realized win rate against the win rate the
// calibration curve promised at entry. A persistently negative z means the
// curve is stale and the edge estimates can no longer be trusted.
func DriftZScores(samples []domain.CalibrationSample) []BandDrift {
	type acc struct {
		n      int
		wins   int
		expSum float64
	}
	bands := make(map[int]*acc)
	for _, s := range samples {
		if s.Price <= 0 || s.Price >= 1 || s.Expected <= 0 || s.Expected >= 1 {
			continue
		}
		idx := int(s.Price / bandWidth)
		a := bands[idx]
		if a == nil {
			a = &acc{}
			bands[idx] = a
		}
		a.n++
		if s.Won {
			a.wins++
		}
		a.expSum += s.Expected
	}

	idxs := make([]int, 0, len(bands))
	for idx := range bands {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)

	var out []BandDrift
	for _, idx := range idxs {
		a := bands[idx]
		if a.n < minBandSize {
			continue
		}
		exp := a.expSum / float64(a.n)
		se := math.Sqrt(exp * (1 - exp) / float64(a.n))
		if se == 0 {
			continue
		}
		obs := float64(a.wins) / float64(a.n)
		out = append(out, BandDrift{
			Lo:         float64(idx) * bandWidth,
			Hi:         float64(idx+1) * bandWidth,
			N:          a.n,
			ObservedWR: obs,
			ExpectedWR: exp,
			Z:          (obs - exp) / se,
		})
	}
	return out
}

// MaxAbsZ returns the largest |z| across bands, 0 when no band has enough
// samples.
func MaxAbsZ(bands []BandDrift) float64 {
	var max float64
	for _, b := range bands {
		if z := math.Abs(b.Z); z > max {
			max = z
		}
	}
	return max
}
