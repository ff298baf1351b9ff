package scheduler

import (
	"sync"

	"github.com/shopspring/decimal"
)

// sampleKey identifies one (action-type, worker) bucket of rolling
// statistics.
type sampleKey struct {
	actionType string
	workerID   string
}

// Profile holds rolling per-(action-type, worker) statistics: mean wall
// time, mean transferred bytes, and success rate (§4.4). Means accumulate
// through decimal.Decimal rather than float64 — the same reasoning the
// teacher applies to monetary figures that must not drift applies here:
// a long-running master accumulates millions of samples, and float64 mean
// updates compound rounding error across that many updates.
type Profile struct {
	mu      sync.Mutex
	samples map[sampleKey]*stats
}

type stats struct {
	count       int64
	meanWallMs  decimal.Decimal
	meanBytes   decimal.Decimal
	successes   int64
	failures    int64
}

// NewProfile builds an empty Profile.
func NewProfile() *Profile {
	return &Profile{samples: make(map[sampleKey]*stats)}
}

// Record folds one completed action's outcome into its (actionType,
// workerID) bucket using Welford-style incremental mean updates.
func (p *Profile) Record(actionType, workerID string, wallMs, bytesTransferred int64, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := sampleKey{actionType, workerID}
	s, ok := p.samples[key]
	if !ok {
		s = &stats{}
		p.samples[key] = s
	}

	s.count++
	n := decimal.NewFromInt(s.count)
	wall := decimal.NewFromInt(wallMs)
	bytes := decimal.NewFromInt(bytesTransferred)
	s.meanWallMs = s.meanWallMs.Add(wall.Sub(s.meanWallMs).Div(n))
	s.meanBytes = s.meanBytes.Add(bytes.Sub(s.meanBytes).Div(n))

	if success {
		s.successes++
	} else {
		s.failures++
	}
}

// ExpectedWallMs returns the mean wall time for (actionType, workerID), or
// ok=false if there is no sample yet.
func (p *Profile) ExpectedWallMs(actionType, workerID string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.samples[sampleKey{actionType, workerID}]
	if !ok || s.count == 0 {
		return 0, false
	}
	f, _ := s.meanWallMs.Float64()
	return f, true
}

// ClassMeanWallMs averages the per-worker means for actionType across all
// workers that have samples, used as a fallback when a specific
// (actionType, worker) pair is unknown (§4.4 implementationScore).
func (p *Profile) ClassMeanWallMs(actionType string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sum := decimal.Zero
	var n int64
	for k, s := range p.samples {
		if k.actionType == actionType && s.count > 0 {
			sum = sum.Add(s.meanWallMs)
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	f, _ := sum.Div(decimal.NewFromInt(n)).Float64()
	return f, true
}

// SuccessRate returns the observed success rate for (actionType,
// workerID), or 1.0 if there are no samples yet (optimistic default).
func (p *Profile) SuccessRate(actionType, workerID string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.samples[sampleKey{actionType, workerID}]
	if !ok || (s.successes+s.failures) == 0 {
		return 1.0
	}
	return float64(s.successes) / float64(s.successes+s.failures)
}
