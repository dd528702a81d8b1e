package call

import (
	"sync"
	"time"
)

// Meter accumulates credits from elapsed call time and from turn generation.
//
// Time credits are ceil(elapsed minutes) * rate and only ever grow; token
// credits add ceil(units / unitSize) per generation. Total is their sum, so
// it is non-decreasing and reproducible from the event log.
type Meter struct {
	mu            sync.Mutex
	ratePerMinute int64
	unitSize      int64
	timeCredits   int64
	tokenCredits  int64
}

// NewMeter returns a meter. A unitSize below 1 is treated as 1.
func NewMeter(ratePerMinute, unitSize int64) *Meter {
	if unitSize < 1 {
		unitSize = 1
	}
	if ratePerMinute < 0 {
		ratePerMinute = 0
	}
	return &Meter{ratePerMinute: ratePerMinute, unitSize: unitSize}
}

// ChargeElapsed brings the time component up to date and returns the
// positive delta, or 0 if nothing new is owed.
func (m *Meter) ChargeElapsed(elapsed time.Duration) int64 {
	due := WholeMinutes(elapsed) * m.ratePerMinute

	m.mu.Lock()
	defer m.mu.Unlock()
	if due <= m.timeCredits {
		return 0
	}
	delta := due - m.timeCredits
	m.timeCredits = due
	return delta
}

// ChargeUnits adds ceil(units / unitSize) credits and returns that amount.
func (m *Meter) ChargeUnits(units int64) int64 {
	if units <= 0 {
		return 0
	}
	credits := (units + m.unitSize - 1) / m.unitSize

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenCredits += credits
	return credits
}

// Total returns the cumulative credit counter.
func (m *Meter) Total() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeCredits + m.tokenCredits
}

// WholeMinutes rounds elapsed up to whole minutes. Zero stays zero.
func WholeMinutes(elapsed time.Duration) int64 {
	if elapsed <= 0 {
		return 0
	}
	return int64((elapsed + time.Minute - 1) / time.Minute)
}
