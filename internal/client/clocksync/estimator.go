// Package clocksync estimates the offset between the display's local
// clock and the server's authoritative clock from tick timestamps. It
// is pure math over samples; the playback controller feeds it.
package clocksync

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// WindowSize bounds the sliding sample window.
	WindowSize = 10
	// MinSamples is the calibration threshold.
	MinSamples = 3
)

// Sample is one offset observation derived from a tick.
type Sample struct {
	// OffsetMS is server_time minus client_time, corrected for one-way
	// latency, in milliseconds.
	OffsetMS float64
	RTTMS    float64
	At       time.Time
}

// Estimator keeps a bounded window of samples and exposes the moving
// average offset plus time conversion in both directions.
type Estimator struct {
	clock clockwork.Clock

	mu      sync.Mutex
	samples []Sample
}

// NewEstimator creates an estimator over the given clock.
func NewEstimator(clock clockwork.Clock) *Estimator {
	return &Estimator{
		clock:   clock,
		samples: make([]Sample, 0, WindowSize),
	}
}

// ProcessTick ingests one tick: serverTime as reported by the server,
// receiveTime as observed locally, and the current round-trip estimate.
func (e *Estimator) ProcessTick(serverTime, receiveTime time.Time, rtt time.Duration) {
	oneWay := rtt / 2
	correctedServer := serverTime.Add(oneWay)
	offset := correctedServer.Sub(receiveTime)

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.samples) >= WindowSize {
		e.samples = e.samples[1:]
	}
	e.samples = append(e.samples, Sample{
		OffsetMS: float64(offset.Microseconds()) / 1000.0,
		RTTMS:    float64(rtt.Microseconds()) / 1000.0,
		At:       receiveTime,
	})
}

// IsCalibrated reports whether enough samples are held to trust the
// offset.
func (e *Estimator) IsCalibrated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.samples) >= MinSamples
}

// OffsetMS returns the mean offset in milliseconds.
func (e *Estimator) OffsetMS() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meanOffsetLocked()
}

// RTTMS returns the mean round-trip estimate in milliseconds.
func (e *Estimator) RTTMS() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range e.samples {
		sum += s.RTTMS
	}
	return sum / float64(len(e.samples))
}

// ServerNow returns the estimated current server time.
func (e *Estimator) ServerNow() time.Time {
	return e.ToServerTime(e.clock.Now())
}

// ToServerTime converts a local instant to server time.
func (e *Estimator) ToServerTime(local time.Time) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return local.Add(e.meanOffsetDurationLocked())
}

// ToClientTime converts a server instant to local time.
func (e *Estimator) ToClientTime(server time.Time) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return server.Add(-e.meanOffsetDurationLocked())
}

// Reset clears all samples, used when the display changes groups.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = e.samples[:0]
}

// SampleCount returns the number of held samples.
func (e *Estimator) SampleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.samples)
}

func (e *Estimator) meanOffsetLocked() float64 {
	if len(e.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range e.samples {
		sum += s.OffsetMS
	}
	return sum / float64(len(e.samples))
}

func (e *Estimator) meanOffsetDurationLocked() time.Duration {
	return time.Duration(e.meanOffsetLocked() * float64(time.Millisecond))
}
