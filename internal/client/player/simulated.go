package player

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Simulated is a headless MediaPlayer that advances its position from
// the clock. It backs diagnostic displays and drift testing without a
// real playback engine.
type Simulated struct {
	clock clockwork.Clock

	mu       sync.Mutex
	url      string
	ready    bool
	playing  bool
	rate     float64
	position float64
	basedAt  time.Time
}

// NewSimulated returns a simulated player with no media loaded.
func NewSimulated(clock clockwork.Clock) *Simulated {
	return &Simulated{clock: clock, rate: 1.0}
}

func (s *Simulated) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// SetReady flips media readiness, freezing the position on transition.
func (s *Simulated) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncPositionLocked()
	s.ready = ready
}

func (s *Simulated) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncPositionLocked()
	s.playing = true
	return nil
}

func (s *Simulated) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncPositionLocked()
	s.playing = false
	return nil
}

func (s *Simulated) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Simulated) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

func (s *Simulated) SeekTo(seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = seconds
	s.basedAt = s.clock.Now()
	return nil
}

func (s *Simulated) SetRate(rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncPositionLocked()
	s.rate = rate
	return nil
}

func (s *Simulated) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *Simulated) Load(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	s.position = 0
	s.basedAt = s.clock.Now()
	s.playing = false
	s.ready = true
	return nil
}

// URL returns the currently loaded content URL.
func (s *Simulated) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// syncPositionLocked folds elapsed playback into the stored position
// before rate or play-state changes alter the advance speed.
func (s *Simulated) syncPositionLocked() {
	s.position = s.positionLocked()
	s.basedAt = s.clock.Now()
}

func (s *Simulated) positionLocked() float64 {
	if !s.playing {
		return s.position
	}
	return s.position + s.clock.Now().Sub(s.basedAt).Seconds()*s.rate
}
