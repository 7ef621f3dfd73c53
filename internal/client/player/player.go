// Package player abstracts the underlying media element the display
// agent drives. Concrete implementations wrap whatever playback engine
// the device runs (mpv, a browser shell, a native pipeline).
package player

// MediaPlayer is the control surface the drift controller needs. All
// calls must be non-blocking or near-instant; long operations belong
// inside the implementation.
type MediaPlayer interface {
	// Ready reports whether media is loaded and controllable. While
	// false, the controller buffers intended state instead of applying it.
	Ready() bool

	Play() error
	Pause() error
	Playing() bool

	// CurrentTime returns the local media position in seconds.
	CurrentTime() float64
	// SeekTo jumps to the given position in seconds.
	SeekTo(seconds float64) error

	// SetRate adjusts playback speed (1.0 is normal).
	SetRate(rate float64) error
	Rate() float64

	// Load points the player at new content by URL.
	Load(url string) error
}
