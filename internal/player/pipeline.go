// Package player implements the client side of a live premiere: a
// clock-locked playback synchronization engine that derives the target
// position from wall-clock elapsed time, and a visibility controller that
// keeps the media pipeline alive when the page is hidden.
package player

import "time"

// Pipeline is the opaque media playback capability the engine drives.
// Implementations wrap whatever actually decodes and renders the stream;
// the engine only ever reads and writes the playhead through it.
type Pipeline interface {
	// Load (re)loads the given source. Used on startup and for non-fatal
	// error recovery.
	Load(src string) error

	// Position reports the current playback position.
	Position() time.Duration

	// Seek unconditionally moves the playback position.
	Seek(pos time.Duration)

	Play() error
	Pause()
	Paused() bool

	// Duration reports the media's total length, known once metadata has
	// loaded.
	Duration() time.Duration
}

// Overlay is a floating playback surface (picture-in-picture or similar)
// the visibility controller can request. Both calls are best effort; the
// platform may refuse.
type Overlay interface {
	Enter() error
	Exit() error
}
