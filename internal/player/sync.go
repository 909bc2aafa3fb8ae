package player

import (
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// State represents the engine's lifecycle, derived from wall-clock time.
type State int

const (
	// StateScheduled means the premiere's start time is still in the future.
	StateScheduled State = iota
	// StateLive means playback is running, locked to the premiere clock.
	StateLive
	// StateEnded is terminal: the premiere's runtime has fully elapsed.
	StateEnded
	// StateFailed is terminal: the media pipeline reported a fatal error.
	// Distinct from StateEnded so the UI can offer a manual reload.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateLive:
		return "live"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Options tunes the engine. The interval/threshold pair trades visible
// jank against synchronization tightness.
type Options struct {
	// ResyncInterval is how often the target position is recomputed and
	// compared against the pipeline.
	ResyncInterval time.Duration

	// DriftThreshold is the largest divergence between the local position
	// and the target that's left uncorrected.
	DriftThreshold time.Duration

	// Clock defaults to the real clock; tests inject a mock.
	Clock clock.Clock
}

// Engine locks a media pipeline's playback position to the canonical
// premiere timeline: target = now - startTime, clamped to the media's
// duration. Every viewer runs the same computation against wall time, so
// no position is ever pushed from the server.
type Engine struct {
	pipe  Pipeline
	src   string
	start time.Time
	opts  Options
	clk   clock.Clock
	log   *log.Logger

	mu      sync.Mutex
	state   State
	ticker  *clock.Ticker
	done    chan struct{}
	started bool

	onState func(State)
}

// NewEngine returns an engine for the given pipeline and premiere start
// time. src is the media source handed to the pipeline on load and on
// non-fatal recovery.
func NewEngine(pipe Pipeline, src string, start time.Time, opts Options, l *log.Logger) *Engine {
	if opts.ResyncInterval == 0 {
		opts.ResyncInterval = 10 * time.Second
	}
	if opts.DriftThreshold == 0 {
		opts.DriftThreshold = 5 * time.Second
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		pipe:  pipe,
		src:   src,
		start: start,
		opts:  opts,
		clk:   clk,
		log:   l,
		state: StateScheduled,
		done:  make(chan struct{}),
	}
}

// OnStateChange registers a callback surfacing state transitions to the
// UI layer. Must be set before Start.
func (e *Engine) OnStateChange(fn func(State)) {
	e.onState = fn
}

// State reports the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Target computes the canonical playback position at this instant,
// clamped to [0, duration].
func (e *Engine) Target() time.Duration {
	return e.target(e.clk.Now())
}

func (e *Engine) target(now time.Time) time.Duration {
	t := now.Sub(e.start)
	if t < 0 {
		return 0
	}
	if d := e.pipe.Duration(); t > d {
		return d
	}
	return t
}

// Start begins clock-locked playback. Call it once media metadata has
// loaded (the pipeline's duration must be known). The initial position is
// a hard seek to the elapsed time; afterwards the resync ticker corrects
// drift above the threshold until the premiere ends.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true

	if err := e.pipe.Load(e.src); err != nil {
		e.state = StateFailed
		e.mu.Unlock()
		e.notify(StateFailed)
		return err
	}

	now := e.clk.Now()
	if e.target(now) >= e.pipe.Duration() {
		e.state = StateEnded
		e.mu.Unlock()
		e.notify(StateEnded)
		return nil
	}

	if !now.Before(e.start) {
		e.beginPlayback(now)
	}

	e.ticker = e.clk.Ticker(e.opts.ResyncInterval)
	go e.runTicker(e.ticker)
	e.mu.Unlock()

	if e.State() == StateLive {
		e.notify(StateLive)
	}
	return nil
}

// beginPlayback hard-seeks the pipeline to the current target and starts
// it. Caller holds the lock.
func (e *Engine) beginPlayback(now time.Time) {
	e.pipe.Seek(e.target(now))
	if err := e.pipe.Play(); err != nil {
		e.log.Printf("error starting playback: %v", err)
	}
	e.state = StateLive
}

// runTicker drives periodic drift correction. This should be invoked as a
// goroutine.
func (e *Engine) runTicker(t *clock.Ticker) {
	for {
		select {
		case <-e.done:
			return
		case <-t.C:
			e.resync()
		}
	}
}

// resync re-evaluates the time-derived state and corrects drift above the
// threshold. The target is always recomputed fresh at the moment a
// correction is applied, never cached, so a correction racing a user seek
// still lands on the canonical position.
func (e *Engine) resync() {
	var fired State = -1

	e.mu.Lock()
	switch e.state {
	case StateEnded, StateFailed:
		e.mu.Unlock()
		return

	case StateScheduled:
		now := e.clk.Now()
		if now.Before(e.start) {
			e.mu.Unlock()
			return
		}
		e.beginPlayback(now)
		fired = StateLive

	case StateLive:
		now := e.clk.Now()
		target := e.target(now)

		// The premiere has run its course. Transition exactly once and
		// stop correcting.
		if now.Sub(e.start) >= e.pipe.Duration() {
			e.pipe.Pause()
			e.stopTicker()
			e.state = StateEnded
			fired = StateEnded
			break
		}

		// Pausing isn't fought here; the seek interceptor and the next
		// tick after resume pull the position back.
		if e.pipe.Paused() {
			break
		}

		if drift := absDuration(e.pipe.Position() - target); drift > e.opts.DriftThreshold {
			e.log.Printf("correcting drift of %v to target %v", drift, target)
			e.pipe.Seek(target)
		}
	}
	e.mu.Unlock()

	if fired >= 0 {
		e.notify(fired)
	}
}

// ObserveSeek intercepts an externally observed position change (a user
// dragging the scrubber). The premiere contract is that everyone watches
// the same instant, so a manual seek is treated as a drift event and
// reverted to a freshly computed target.
func (e *Engine) ObserveSeek() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateLive {
		return
	}

	target := e.target(e.clk.Now())
	if absDuration(e.pipe.Position()-target) > e.opts.DriftThreshold {
		e.pipe.Seek(target)
	}
}

// ReportError feeds a media pipeline error into the engine. Non-fatal
// errors trigger a pipeline reload locked back onto the premiere clock;
// the clock itself is never reset. Fatal errors are terminal.
func (e *Engine) ReportError(fatal bool) {
	if fatal {
		e.mu.Lock()
		if e.state == StateFailed || e.state == StateEnded {
			e.mu.Unlock()
			return
		}
		e.stopTicker()
		e.pipe.Pause()
		e.state = StateFailed
		e.mu.Unlock()
		e.notify(StateFailed)
		return
	}

	e.mu.Lock()
	if e.state != StateLive {
		e.mu.Unlock()
		return
	}
	if err := e.pipe.Load(e.src); err != nil {
		e.log.Printf("error reloading pipeline: %v", err)
		e.mu.Unlock()
		return
	}
	e.pipe.Seek(e.target(e.clk.Now()))
	if err := e.pipe.Play(); err != nil {
		e.log.Printf("error resuming playback: %v", err)
	}
	e.mu.Unlock()
}

// Stop tears the engine down: the resync ticker is cancelled first, then
// the pipeline is paused, so no stray tick can write to a released
// element. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopTicker()
	e.pipe.Pause()
	e.mu.Unlock()
}

// stopTicker cancels the resync loop. Caller holds the lock.
func (e *Engine) stopTicker() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

func (e *Engine) notify(s State) {
	if e.onState != nil {
		e.onState(s)
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
