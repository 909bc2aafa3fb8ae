package player

import (
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// fakePipe is an in-memory media pipeline. Time never moves it; tests set
// the position explicitly to model playback progress and drift.
type fakePipe struct {
	mu      sync.Mutex
	src     string
	pos     time.Duration
	dur     time.Duration
	paused  bool
	loads   int
	plays   int
	pauses  int
	seeks   int
	loadErr error
}

func newFakePipe(dur time.Duration) *fakePipe {
	return &fakePipe{dur: dur, paused: true}
}

func (p *fakePipe) Load(src string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return p.loadErr
	}
	p.src = src
	p.loads++
	return nil
}

func (p *fakePipe) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

func (p *fakePipe) Seek(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = pos
	p.seeks++
}

func (p *fakePipe) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	p.plays++
	return nil
}

func (p *fakePipe) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	p.pauses++
}

func (p *fakePipe) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *fakePipe) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dur
}

func (p *fakePipe) setPos(pos time.Duration) {
	p.mu.Lock()
	p.pos = pos
	p.mu.Unlock()
}

func (p *fakePipe) setPaused(v bool) {
	p.mu.Lock()
	p.paused = v
	p.mu.Unlock()
}

func (p *fakePipe) seekCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seeks
}

// stateRecorder collects engine state transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) count(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.states {
		if got == s {
			n++
		}
	}
	return n
}

func newTestEngine(elapsed, dur time.Duration) (*Engine, *fakePipe, *clock.Mock, *stateRecorder) {
	mock := clock.NewMock()
	pipe := newFakePipe(dur)
	start := mock.Now().Add(-elapsed)
	e := NewEngine(pipe, "movies/some-movie/index.m3u8", start, Options{
		ResyncInterval: 10 * time.Second,
		DriftThreshold: 5 * time.Second,
		Clock:          mock,
	}, log.New(io.Discard, "", 0))

	rec := &stateRecorder{}
	e.OnStateChange(rec.record)
	return e, pipe, mock, rec
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// settle gives the async tick consumer a moment to run before asserting
// that nothing happened.
func settle() { time.Sleep(100 * time.Millisecond) }

func TestInitialHardSeek(t *testing.T) {
	// A viewer joining 125s after start of a 5400s premiere lands on 125s
	// exactly.
	e, pipe, _, _ := newTestEngine(125*time.Second, 5400*time.Second)

	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if pos := pipe.Position(); pos != 125*time.Second {
		t.Fatalf("initial position %v, want 125s", pos)
	}
	if pipe.Paused() {
		t.Fatal("playback wasn't started")
	}
	if s := e.State(); s != StateLive {
		t.Fatalf("state %v, want live", s)
	}
}

func TestSmallDriftLeftUncorrected(t *testing.T) {
	e, pipe, mock, _ := newTestEngine(125*time.Second, 5400*time.Second)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	seeks := pipe.seekCount()

	// After the next tick the target is 135s; a position 4s behind is
	// within the threshold and must be left alone.
	pipe.setPos(131 * time.Second)
	mock.Add(10 * time.Second)
	settle()

	if got := pipe.seekCount(); got != seeks {
		t.Fatalf("drift below threshold was corrected (%d seeks, had %d)", got, seeks)
	}
	if pos := pipe.Position(); pos != 131*time.Second {
		t.Fatalf("position moved to %v", pos)
	}
}

func TestLargeDriftCorrected(t *testing.T) {
	e, pipe, mock, _ := newTestEngine(125*time.Second, 5400*time.Second)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// 35s behind the post-tick target of 135s.
	pipe.setPos(100 * time.Second)
	mock.Add(10 * time.Second)

	eventually(t, "drift correction", func() bool {
		return pipe.Position() == 135*time.Second
	})
}

func TestPausedPlaybackNotCorrected(t *testing.T) {
	e, pipe, mock, _ := newTestEngine(125*time.Second, 5400*time.Second)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	seeks := pipe.seekCount()

	pipe.setPaused(true)
	pipe.setPos(10 * time.Second)
	mock.Add(10 * time.Second)
	settle()

	if got := pipe.seekCount(); got != seeks {
		t.Fatal("paused pipeline was seeked")
	}
}

func TestUserSeekReverted(t *testing.T) {
	e, pipe, _, _ := newTestEngine(125*time.Second, 5400*time.Second)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The user drags the scrubber way ahead; the engine treats it as
	// drift and reverts to a freshly computed target.
	pipe.setPos(2000 * time.Second)
	e.ObserveSeek()

	if pos := pipe.Position(); pos != 125*time.Second {
		t.Fatalf("seek wasn't reverted: at %v, want 125s", pos)
	}
}

func TestScheduledWaitsForStart(t *testing.T) {
	e, pipe, mock, _ := newTestEngine(-30*time.Second, 5400*time.Second)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s := e.State(); s != StateScheduled {
		t.Fatalf("state %v, want scheduled", s)
	}
	if !pipe.Paused() {
		t.Fatal("playback started before the premiere")
	}

	// Ticks carry the engine across the start boundary without any
	// external event.
	mock.Add(40 * time.Second)
	eventually(t, "live transition", func() bool {
		return e.State() == StateLive && !pipe.Paused()
	})
}

func TestEndedExactlyOnce(t *testing.T) {
	e, pipe, mock, rec := newTestEngine(5395*time.Second, 5400*time.Second)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	pipe.setPos(5395 * time.Second)

	mock.Add(10 * time.Second)
	eventually(t, "ended transition", func() bool {
		return e.State() == StateEnded && pipe.Paused()
	})
	seeks := pipe.seekCount()

	// No further corrections once ended; the ticker is cancelled.
	mock.Add(60 * time.Second)
	settle()
	if got := pipe.seekCount(); got != seeks {
		t.Fatal("corrections issued after end")
	}
	if n := rec.count(StateEnded); n != 1 {
		t.Fatalf("ended fired %d times, want 1", n)
	}
}

func TestStartAfterEnd(t *testing.T) {
	e, pipe, _, rec := newTestEngine(6000*time.Second, 5400*time.Second)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s := e.State(); s != StateEnded {
		t.Fatalf("state %v, want ended", s)
	}
	if !pipe.Paused() {
		t.Fatal("playback started for an ended premiere")
	}
	if n := rec.count(StateEnded); n != 1 {
		t.Fatalf("ended fired %d times, want 1", n)
	}
}

func TestNonFatalErrorReloadsWithoutClockReset(t *testing.T) {
	e, pipe, _, _ := newTestEngine(125*time.Second, 5400*time.Second)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	pipe.setPos(60 * time.Second)
	e.ReportError(false)

	if pipe.loads != 2 {
		t.Fatalf("pipeline loaded %d times, want 2", pipe.loads)
	}
	// Recovery locks back onto the wall-clock target, not the stale
	// position.
	if pos := pipe.Position(); pos != 125*time.Second {
		t.Fatalf("recovered at %v, want 125s", pos)
	}
	if s := e.State(); s != StateLive {
		t.Fatalf("state %v, want live", s)
	}
}

func TestFatalErrorIsTerminal(t *testing.T) {
	e, pipe, mock, rec := newTestEngine(125*time.Second, 5400*time.Second)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	e.ReportError(true)
	if s := e.State(); s != StateFailed {
		t.Fatalf("state %v, want failed", s)
	}
	if n := rec.count(StateFailed); n != 1 {
		t.Fatalf("failed fired %d times, want 1", n)
	}

	seeks := pipe.seekCount()
	mock.Add(60 * time.Second)
	settle()
	if got := pipe.seekCount(); got != seeks {
		t.Fatal("corrections issued after fatal error")
	}

	// A second report stays a no-op.
	e.ReportError(true)
	if n := rec.count(StateFailed); n != 1 {
		t.Fatalf("failed fired %d times after repeat, want 1", n)
	}
}

func TestFailedLoadOnStart(t *testing.T) {
	e, pipe, _, rec := newTestEngine(125*time.Second, 5400*time.Second)
	pipe.loadErr = errors.New("source gone")

	if err := e.Start(); err == nil {
		t.Fatal("Start succeeded with a broken pipeline")
	}
	if s := e.State(); s != StateFailed {
		t.Fatalf("state %v, want failed", s)
	}
	if n := rec.count(StateFailed); n != 1 {
		t.Fatalf("failed fired %d times, want 1", n)
	}
}

func TestStopCancelsTicker(t *testing.T) {
	e, pipe, mock, _ := newTestEngine(125*time.Second, 5400*time.Second)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	e.Stop()
	if !pipe.Paused() {
		t.Fatal("pipeline not paused on stop")
	}

	seeks := pipe.seekCount()
	pipe.setPos(0)
	mock.Add(60 * time.Second)
	settle()
	if got := pipe.seekCount(); got != seeks {
		t.Fatal("ticker still firing after stop")
	}

	// Stop is idempotent.
	e.Stop()
}
