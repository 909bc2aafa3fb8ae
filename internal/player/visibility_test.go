package player

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"
)

type fakeOverlay struct {
	enters   int
	exits    int
	enterErr error
}

func (o *fakeOverlay) Enter() error {
	if o.enterErr != nil {
		return o.enterErr
	}
	o.enters++
	return nil
}

func (o *fakeOverlay) Exit() error {
	o.exits++
	return nil
}

func newLiveController(t *testing.T) (*VisibilityController, *fakeOverlay) {
	t.Helper()
	e, _, _, _ := newTestEngine(125*time.Second, 5400*time.Second)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	o := &fakeOverlay{}
	return NewVisibilityController(e, o, log.New(io.Discard, "", 0)), o
}

func TestOverlayOnHiddenPage(t *testing.T) {
	c, o := newLiveController(t)

	c.SetPageVisible(false)
	if !c.Floating() || o.enters != 1 {
		t.Fatalf("overlay not requested (floating=%v enters=%d)", c.Floating(), o.enters)
	}

	c.SetPageVisible(true)
	if c.Floating() || o.exits != 1 {
		t.Fatalf("overlay not released (floating=%v exits=%d)", c.Floating(), o.exits)
	}
}

func TestOverlayWhenScrolledOut(t *testing.T) {
	c, o := newLiveController(t)

	c.SetInView(false)
	if !c.Floating() {
		t.Fatal("overlay not requested when player left the viewport")
	}

	// Page going hidden too changes nothing; still floating.
	c.SetPageVisible(false)
	if o.enters != 1 {
		t.Fatalf("overlay requested twice (%d)", o.enters)
	}

	// Both conditions must clear before the overlay is released.
	c.SetPageVisible(true)
	if !c.Floating() {
		t.Fatal("overlay released while player still out of view")
	}
	c.SetInView(true)
	if c.Floating() {
		t.Fatal("overlay not released")
	}
}

func TestOverlayDenialIsBestEffort(t *testing.T) {
	c, o := newLiveController(t)
	o.enterErr = errors.New("permission denied")

	// The engine keeps running; the controller just doesn't float.
	c.SetPageVisible(false)
	if c.Floating() {
		t.Fatal("controller claims floating after a denial")
	}

	// Once the platform allows it, the next visibility change retries.
	o.enterErr = nil
	c.SetInView(false)
	if !c.Floating() {
		t.Fatal("overlay not requested after denial cleared")
	}
}

func TestNoOverlayBeforeLive(t *testing.T) {
	e, _, _, _ := newTestEngine(-60*time.Second, 5400*time.Second)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	o := &fakeOverlay{}
	c := NewVisibilityController(e, o, log.New(io.Discard, "", 0))

	c.SetPageVisible(false)
	if c.Floating() || o.enters != 0 {
		t.Fatal("overlay requested for a premiere that hasn't started")
	}
}
