package player

import (
	"log"
	"sync"
)

// VisibilityController keeps the sync engine's pipeline alive when the
// page is hidden, the window loses focus, or the player scrolls out of
// the viewport, by requesting a floating overlay (picture-in-picture).
// It's pure UI policy: if the platform denies the overlay the engine
// keeps running and simply resyncs harder on the next visibility.
type VisibilityController struct {
	engine  *Engine
	overlay Overlay
	log     *log.Logger

	mu       sync.Mutex
	visible  bool
	inView   bool
	floating bool
}

// NewVisibilityController returns a controller for the given engine and
// overlay capability. The page starts out visible and in view.
func NewVisibilityController(e *Engine, o Overlay, l *log.Logger) *VisibilityController {
	return &VisibilityController{
		engine:  e,
		overlay: o,
		log:     l,
		visible: true,
		inView:  true,
	}
}

// SetPageVisible records a page visibility/focus change.
func (c *VisibilityController) SetPageVisible(visible bool) {
	c.mu.Lock()
	c.visible = visible
	c.apply()
	c.mu.Unlock()
}

// SetInView records whether the player element is inside the viewport.
func (c *VisibilityController) SetInView(inView bool) {
	c.mu.Lock()
	c.inView = inView
	c.apply()
	c.mu.Unlock()
}

// Floating reports whether the overlay is currently active.
func (c *VisibilityController) Floating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.floating
}

// apply reconciles the overlay with the current visibility. Caller holds
// the lock.
func (c *VisibilityController) apply() {
	want := c.engine.State() == StateLive && (!c.visible || !c.inView)
	if want == c.floating {
		return
	}

	if want {
		if err := c.overlay.Enter(); err != nil {
			// Best effort; the platform said no.
			c.log.Printf("overlay request denied: %v", err)
			return
		}
		c.floating = true
		return
	}

	if err := c.overlay.Exit(); err != nil {
		c.log.Printf("error leaving overlay: %v", err)
	}
	c.floating = false
}
