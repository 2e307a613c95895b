// Package selection tracks the operator's single focused journey.
package selection

import (
	"errors"
	"sync"

	"fleettrack/internal/model"
)

var ErrUnknownJourney = errors.New("unknown journey")

// Selection is a read-only view of the focus pointer. Journey is nil when
// nothing is selected. Version moves only when the selection or the
// selected journey's data changes.
type Selection struct {
	JourneyID string                `json:"journeyId,omitempty"`
	Journey   *model.TrackedJourney `json:"journey,omitempty"`
	Version   uint64                `json:"version"`
}

// Controller keeps the focus pointer consistent with the published
// collection. It holds its own reference to the latest collection so that
// Select never has to reach back into the reconciler.
type Controller struct {
	mu       sync.Mutex
	journeys []model.TrackedJourney
	id       string
	current  *model.TrackedJourney
	version  uint64
	// touched is set once anything (auto-select, Select, Clear) decided
	// the selection; auto-select only happens before that.
	touched bool
	nextObs int
	obs     map[int]func(Selection)
}

func New() *Controller {
	return &Controller{obs: map[int]func(Selection){}}
}

// Sync applies a newly published collection. A selected journey that is no
// longer present is cleared; a present one is refreshed to the merged
// instance.
func (c *Controller) Sync(journeys []model.TrackedJourney) {
	c.mu.Lock()
	c.journeys = journeys
	changed := false
	switch {
	case c.id == "":
		if !c.touched && len(journeys) > 0 {
			c.set(journeys[0])
			c.touched = true
			changed = true
		}
	default:
		j, ok := find(journeys, c.id)
		if !ok {
			c.id, c.current = "", nil
			c.version++
			changed = true
		} else if !j.Equal(c.current) {
			c.set(j)
			changed = true
		}
	}
	c.unlockAndNotify(changed)
}

// Select focuses id. Selecting the current focus is a no-op.
func (c *Controller) Select(id string) error {
	c.mu.Lock()
	if id == c.id && id != "" {
		c.mu.Unlock()
		return nil
	}
	j, ok := find(c.journeys, id)
	if !ok {
		c.mu.Unlock()
		return ErrUnknownJourney
	}
	c.set(j)
	c.touched = true
	c.unlockAndNotify(true)
	return nil
}

// Clear removes the focus. Clearing an empty selection is a no-op.
func (c *Controller) Clear() {
	c.mu.Lock()
	c.touched = true
	if c.id == "" {
		c.mu.Unlock()
		return
	}
	c.id, c.current = "", nil
	c.version++
	c.unlockAndNotify(true)
}

// Current returns the selected journey's latest merged data.
func (c *Controller) Current() (model.TrackedJourney, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return model.TrackedJourney{}, false
	}
	return *c.current, true
}

func (c *Controller) Selected() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Observe registers fn to run after every selection change, outside the
// controller lock.
func (c *Controller) Observe(fn func(Selection)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextObs++
	id := c.nextObs
	c.obs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.obs, id)
		c.mu.Unlock()
	}
}

// set must be called with mu held.
func (c *Controller) set(j model.TrackedJourney) {
	c.id = j.ID
	c.current = &j
	c.version++
}

func (c *Controller) snapshot() Selection {
	s := Selection{JourneyID: c.id, Version: c.version}
	if c.current != nil {
		j := *c.current
		s.Journey = &j
	}
	return s
}

func (c *Controller) unlockAndNotify(changed bool) {
	if !changed {
		c.mu.Unlock()
		return
	}
	s := c.snapshot()
	fns := make([]func(Selection), 0, len(c.obs))
	for _, fn := range c.obs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func find(journeys []model.TrackedJourney, id string) (model.TrackedJourney, bool) {
	for _, j := range journeys {
		if j.ID == id {
			return j, true
		}
	}
	return model.TrackedJourney{}, false
}
