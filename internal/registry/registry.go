package registry

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
)

// EventType is the kind of catalog change.
type EventType int

const (
	EventTypeAdded EventType = iota
	EventTypeUpdated
	EventTypeRemoved
)

func (t EventType) String() string {
	switch t {
	case EventTypeAdded:
		return "added"
	case EventTypeUpdated:
		return "updated"
	case EventTypeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event reports one change to the catalog.
type Event struct {
	Type      EventType
	Effect    Effect
	Timestamp time.Time
}

// Registry holds the effect catalog in catalog order.
type Registry struct {
	mutex    sync.RWMutex
	effects  map[string]Effect
	order    []string
	watchers []chan Event
}

func New() *Registry {
	return &Registry{
		effects:  make(map[string]Effect),
		watchers: make([]chan Event, 0),
	}
}

// Register adds an effect at the end of the catalog, or replaces the entry
// with the same id in place.
func (r *Registry) Register(e Effect) error {
	if err := e.Validate(); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	eventType := EventTypeAdded
	if _, exists := r.effects[e.ID]; exists {
		eventType = EventTypeUpdated
	} else {
		r.order = append(r.order, e.ID)
	}
	r.effects[e.ID] = e

	r.notifyLocked(Event{Type: eventType, Effect: e, Timestamp: time.Now()})
	return nil
}

// Get retrieves an effect by id.
func (r *Registry) Get(id string) (Effect, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	e, exists := r.effects[id]
	return e, exists
}

// List returns every effect in catalog order.
func (r *Registry) List() []Effect {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]Effect, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.effects[id])
	}
	return out
}

// Search returns the effects whose title, description or keywords contain
// query, compared case-folded. An empty query matches everything.
func (r *Registry) Search(query string) []Effect {
	fold := cases.Fold()
	q := strings.TrimSpace(fold.String(query))
	if q == "" {
		return r.List()
	}

	var out []Effect
	for _, e := range r.List() {
		if matches(fold, e, q) {
			out = append(out, e)
		}
	}
	return out
}

func matches(fold cases.Caser, e Effect, q string) bool {
	if strings.Contains(fold.String(e.Title), q) || strings.Contains(fold.String(e.Description), q) {
		return true
	}
	for _, kw := range e.Keywords {
		if strings.Contains(fold.String(kw), q) {
			return true
		}
	}
	return false
}

// Remove deletes an effect.
func (r *Registry) Remove(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	e, exists := r.effects[id]
	if !exists {
		return
	}
	delete(r.effects, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.notifyLocked(Event{Type: EventTypeRemoved, Effect: e, Timestamp: time.Now()})
}

// Replace swaps the whole catalog for effects, keeping their order, and emits
// one event per id that was added, changed or dropped.
func (r *Registry) Replace(effects []Effect) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now()
	next := make(map[string]Effect, len(effects))
	order := make([]string, 0, len(effects))
	var events []Event

	for _, e := range effects {
		if _, dup := next[e.ID]; dup {
			continue
		}
		next[e.ID] = e
		order = append(order, e.ID)

		prev, existed := r.effects[e.ID]
		switch {
		case !existed:
			events = append(events, Event{Type: EventTypeAdded, Effect: e, Timestamp: now})
		case !reflect.DeepEqual(prev, e):
			events = append(events, Event{Type: EventTypeUpdated, Effect: e, Timestamp: now})
		}
	}
	for _, id := range r.order {
		if _, kept := next[id]; !kept {
			events = append(events, Event{Type: EventTypeRemoved, Effect: r.effects[id], Timestamp: now})
		}
	}

	r.effects = next
	r.order = order
	for _, ev := range events {
		r.notifyLocked(ev)
	}
}

// Watch returns a channel that receives catalog events.
func (r *Registry) Watch() <-chan Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ch := make(chan Event, 100)
	r.watchers = append(r.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it.
func (r *Registry) UnWatch(ch <-chan Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, watcher := range r.watchers {
		if watcher == ch {
			close(watcher)
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
			break
		}
	}
}

// Count returns the number of effects.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.effects)
}

func (r *Registry) notifyLocked(event Event) {
	for _, watcher := range r.watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}
