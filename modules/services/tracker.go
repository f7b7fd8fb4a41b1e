// Package services tracks the subordinate processes of the session for the
// dashboard. It listens to the process state events every launcher emits.
package services

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/GoCodeAlone/dappkit/modules/events"
	"github.com/GoCodeAlone/dappkit/modules/procs"
	"github.com/go-chi/chi/v5"
)

// Tracker keeps the latest status of every process by name.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]procs.Status
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{statuses: make(map[string]procs.Status)}
}

// Subscribe feeds the tracker from bus. The returned subscription stops it.
func (t *Tracker) Subscribe(bus *events.Bus) events.Subscription {
	return bus.On(procs.StateEvent, func(args ...any) {
		if len(args) == 0 {
			return
		}
		switch s := args[0].(type) {
		case procs.Status:
			t.Update(s)
		case *procs.Status:
			if s != nil {
				t.Update(*s)
			}
		}
	})
}

// Update records s unless a newer status for the same process is known.
func (t *Tracker) Update(s procs.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.statuses[s.Name]; ok && s.Time.Before(prev.Time) {
		return
	}
	t.statuses[s.Name] = s
}

// List returns every known status sorted by name.
func (t *Tracker) List() []procs.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]procs.Status, 0, len(t.statuses))
	for _, s := range t.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Routes registers GET /services.
func (t *Tracker) Routes(r chi.Router) {
	r.Get("/services", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(t.List())
	})
}
