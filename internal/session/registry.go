package session

import (
	"fmt"
	"maps"
	"slices"
)

// registry maps an in-flight request's unique id to its processor.
// It is only touched from the session queue and has no lock of its own.
type registry struct {
	inFlight map[int64]*processor
	inserted int
	removed  int
}

func newRegistry() *registry {
	return &registry{inFlight: make(map[int64]*processor)}
}

func (r *registry) insert(id int64, p *processor) error {
	if _, ok := r.inFlight[id]; ok {
		return fmt.Errorf("request %d: %w", id, ErrDuplicateRequest)
	}
	r.inFlight[id] = p
	r.inserted++
	return nil
}

// remove reports whether id was in flight.
func (r *registry) remove(id int64) bool {
	if _, ok := r.inFlight[id]; !ok {
		return false
	}
	delete(r.inFlight, id)
	r.removed++
	return true
}

func (r *registry) len() int { return len(r.inFlight) }

func (r *registry) ids() []int64 {
	return slices.Sorted(maps.Keys(r.inFlight))
}
