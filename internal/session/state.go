package session

import (
	"maps"
	"slices"
	"sync"

	"github.com/Valter4578/MoonEnhancer/internal/hw/camera"
)

// State is the set of flags the presentation layer observes.
type State struct {
	FlashMode             camera.FlashMode
	ShowAlert             bool
	ShowSpinner           bool
	WillCapturePhoto      bool // screen-flash cue
	CaptureButtonDisabled bool
	CameraUnavailable     bool
	Photo                 *Photo // latest photo, nil until one is captured
}

func initialState() State {
	return State{
		FlashMode:             camera.FlashOff,
		CaptureButtonDisabled: true,
		CameraUnavailable:     true,
	}
}

// Listener is called on the interaction queue after every change, in order.
type Listener func(State)

// publisher owns State. Every mutation runs on the interaction queue, so
// listeners see changes strictly in publication order. Snapshot may be
// called from any goroutine.
type publisher struct {
	q *queue

	mu        sync.RWMutex
	cur       State
	listeners map[int]Listener
	nextID    int
}

func newPublisher(q *queue) *publisher {
	return &publisher{
		q:         q,
		cur:       initialState(),
		listeners: make(map[int]Listener),
	}
}

// publish schedules mutate on the interaction queue. Listeners are only
// notified when mutate actually changed something.
func (p *publisher) publish(mutate func(s *State)) {
	p.q.async(func() {
		p.mu.Lock()
		next := p.cur
		mutate(&next)
		changed := next != p.cur
		p.cur = next
		ls := make([]Listener, 0, len(p.listeners))
		for _, id := range slices.Sorted(maps.Keys(p.listeners)) {
			ls = append(ls, p.listeners[id])
		}
		p.mu.Unlock()

		if !changed {
			return
		}
		for _, l := range ls {
			l(next)
		}
	})
}

func (p *publisher) snapshot() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cur
}

func (p *publisher) observe(l Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}
