package web

import (
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event kinds.
const (
	KindLog   = "log"
	KindState = "state"
)

// Event is one message pushed to stream clients.
type Event struct {
	Time  string     `json:"t"`
	Kind  string     `json:"kind"`
	Level string     `json:"l,omitempty"`
	Msg   string     `json:"msg,omitempty"`
	State *StateView `json:"state,omitempty"`
}

type subscriber struct {
	ch    chan []byte
	kinds []string // empty = all kinds
	once  sync.Once
}

func (s *subscriber) wants(kind string) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, kind)
}

// Broadcaster fans events out to stream clients. Each client has a 64-event
// buffer; a client that falls behind misses events rather than blocking.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*subscriber]struct{}
	dropped atomic.Int64
	now     func() time.Time
}

// NewBroadcaster creates a broadcaster with no clients.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[*subscriber]struct{}),
		now:     time.Now,
	}
}

// Subscribe returns a channel of JSON-encoded events of the given kinds (all
// kinds when none are given) and a cancel func that closes it. Cancel may be
// called more than once.
func (b *Broadcaster) Subscribe(kinds ...string) (<-chan []byte, func()) {
	s := &subscriber{ch: make(chan []byte, 64), kinds: kinds}
	b.mu.Lock()
	b.clients[s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.clients, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

// Publish stamps evt and sends it to every interested client.
func (b *Broadcaster) Publish(evt Event) {
	if evt.Time == "" {
		evt.Time = b.now().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.clients {
		if !s.wants(evt.Kind) {
			continue
		}
		select {
		case s.ch <- data:
		default:
			b.dropped.Add(1)
		}
	}
}

// Log publishes a log line.
func (b *Broadcaster) Log(level, msg string) {
	b.Publish(Event{Kind: KindLog, Level: level, Msg: msg})
}

// State publishes a state change.
func (b *Broadcaster) State(v StateView) {
	b.Publish(Event{Kind: KindState, State: &v})
}

// Clients returns the number of subscribers.
func (b *Broadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped returns how many events were skipped for slow clients.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// LogWriter returns an io.Writer that publishes every non-empty line written
// to it, for use with debug.SetOutput.
func LogWriter(b *Broadcaster) *logWriter {
	return &logWriter{b: b}
}

type logWriter struct {
	b *Broadcaster
}

func (w *logWriter) Write(p []byte) (int, error) {
	for line := range strings.SplitSeq(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		w.b.Log(lineLevel(line), line)
	}
	return len(p), nil
}

// lineLevel extracts the level tag of a debug line, e.g. "[ERROR] ..." -> "error".
func lineLevel(line string) string {
	line = strings.TrimPrefix(line, "[MoonEnhancer] ")
	if i := strings.Index(line, "["); i >= 0 {
		if j := strings.Index(line[i:], "]"); j > 1 {
			tag := strings.ToLower(line[i+1 : i+j])
			switch tag {
			case "info", "live", "verbose", "trace", "gpio", "error":
				return tag
			}
		}
	}
	return "info"
}
