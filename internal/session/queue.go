package session

import (
	"sync"

	"github.com/Valter4578/MoonEnhancer/internal/debug"
)

// queue runs submitted closures one at a time, in submission order, on a
// single goroutine. It is unbounded so that work running on one queue can
// always submit to another without blocking.
type queue struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool
	done   chan struct{}
}

func newQueue(name string) *queue {
	q := &queue{name: name, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

func (q *queue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		fn()
	}
}

// async submits fn. It reports false if the queue is closed.
func (q *queue) async(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		debug.Trace("queue %s: dropped task after close", q.name)
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.cond.Signal()
	return true
}

// sync submits fn and waits for it to run. Calling it from the queue's own
// goroutine deadlocks.
func (q *queue) sync(fn func()) bool {
	ran := make(chan struct{})
	if !q.async(func() {
		defer close(ran)
		if fn != nil {
			fn()
		}
	}) {
		return false
	}
	<-ran
	return true
}

// close stops accepting work, runs what is already queued, and waits.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}
