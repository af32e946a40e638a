package camera

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Valter4578/MoonEnhancer/internal/debug"
)

// StaticAuthorizer reports a fixed decision, e.g. from configuration.
type StaticAuthorizer AuthorizationStatus

func (s StaticAuthorizer) Status() AuthorizationStatus { return AuthorizationStatus(s) }

func (s StaticAuthorizer) RequestAccess(ctx context.Context) (bool, error) {
	return AuthorizationStatus(s) == Authorized, nil
}

// PromptAuthorizer asks on a terminal the first time access is requested.
// The answer is kept for the lifetime of the process.
type PromptAuthorizer struct {
	in  io.Reader
	out io.Writer

	reqMu sync.Mutex // one prompt at a time

	mu     sync.Mutex
	status AuthorizationStatus

	startOnce sync.Once
	lines     chan string
}

// NewPromptAuthorizer prompts on out and reads answers from in.
func NewPromptAuthorizer(in io.Reader, out io.Writer) *PromptAuthorizer {
	return &PromptAuthorizer{in: in, out: out}
}

func (p *PromptAuthorizer) Status() AuthorizationStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// RequestAccess prompts unless a decision already exists. A cancelled ctx
// leaves the status undetermined so a later call prompts again.
func (p *PromptAuthorizer) RequestAccess(ctx context.Context) (bool, error) {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()

	if st := p.Status(); st != NotDetermined {
		return st == Authorized, nil
	}

	fmt.Fprint(p.out, "Allow MoonEnhancer to access the camera? [y/N] ")

	var granted bool
	select {
	case line, ok := <-p.answers():
		granted = ok && isYes(line)
	case <-ctx.Done():
		return false, ctx.Err()
	}

	p.mu.Lock()
	if granted {
		p.status = Authorized
	} else {
		p.status = Denied
	}
	p.mu.Unlock()

	debug.Info("Camera access %s", p.Status())
	return granted, nil
}

func (p *PromptAuthorizer) answers() <-chan string {
	p.startOnce.Do(func() {
		p.lines = make(chan string)
		go func() {
			defer close(p.lines)
			sc := bufio.NewScanner(p.in)
			for sc.Scan() {
				p.lines <- sc.Text()
			}
		}()
	})
	return p.lines
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}
