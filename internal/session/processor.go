package session

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/Valter4578/MoonEnhancer/internal/debug"
	"github.com/Valter4578/MoonEnhancer/internal/hw/camera"
)

// processor is the delegate for exactly one capture request. It turns the
// backend's callbacks into three moments: the shutter cue, the processing
// spinner and the completion handoff.
type processor struct {
	requested camera.Settings

	willCapture func()
	processing  func(active bool)
	completion  func(p *processor)

	mu            sync.Mutex
	processingSet bool
	data          []byte

	done sync.Once
}

func newProcessor(s camera.Settings, willCapture func(), processing func(bool), completion func(*processor)) *processor {
	return &processor{
		requested:   s,
		willCapture: willCapture,
		processing:  processing,
		completion:  completion,
	}
}

func (p *processor) id() int64 { return p.requested.UniqueID }

// photoData returns the captured bytes, or nil when the capture failed.
func (p *processor) photoData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}

func (p *processor) WillBeginCapture(r camera.ResolvedSettings) {
	debug.Live("Capture %d: begin (max processing %v)", p.id(), r.MaxProcessingTime)
	if r.MaxProcessingTime > 0 {
		p.mu.Lock()
		p.processingSet = true
		p.mu.Unlock()
		p.processing(true)
	}
}

func (p *processor) WillCapturePhoto(r camera.ResolvedSettings) {
	debug.Live("Capture %d: shutter", p.id())
	p.willCapture()
}

func (p *processor) DidFinishProcessing(data []byte, err error) {
	p.mu.Lock()
	wasProcessing := p.processingSet
	p.processingSet = false
	if err == nil && len(data) > 0 {
		p.data = bytes.Clone(data)
	}
	p.mu.Unlock()

	if wasProcessing {
		p.processing(false)
	}
	if err != nil {
		debug.Error(fmt.Errorf("capture %d: error capturing photo: %w", p.id(), err))
	}
}

func (p *processor) DidFinishCapture(r camera.ResolvedSettings, err error) {
	if err != nil {
		debug.Error(fmt.Errorf("capture %d: error finishing capture: %w", p.id(), err))
	}
	p.done.Do(func() {
		p.completion(p)
	})
}
