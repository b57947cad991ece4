package crawl

import "sync"

// recordingPublisher is a minimal EventPublisher test double that records
// every event it receives, safe for concurrent use by the many goroutines
// StageActor/BatchActor spawn.
type recordingPublisher struct {
	mu     sync.Mutex
	events []AppEvent
}

func (p *recordingPublisher) Publish(e AppEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) snapshot() []AppEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]AppEvent, len(p.events))
	copy(out, p.events)
	return out
}

func (p *recordingPublisher) countOf(t EventType) int {
	n := 0
	for _, e := range p.snapshot() {
		if e.Type == t {
			n++
		}
	}
	return n
}
