package watcher

import (
	"sync"
	"time"
)

// debouncer coalesces rapid events for the same path so an editor's
// write-rename-chmod burst becomes a single re-index. Sequences merge
// by first and latest operation:
//
//	create then modify  -> create
//	create then delete  -> nothing
//	modify then delete  -> delete
//	delete then create  -> modify
type debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEvent
	timer   *time.Timer
	out     chan []FileEvent
	stopped bool
}

type pendingEvent struct {
	ev      FileEvent
	firstOp Operation
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		out:     make(chan []FileEvent, 16),
	}
}

func (d *debouncer) add(ev FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if prev, ok := d.pending[ev.Path]; ok {
		merged := coalesce(prev, ev)
		if merged == nil {
			delete(d.pending, ev.Path)
		} else {
			prev.ev = *merged
		}
	} else {
		d.pending[ev.Path] = &pendingEvent{ev: ev, firstOp: ev.Op}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce merges a new event into a pending one. nil means the pair
// cancelled out.
func coalesce(prev *pendingEvent, ev FileEvent) *FileEvent {
	switch prev.firstOp {
	case OpCreate:
		switch ev.Op {
		case OpModify:
			return &prev.ev
		case OpDelete:
			return nil
		}
	case OpDelete:
		if ev.Op == OpCreate {
			ev.Op = OpModify
			return &ev
		}
	}
	return &ev
}

func (d *debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}
	batch := make([]FileEvent, 0, len(d.pending))
	for _, pe := range d.pending {
		batch = append(batch, pe.ev)
	}
	d.pending = make(map[string]*pendingEvent)

	select {
	case d.out <- batch:
	default:
		// The apply loop is behind; drop the batch rather than block
		// the event source. The files re-enter on their next change.
	}
}

func (d *debouncer) output() <-chan []FileEvent {
	return d.out
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.out)
}
