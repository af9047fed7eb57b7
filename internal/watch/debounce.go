package watch

import (
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces rapid events per path within a window:
//
//	created + modified = created
//	created + deleted  = nothing
//	modified + deleted = deleted
//	deleted + created  = modified (replaced in place)
//
// At flush time a deleted path whose fingerprint matches a created
// path is reported as a single moved event.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEvent
	// prints remembers the last known fingerprint per path so deletes
	// can be matched against creates elsewhere in the tree.
	prints  map[string]fingerprint
	output  chan []Event
	timer   *time.Timer
	stopCh  chan struct{}
	stopped bool
}

type pendingEvent struct {
	event   Event
	firstOp Op
	print   fingerprint
	hasPrnt bool
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration, buffer int) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		prints:  make(map[string]fingerprint),
		output:  make(chan []Event, buffer),
		stopCh:  make(chan struct{}),
	}
}

// Add records an event. fp carries the current stat fingerprint for
// created/modified events; deletes resolve their fingerprint from the
// last observation of the path.
func (d *Debouncer) Add(event Event, fp *fingerprint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	pe, exists := d.pending[event.Path]
	if exists {
		coalesced := coalesce(pe, event)
		if coalesced == nil {
			delete(d.pending, event.Path)
			delete(d.prints, event.Path)
			d.scheduleFlush()
			return
		}
		pe.event = *coalesced
	} else {
		pe = &pendingEvent{event: event, firstOp: event.Op}
		d.pending[event.Path] = pe
	}

	switch event.Op {
	case OpCreated, OpModified:
		if fp != nil {
			pe.print = *fp
			pe.hasPrnt = true
			d.prints[event.Path] = *fp
		}
	case OpDeleted:
		if last, ok := d.prints[event.Path]; ok {
			pe.print = last
			pe.hasPrnt = true
		}
	}

	d.scheduleFlush()
}

func coalesce(existing *pendingEvent, next Event) *Event {
	switch existing.firstOp {
	case OpCreated:
		switch next.Op {
		case OpModified:
			return &existing.event
		case OpDeleted:
			return nil
		default:
			return &next
		}
	case OpModified:
		return &next
	case OpDeleted:
		if next.Op == OpCreated {
			replaced := next
			replaced.Op = OpModified
			return &replaced
		}
		return &next
	default:
		return &next
	}
}

func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}

	events := correlateMoves(d.pending)
	d.pending = make(map[string]*pendingEvent)
	for _, ev := range events {
		if ev.Op == OpDeleted || ev.Op == OpMoved {
			delete(d.prints, ev.OldPath)
			delete(d.prints, ev.Path)
		}
	}
	d.mu.Unlock()

	// Deliver outside the lock so a slow consumer cannot stall Add.
	// The send blocks rather than drops: every path's final state must
	// reach the indexer.
	select {
	case d.output <- events:
	case <-d.stopCh:
	}
}

// correlateMoves pairs deletes with creates carrying the same
// fingerprint and emits them as single moved events. Pairing is
// deterministic: candidates are visited in path order.
func correlateMoves(pending map[string]*pendingEvent) []Event {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	type deletion struct {
		path  string
		print fingerprint
	}
	var deletions []deletion
	for _, p := range paths {
		pe := pending[p]
		if pe.event.Op == OpDeleted && pe.hasPrnt && !pe.event.IsDir {
			deletions = append(deletions, deletion{path: p, print: pe.print})
		}
	}

	claimed := make(map[string]string) // created path -> deleted path
	for _, del := range deletions {
		for _, p := range paths {
			pe := pending[p]
			if pe.event.Op != OpCreated || pe.event.IsDir || !pe.hasPrnt {
				continue
			}
			if _, taken := claimed[p]; taken {
				continue
			}
			if pe.print == del.print {
				claimed[p] = del.path
				break
			}
		}
	}

	movedSources := make(map[string]struct{}, len(claimed))
	for _, src := range claimed {
		movedSources[src] = struct{}{}
	}

	events := make([]Event, 0, len(paths))
	for _, p := range paths {
		pe := pending[p]
		if _, wasMoved := movedSources[p]; wasMoved && pe.event.Op == OpDeleted {
			continue
		}
		if src, ok := claimed[p]; ok {
			moved := pe.event
			moved.Op = OpMoved
			moved.OldPath = src
			events = append(events, moved)
			continue
		}
		events = append(events, pe.event)
	}
	return events
}

// Output returns the channel of debounced event batches.
func (d *Debouncer) Output() <-chan []Event {
	return d.output
}

// Stop stops the debouncer. The output channel stays open but no
// further batches are delivered; consumers exit via their own context.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.stopCh)
}
