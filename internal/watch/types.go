// Package watch implements the filesystem observer: recursive fsnotify
// watching with debounced, coalesced events and rename correlation.
package watch

import (
	"time"
)

// Op is the observable filesystem operation after coalescing.
type Op int

const (
	OpCreated Op = iota
	OpModified
	OpDeleted
	OpMoved
)

// String returns the wire name of the operation.
func (op Op) String() string {
	switch op {
	case OpCreated:
		return "created"
	case OpModified:
		return "modified"
	case OpDeleted:
		return "deleted"
	case OpMoved:
		return "moved"
	default:
		return "unknown"
	}
}

// Event is one coalesced filesystem change.
type Event struct {
	// Path is the logical path relative to the managed root.
	Path string
	// AbsPath is the absolute on-disk path.
	AbsPath string
	// OldPath is the prior logical path for moved events.
	OldPath string
	Op      Op
	IsDir   bool
	// Timestamp is when the change was last observed.
	Timestamp time.Time
}

// fingerprint identifies file content cheaply for move correlation.
type fingerprint struct {
	size  int64
	mtime int64
}

// Options configures the observer.
type Options struct {
	// Debounce is the coalescing window. Default: 500ms.
	Debounce time.Duration
	// BufferSize is the capacity of the output batch channel.
	// Default: 64.
	BufferSize int
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.Debounce == 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.BufferSize == 0 {
		o.BufferSize = 64
	}
	return o
}
