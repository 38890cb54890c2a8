package watcher

import (
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a file appeared.
	OpCreate Operation = iota
	// OpModify indicates a file's contents changed.
	OpModify
	// OpDelete indicates a file was removed.
	OpDelete
	// OpRename indicates a file was moved away from its path.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// Changed reports whether the file still exists with new contents.
func (op Operation) Changed() bool {
	return op == OpCreate || op == OpModify
}

// FileEvent represents a change to one tracked file.
type FileEvent struct {
	// Path is the absolute path of the tracked file.
	Path string

	Operation Operation

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// Options configures the watcher behavior.
type Options struct {
	// Debounce is the quiet period before a batch is emitted.
	// Default: 2s
	Debounce time.Duration

	// PollInterval is the interval for polling mode.
	// Default: 5s
	PollInterval time.Duration

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		Debounce:     2 * time.Second,
		PollInterval: 5 * time.Second,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.Debounce <= 0 {
		o.Debounce = defaults.Debounce
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	return o
}
