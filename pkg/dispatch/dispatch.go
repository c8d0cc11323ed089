// Package dispatch defines the hand-off point between classified
// interactions and the analytics hit pipeline.
package dispatch

import (
	"log/slog"
	"sync"
)

// Record is any business object the hit pipeline accepts
type Record interface {
	// RecordType names the kind of business object (e.g. "gesture")
	RecordType() string
}

// Dispatcher accepts records for delivery. Dispatch is fire-and-forget.
type Dispatcher interface {
	Dispatch(records []Record)
}

// Func adapts a function literal to the Dispatcher interface.
type Func func(records []Record)

// Dispatch calls the underlying function.
func (f Func) Dispatch(records []Record) {
	f(records)
}

// Recorder keeps every dispatched record in memory
type Recorder struct {
	mu      sync.Mutex
	records []Record
	notify  chan struct{}
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// Dispatch appends records in arrival order
func (r *Recorder) Dispatch(records []Record) {
	r.mu.Lock()
	r.records = append(r.records, records...)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Records returns a copy of everything dispatched so far
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the number of dispatched records
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Notify receives a value after each Dispatch call. Signals coalesce.
func (r *Recorder) Notify() <-chan struct{} {
	return r.notify
}

// LogDispatcher writes each record to a structured logger
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a dispatcher that logs records at info level
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger.With("component", "dispatch")}
}

// Dispatch logs every record
func (d *LogDispatcher) Dispatch(records []Record) {
	for _, rec := range records {
		d.logger.Info("hit dispatched", "type", rec.RecordType(), "record", rec)
	}
}

// Multi fans records out to several dispatchers in order
type Multi []Dispatcher

// Dispatch forwards records to each dispatcher
func (m Multi) Dispatch(records []Record) {
	for _, d := range m {
		d.Dispatch(records)
	}
}
