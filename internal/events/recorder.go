// Package events is the append-only log of committed ledger transitions.
// Ledgers publish after they commit; sinks fan the log out to the process
// log, Postgres and a Redis stream for off-ledger indexers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aimerfeng/CourseChain/internal/logging"
	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/monitoring"
)

const (
	sinkTimeout = 2 * time.Second

	// DefaultQueueSize bounds the events waiting for sink delivery
	DefaultQueueSize = 4096
)

// Sink receives every published event in sequence order.
type Sink interface {
	Name() string
	Write(ctx context.Context, ev models.Event) error
}

// delivery is one queued event with the sinks attached when it was
// published. A delivery with flushed set carries no event.
type delivery struct {
	ev      models.Event
	sinks   []Sink
	flushed chan struct{}
}

// Recorder assigns sequence numbers and retains recent events in memory.
// Sinks are written by a single background worker in sequence order, so a
// slow sink never holds up a publishing ledger. A failing sink never
// affects the ledger.
type Recorder struct {
	mu     sync.Mutex
	seq    uint64
	log    []models.Event
	retain int
	sinks  []Sink
	closed bool
	logger zerolog.Logger

	// closeMu keeps Close from closing the queue under a blocked Flush
	closeMu sync.RWMutex

	queue chan delivery
	done  chan struct{}
}

// NewRecorder creates a recorder keeping the last retain events in
// memory. retain <= 0 keeps everything.
func NewRecorder(retain int, sinks ...Sink) *Recorder {
	return NewRecorderWithQueue(retain, DefaultQueueSize, sinks...)
}

// NewRecorderWithQueue is NewRecorder with an explicit sink queue bound.
// Events published while the queue is full are kept in the log but not
// forwarded.
func NewRecorderWithQueue(retain, queueSize int, sinks ...Sink) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Recorder{
		retain: retain,
		sinks:  sinks,
		logger: logging.NewLogger("events"),
		queue:  make(chan delivery, queueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// AddSink attaches another sink. Only events published afterwards reach it.
func (r *Recorder) AddSink(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// Publish appends evs to the log and queues them for the sinks. It never
// waits on a sink.
func (r *Recorder) Publish(_ context.Context, evs ...models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range evs {
		r.seq++
		ev.Seq = r.seq
		r.log = append(r.log, ev)
		monitoring.RecordEventPublished(ev.Source, string(ev.Type))
		r.enqueue(ev)
	}
	if r.retain > 0 && len(r.log) > r.retain {
		r.log = append([]models.Event(nil), r.log[len(r.log)-r.retain:]...)
	}
}

// enqueue hands ev to the worker. Caller holds r.mu.
func (r *Recorder) enqueue(ev models.Event) {
	if r.closed || len(r.sinks) == 0 {
		return
	}
	select {
	case r.queue <- delivery{ev: copyEvent(ev), sinks: r.sinks}:
	default:
		monitoring.RecordEventDropped()
		r.logger.Warn().
			Uint64("seq", ev.Seq).
			Str("type", string(ev.Type)).
			Msg("Event sink queue full, event not forwarded")
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for d := range r.queue {
		if d.flushed != nil {
			close(d.flushed)
			continue
		}
		r.forward(d.ev, d.sinks)
	}
}

func (r *Recorder) forward(ev models.Event, sinks []Sink) {
	for _, s := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := s.Write(ctx, ev)
		cancel()
		if err != nil {
			monitoring.RecordEventSinkError(s.Name())
			r.logger.Warn().
				Err(err).
				Str("sink", s.Name()).
				Uint64("seq", ev.Seq).
				Str("type", string(ev.Type)).
				Msg("Event sink write failed")
		}
	}
}

// Flush waits until every event queued before the call has been written
// to the sinks, or ctx ends.
func (r *Recorder) Flush(ctx context.Context) error {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil
	}

	flushed := make(chan struct{})
	select {
	case r.queue <- delivery{flushed: flushed}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops forwarding and waits for the queued deliveries to drain, or
// for ctx to end. Events published after Close are still recorded.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeMu.Lock()
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.closeMu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query filters the retained log. Zero fields match everything.
type Query struct {
	Type     models.EventType
	Source   string
	SinceSeq uint64
	Limit    int
}

func (q Query) match(ev models.Event) bool {
	if q.Type != "" && ev.Type != q.Type {
		return false
	}
	if q.Source != "" && ev.Source != q.Source {
		return false
	}
	return ev.Seq > q.SinceSeq
}

// Events returns the retained events matching q in sequence order.
func (r *Recorder) Events(q Query) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Event, 0)
	for _, ev := range r.log {
		if !q.match(ev) {
			continue
		}
		out = append(out, copyEvent(ev))
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

// Len returns the number of retained events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.log)
}

// LastSeq returns the sequence number of the newest event.
func (r *Recorder) LastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

func copyEvent(ev models.Event) models.Event {
	attrs := make(map[string]string, len(ev.Attrs))
	for k, v := range ev.Attrs {
		attrs[k] = v
	}
	ev.Attrs = attrs
	return ev
}
