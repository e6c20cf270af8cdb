package audit

import (
	"context"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config sizes the queue between the engine and its sink.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards events while the queue is full instead of making
	// the request wait for the sink.
	DropIfFull bool
}

// secretKeys never reach a sink, whatever a caller puts in Metadata.
var secretKeys = []string{"code", "otp", "password", "secret", "token"}

// Dispatcher hands cauth events to a Sink on one background goroutine. A
// nil *Dispatcher accepts and discards everything.
type Dispatcher struct {
	sink       Sink
	events     chan Event
	dropIfFull bool
	now        func() time.Time

	done     chan struct{}
	worker   sync.WaitGroup
	shutdown sync.Once
	closed   atomic.Bool

	dropped  atomic.Uint64
	panicked atomic.Uint64
}

// NewDispatcher returns nil when cfg is disabled. A nil sink discards.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:       sink,
		events:     make(chan Event, max(cfg.BufferSize, 1)),
		dropIfFull: cfg.DropIfFull,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	d.worker.Go(d.run)
	return d
}

func (d *Dispatcher) run() {
	for {
		select {
		case ev := <-d.events:
			d.deliver(ev)
		case <-d.done:
			for {
				select {
				case ev := <-d.events:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// deliver isolates the worker from a panicking sink.
func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if recover() != nil {
			d.panicked.Add(1)
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

// Emit scrubs ev and queues it. Once closed, Emit is a no-op.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ev = d.prepare(ev)

	if d.dropIfFull {
		select {
		case d.events <- ev:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.events <- ev:
	case <-ctx.Done():
	case <-d.done:
	}
}

// prepare stamps the event and detaches its metadata from the caller,
// removing any key that names a credential.
func (d *Dispatcher) prepare(ev Event) Event {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.now()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	if len(ev.Metadata) == 0 {
		ev.Metadata = nil
		return ev
	}
	md := maps.Clone(ev.Metadata)
	maps.DeleteFunc(md, func(k, _ string) bool { return isSecretKey(k) })
	if len(md) == 0 {
		md = nil
	}
	ev.Metadata = md
	return ev
}

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	for _, s := range secretKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Close stops intake, delivers what is queued and waits for the worker.
// Calling it again is a no-op.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.shutdown.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.worker.Wait()
	})
}

// Dropped counts events discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// SinkPanics counts events whose delivery panicked inside the sink.
func (d *Dispatcher) SinkPanics() uint64 {
	if d == nil {
		return 0
	}
	return d.panicked.Load()
}
