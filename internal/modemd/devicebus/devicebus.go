// Package devicebus implements DeviceBus (spec.md §4.5): it consumes
// raw hotplug add/remove/change events for the tty and net subsystems,
// groups interfaces sharing a physical-device path, debounces adds so
// all sibling interfaces of a multi-interface USB device have a chance
// to appear before dispatch, and dispatches removes immediately.
//
// The one-goroutine-per-key, serialize-within-key / parallelize-across-
// keys shape is grounded on the teacher's former
// internal/concurrent/processor.go dispatch pattern (jobs channel → a
// goroutine per unit of work → results channel), here keyed by
// physical-device path instead of by file.
package devicebus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xx25/cellmodemd/internal/modemd/port"
)

// EventKind names the raw hotplug event type DeviceBus ingests.
type EventKind int

const (
	EventAdd EventKind = iota
	EventRemove
	EventChange
)

func (k EventKind) String() string {
	switch k {
	case EventAdd:
		return "add"
	case EventRemove:
		return "remove"
	case EventChange:
		return "change"
	default:
		return "unknown"
	}
}

// Event is one raw hotplug notification for a single kernel interface.
type Event struct {
	Kind EventKind
	Port *port.Port
}

// Handler receives settled, grouped batches of ports per physical
// device. HandleAdd fires once per settle window per physical device,
// with the full set of ports currently known for it (not just the
// ports that arrived in this batch, so a late-arriving sibling
// interface is included without losing earlier ones). HandleRemove
// fires immediately per removed port, with the remaining ports (if
// any) still known for that physical device.
//
// ctx carries a correlation ID (CorrelationID) unique to this
// dispatch, for tying together log lines emitted while a Handler
// processes one settled batch.
type Handler interface {
	HandleAdd(ctx context.Context, physicalDevicePath string, ports []*port.Port)
	HandleRemove(ctx context.Context, physicalDevicePath string, remainingPorts []*port.Port)
}

type correlationIDKey struct{}

// CorrelationID extracts the dispatch correlation ID from a context
// passed to a Handler method, for structured logging.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

func withCorrelationID(ctx context.Context) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, uuid.NewString())
}

// deviceWorker owns all state and the single goroutine serializing
// events for one physical device.
type deviceWorker struct {
	events chan Event
	done   chan struct{}
}

// Bus ingests Events and fans them out to per-physical-device workers.
// Events for the same physical device are processed in arrival order
// by one goroutine; distinct physical devices run concurrently.
type Bus struct {
	handler      Handler
	settleWindow time.Duration

	mu      sync.Mutex
	workers map[string]*deviceWorker
	closed  bool
}

// New creates a Bus dispatching settled batches to handler. settleWindow
// is the add-debounce delay (spec.md §4.5: "waits a small settle window
// ... before dispatching").
func New(handler Handler, settleWindow time.Duration) *Bus {
	return &Bus{
		handler:      handler,
		settleWindow: settleWindow,
		workers:      make(map[string]*deviceWorker),
	}
}

// Ingest enqueues a raw hotplug event. Each physical device has its own
// 32-event buffered queue; Ingest blocks only while that buffer is full.
func (b *Bus) Ingest(ev Event) {
	physicalDevicePath := ev.Port.PhysicalDevicePath

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	w, ok := b.workers[physicalDevicePath]
	if !ok {
		w = &deviceWorker{
			events: make(chan Event, 32),
			done:   make(chan struct{}),
		}
		b.workers[physicalDevicePath] = w
		go b.runWorker(physicalDevicePath, w)
	}
	b.mu.Unlock()

	select {
	case w.events <- ev:
	case <-w.done:
	}
}

// runWorker is the per-physical-device goroutine. It maintains the
// known port set for the device, debounces adds with a settle timer,
// and dispatches removes immediately, per spec.md §4.5.
func (b *Bus) runWorker(physicalDevicePath string, w *deviceWorker) {
	known := make(map[string]*port.Port)
	var settleTimer *time.Timer
	var settleFire <-chan time.Time

	idleTimeout := 5 * time.Minute
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case ev, ok := <-w.events:
			if !ok {
				return
			}
			idle.Reset(idleTimeout)

			switch ev.Kind {
			case EventAdd, EventChange:
				known[ev.Port.KernelName] = ev.Port
				if settleTimer != nil {
					settleTimer.Stop()
				}
				settleTimer = time.NewTimer(b.settleWindow)
				settleFire = settleTimer.C

			case EventRemove:
				delete(known, ev.Port.KernelName)
				if settleTimer != nil {
					settleTimer.Stop()
					settleTimer = nil
					settleFire = nil
				}
				b.handler.HandleRemove(withCorrelationID(context.Background()), physicalDevicePath, snapshot(known))
				if len(known) == 0 {
					b.retire(physicalDevicePath, w)
					return
				}
			}

		case <-settleFire:
			settleTimer = nil
			settleFire = nil
			b.handler.HandleAdd(withCorrelationID(context.Background()), physicalDevicePath, snapshot(known))

		case <-idle.C:
			if len(known) == 0 {
				b.retire(physicalDevicePath, w)
				return
			}
			idle.Reset(idleTimeout)
		}
	}
}

func (b *Bus) retire(physicalDevicePath string, w *deviceWorker) {
	b.mu.Lock()
	if b.workers[physicalDevicePath] == w {
		delete(b.workers, physicalDevicePath)
	}
	b.mu.Unlock()
	close(w.done)
}

func snapshot(known map[string]*port.Port) []*port.Port {
	out := make([]*port.Port, 0, len(known))
	for _, p := range known {
		out = append(out, p)
	}
	return out
}

// Close stops ingesting new events. Workers drain their queue of
// already-submitted events before exiting.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	workers := make([]*deviceWorker, 0, len(b.workers))
	for _, w := range b.workers {
		workers = append(workers, w)
	}
	b.mu.Unlock()

	for _, w := range workers {
		close(w.events)
	}
}
