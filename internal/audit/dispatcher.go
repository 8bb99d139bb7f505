package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards routine events when their lane is full. Critical
	// events always wait for room.
	DropIfFull bool
	// Critical names the event types delivered ahead of routine traffic and
	// never dropped.
	Critical []string
	Logger   zerolog.Logger
}

// Dispatcher forwards events to a sink from one goroutine. Events travel in
// two lanes: critical events (reuse, anomalies, launch changes) and routine
// traffic such as admission denials, which may be shed under pressure.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	critical   map[string]struct{}
	logger     zerolog.Logger

	urgent  chan Event
	routine chan Event
	done    chan struct{}
	wg      sync.WaitGroup

	dropped       atomic.Uint64
	mu            sync.Mutex
	droppedByType map[string]uint64

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the relay goroutine. It returns nil when cfg is
// disabled; every method is safe on a nil *Dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	critical := make(map[string]struct{}, len(cfg.Critical))
	for _, t := range cfg.Critical {
		critical[t] = struct{}{}
	}

	d := &Dispatcher{
		sink:          sink,
		dropIfFull:    cfg.DropIfFull,
		critical:      critical,
		logger:        cfg.Logger,
		urgent:        make(chan Event, cfg.BufferSize),
		routine:       make(chan Event, cfg.BufferSize),
		done:          make(chan struct{}),
		droppedByType: make(map[string]uint64),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.urgent:
			d.deliver(event)
			continue
		default:
		}

		select {
		case event := <-d.urgent:
			d.deliver(event)
		case event := <-d.routine:
			d.deliver(event)
		case <-d.done:
			d.drain(d.urgent)
			d.drain(d.routine)
			return
		}
	}
}

func (d *Dispatcher) drain(ch chan Event) {
	for {
		select {
		case event := <-ch:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	d.sink.Emit(context.Background(), event)
}

// IsCritical reports whether eventType travels in the critical lane.
func (d *Dispatcher) IsCritical(eventType string) bool {
	if d == nil {
		return false
	}
	_, ok := d.critical[eventType]
	return ok
}

// Emit queues event. Critical events block until there is room, ctx is done
// or the dispatcher closes. Routine events do the same unless DropIfFull is
// set, in which case a full lane drops and counts them.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	lane := d.routine
	if d.IsCritical(event.EventType) {
		lane = d.urgent
	} else if d.dropIfFull {
		select {
		case lane <- event:
		case <-d.done:
		default:
			d.recordDrop(event.EventType)
		}
		return
	}

	select {
	case lane <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

func (d *Dispatcher) recordDrop(eventType string) {
	d.dropped.Add(1)
	d.mu.Lock()
	d.droppedByType[eventType]++
	d.mu.Unlock()
}

// Close stops accepting events, drains both lanes into the sink and logs a
// summary of anything dropped.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()

		if n := d.dropped.Load(); n > 0 {
			byType := make(map[string]any)
			for t, c := range d.DroppedByType() {
				byType[t] = c
			}
			d.logger.Warn().Uint64("dropped", n).Fields(byType).Msg("audit events dropped")
		}
	})
}

// Dropped returns how many events were discarded because the routine lane
// was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByType breaks [Dispatcher.Dropped] down by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]uint64, len(d.droppedByType))
	for t, n := range d.droppedByType {
		out[t] = n
	}
	return out
}
