// Package dispatcher implements the cooperative single-worker event queue
// that sits between a listener and its handlers, following the channel-
// driven broadcast style of events.EventBus but trading its always-on Run
// loop for a cooperative one: whichever goroutine calls DispatchEvent while
// no drain is in progress becomes the drain loop until the queue empties.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chainsift/indexer/pkg/model"
)

// DefaultMaxQueueSize and DefaultEnqueueTimeout are the backpressure policy
// defaults: once the queue is full, DispatchEvent blocks for up to
// EnqueueTimeout waiting for room before evicting the oldest queued event.
const (
	DefaultMaxQueueSize    = 100_000
	DefaultEnqueueTimeout  = 5 * time.Second
)

// Handler processes dispatched events. CanHandle is checked against every
// queued event before Handle is called; a handler that returns false from
// CanHandle is skipped without invoking Handle.
type Handler interface {
	Name() string
	CanHandle(ev *model.BlockchainEvent) bool
	Handle(ctx context.Context, ev *model.BlockchainEvent) error
}

// Config configures a Dispatcher's backpressure policy.
type Config struct {
	MaxQueueSize   int
	EnqueueTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = DefaultEnqueueTimeout
	}
	return c
}

// Dispatcher is the single-consumer FIFO queue shared by every listener on
// every chain. There is one Dispatcher per process.
type Dispatcher struct {
	queue          chan *model.BlockchainEvent
	enqueueTimeout time.Duration

	handlersMu sync.RWMutex
	handlers   []Handler

	draining atomic.Bool

	logger  *zap.Logger
	metrics *Metrics
}

// New creates a Dispatcher with the given backpressure policy. metrics may
// be nil to run unmetered.
func New(cfg Config, logger *zap.Logger, metrics *Metrics) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		queue:          make(chan *model.BlockchainEvent, cfg.MaxQueueSize),
		enqueueTimeout: cfg.EnqueueTimeout,
		logger:         logger,
		metrics:        metrics,
	}
}

// RegisterHandler appends h to the handler list. For every future event the
// matching handlers are started in registration order but run concurrently,
// so the order in which they execute or finish is not defined.
func (d *Dispatcher) RegisterHandler(h Handler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.handlers = append(d.handlers, h)
}

// HandlerCount returns the number of registered handlers.
func (d *Dispatcher) HandlerCount() int {
	d.handlersMu.RLock()
	defer d.handlersMu.RUnlock()
	return len(d.handlers)
}

// QueueSize returns the number of events currently waiting to be dispatched.
func (d *Dispatcher) QueueSize() int {
	return len(d.queue)
}

// ClearQueue drops every currently queued event without dispatching it.
func (d *Dispatcher) ClearQueue() {
	for {
		select {
		case <-d.queue:
		default:
			return
		}
	}
}

// DispatchEvent enqueues ev, blocking up to the configured EnqueueTimeout if
// the queue is full. If it is still full after the timeout, the oldest
// queued event is evicted to make room and a warning is logged. If a
// concurrent enqueuer takes the freed slot first, ev is dropped as well
// (counted in EventsDropped, not logged) and nil is still returned. If no
// drain loop is currently active, the calling goroutine becomes the drain
// loop until the queue is empty.
func (d *Dispatcher) DispatchEvent(ctx context.Context, ev *model.BlockchainEvent) error {
	if err := d.enqueue(ctx, ev); err != nil {
		return err
	}
	if d.draining.CompareAndSwap(false, true) {
		defer d.draining.Store(false)
		d.drain(ctx)
	}
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, ev *model.BlockchainEvent) error {
	select {
	case d.queue <- ev:
		d.recordEnqueued()
		return nil
	default:
	}

	timer := time.NewTimer(d.enqueueTimeout)
	defer timer.Stop()
	select {
	case d.queue <- ev:
		d.recordEnqueued()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		select {
		case evicted := <-d.queue:
			if d.logger != nil {
				d.logger.Warn("dispatcher queue full, evicting oldest event",
					zap.String("evicted_key", evicted.Key()),
					zap.String("new_key", ev.Key()))
			}
			if d.metrics != nil {
				d.metrics.EventsDropped.Inc()
			}
		default:
		}
		select {
		case d.queue <- ev:
			d.recordEnqueued()
		default:
			// A concurrent enqueuer refilled the slot we just freed; drop ev
			// too rather than block indefinitely past the configured timeout.
			if d.metrics != nil {
				d.metrics.EventsDropped.Inc()
			}
		}
		return nil
	}
}

func (d *Dispatcher) recordEnqueued() {
	if d.metrics != nil {
		d.metrics.EventsEnqueued.Inc()
		d.metrics.QueueSize.Set(float64(len(d.queue)))
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case ev := <-d.queue:
			d.dispatchOne(ctx, ev)
			if d.metrics != nil {
				d.metrics.QueueSize.Set(float64(len(d.queue)))
			}
		default:
			return
		}
	}
}

// dispatchOne invokes every handler whose CanHandle matches ev. Handlers run
// concurrently with each other but are all joined before the next event is
// popped, matching the "no two handler fan-outs in flight" rule.
func (d *Dispatcher) dispatchOne(ctx context.Context, ev *model.BlockchainEvent) {
	d.handlersMu.RLock()
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.handlersMu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range handlers {
		if !h.CanHandle(ev) {
			continue
		}
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logHandlerError(h, ev, r)
				}
			}()
			if err := h.Handle(ctx, ev); err != nil {
				d.logHandlerError(h, ev, err)
			}
		}(h)
	}
	wg.Wait()

	if d.metrics != nil {
		d.metrics.EventsDispatched.Inc()
	}
}

func (d *Dispatcher) logHandlerError(h Handler, ev *model.BlockchainEvent, cause interface{}) {
	if d.logger != nil {
		d.logger.Error("handler error",
			zap.String("handler", h.Name()),
			zap.String("event_key", ev.Key()),
			zap.Any("cause", cause))
	}
	if d.metrics != nil {
		d.metrics.HandlerErrors.WithLabelValues(h.Name()).Inc()
	}
}
