package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samijaber1/aegis-budget/internal/metrics"
)

// ErrQueueFull is returned when the dispatcher cannot accept more events
var ErrQueueFull = errors.New("notification queue full")

// ErrClosed is returned after the dispatcher has been closed
var ErrClosed = errors.New("dispatcher closed")

// DispatcherConfig holds dispatcher configuration
type DispatcherConfig struct {
	Name       string
	QueueSize  int
	RetryCount int
	RetryDelay time.Duration
	Timeout    time.Duration
	// OnFailure, when set, receives every delivery error from the worker
	OnFailure func(*DeliveryError)
}

// DefaultDispatcherConfig returns default configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Name:       "default",
		QueueSize:  256,
		RetryCount: 3,
		RetryDelay: time.Second,
		Timeout:    10 * time.Second,
	}
}

// Dispatcher decouples evaluation from delivery. Notify only enqueues; a
// single worker delivers events in order and retries failures.
type Dispatcher struct {
	config DispatcherConfig
	target Notifier
	logger *slog.Logger

	queue chan Event
	done  chan struct{}

	// ctx is canceled when Close gives up waiting; it aborts retries and
	// in-flight deliveries
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher delivering to target and starts its worker
func NewDispatcher(target Notifier, config DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultDispatcherConfig().QueueSize
	}
	if config.RetryCount < 0 {
		config.RetryCount = 0
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultDispatcherConfig().Timeout
	}
	if config.Name == "" {
		config.Name = "default"
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		config: config,
		target: target,
		logger: logger,
		queue:  make(chan Event, config.QueueSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go d.run()
	return d
}

// Notify implements Notifier. It never blocks on delivery.
func (d *Dispatcher) Notify(ctx context.Context, event Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- event:
		return nil
	default:
		metrics.ObserveNotificationFailure(d.config.Name)
		return &DeliveryError{Notifier: d.config.Name, EventID: event.ID, Err: ErrQueueFull}
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
// When ctx ends first, pending retries and queued events are abandoned and no
// further delivery attempt is started.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		if d.ctx.Err() != nil {
			metrics.ObserveNotificationFailure(d.config.Name)
			d.logger.Warn("dropped notification on shutdown", "slo", event.SLOName, "state", event.State)
			continue
		}
		if err := d.deliver(event); err != nil {
			metrics.ObserveNotificationFailure(d.config.Name)
			d.logger.Error("notification delivery failed",
				"slo", event.SLOName,
				"severity", event.Severity,
				"state", event.State,
				"err", err,
			)
			if d.config.OnFailure != nil {
				d.config.OnFailure(err)
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) *DeliveryError {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= d.config.RetryCount; attempt++ {
		if attempt > 0 && !d.wait(d.config.RetryDelay) {
			break
		}
		attempts++

		ctx, cancel := context.WithTimeout(d.ctx, d.config.Timeout)
		err := d.target.Notify(ctx, event)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if d.ctx.Err() != nil {
		lastErr = errors.Join(ErrClosed, lastErr)
	}
	return &DeliveryError{
		Notifier: d.config.Name,
		EventID:  event.ID,
		Attempts: attempts,
		Err:      lastErr,
	}
}

// wait sleeps for delay and reports false when the dispatcher gives up first
func (d *Dispatcher) wait(delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-d.ctx.Done():
		return false
	}
}
