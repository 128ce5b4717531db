package hwc

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/go-hwc/internal/queue"
	"github.com/arloliu/go-hwc/logger"
)

// Poller default and boundary values.
const (
	// DefaultPollInterval is the default delay between deferred poll cycles.
	DefaultPollInterval = 1 * time.Second
	// MinPollInterval is the minimum accepted poll interval.
	MinPollInterval = 1 * time.Millisecond
	// DefaultSinkTimeout is the default per-publish timeout for sinks.
	DefaultSinkTimeout = 5 * time.Second
)

// PollerOption represents a functional option for configuring a Poller.
type PollerOption interface {
	apply(p *Poller) error
}

type pollerOptFunc func(p *Poller) error

func (f pollerOptFunc) apply(p *Poller) error { return f(p) }

// WithInterval sets the delay between poll cycles. Defaults to 1 second.
func WithInterval(interval time.Duration) PollerOption {
	return pollerOptFunc(func(p *Poller) error {
		if interval < MinPollInterval {
			return fmt.Errorf("hwc: poll interval %v is shorter than %v", interval, MinPollInterval)
		}
		p.interval = interval

		return nil
	})
}

// WithName names the poller for logs and task names. Defaults to "poller".
func WithName(name string) PollerOption {
	return pollerOptFunc(func(p *Poller) error {
		if name == "" {
			return fmt.Errorf("hwc: poller name is empty")
		}
		p.name = name

		return nil
	})
}

// WithLogger sets the logger the poller reports through.
func WithLogger(l logger.Logger) PollerOption {
	return pollerOptFunc(func(p *Poller) error {
		if l == nil {
			return fmt.Errorf("hwc: logger must not be nil")
		}
		p.logger = l

		return nil
	})
}

// WithSampleHandler registers handlers invoked for every emitted sample.
func WithSampleHandler(handlers ...SampleHandler) PollerOption {
	return pollerOptFunc(func(p *Poller) error {
		p.handlers = append(p.handlers, handlers...)

		return nil
	})
}

// WithSink registers sinks that receive every emitted sample.
func WithSink(sinks ...Sink) PollerOption {
	return pollerOptFunc(func(p *Poller) error {
		for _, sink := range sinks {
			if sink == nil {
				return fmt.Errorf("hwc: sink must not be nil")
			}
			p.sinks = append(p.sinks, sink)
		}

		return nil
	})
}

// WithSinkTimeout bounds each Sink.Publish call. Defaults to 5 seconds.
func WithSinkTimeout(timeout time.Duration) PollerOption {
	return pollerOptFunc(func(p *Poller) error {
		if timeout <= 0 {
			return fmt.Errorf("hwc: sink timeout must be positive")
		}
		p.sinkTimeout = timeout

		return nil
	})
}

// Poller runs deferred write-then-read cycles for one signal group and fans
// out value-change samples to handlers and sinks.
//
// Each cycle flushes pending intent with WriteStates (when any member is
// pending), then commits device truth with ReadStates. Committed values that
// differ from the previous cycle are queued as samples; a dispatcher goroutine
// drains the queue and delivers each sample to every handler and sink. Cycle
// and sink errors are logged and counted, never fatal.
type Poller struct {
	ctx         context.Context
	cancel      context.CancelFunc
	group       *SignalGroup
	name        string
	interval    time.Duration
	sinkTimeout time.Duration
	logger      logger.Logger
	taskMgr     *TaskManager
	handlers    []SampleHandler
	sinks       []Sink

	opState AtomicOpState
	samples queue.Queue[Sample]
	notify  chan struct{}
	prev    map[string]float64 // last observed committed value, cycle task only
	metrics PollerMetrics
}

// NewPoller creates a poller for the given signal group.
//
// The ctx bounds the poller's lifetime: canceling it stops all poller
// goroutines, as does Stop.
func NewPoller(ctx context.Context, group *SignalGroup, opts ...PollerOption) (*Poller, error) {
	if group == nil {
		return nil, ErrNilGroup
	}

	p := &Poller{
		group:       group,
		name:        "poller",
		interval:    DefaultPollInterval,
		sinkTimeout: DefaultSinkTimeout,
		samples:     queue.NewLockFree[Sample](),
		notify:      make(chan struct{}, 1),
		prev:        make(map[string]float64, group.Len()),
	}

	for _, opt := range opts {
		if err := opt.apply(p); err != nil {
			return nil, err
		}
	}

	if p.logger == nil {
		p.logger = logger.GetLogger()
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.taskMgr = NewTaskManager(p.ctx, p.logger)

	return p, nil
}

// Start launches the dispatcher goroutine and the interval cycle task.
//
// It returns ErrPollerStarted when the poller is already running, and
// ErrPollerStopped after Stop or parent context cancellation.
func (p *Poller) Start() error {
	if p.ctx.Err() != nil {
		return ErrPollerStopped
	}

	if !p.opState.ToOpening() {
		return ErrPollerStarted
	}

	if err := p.taskMgr.Start(p.name+"-dispatcher", p.dispatchSamples); err != nil {
		p.opState.Set(ClosedState)
		return err
	}

	if err := p.taskMgr.StartInterval(p.name+"-cycle", p.cycle, p.interval, false); err != nil {
		p.taskMgr.Stop()
		p.taskMgr.Wait()
		p.opState.Set(ClosedState)

		return err
	}

	p.opState.ToOpened()
	p.logger.Info("poller started", "poller", p.name, "interval", p.interval)

	return nil
}

// Stop halts the cycle and dispatcher tasks, waits for them to finish, and
// drains any queued samples to the handlers and sinks.
//
// A stopped poller cannot be restarted.
func (p *Poller) Stop() {
	if !p.opState.ToClosing() {
		return
	}

	p.cancel()
	p.taskMgr.Stop()
	p.taskMgr.Wait()

	// deliver what the dispatcher did not get to before cancellation
	for {
		sample, ok := p.samples.Dequeue()
		if !ok {
			break
		}
		p.deliver(sample)
	}

	p.opState.ToClosed()
	p.logger.Info("poller stopped", "poller", p.name)
}

// UpdateInterval retunes the running cycle ticker.
func (p *Poller) UpdateInterval(interval time.Duration) error {
	if interval < MinPollInterval {
		return fmt.Errorf("hwc: poll interval %v is shorter than %v", interval, MinPollInterval)
	}

	return p.taskMgr.UpdateInterval(p.name+"-cycle", interval)
}

// Name returns the poller name.
func (p *Poller) Name() string { return p.name }

// Group returns the polled signal group.
func (p *Poller) Group() *SignalGroup { return p.group }

// Metrics returns the poller metrics.
func (p *Poller) Metrics() *PollerMetrics { return &p.metrics }

// cycle runs one write-then-read poll cycle and queues value-change samples.
func (p *Poller) cycle() bool {
	start := time.Now()

	if p.group.HasPending() {
		if err := p.group.WriteStates(p.ctx); err != nil {
			p.metrics.incWriteErrCount()
			p.logger.Error("write cycle failed", "poller", p.name, "error", err)

			return true
		}
	}

	if err := p.group.ReadStates(p.ctx); err != nil {
		p.metrics.incReadErrCount()
		p.logger.Error("read cycle failed", "poller", p.name, "error", err)

		return true
	}

	at := time.Now()
	for _, sig := range p.group.Signals() {
		v, ok := sig.Committed()
		if !ok {
			continue
		}

		prev, seen := p.prev[sig.Name()]
		if seen && prev == v {
			continue
		}
		p.prev[sig.Name()] = v

		p.enqueue(Sample{Signal: sig.Name(), Kind: sig.Kind(), Value: v, At: at})
	}

	p.metrics.incCycleCount()
	p.metrics.setLastCycle(time.Since(start))

	return true
}

// enqueue queues a sample and wakes the dispatcher.
func (p *Poller) enqueue(sample Sample) {
	p.samples.Enqueue(sample)
	p.metrics.incSampleCount()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// dispatchSamples blocks until samples are queued and delivers them in order.
func (p *Poller) dispatchSamples() bool {
	select {
	case <-p.ctx.Done():
		return false
	case <-p.notify:
		for {
			sample, ok := p.samples.Dequeue()
			if !ok {
				break
			}
			p.deliver(sample)
		}
	}

	return true
}

// deliver hands one sample to every handler and sink.
func (p *Poller) deliver(sample Sample) {
	for _, handler := range p.handlers {
		p.taskMgr.callWithRecover(p.name+"-handler", func() {
			handler(sample)
		})
	}

	for _, sink := range p.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), p.sinkTimeout)
		if err := sink.Publish(ctx, sample); err != nil {
			p.metrics.incSinkErrCount()
			p.logger.Error("sink publish failed", "poller", p.name, "signal", sample.Signal, "error", err)
		}
		cancel()
	}
}
