package replication

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/espalier/internal/shard"
)

// Config holds configuration for a Dispatcher.
type Config struct {
	// Workers is the number of goroutines applying messages.
	// Default: 4
	// Max: 256
	Workers int

	// Buffer is the queue capacity of each worker.
	// Default: 256
	Buffer int

	// MaxAttempts is how many times a message is tried before it is dead-lettered.
	// Default: 5
	MaxAttempts int

	// InitialInterval is the first retry delay; later delays grow exponentially.
	// Default: 200ms
	InitialInterval time.Duration

	// MaxInterval caps the retry delay.
	// Default: 10s
	MaxInterval time.Duration
}

// DefaultConfig returns sensible defaults for a single API process.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		Buffer:          256,
		MaxAttempts:     5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Workers < 1 {
		c.Workers = 4
	}
	if c.Workers > 256 {
		c.Workers = 256
	}
	if c.Buffer < 1 {
		c.Buffer = 256
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 200 * time.Millisecond
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = max(10*time.Second, c.InitialInterval)
	}
}

// Dispatcher applies messages on a pool of workers. Every message for a document is
// routed to the same worker, so messages for one document are applied in publish
// order while different documents proceed in parallel. A message that still fails
// after Config.MaxAttempts tries goes to the dead letter.
type Dispatcher struct {
	applier    Applier
	deadLetter DeadLetter
	config     Config
	logger     *slog.Logger

	queues []chan Message

	mu      sync.RWMutex
	started bool
	closed  bool
	group   *errgroup.Group
}

// NewDispatcher creates a Dispatcher. A nil deadLetter logs failures; a nil logger
// uses slog.Default().
func NewDispatcher(applier Applier, deadLetter DeadLetter, config Config, logger *slog.Logger) *Dispatcher {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	if deadLetter == nil {
		deadLetter = NewLogDeadLetter(logger)
	}

	queues := make([]chan Message, config.Workers)
	for i := range queues {
		queues[i] = make(chan Message, config.Buffer)
	}
	return &Dispatcher{
		applier:    applier,
		deadLetter: deadLetter,
		config:     config,
		logger:     logger,
		queues:     queues,
	}
}

// Start launches the workers. ctx bounds retries; cancel it to abandon pending
// retries during shutdown. Messages abandoned that way are handed back to their
// deliverer instead of being dead-lettered. Start is a no-op after the first call.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	d.group = &errgroup.Group{}
	for i, queue := range d.queues {
		d.group.Go(func() error {
			d.work(ctx, i, queue)
			return nil
		})
	}
}

// Publish queues msg on the worker that owns its document. It blocks while that
// worker's queue is full.
func (d *Dispatcher) Publish(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	queue := d.queues[shard.Worker(msg.DocumentID, len(d.queues))]
	select {
	case queue <- msg:
		queueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting messages and waits until every queued message has been
// applied or dead-lettered.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, queue := range d.queues {
		close(queue)
	}
	group := d.group
	d.mu.Unlock()

	if group == nil {
		return nil
	}
	return group.Wait()
}

func (d *Dispatcher) work(ctx context.Context, worker int, queue <-chan Message) {
	for msg := range queue {
		queueDepth.Dec()
		d.process(ctx, worker, msg)
	}
}

func (d *Dispatcher) process(ctx context.Context, worker int, msg Message) {
	op := string(msg.Operation)
	start := time.Now()
	defer func() {
		applyDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	err := d.apply(ctx, msg)
	if err == nil {
		messagesTotal.WithLabelValues(op, "applied").Inc()
		d.logger.Debug("replication applied",
			"worker", worker,
			"operation", op,
			"document_id", msg.DocumentID,
			"message_id", msg.ID,
		)
		msg.finish(nil)
		return
	}

	if msg.settle != nil && ctx.Err() != nil && !errors.Is(err, ErrInvalidMessage) {
		messagesTotal.WithLabelValues(op, "returned").Inc()
		d.logger.Warn("replication abandoned, returning message",
			"operation", op,
			"document_id", msg.DocumentID,
			"message_id", msg.ID,
			"error", err,
		)
		msg.finish(err)
		return
	}

	outcome := "dead_lettered"
	if errors.Is(err, ErrInvalidMessage) {
		outcome = "rejected"
	}
	messagesTotal.WithLabelValues(op, outcome).Inc()

	// Shutdown may have cancelled ctx; the dead letter still needs to be written.
	dlCtx := context.WithoutCancel(ctx)
	if dlErr := d.deadLetter.DeadLetter(dlCtx, msg, err); dlErr != nil {
		d.logger.Error("dead letter failed, message lost",
			"operation", op,
			"document_id", msg.DocumentID,
			"message_id", msg.ID,
			"error", err,
			"dead_letter_error", dlErr,
		)
		msg.finish(dlErr)
		return
	}
	msg.finish(nil)
}

// apply runs the applier with exponential backoff until it succeeds, fails
// permanently, or runs out of attempts.
func (d *Dispatcher) apply(ctx context.Context, msg Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.config.InitialInterval
	b.MaxInterval = d.config.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := d.applier.Apply(ctx, msg)
		if errors.Is(err, ErrInvalidMessage) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.config.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			retriesTotal.WithLabelValues(string(msg.Operation)).Inc()
			d.logger.Warn("replication apply failed, retrying",
				"operation", msg.Operation,
				"document_id", msg.DocumentID,
				"message_id", msg.ID,
				"retry_in", next,
				"error", err,
			)
		}),
	)
	return err
}

// settles marks Dispatcher as reporting completion through Message.settle.
func (d *Dispatcher) settles() {}
