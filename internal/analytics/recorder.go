package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultQueueSize     = 1024
	DefaultInsertTimeout = 5 * time.Second
)

// Recorder writes click events asynchronously. Record never blocks the
// caller: events go through a bounded queue and are dropped with a warn log
// when the queue is full. Write errors are logged and swallowed, so a failed
// event never reaches the redirect path or undoes the click-counter increment
// that preceded it.
type Recorder struct {
	store         Store
	logger        *slog.Logger
	queue         chan Click
	insertTimeout time.Duration

	wg sync.WaitGroup

	// mu orders Record's channel send against Close's close(queue); without
	// it a send racing the close could panic.
	mu     sync.Mutex
	closed bool
}

// RecorderConfig holds configuration for the recorder.
type RecorderConfig struct {
	QueueSize     int
	InsertTimeout time.Duration
}

// NewRecorder creates a Recorder and starts its worker. Call Close during
// shutdown to drain the queue.
func NewRecorder(store Store, logger *slog.Logger, config *RecorderConfig) *Recorder {
	if config == nil {
		config = &RecorderConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	insertTimeout := config.InsertTimeout
	if insertTimeout <= 0 {
		insertTimeout = DefaultInsertTimeout
	}

	r := &Recorder{
		store:         store,
		logger:        logger,
		queue:         make(chan Click, queueSize),
		insertTimeout: insertTimeout,
	}

	r.wg.Add(1)
	go r.run()

	return r
}

// Record enqueues a click event without waiting for the write. Events are
// dropped when the queue is full or the recorder is closed; analytics owes no
// delivery guarantee.
func (r *Recorder) Record(click Click) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("click event dropped, recorder closed",
			"link_id", click.LinkID.String(),
		)
		return
	}

	select {
	case r.queue <- click:
		r.mu.Unlock()
	default:
		r.mu.Unlock()
		r.logger.Warn("click event dropped, queue full",
			"link_id", click.LinkID.String(),
		)
	}
}

// Close stops accepting events and drains the queue, bounded by ctx.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the worker loop. Each insert gets its own timeout context detached
// from any request.
func (r *Recorder) run() {
	defer r.wg.Done()

	for click := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.insertTimeout)
		if err := r.store.InsertClick(ctx, click); err != nil {
			r.logger.Error("failed to record click event",
				"link_id", click.LinkID.String(),
				"error", err.Error(),
			)
		}
		cancel()
	}
}
