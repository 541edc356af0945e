package consumer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	apperrors "github.com/insurelane/eventkit/errors"
	"github.com/insurelane/eventkit/kafka"
	"github.com/insurelane/eventkit/logger"
	"github.com/insurelane/eventkit/metrics"
	"github.com/insurelane/eventkit/resilience"
)

// State is the lifecycle state of a consumer handle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateConsuming    State = "consuming"
	StatePaused       State = "paused"
)

// Delivery is the unit of work passed to handlers.
type Delivery struct {
	Topic     string
	Partition int
	Message   kafka.Message
}

// MessageHandler processes one delivered message.
type MessageHandler func(ctx context.Context, d Delivery) error

// BatchHandler processes a batch of delivered messages.
type BatchHandler func(ctx context.Context, batch []Delivery) error

// reader is the subset of kafka-go's *kafka.Reader a handle uses. Tests
// substitute a scripted reader through it.
type reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Stats() kafkago.ReaderStats
	Close() error
}

// pausePoll is how often a paused loop re-checks its pause flag.
const pausePoll = 100 * time.Millisecond

// Consumer is one group's handle: a reader, a loop, and pause/stop state.
// Handles are created and owned by a Service; they are not constructed
// directly.
type Consumer struct {
	opts       Options
	log        *logger.Logger
	metrics    *metrics.Metrics
	dlq        dlqPublisher
	makeReader func() reader

	mu       sync.Mutex
	state    State
	paused   bool
	reader   reader
	cancel   context.CancelFunc
	done     chan struct{}
	failures int
}

// State returns the handle's current lifecycle state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConsuming && c.paused {
		return StatePaused
	}
	return c.state
}

// GroupID returns the consumer group this handle belongs to.
func (c *Consumer) GroupID() string { return c.opts.GroupID }

// Stats returns reader statistics, zero-valued before the handle connects.
func (c *Consumer) Stats() kafkago.ReaderStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader == nil {
		return kafkago.ReaderStats{}
	}
	return c.reader.Stats()
}

// pause suspends fetching without disconnecting. Committed offsets are
// untouched, so resuming continues where the group left off.
func (c *Consumer) pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// resume continues delivery after a pause.
func (c *Consumer) resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

func (c *Consumer) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// start connects the reader and launches the read loop. run is one of the
// two loop bodies below.
func (c *Consumer) start(ctx context.Context, run func(ctx context.Context)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDisconnected {
		return fmt.Errorf("consumer group %q is already %s", c.opts.GroupID, c.state)
	}

	c.state = StateConnecting
	c.reader = c.makeReader()
	c.state = StateConnected

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = StateConsuming
	c.metrics.ConsumerStarted(c.opts.GroupID)

	go func() {
		defer close(c.done)
		run(loopCtx)
	}()

	c.log.Info("Consumer started", map[string]interface{}{
		"group_id": c.opts.GroupID,
		"topics":   c.opts.Topics,
	})
	return nil
}

// stop cancels the loop, waits for in-flight work, and closes the reader.
func (c *Consumer) stop() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateDisconnected
	c.metrics.ConsumerStopped(c.opts.GroupID)

	c.log.Info("Consumer stopped", map[string]interface{}{
		"group_id": c.opts.GroupID,
	})
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}

// runMessages is the per-message delivery loop.
func (c *Consumer) runMessages(ctx context.Context, handler MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if c.isPaused() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pausePoll):
			}
			continue
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.backoffAfterFailure(ctx, err)
			continue
		}
		c.resetFailures()

		d := newDelivery(msg)
		routed, err := c.processOne(ctx, handler, d)
		if err != nil {
			// The unit is neither handled nor dead-lettered; leave it
			// uncommitted so it is redelivered.
			c.log.Error("Message unresolved, not committing", map[string]interface{}{
				"topic":  d.Topic,
				"offset": d.Message.Offset,
				"error":  err.Error(),
			})
			c.backoffAfterFailure(ctx, err)
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error("Commit failed", map[string]interface{}{
				"topic":  d.Topic,
				"offset": d.Message.Offset,
				"error":  err.Error(),
			})
		}

		if routed {
			// Dead-lettering a unit still paces the loop like a failure.
			c.backoffAfterFailure(ctx, nil)
		}
	}
}

// runBatches is the per-batch delivery loop. A failing batch is not retried
// wholesale: each message replays individually through the single-message
// path so only the still-failing ones are dead-lettered.
func (c *Consumer) runBatches(ctx context.Context, handler BatchHandler) {
	singleHandler := func(hctx context.Context, d Delivery) error {
		return handler(hctx, []Delivery{d})
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if c.isPaused() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pausePoll):
			}
			continue
		}

		msgs, fetchErr := c.fetchBatch(ctx)
		if ctx.Err() != nil {
			return
		}
		// Messages fetched before a transport error still belong to the
		// batch; deliver them before pacing, or they would be skipped on
		// redelivery of later offsets after an auto-commit.
		if len(msgs) > 0 {
			c.resetFailures()
			c.deliverBatch(ctx, handler, singleHandler, msgs)
		}
		if fetchErr != nil {
			c.backoffAfterFailure(ctx, fetchErr)
		}
	}
}

// deliverBatch runs one fetched batch through the handler, isolating the
// failing messages individually when the batch as a whole errors.
func (c *Consumer) deliverBatch(ctx context.Context, handler BatchHandler, singleHandler MessageHandler, msgs []kafkago.Message) {
	batch := make([]Delivery, len(msgs))
	for i, msg := range msgs {
		batch[i] = newDelivery(msg)
	}

	batchErr := safeInvoke(ctx, func(hctx context.Context) error {
		return handler(hctx, batch)
	})
	if batchErr == nil {
		for _, d := range batch {
			c.metrics.EventDelivered(d.Topic, c.opts.GroupID)
		}
		c.commit(ctx, msgs...)
		return
	}

	c.metrics.HandlerError(batch[0].Topic, c.opts.GroupID)
	c.log.Error("Batch failed, isolating messages individually", map[string]interface{}{
		"group_id": c.opts.GroupID,
		"size":     len(batch),
		"error":    batchErr.Error(),
	})

	unresolved := false
	for _, d := range batch {
		if _, err := c.processOne(ctx, singleHandler, d); err != nil {
			unresolved = true
			c.log.Error("Message unresolved during batch isolation", map[string]interface{}{
				"topic":  d.Topic,
				"offset": d.Message.Offset,
				"error":  err.Error(),
			})
		}
	}

	// Commit only when every unit is resolved; otherwise nothing is
	// committed and the batch is redelivered rather than dropped.
	if !unresolved {
		c.commit(ctx, msgs...)
	}

	// The batch handler's error still governs pacing at batch level.
	c.backoffAfterFailure(ctx, batchErr)
}

// processOne runs one delivery through the handler with local retries and
// routes it to the dead-letter topic when retries are exhausted. It returns
// routed=true when the unit was dead-lettered, and a non-nil error only when
// the unit is unresolved (the DLQ publish itself failed).
func (c *Consumer) processOne(ctx context.Context, handler MessageHandler, d Delivery) (routed bool, err error) {
	start := time.Now()
	handlerErr := resilience.RetryFunc(ctx, resilience.RetryConfig{
		MaxAttempts:    c.opts.MaxRetries,
		InitialBackoff: parseDuration(c.opts.RetryBackoff),
		BackoffFactor:  2.0,
		Jitter:         0.1,
		RetryIf:        retryableHandlerError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			c.log.Warn("Handler failed, retrying", map[string]interface{}{
				"topic":   d.Topic,
				"offset":  d.Message.Offset,
				"attempt": attempt,
				"backoff": backoff.String(),
				"error":   err.Error(),
			})
		},
	}, func() error {
		return safeInvoke(ctx, func(hctx context.Context) error {
			return handler(hctx, d)
		})
	})

	c.metrics.ObserveHandlerDuration(d.Topic, c.opts.GroupID, time.Since(start).Seconds())

	if handlerErr == nil {
		c.metrics.EventDelivered(d.Topic, c.opts.GroupID)
		return false, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	c.metrics.HandlerError(d.Topic, c.opts.GroupID)

	failedAt := time.Now().UTC()
	dlqMsg, err := newDeadLetterMessage(d, handlerErr, stackOf(handlerErr), failedAt)
	if err != nil {
		return false, err
	}
	if err := c.dlq.WriteMessages(ctx, dlqMsg); err != nil {
		return false, fmt.Errorf("publish dead letter for %s offset %d: %w", d.Topic, d.Message.Offset, err)
	}

	c.metrics.DLQPublished(d.Topic)
	c.log.Error("Message routed to dead letter topic", map[string]interface{}{
		"topic":     d.Topic,
		"dlq_topic": DLQTopic(d.Topic),
		"offset":    d.Message.Offset,
		"error":     handlerErr.Error(),
	})
	return true, nil
}

// fetchBatch accumulates messages until the batch is full or BatchWait has
// elapsed since its first message. A fetch error after the first message
// is returned together with the messages already gathered; the caller must
// deliver those before acting on the error.
func (c *Consumer) fetchBatch(ctx context.Context) ([]kafkago.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	msgs := []kafkago.Message{first}
	waitCtx, cancel := context.WithTimeout(ctx, parseDuration(c.opts.BatchWait))
	defer cancel()

	for len(msgs) < c.opts.BatchSize {
		msg, err := c.reader.FetchMessage(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				break // window elapsed, deliver what we have
			}
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (c *Consumer) commit(ctx context.Context, msgs ...kafkago.Message) {
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil && ctx.Err() == nil {
		c.log.Error("Commit failed", map[string]interface{}{
			"group_id": c.opts.GroupID,
			"error":    err.Error(),
		})
	}
}

// backoffAfterFailure sleeps with a linear backoff capped at 30s, the same
// pacing the read loop applies to fetch errors.
func (c *Consumer) backoffAfterFailure(ctx context.Context, err error) {
	c.mu.Lock()
	c.failures++
	failures := c.failures
	c.mu.Unlock()

	if err != nil && failures <= 3 {
		c.log.Error("Read loop failure", map[string]interface{}{
			"group_id": c.opts.GroupID,
			"failures": failures,
			"error":    err.Error(),
		})
	}

	backoff := time.Duration(failures) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(backoff):
	}
}

func (c *Consumer) resetFailures() {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
}

func newDelivery(msg kafkago.Message) Delivery {
	return Delivery{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Message:   kafka.FromKafkaMessage(msg),
	}
}

// safeInvoke runs fn, converting a panic into an error that carries the
// stack for the dead-letter record.
func safeInvoke(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return fn(ctx)
}

type panicError struct {
	value interface{}
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}

// stackOf extracts a panic stack from err, if it carries one.
func stackOf(err error) string {
	var pe *panicError
	if errors.As(err, &pe) {
		return pe.stack
	}
	return ""
}

// retryableHandlerError decides whether a handler error is worth another
// attempt. Handlers tag permanent failures by returning a non-retryable
// AppError; those go straight to the dead letter topic.
func retryableHandlerError(err error) bool {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr.Retryable
	}
	return resilience.DefaultRetryIf(err)
}
