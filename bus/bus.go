package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/insurelane/eventkit/logger"
	"github.com/insurelane/eventkit/metrics"
	"github.com/insurelane/eventkit/redis"
)

// Bus is a publish/subscribe event bus over Redis Streams with synchronous
// in-process fan-out. A single Bus value owns its handler registry and its
// consumption loops; construct one and share it by reference.
type Bus struct {
	client   *redis.Client
	cfg      Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	registry *handlerRegistry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an event bus on top of an established redis client.
func New(cfg Config, client *redis.Client, log *logger.Logger) (*Bus, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("bus config: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("bus: redis client is required")
	}

	return &Bus{
		client:   client,
		cfg:      cfg,
		log:      log.WithComponent("bus"),
		registry: newHandlerRegistry(),
	}, nil
}

// WithMetrics attaches Prometheus instrumentation and returns the bus.
func (b *Bus) WithMetrics(m *metrics.Metrics) *Bus {
	b.metrics = m
	return b
}

// Group returns the consumer group the bus reads with.
func (b *Bus) Group() string { return b.cfg.Group }

// Consumer returns this instance's consumer id within the group.
func (b *Bus) Consumer() string { return b.cfg.Consumer }

// On registers a handler for eventType. Pass Wildcard to receive every
// event. Handlers for one type run in registration order, before wildcard
// handlers.
func (b *Bus) On(eventType string, h Handler) {
	b.registry.add(eventType, h)
}

// Off removes a previously registered handler for eventType.
func (b *Bus) Off(eventType string, h Handler) {
	b.registry.remove(eventType, h)
}

// Publish appends the event durably to the stream for eventType, fans it out
// to local handlers, and returns the broker-assigned event id. Local handlers
// observe the event even when no consumption loop is running. Handler errors
// are logged, never propagated; a publish error means the append failed and
// nothing was delivered.
func (b *Bus) Publish(ctx context.Context, eventType string, payload interface{}, metadata map[string]string) (string, error) {
	if eventType == "" || eventType == Wildcard {
		return "", fmt.Errorf("bus: invalid event type %q", eventType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("bus: marshal payload: %w", err)
	}

	evt := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
		Metadata:  metadata,
	}

	values, err := encodeEvent(evt)
	if err != nil {
		return "", fmt.Errorf("bus: encode event: %w", err)
	}

	topic := TopicFor(b.cfg.StreamPrefix, eventType)
	id, err := b.client.XAdd(ctx, topic, values, b.cfg.MaxStreamLen)
	if err != nil {
		return "", fmt.Errorf("bus: publish to %s: %w", topic, err)
	}

	evt.ID = id
	b.metrics.EventPublished(topic)
	b.dispatch(ctx, evt)

	return id, nil
}

// StartConsuming discovers streams matching patterns (shell globs over event
// types; none or "*" means all), ensures the consumer group exists on each,
// and reads them in one loop per stream until StopConsuming is called or ctx
// is cancelled. Topics appearing later are picked up on the next discovery
// pass. Group creation races are converged ("already exists" is a no-op);
// any other group creation error aborts consumption.
func (b *Bus) StartConsuming(ctx context.Context, patterns ...string) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bus: already consuming")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true
	b.mu.Unlock()

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		b.mu.Lock()
		b.running = false
		close(b.done)
		b.mu.Unlock()
	}()

	b.log.Info("Starting consumption", map[string]interface{}{
		"group":    b.cfg.Group,
		"consumer": b.cfg.Consumer,
		"patterns": patterns,
	})

	interval := ParseDuration(b.cfg.DiscoverInterval)
	active := make(map[string]bool)

	for {
		topics, err := b.discoverTopics(loopCtx, patterns)
		if err != nil {
			if loopCtx.Err() != nil {
				return nil
			}
			b.log.Error("Topic discovery failed", map[string]interface{}{
				"error": err.Error(),
			})
		}

		for _, topic := range topics {
			if active[topic] {
				continue
			}
			if err := b.ensureGroup(loopCtx, topic); err != nil {
				return err
			}
			if loopCtx.Err() != nil {
				return nil
			}
			active[topic] = true
			wg.Add(1)
			go func(topic string) {
				defer wg.Done()
				b.consumeLoop(loopCtx, topic)
			}(topic)
		}

		select {
		case <-loopCtx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// ensureGroup creates the consumer group on topic, backfilling the stream if
// it does not exist yet. Cancellation while the command is in flight is a
// clean stop, not a failure.
func (b *Bus) ensureGroup(ctx context.Context, topic string) error {
	if err := b.client.XGroupCreateMkStream(ctx, topic, b.cfg.Group, "0"); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("bus: create group %s on %s: %w", b.cfg.Group, topic, err)
	}
	return nil
}

// StopConsuming signals the consumption loops to stop and waits for them.
// In-flight handler calls finish before their loop exits. Safe to call when
// the bus is not consuming.
func (b *Bus) StopConsuming() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	b.log.Info("Stopping consumption", map[string]interface{}{
		"group": b.cfg.Group,
	})
	cancel()
	<-done
}

// ClaimPending reassigns entries on topic that have been pending longer than
// minIdle to this consumer, re-delivers them to local handlers, and
// acknowledges them. It returns how many entries were claimed.
//
// This is the only mechanism recovering entries stuck behind a crashed
// consumer, and it is never scheduled automatically: a supervisory task must
// invoke it periodically. There is no fencing: the original owner is not
// checked for liveness before reassignment, so an entry can be processed
// concurrently by two consumers if the owner is merely slow rather than dead.
func (b *Bus) ClaimPending(ctx context.Context, topic string, minIdle time.Duration) (int, error) {
	pending, err := b.client.XPendingExt(ctx, topic, b.cfg.Group, b.cfg.ClaimBatch)
	if err != nil {
		return 0, fmt.Errorf("bus: list pending on %s: %w", topic, err)
	}

	ids := make([]string, 0, len(pending))
	for _, entry := range pending {
		if entry.Idle > minIdle {
			ids = append(ids, entry.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	msgs, err := b.client.XClaim(ctx, topic, b.cfg.Group, b.cfg.Consumer, minIdle, ids...)
	if err != nil {
		return 0, fmt.Errorf("bus: claim %d entries on %s: %w", len(ids), topic, err)
	}

	claimed := 0
	for _, msg := range msgs {
		evt, err := decodeEvent(msg)
		if err != nil {
			b.log.Error("Claimed entry is undecodable", map[string]interface{}{
				"topic": topic,
				"entry": msg.ID,
				"error": err.Error(),
			})
		} else {
			b.dispatch(ctx, evt)
		}
		if err := b.client.XAck(ctx, topic, b.cfg.Group, msg.ID); err != nil {
			return claimed, fmt.Errorf("bus: ack claimed entry %s on %s: %w", msg.ID, topic, err)
		}
		claimed++
	}

	b.metrics.EntriesClaimed(topic, b.cfg.Group, claimed)
	b.log.Info("Claimed pending entries", map[string]interface{}{
		"topic":    topic,
		"claimed":  claimed,
		"min_idle": minIdle.String(),
	})
	return claimed, nil
}

// consumeLoop reads one stream through the consumer group until ctx is
// cancelled. Entries are acknowledged after dispatch regardless of handler
// outcome: the bus is responsible for durable delivery and local dispatch,
// not retry policy.
func (b *Bus) consumeLoop(ctx context.Context, topic string) {
	block := ParseDuration(b.cfg.BlockTimeout)
	failures := 0

	b.log.Info("Consume loop started", map[string]interface{}{
		"topic": topic,
		"group": b.cfg.Group,
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := b.client.XReadGroup(ctx, b.cfg.Group, b.cfg.Consumer, topic, b.cfg.BatchSize, block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures <= 3 {
				b.log.Error("Stream read failed", map[string]interface{}{
					"topic":    topic,
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
				return
			case <-time.After(backoff):
			}
			continue
		}
		failures = 0

		for _, msg := range msgs {
			evt, err := decodeEvent(msg)
			if err != nil {
				b.log.Error("Undecodable stream entry", map[string]interface{}{
					"topic": topic,
					"entry": msg.ID,
					"error": err.Error(),
				})
			} else {
				b.dispatch(ctx, evt)
				b.metrics.EventDelivered(topic, b.cfg.Group)
			}
			if err := b.client.XAck(ctx, topic, b.cfg.Group, msg.ID); err != nil {
				b.log.Error("Ack failed", map[string]interface{}{
					"topic": topic,
					"entry": msg.ID,
					"error": err.Error(),
				})
			}
		}
	}
}

// dispatch invokes handlers registered for the event's type, then wildcard
// handlers, in registration order. Errors are logged and do not stop the
// remaining handlers.
func (b *Bus) dispatch(ctx context.Context, evt Event) {
	for _, h := range b.registry.handlersFor(evt.Type) {
		start := time.Now()
		if err := h(ctx, evt); err != nil {
			b.metrics.HandlerError(TopicFor(b.cfg.StreamPrefix, evt.Type), b.cfg.Group)
			b.log.Error("Handler failed", map[string]interface{}{
				"type":  evt.Type,
				"event": evt.ID,
				"error": err.Error(),
			})
		}
		b.metrics.ObserveHandlerDuration(TopicFor(b.cfg.StreamPrefix, evt.Type), b.cfg.Group, time.Since(start).Seconds())
	}
}

// discoverTopics scans for streams under the configured prefix and filters
// them by the given patterns, matched against the event type (shell globs).
// No patterns, or any equal to Wildcard, matches everything.
func (b *Bus) discoverTopics(ctx context.Context, patterns []string) ([]string, error) {
	keys, err := b.client.ScanKeys(ctx, b.cfg.StreamPrefix+"*")
	if err != nil {
		return nil, err
	}

	matchAll := len(patterns) == 0
	for _, p := range patterns {
		if p == Wildcard {
			matchAll = true
			break
		}
	}

	topics := make([]string, 0, len(keys))
	for _, key := range keys {
		if matchAll {
			topics = append(topics, key)
			continue
		}
		eventType := TypeOf(b.cfg.StreamPrefix, key)
		for _, p := range patterns {
			if ok, _ := path.Match(p, eventType); ok {
				topics = append(topics, key)
				break
			}
		}
	}
	sort.Strings(topics)
	return topics, nil
}
