package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/insurelane/eventkit/kafka"
	"github.com/insurelane/eventkit/logger"
	"github.com/insurelane/eventkit/metrics"
)

// Service manages one consumer handle per group id. Handles are created
// lazily on the first Consume or ConsumeBatch call for a group and reused
// until stopped.
type Service struct {
	cfg     kafka.Config
	dlq     dlqPublisher
	log     *logger.Logger
	metrics *metrics.Metrics

	// newReader builds the group reader; tests substitute a scripted one.
	newReader func(opts Options) reader

	mu        sync.RWMutex
	consumers map[string]*Consumer
}

// NewService creates a Service sharing cfg across all group subscriptions.
// dlq is the writer failed messages are routed through; *producer.Producer
// satisfies it.
func NewService(cfg kafka.Config, dlq dlqPublisher, log *logger.Logger) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dlq == nil {
		return nil, fmt.Errorf("dead letter publisher is required")
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	s := &Service{
		cfg:       cfg,
		dlq:       dlq,
		log:       log.WithComponent("kafka-consumer"),
		consumers: make(map[string]*Consumer),
	}
	s.newReader = s.buildReader
	return s, nil
}

// WithMetrics attaches delivery metrics. Safe to skip; a nil Metrics is a
// no-op.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Consume subscribes a group with a per-message handler. The read loop runs
// in the background; the call returns once the handle is consuming.
//
// Subscribing a group that is already active returns an error rather than
// rebinding the running loop: silently swapping handlers mid-stream hides
// duplicate subscriptions, which are almost always deployment bugs. Stop the
// group first to change its handler; a stopped group may subscribe again.
func (s *Service) Consume(ctx context.Context, opts Options, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	c, err := s.handleFor(opts)
	if err != nil {
		return err
	}
	return c.start(ctx, func(loopCtx context.Context) {
		c.runMessages(loopCtx, handler)
	})
}

// ConsumeBatch subscribes a group with a batch handler. Batches are bounded
// by the options' BatchSize and BatchWait. When a batch fails, each message
// replays individually so only the still-failing ones are dead-lettered.
func (s *Service) ConsumeBatch(ctx context.Context, opts Options, handler BatchHandler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	c, err := s.handleFor(opts)
	if err != nil {
		return err
	}
	return c.start(ctx, func(loopCtx context.Context) {
		c.runBatches(loopCtx, handler)
	})
}

// Pause suspends delivery for a group without disconnecting it.
func (s *Service) Pause(groupID string) error {
	c, err := s.lookup(groupID)
	if err != nil {
		return err
	}
	c.pause()
	s.log.Info("Consumer paused", map[string]interface{}{"group_id": groupID})
	return nil
}

// Resume continues delivery for a paused group from its committed offsets.
func (s *Service) Resume(groupID string) error {
	c, err := s.lookup(groupID)
	if err != nil {
		return err
	}
	c.resume()
	s.log.Info("Consumer resumed", map[string]interface{}{"group_id": groupID})
	return nil
}

// Stop disconnects a group and removes its handle. Stopping an unknown
// group is an error; stopping twice is not possible because the first stop
// removes the handle.
func (s *Service) Stop(groupID string) error {
	s.mu.Lock()
	c, ok := s.consumers[groupID]
	if ok {
		delete(s.consumers, groupID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown consumer group %q", groupID)
	}
	return c.stop()
}

// State reports a group's lifecycle state.
func (s *Service) State(groupID string) (State, error) {
	c, err := s.lookup(groupID)
	if err != nil {
		return StateDisconnected, err
	}
	return c.State(), nil
}

// Stats returns structured reader metrics for a group.
func (s *Service) Stats(groupID string) (kafka.ReaderMetrics, error) {
	c, err := s.lookup(groupID)
	if err != nil {
		return kafka.ReaderMetrics{}, err
	}
	return kafka.CollectReaderMetrics(c.Stats()), nil
}

// Groups lists the group ids with an active handle.
func (s *Service) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups := make([]string, 0, len(s.consumers))
	for id := range s.consumers {
		groups = append(groups, id)
	}
	return groups
}

// Shutdown stops every handle. Per-group failures are logged and collected;
// one failing group never prevents the others from stopping.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	consumers := make([]*Consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		consumers = append(consumers, c)
	}
	s.consumers = make(map[string]*Consumer)
	s.mu.Unlock()

	var errs []error
	for _, c := range consumers {
		if err := c.stop(); err != nil {
			s.log.Error("Consumer shutdown failed", map[string]interface{}{
				"group_id": c.GroupID(),
				"error":    err.Error(),
			})
			errs = append(errs, fmt.Errorf("group %s: %w", c.GroupID(), err))
		}
	}
	return errors.Join(errs...)
}

// handleFor returns a fresh handle for the group, replacing a disconnected
// stale one. An active group is rejected so two subscriptions never share a
// handle.
func (s *Service) handleFor(opts Options) (*Consumer, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.consumers[opts.GroupID]; ok {
		if existing.State() != StateDisconnected {
			return nil, fmt.Errorf("consumer group %q is already subscribed", opts.GroupID)
		}
	}

	c := &Consumer{
		opts:    opts,
		log:     s.log.WithFields(map[string]interface{}{"group_id": opts.GroupID}),
		metrics: s.metrics,
		dlq:     s.dlq,
		state:   StateDisconnected,
	}
	c.makeReader = func() reader { return s.newReader(opts) }
	s.consumers[opts.GroupID] = c
	return c, nil
}

func (s *Service) lookup(groupID string) (*Consumer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consumers[groupID]
	if !ok {
		return nil, fmt.Errorf("unknown consumer group %q", groupID)
	}
	return c, nil
}

// buildReader constructs the kafka-go group reader for opts.
func (s *Service) buildReader(opts Options) reader {
	dialer, err := kafka.CreateDialer(&s.cfg)
	if err != nil {
		s.log.Error("Dialer setup failed, using defaults", map[string]interface{}{
			"error": err.Error(),
		})
		dialer = nil
	}

	startOffset := kafkago.LastOffset
	if opts.FromBeginning {
		startOffset = kafkago.FirstOffset
	}

	commitInterval := parseDuration(opts.AutoCommitInterval)
	if !opts.autoCommit() {
		commitInterval = 0 // synchronous commits
	}

	sessionTimeout := s.cfg.SessionTimeout
	if opts.SessionTimeout != "" {
		sessionTimeout = opts.SessionTimeout
	}
	heartbeat := s.cfg.HeartbeatInterval
	if opts.HeartbeatInterval != "" {
		heartbeat = opts.HeartbeatInterval
	}

	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:           s.cfg.Brokers,
		GroupID:           opts.GroupID,
		GroupTopics:       opts.Topics,
		Dialer:            dialer,
		StartOffset:       startOffset,
		CommitInterval:    commitInterval,
		SessionTimeout:    kafka.ParseDuration(sessionTimeout),
		HeartbeatInterval: kafka.ParseDuration(heartbeat),
		RebalanceTimeout:  kafka.ParseDuration(s.cfg.RebalanceTimeout),
		MinBytes:          1,
		MaxBytes:          10e6,
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			s.log.Warn(fmt.Sprintf(msg, args...), map[string]interface{}{
				"group_id": opts.GroupID,
			})
		}),
	})
}
