package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/insurelane/eventkit/logger"
	"github.com/insurelane/eventkit/redis"
)

func newTestBus(t *testing.T, cfg Config) (*Bus, *miniredis.Miniredis) {
	t.Helper()

	mini := miniredis.RunT(t)

	client, err := redis.New(redis.Config{Enabled: true, Addr: mini.Addr()}, logger.NewDefault("test"))
	if err != nil {
		t.Fatalf("redis.New: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	cfg.Consumer = "test-consumer"
	if cfg.BlockTimeout == "" {
		cfg.BlockTimeout = "20ms"
	}
	if cfg.DiscoverInterval == "" {
		cfg.DiscoverInterval = "20ms"
	}

	b, err := New(cfg, client, logger.NewDefault("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b, mini
}

// collector records events delivered to a handler.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handler(_ context.Context, evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) get(i int) Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[i]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublish_ReturnsBrokerAssignedID(t *testing.T) {
	b, mini := newTestBus(t, Config{})

	id, err := b.Publish(context.Background(), "policy.created", map[string]string{"id": "P1"}, nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id == "" {
		t.Fatal("expected broker-assigned id, got empty string")
	}
	if mini.Exists("events:policy.created") == false {
		t.Error("expected stream events:policy.created to exist")
	}
}

func TestPublish_LocalFanOutWithoutConsumeLoop(t *testing.T) {
	b, _ := newTestBus(t, Config{})

	var typed, wild collector
	b.On("policy.created", typed.handler)
	b.On(Wildcard, wild.handler)

	id, err := b.Publish(context.Background(), "policy.created", map[string]string{"id": "P1"}, map[string]string{"publisher": "api"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if typed.len() != 1 {
		t.Fatalf("typed handler calls = %d, want 1", typed.len())
	}
	if wild.len() != 1 {
		t.Fatalf("wildcard handler calls = %d, want 1", wild.len())
	}

	evt := typed.get(0)
	if evt.ID != id {
		t.Errorf("event ID = %q, want %q", evt.ID, id)
	}
	if evt.Type != "policy.created" {
		t.Errorf("event Type = %q, want policy.created", evt.Type)
	}
	if evt.Metadata["publisher"] != "api" {
		t.Errorf("metadata publisher = %q, want api", evt.Metadata["publisher"])
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ID != "P1" {
		t.Errorf("payload.id = %q, want P1", payload.ID)
	}
}

func TestPublish_WildcardDoesNotReceiveTwice(t *testing.T) {
	b, _ := newTestBus(t, Config{})

	var c collector
	b.On(Wildcard, c.handler)

	if _, err := b.Publish(context.Background(), "a", 1, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := b.Publish(context.Background(), "b", 2, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if c.len() != 2 {
		t.Fatalf("wildcard handler calls = %d, want 2 (one per event)", c.len())
	}
}

func TestPublish_HandlerOrderAndErrorIsolation(t *testing.T) {
	b, _ := newTestBus(t, Config{})

	var order []string
	var mu sync.Mutex
	record := func(name string, err error) Handler {
		return func(context.Context, Event) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return err
		}
	}

	b.On("x", record("first", errFailed))
	b.On("x", record("second", nil))
	b.On(Wildcard, record("wild", nil))

	if _, err := b.Publish(context.Background(), "x", nil, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first", "second", "wild"}
	if len(order) != len(want) {
		t.Fatalf("handler order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("handler order = %v, want %v", order, want)
		}
	}
}

func TestOff_RemovesHandler(t *testing.T) {
	b, _ := newTestBus(t, Config{})

	var kept, removed collector
	b.On("x", kept.handler)
	b.On("x", removed.handler)
	b.Off("x", removed.handler)

	if _, err := b.Publish(context.Background(), "x", nil, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if kept.len() != 1 {
		t.Errorf("kept handler calls = %d, want 1", kept.len())
	}
	if removed.len() != 0 {
		t.Errorf("removed handler calls = %d, want 0", removed.len())
	}
}

func TestPublish_RejectsWildcardType(t *testing.T) {
	b, _ := newTestBus(t, Config{})
	if _, err := b.Publish(context.Background(), Wildcard, nil, nil); err == nil {
		t.Fatal("expected error publishing with wildcard type")
	}
}

func TestStartConsuming_DeliversAndAcks(t *testing.T) {
	b, _ := newTestBus(t, Config{Group: "readers"})

	// Seed the stream before the loop starts so discovery finds it.
	seedID, err := b.Publish(context.Background(), "claims.filed", map[string]string{"claim": "C1"}, nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var c collector
	b.On("claims.filed", c.handler)

	done := make(chan error, 1)
	go func() { done <- b.StartConsuming(context.Background(), "claims.*") }()

	// One delivery from the publish fan-out, a second from the consume loop.
	waitFor(t, 3*time.Second, func() bool { return c.len() >= 2 })

	loopEvt := c.get(1)
	if loopEvt.ID != seedID {
		t.Errorf("loop-delivered event ID = %q, want %q", loopEvt.ID, seedID)
	}

	// The loop acknowledges after dispatch, so nothing stays pending.
	waitFor(t, 3*time.Second, func() bool {
		pending, err := b.client.XPendingExt(context.Background(), "events:claims.filed", "readers", 10)
		return err == nil && len(pending) == 0
	})

	b.StopConsuming()
	if err := <-done; err != nil {
		t.Fatalf("StartConsuming returned error: %v", err)
	}
}

func TestStartConsuming_PatternFiltering(t *testing.T) {
	b, _ := newTestBus(t, Config{Group: "readers"})

	if _, err := b.Publish(context.Background(), "claims.filed", nil, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := b.Publish(context.Background(), "policy.created", nil, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	topics, err := b.discoverTopics(context.Background(), []string{"claims.*"})
	if err != nil {
		t.Fatalf("discoverTopics: %v", err)
	}
	if len(topics) != 1 || topics[0] != "events:claims.filed" {
		t.Fatalf("topics = %v, want [events:claims.filed]", topics)
	}

	all, err := b.discoverTopics(context.Background(), []string{Wildcard})
	if err != nil {
		t.Fatalf("discoverTopics: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("wildcard topics = %v, want both streams", all)
	}
}

func TestStartConsuming_SecondCallFails(t *testing.T) {
	b, _ := newTestBus(t, Config{})

	done := make(chan error, 1)
	go func() { done <- b.StartConsuming(context.Background()) }()

	waitFor(t, time.Second, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.running
	})

	if err := b.StartConsuming(context.Background()); err == nil {
		t.Error("expected error starting an already-consuming bus")
	}

	b.StopConsuming()
	if err := <-done; err != nil {
		t.Fatalf("StartConsuming returned error: %v", err)
	}
}

func TestEnsureGroup_CanceledContextStopsCleanly(t *testing.T) {
	b, _ := newTestBus(t, Config{})

	ctx := context.Background()
	if _, err := b.Publish(ctx, "claims.filed", map[string]string{"id": "1"}, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	topic := TopicFor(b.cfg.StreamPrefix, "claims.filed")

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	// Cancellation during group creation is a shutdown, not a broker fault.
	if err := b.ensureGroup(cctx, topic); err != nil {
		t.Fatalf("ensureGroup with canceled context = %v, want nil", err)
	}

	if err := b.ensureGroup(ctx, topic); err != nil {
		t.Fatalf("ensureGroup: %v", err)
	}
}

func TestClaimPending_ThresholdRespected(t *testing.T) {
	b, _ := newTestBus(t, Config{Group: "readers"})
	ctx := context.Background()
	topic := "events:claims.filed"

	if _, err := b.Publish(ctx, "claims.filed", map[string]string{"claim": "C9"}, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Deliver to a different consumer without acking to create a pending entry.
	if err := b.client.XGroupCreateMkStream(ctx, topic, "readers", "0"); err != nil {
		t.Fatalf("create group: %v", err)
	}
	msgs, err := b.client.XReadGroup(ctx, "readers", "crashed-consumer", topic, 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("XReadGroup: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("seeded messages = %d, want 1", len(msgs))
	}

	var c collector
	b.On("claims.filed", c.handler)

	// Idle time below the threshold: nothing is claimed.
	claimed, err := b.ClaimPending(ctx, topic, time.Hour)
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if claimed != 0 {
		t.Fatalf("claimed = %d, want 0 under threshold", claimed)
	}

	time.Sleep(20 * time.Millisecond)

	// Idle time above the threshold: the entry is claimed, re-delivered, acked.
	claimed, err = b.ClaimPending(ctx, topic, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if claimed != 1 {
		t.Fatalf("claimed = %d, want 1 over threshold", claimed)
	}
	if c.len() != 1 {
		t.Fatalf("re-delivered events = %d, want 1", c.len())
	}

	pending, err := b.client.XPendingExt(ctx, topic, "readers", 10)
	if err != nil {
		t.Fatalf("XPendingExt: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after claim = %d, want 0", len(pending))
	}
}

var errFailed = errSentinel("handler failed")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
