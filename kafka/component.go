package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/insurelane/eventkit/component"
	"github.com/insurelane/eventkit/logger"
)

// ProducerCloser is satisfied by any producer that can be closed.
type ProducerCloser interface {
	Close() error
}

// ConsumerService is the lifecycle surface the component needs from a
// consumer subscription manager. Satisfied by *consumer.Service.
type ConsumerService interface {
	Groups() []string
	Shutdown(ctx context.Context) error
}

// Component ties the injected producer and consumer service into the
// component registry lifecycle.
type Component struct {
	cfg       Config
	log       *logger.Logger
	producer  ProducerCloser
	consumers ConsumerService
	mu        sync.Mutex
	running   bool
}

// ensure Component satisfies component.Component
var _ component.Component = (*Component)(nil)

// NewComponent creates a Kafka component for use with the component registry.
func NewComponent(cfg Config, log *logger.Logger) *Component {
	return &Component{
		cfg: cfg,
		log: log.WithComponent("kafka"),
	}
}

// SetProducer injects a producer into the component. Must be called before Start.
func (c *Component) SetProducer(p ProducerCloser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.producer = p
}

// SetConsumerService injects the consumer service. Must be called before Start.
func (c *Component) SetConsumerService(cs ConsumerService) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers = cs
}

// Producer returns the underlying ProducerCloser, or nil if not set.
func (c *Component) Producer() ProducerCloser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.producer
}

// Name returns the component name.
func (c *Component) Name() string { return "kafka" }

// Start marks the component running. Connections are established lazily by
// the producer and consumer service; Health probes broker reachability.
func (c *Component) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	c.running = true
	c.log.Info("Kafka component started", map[string]interface{}{
		"brokers": c.cfg.Brokers,
	})
	return nil
}

// Stop shuts down all consumer groups and closes the producer.
func (c *Component) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	c.log.Info("Kafka component stopping")

	if c.consumers != nil {
		if err := c.consumers.Shutdown(ctx); err != nil {
			c.log.Error("Consumer shutdown errors", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if c.producer != nil {
		_ = c.producer.Close()
		c.producer = nil
	}

	c.running = false
	return nil
}

// Health checks broker connectivity by dialling the first broker.
func (c *Component) Health(ctx context.Context) component.Health {
	c.mu.Lock()
	running := c.running
	cfg := c.cfg
	c.mu.Unlock()

	if !running {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: "kafka not started",
		}
	}

	if len(cfg.Brokers) == 0 {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: "no brokers configured",
		}
	}

	dialer, err := CreateDialer(&cfg)
	if err != nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: fmt.Sprintf("dialer: %v", err),
		}
	}

	conn, err := dialer.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: fmt.Sprintf("broker unreachable: %v", err),
		}
	}
	defer conn.Close()

	if _, err := conn.Brokers(); err != nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusDegraded,
			Message: fmt.Sprintf("broker metadata: %v", err),
		}
	}

	return component.Health{
		Name:   c.Name(),
		Status: component.StatusHealthy,
	}
}

// Describe returns infrastructure summary info for the bootstrap display.
func (c *Component) Describe() component.Description {
	c.mu.Lock()
	defer c.mu.Unlock()

	details := fmt.Sprintf("brokers=%v", c.cfg.Brokers)
	if c.consumers != nil {
		if groups := c.consumers.Groups(); len(groups) > 0 {
			details += fmt.Sprintf(" groups=%v", groups)
		}
	}
	if c.producer != nil {
		details += " producer=yes"
	}
	return component.Description{
		Name:    "Kafka",
		Type:    "kafka",
		Details: details,
	}
}
