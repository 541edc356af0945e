package bus

import (
	"context"
	"fmt"

	"github.com/insurelane/eventkit/component"
	"github.com/insurelane/eventkit/logger"
	"github.com/insurelane/eventkit/resilience"
)

// Component wraps a Bus and implements component.Component, running the
// consumption loop in the background for the configured patterns.
type Component struct {
	bus      *Bus
	patterns []string
	log      *logger.Logger
	degraded bool
}

// NewComponent creates a bus component consuming the given patterns.
func NewComponent(b *Bus, log *logger.Logger, patterns ...string) *Component {
	return &Component{
		bus:      b,
		patterns: patterns,
		log:      log.WithComponent("bus"),
	}
}

var _ component.Component = (*Component)(nil)
var _ component.Describable = (*Component)(nil)

// Bus returns the wrapped bus.
func (c *Component) Bus() *Bus { return c.bus }

// Name returns the component name.
func (c *Component) Name() string { return "bus" }

// Start verifies broker connectivity (with backoff) and launches the
// consumption loop. A broker that is unreachable at startup does not fail
// Start: the component comes up degraded and the loop keeps retrying, so the
// process can still serve non-messaging functionality.
func (c *Component) Start(ctx context.Context) error {
	err := resilience.RetryFunc(ctx, resilience.DefaultRetryConfig(), func() error {
		return c.bus.client.Ping(ctx)
	})
	if err != nil {
		c.degraded = true
		c.log.Error("Broker unreachable at startup, continuing degraded", map[string]interface{}{
			"error": err.Error(),
		})
	}

	go func() {
		if err := c.bus.StartConsuming(context.Background(), c.patterns...); err != nil {
			c.log.Error("Consumption stopped with error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	c.log.Info("Bus component started", map[string]interface{}{
		"group":    c.bus.cfg.Group,
		"patterns": c.patterns,
	})
	return nil
}

// Stop halts the consumption loop, letting in-flight handlers finish.
func (c *Component) Stop(_ context.Context) error {
	c.bus.StopConsuming()
	c.log.Info("Bus component stopped")
	return nil
}

// Health reports broker connectivity.
func (c *Component) Health(ctx context.Context) component.Health {
	if err := c.bus.client.Ping(ctx); err != nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
		}
	}
	status := component.StatusHealthy
	if c.degraded {
		status = component.StatusDegraded
	}
	return component.Health{Name: c.Name(), Status: status}
}

// Describe returns infrastructure summary info for the startup display.
func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Event Bus",
		Type:    "bus",
		Details: fmt.Sprintf("group=%s prefix=%s batch=%d", c.bus.cfg.Group, c.bus.cfg.StreamPrefix, c.bus.cfg.BatchSize),
	}
}
