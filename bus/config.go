package bus

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Config holds event bus behavior configuration. Connection settings belong
// to the redis client the bus is constructed with.
type Config struct {
	// StreamPrefix prefixes event types to form stream names.
	StreamPrefix string `mapstructure:"stream_prefix"`

	// Group is the consumer group used by the consumption loop.
	Group string `mapstructure:"group"`

	// Consumer identifies this instance within the group. Defaults to
	// <hostname>-<uuid> so concurrent instances never collide.
	Consumer string `mapstructure:"consumer"`

	// BatchSize bounds how many entries a single read returns.
	BatchSize int64 `mapstructure:"batch_size"`

	// BlockTimeout is how long a read blocks waiting for new entries.
	BlockTimeout string `mapstructure:"block_timeout"`

	// DiscoverInterval is how often the consumption loop re-scans for
	// topics matching its patterns (also the sleep when none match).
	DiscoverInterval string `mapstructure:"discover_interval"`

	// MaxStreamLen caps stream length on publish (approximate trim).
	// Zero means unbounded.
	MaxStreamLen int64 `mapstructure:"max_stream_len"`

	// ClaimBatch bounds how many pending entries a claim pass inspects.
	ClaimBatch int64 `mapstructure:"claim_batch"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.StreamPrefix == "" {
		c.StreamPrefix = "events:"
	}
	if c.Group == "" {
		c.Group = "eventkit"
	}
	if c.Consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "consumer"
		}
		c.Consumer = host + "-" + uuid.NewString()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BlockTimeout == "" {
		c.BlockTimeout = "5s"
	}
	if c.DiscoverInterval == "" {
		c.DiscoverInterval = "5s"
	}
	if c.ClaimBatch <= 0 {
		c.ClaimBatch = 100
	}
}

// Validate checks that required fields are present and parseable.
func (c *Config) Validate() error {
	if c.StreamPrefix == "" {
		return fmt.Errorf("stream_prefix is required")
	}
	if c.Group == "" {
		return fmt.Errorf("group is required")
	}
	for _, d := range []struct {
		name, val string
	}{
		{"block_timeout", c.BlockTimeout},
		{"discover_interval", c.DiscoverInterval},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.val, err)
		}
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0")
	}
	if c.MaxStreamLen < 0 {
		return fmt.Errorf("max_stream_len must be >= 0")
	}
	return nil
}

// ParseDuration parses a duration string, returning zero on empty input.
func ParseDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
