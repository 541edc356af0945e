package consumer

import (
	"fmt"
	"time"

	"github.com/insurelane/eventkit/validation"
)

// Options configures one group subscription.
type Options struct {
	// GroupID names the consumer group sharing progress on Topics.
	GroupID string `json:"group_id" validate:"required"`

	// Topics to subscribe the group to.
	Topics []string `json:"topics" validate:"required,min=1,dive,required"`

	// FromBeginning starts a group with no committed offsets at the
	// earliest offset instead of the latest.
	FromBeginning bool `json:"from_beginning"`

	// AutoCommit batches offset commits asynchronously every
	// AutoCommitInterval. When disabled, each commit is synchronous.
	// Either way a message is committed only after it has been handled
	// (or dead-lettered). Defaults to true.
	AutoCommit *bool `json:"auto_commit"`

	// AutoCommitInterval is the async commit flush interval.
	AutoCommitInterval string `json:"auto_commit_interval"`

	// SessionTimeout and HeartbeatInterval tune group membership;
	// empty values inherit the shared kafka config.
	SessionTimeout    string `json:"session_timeout"`
	HeartbeatInterval string `json:"heartbeat_interval"`

	// MaxRetries is how many times a handler is invoked for one unit
	// before it is routed to the dead-letter topic.
	MaxRetries int `json:"max_retries"`

	// RetryBackoff is the initial delay between handler retries.
	RetryBackoff string `json:"retry_backoff"`

	// BatchSize and BatchWait bound batch accumulation in batch mode:
	// a batch is delivered when it reaches BatchSize messages or when
	// BatchWait has elapsed since its first message.
	BatchSize int    `json:"batch_size"`
	BatchWait string `json:"batch_wait"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (o *Options) ApplyDefaults() {
	if o.AutoCommit == nil {
		enabled := true
		o.AutoCommit = &enabled
	}
	if o.AutoCommitInterval == "" {
		o.AutoCommitInterval = "5s"
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoff == "" {
		o.RetryBackoff = "100ms"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.BatchWait == "" {
		o.BatchWait = "1s"
	}
}

// Validate checks that required fields are present and parseable.
func (o *Options) Validate() error {
	if err := validation.Validate(o); err != nil {
		return err
	}
	for _, d := range []struct {
		name, val string
	}{
		{"auto_commit_interval", o.AutoCommitInterval},
		{"retry_backoff", o.RetryBackoff},
		{"batch_wait", o.BatchWait},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.val, err)
		}
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0")
	}
	return nil
}

func (o *Options) autoCommit() bool {
	return o.AutoCommit == nil || *o.AutoCommit
}

func parseDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
