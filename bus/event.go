package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Wildcard subscribes a handler to every event regardless of type.
const Wildcard = "*"

// Event is the immutable envelope appended to a stream. ID is assigned by
// the broker on publish and is unique within the event's topic. Metadata
// carries provenance (publisher identity) and is opaque to the bus.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// UnmarshalPayload decodes the event payload into v.
func (e Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// TopicFor returns the stream name for an event type: <prefix><type>.
func TopicFor(prefix, eventType string) string {
	return prefix + eventType
}

// TypeOf returns the event type encoded in a topic name, stripping prefix.
func TypeOf(prefix, topic string) string {
	return strings.TrimPrefix(topic, prefix)
}

// stream entry field names
const (
	fieldType      = "type"
	fieldTimestamp = "timestamp"
	fieldPayload   = "payload"
	fieldMetadata  = "metadata"
)

// encodeEvent flattens an event into stream entry values. The ID is omitted:
// the broker assigns it on append.
func encodeEvent(evt Event) (map[string]interface{}, error) {
	values := map[string]interface{}{
		fieldType:      evt.Type,
		fieldTimestamp: evt.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if len(evt.Payload) > 0 {
		values[fieldPayload] = string(evt.Payload)
	}
	if len(evt.Metadata) > 0 {
		meta, err := json.Marshal(evt.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		values[fieldMetadata] = string(meta)
	}
	return values, nil
}

// decodeEvent rebuilds an event from a stream entry, taking the entry ID as
// the event ID.
func decodeEvent(msg goredis.XMessage) (Event, error) {
	evt := Event{ID: msg.ID}

	if v, ok := msg.Values[fieldType].(string); ok {
		evt.Type = v
	}
	if evt.Type == "" {
		return Event{}, fmt.Errorf("entry %s: missing event type", msg.ID)
	}

	if v, ok := msg.Values[fieldTimestamp].(string); ok {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return Event{}, fmt.Errorf("entry %s: invalid timestamp %q: %w", msg.ID, v, err)
		}
		evt.Timestamp = ts
	}

	if v, ok := msg.Values[fieldPayload].(string); ok {
		evt.Payload = json.RawMessage(v)
	}

	if v, ok := msg.Values[fieldMetadata].(string); ok {
		if err := json.Unmarshal([]byte(v), &evt.Metadata); err != nil {
			return Event{}, fmt.Errorf("entry %s: invalid metadata: %w", msg.ID, err)
		}
	}

	return evt, nil
}
