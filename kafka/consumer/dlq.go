package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// DLQ message headers identifying the failed original.
const (
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// DLQTopic derives the dead-letter topic for a topic: <topic>.dlq.
func DLQTopic(topic string) string {
	return topic + ".dlq"
}

// DeadLetterRecord is the value published to a dead-letter topic. It always
// references a resolvable original topic and message; records are never
// replayed automatically.
type DeadLetterRecord struct {
	OriginalTopic   string            `json:"originalTopic"`
	OriginalMessage DeadLetterMessage `json:"originalMessage"`
	Error           DeadLetterError   `json:"error"`
}

// DeadLetterMessage captures the failed message as it was delivered.
type DeadLetterMessage struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
}

// DeadLetterError captures the handler failure.
type DeadLetterError struct {
	Message   string    `json:"message"`
	Stack     string    `json:"stack,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// dlqPublisher is the writer dead-letter records go through. Satisfied by
// *producer.Producer.
type dlqPublisher interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// newDeadLetterMessage builds the DLQ message for a failed delivery.
func newDeadLetterMessage(d Delivery, handlerErr error, stack string, failedAt time.Time) (kafkago.Message, error) {
	record := DeadLetterRecord{
		OriginalTopic: d.Topic,
		OriginalMessage: DeadLetterMessage{
			Key:       d.Message.Key,
			Value:     string(d.Message.Value),
			Offset:    d.Message.Offset,
			Timestamp: d.Message.Timestamp,
		},
		Error: DeadLetterError{
			Message:   handlerErr.Error(),
			Stack:     stack,
			Timestamp: failedAt,
		},
	}

	value, err := json.Marshal(record)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("marshal dead letter record: %w", err)
	}

	headers := []kafkago.Header{
		{Key: HeaderOriginalTopic, Value: []byte(d.Topic)},
		{Key: HeaderErrorMessage, Value: []byte(handlerErr.Error())},
		{Key: HeaderFailedAt, Value: []byte(failedAt.UTC().Format(time.RFC3339Nano))},
	}
	for k, v := range d.Message.Headers {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	return kafkago.Message{
		Topic:   DLQTopic(d.Topic),
		Key:     []byte(d.Message.Key),
		Value:   value,
		Headers: headers,
	}, nil
}
