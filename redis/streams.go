package redis

import (
	"context"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Stream operation wrappers used by the event bus. They follow the same
// thin-delegation style as the key-value helpers in client.go: no retry,
// no masking, errors surface as go-redis returns them.

// XAdd appends values to a stream and returns the broker-assigned entry ID.
// maxLen > 0 trims the stream to approximately maxLen entries.
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]interface{}, maxLen int64) (string, error) {
	args := &goredis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return c.rdb.XAdd(ctx, args).Result()
}

// XGroupCreateMkStream creates a consumer group on a stream, creating the
// stream if it does not exist. Creating a group that already exists is a
// no-op: the BUSYGROUP reply is swallowed.
func (c *Client) XGroupCreateMkStream(ctx context.Context, stream, group, start string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && IsBusyGroup(err) {
		return nil
	}
	return err
}

// XReadGroup reads up to count new entries for the consumer, blocking for at
// most block. A nil result with no error means the block timed out empty.
func (c *Client) XReadGroup(ctx context.Context, group, consumer, stream string, count int64, block time.Duration) ([]goredis.XMessage, error) {
	streams, err := c.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return streams[0].Messages, nil
}

// XAck acknowledges entries for a group, advancing its position past them.
func (c *Client) XAck(ctx context.Context, stream, group string, ids ...string) error {
	return c.rdb.XAck(ctx, stream, group, ids...).Err()
}

// XPendingExt lists up to count pending (delivered, unacknowledged) entries
// for a group, including per-entry idle time and delivery count.
func (c *Client) XPendingExt(ctx context.Context, stream, group string, count int64) ([]goredis.XPendingExt, error) {
	pending, err := c.rdb.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return pending, nil
}

// XClaim reassigns pending entries idle for at least minIdle to consumer and
// returns the claimed messages.
func (c *Client) XClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]goredis.XMessage, error) {
	msgs, err := c.rdb.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return msgs, nil
}

// ScanKeys returns all keys matching pattern using cursor-based SCAN.
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// IsBusyGroup reports whether err is the BUSYGROUP reply Redis returns when
// creating a consumer group that already exists.
func IsBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
