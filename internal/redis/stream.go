package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/teleconsult-booking/internal/notify"
)

// streamMaxLen caps the events stream; trimming is approximate.
const streamMaxLen = 10000

// StreamPublisher appends notification events to a Redis stream for the
// notify worker to deliver.
type StreamPublisher struct {
	client *redis.Client
	stream string
}

func NewStreamPublisher(client *redis.Client, stream string) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev notify.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"type":    string(ev.Type),
			"payload": payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Delivery is one stream entry. Err is set when the entry could not be
// decoded; such entries should be acknowledged and dropped.
type Delivery struct {
	ID    string
	Event notify.Event
	Err   error
}

// StreamConsumer reads a stream through a consumer group.
type StreamConsumer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
}

func NewStreamConsumer(client *redis.Client, stream, group, consumer string) *StreamConsumer {
	return &StreamConsumer{client: client, stream: stream, group: group, consumer: consumer}
}

// EnsureGroup creates the consumer group (and the stream) if missing.
func (c *StreamConsumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", c.group, err)
	}
	return nil
}

// Read waits up to block for new entries. A timeout yields no deliveries and
// no error.
func (c *StreamConsumer) Read(ctx context.Context, count int64, block time.Duration) ([]Delivery, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", c.stream, err)
	}

	var out []Delivery
	for _, s := range streams {
		for _, msg := range s.Messages {
			out = append(out, decode(msg))
		}
	}
	return out, nil
}

// ClaimStale takes over entries another consumer read but never acknowledged
// within minIdle.
func (c *StreamConsumer) ClaimStale(ctx context.Context, minIdle time.Duration, count int64) ([]Delivery, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xautoclaim %s: %w", c.stream, err)
	}

	out := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, decode(msg))
	}
	return out, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", c.stream, err)
	}
	return nil
}

func decode(msg redis.XMessage) Delivery {
	d := Delivery{ID: msg.ID}
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		d.Err = fmt.Errorf("entry %s has no payload", msg.ID)
		return d
	}
	if err := json.Unmarshal([]byte(raw), &d.Event); err != nil {
		d.Err = fmt.Errorf("decode entry %s: %w", msg.ID, err)
	}
	return d
}
