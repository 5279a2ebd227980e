package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamEvent is one entry of a channel's replay log
type StreamEvent struct {
	Channel   string                 `json:"channel"`
	Sequence  int64                  `json:"seq"`
	Event     map[string]interface{} `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
}

// Streams keeps a Redis Stream per channel so clients can catch up on
// events they missed
type Streams struct {
	rdb    *redis.Client
	log    *zap.Logger
	maxLen int64
}

// DefaultMaxLen bounds each channel stream
const DefaultMaxLen = 1000

func NewStreams(rdb *redis.Client, log *zap.Logger) *Streams {
	return &Streams{
		rdb:    rdb,
		log:    log,
		maxLen: DefaultMaxLen,
	}
}

func streamKey(channel string) string {
	return "stream:" + channel
}

// PublishEvent appends an event and returns its channel sequence number
func (s *Streams) PublishEvent(ctx context.Context, channel string, event map[string]interface{}) (int64, error) {
	seq, err := s.rdb.Incr(ctx, "seq:"+channel).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}

	entry := StreamEvent{
		Channel:   channel,
		Sequence:  seq,
		Event:     event,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(channel),
		MaxLen: s.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to add to stream: %w", err)
	}

	s.log.Debug("Published event to stream",
		zap.String("channel", channel),
		zap.Int64("sequence", seq),
		zap.String("stream_id", id),
	)
	return seq, nil
}

// ReplayEvents returns up to limit events with a sequence above sinceSeq,
// oldest first. limit <= 0 means no limit.
func (s *Streams) ReplayEvents(ctx context.Context, channel string, sinceSeq, limit int64) ([]StreamEvent, error) {
	msgs, err := s.rdb.XRange(ctx, streamKey(channel), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	events := []StreamEvent{}
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}

		var entry StreamEvent
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			s.log.Warn("Failed to unmarshal event", zap.String("stream_id", msg.ID), zap.Error(err))
			continue
		}
		if entry.Sequence <= sinceSeq {
			continue
		}

		events = append(events, entry)
		if limit > 0 && int64(len(events)) >= limit {
			break
		}
	}
	return events, nil
}
