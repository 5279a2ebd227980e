package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event types published by the development API
const (
	EventResponseCreated     = "response.created"
	EventResponseUpdated     = "response.updated"
	EventInspectionCompleted = "inspection.completed"
)

type Bus struct {
	rdb     *redis.Client
	log     *zap.Logger
	ctx     context.Context
	streams *Streams
}

func New(rdb *redis.Client, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		rdb:     rdb,
		log:     log,
		ctx:     context.Background(),
		streams: NewStreams(rdb, log),
	}
}

// Streams returns the replay log behind the bus
func (b *Bus) Streams() *Streams {
	return b.streams
}

func InstanceChannel(instanceID string) string {
	return "instance:" + instanceID
}

func ProjectChannel(projectID string) string {
	return "project:" + projectID
}

// PublishInstance publishes an event to a checklist instance's channel
func (b *Bus) PublishInstance(instanceID string, event map[string]interface{}) error {
	return b.Publish(InstanceChannel(instanceID), event)
}

// PublishProject publishes an event to a project's channel
func (b *Bus) PublishProject(projectID string, event map[string]interface{}) error {
	return b.Publish(ProjectChannel(projectID), event)
}

// ReplayInstance returns the instance events after sequence since
func (b *Bus) ReplayInstance(ctx context.Context, instanceID string, since, limit int64) ([]StreamEvent, error) {
	return b.streams.ReplayEvents(ctx, InstanceChannel(instanceID), since, limit)
}

// Subscribe listens on the channels of the given instances
func (b *Bus) Subscribe(ctx context.Context, instanceIDs ...string) *redis.PubSub {
	channels := make([]string, len(instanceIDs))
	for i, id := range instanceIDs {
		channels[i] = InstanceChannel(id)
	}
	return b.rdb.Subscribe(ctx, channels...)
}

// Publish publishes an event to a channel and appends it to the channel's stream
func (b *Bus) Publish(channel string, event map[string]interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = b.rdb.Publish(b.ctx, channel, data).Err()
	if err != nil {
		b.log.Error("Failed to publish event", zap.String("channel", channel), zap.Error(err))
		return err
	}

	seq, err := b.streams.PublishEvent(b.ctx, channel, event)
	if err != nil {
		b.log.Warn("Failed to publish to stream", zap.String("channel", channel), zap.Error(err))
	}

	b.log.Debug("Published event", zap.String("channel", channel), zap.Int64("seq", seq), zap.String("event", string(data)))
	return nil
}
