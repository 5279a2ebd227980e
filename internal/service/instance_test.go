package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sitecheck/internal/db"
	"sitecheck/internal/model"
	"sitecheck/internal/pubsub"
	"sitecheck/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type published struct {
	channel string
	event   map[string]interface{}
}

type recordingBus struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (b *recordingBus) PublishInstance(instanceID string, event map[string]interface{}) error {
	return b.record(pubsub.InstanceChannel(instanceID), event)
}

func (b *recordingBus) PublishProject(projectID string, event map[string]interface{}) error {
	return b.record(pubsub.ProjectChannel(projectID), event)
}

func (b *recordingBus) record(channel string, event map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, published{channel, event})
	return nil
}

func (b *recordingBus) ReplayInstance(ctx context.Context, instanceID string, since, limit int64) ([]pubsub.StreamEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []pubsub.StreamEvent
	for i, p := range b.events {
		if p.channel == pubsub.InstanceChannel(instanceID) && int64(i+1) > since {
			out = append(out, pubsub.StreamEvent{Channel: p.channel, Sequence: int64(i + 1), Event: p.event})
		}
	}
	return out, nil
}

func (b *recordingBus) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, p := range b.events {
		out = append(out, p.channel+" "+p.event["type"].(string))
	}
	return out
}

func newInstanceService(t *testing.T) (*InstanceService, *db.Queries, *recordingBus) {
	t.Helper()
	q := db.NewQueries()
	require.NoError(t, q.Apply(db.DemoSeed()))
	bus := &recordingBus{}
	return NewInstanceService(q, schema.NewCompilerWithCache(16), bus, nil), q, bus
}

func TestInstanceService_CreateResponse(t *testing.T) {
	svc, _, bus := newInstanceService(t)
	ctx := context.Background()

	resp, err := svc.CreateResponse(ctx, "inst-demo", []byte(`{"itemTemplateId": "item-gutters", "status": "approved"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "inst-demo", resp.InstanceID)
	assert.Equal(t, model.StatusApproved, resp.Status)
	assert.NotNil(t, resp.ImageURLs)
	assert.NotNil(t, resp.UpdatedAt)

	inst, err := svc.GetInstance(ctx, "inst-demo")
	require.NoError(t, err)
	require.Len(t, inst.Responses, 1)
	assert.Equal(t, resp.ID, inst.Responses[0].ID)

	assert.Equal(t, []string{"instance:inst-demo response.created"}, bus.types())
}

func TestInstanceService_CreateDefaultsToPending(t *testing.T) {
	svc, _, _ := newInstanceService(t)

	resp, err := svc.CreateResponse(context.Background(), "inst-demo", []byte(`{"itemTemplateId": "item-walls", "notes": "hairline crack"}`))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, resp.Status)
	assert.Equal(t, "hairline crack", resp.NotesValue())
}

func TestInstanceService_CreateDuplicate(t *testing.T) {
	svc, _, _ := newInstanceService(t)
	ctx := context.Background()

	_, err := svc.CreateResponse(ctx, "inst-demo", []byte(`{"itemTemplateId": "item-gutters"}`))
	require.NoError(t, err)

	_, err = svc.CreateResponse(ctx, "inst-demo", []byte(`{"itemTemplateId": "item-gutters", "status": "rejected"}`))
	assert.ErrorIs(t, err, ErrResponseExists)
}

func TestInstanceService_CreateRejects(t *testing.T) {
	svc, _, bus := newInstanceService(t)
	ctx := context.Background()

	_, err := svc.CreateResponse(ctx, "inst-demo", []byte(`{"itemTemplateId": "item-nope"}`))
	assert.ErrorIs(t, err, ErrUnknownItem)

	_, err = svc.CreateResponse(ctx, "inst-demo", []byte(`{"itemTemplateId": "item-gutters", "status": "pass"}`))
	assert.ErrorIs(t, err, schema.ErrInvalid)

	_, err = svc.CreateResponse(ctx, "inst-missing", []byte(`{"itemTemplateId": "item-gutters"}`))
	assert.ErrorIs(t, err, db.ErrNotFound)

	assert.Empty(t, bus.types())
}

func TestInstanceService_UpdateResponse(t *testing.T) {
	svc, _, bus := newInstanceService(t)
	ctx := context.Background()

	created, err := svc.CreateResponse(ctx, "inst-demo", []byte(`{"itemTemplateId": "item-facade", "status": "approved"}`))
	require.NoError(t, err)

	updated, err := svc.UpdateResponse(ctx, "inst-demo", created.ID, []byte(`{"imageUrls": ["projects/p/a.jpg"]}`))
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, updated.Status)
	assert.Equal(t, []string{"projects/p/a.jpg"}, updated.ImageURLs)

	_, err = svc.UpdateResponse(ctx, "inst-demo", "missing", []byte(`{"notes": "x"}`))
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, err = svc.UpdateResponse(ctx, "inst-demo", created.ID, []byte(`{"itemTemplateId": "item-walls"}`))
	assert.ErrorIs(t, err, schema.ErrInvalid)

	assert.Equal(t, []string{
		"instance:inst-demo response.created",
		"instance:inst-demo response.updated",
	}, bus.types())
}

func TestInstanceService_CompleteInspection(t *testing.T) {
	svc, q, bus := newInstanceService(t)
	ctx := context.Background()

	// no completion gating: an empty checklist completes
	done, err := svc.CompleteInspection(ctx, "proj-demo", "insp-demo", nil)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)

	_, err = svc.CompleteInspection(ctx, "proj-demo", "insp-demo", []byte(`{"signature": "projects/proj-demo/sig.png"}`))
	require.NoError(t, err)
	sig, err := q.GetCompletionSignature(ctx, "inst-demo")
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "projects/proj-demo/sig.png", *sig)

	_, err = svc.CompleteInspection(ctx, "proj-other", "insp-demo", nil)
	assert.ErrorIs(t, err, db.ErrNotFound)

	assert.Contains(t, bus.types(), "project:proj-demo inspection.completed")
	assert.Contains(t, bus.types(), "instance:inst-demo inspection.completed")
}

func TestInstanceService_PublishFailureDoesNotFailWrite(t *testing.T) {
	svc, _, bus := newInstanceService(t)
	bus.err = errors.New("redis down")

	_, err := svc.CreateResponse(context.Background(), "inst-demo", []byte(`{"itemTemplateId": "item-gutters"}`))
	assert.NoError(t, err)
}

func TestInstanceService_PublishFailuresAreLogged(t *testing.T) {
	q := db.NewQueries()
	require.NoError(t, q.Apply(db.DemoSeed()))
	core, logs := observer.New(zapcore.WarnLevel)
	bus := &recordingBus{err: errors.New("redis down")}
	svc := NewInstanceService(q, schema.NewCompilerWithCache(4), bus, zap.New(core))

	_, err := svc.CompleteInspection(context.Background(), "proj-demo", "insp-demo", nil)
	require.NoError(t, err)

	var channels []string
	for _, entry := range logs.FilterMessage("Failed to publish event").All() {
		channels = append(channels, entry.ContextMap()["channel"].(string))
	}
	assert.ElementsMatch(t, []string{"instance:inst-demo", "project:proj-demo"}, channels)
}

func TestInstanceService_Events(t *testing.T) {
	svc, _, bus := newInstanceService(t)
	ctx := context.Background()

	_, err := svc.Events(ctx, "inst-demo", 0, 0)
	assert.ErrorIs(t, err, ErrEventsUnavailable)

	svc.SetEventLog(bus)
	_, err = svc.CreateResponse(ctx, "inst-demo", []byte(`{"itemTemplateId": "item-gutters"}`))
	require.NoError(t, err)

	events, err := svc.Events(ctx, "inst-demo", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, pubsub.EventResponseCreated, events[0].Event["type"])

	_, err = svc.Events(ctx, "inst-missing", 0, 0)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestInstanceService_NilBus(t *testing.T) {
	q := db.NewQueries()
	require.NoError(t, q.Apply(db.DemoSeed()))
	svc := NewInstanceService(q, schema.NewCompilerWithCache(4), nil, nil)

	_, err := svc.CreateResponse(context.Background(), "inst-demo", []byte(`{"itemTemplateId": "item-gutters"}`))
	require.NoError(t, err)
	_, err = svc.CompleteInspection(context.Background(), "proj-demo", "insp-demo", []byte(`{}`))
	require.NoError(t, err)
}
