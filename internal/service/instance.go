package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sitecheck/internal/db"
	"sitecheck/internal/model"
	"sitecheck/internal/pubsub"
	"sitecheck/internal/schema"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

var (
	ErrResponseExists    = errors.New("response already exists")
	ErrUnknownItem       = errors.New("unknown item template")
	ErrEventsUnavailable = errors.New("event log unavailable")
)

type EventBus interface {
	PublishInstance(instanceID string, event map[string]interface{}) error
	PublishProject(projectID string, event map[string]interface{}) error
}

type EventLog interface {
	ReplayInstance(ctx context.Context, instanceID string, since, limit int64) ([]pubsub.StreamEvent, error)
}

// InstanceService is plain CRUD over checklist instances and their
// responses. It enforces one response per item and instance but performs
// no completion gating.
type InstanceService struct {
	queries    *db.Queries
	schemaComp *schema.Compiler
	bus        EventBus
	events     EventLog
	log        *zap.Logger
	now        func() time.Time
}

// NewInstanceService builds the service. bus may be nil, in which case no
// events are published.
func NewInstanceService(queries *db.Queries, schemaComp *schema.Compiler, bus EventBus, log *zap.Logger) *InstanceService {
	if log == nil {
		log = zap.NewNop()
	}
	return &InstanceService{
		queries:    queries,
		schemaComp: schemaComp,
		bus:        bus,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetEventLog enables event replay
func (s *InstanceService) SetEventLog(events EventLog) {
	s.events = events
}

type createResponseBody struct {
	ItemTemplateID string `json:"itemTemplateId"`
	model.ResponseFields
}

type completeBody struct {
	Signature *string `json:"signature,omitempty"`
}

func (s *InstanceService) decode(ctx context.Context, name string, body []byte, dst interface{}) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}
	if err := s.schemaComp.ValidateNamed(ctx, name, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrInvalid, err)
	}
	return nil
}

func (s *InstanceService) GetInstance(ctx context.Context, id string) (*model.ChecklistInstance, error) {
	inst, err := s.queries.GetInstanceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// CreateResponse records the first response for an item template. A second
// create for the same item fails with ErrResponseExists.
func (s *InstanceService) CreateResponse(ctx context.Context, instanceID string, body []byte) (*model.ItemResponse, error) {
	var in createResponseBody
	if err := s.decode(ctx, schema.CreateResponse, body, &in); err != nil {
		return nil, err
	}

	inst, err := s.queries.GetInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if _, ok := inst.Template.FindItem(in.ItemTemplateID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, in.ItemTemplateID)
	}

	now := s.now()
	resp := in.ResponseFields.Apply(model.ItemResponse{
		ID:             ulid.Make().String(),
		InstanceID:     instanceID,
		ItemTemplateID: in.ItemTemplateID,
		Status:         model.StatusPending,
		ImageURLs:      []string{},
	})
	resp.UpdatedAt = &now

	created, err := s.queries.CreateResponse(ctx, resp)
	if errors.Is(err, db.ErrDuplicate) {
		return nil, fmt.Errorf("%w: item %s", ErrResponseExists, in.ItemTemplateID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create response: %w", err)
	}

	s.publish(inst, map[string]interface{}{
		"type":           pubsub.EventResponseCreated,
		"instanceId":     instanceID,
		"responseId":     created.ID,
		"itemTemplateId": created.ItemTemplateID,
		"status":         string(created.Status),
	})
	return &created, nil
}

// UpdateResponse applies a partial write to an existing response
func (s *InstanceService) UpdateResponse(ctx context.Context, instanceID, responseID string, body []byte) (*model.ItemResponse, error) {
	var fields model.ResponseFields
	if err := s.decode(ctx, schema.UpdateResponse, body, &fields); err != nil {
		return nil, err
	}

	inst, err := s.queries.GetInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	updated, err := s.queries.UpdateResponse(ctx, instanceID, responseID, fields, s.now())
	if err != nil {
		return nil, err
	}

	s.publish(inst, map[string]interface{}{
		"type":           pubsub.EventResponseUpdated,
		"instanceId":     instanceID,
		"responseId":     updated.ID,
		"itemTemplateId": updated.ItemTemplateID,
		"status":         string(updated.Status),
	})
	return &updated, nil
}

// CompleteInspection marks the addressed instance completed and stores the
// optional signature
func (s *InstanceService) CompleteInspection(ctx context.Context, projectID, inspectionID string, body []byte) (*model.ChecklistInstance, error) {
	var in completeBody
	if err := s.decode(ctx, schema.CompleteInspection, body, &in); err != nil {
		return nil, err
	}

	inst, err := s.queries.GetInstanceByInspection(ctx, projectID, inspectionID)
	if err != nil {
		return nil, err
	}

	done, err := s.queries.CompleteInstance(ctx, inst.ID, in.Signature, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to complete inspection: %w", err)
	}

	event := map[string]interface{}{
		"type":         pubsub.EventInspectionCompleted,
		"instanceId":   done.ID,
		"inspectionId": inspectionID,
		"signed":       in.Signature != nil,
	}
	s.publish(done, event)
	if s.bus != nil {
		s.logPublish(pubsub.ProjectChannel(projectID), event, s.bus.PublishProject(projectID, event))
	}
	return &done, nil
}

// Events replays the change events of an instance after sequence since
func (s *InstanceService) Events(ctx context.Context, instanceID string, since, limit int64) ([]pubsub.StreamEvent, error) {
	if _, err := s.queries.GetInstanceByID(ctx, instanceID); err != nil {
		return nil, err
	}
	if s.events == nil {
		return nil, ErrEventsUnavailable
	}
	return s.events.ReplayInstance(ctx, instanceID, since, limit)
}

func (s *InstanceService) publish(inst model.ChecklistInstance, event map[string]interface{}) {
	if s.bus == nil {
		return
	}
	s.logPublish(pubsub.InstanceChannel(inst.ID), event, s.bus.PublishInstance(inst.ID, event))
}

func (s *InstanceService) logPublish(channel string, event map[string]interface{}, err error) {
	if err == nil {
		return
	}
	s.log.Warn("Failed to publish event",
		zap.String("channel", channel),
		zap.Any("type", event["type"]),
		zap.Error(err),
	)
}
