package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sitecheck/internal/model"
	"sitecheck/internal/storage"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

type instanceRow struct {
	instance  model.ChecklistInstance
	signature *string
}

// Queries holds the development tables. Every read returns a deep copy.
type Queries struct {
	mu        sync.RWMutex
	templates map[string]model.ChecklistTemplate
	instances map[string]*instanceRow
	files     map[string]storage.FileMetadata
}

func NewQueries() *Queries {
	return &Queries{
		templates: make(map[string]model.ChecklistTemplate),
		instances: make(map[string]*instanceRow),
		files:     make(map[string]storage.FileMetadata),
	}
}

// Apply inserts the seed. Instances without an embedded template take the
// seeded template named by TemplateID.
func (q *Queries) Apply(seed Seed) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, tpl := range seed.Templates {
		if tpl.ID == "" {
			return fmt.Errorf("seed template without id")
		}
		q.templates[tpl.ID] = tpl.Clone()
	}

	for _, inst := range seed.Instances {
		if inst.ID == "" {
			return fmt.Errorf("seed instance without id")
		}
		if len(inst.Template.Subsections) == 0 {
			tpl, ok := q.templates[inst.TemplateID]
			if !ok {
				return fmt.Errorf("instance %s: template %q: %w", inst.ID, inst.TemplateID, ErrNotFound)
			}
			inst.Template = tpl.Clone()
		}
		if inst.TemplateID == "" {
			inst.TemplateID = inst.Template.ID
		}
		if inst.Status == "" {
			inst.Status = model.InstanceInProgress
		}
		q.instances[inst.ID] = &instanceRow{instance: inst.Clone()}
	}
	return nil
}

func (q *Queries) GetInstanceByID(ctx context.Context, id string) (model.ChecklistInstance, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	row, ok := q.instances[id]
	if !ok {
		return model.ChecklistInstance{}, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	return row.instance.Clone(), nil
}

// GetInstanceByInspection finds the instance a completion call addresses
func (q *Queries) GetInstanceByInspection(ctx context.Context, projectID, inspectionID string) (model.ChecklistInstance, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, row := range q.instances {
		if row.instance.ProjectID == projectID && row.instance.CompletionTarget() == inspectionID {
			return row.instance.Clone(), nil
		}
	}
	return model.ChecklistInstance{}, fmt.Errorf("inspection %s in project %s: %w", inspectionID, projectID, ErrNotFound)
}

// CreateResponse inserts resp. At most one response exists per item template
// and instance.
func (q *Queries) CreateResponse(ctx context.Context, resp model.ItemResponse) (model.ItemResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	row, ok := q.instances[resp.InstanceID]
	if !ok {
		return model.ItemResponse{}, fmt.Errorf("instance %s: %w", resp.InstanceID, ErrNotFound)
	}
	for _, existing := range row.instance.Responses {
		if existing.ItemTemplateID == resp.ItemTemplateID {
			return model.ItemResponse{}, fmt.Errorf("response for item %s: %w", resp.ItemTemplateID, ErrDuplicate)
		}
	}
	if resp.ImageURLs == nil {
		resp.ImageURLs = []string{}
	}
	row.instance.Responses = append(row.instance.Responses, resp.Clone())
	return resp.Clone(), nil
}

func (q *Queries) UpdateResponse(ctx context.Context, instanceID, responseID string, fields model.ResponseFields, at time.Time) (model.ItemResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	row, ok := q.instances[instanceID]
	if !ok {
		return model.ItemResponse{}, fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	for i, existing := range row.instance.Responses {
		if existing.ID != responseID {
			continue
		}
		updated := fields.Apply(existing)
		updated.UpdatedAt = &at
		row.instance.Responses[i] = updated
		return updated.Clone(), nil
	}
	return model.ItemResponse{}, fmt.Errorf("response %s: %w", responseID, ErrNotFound)
}

// CompleteInstance marks the instance completed. Completing twice keeps the
// first completion time.
func (q *Queries) CompleteInstance(ctx context.Context, instanceID string, signature *string, at time.Time) (model.ChecklistInstance, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	row, ok := q.instances[instanceID]
	if !ok {
		return model.ChecklistInstance{}, fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	if row.instance.Status != model.InstanceCompleted {
		row.instance.Status = model.InstanceCompleted
		row.instance.CompletedAt = &at
	}
	if signature != nil {
		row.signature = model.StringPtr(*signature)
	}
	return row.instance.Clone(), nil
}

// GetCompletionSignature returns the signature stored with the completion
func (q *Queries) GetCompletionSignature(ctx context.Context, instanceID string) (*string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	row, ok := q.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	if row.signature == nil {
		return nil, nil
	}
	return model.StringPtr(*row.signature), nil
}

func (q *Queries) CreateFile(ctx context.Context, meta storage.FileMetadata) error {
	if err := storage.ValidateFileMetadata(meta); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.files[meta.StoragePath]; ok {
		return fmt.Errorf("file %s: %w", meta.StoragePath, ErrDuplicate)
	}
	q.files[meta.StoragePath] = meta
	return nil
}

func (q *Queries) GetFileByPath(ctx context.Context, storagePath string) (storage.FileMetadata, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	meta, ok := q.files[storagePath]
	if !ok {
		return storage.FileMetadata{}, fmt.Errorf("file %s: %w", storagePath, ErrNotFound)
	}
	return meta, nil
}
