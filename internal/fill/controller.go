// Package fill drives one checklist instance the way the inspection screen
// does: one item open at a time, status changes saved immediately, photos
// and signatures uploaded before they are written to the response, and the
// submit action gated on every item being satisfied.
//
// Draft state (notes typed, photos staged, a signature drawn) belongs to the
// open item only and is discarded when it closes. Saved state lives in the
// response store; the controller never mutates it directly.
package fill

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"sitecheck/internal/model"
	"sitecheck/internal/photo"
	"sitecheck/internal/signature"
	"sitecheck/internal/store"
	"sitecheck/internal/syncapi"

	"go.uber.org/zap"
)

// ItemState is the client-local interaction state of one item
type ItemState string

const (
	StateClosed ItemState = "closed"
	StateOpen   ItemState = "open"
	StateSaving ItemState = "saving"
)

// EntityType tags uploads made for checklist responses
const EntityType = "checklist_instance"

const (
	DefaultUploadConcurrency = 3
	DefaultMaxSignatureBytes = 1 << 20
)

// Store is the response store as seen by the controller
type Store interface {
	Instance() (*model.ChecklistInstance, bool)
	Response(itemTemplateID string) (model.ItemResponse, bool)
	Responses() map[string]model.ItemResponse
	IsSaving(itemTemplateID string) bool
	CreateResponse(ctx context.Context, itemTemplateID string, fields model.ResponseFields) (*model.ItemResponse, error)
	UpdateResponse(ctx context.Context, responseID string, fields model.ResponseFields) (*model.ItemResponse, error)
	Refetch(ctx context.Context) error
}

type Uploader interface {
	UploadFile(ctx context.Context, projectID string, in syncapi.UploadInput) (*syncapi.UploadedFile, error)
}

type Completer interface {
	CompleteInspection(ctx context.Context, projectID, inspectionID string, signature *string) error
}

type Options struct {
	UploadConcurrency  int
	MaxSignatureBytes  int
	SignatureLineWidth float64
}

type stagedPhoto struct {
	photo       photo.Photo
	storagePath string
}

// draft is the transient state of the open item
type draft struct {
	itemID       string
	seq          uint64
	notes        string
	staged       []stagedPhoto
	removed      map[string]bool
	signature    string
	signatureSet bool
	pad          *signature.Pad
}

type Controller struct {
	store     Store
	uploader  Uploader
	completer Completer
	pipeline  *photo.Pipeline
	opts      Options
	log       *zap.Logger

	mu         sync.Mutex
	open       *draft
	seq        uint64
	saving     map[string]bool
	errs       map[string]error
	submitting bool
	submitted  bool
	submitErr  error
}

func New(st Store, uploader Uploader, completer Completer, pipeline *photo.Pipeline, opts Options, log *zap.Logger) *Controller {
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = DefaultUploadConcurrency
	}
	if opts.MaxSignatureBytes <= 0 {
		opts.MaxSignatureBytes = DefaultMaxSignatureBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	if pipeline == nil {
		pipeline = photo.NewPipeline(photo.Options{}, nil, log)
	}
	return &Controller{
		store:     st,
		uploader:  uploader,
		completer: completer,
		pipeline:  pipeline,
		opts:      opts,
		log:       log,
		saving:    make(map[string]bool),
		errs:      make(map[string]error),
	}
}

func (c *Controller) instance() (*model.ChecklistInstance, error) {
	inst, ok := c.store.Instance()
	if !ok {
		return nil, store.ErrInvalidState
	}
	return inst, nil
}

// Open expands an item for editing. Any other open item is closed first and
// its unsaved draft is discarded.
func (c *Controller) Open(itemID string) (ItemView, error) {
	inst, err := c.instance()
	if err != nil {
		return ItemView{}, err
	}
	if _, ok := inst.Template.FindItem(itemID); !ok {
		return ItemView{}, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}

	c.mu.Lock()
	if c.open == nil || c.open.itemID != itemID {
		c.discardLocked()
		c.seq++
		saved, _ := c.store.Response(itemID)
		c.open = &draft{
			itemID:  itemID,
			seq:     c.seq,
			notes:   saved.NotesValue(),
			removed: make(map[string]bool),
		}
		c.log.Debug("Opened item", zap.String("item_id", itemID))
	}
	c.mu.Unlock()

	return c.Item(itemID)
}

// Close collapses the open item and drops its draft
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardLocked()
}

func (c *Controller) discardLocked() {
	d := c.open
	if d == nil {
		return
	}
	for _, sp := range d.staged {
		c.pipeline.Release(sp.photo)
	}
	if d.pad != nil {
		d.pad.SetOnChange(nil)
	}
	c.open = nil
}

// OpenItem returns the id of the open item, or ""
func (c *Controller) OpenItem() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return ""
	}
	return c.open.itemID
}

// SetNotes edits the draft notes of the open item without saving
func (c *Controller) SetNotes(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return ErrNoOpenItem
	}
	c.open.notes = text
	return nil
}

// snapshot is a copy of the draft taken when a save starts
type snapshot struct {
	itemID       string
	seq          uint64
	notes        string
	staged       []stagedPhoto
	removed      map[string]bool
	signature    string
	signatureSet bool
}

func (c *Controller) beginSave() (snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.open
	if d == nil {
		return snapshot{}, ErrNoOpenItem
	}
	if c.saving[d.itemID] {
		return snapshot{}, fmt.Errorf("%w: %s", ErrItemBusy, d.itemID)
	}
	c.saving[d.itemID] = true
	delete(c.errs, d.itemID)

	snap := snapshot{
		itemID:       d.itemID,
		seq:          d.seq,
		notes:        d.notes,
		staged:       append([]stagedPhoto{}, d.staged...),
		removed:      make(map[string]bool, len(d.removed)),
		signature:    d.signature,
		signatureSet: d.signatureSet,
	}
	for k, v := range d.removed {
		snap.removed[k] = v
	}
	return snap, nil
}

func (c *Controller) endSave(itemID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.saving, itemID)
	if err != nil {
		c.errs[itemID] = err
	}
}

// draftFor returns the open draft when it is still the one a save started from
func (c *Controller) draftFor(seq uint64) *draft {
	if c.open != nil && c.open.seq == seq {
		return c.open
	}
	return nil
}

// notesField carries the draft notes when there is anything to carry
func (c *Controller) notesField(snap snapshot) *string {
	saved, _ := c.store.Response(snap.itemID)
	if snap.notes == "" && saved.NotesValue() == "" {
		return nil
	}
	return model.StringPtr(snap.notes)
}

// persist writes fields for an item, updating when a response id is known
// and creating otherwise. A create that finds an existing response is
// retried as an update.
func (c *Controller) persist(ctx context.Context, itemID string, fields model.ResponseFields) (*model.ItemResponse, error) {
	if resp, ok := c.store.Response(itemID); ok && resp.ID != "" {
		return c.store.UpdateResponse(ctx, resp.ID, fields)
	}

	created, err := c.store.CreateResponse(ctx, itemID, fields)
	if !errors.Is(err, store.ErrResponseExists) {
		return created, err
	}

	resp, ok := c.store.Response(itemID)
	if !ok || resp.ID == "" {
		if rerr := c.store.Refetch(ctx); rerr != nil {
			return nil, fmt.Errorf("resolve existing response: %w", rerr)
		}
		resp, ok = c.store.Response(itemID)
		if !ok || resp.ID == "" {
			return nil, err
		}
	}
	c.log.Info("Item already has a response, updating instead",
		zap.String("item_id", itemID),
		zap.String("response_id", resp.ID),
	)
	return c.store.UpdateResponse(ctx, resp.ID, fields)
}

// SelectStatus saves a new status for the open item immediately, together
// with the notes typed so far. On failure the item keeps showing its last
// saved status and the error is kept on the item.
func (c *Controller) SelectStatus(ctx context.Context, status model.ResponseStatus) error {
	if _, err := model.ParseResponseStatus(string(status)); err != nil {
		return err
	}
	snap, err := c.beginSave()
	if err != nil {
		return err
	}

	_, err = c.persist(ctx, snap.itemID, model.ResponseFields{
		Status: model.StatusPtr(status),
		Notes:  c.notesField(snap),
	})
	c.endSave(snap.itemID, err)
	if err != nil {
		c.log.Warn("Status save failed", zap.String("item_id", snap.itemID), zap.Error(err))
		return fmt.Errorf("save status: %w", err)
	}
	return nil
}

// SaveNotes persists the draft notes of the open item on their own
func (c *Controller) SaveNotes(ctx context.Context) error {
	snap, err := c.beginSave()
	if err != nil {
		return err
	}
	notes := c.notesField(snap)
	if notes == nil {
		c.endSave(snap.itemID, nil)
		return nil
	}

	_, err = c.persist(ctx, snap.itemID, model.ResponseFields{Notes: notes})
	c.endSave(snap.itemID, err)
	if err != nil {
		c.log.Warn("Notes save failed", zap.String("item_id", snap.itemID), zap.Error(err))
		return fmt.Errorf("save notes: %w", err)
	}
	return nil
}

// Teardown closes the open item and releases every preview the controller
// created
func (c *Controller) Teardown() {
	c.mu.Lock()
	c.discardLocked()
	c.mu.Unlock()
	c.pipeline.Previews().ReleaseAll()
}
