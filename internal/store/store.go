// Package store holds the client-side responses of one open checklist
// instance.
//
// Every mutation goes through apply, then commit or revert. Writes for the
// same item are serialized by a keyed lock: a second write does not apply
// anything until the first one's round trip has settled, and it merges its
// fields onto the latest confirmed server value. Writes for different items
// run independently.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"sitecheck/internal/model"
	"sitecheck/internal/syncapi"

	"go.uber.org/zap"
)

var (
	// ErrInvalidState is returned for writes before a successful Load
	ErrInvalidState = errors.New("no checklist instance loaded")
	// ErrResponseExists is returned by CreateResponse when the item already
	// has a response; the caller must update it instead
	ErrResponseExists  = errors.New("response already exists for item")
	ErrUnknownResponse = errors.New("unknown response id")
	ErrUnknownItem     = errors.New("item not in checklist template")
)

const DefaultTimeout = 30 * time.Second

// Remote is the part of the sync boundary the store talks to
type Remote interface {
	FetchInstance(ctx context.Context, instanceID string) (*model.ChecklistInstance, error)
	CreateResponse(ctx context.Context, instanceID string, in syncapi.CreateResponseInput) (*model.ItemResponse, error)
	UpdateResponse(ctx context.Context, instanceID, responseID string, fields model.ResponseFields) (*model.ItemResponse, error)
}

// entry is the state of one item. confirmed is the last server value,
// display is what readers see. Both nil means the item has no response.
type entry struct {
	confirmed *model.ItemResponse
	display   *model.ItemResponse
	pending   int
	applied   bool
}

type Store struct {
	remote  Remote
	timeout time.Duration
	log     *zap.Logger
	flights *keyedLock

	mu         sync.RWMutex
	instance   *model.ChecklistInstance
	instanceID string
	entries    map[string]*entry
	byResponse map[string]string
	loading    bool
	loadErr    error
	generation uint64
	epoch      uint64
	listeners  map[int]func()
	nextListen int
}

func New(remote Remote, timeout time.Duration, log *zap.Logger) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		remote:     remote,
		timeout:    timeout,
		log:        log,
		flights:    newKeyedLock(),
		entries:    make(map[string]*entry),
		byResponse: make(map[string]string),
		listeners:  make(map[int]func()),
	}
}

// OnChange registers fn to run after every state change. The returned func
// unregisters it.
func (s *Store) OnChange(fn func()) func() {
	s.mu.Lock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	fns := make([]func(), 0, len(s.listeners))
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// Load fetches the instance and replaces the confirmed state. On failure the
// previous state is kept and the error is exposed through LoadErr.
func (s *Store) Load(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.loading = true
	s.mu.Unlock()
	s.notify()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	inst, err := s.remote.FetchInstance(callCtx, instanceID)
	cancel()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.log.Debug("Discarding superseded load", zap.String("instance_id", instanceID))
		return nil
	}
	s.loading = false
	if err != nil {
		s.loadErr = err
		s.mu.Unlock()
		s.log.Warn("Failed to load checklist instance", zap.String("instance_id", instanceID), zap.Error(err))
		s.notify()
		return fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	s.loadErr = nil
	s.reconcileLocked(inst)
	s.mu.Unlock()

	s.log.Debug("Loaded checklist instance",
		zap.String("instance_id", inst.ID),
		zap.Int("responses", len(inst.Responses)),
	)
	s.notify()
	return nil
}

// Refetch reloads the current instance from the server
func (s *Store) Refetch(ctx context.Context) error {
	s.mu.RLock()
	id := s.instanceID
	s.mu.RUnlock()
	if id == "" {
		return ErrInvalidState
	}
	return s.Load(ctx, id)
}

// reconcileLocked installs a freshly loaded instance. Items with a write in
// flight keep showing their optimistic value until that write settles.
func (s *Store) reconcileLocked(inst *model.ChecklistInstance) {
	sameInstance := s.instanceID == inst.ID

	server := make(map[string]model.ItemResponse, len(inst.Responses))
	for _, r := range inst.Responses {
		if _, dup := server[r.ItemTemplateID]; dup {
			s.log.Warn("Ignoring duplicate response for item",
				zap.String("item_id", r.ItemTemplateID),
				zap.String("response_id", r.ID),
			)
			continue
		}
		server[r.ItemTemplateID] = r.Clone()
	}

	entries := make(map[string]*entry, len(server))
	byResponse := make(map[string]string, len(server))
	for itemID, r := range server {
		r := r
		e := &entry{confirmed: &r, display: cloneResp(&r)}
		entries[itemID] = e
		if r.ID != "" {
			byResponse[r.ID] = itemID
		}
	}
	if sameInstance {
		for itemID, old := range s.entries {
			if old.pending == 0 {
				continue
			}
			e, ok := entries[itemID]
			if !ok {
				e = &entry{}
				entries[itemID] = e
			}
			e.pending = old.pending
			if old.applied {
				e.applied = true
				e.display = cloneResp(old.display)
			}
		}
	}

	if !sameInstance {
		s.epoch++
	}

	snapshot := inst.Clone()
	snapshot.Responses = nil
	s.instance = &snapshot
	s.instanceID = inst.ID
	s.entries = entries
	s.byResponse = byResponse
}

// CreateResponse records the first response for an item. It fails with
// ErrResponseExists when the item already has one.
func (s *Store) CreateResponse(ctx context.Context, itemTemplateID string, fields model.ResponseFields) (*model.ItemResponse, error) {
	instanceID, err := s.checkItem(itemTemplateID)
	if err != nil {
		return nil, err
	}

	w, err := s.begin(ctx, instanceID, itemTemplateID)
	if err != nil {
		return nil, err
	}
	defer w.unlock()

	s.mu.RLock()
	e := s.entries[itemTemplateID]
	exists := e != nil && e.confirmed != nil
	s.mu.RUnlock()
	if exists {
		s.finish(w)
		return nil, fmt.Errorf("create %s: %w", itemTemplateID, ErrResponseExists)
	}

	optimistic := fields.Apply(model.ItemResponse{
		InstanceID:     instanceID,
		ItemTemplateID: itemTemplateID,
		Status:         model.StatusPending,
	})
	s.apply(w, optimistic)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	created, err := s.remote.CreateResponse(callCtx, instanceID, syncapi.CreateResponseInput{
		ItemTemplateID: itemTemplateID,
		ResponseFields: fields,
	})
	cancel()
	if err != nil {
		s.revert(w)
		s.log.Warn("Create response failed, rolled back",
			zap.String("item_id", itemTemplateID),
			zap.Error(err),
		)
		if isResponseExists(err) {
			return nil, fmt.Errorf("create %s: %w: %w", itemTemplateID, ErrResponseExists, err)
		}
		return nil, fmt.Errorf("create %s: %w", itemTemplateID, err)
	}

	out := s.commit(w, created)
	s.log.Debug("Created response",
		zap.String("item_id", itemTemplateID),
		zap.String("response_id", created.ID),
	)
	return out, nil
}

// UpdateResponse writes fields onto an existing response. Only fields that
// differ from the latest confirmed server value are sent; when nothing
// differs no call is made.
func (s *Store) UpdateResponse(ctx context.Context, responseID string, fields model.ResponseFields) (*model.ItemResponse, error) {
	s.mu.RLock()
	instanceID := s.instanceID
	itemID, known := s.byResponse[responseID]
	s.mu.RUnlock()
	if instanceID == "" {
		return nil, ErrInvalidState
	}
	if !known {
		return nil, fmt.Errorf("update %s: %w", responseID, ErrUnknownResponse)
	}

	w, err := s.begin(ctx, instanceID, itemID)
	if err != nil {
		return nil, err
	}
	defer w.unlock()

	s.mu.RLock()
	var base *model.ItemResponse
	if e := s.entries[itemID]; e != nil {
		base = cloneResp(e.confirmed)
	}
	s.mu.RUnlock()
	if base == nil || base.ID != responseID {
		s.finish(w)
		return nil, fmt.Errorf("update %s: %w", responseID, ErrUnknownResponse)
	}

	changed := ChangedFields(*base, fields)
	if changed.IsEmpty() {
		s.finish(w)
		return base, nil
	}

	s.apply(w, changed.Apply(*base))

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	updated, err := s.remote.UpdateResponse(callCtx, instanceID, responseID, changed)
	cancel()
	if err != nil {
		s.revert(w)
		s.log.Warn("Update response failed, rolled back",
			zap.String("item_id", itemID),
			zap.String("response_id", responseID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("update %s: %w", responseID, err)
	}

	out := s.commit(w, updated)
	s.log.Debug("Updated response", zap.String("item_id", itemID), zap.String("response_id", responseID))
	return out, nil
}

func (s *Store) checkItem(itemTemplateID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.instance == nil {
		return "", ErrInvalidState
	}
	if _, ok := s.instance.Template.FindItem(itemTemplateID); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownItem, itemTemplateID)
	}
	return s.instance.ID, nil
}

// write is one create or update in progress. epoch ties it to the
// instance that was loaded when it began; once another instance is loaded
// the write no longer touches the item state.
type write struct {
	itemID string
	epoch  uint64
	unlock func()
}

// begin marks the item as saving and waits for its turn
func (s *Store) begin(ctx context.Context, instanceID, itemID string) (*write, error) {
	s.mu.Lock()
	if s.instanceID != instanceID {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: instance %s was replaced", ErrInvalidState, instanceID)
	}
	w := &write{itemID: itemID, epoch: s.epoch}
	e := s.entries[itemID]
	if e == nil {
		e = &entry{}
		s.entries[itemID] = e
	}
	e.pending++
	s.mu.Unlock()
	s.notify()

	unlock, err := s.flights.Lock(ctx, instanceID+"/"+itemID)
	if err != nil {
		s.finish(w)
		return nil, err
	}
	w.unlock = unlock
	return w, nil
}

// entryLocked returns the entry a write may change, or nil when the write
// belongs to an instance that has since been replaced
func (s *Store) entryLocked(w *write) *entry {
	if w.epoch != s.epoch {
		return nil
	}
	e := s.entries[w.itemID]
	if e == nil {
		e = &entry{}
		s.entries[w.itemID] = e
	}
	return e
}

// finish ends a write that changed nothing
func (s *Store) finish(w *write) {
	s.mu.Lock()
	if e := s.entryLocked(w); e != nil {
		e.pending--
		s.pruneLocked(w.itemID, e)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) apply(w *write, optimistic model.ItemResponse) {
	s.mu.Lock()
	if e := s.entryLocked(w); e != nil {
		e.display = &optimistic
		e.applied = true
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) revert(w *write) {
	s.mu.Lock()
	if e := s.entryLocked(w); e != nil {
		e.display = cloneResp(e.confirmed)
		e.applied = false
		e.pending--
		s.pruneLocked(w.itemID, e)
	}
	s.mu.Unlock()
	s.notify()
}

// commit installs the server value. A result that belongs to an instance
// which has since been replaced is dropped.
func (s *Store) commit(w *write, server *model.ItemResponse) *model.ItemResponse {
	s.mu.Lock()
	if e := s.entryLocked(w); e != nil {
		e.pending--
		e.applied = false
		if e.confirmed != nil && e.confirmed.ID != "" && e.confirmed.ID != server.ID {
			delete(s.byResponse, e.confirmed.ID)
		}
		e.confirmed = cloneResp(server)
		e.display = cloneResp(server)
		if server.ID != "" {
			s.byResponse[server.ID] = w.itemID
		}
		s.pruneLocked(w.itemID, e)
	}
	s.mu.Unlock()
	s.notify()
	return cloneResp(server)
}

func (s *Store) pruneLocked(itemID string, e *entry) {
	if e.pending < 0 {
		e.pending = 0
	}
	if e.pending == 0 && e.confirmed == nil && e.display == nil {
		delete(s.entries, itemID)
	}
}

// Loaded reports whether an instance has been loaded
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instance != nil
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// LoadErr is the error of the last load, cleared by a successful one
func (s *Store) LoadErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}

// Instance returns a copy of the loaded instance with the displayed
// responses in template order
func (s *Store) Instance() (*model.ChecklistInstance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.instance == nil {
		return nil, false
	}
	out := s.instance.Clone()
	for _, item := range out.Template.AllItems() {
		if e := s.entries[item.ID]; e != nil && e.display != nil {
			out.Responses = append(out.Responses, e.display.Clone())
		}
	}
	return &out, true
}

// Response returns the displayed response for an item
func (s *Store) Response(itemTemplateID string) (model.ItemResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entries[itemTemplateID]
	if e == nil || e.display == nil {
		return model.ItemResponse{}, false
	}
	return e.display.Clone(), true
}

// Confirmed returns the last server value for an item
func (s *Store) Confirmed(itemTemplateID string) (model.ItemResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entries[itemTemplateID]
	if e == nil || e.confirmed == nil {
		return model.ItemResponse{}, false
	}
	return e.confirmed.Clone(), true
}

// Responses returns the displayed responses keyed by item template id
func (s *Store) Responses() map[string]model.ItemResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.ItemResponse, len(s.entries))
	for itemID, e := range s.entries {
		if e.display != nil {
			out[itemID] = e.display.Clone()
		}
	}
	return out
}

// IsSaving reports whether a write for the item is in flight or queued
func (s *Store) IsSaving(itemTemplateID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entries[itemTemplateID]
	return e != nil && e.pending > 0
}

// ChangedFields drops the fields of f that already match base
func ChangedFields(base model.ItemResponse, f model.ResponseFields) model.ResponseFields {
	var out model.ResponseFields
	if f.Status != nil && *f.Status != base.Status {
		out.Status = model.StatusPtr(*f.Status)
	}
	if f.Notes != nil && *f.Notes != base.NotesValue() {
		out.Notes = model.StringPtr(*f.Notes)
	}
	if f.ImageURLs != nil && !slices.Equal(*f.ImageURLs, base.ImageURLs) {
		out.ImageURLs = model.StringsPtr(*f.ImageURLs)
	}
	if f.SignatureURL != nil {
		current := ""
		if base.SignatureURL != nil {
			current = *base.SignatureURL
		}
		if *f.SignatureURL != current {
			out.SignatureURL = model.StringPtr(*f.SignatureURL)
		}
	}
	return out
}

func isResponseExists(err error) bool {
	var apiErr *syncapi.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusConflict && apiErr.Code == "response_exists"
}

func cloneResp(r *model.ItemResponse) *model.ItemResponse {
	if r == nil {
		return nil
	}
	c := r.Clone()
	return &c
}
