package fill

import (
	"context"
	"fmt"

	"sitecheck/internal/model"
	"sitecheck/internal/progress"

	"go.uber.org/zap"
)

// PhotoRef is one photo shown on an item: a saved storage path or the
// preview reference of a staged photo
type PhotoRef struct {
	Ref    string `json:"ref"`
	Staged bool   `json:"staged"`
}

// ItemView is everything the screen needs to render one item.
// SignatureDraft is set while a drawn or cleared signature is unsaved.
type ItemView struct {
	Item            model.ItemTemplate  `json:"item"`
	State           ItemState           `json:"state"`
	Response        *model.ItemResponse `json:"response,omitempty"`
	Err             error               `json:"-"`
	Missing         []model.Requirement `json:"missing,omitempty"`
	Satisfied       bool                `json:"satisfied"`
	Notes           string              `json:"notes"`
	Photos          []PhotoRef          `json:"photos"`
	SignatureDraft  bool                `json:"signatureDraft"`
	SignaturePrompt string              `json:"signaturePrompt,omitempty"`
}

// Item renders one item from saved state plus, when open, its draft
func (c *Controller) Item(itemID string) (ItemView, error) {
	inst, err := c.instance()
	if err != nil {
		return ItemView{}, err
	}
	item, ok := inst.Template.FindItem(itemID)
	if !ok {
		return ItemView{}, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	resp, hasResp := c.store.Response(itemID)
	storeSaving := c.store.IsSaving(itemID)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked(item, resp, hasResp, storeSaving), nil
}

// Items renders every item in display order
func (c *Controller) Items() ([]ItemView, error) {
	inst, err := c.instance()
	if err != nil {
		return nil, err
	}
	responses := c.store.Responses()
	items := inst.Template.AllItems()
	saving := make([]bool, len(items))
	for i, item := range items {
		saving[i] = c.store.IsSaving(item.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ItemView, 0, len(items))
	for i, item := range items {
		resp, ok := responses[item.ID]
		out = append(out, c.viewLocked(item, resp, ok, saving[i]))
	}
	return out, nil
}

func (c *Controller) viewLocked(item model.ItemTemplate, resp model.ItemResponse, hasResp, storeSaving bool) ItemView {
	v := ItemView{
		Item:  item,
		State: StateClosed,
		Err:   c.errs[item.ID],
	}
	var respPtr *model.ItemResponse
	if hasResp {
		r := resp.Clone()
		respPtr = &r
		v.Response = respPtr
		v.Notes = resp.NotesValue()
	}
	v.Missing = item.Missing(respPtr)
	v.Satisfied = item.Satisfied(respPtr)

	d := c.open
	isOpen := d != nil && d.itemID == item.ID
	for _, u := range resp.ImageURLs {
		if isOpen && d.removed[u] {
			continue
		}
		v.Photos = append(v.Photos, PhotoRef{Ref: u})
	}

	if isOpen {
		v.State = StateOpen
		v.Notes = d.notes
		for _, sp := range d.staged {
			v.Photos = append(v.Photos, PhotoRef{Ref: sp.photo.PreviewRef, Staged: true})
		}
		v.SignatureDraft = d.signatureSet
	}
	switch {
	case isOpen && d.pad != nil:
		v.SignaturePrompt = d.pad.Prompt()
	case item.RequiresSignature && !resp.HasSignature():
		v.SignaturePrompt = "Signature required"
	}
	if c.saving[item.ID] || storeSaving {
		v.State = StateSaving
	}
	return v
}

// Progress is the overall completion of the instance
func (c *Controller) Progress() progress.Progress {
	inst, ok := c.store.Instance()
	if !ok {
		return progress.Progress{}
	}
	return progress.Overall(inst.Template, c.store.Responses())
}

// Sections is the completion of each subsection in display order
func (c *Controller) Sections() []progress.SectionProgress {
	inst, ok := c.store.Instance()
	if !ok {
		return nil
	}
	return progress.Sections(inst.Template, c.store.Responses())
}

// Blockers lists the items that still keep the checklist from submission
func (c *Controller) Blockers() []Blocker {
	inst, ok := c.store.Instance()
	if !ok {
		return nil
	}
	return blockers(inst.Template, c.store.Responses())
}

func blockers(tpl model.ChecklistTemplate, responses map[string]model.ItemResponse) []Blocker {
	var out []Blocker
	for _, sub := range tpl.OrderedSubsections() {
		for _, item := range sub.OrderedItems() {
			var respPtr *model.ItemResponse
			var status model.ResponseStatus
			if r, ok := responses[item.ID]; ok {
				respPtr = &r
				status = r.Status
			}
			if item.Satisfied(respPtr) {
				continue
			}
			out = append(out, Blocker{
				ItemID:     item.ID,
				ItemName:   item.Name,
				Subsection: sub.Name,
				Status:     status,
				Missing:    item.Missing(respPtr),
			})
		}
	}
	return out
}

// busy reports whether any item of inst has a save in flight
func (c *Controller) busy(inst *model.ChecklistInstance) bool {
	c.mu.Lock()
	n := len(c.saving)
	c.mu.Unlock()
	if n > 0 {
		return true
	}
	for _, item := range inst.Template.AllItems() {
		if c.store.IsSaving(item.ID) {
			return true
		}
	}
	return false
}

// CanSubmit reports whether the submit action is enabled: every item has a
// non-pending response meeting its requirements and nothing is saving.
func (c *Controller) CanSubmit() bool {
	inst, ok := c.store.Instance()
	if !ok || inst.Status == model.InstanceCompleted {
		return false
	}
	c.mu.Lock()
	submitting := c.submitting
	c.mu.Unlock()
	if submitting || c.busy(inst) {
		return false
	}
	return len(blockers(inst.Template, c.store.Responses())) == 0
}

// Submit completes the inspection. While requirements are unmet it returns
// a *BlockedError naming what remains and makes no call.
func (c *Controller) Submit(ctx context.Context, signature *string) error {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	c.submitting = true
	c.submitErr = nil
	c.mu.Unlock()

	err := c.submit(ctx, signature)

	c.mu.Lock()
	c.submitting = false
	if err != nil {
		c.submitErr = err
	} else {
		c.submitted = true
	}
	c.mu.Unlock()
	return err
}

func (c *Controller) submit(ctx context.Context, signature *string) error {
	inst, err := c.instance()
	if err != nil {
		return err
	}
	if inst.Status == model.InstanceCompleted {
		return ErrAlreadyCompleted
	}
	if c.busy(inst) {
		return ErrItemBusy
	}
	if remaining := blockers(inst.Template, c.store.Responses()); len(remaining) > 0 {
		return &BlockedError{Blockers: remaining}
	}

	if err := c.completer.CompleteInspection(ctx, inst.ProjectID, inst.CompletionTarget(), signature); err != nil {
		c.log.Warn("Completion failed", zap.String("instance_id", inst.ID), zap.Error(err))
		return fmt.Errorf("complete inspection: %w", err)
	}
	c.log.Info("Inspection completed", zap.String("instance_id", inst.ID))

	if err := c.store.Refetch(ctx); err != nil {
		c.log.Warn("Refetch after completion failed", zap.String("instance_id", inst.ID), zap.Error(err))
	}
	return nil
}

// Submitted reports whether the inspection was completed in this session
func (c *Controller) Submitted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitted
}

// SubmitErr is the error of the last failed submission
func (c *Controller) SubmitErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitErr
}

// CanNavigateAway is false while a submission or any save is in flight
func (c *Controller) CanNavigateAway() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.submitting && len(c.saving) == 0
}
