package fill

import (
	"errors"
	"fmt"
	"strings"

	"sitecheck/internal/model"
)

var (
	ErrNoOpenItem       = errors.New("no item is open")
	ErrItemBusy         = errors.New("item has a save in flight")
	ErrUnknownItem      = errors.New("unknown checklist item")
	ErrUnknownPhoto     = errors.New("photo is not attached to the open item")
	ErrSubmitInFlight   = errors.New("submission already in progress")
	ErrAlreadyCompleted = errors.New("inspection already completed")
)

// Blocker is one item that keeps the checklist from being submitted
type Blocker struct {
	ItemID     string               `json:"itemId"`
	ItemName   string               `json:"itemName"`
	Subsection string               `json:"subsection"`
	Status     model.ResponseStatus `json:"status,omitempty"`
	Missing    []model.Requirement  `json:"missing,omitempty"`
}

// Reason explains in words what the item still needs
func (b Blocker) Reason() string {
	var parts []string
	if b.Status == "" || b.Status == model.StatusPending {
		parts = append(parts, "choose a status")
	}
	for _, m := range b.Missing {
		switch m {
		case model.RequirementPhoto:
			parts = append(parts, "attach a photo")
		case model.RequirementNote:
			parts = append(parts, "add a note")
		case model.RequirementSignature:
			parts = append(parts, "sign")
		}
	}
	return strings.Join(parts, ", ")
}

// BlockedError is returned by Submit while requirements are unmet
type BlockedError struct {
	Blockers []Blocker
}

func (e *BlockedError) Error() string {
	if len(e.Blockers) == 1 {
		b := e.Blockers[0]
		return fmt.Sprintf("checklist incomplete: %s needs to %s", b.ItemName, b.Reason())
	}
	return fmt.Sprintf("checklist incomplete: %d items remaining", len(e.Blockers))
}
