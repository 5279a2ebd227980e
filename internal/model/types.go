package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ResponseStatus represents the recorded outcome of a checklist item
type ResponseStatus string

const (
	StatusPending       ResponseStatus = "pending"
	StatusApproved      ResponseStatus = "approved"
	StatusRejected      ResponseStatus = "rejected"
	StatusNotApplicable ResponseStatus = "not_applicable"
)

// Statuses lists the exclusive status choices offered for an item
var Statuses = []ResponseStatus{StatusApproved, StatusRejected, StatusNotApplicable, StatusPending}

// ParseResponseStatus accepts only the canonical vocabulary
func ParseResponseStatus(s string) (ResponseStatus, error) {
	switch st := ResponseStatus(strings.TrimSpace(s)); st {
	case StatusPending, StatusApproved, StatusRejected, StatusNotApplicable:
		return st, nil
	}
	return "", fmt.Errorf("unknown response status %q (want pending, approved, rejected or not_applicable)", s)
}

// InstanceStatus represents checklist instance lifecycle status
type InstanceStatus string

const (
	InstanceInProgress InstanceStatus = "in_progress"
	InstanceCompleted  InstanceStatus = "completed"
)

// Requirement names an artifact an item template may demand
type Requirement string

const (
	RequirementPhoto     Requirement = "photo"
	RequirementNote      Requirement = "note"
	RequirementSignature Requirement = "signature"
)

// ItemTemplate is one checkable line of a subsection
type ItemTemplate struct {
	ID                string  `json:"id"`
	SubsectionID      string  `json:"subsectionId"`
	Order             int     `json:"order"`
	Name              string  `json:"name"`
	Description       *string `json:"description,omitempty"`
	RequiresPhoto     bool    `json:"requiresPhoto"`
	RequiresNote      bool    `json:"requiresNote"`
	RequiresSignature bool    `json:"requiresSignature"`
}

// Subsection groups item templates under a heading
type Subsection struct {
	ID         string         `json:"id"`
	TemplateID string         `json:"templateId"`
	Order      int            `json:"order"`
	Name       string         `json:"name"`
	Items      []ItemTemplate `json:"items"`
}

// ChecklistTemplate is the administrator-authored definition of an inspection
type ChecklistTemplate struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Subsections []Subsection `json:"subsections"`
}

// ChecklistInstance is one inspection run against a physical unit
type ChecklistInstance struct {
	ID             string            `json:"id"`
	TemplateID     string            `json:"templateId"`
	ProjectID      string            `json:"projectId"`
	InspectionID   string            `json:"inspectionId,omitempty"`
	UnitIdentifier string            `json:"unitIdentifier"`
	Status         InstanceStatus    `json:"status"`
	Template       ChecklistTemplate `json:"template"`
	Responses      []ItemResponse    `json:"responses"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
}

// ItemResponse is the recorded outcome for one item template within one instance
type ItemResponse struct {
	ID             string         `json:"id,omitempty"`
	InstanceID     string         `json:"instanceId"`
	ItemTemplateID string         `json:"itemTemplateId"`
	Status         ResponseStatus `json:"status"`
	Notes          *string        `json:"notes,omitempty"`
	ImageURLs      []string       `json:"imageUrls"`
	SignatureURL   *string        `json:"signatureUrl,omitempty"`
	UpdatedAt      *time.Time     `json:"updatedAt,omitempty"`
}

// ResponseFields is a partial write. Nil fields are left untouched.
type ResponseFields struct {
	Status       *ResponseStatus `json:"status,omitempty"`
	Notes        *string         `json:"notes,omitempty"`
	ImageURLs    *[]string       `json:"imageUrls,omitempty"`
	SignatureURL *string         `json:"signatureUrl,omitempty"`
}

// IsEmpty reports whether the write changes nothing
func (f ResponseFields) IsEmpty() bool {
	return f.Status == nil && f.Notes == nil && f.ImageURLs == nil && f.SignatureURL == nil
}

// Apply merges the set fields onto base and returns the result
func (f ResponseFields) Apply(base ItemResponse) ItemResponse {
	out := base.Clone()
	if f.Status != nil {
		out.Status = *f.Status
	}
	if f.Notes != nil {
		out.Notes = StringPtr(*f.Notes)
	}
	if f.ImageURLs != nil {
		out.ImageURLs = append([]string{}, (*f.ImageURLs)...)
	}
	if f.SignatureURL != nil {
		out.SignatureURL = StringPtr(*f.SignatureURL)
	}
	return out
}

// Clone returns a deep copy
func (r ItemResponse) Clone() ItemResponse {
	out := r
	if r.Notes != nil {
		out.Notes = StringPtr(*r.Notes)
	}
	if r.SignatureURL != nil {
		out.SignatureURL = StringPtr(*r.SignatureURL)
	}
	if r.ImageURLs != nil {
		out.ImageURLs = append([]string{}, r.ImageURLs...)
	}
	if r.UpdatedAt != nil {
		t := *r.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

func (r ItemResponse) HasPhoto() bool {
	return len(r.ImageURLs) > 0
}

func (r ItemResponse) HasNote() bool {
	return r.Notes != nil && strings.TrimSpace(*r.Notes) != ""
}

func (r ItemResponse) HasSignature() bool {
	return r.SignatureURL != nil && strings.TrimSpace(*r.SignatureURL) != ""
}

// NotesValue returns the notes text or ""
func (r ItemResponse) NotesValue() string {
	if r.Notes == nil {
		return ""
	}
	return *r.Notes
}

// Missing lists the requirement flags of t that resp does not satisfy.
// A nil response satisfies nothing.
func (t ItemTemplate) Missing(resp *ItemResponse) []Requirement {
	var missing []Requirement
	if t.RequiresPhoto && (resp == nil || !resp.HasPhoto()) {
		missing = append(missing, RequirementPhoto)
	}
	if t.RequiresNote && (resp == nil || !resp.HasNote()) {
		missing = append(missing, RequirementNote)
	}
	if t.RequiresSignature && (resp == nil || !resp.HasSignature()) {
		missing = append(missing, RequirementSignature)
	}
	return missing
}

// Satisfied reports whether resp lets the item count as complete
func (t ItemTemplate) Satisfied(resp *ItemResponse) bool {
	if resp == nil || resp.Status == StatusPending || resp.Status == "" {
		return false
	}
	return len(t.Missing(resp)) == 0
}

// OrderedSubsections returns the subsections sorted by display order.
// Equal orders keep their input order.
func (t ChecklistTemplate) OrderedSubsections() []Subsection {
	subs := append([]Subsection{}, t.Subsections...)
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].Order < subs[j].Order })
	return subs
}

// OrderedItems returns the items sorted by order, stable on ties
func (s Subsection) OrderedItems() []ItemTemplate {
	items := append([]ItemTemplate{}, s.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	return items
}

// AllItems flattens every item template in display order
func (t ChecklistTemplate) AllItems() []ItemTemplate {
	var items []ItemTemplate
	for _, sub := range t.OrderedSubsections() {
		items = append(items, sub.OrderedItems()...)
	}
	return items
}

// FindItem looks up an item template by id
func (t ChecklistTemplate) FindItem(id string) (ItemTemplate, bool) {
	for _, sub := range t.Subsections {
		for _, item := range sub.Items {
			if item.ID == id {
				return item, true
			}
		}
	}
	return ItemTemplate{}, false
}

// CompletionTarget returns the inspection id the completion endpoint addresses
func (i ChecklistInstance) CompletionTarget() string {
	if i.InspectionID != "" {
		return i.InspectionID
	}
	return i.ID
}

// Clone returns a deep copy of the instance
func (i ChecklistInstance) Clone() ChecklistInstance {
	out := i
	out.Template = i.Template.Clone()
	if i.Responses != nil {
		out.Responses = make([]ItemResponse, len(i.Responses))
		for k, r := range i.Responses {
			out.Responses[k] = r.Clone()
		}
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Clone returns a deep copy of the template
func (t ChecklistTemplate) Clone() ChecklistTemplate {
	out := t
	if t.Subsections != nil {
		out.Subsections = make([]Subsection, len(t.Subsections))
		for k, s := range t.Subsections {
			s.Items = append([]ItemTemplate{}, s.Items...)
			out.Subsections[k] = s
		}
	}
	return out
}

func StringPtr(s string) *string {
	return &s
}

func StatusPtr(s ResponseStatus) *ResponseStatus {
	return &s
}

func StringsPtr(s []string) *[]string {
	out := append([]string{}, s...)
	return &out
}
