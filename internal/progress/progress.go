// Package progress derives completion counts for checklist sections.
// Everything here is a pure function of its inputs; callers recompute on
// every read instead of keeping counters.
package progress

import (
	"math"

	"sitecheck/internal/model"
)

// Progress is the completion summary of a set of items
type Progress struct {
	Completed  int  `json:"completed"`
	Total      int  `json:"total"`
	Percent    int  `json:"percent"`
	IsComplete bool `json:"isComplete"`
}

// SectionProgress pairs a subsection with its progress
type SectionProgress struct {
	SubsectionID string `json:"subsectionId"`
	Name         string `json:"name"`
	Progress
}

// Compute counts items whose response exists with a non-pending status.
// responses is keyed by item template id.
func Compute(items []model.ItemTemplate, responses map[string]model.ItemResponse) Progress {
	p := Progress{Total: len(items)}
	for _, item := range items {
		resp, ok := responses[item.ID]
		if ok && resp.Status != "" && resp.Status != model.StatusPending {
			p.Completed++
		}
	}
	if p.Total > 0 {
		p.Percent = int(math.Round(100 * float64(p.Completed) / float64(p.Total)))
	}
	p.IsComplete = p.Total > 0 && p.Completed == p.Total
	return p
}

func ForSubsection(sub model.Subsection, responses map[string]model.ItemResponse) Progress {
	return Compute(sub.Items, responses)
}

// Overall applies the same formula across all items of all sections
func Overall(tpl model.ChecklistTemplate, responses map[string]model.ItemResponse) Progress {
	return Compute(tpl.AllItems(), responses)
}

// Sections returns per-subsection progress in display order
func Sections(tpl model.ChecklistTemplate, responses map[string]model.ItemResponse) []SectionProgress {
	subs := tpl.OrderedSubsections()
	out := make([]SectionProgress, 0, len(subs))
	for _, sub := range subs {
		out = append(out, SectionProgress{
			SubsectionID: sub.ID,
			Name:         sub.Name,
			Progress:     ForSubsection(sub, responses),
		})
	}
	return out
}
