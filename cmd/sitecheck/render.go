package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"sitecheck/internal/fill"
	"sitecheck/internal/model"
	"sitecheck/internal/photo"
	"sitecheck/internal/progress"
)

// report is everything show prints about one instance
type report struct {
	Instance  *model.ChecklistInstance   `json:"instance"`
	Overall   progress.Progress          `json:"progress"`
	Sections  []progress.SectionProgress `json:"sections"`
	Items     []fill.ItemView            `json:"items"`
	Blockers  []fill.Blocker             `json:"blockers"`
	CanSubmit bool                       `json:"canSubmit"`
	Capture   photo.Hint                 `json:"capture"`
}

func buildReport(s *session) (report, error) {
	inst, ok := s.store.Instance()
	if !ok {
		return report{}, fmt.Errorf("checklist not loaded")
	}
	items, err := s.ctrl.Items()
	if err != nil {
		return report{}, err
	}
	return report{
		Instance:  inst,
		Overall:   s.ctrl.Progress(),
		Sections:  s.ctrl.Sections(),
		Items:     items,
		Blockers:  s.ctrl.Blockers(),
		CanSubmit: s.ctrl.CanSubmit(),
		Capture:   photo.CaptureHint(photo.SelectSource(photo.Capabilities{})),
	}, nil
}

func marker(v fill.ItemView) string {
	switch {
	case v.State == fill.StateSaving:
		return "[~]"
	case v.Satisfied:
		return "[x]"
	case v.Response != nil && v.Response.Status != model.StatusPending:
		return "[!]"
	default:
		return "[ ]"
	}
}

func requirementTags(item model.ItemTemplate) string {
	var tags []string
	if item.RequiresPhoto {
		tags = append(tags, "photo")
	}
	if item.RequiresNote {
		tags = append(tags, "note")
	}
	if item.RequiresSignature {
		tags = append(tags, "signature")
	}
	if len(tags) == 0 {
		return ""
	}
	return "needs " + strings.Join(tags, "+")
}

func writeItem(tw io.Writer, v fill.ItemView) {
	status := "-"
	detail := ""
	if v.Response != nil {
		status = string(v.Response.Status)
		if n := len(v.Response.ImageURLs); n > 0 {
			detail = fmt.Sprintf("%d photo(s)", n)
		}
		if v.Response.HasSignature() {
			detail = strings.TrimSpace(detail + " signed")
		}
	}
	fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", marker(v), v.Item.Name, status, detail, requirementTags(v.Item))
	if v.Response != nil && v.Response.HasNote() {
		fmt.Fprintf(tw, "  \t  note: %s\t\t\t\n", v.Response.NotesValue())
	}
	if v.Err != nil {
		fmt.Fprintf(tw, "  \t  last save failed: %v\t\t\t\n", v.Err)
	}
}

func writeReport(w io.Writer, r report) error {
	inst := r.Instance
	fmt.Fprintf(w, "%s  (%s)  %s  %d/%d items (%d%%)\n",
		inst.UnitIdentifier, inst.ID, inst.Status, r.Overall.Completed, r.Overall.Total, r.Overall.Percent)

	views := make(map[string]fill.ItemView, len(r.Items))
	for _, v := range r.Items {
		views[v.Item.ID] = v
	}

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	for i, sub := range inst.Template.OrderedSubsections() {
		var sp progress.Progress
		if i < len(r.Sections) {
			sp = r.Sections[i].Progress
		}
		fmt.Fprintf(tw, "\n%s\t%d/%d\t\t\t\n", sub.Name, sp.Completed, sp.Total)
		for _, item := range sub.OrderedItems() {
			writeItem(tw, views[item.ID])
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if inst.Status == model.InstanceCompleted {
		fmt.Fprintln(w, "\nInspection completed.")
		return nil
	}
	if len(r.Blockers) == 0 {
		fmt.Fprintln(w, "\nReady to submit.")
		return nil
	}
	fmt.Fprintf(w, "\nRemaining before submission:\n")
	for _, b := range r.Blockers {
		fmt.Fprintf(w, "  - %s / %s: %s\n", b.Subsection, b.ItemName, b.Reason())
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
