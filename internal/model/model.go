package model

import "time"

// Event is a single calendar event as it appears in a report row.
// Events are treated as immutable input by the report pipeline.
type Event struct {
	ID    string `json:"id"`
	Title string `json:"title"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Team    string `json:"team"`
	Project string `json:"project"`

	// Engineer is the responsible engineer. Empty means unassigned.
	Engineer string `json:"engineer,omitempty"`

	// Resolved is nil when the source carries no resolution state.
	Resolved *bool `json:"resolved,omitempty"`
}

// IsResolved reports whether the event is explicitly marked resolved.
func (e Event) IsResolved() bool {
	return e.Resolved != nil && *e.Resolved
}

// Filter describes the active filter selection printed in the report header.
type Filter struct {
	Status   string `json:"status"`
	Engineer string `json:"engineer"`
}

// FilterAll is the label used when a filter dimension is not restricted.
const FilterAll = "All"

// Normalize fills empty filter labels with FilterAll.
func (f Filter) Normalize() Filter {
	if f.Status == "" {
		f.Status = FilterAll
	}
	if f.Engineer == "" {
		f.Engineer = FilterAll
	}
	return f
}

// Bool returns a pointer to b; handy for optional Event fields.
func Bool(b bool) *bool {
	return &b
}
