package ics

import (
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"

	appLog "calreport/internal/log"
	"calreport/internal/model"
)

const defaultSeriesLimit = 5000

// Window bounds the occurrences produced by Expand. From and To are
// inclusive.
type Window struct {
	From time.Time
	To   time.Time

	// Location is applied to every event; nil means time.Local.
	Location *time.Location
	// Limit caps the occurrences taken from one series; zero means
	// defaultSeriesLimit.
	Limit int
}

// Expansion is the outcome of Expand.
type Expansion struct {
	// Events are ordered by start, then ID.
	Events []model.Event
	// Truncated lists the UIDs whose series hit the limit.
	Truncated []string
}

type occurrenceKey struct {
	uid string
	at  int64
}

// Expand turns entries into report events that intersect w. A recurring
// entry yields one event per occurrence, identified as UID@<UTC start>; an
// entry with RECURRENCE-ID replaces the occurrence it names and keeps its
// ID.
func Expand(entries []Entry, w Window) (Expansion, error) {
	var out Expansion
	if w.To.Before(w.From) {
		return out, goerr.New("window ends before it starts", goerr.V("from", w.From), goerr.V("to", w.To))
	}
	if w.Location == nil {
		w.Location = time.Local
	}
	if w.Limit <= 0 {
		w.Limit = defaultSeriesLimit
	}

	replacements := make(map[occurrenceKey]Entry)
	recurring := make(map[string]bool)
	for _, e := range entries {
		if e.Replaces != nil {
			replacements[occurrenceKey{e.UID, e.Replaces.Unix()}] = e
		}
		if e.Series != nil {
			recurring[e.UID] = true
		}
	}

	out.Events = make([]model.Event, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.Series != nil:
			events, truncated := expandSeries(e, replacements, w)
			out.Events = append(out.Events, events...)
			if truncated {
				out.Truncated = append(out.Truncated, e.UID)
				appLog.Warn("recurring event truncated", "uid", e.UID, "limit", w.Limit)
			}
		case e.Replaces != nil && recurring[e.UID]:
			// Emitted by its series.
		case overlaps(e.Start, e.End, w):
			// Plain events and replacements whose series is not in the feed.
			out.Events = append(out.Events, e.event(e.UID, e.Start, e.End, w.Location))
		}
	}

	sort.SliceStable(out.Events, func(i, j int) bool {
		a, b := out.Events[i], out.Events[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ID < b.ID
	})
	sort.Strings(out.Truncated)
	return out, nil
}

func expandSeries(e Entry, replacements map[occurrenceKey]Entry, w Window) ([]model.Event, bool) {
	starts := e.Series.Between(w.From, w.To, true)
	truncated := len(starts) > w.Limit
	if truncated {
		starts = starts[:w.Limit]
	}

	dur := e.duration()
	events := make([]model.Event, 0, len(starts))
	for _, s := range starts {
		id := e.UID + "@" + s.UTC().Format(time.RFC3339)
		if r, ok := replacements[occurrenceKey{e.UID, s.Unix()}]; ok {
			events = append(events, r.event(id, r.Start, r.End, w.Location))
			continue
		}
		events = append(events, e.event(id, s, s.Add(dur), w.Location))
	}
	return events, truncated
}

func (e Entry) event(id string, start, end time.Time, loc *time.Location) model.Event {
	return model.Event{
		ID:       id,
		Title:    e.Title,
		Start:    start.In(loc),
		End:      end.In(loc),
		Team:     e.Team,
		Project:  e.Project,
		Engineer: e.Engineer,
		Resolved: e.Resolved,
	}
}

func overlaps(start, end time.Time, w Window) bool {
	return !end.Before(w.From) && !start.After(w.To)
}
