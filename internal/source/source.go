// Package source supplies event lists to the exporter: from a JSON file or
// from the configured ICS feeds. It also owns filtering and ordering, which
// the report pipeline itself never does.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"calreport/internal/config"
	"calreport/internal/ics"
	appLog "calreport/internal/log"
	"calreport/internal/model"
	"calreport/internal/report"
)

// ErrUnknownStatus is returned by Apply for a status other than All, Open
// or Resolved.
var ErrUnknownStatus = errors.New("unknown status filter")

// Document is the JSON input accepted by ReadFile and the HTTP API.
type Document struct {
	Filter model.Filter  `json:"filter"`
	Events []model.Event `json:"events"`
}

// Decode accepts either a Document or a bare array of events.
func Decode(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Document{}, goerr.New("empty event document")
	}

	var doc Document
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &doc.Events); err != nil {
			return Document{}, goerr.Wrap(err, "failed to decode event list")
		}
		return doc, nil
	}
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Document{}, goerr.Wrap(err, "failed to decode event document")
	}
	return doc, nil
}

// ReadFile loads a Document from path.
func ReadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, goerr.Wrap(err, "failed to read events file", goerr.V("path", path))
	}
	return Decode(data)
}

func isAll(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, model.FilterAll)
}

// Apply returns the events matching f, sorted by start time then ID.
// The input slice is left untouched.
func Apply(events []model.Event, f model.Filter) ([]model.Event, error) {
	status := strings.TrimSpace(f.Status)
	var wantResolved *bool
	switch {
	case isAll(status):
	case strings.EqualFold(status, report.StatusResolved):
		wantResolved = model.Bool(true)
	case strings.EqualFold(status, report.StatusOpen):
		wantResolved = model.Bool(false)
	default:
		return nil, goerr.Wrap(ErrUnknownStatus, "invalid filter", goerr.V("status", f.Status))
	}

	engineer := strings.TrimSpace(f.Engineer)

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if wantResolved != nil && ev.IsResolved() != *wantResolved {
			continue
		}
		if !isAll(engineer) && !matchEngineer(ev.Engineer, engineer) {
			continue
		}
		out = append(out, ev)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func matchEngineer(have, want string) bool {
	if have == "" {
		return strings.EqualFold(want, report.EngineerPlaceholder)
	}
	return strings.EqualFold(have, want)
}

// Feeds loads events from the ICS sources of a config.
type Feeds struct {
	cfg     *config.Config
	fetcher *ics.Fetcher
}

func NewFeeds(cfg *config.Config) *Feeds {
	return &Feeds{
		cfg:     cfg,
		fetcher: ics.NewFetcher(cfg.CacheDir),
	}
}

// Sources converts the configured feeds, skipping entries without a URL.
func (f *Feeds) Sources() []ics.Source {
	sources := make([]ics.Source, 0, len(f.cfg.ICS))
	for _, csrc := range f.cfg.ICS {
		if csrc.URL == "" {
			continue
		}
		id := csrc.ID
		if id == "" {
			if csrc.Name != "" {
				id = csrc.Name
			} else {
				id = csrc.URL
			}
		}
		sources = append(sources, ics.Source{
			ID:      id,
			URL:     csrc.URL,
			Team:    csrc.Team,
			Project: csrc.Project,
		})
	}
	return sources
}

// Load fetches, parses and expands every feed for the window
// [now-BackfillDays, now+HorizonDays]. Feeds that fail are logged and
// skipped; Load only fails when every configured feed failed.
func (f *Feeds) Load(ctx context.Context, now time.Time) ([]model.Event, error) {
	sources := f.Sources()
	if len(sources) == 0 {
		return []model.Event{}, nil
	}

	loc := f.cfg.Location()
	now = now.In(loc)
	rangeStart := now.AddDate(0, 0, -f.cfg.BackfillDays)
	rangeEnd := now.AddDate(0, 0, f.cfg.HorizonDays)

	feeds, fetchErrs := f.fetcher.FetchAll(ctx, sources)
	if len(feeds) == 0 && len(fetchErrs) > 0 {
		return nil, goerr.Wrap(errors.Join(fetchErrs...), "all ICS feeds failed", goerr.V("feeds", len(sources)))
	}

	entries := make([]ics.Entry, 0)
	for _, feed := range feeds {
		parsed, err := ics.Parse(feed.Source, feed.Body)
		if err != nil {
			appLog.Error("ics parse failed for source", err, "id", feed.Source.ID)
			continue
		}
		entries = append(entries, parsed...)
	}

	expanded, err := ics.Expand(entries, ics.Window{
		From:     rangeStart,
		To:       rangeEnd,
		Location: loc,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to expand ICS events")
	}

	appLog.Info("ics feeds loaded",
		"feeds", len(sources),
		"failed", len(fetchErrs),
		"events", len(expanded.Events),
		"range_start", rangeStart.Format(time.RFC3339),
		"range_end", rangeEnd.Format(time.RFC3339),
	)
	return expanded.Events, nil
}
