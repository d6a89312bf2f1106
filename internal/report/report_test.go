package report_test

import (
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"calreport/internal/model"
	"calreport/internal/report"
)

func sampleEvents() []model.Event {
	return []model.Event{
		{
			ID:       "ev-1",
			Title:    "Database failover drill",
			Start:    time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC),
			End:      time.Date(2024, 3, 5, 15, 30, 0, 0, time.UTC),
			Team:     "SRE",
			Project:  "Atlas",
			Engineer: "Kim",
			Resolved: model.Bool(true),
		},
		{
			ID:       "ev-2",
			Title:    "Certificate rotation",
			Start:    time.Date(2024, 3, 6, 9, 5, 0, 0, time.UTC),
			End:      time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC),
			Team:     "Platform",
			Project:  "Gateway",
			Resolved: model.Bool(false),
		},
		{
			ID:      "ev-3",
			Title:   "Quarterly review",
			Start:   time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC),
			End:     time.Date(2024, 3, 7, 1, 0, 0, 0, time.UTC),
			Team:    "Ops",
			Project: "Atlas",
		},
	}
}

func TestFormatDateTime(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	t.Run("US conventions", func(t *testing.T) {
		gt.Equal(t, report.FormatDateTime(ts, "en-US"), "Mar 5, 2024, 02:30 PM")
	})

	t.Run("morning hours are zero padded", func(t *testing.T) {
		am := time.Date(2024, 11, 21, 9, 5, 0, 0, time.UTC)
		gt.Equal(t, report.FormatDateTime(am, "en-US"), "Nov 21, 2024, 09:05 AM")
	})

	t.Run("unknown locale falls back to US", func(t *testing.T) {
		gt.Equal(t, report.FormatDateTime(ts, "not a locale"), "Mar 5, 2024, 02:30 PM")
		gt.Equal(t, report.FormatDateTime(ts, ""), "Mar 5, 2024, 02:30 PM")
	})

	t.Run("deterministic", func(t *testing.T) {
		gt.Equal(t, report.FormatDateTime(ts, "en-US"), report.FormatDateTime(ts, "en-US"))
	})

	t.Run("date only", func(t *testing.T) {
		gt.Equal(t, report.FormatDate(ts, "en-US"), "Mar 5, 2024")
	})
}

func TestBuilderRows(t *testing.T) {
	b := report.NewBuilder(report.WithLocale("en-US"))
	rows := b.Rows(sampleEvents())

	gt.Equal(t, len(rows), 3)

	gt.Equal(t, rows[0].Title, "Database failover drill")
	gt.Equal(t, rows[0].DateTime, "Mar 5, 2024, 02:30 PM")
	gt.Equal(t, rows[0].Engineer, "Kim")
	gt.Equal(t, rows[0].Status, report.StatusResolved)

	gt.Equal(t, rows[1].Title, "Certificate rotation")
	gt.Equal(t, rows[1].Engineer, report.EngineerPlaceholder)
	gt.Equal(t, rows[1].Status, report.StatusOpen)

	// no resolution flag at all
	gt.Equal(t, rows[2].Status, report.StatusOpen)
	gt.Equal(t, rows[2].Engineer, "N/A")
}

func TestBuilderRowsLocation(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)
	b := report.NewBuilder(report.WithLocation(seoul))
	rows := b.Rows(sampleEvents()[:1])
	gt.Equal(t, rows[0].DateTime, "Mar 5, 2024, 11:30 PM")
}

func TestBuild(t *testing.T) {
	b := report.NewBuilder()

	t.Run("empty list renders header only", func(t *testing.T) {
		view, err := b.Build(nil, model.Filter{Status: "All", Engineer: "All"})
		gt.NoError(t, err).Required()

		html := string(view.HTML)
		gt.Equal(t, strings.Count(html, "<th>"), 6)
		gt.Equal(t, strings.Count(html, `class="event-row"`), 0)
		gt.Equal(t, len(view.Rows), 0)
		gt.S(t, html).Contains(`id="report-table"`)
		gt.S(t, html).Contains("Date &amp; Time")
	})

	t.Run("table width", func(t *testing.T) {
		view, err := b.Build(nil, model.Filter{})
		gt.NoError(t, err).Required()
		gt.S(t, string(view.HTML)).Contains("width: 960px")

		view, err = report.NewBuilder(report.WithTableWidth(720)).Build(nil, model.Filter{})
		gt.NoError(t, err).Required()
		gt.S(t, string(view.HTML)).Contains("width: 720px")
	})

	t.Run("one body row per event in input order", func(t *testing.T) {
		events := sampleEvents()
		view, err := b.Build(events, model.Filter{Status: "Open", Engineer: "Kim"})
		gt.NoError(t, err).Required()

		html := string(view.HTML)
		gt.Equal(t, strings.Count(html, `class="event-row"`), len(events))
		gt.Equal(t, view.Selector, report.TableSelector)
		gt.Equal(t, view.Filter.Engineer, "Kim")

		prev := -1
		for _, ev := range events {
			idx := strings.Index(html, ev.Title)
			gt.True(t, idx > prev)
			prev = idx
		}
	})

	t.Run("status labels and placeholder", func(t *testing.T) {
		view, err := b.Build(sampleEvents(), model.Filter{})
		gt.NoError(t, err).Required()

		html := string(view.HTML)
		gt.Equal(t, strings.Count(html, ">Resolved</span>"), 1)
		gt.Equal(t, strings.Count(html, ">Open</span>"), 2)
		gt.Equal(t, strings.Count(html, "<td>N/A</td>"), 2)
		gt.S(t, html).Contains("status-resolved")
	})

	t.Run("titles are escaped", func(t *testing.T) {
		view, err := b.Build([]model.Event{{ID: "x", Title: "<script>alert(1)</script>"}}, model.Filter{})
		gt.NoError(t, err).Required()
		gt.False(t, strings.Contains(string(view.HTML), "<script>alert(1)"))
	})

	t.Run("input is not mutated", func(t *testing.T) {
		events := sampleEvents()
		_, err := b.Build(events, model.Filter{})
		gt.NoError(t, err)
		gt.Equal(t, events[1].Engineer, "")
		gt.V(t, events[2].Resolved).Nil()
	})
}
