package source_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"calreport/internal/config"
	"calreport/internal/model"
	"calreport/internal/source"
)

func ids(events []model.Event) string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return strings.Join(out, ",")
}

var day = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

var events = []model.Event{
	{ID: "c", Title: "C", Start: day.Add(3 * time.Hour), Engineer: "Kim", Resolved: model.Bool(true)},
	{ID: "a", Title: "A", Start: day.Add(1 * time.Hour), Engineer: "Lee"},
	{ID: "b", Title: "B", Start: day.Add(2 * time.Hour), Resolved: model.Bool(false)},
	{ID: "d", Title: "D", Start: day.Add(1 * time.Hour), Engineer: "kim"},
}

func TestApply(t *testing.T) {
	testCases := map[string]struct {
		filter model.Filter
		want   string
	}{
		"all":                 {filter: model.Filter{Status: "All", Engineer: "All"}, want: "a,d,b,c"},
		"empty means all":     {filter: model.Filter{}, want: "a,d,b,c"},
		"resolved":            {filter: model.Filter{Status: "Resolved"}, want: "c"},
		"open includes unset": {filter: model.Filter{Status: "open"}, want: "a,d,b"},
		"engineer":            {filter: model.Filter{Engineer: "Kim"}, want: "d,c"},
		"unassigned":          {filter: model.Filter{Engineer: "N/A"}, want: "b"},
		"combined":            {filter: model.Filter{Status: "Open", Engineer: "kim"}, want: "d"},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, err := source.Apply(events, tc.filter)
			gt.NoError(t, err).Required()
			gt.Equal(t, ids(got), tc.want)
		})
	}

	t.Run("unknown status", func(t *testing.T) {
		_, err := source.Apply(events, model.Filter{Status: "Pending"})
		gt.True(t, errors.Is(err, source.ErrUnknownStatus))
	})

	t.Run("input order untouched", func(t *testing.T) {
		_, err := source.Apply(events, model.Filter{})
		gt.NoError(t, err)
		gt.Equal(t, ids(events), "c,a,b,d")
	})
}

func TestDecode(t *testing.T) {
	t.Run("document", func(t *testing.T) {
		doc, err := source.Decode([]byte(`{
			"filter": {"status": "Open", "engineer": "Kim"},
			"events": [{"id": "1", "title": "Deploy", "start": "2024-03-05T14:30:00Z", "end": "2024-03-05T15:00:00Z", "team": "Core", "project": "API", "resolved": true}]
		}`))
		gt.NoError(t, err).Required()
		gt.Equal(t, doc.Filter.Status, "Open")
		gt.Equal(t, len(doc.Events), 1)
		gt.True(t, doc.Events[0].IsResolved())
		gt.Equal(t, doc.Events[0].Engineer, "")
	})

	t.Run("bare array", func(t *testing.T) {
		doc, err := source.Decode([]byte(` [{"id": "1", "title": "x", "start": "2024-03-05T14:30:00Z"}]`))
		gt.NoError(t, err).Required()
		gt.Equal(t, len(doc.Events), 1)
		gt.V(t, doc.Events[0].Resolved).Nil()
	})

	t.Run("empty", func(t *testing.T) {
		_, err := source.Decode([]byte("  "))
		gt.Error(t, err)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := source.Decode([]byte(`{"events": 3}`))
		gt.Error(t, err)
	})
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	gt.NoError(t, os.WriteFile(path, []byte(`[{"id":"1","title":"x","start":"2024-03-05T14:30:00Z"}]`), 0o600)).Required()

	doc, err := source.ReadFile(path)
	gt.NoError(t, err).Required()
	gt.Equal(t, doc.Events[0].ID, "1")

	_, err = source.ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	gt.Error(t, err)
}

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//calreport//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:patch@example.com\r\n" +
	"DTSTAMP:20240301T000000Z\r\n" +
	"DTSTART:20240305T143000Z\r\n" +
	"DTEND:20240305T150000Z\r\n" +
	"SUMMARY:Patch window\r\n" +
	"X-RESOLVED:false\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestFeedsLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ops.ics")
	gt.NoError(t, os.WriteFile(path, []byte(feed), 0o600)).Required()

	cfg := config.DefaultConfig()
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.ICS = []config.ICSConfig{
		{Name: "ops", URL: path, Team: "Ops", Project: "Kernel"},
		{Name: "no url"},
	}

	feeds := source.NewFeeds(cfg)
	gt.Equal(t, len(feeds.Sources()), 1)
	gt.Equal(t, feeds.Sources()[0].ID, "ops")

	got, err := feeds.Load(context.Background(), day)
	gt.NoError(t, err).Required()
	gt.Equal(t, len(got), 1)
	gt.Equal(t, got[0].Title, "Patch window")
	gt.Equal(t, got[0].Team, "Ops")
	gt.Equal(t, got[0].Project, "Kernel")
	gt.V(t, got[0].Resolved).NotNil()
	gt.False(t, got[0].IsResolved())

	t.Run("every feed failing is an error", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.CacheDir = filepath.Join(dir, "cache")
		cfg.ICS = []config.ICSConfig{{ID: "gone", URL: filepath.Join(dir, "missing.ics")}}

		_, err := source.NewFeeds(cfg).Load(context.Background(), day)
		gt.Error(t, err)
	})

	t.Run("no feeds yields empty list", func(t *testing.T) {
		got, err := source.NewFeeds(config.DefaultConfig()).Load(context.Background(), day)
		gt.NoError(t, err).Required()
		gt.Equal(t, len(got), 0)
	})
}
