package report

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"calreport/internal/model"
)

// TableSelector is the CSS selector of the table node used as capture source.
const TableSelector = "#report-table"

// DefaultTableWidth is the CSS pixel width of the rendered table.
const DefaultTableWidth = 960

// Columns are the header labels, in display order.
var Columns = []string{"Title", "Date & Time", "Team", "Project", "Engineer", "Status"}

const (
	StatusResolved = "Resolved"
	StatusOpen     = "Open"

	// EngineerPlaceholder is shown when an event has no responsible engineer.
	EngineerPlaceholder = "N/A"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var reportTmpl = template.Must(template.ParseFS(templateFS, "templates/report.html.tmpl"))

// Row is the display form of one event.
type Row struct {
	Title       string
	DateTime    string
	Team        string
	Project     string
	Engineer    string
	Status      string
	StatusClass string
}

// View is the rendered report document for one export cycle.
type View struct {
	HTML     []byte
	Rows     []Row
	Filter   model.Filter
	Selector string
}

// Builder turns events into a report View.
type Builder struct {
	locale string
	loc    *time.Location
	width  int
}

// Option configures a Builder.
type Option func(*Builder)

// WithLocale sets the BCP 47 locale used for date formatting.
func WithLocale(tag string) Option {
	return func(b *Builder) {
		if tag != "" {
			b.locale = tag
		}
	}
}

// WithLocation converts event times into loc before formatting.
// A nil location keeps each timestamp's own zone.
func WithLocation(loc *time.Location) Option {
	return func(b *Builder) {
		b.loc = loc
	}
}

// WithTableWidth sets the table width in CSS pixels.
func WithTableWidth(px int) Option {
	return func(b *Builder) {
		if px > 0 {
			b.width = px
		}
	}
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		locale: DefaultLocale,
		width:  DefaultTableWidth,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Rows maps events to rows, preserving input order.
func (b *Builder) Rows(events []model.Event) []Row {
	rows := make([]Row, 0, len(events))
	for _, ev := range events {
		rows = append(rows, b.row(ev))
	}
	return rows
}

func (b *Builder) row(ev model.Event) Row {
	start := ev.Start
	if b.loc != nil {
		start = start.In(b.loc)
	}

	engineer := ev.Engineer
	if engineer == "" {
		engineer = EngineerPlaceholder
	}

	status, class := StatusOpen, "status-open"
	if ev.IsResolved() {
		status, class = StatusResolved, "status-resolved"
	}

	return Row{
		Title:       ev.Title,
		DateTime:    FormatDateTime(start, b.locale),
		Team:        ev.Team,
		Project:     ev.Project,
		Engineer:    engineer,
		Status:      status,
		StatusClass: class,
	}
}

// Build renders the full HTML document for events. The caller owns
// filtering and ordering; Build keeps the list as given.
func (b *Builder) Build(events []model.Event, filter model.Filter) (*View, error) {
	rows := b.Rows(events)

	data := struct {
		Locale  string
		Width   int
		Columns []string
		Rows    []Row
	}{
		Locale:  b.locale,
		Width:   b.width,
		Columns: Columns,
		Rows:    rows,
	}

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, data); err != nil {
		return nil, goerr.Wrap(err, "failed to render report view", goerr.V("rows", len(rows)))
	}

	return &View{
		HTML:     buf.Bytes(),
		Rows:     rows,
		Filter:   filter,
		Selector: TableSelector,
	}, nil
}
