package ics

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/m-mizutani/goerr/v2"
	"github.com/teambition/rrule-go"

	appLog "calreport/internal/log"
)

// Non-standard properties that carry report fields.
const (
	PropTeam     = "X-TEAM"
	PropProject  = "X-PROJECT"
	PropEngineer = "X-ENGINEER"
	PropResolved = "X-RESOLVED"

	propRecurrenceID = "RECURRENCE-ID"
)

// Entry is one VEVENT reduced to the columns of a report row plus what is
// needed to unroll it into occurrences.
type Entry struct {
	Source Source
	UID    string

	Title    string
	Team     string
	Project  string
	Engineer string
	Resolved *bool

	Start  time.Time
	End    time.Time
	AllDay bool

	// Series is set when the VEVENT carries an RRULE. EXDATEs are already
	// excluded from it.
	Series *rrule.Set
	// Replaces is the RECURRENCE-ID of an entry that moves or edits a single
	// occurrence of another entry's series.
	Replaces *time.Time
}

// duration is the length given to each occurrence of a series.
func (e Entry) duration() time.Duration {
	if d := e.End.Sub(e.Start); d > 0 {
		return d
	}
	if e.AllDay {
		return 24 * time.Hour
	}
	return 0
}

// Parse reads an ICS payload into entries. A VEVENT that cannot be used
// (no UID, bad DTSTART, bad RRULE) is logged and skipped.
func Parse(src Source, body []byte) ([]Entry, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, goerr.New("empty ICS body", goerr.V("id", src.ID))
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse ICS", goerr.V("id", src.ID), goerr.V("url", redactURL(src.URL)))
	}

	vevents := cal.Events()
	entries := make([]Entry, 0, len(vevents))
	for _, ve := range vevents {
		e, err := parseEntry(src, ve)
		if err != nil {
			appLog.Warn("skipping VEVENT", "id", src.ID, "error", err.Error())
			continue
		}
		entries = append(entries, e)
	}

	appLog.Debug("ics parsed", "id", src.ID, "vevents", len(vevents), "entries", len(entries))
	return entries, nil
}

func parseEntry(src Source, ve *ical.VEvent) (Entry, error) {
	e := Entry{
		Source:   src,
		UID:      propValue(ve, ical.ComponentPropertyUniqueId),
		Title:    propValue(ve, ical.ComponentPropertySummary),
		Team:     firstNonEmpty(propValue(ve, PropTeam), src.Team),
		Project:  firstNonEmpty(propValue(ve, PropProject), src.Project),
		Engineer: firstNonEmpty(propValue(ve, PropEngineer), organizerName(ve)),
		Resolved: parseResolved(propValue(ve, PropResolved)),
	}
	if e.UID == "" {
		return e, goerr.New("VEVENT has no UID", goerr.V("summary", e.Title))
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return e, goerr.Wrap(err, "invalid DTSTART", goerr.V("uid", e.UID))
	}
	e.Start, e.End = start, start
	if end, err := ve.GetEndAt(); err == nil && end.After(start) {
		e.End = end
	}
	e.AllDay = isDateValue(ve.GetProperty(ical.ComponentPropertyDtStart))

	if p := ve.GetProperty(propRecurrenceID); p != nil {
		rid, err := propTime(p.Value, p.ICalParameters, start.Location())
		if err != nil {
			return e, goerr.Wrap(err, "invalid RECURRENCE-ID", goerr.V("uid", e.UID))
		}
		e.Replaces = &rid
		return e, nil
	}

	if rule := propValue(ve, ical.ComponentPropertyRrule); rule != "" {
		series, err := buildSeries(rule, start, exclusions(ve, start.Location()))
		if err != nil {
			return e, goerr.Wrap(err, "invalid RRULE", goerr.V("uid", e.UID), goerr.V("rrule", rule))
		}
		e.Series = series
	}
	return e, nil
}

func buildSeries(rule string, start time.Time, exdates []time.Time) (*rrule.Set, error) {
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return nil, err
	}
	opt.Dtstart = start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, err
	}

	set := &rrule.Set{}
	set.RRule(r)
	for _, ex := range exdates {
		set.ExDate(ex)
	}
	return set, nil
}

// exclusions collects every EXDATE value; a property may list several.
// Values without TZID are read in the series' own location.
func exclusions(ve *ical.VEvent, loc *time.Location) []time.Time {
	var out []time.Time
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, v := range strings.Split(p.Value, ",") {
			if strings.TrimSpace(v) == "" {
				continue
			}
			t, err := propTime(v, p.ICalParameters, loc)
			if err != nil {
				appLog.Warn("ignoring EXDATE", "value", v, "error", err.Error())
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// organizerName is the CN of ORGANIZER, used when X-ENGINEER is absent.
func organizerName(ve *ical.VEvent) string {
	p := ve.GetProperty(ical.ComponentPropertyOrganizer)
	if p == nil {
		return ""
	}
	if cns := p.ICalParameters["CN"]; len(cns) > 0 {
		return strings.Trim(cns[0], `"`)
	}
	return ""
}

// parseResolved accepts the strconv boolean forms; anything else leaves the
// state unknown.
func parseResolved(v string) *bool {
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}

func isDateValue(p *ical.IANAProperty) bool {
	if p == nil {
		return false
	}
	if vs := p.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// propTime reads a DATE or DATE-TIME value. A trailing Z means UTC,
// otherwise TZID applies, falling back to loc.
func propTime(v string, params map[string][]string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, goerr.New("empty time value")
	}
	if tz := params["TZID"]; len(tz) > 0 {
		if l, err := time.LoadLocation(strings.Trim(tz[0], `"`)); err == nil {
			loc = l
		}
	}
	if loc == nil {
		loc = time.UTC
	}

	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
