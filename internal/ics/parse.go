package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "coursebot/internal/log"
	"coursebot/internal/model"
)

// ParseFeed parses a single ICS payload into the flat list of course events,
// in feed order. Timestamps are normalized into model.CST:
//
//   - instants carrying timezone information (UTC "Z" form or a TZID
//     parameter) are converted into UTC+8;
//   - naive wall-clock values are interpreted as already being UTC+8: the
//     offset is attached without shifting the clock fields.
//
// That asymmetry is deliberate and must not change; feeds in the wild mix
// both forms and this is the interpretation users rely on.
//
// A feed that is not well-formed iCalendar data fails as a whole. A single
// event missing DTSTART or DTEND is skipped (logged) and the rest of the
// feed is kept.
func ParseFeed(body []byte) ([]model.CourseEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty feed body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	events := make([]model.CourseEvent, 0)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve)
		if perr != nil {
			appLog.Error("skipping malformed vevent", perr, "summary", propValue(ve, ical.ComponentPropertySummary))
			continue
		}
		events = append(events, ev)
	}

	return events, nil
}

func parseVEvent(ve *ical.VEvent) (model.CourseEvent, error) {
	var out model.CourseEvent

	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil || startProp.Value == "" {
		return out, errors.New("missing DTSTART")
	}
	endProp := ve.GetProperty(ical.ComponentPropertyDtEnd)
	if endProp == nil || endProp.Value == "" {
		return out, errors.New("missing DTEND")
	}

	start, err := normalizeTime(startProp)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	end, err := normalizeTime(endProp)
	if err != nil {
		return out, fmt.Errorf("DTEND: %w", err)
	}
	if !start.Before(end) {
		return out, fmt.Errorf("DTSTART %s not before DTEND %s", start, end)
	}

	out.Start = start
	out.End = end
	return out, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

const (
	layoutUTC      = "20060102T150405Z"
	layoutDateTime = "20060102T150405"
	layoutDate     = "20060102"
)

// normalizeTime parses an ICS DTSTART/DTEND property into a model.CST time.
func normalizeTime(p *ical.IANAProperty) (time.Time, error) {
	v := strings.TrimSpace(p.Value)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g. 20250101T090000Z: zone-bearing, convert.
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(layoutUTC, v)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(model.CST), nil
	}

	// TZID parameter, e.g. DTSTART;TZID=America/New_York:20250101T090000.
	// Zone-bearing as well; parse in that zone and convert.
	if tzid := tzidParam(p); tzid != "" {
		loc, err := time.LoadLocation(tzid)
		if err == nil {
			t, perr := time.ParseInLocation(layoutDateTime, v, loc)
			if perr != nil {
				return time.Time{}, perr
			}
			return t.In(model.CST), nil
		}
		// Unknown TZID: fall through and treat the value as naive.
		appLog.Debug("unknown TZID, treating value as naive", "tzid", tzid)
	}

	// Naive date-time: attach UTC+8 without shifting the clock fields.
	if strings.Contains(v, "T") {
		return time.ParseInLocation(layoutDateTime, v, model.CST)
	}

	// Date-only (all-day) form: midnight UTC+8.
	return time.ParseInLocation(layoutDate, v, model.CST)
}

func tzidParam(p *ical.IANAProperty) string {
	if p.ICalParameters == nil {
		return ""
	}
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		return tzs[0]
	}
	return ""
}
