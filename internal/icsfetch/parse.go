package icsfetch

import (
	"bufio"
	"bytes"
	"strings"
	"time"
)

// Parse extracts VEVENT blocks from raw ICS bytes. It implements just enough
// of RFC 5545 to drive rendering: line unfolding, the handful of properties
// the placeholder renderer consumes, and the three DTSTART/DTEND encodings
// (UTC date-time with a trailing Z, floating date-time, and all-day
// VALUE=DATE) calendar feeds commonly emit.
// There is no general-purpose ICS parsing library anywhere in this
// project's dependency set, so this is a deliberately narrow hand-rolled
// parser rather than a generic one.
func Parse(raw []byte) []Event {
	lines := unfold(raw)

	var events []Event
	var cur map[string]string
	var inEvent bool

	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "BEGIN:VEVENT":
			inEvent = true
			cur = make(map[string]string)
		case line == "END:VEVENT":
			if inEvent {
				if ev, ok := toEvent(cur); ok {
					events = append(events, ev)
				}
			}
			inEvent = false
			cur = nil
		case inEvent:
			name, params, value, ok := splitProperty(line)
			if !ok {
				continue
			}
			key := name
			if allDay := params["VALUE"] == "DATE"; allDay && (name == "DTSTART" || name == "DTEND") {
				key = name + ";DATE"
			}
			cur[key] = value
		}
	}

	return events
}

// unfold joins RFC 5545 folded continuation lines (a line beginning with a
// single space or tab is a continuation of the previous one).
func unfold(raw []byte) []string {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// splitProperty parses a "NAME;PARAM=VALUE;...:value" line into its name,
// parameter map, and value.
func splitProperty(line string) (name string, params map[string]string, value string, ok bool) {
	colon := strings.Index(line, ":")
	if colon < 0 {
		return "", nil, "", false
	}
	head := line[:colon]
	value = line[colon+1:]

	parts := strings.Split(head, ";")
	name = strings.ToUpper(parts[0])
	params = make(map[string]string)
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) == 2 {
			params[strings.ToUpper(kv[0])] = strings.ToUpper(kv[1])
		}
	}
	return name, params, value, true
}

func toEvent(fields map[string]string) (Event, bool) {
	start, allDay, ok := parseDateTime(fields, "DTSTART")
	if !ok {
		return Event{}, false
	}
	end, _, ok := parseDateTime(fields, "DTEND")
	if !ok {
		end = start
	}

	return Event{
		UID:         fields["UID"],
		Summary:     unescape(fields["SUMMARY"]),
		Start:       start,
		End:         end,
		AllDay:      allDay,
		Location:    unescape(fields["LOCATION"]),
		Description: unescape(fields["DESCRIPTION"]),
	}, true
}

func parseDateTime(fields map[string]string, name string) (time.Time, bool, bool) {
	if v, ok := fields[name+";DATE"]; ok {
		t, err := time.Parse("20060102", v)
		return t, true, err == nil
	}
	v, ok := fields[name]
	if !ok {
		return time.Time{}, false, false
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err == nil
	}
	t, err := time.Parse("20060102T150405", v)
	return t, false, err == nil
}

func unescape(v string) string {
	r := strings.NewReplacer(`\n`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return r.Replace(v)
}
