package icsfetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_BasicEvent(t *testing.T) {
	events := Parse([]byte(sampleICS))
	require.Len(t, events, 2)
	assert.Equal(t, "event-1@example.com", events[0].UID)
	assert.False(t, events[0].AllDay)
	assert.Equal(t, time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC), events[0].Start)
}

func TestParse_AllDayEvent(t *testing.T) {
	raw := `BEGIN:VCALENDAR
BEGIN:VEVENT
UID:all-day@example.com
SUMMARY:Conference
DTSTART;VALUE=DATE:20260810
DTEND;VALUE=DATE:20260812
END:VEVENT
END:VCALENDAR
`
	events := Parse([]byte(raw))
	require.Len(t, events, 1)
	assert.True(t, events[0].AllDay)
	assert.Equal(t, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC), events[0].Start)
}

func TestParse_FoldedLinesUnfoldedBeforeParsing(t *testing.T) {
	raw := "BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nUID:folded@example.com\r\nSUMMARY:Long \r\n Title\r\nDTSTART:20260801T090000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	events := Parse([]byte(raw))
	require.Len(t, events, 1)
	assert.Equal(t, "Long Title", events[0].Summary)
}

func TestParse_EscapedCharactersUnescaped(t *testing.T) {
	raw := `BEGIN:VCALENDAR
BEGIN:VEVENT
UID:escaped@example.com
SUMMARY:Comma\, semicolon\; done
DTSTART:20260801T090000Z
END:VEVENT
END:VCALENDAR
`
	events := Parse([]byte(raw))
	require.Len(t, events, 1)
	assert.Equal(t, "Comma, semicolon; done", events[0].Summary)
}

func TestParse_NoEventsReturnsEmpty(t *testing.T) {
	events := Parse([]byte("BEGIN:VCALENDAR\nEND:VCALENDAR\n"))
	assert.Empty(t, events)
}
