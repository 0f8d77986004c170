package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrycal/entrycal/server/storage"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestExport(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	cal := &storage.Calendar{ID: uuid.New(), Name: "Work"}

	event := &storage.Entry{
		ID:             uuid.New(),
		Title:          "standup",
		Content:        "daily sync",
		Type:           storage.EntryEvent,
		Timestamp:      timePtr(start),
		EndTimestamp:   timePtr(end),
		Tags:           []string{"meeting", "team"},
		RecurrenceRule: "RRULE:FREQ=DAILY;COUNT=5",
		CreatedAt:      start,
		UpdatedAt:      start,
	}
	doneAt := start.Add(2 * time.Hour)
	todo := &storage.Entry{
		ID:          uuid.New(),
		Title:       "write report",
		Type:        storage.EntryTask,
		Completed:   true,
		CompletedAt: timePtr(doneAt),
		CreatedAt:   start,
		UpdatedAt:   doneAt,
	}
	inboxNote := &storage.Entry{
		ID:        uuid.New(),
		Title:     "random thought",
		Type:      storage.EntryNote,
		CreatedAt: start,
		UpdatedAt: start,
	}

	out := Export(cal, []*storage.Entry{event, todo, inboxNote})

	require.Len(t, out.Children, 2)

	var eventComp, todoComp *ical.Component
	for _, child := range out.Children {
		switch child.Name {
		case ical.CompEvent:
			eventComp = child
		case ical.CompToDo:
			todoComp = child
		}
	}
	require.NotNil(t, eventComp)
	require.NotNil(t, todoComp)

	summary, err := eventComp.Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "standup", summary)

	rule, err := eventComp.Props.Text(ical.PropRecurrenceRule)
	require.NoError(t, err)
	assert.Equal(t, "FREQ=DAILY;COUNT=5", rule)

	status, err := todoComp.Props.Text(ical.PropStatus)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", status)
}

func TestExportEncodesAsICS(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cal := &storage.Calendar{ID: uuid.New(), Name: "Work"}
	entry := &storage.Entry{
		ID:        uuid.New(),
		Title:     "standup",
		Type:      storage.EntryEvent,
		Timestamp: timePtr(start),
		CreatedAt: start,
		UpdatedAt: start,
	}

	var sb strings.Builder
	require.NoError(t, ical.NewEncoder(&sb).Encode(Export(cal, []*storage.Entry{entry})))

	got := sb.String()
	assert.Contains(t, got, "BEGIN:VCALENDAR")
	assert.Contains(t, got, "SUMMARY:standup")
	assert.Contains(t, got, "END:VCALENDAR")
}

func TestValidateRule(t *testing.T) {
	assert.NoError(t, ValidateRule(""))
	assert.NoError(t, ValidateRule("FREQ=WEEKLY;BYDAY=MO,WE"))
	assert.NoError(t, ValidateRule("RRULE:FREQ=DAILY"))

	err := ValidateRule("FREQ=SOMETIMES")
	assert.True(t, storage.IsType(err, storage.ErrInvalidInput))
}

func TestOccurrences(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	windowEnd := start.AddDate(0, 0, 6)

	recurring := &storage.Entry{
		Timestamp:      timePtr(start),
		RecurrenceRule: "FREQ=DAILY;COUNT=3",
	}
	got, err := Occurrences(recurring, start, windowEnd)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, start, got[0])
	assert.Equal(t, start.AddDate(0, 0, 2), got[2])

	single := &storage.Entry{Timestamp: timePtr(start)}
	got, err = Occurrences(single, start, windowEnd)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{start}, got)

	outside := &storage.Entry{Timestamp: timePtr(start.AddDate(0, 1, 0))}
	got, err = Occurrences(outside, start, windowEnd)
	require.NoError(t, err)
	assert.Empty(t, got)

	unscheduled := &storage.Entry{RecurrenceRule: "FREQ=DAILY"}
	got, err = Occurrences(unscheduled, start, windowEnd)
	require.NoError(t, err)
	assert.Empty(t, got)
}
