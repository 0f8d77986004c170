// Package ics renders calendars as iCalendar documents and handles entry
// recurrence rules.
package ics

import (
	"strings"

	"github.com/emersion/go-ical"

	"github.com/entrycal/entrycal/server/storage"
)

const productID = "-//entrycal//entrycal//EN"

// Export builds an iCalendar document for the calendar and its entries.
// Timed entries of type "event" and "note" become VEVENTs; entries of type
// "task" become VTODOs carrying their completion state. Unscheduled notes
// are skipped: they have no representation on a calendar grid.
func Export(cal *storage.Calendar, entries []*storage.Entry) *ical.Calendar {
	out := ical.NewCalendar()
	out.Props.SetText(ical.PropProductID, productID)
	out.Props.SetText(ical.PropVersion, "2.0")
	if cal.Name != "" {
		out.Props.SetText(ical.PropName, cal.Name)
	}

	for _, entry := range entries {
		switch {
		case entry.Type == storage.EntryTask:
			out.Children = append(out.Children, todoComponent(entry))
		case entry.Scheduled():
			out.Children = append(out.Children, eventComponent(entry))
		}
	}
	return out
}

func eventComponent(entry *storage.Entry) *ical.Component {
	comp := ical.NewComponent(ical.CompEvent)
	setCommonProps(comp, entry)

	comp.Props.SetDateTime(ical.PropDateTimeStart, *entry.Timestamp)
	if entry.EndTimestamp != nil {
		comp.Props.SetDateTime(ical.PropDateTimeEnd, *entry.EndTimestamp)
	}
	if entry.RecurrenceRule != "" {
		comp.Props.SetText(ical.PropRecurrenceRule, normalizeRule(entry.RecurrenceRule))
	}
	return comp
}

func todoComponent(entry *storage.Entry) *ical.Component {
	comp := ical.NewComponent(ical.CompToDo)
	setCommonProps(comp, entry)

	if entry.Timestamp != nil {
		comp.Props.SetDateTime(ical.PropDue, *entry.Timestamp)
	}
	if entry.Completed {
		comp.Props.SetText(ical.PropStatus, "COMPLETED")
		if entry.CompletedAt != nil {
			comp.Props.SetDateTime(ical.PropCompleted, *entry.CompletedAt)
		}
	} else {
		comp.Props.SetText(ical.PropStatus, "NEEDS-ACTION")
	}
	return comp
}

func setCommonProps(comp *ical.Component, entry *storage.Entry) {
	comp.Props.SetText(ical.PropUID, entry.ID.String())
	comp.Props.SetText(ical.PropSummary, entry.Title)
	if entry.Content != "" {
		comp.Props.SetText(ical.PropDescription, entry.Content)
	}
	if len(entry.Tags) > 0 {
		comp.Props.SetText(ical.PropCategories, strings.Join(entry.Tags, ","))
	}
	comp.Props.SetDateTime(ical.PropCreated, entry.CreatedAt)
	comp.Props.SetDateTime(ical.PropLastModified, entry.UpdatedAt)
}

// normalizeRule strips an optional RRULE: prefix so stored rules may use
// either form.
func normalizeRule(rule string) string {
	return strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:")
}
