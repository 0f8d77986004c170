package ics

import (
	"time"

	"github.com/teambition/rrule-go"

	"github.com/entrycal/entrycal/server/storage"
)

// ValidateRule parses a recurrence rule and reports whether it is usable.
// Rules are stored in RFC 5545 RRULE syntax, with or without the RRULE:
// prefix.
func ValidateRule(rule string) error {
	if rule == "" {
		return nil
	}
	if _, err := rrule.StrToRRule(normalizeRule(rule)); err != nil {
		return &storage.Error{
			Type:    storage.ErrInvalidInput,
			Message: "invalid recurrence rule",
			Err:     err,
		}
	}
	return nil
}

// Occurrences expands a recurring entry's occurrences within [from, to],
// inclusive on both ends. An entry without a rule yields its own timestamp
// if it falls inside the window; an unscheduled entry yields nothing.
func Occurrences(entry *storage.Entry, from, to time.Time) ([]time.Time, error) {
	if !entry.Scheduled() {
		return nil, nil
	}

	if entry.RecurrenceRule == "" {
		ts := *entry.Timestamp
		if ts.Before(from) || ts.After(to) {
			return nil, nil
		}
		return []time.Time{ts}, nil
	}

	r, err := rrule.StrToRRule(normalizeRule(entry.RecurrenceRule))
	if err != nil {
		return nil, &storage.Error{
			Type:    storage.ErrInvalidInput,
			Message: "invalid recurrence rule",
			Err:     err,
		}
	}
	r.DTStart(*entry.Timestamp)
	return r.Between(from, to, true), nil
}
