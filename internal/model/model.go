// Package model holds the shared data types of the daemon.
package model

import "time"

// DateLayout is the calendar-day key format used everywhere a DailyRecord
// date is stored or compared. Days are local to the configured zone.
const DateLayout = "2006-01-02"

// DailyRecord is the single "current day" record. It is created at the
// morning wake, mutated at most once by a confirmation, closed at the
// evening cutoff and then superseded by the next day's record. The
// lifecycle controller owns it exclusively; the store only serializes it.
type DailyRecord struct {
	// Date is the local calendar day, formatted with DateLayout.
	Date string `yaml:"date" json:"date"`

	// KataName is the exercise shown on the panel for this day.
	KataName string `yaml:"kata_name" json:"kata_name"`

	// Confirmed reports whether the button was pressed before the cutoff.
	Confirmed bool `yaml:"confirmed" json:"confirmed"`

	// ConfirmedAt is set when Confirmed flips to true, nil otherwise.
	ConfirmedAt *time.Time `yaml:"confirmed_at,omitempty" json:"confirmed_at,omitempty"`

	// Closed is set by the evening finalize transition. A closed record is
	// terminal: later confirmation edges have no effect on it.
	Closed bool `yaml:"closed" json:"closed"`
}

// NewDailyRecord returns an unconfirmed, open record for the given local day.
func NewDailyRecord(day time.Time, kataName string) *DailyRecord {
	return &DailyRecord{
		Date:     day.Format(DateLayout),
		KataName: kataName,
	}
}

// IsFor reports whether the record belongs to the calendar day of t.
func (r *DailyRecord) IsFor(t time.Time) bool {
	return r != nil && r.Date == t.Format(DateLayout)
}
