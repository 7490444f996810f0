// Package cadence computes report due dates. One algorithm serves both
// subjects: agency compliance reports and premium-project status reports.
package cadence

import "time"

const day = 24 * time.Hour

// Status describes where a subject stands against its reporting cadence.
type Status struct {
	NextDue     time.Time `json:"next_due"`
	Overdue     bool      `json:"overdue"`
	OverdueDays int       `json:"overdue_days"`
	Pending     int       `json:"pending_reports_count"`
	FirstReport bool      `json:"first_report"`
}

// NextDue returns the date the next report falls due.
func NextDue(lastReport time.Time, cadenceDays int) time.Time {
	return lastReport.Add(time.Duration(cadenceDays) * day)
}

// IsOverdue reports whether the next report is past due at now.
func IsOverdue(lastReport time.Time, cadenceDays int, now time.Time) bool {
	return now.After(NextDue(lastReport, cadenceDays))
}

// OverdueDays returns whole days past due, 0 if not overdue.
func OverdueDays(lastReport time.Time, cadenceDays int, now time.Time) int {
	due := NextDue(lastReport, cadenceDays)
	if !now.After(due) {
		return 0
	}
	return int(now.Sub(due) / day)
}

// Evaluate computes the full status for a subject. A nil lastReport means no
// report was ever filed: the subject owes an immediately due first report
// anchored at anchor (joined_queue for agencies, creation or activation for
// projects) and only starts accruing pending reports once a full cadence has
// elapsed, so a brand-new subject is never treated as delinquent.
func Evaluate(lastReport *time.Time, anchor time.Time, cadenceDays int, now time.Time) Status {
	ref := anchor
	first := lastReport == nil
	if !first {
		ref = *lastReport
	}
	due := NextDue(ref, cadenceDays)
	s := Status{
		NextDue:     due,
		Overdue:     now.After(due),
		OverdueDays: OverdueDays(ref, cadenceDays, now),
		FirstReport: first,
	}
	if elapsed := now.Sub(ref); elapsed > 0 {
		s.Pending = int(elapsed / (time.Duration(cadenceDays) * day))
	}
	return s
}
