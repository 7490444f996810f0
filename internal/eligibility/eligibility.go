// Package eligibility decides whether a queue entry may receive a new premium
// project. Evaluation is pure and repeatable; results are never cached across
// selection cycles because capacity and suspension change between calls.
package eligibility

import (
	"time"

	"dealflow/internal/cadence"
	"dealflow/internal/domain"
)

type Reason string

const (
	ReasonSuspended       Reason = "suspended"
	ReasonOptedOut        Reason = "opted_out"
	ReasonAtCapacity      Reason = "at_or_over_capacity"
	ReasonReportsBlocking Reason = "reports_overdue_blocking"
)

// Policy carries the tunable eligibility thresholds.
type Policy struct {
	BlockingThreshold int
	CadenceDays       int
}

type Result struct {
	Eligible bool     `json:"eligible"`
	Reasons  []Reason `json:"reasons,omitempty"`
}

// Evaluate computes all ineligibility reasons independently; an entry is
// eligible only when none hold.
func Evaluate(entry domain.QueueEntry, p Policy, now time.Time) Result {
	var reasons []Reason
	if s := entry.Suspension; s != nil {
		until, err := time.Parse(time.RFC3339, s.EffectiveUntil)
		if err == nil && now.Before(until) {
			reasons = append(reasons, ReasonSuspended)
		}
	}
	if !entry.MatchEnabled {
		reasons = append(reasons, ReasonOptedOut)
	}
	if entry.ActiveProjects >= entry.MaxCapacity {
		reasons = append(reasons, ReasonAtCapacity)
	}
	if PendingReports(entry, p.CadenceDays, now) >= p.BlockingThreshold {
		reasons = append(reasons, ReasonReportsBlocking)
	}
	return Result{Eligible: len(reasons) == 0, Reasons: reasons}
}

// PendingReports counts elapsed compliance-report windows for a queue entry.
// Never-reported entries anchor at joined_queue so a fresh partner is not
// penalized before its first reporting window has elapsed.
func PendingReports(entry domain.QueueEntry, cadenceDays int, now time.Time) int {
	joined, err := time.Parse(time.RFC3339, entry.JoinedQueue)
	if err != nil {
		joined = now
	}
	var last *time.Time
	if entry.LastReportDate != nil {
		if t, err := time.Parse(time.RFC3339, *entry.LastReportDate); err == nil {
			last = &t
		}
	}
	return cadence.Evaluate(last, joined, cadenceDays, now).Pending
}

// Compliance returns the full cadence status for an entry's compliance reports.
func Compliance(entry domain.QueueEntry, cadenceDays int, now time.Time) cadence.Status {
	joined, err := time.Parse(time.RFC3339, entry.JoinedQueue)
	if err != nil {
		joined = now
	}
	var last *time.Time
	if entry.LastReportDate != nil {
		if t, err := time.Parse(time.RFC3339, *entry.LastReportDate); err == nil {
			last = &t
		}
	}
	return cadence.Evaluate(last, joined, cadenceDays, now)
}
