package eligibility_test

import (
	"testing"
	"time"

	"dealflow/internal/domain"
	"dealflow/internal/eligibility"
)

var testPolicy = eligibility.Policy{BlockingThreshold: 2, CadenceDays: 7}

func entry(now time.Time) domain.QueueEntry {
	reported := now.Add(-24 * time.Hour).Format(time.RFC3339)
	return domain.QueueEntry{
		AgencyID:       "ag-1",
		Position:       1,
		Tier:           "premium",
		MatchEnabled:   true,
		ActiveProjects: 1,
		MaxCapacity:    5,
		LastReportDate: &reported,
		JoinedQueue:    now.Add(-90 * 24 * time.Hour).Format(time.RFC3339),
	}
}

func TestEligibleEntry(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	res := eligibility.Evaluate(entry(now), testPolicy, now)
	if !res.Eligible || len(res.Reasons) != 0 {
		t.Fatalf("expected eligible, got %+v", res)
	}
}

func TestReasonsAccumulate(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	e := entry(now)
	e.MatchEnabled = false
	e.ActiveProjects = e.MaxCapacity
	e.Suspension = &domain.Suspension{
		Reason:         "compliance review",
		EffectiveUntil: now.Add(48 * time.Hour).Format(time.RFC3339),
		SuspendedBy:    "admin",
	}
	stale := now.Add(-30 * 24 * time.Hour).Format(time.RFC3339)
	e.LastReportDate = &stale

	res := eligibility.Evaluate(e, testPolicy, now)
	if res.Eligible {
		t.Fatalf("expected ineligible")
	}
	want := map[eligibility.Reason]bool{
		eligibility.ReasonSuspended:       true,
		eligibility.ReasonOptedOut:        true,
		eligibility.ReasonAtCapacity:      true,
		eligibility.ReasonReportsBlocking: true,
	}
	if len(res.Reasons) != len(want) {
		t.Fatalf("reasons = %v", res.Reasons)
	}
	for _, r := range res.Reasons {
		if !want[r] {
			t.Fatalf("unexpected reason %s", r)
		}
	}
}

func TestExpiredSuspensionIgnored(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	e := entry(now)
	e.Suspension = &domain.Suspension{
		Reason:         "expired",
		EffectiveUntil: now.Add(-time.Hour).Format(time.RFC3339),
		SuspendedBy:    "admin",
	}
	res := eligibility.Evaluate(e, testPolicy, now)
	if !res.Eligible {
		t.Fatalf("expired suspension should not block: %+v", res)
	}
}

func TestNeverReportedGraceWindow(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	e := entry(now)
	e.LastReportDate = nil
	e.JoinedQueue = now.Add(-3 * 24 * time.Hour).Format(time.RFC3339)
	if got := eligibility.PendingReports(e, 7, now); got != 0 {
		t.Fatalf("3-day-old entry pending = %d, want 0", got)
	}

	e.JoinedQueue = now.Add(-8 * 24 * time.Hour).Format(time.RFC3339)
	if got := eligibility.PendingReports(e, 7, now); got != 1 {
		t.Fatalf("8-day-old entry pending = %d, want 1", got)
	}
}

func TestBlockingNeedsThreshold(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	e := entry(now)
	oneMissed := now.Add(-10 * 24 * time.Hour).Format(time.RFC3339)
	e.LastReportDate = &oneMissed
	res := eligibility.Evaluate(e, testPolicy, now)
	if !res.Eligible {
		t.Fatalf("one pending report is below the blocking threshold: %+v", res)
	}
}
