package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"dealflow/internal/audit"
	"dealflow/internal/config"
	"dealflow/internal/db"
	"dealflow/internal/domain"
	"dealflow/internal/engine"
	"dealflow/internal/lifecycle"
	"dealflow/internal/migrate"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
	Now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	env := &testEnv{Engine: eng, Ctx: context.Background(), Now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	eng.Now = func() time.Time { return env.Now }
	eng.Audit.Now = eng.Now
	return env
}

func (env *testEnv) addAgency(t *testing.T, id, tier string, satisfaction float64) {
	t.Helper()
	_, err := env.Engine.RegisterAgency(env.Ctx, engine.AgencyOptions{
		ID: id, Name: id, Tier: tier, SatisfactionRating: satisfaction, CompletionRate: 90, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	if _, err := env.Engine.QueueInsert(env.Ctx, id, 5, "tester"); err != nil {
		t.Fatalf("queue insert %s: %v", id, err)
	}
}

func (env *testEnv) positions(t *testing.T) map[string]int {
	t.Helper()
	entries, err := env.Engine.QueueSnapshot(env.Ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	out := make(map[string]int, len(entries))
	for i, e := range entries {
		if e.Position != i+1 {
			t.Fatalf("positions not contiguous: %v at index %d", e.Position, i)
		}
		out[e.AgencyID] = e.Position
	}
	return out
}

func TestQueueInsertAppendsAndRemoveClosesGap(t *testing.T) {
	env := newTestEnv(t)
	env.addAgency(t, "a1", "elite", 4.5)
	env.addAgency(t, "a2", "premium", 4.0)
	env.addAgency(t, "a3", "basic", 3.0)

	pos := env.positions(t)
	if pos["a1"] != 1 || pos["a2"] != 2 || pos["a3"] != 3 {
		t.Fatalf("unexpected positions after insert: %v", pos)
	}

	if err := env.Engine.QueueRemove(env.Ctx, "a2", "tester"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	pos = env.positions(t)
	if pos["a1"] != 1 || pos["a3"] != 2 {
		t.Fatalf("gap not closed: %v", pos)
	}
}

func TestQueueInsertRejectsDuplicateAndUnknown(t *testing.T) {
	env := newTestEnv(t)
	env.addAgency(t, "a1", "elite", 4.5)

	if _, err := env.Engine.QueueInsert(env.Ctx, "a1", 5, "tester"); !errors.Is(err, engine.ErrDuplicateAgency) {
		t.Fatalf("want ErrDuplicateAgency, got %v", err)
	}
	if _, err := env.Engine.QueueInsert(env.Ctx, "ghost", 5, "tester"); !errors.Is(err, engine.ErrUnknownAgency) {
		t.Fatalf("want ErrUnknownAgency, got %v", err)
	}
}

func TestQueueMoveBoundaryIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.addAgency(t, "a1", "elite", 4.5)
	env.addAgency(t, "a2", "premium", 4.0)

	entry, err := env.Engine.QueueMove(env.Ctx, "a1", "up", "tester")
	if err != nil {
		t.Fatalf("move up at head: %v", err)
	}
	if entry.Position != 1 {
		t.Fatalf("head moved: %d", entry.Position)
	}

	entry, err = env.Engine.QueueMove(env.Ctx, "a2", "up", "tester")
	if err != nil || entry.Position != 1 {
		t.Fatalf("move up: pos=%d err=%v", entry.Position, err)
	}
	pos := env.positions(t)
	if pos["a2"] != 1 || pos["a1"] != 2 {
		t.Fatalf("swap not applied: %v", pos)
	}
}

func TestDistributePicksFrontEligible(t *testing.T) {
	env := newTestEnv(t)
	env.addAgency(t, "a1", "elite", 4.5)
	env.addAgency(t, "a2", "premium", 4.0)

	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "site revamp", Value: 12000, ActorID: "tester"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	agencyID, err := env.Engine.Distribute(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if agencyID != "a1" {
		t.Fatalf("want a1, got %s", agencyID)
	}
	got, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssignedAgencyID == nil || *got.AssignedAgencyID != "a1" {
		t.Fatalf("assignment not persisted: %+v", got.AssignedAgencyID)
	}
}

func TestDistributeSkipsIneligible(t *testing.T) {
	env := newTestEnv(t)
	env.addAgency(t, "a1", "elite", 4.5)
	env.addAgency(t, "a2", "premium", 4.0)

	until := env.Now.Add(48 * time.Hour).Format(time.RFC3339)
	if _, err := env.Engine.Suspend(env.Ctx, "a1", "late payment", until, "admin"); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "app build", Value: 8000, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	agencyID, err := env.Engine.Distribute(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if agencyID != "a2" {
		t.Fatalf("suspended agency selected: %s", agencyID)
	}
}

func TestDistributeNoEligibleAgency(t *testing.T) {
	env := newTestEnv(t)
	env.addAgency(t, "a1", "elite", 4.5)
	if _, err := env.Engine.SetMatchEnabled(env.Ctx, "a1", false, "tester"); err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "branding", Value: 3000, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Distribute(env.Ctx, p.ID, "tester"); !errors.Is(err, engine.ErrNoEligibleAgency) {
		t.Fatalf("want ErrNoEligibleAgency, got %v", err)
	}
}

func TestDistributeRejectsAlreadyAssigned(t *testing.T) {
	env := newTestEnv(t)
	env.addAgency(t, "a1", "elite", 4.5)
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "seo", Value: 2000, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Distribute(env.Ctx, p.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Distribute(env.Ctx, p.ID, "tester")
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want validation error on second distribute, got %v", err)
	}
}

func TestDistributeSoleTierWinnerKeepsPosition(t *testing.T) {
	env := newTestEnv(t)
	env.addAgency(t, "a1", "elite", 4.5)
	env.addAgency(t, "a2", "premium", 4.0)
	env.addAgency(t, "a3", "premium", 3.5)

	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "landing page", Value: 1500, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Distribute(env.Ctx, p.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	pos := env.positions(t)
	// a1 is the only elite entry: reinserting at its own tier's max position
	// is a net no-op.
	if pos["a1"] != 1 || pos["a2"] != 2 || pos["a3"] != 3 {
		t.Fatalf("sole-tier winner moved: %v", pos)
	}
}

func TestDistributeRotatesWithinTier(t *testing.T) {
	env := newTestEnv(t)
	env.addAgency(t, "a1", "elite", 4.5)
	env.addAgency(t, "a2", "elite", 4.0)
	env.addAgency(t, "a3", "premium", 3.5)

	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "ecommerce", Value: 30000, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	agencyID, err := env.Engine.Distribute(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if agencyID != "a1" {
		t.Fatalf("want a1 picked, got %s", agencyID)
	}
	pos := env.positions(t)
	if pos["a2"] != 1 || pos["a1"] != 2 || pos["a3"] != 3 {
		t.Fatalf("tier rotation wrong: %v", pos)
	}
}

func TestDistributeRespectsCapacity(t *testing.T) {
	env := newTestEnv(t)
	env.addAgency(t, "solo", "elite", 4.5)
	entries, _ := env.Engine.QueueSnapshot(env.Ctx)
	capacity := entries[0].MaxCapacity

	var lastProject domain.PremiumProject
	for i := 0; i < capacity; i++ {
		p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "job", Value: 1000, ActorID: "tester"})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := env.Engine.Distribute(env.Ctx, p.ID, "tester"); err != nil {
			t.Fatalf("distribute %d: %v", i, err)
		}
		lastProject = p
	}
	overflow, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "one too many", Value: 1000, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Distribute(env.Ctx, overflow.ID, "tester"); !errors.Is(err, engine.ErrNoEligibleAgency) {
		t.Fatalf("capacity not enforced: %v", err)
	}

	// closing an assigned project releases the slot
	for _, to := range []string{lifecycle.StatusEmNegociacao, lifecycle.StatusAguardandoPagamento, lifecycle.StatusAtivo, lifecycle.StatusConcluido} {
		if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ProjectID: lastProject.ID, ToStatus: to, ActorID: "tester"}); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if _, err := env.Engine.Distribute(env.Ctx, overflow.ID, "tester"); err != nil {
		t.Fatalf("slot not released after close: %v", err)
	}
}

func TestTransitionTableEnforced(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "crm rollout", Value: 5000, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	// elaborado cannot go straight to ativo
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{ProjectID: p.ID, ToStatus: lifecycle.StatusAtivo, ActorID: "tester"})
	var terr lifecycle.InvalidTransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
	// rejected transitions must not write history
	history, err := env.Engine.Repo.ListHistory(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("history after rejected transition: %d entries", len(history))
	}
}

func TestHistoryCompleteness(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "migration", Value: 9000, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	path := []string{lifecycle.StatusEmNegociacao, lifecycle.StatusAguardandoPagamento, lifecycle.StatusAtivo, lifecycle.StatusInadimplente, lifecycle.StatusAtivo, lifecycle.StatusConcluido}
	for _, to := range path {
		if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ProjectID: p.ID, ToStatus: to, ActorID: "tester"}); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	history, err := env.Engine.Repo.ListHistory(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != len(path)+1 {
		t.Fatalf("want %d history entries, got %d", len(path)+1, len(history))
	}
	if history[0].FromStatus != nil {
		t.Fatalf("creation entry has from_status %q", *history[0].FromStatus)
	}
	// each entry's to_status chains into the next entry's from_status
	for i := 1; i < len(history); i++ {
		if history[i].FromStatus == nil || *history[i].FromStatus != history[i-1].ToStatus {
			t.Fatalf("broken chain at entry %d", i)
		}
	}
}

func TestActivationResetsReportCadence(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "ads", Value: 4000, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	env.Now = env.Now.Add(20 * 24 * time.Hour)
	for _, to := range []string{lifecycle.StatusEmNegociacao, lifecycle.StatusAguardandoPagamento, lifecycle.StatusAtivo} {
		if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ProjectID: p.ID, ToStatus: to, ActorID: "tester"}); err != nil {
			t.Fatal(err)
		}
	}
	status, err := env.Engine.ProjectReportStatus(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if status.Overdue {
		t.Fatalf("cadence not reset on activation: %+v", status)
	}
	want := env.Now.Add(7 * 24 * time.Hour)
	if !status.NextDue.Equal(want) {
		t.Fatalf("next due %v, want %v", status.NextDue, want)
	}
}

func TestSubmitReportAdvancesAnchorAndVoidKeepsRow(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "support", Value: 2500, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	for _, to := range []string{lifecycle.StatusEmNegociacao, lifecycle.StatusAguardandoPagamento, lifecycle.StatusAtivo} {
		if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ProjectID: p.ID, ToStatus: to, ActorID: "tester"}); err != nil {
			t.Fatal(err)
		}
	}
	env.Now = env.Now.Add(5 * 24 * time.Hour)
	p, err = env.Engine.SubmitProjectReport(env.Ctx, engine.ProjectReportOptions{
		ProjectID:            p.ID,
		CompletionPercentage: 40,
		BudgetStatus:         "on_budget",
		TimelineStatus:       "on_time",
		ClientSatisfaction:   4.2,
		ActorID:              "tester",
	})
	if err != nil {
		t.Fatalf("submit report: %v", err)
	}
	if p.LastReportDate == nil || *p.LastReportDate != env.Now.Format(time.RFC3339) {
		t.Fatalf("anchor not advanced: %v", p.LastReportDate)
	}

	reports, err := env.Engine.Repo.ListProjectReports(env.Ctx, p.ID)
	if err != nil || len(reports) != 1 {
		t.Fatalf("reports: %v %v", reports, err)
	}
	if err := env.Engine.VoidProjectReport(env.Ctx, p.ID, reports[0].ID, "filed against wrong project", "admin"); err != nil {
		t.Fatalf("void: %v", err)
	}
	reports, err = env.Engine.Repo.ListProjectReports(env.Ctx, p.ID)
	if err != nil || len(reports) != 1 {
		t.Fatalf("voided report deleted: %v %v", reports, err)
	}
	if reports[0].VoidedAt == nil || reports[0].VoidedBy == nil || *reports[0].VoidedBy != "admin" {
		t.Fatalf("void metadata missing: %+v", reports[0])
	}
}

func TestSubmitReportValidatesBeforeMutation(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "audit", Value: 1000, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.SubmitProjectReport(env.Ctx, engine.ProjectReportOptions{
		ProjectID:            p.ID,
		CompletionPercentage: 140,
		BudgetStatus:         "on_budget",
		TimelineStatus:       "on_time",
		ActorID:              "tester",
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want validation error, got %v", err)
	}
	got, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastReportDate != nil {
		t.Fatalf("rejected report mutated project: %v", *got.LastReportDate)
	}
}

func TestComplianceReportRestoresEligibility(t *testing.T) {
	env := newTestEnv(t)
	env.addAgency(t, "a1", "elite", 4.5)

	// two full cadence windows elapse with no report
	env.Now = env.Now.Add(15 * 24 * time.Hour)
	res, err := env.Engine.Eligibility(env.Ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Eligible {
		t.Fatalf("overdue agency still eligible: %+v", res)
	}
	if _, err := env.Engine.SubmitComplianceReport(env.Ctx, "a1", "all projects on track", "a1"); err != nil {
		t.Fatal(err)
	}
	res, err = env.Engine.Eligibility(env.Ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Eligible {
		t.Fatalf("report did not restore eligibility: %v", res.Reasons)
	}
}

func TestAuditTrailRecordsMutations(t *testing.T) {
	env := newTestEnv(t)
	env.addAgency(t, "a1", "elite", 4.5)
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "retainer", Value: 6000, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Distribute(env.Ctx, p.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Audit.List(env.Ctx, audit.Filters{})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"agency.registered": false, "queue.entry.added": false, "project.created": false, "project.distributed": false}
	for _, evt := range events {
		if _, ok := want[evt.Type]; ok {
			want[evt.Type] = true
		}
	}
	for typ, seen := range want {
		if !seen {
			t.Fatalf("missing audit event %s", typ)
		}
	}
}
