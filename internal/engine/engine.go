package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"dealflow/internal/audit"
	"dealflow/internal/cadence"
	"dealflow/internal/config"
	"dealflow/internal/domain"
	"dealflow/internal/eligibility"
	"dealflow/internal/repo"
)

// Engine owns the distribution queue and all premium-project aggregates.
// Queue mutations (including distribution) are serialized by queueMu because
// they read and rewrite the full contiguous ranking; lifecycle operations are
// serialized per project id and run concurrently across projects.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Now    func() time.Time

	queueMu    sync.Mutex
	projectMus sync.Map
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) policy() eligibility.Policy {
	return eligibility.Policy{
		BlockingThreshold: e.Config.Distribution.BlockingThreshold,
		CadenceDays:       e.Config.Distribution.AgencyCadenceDays,
	}
}

func (e *Engine) projectLock(id string) *sync.Mutex {
	mu, _ := e.projectMus.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ResolveSettings loads the stored distribution settings, seeding defaults on
// first use.
func ResolveSettings(ctx context.Context, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetSettings(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	cfg = config.Default()
	if err := r.UpsertSettings(ctx, cfg); err != nil {
		return nil, fmt.Errorf("seed settings: %w", err)
	}
	return cfg, nil
}

// --- agency directory cache ---

type AgencyOptions struct {
	ID                 string
	Name               string
	Tier               string
	SatisfactionRating float64
	CompletionRate     float64
	ActorID            string
}

func (o AgencyOptions) validate(cfg *config.Config) error {
	if o.ID == "" {
		return ValidationError{Field: "id", Reason: "required"}
	}
	if o.Name == "" {
		return ValidationError{Field: "name", Reason: "required"}
	}
	if !cfg.KnownTier(o.Tier) {
		return ValidationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", o.Tier)}
	}
	if o.SatisfactionRating < 0 || o.SatisfactionRating > 5 {
		return ValidationError{Field: "satisfaction_rating", Reason: "must be between 0 and 5"}
	}
	if o.CompletionRate < 0 || o.CompletionRate > 100 {
		return ValidationError{Field: "completion_rate", Reason: "must be between 0 and 100"}
	}
	return nil
}

func (e *Engine) RegisterAgency(ctx context.Context, opts AgencyOptions) (domain.Agency, error) {
	if err := opts.validate(e.Config); err != nil {
		return domain.Agency{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	a := domain.Agency{
		ID:                 opts.ID,
		Name:               opts.Name,
		Tier:               opts.Tier,
		SatisfactionRating: opts.SatisfactionRating,
		CompletionRate:     opts.CompletionRate,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agency{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAgency(ctx, tx, a); err != nil {
		return domain.Agency{}, fmt.Errorf("insert agency: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, "agency.registered", "agency", a.ID, opts.ActorID, audit.Payload{"tier": a.Tier}); err != nil {
		return domain.Agency{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agency{}, err
	}
	return a, nil
}

// RefreshAgency updates the cached directory facts and, when the agency holds
// a queue entry, its performance snapshot on that entry.
func (e *Engine) RefreshAgency(ctx context.Context, opts AgencyOptions) (domain.Agency, error) {
	if err := opts.validate(e.Config); err != nil {
		return domain.Agency{}, err
	}
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	a, err := e.Repo.GetAgency(ctx, opts.ID)
	if err != nil {
		return domain.Agency{}, err
	}
	a.Name = opts.Name
	a.Tier = opts.Tier
	a.SatisfactionRating = opts.SatisfactionRating
	a.CompletionRate = opts.CompletionRate
	a.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agency{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAgencyTx(ctx, tx, a); err != nil {
		return domain.Agency{}, err
	}
	entry, err := e.Repo.GetEntryTx(ctx, tx, a.ID)
	if err == nil {
		entry.Tier = a.Tier
		entry.SatisfactionRating = a.SatisfactionRating
		entry.CompletionRate = a.CompletionRate
		if err := e.Repo.UpdateEntryTx(ctx, tx, entry); err != nil {
			return domain.Agency{}, err
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Agency{}, err
	}
	if err := e.Audit.Append(ctx, tx, "agency.refreshed", "agency", a.ID, opts.ActorID, audit.Payload{
		"tier":                a.Tier,
		"satisfaction_rating": a.SatisfactionRating,
		"completion_rate":     a.CompletionRate,
	}); err != nil {
		return domain.Agency{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agency{}, err
	}
	return a, nil
}

// --- match queue ---

// QueueInsert appends the agency at the lowest-priority position.
func (e *Engine) QueueInsert(ctx context.Context, agencyID string, maxCapacity int, actorID string) (domain.QueueEntry, error) {
	if maxCapacity < 0 {
		return domain.QueueEntry{}, ValidationError{Field: "max_capacity", Reason: "must be >= 0"}
	}
	if maxCapacity == 0 {
		maxCapacity = e.Config.Distribution.DefaultMaxCapacity
	}
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	agency, err := e.Repo.GetAgency(ctx, agencyID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.QueueEntry{}, ErrUnknownAgency
	}
	if err != nil {
		return domain.QueueEntry{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetEntryTx(ctx, tx, agencyID); err == nil {
		return domain.QueueEntry{}, ErrDuplicateAgency
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.QueueEntry{}, err
	}
	entries, err := e.Repo.ListEntriesTx(ctx, tx)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	entry := domain.QueueEntry{
		AgencyID:           agencyID,
		Position:           len(entries) + 1,
		Tier:               agency.Tier,
		MatchEnabled:       true,
		MaxCapacity:        maxCapacity,
		SatisfactionRating: agency.SatisfactionRating,
		CompletionRate:     agency.CompletionRate,
		JoinedQueue:        e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertEntryTx(ctx, tx, entry); err != nil {
		return domain.QueueEntry{}, err
	}
	if err := e.verifyContiguityTx(ctx, tx); err != nil {
		return domain.QueueEntry{}, err
	}
	if err := e.Audit.Append(ctx, tx, "queue.entry.added", "queue_entry", agencyID, actorID, audit.Payload{
		"position":     entry.Position,
		"tier":         entry.Tier,
		"max_capacity": entry.MaxCapacity,
	}); err != nil {
		return domain.QueueEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.QueueEntry{}, err
	}
	return entry, nil
}

// QueueRemove deletes the entry and closes the rank gap.
func (e *Engine) QueueRemove(ctx context.Context, agencyID, actorID string) error {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	entry, err := e.Repo.GetEntryTx(ctx, tx, agencyID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUnknownAgency
	}
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteEntryTx(ctx, tx, agencyID); err != nil {
		return err
	}
	remaining, err := e.Repo.ListEntriesTx(ctx, tx)
	if err != nil {
		return err
	}
	for i, other := range remaining {
		if other.Position != i+1 {
			if err := e.Repo.SetEntryPositionTx(ctx, tx, other.AgencyID, i+1); err != nil {
				return err
			}
		}
	}
	if err := e.verifyContiguityTx(ctx, tx); err != nil {
		return err
	}
	if err := e.Audit.Append(ctx, tx, "queue.entry.removed", "queue_entry", agencyID, actorID, audit.Payload{
		"position": entry.Position,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// QueueMove swaps the entry with its neighbor. Moving past either boundary is
// a no-op, not an error.
func (e *Engine) QueueMove(ctx context.Context, agencyID, direction, actorID string) (domain.QueueEntry, error) {
	if direction != "up" && direction != "down" {
		return domain.QueueEntry{}, ValidationError{Field: "direction", Reason: "must be up or down"}
	}
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	defer tx.Rollback()

	entries, err := e.Repo.ListEntriesTx(ctx, tx)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	idx := -1
	for i, entry := range entries {
		if entry.AgencyID == agencyID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.QueueEntry{}, ErrUnknownAgency
	}
	swap := idx - 1
	if direction == "down" {
		swap = idx + 1
	}
	if swap < 0 || swap >= len(entries) {
		return entries[idx], nil
	}
	from := entries[idx].Position
	to := entries[swap].Position
	if err := e.Repo.SetEntryPositionTx(ctx, tx, entries[idx].AgencyID, to); err != nil {
		return domain.QueueEntry{}, err
	}
	if err := e.Repo.SetEntryPositionTx(ctx, tx, entries[swap].AgencyID, from); err != nil {
		return domain.QueueEntry{}, err
	}
	if err := e.verifyContiguityTx(ctx, tx); err != nil {
		return domain.QueueEntry{}, err
	}
	if err := e.Audit.Append(ctx, tx, "queue.entry.moved", "queue_entry", agencyID, actorID, audit.Payload{
		"from_position": from,
		"to_position":   to,
	}); err != nil {
		return domain.QueueEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.QueueEntry{}, err
	}
	moved := entries[idx]
	moved.Position = to
	return moved, nil
}

// SetMatchEnabled flips the operator opt-out switch.
func (e *Engine) SetMatchEnabled(ctx context.Context, agencyID string, enabled bool, actorID string) (domain.QueueEntry, error) {
	return e.mutateEntry(ctx, agencyID, "queue.entry.toggled", actorID, audit.Payload{"match_enabled": enabled},
		func(entry *domain.QueueEntry) error {
			entry.MatchEnabled = enabled
			return nil
		})
}

// Suspend imposes a temporary, admin-side suspension.
func (e *Engine) Suspend(ctx context.Context, agencyID, reason, until, actorID string) (domain.QueueEntry, error) {
	if reason == "" {
		return domain.QueueEntry{}, ValidationError{Field: "reason", Reason: "required"}
	}
	effective, err := time.Parse(time.RFC3339, until)
	if err != nil {
		return domain.QueueEntry{}, ValidationError{Field: "effective_until", Reason: "must be RFC 3339"}
	}
	if !effective.After(e.now()) {
		return domain.QueueEntry{}, ValidationError{Field: "effective_until", Reason: "must be in the future"}
	}
	return e.mutateEntry(ctx, agencyID, "queue.entry.suspended", actorID, audit.Payload{"reason": reason, "effective_until": until},
		func(entry *domain.QueueEntry) error {
			entry.Suspension = &domain.Suspension{
				Reason:         reason,
				EffectiveUntil: effective.UTC().Format(time.RFC3339),
				SuspendedBy:    actorID,
			}
			return nil
		})
}

// ClearSuspension lifts a suspension early.
func (e *Engine) ClearSuspension(ctx context.Context, agencyID, actorID string) (domain.QueueEntry, error) {
	return e.mutateEntry(ctx, agencyID, "queue.entry.suspension_cleared", actorID, nil,
		func(entry *domain.QueueEntry) error {
			entry.Suspension = nil
			return nil
		})
}

// SubmitComplianceReport files an agency compliance report and advances the
// entry's cadence anchor.
func (e *Engine) SubmitComplianceReport(ctx context.Context, agencyID, note, actorID string) (domain.QueueEntry, error) {
	reportDate := e.now().UTC().Format(time.RFC3339)
	entry, err := e.mutateEntry(ctx, agencyID, "queue.compliance_report.submitted", actorID, audit.Payload{"report_date": reportDate},
		func(entry *domain.QueueEntry) error {
			entry.LastReportDate = &reportDate
			return nil
		}, func(ctx context.Context, tx *sql.Tx) error {
			return e.Repo.InsertComplianceReportTx(ctx, tx, domain.ComplianceReport{
				AgencyID:   agencyID,
				ReportDate: reportDate,
				Note:       note,
			})
		})
	return entry, err
}

// mutateEntry runs one serialized, audited field mutation on a queue entry.
func (e *Engine) mutateEntry(ctx context.Context, agencyID, evtType, actorID string, payload audit.Payload,
	mutate func(*domain.QueueEntry) error, extra ...func(context.Context, *sql.Tx) error) (domain.QueueEntry, error) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	defer tx.Rollback()

	entry, err := e.Repo.GetEntryTx(ctx, tx, agencyID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.QueueEntry{}, ErrUnknownAgency
	}
	if err != nil {
		return domain.QueueEntry{}, err
	}
	if err := mutate(&entry); err != nil {
		return domain.QueueEntry{}, err
	}
	if err := e.Repo.UpdateEntryTx(ctx, tx, entry); err != nil {
		return domain.QueueEntry{}, err
	}
	for _, fn := range extra {
		if err := fn(ctx, tx); err != nil {
			return domain.QueueEntry{}, err
		}
	}
	if err := e.Audit.Append(ctx, tx, evtType, "queue_entry", agencyID, actorID, payload); err != nil {
		return domain.QueueEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.QueueEntry{}, err
	}
	return entry, nil
}

// QueueSnapshot returns the queue ordered by position, a consistent read.
func (e *Engine) QueueSnapshot(ctx context.Context) ([]domain.QueueEntry, error) {
	return e.Repo.ListEntries(ctx)
}

// Eligibility evaluates one entry at now; never cached.
func (e *Engine) Eligibility(ctx context.Context, agencyID string) (eligibility.Result, error) {
	entry, err := e.Repo.GetEntry(ctx, agencyID)
	if errors.Is(err, repo.ErrNotFound) {
		return eligibility.Result{}, ErrUnknownAgency
	}
	if err != nil {
		return eligibility.Result{}, err
	}
	return eligibility.Evaluate(entry, e.policy(), e.now()), nil
}

// ComplianceStatus reports where an agency stands against its report cadence.
func (e *Engine) ComplianceStatus(ctx context.Context, agencyID string) (cadence.Status, error) {
	entry, err := e.Repo.GetEntry(ctx, agencyID)
	if errors.Is(err, repo.ErrNotFound) {
		return cadence.Status{}, ErrUnknownAgency
	}
	if err != nil {
		return cadence.Status{}, err
	}
	return eligibility.Compliance(entry, e.Config.Distribution.AgencyCadenceDays, e.now()), nil
}

// verifyContiguityTx checks positions are exactly 1..N. A violation means a
// concurrent mutation slipped past the lock (or corrupted state on disk); the
// caller's transaction is rolled back and the operation is retryable.
func (e *Engine) verifyContiguityTx(ctx context.Context, tx *sql.Tx) error {
	entries, err := e.Repo.ListEntriesTx(ctx, tx)
	if err != nil {
		return err
	}
	for i, entry := range entries {
		if entry.Position != i+1 {
			return ErrRankConflict
		}
	}
	return nil
}
