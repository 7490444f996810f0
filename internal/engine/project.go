package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"dealflow/internal/audit"
	"dealflow/internal/cadence"
	"dealflow/internal/domain"
	"dealflow/internal/lifecycle"
	"dealflow/internal/repo"
)

// ProjectCreateOptions are parameters for drafting a premium project.
type ProjectCreateOptions struct {
	ID                    string
	Title                 string
	Value                 float64
	ConversionProbability float64
	SatisfactionScore     float64
	ChurnRisk             string
	ActorID               string
}

func (e *Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.PremiumProject, error) {
	if opts.Title == "" {
		return domain.PremiumProject{}, ValidationError{Field: "title", Reason: "required"}
	}
	if opts.Value <= 0 {
		return domain.PremiumProject{}, ValidationError{Field: "value", Reason: "must be > 0"}
	}
	if opts.ConversionProbability < 0 || opts.ConversionProbability > 100 {
		return domain.PremiumProject{}, ValidationError{Field: "conversion_probability", Reason: "must be between 0 and 100"}
	}
	if opts.SatisfactionScore < 0 || opts.SatisfactionScore > 5 {
		return domain.PremiumProject{}, ValidationError{Field: "satisfaction_score", Reason: "must be between 0 and 5"}
	}
	switch opts.ChurnRisk {
	case "":
		opts.ChurnRisk = "low"
	case "low", "medium", "high":
	default:
		return domain.PremiumProject{}, ValidationError{Field: "churn_risk", Reason: "must be low, medium or high"}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.PremiumProject{
		ID:                    id,
		Title:                 opts.Title,
		Value:                 opts.Value,
		Status:                lifecycle.StatusElaborado,
		ConversionProbability: opts.ConversionProbability,
		SatisfactionScore:     opts.SatisfactionScore,
		ChurnRisk:             opts.ChurnRisk,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PremiumProject{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.PremiumProject{}, err
	}
	// creation entry: from_status is null so history stays transitions + 1
	if err := e.Repo.InsertHistoryTx(ctx, tx, domain.ProjectHistoryEntry{
		ProjectID: p.ID,
		ToStatus:  p.Status,
		At:        now,
		Actor:     opts.ActorID,
	}); err != nil {
		return domain.PremiumProject{}, err
	}
	if err := e.Audit.Append(ctx, tx, "project.created", "project", p.ID, opts.ActorID, audit.Payload{
		"status": p.Status,
		"value":  p.Value,
	}); err != nil {
		return domain.PremiumProject{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PremiumProject{}, err
	}
	return p, nil
}

// TransitionOptions describe one externally invoked lifecycle change.
type TransitionOptions struct {
	ProjectID string
	ToStatus  string
	ActorID   string
	Note      string
	Extra     map[string]any
}

// Transition validates against the lifecycle table and, on success, appends
// one history entry and merges only the fields relevant to the new status.
// Rejected transitions leave the project untouched and write no history.
func (e *Engine) Transition(ctx context.Context, opts TransitionOptions) (domain.PremiumProject, error) {
	if !lifecycle.Known(opts.ToStatus) {
		return domain.PremiumProject{}, ValidationError{Field: "to_status", Reason: "unknown status " + opts.ToStatus}
	}
	// Terminal transitions release queue capacity, so they take the queue lock
	// first, matching Distribute's lock order.
	if lifecycle.Terminal(opts.ToStatus) {
		e.queueMu.Lock()
		defer e.queueMu.Unlock()
	}
	mu := e.projectLock(opts.ProjectID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PremiumProject{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.PremiumProject{}, err
	}
	if err := lifecycle.EnsureTransition(p.Status, opts.ToStatus); err != nil {
		return p, err
	}
	from := p.Status
	nowStr := e.now().UTC().Format(time.RFC3339)
	p.Status = opts.ToStatus
	p.UpdatedAt = nowStr

	switch opts.ToStatus {
	case lifecycle.StatusEmNegociacao:
		p.NegotiationStartedAt = extraOr(opts.Extra, "negotiation_started_at", nowStr)
	case lifecycle.StatusAtivo:
		p.ActivatedAt = extraOr(opts.Extra, "activated_at", nowStr)
		// activation opens a fresh reporting window
		p.LastReportDate = &nowStr
	case lifecycle.StatusConcluido:
		p.ConcludedAt = extraOr(opts.Extra, "concluded_at", nowStr)
	case lifecycle.StatusPerdido:
		if reason := extraString(opts.Extra, "lost_reason"); reason != "" {
			p.LostReason = &reason
		}
	case lifecycle.StatusCancelado:
		if reason := extraString(opts.Extra, "cancel_reason"); reason != "" {
			p.CancelReason = &reason
		}
	}

	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return domain.PremiumProject{}, err
	}
	if err := e.Repo.InsertHistoryTx(ctx, tx, domain.ProjectHistoryEntry{
		ProjectID:  p.ID,
		FromStatus: &from,
		ToStatus:   p.Status,
		At:         nowStr,
		Actor:      opts.ActorID,
		Note:       opts.Note,
	}); err != nil {
		return domain.PremiumProject{}, err
	}
	if lifecycle.Terminal(p.Status) && p.AssignedAgencyID != nil {
		if err := e.releaseCapacityTx(ctx, tx, *p.AssignedAgencyID); err != nil {
			return domain.PremiumProject{}, err
		}
	}
	if err := e.Audit.Append(ctx, tx, "project.transitioned", "project", p.ID, opts.ActorID, audit.Payload{
		"from_status": from,
		"to_status":   p.Status,
	}); err != nil {
		return domain.PremiumProject{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PremiumProject{}, err
	}
	return p, nil
}

// releaseCapacityTx hands an occupied slot back to the assigned agency when a
// project reaches a terminal status. The entry may have left the queue by
// then, which is fine.
func (e *Engine) releaseCapacityTx(ctx context.Context, tx *sql.Tx, agencyID string) error {
	entry, err := e.Repo.GetEntryTx(ctx, tx, agencyID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if entry.ActiveProjects > 0 {
		entry.ActiveProjects--
		return e.Repo.UpdateEntryTx(ctx, tx, entry)
	}
	return nil
}

// ProjectReportOptions are the fields of one periodic status report.
type ProjectReportOptions struct {
	ProjectID            string
	CompletionPercentage float64
	BudgetStatus         string
	TimelineStatus       string
	ClientSatisfaction   float64
	ActorID              string
}

func (o ProjectReportOptions) validate() error {
	if o.CompletionPercentage < 0 || o.CompletionPercentage > 100 {
		return ValidationError{Field: "completion_percentage", Reason: "must be between 0 and 100"}
	}
	switch o.BudgetStatus {
	case "on_budget", "over_budget", "under_budget":
	default:
		return ValidationError{Field: "budget_status", Reason: "must be on_budget, over_budget or under_budget"}
	}
	switch o.TimelineStatus {
	case "on_time", "delayed", "ahead":
	default:
		return ValidationError{Field: "timeline_status", Reason: "must be on_time, delayed or ahead"}
	}
	if o.ClientSatisfaction < 0 || o.ClientSatisfaction > 5 {
		return ValidationError{Field: "client_satisfaction", Reason: "must be between 0 and 5"}
	}
	return nil
}

// SubmitProjectReport appends a status report and advances the project's
// cadence anchor. Reports are validated before any mutation.
func (e *Engine) SubmitProjectReport(ctx context.Context, opts ProjectReportOptions) (domain.PremiumProject, error) {
	if err := opts.validate(); err != nil {
		return domain.PremiumProject{}, err
	}
	mu := e.projectLock(opts.ProjectID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PremiumProject{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.PremiumProject{}, err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.InsertProjectReportTx(ctx, tx, domain.ProjectReport{
		ProjectID:            p.ID,
		ReportDate:           nowStr,
		CompletionPercentage: opts.CompletionPercentage,
		BudgetStatus:         opts.BudgetStatus,
		TimelineStatus:       opts.TimelineStatus,
		ClientSatisfaction:   opts.ClientSatisfaction,
	}); err != nil {
		return domain.PremiumProject{}, err
	}
	p.LastReportDate = &nowStr
	p.UpdatedAt = nowStr
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return domain.PremiumProject{}, err
	}
	if err := e.Audit.Append(ctx, tx, "project.report.submitted", "project", p.ID, opts.ActorID, audit.Payload{
		"completion_percentage": opts.CompletionPercentage,
		"budget_status":         opts.BudgetStatus,
		"timeline_status":       opts.TimelineStatus,
	}); err != nil {
		return domain.PremiumProject{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PremiumProject{}, err
	}
	return p, nil
}

// VoidProjectReport is the administrative override for report removal: the
// row is flagged, never deleted, and the override is audited.
func (e *Engine) VoidProjectReport(ctx context.Context, projectID string, reportID int64, reason, actorID string) error {
	mu := e.projectLock(projectID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectReportTx(ctx, tx, projectID, reportID); err != nil {
		return err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.VoidProjectReportTx(ctx, tx, reportID, nowStr, actorID, reason); err != nil {
		return err
	}
	if err := e.Audit.Append(ctx, tx, "project.report.voided", "project", projectID, actorID, audit.Payload{
		"report_id": reportID,
		"reason":    reason,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ProjectReportStatus computes the next-due indicator for a project. The
// anchor is the last report (which activation resets); a project that never
// reported anchors at creation.
func (e *Engine) ProjectReportStatus(ctx context.Context, projectID string) (cadence.Status, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return cadence.Status{}, err
	}
	created, err := time.Parse(time.RFC3339, p.CreatedAt)
	if err != nil {
		created = e.now()
	}
	var last *time.Time
	if p.LastReportDate != nil {
		if t, err := time.Parse(time.RFC3339, *p.LastReportDate); err == nil {
			last = &t
		}
	}
	return cadence.Evaluate(last, created, e.Config.Distribution.ProjectCadenceDays, e.now()), nil
}

func extraOr(extra map[string]any, key, fallback string) *string {
	if v := extraString(extra, key); v != "" {
		return &v
	}
	return &fallback
}

func extraString(extra map[string]any, key string) string {
	if extra == nil {
		return ""
	}
	if v, ok := extra[key].(string); ok {
		return v
	}
	return ""
}
