package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dealflow/internal/config"
	"dealflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- agencies ---

func (r Repo) InsertAgency(ctx context.Context, tx *sql.Tx, a domain.Agency) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agencies(id,name,tier,satisfaction_rating,completion_rate,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.Name, a.Tier, a.SatisfactionRating, a.CompletionRate, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAgency(ctx context.Context, id string) (domain.Agency, error) {
	var a domain.Agency
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,tier,satisfaction_rating,completion_rate,created_at,updated_at FROM agencies WHERE id=?`, id).
		Scan(&a.ID, &a.Name, &a.Tier, &a.SatisfactionRating, &a.CompletionRate, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListAgencies(ctx context.Context) ([]domain.Agency, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,tier,satisfaction_rating,completion_rate,created_at,updated_at FROM agencies ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agency
	for rows.Next() {
		var a domain.Agency
		if err := rows.Scan(&a.ID, &a.Name, &a.Tier, &a.SatisfactionRating, &a.CompletionRate, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAgencyTx(ctx context.Context, tx *sql.Tx, a domain.Agency) error {
	res, err := tx.ExecContext(ctx, `UPDATE agencies SET name=?, tier=?, satisfaction_rating=?, completion_rate=?, updated_at=? WHERE id=?`,
		a.Name, a.Tier, a.SatisfactionRating, a.CompletionRate, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- queue entries ---

const entryColumns = `agency_id,position,tier,match_enabled,suspension_reason,suspension_until,suspended_by,active_projects,max_capacity,last_report_date,satisfaction_rating,completion_rate,joined_queue`

func scanEntry(scan func(dest ...any) error) (domain.QueueEntry, error) {
	var e domain.QueueEntry
	var enabled int
	var susReason, susUntil, susBy, lastReport sql.NullString
	err := scan(&e.AgencyID, &e.Position, &e.Tier, &enabled, &susReason, &susUntil, &susBy,
		&e.ActiveProjects, &e.MaxCapacity, &lastReport, &e.SatisfactionRating, &e.CompletionRate, &e.JoinedQueue)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.MatchEnabled = enabled != 0
	if susReason.Valid || susUntil.Valid {
		e.Suspension = &domain.Suspension{
			Reason:         susReason.String,
			EffectiveUntil: susUntil.String,
			SuspendedBy:    susBy.String,
		}
	}
	if lastReport.Valid {
		e.LastReportDate = &lastReport.String
	}
	return e, nil
}

func (r Repo) GetEntry(ctx context.Context, agencyID string) (domain.QueueEntry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE agency_id=?`, agencyID)
	return scanEntry(row.Scan)
}

func (r Repo) GetEntryTx(ctx context.Context, tx *sql.Tx, agencyID string) (domain.QueueEntry, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE agency_id=?`, agencyID)
	return scanEntry(row.Scan)
}

func (r Repo) ListEntries(ctx context.Context) ([]domain.QueueEntry, error) {
	return r.listEntries(ctx, r.DB.QueryContext)
}

func (r Repo) ListEntriesTx(ctx context.Context, tx *sql.Tx) ([]domain.QueueEntry, error) {
	return r.listEntries(ctx, tx.QueryContext)
}

func (r Repo) listEntries(ctx context.Context, query func(context.Context, string, ...any) (*sql.Rows, error)) ([]domain.QueueEntry, error) {
	rows, err := query(ctx, `SELECT `+entryColumns+` FROM queue_entries ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) InsertEntryTx(ctx context.Context, tx *sql.Tx, e domain.QueueEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO queue_entries(`+entryColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.AgencyID, e.Position, e.Tier, boolInt(e.MatchEnabled),
		suspensionField(e.Suspension, func(s *domain.Suspension) string { return s.Reason }),
		suspensionField(e.Suspension, func(s *domain.Suspension) string { return s.EffectiveUntil }),
		suspensionField(e.Suspension, func(s *domain.Suspension) string { return s.SuspendedBy }),
		e.ActiveProjects, e.MaxCapacity, nullableStringPtr(e.LastReportDate),
		e.SatisfactionRating, e.CompletionRate, e.JoinedQueue)
	return err
}

func (r Repo) UpdateEntryTx(ctx context.Context, tx *sql.Tx, e domain.QueueEntry) error {
	res, err := tx.ExecContext(ctx, `UPDATE queue_entries SET position=?, tier=?, match_enabled=?, suspension_reason=?, suspension_until=?, suspended_by=?, active_projects=?, max_capacity=?, last_report_date=?, satisfaction_rating=?, completion_rate=? WHERE agency_id=?`,
		e.Position, e.Tier, boolInt(e.MatchEnabled),
		suspensionField(e.Suspension, func(s *domain.Suspension) string { return s.Reason }),
		suspensionField(e.Suspension, func(s *domain.Suspension) string { return s.EffectiveUntil }),
		suspensionField(e.Suspension, func(s *domain.Suspension) string { return s.SuspendedBy }),
		e.ActiveProjects, e.MaxCapacity, nullableStringPtr(e.LastReportDate),
		e.SatisfactionRating, e.CompletionRate, e.AgencyID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetEntryPositionTx(ctx context.Context, tx *sql.Tx, agencyID string, position int) error {
	_, err := tx.ExecContext(ctx, `UPDATE queue_entries SET position=? WHERE agency_id=?`, position, agencyID)
	return err
}

func (r Repo) DeleteEntryTx(ctx context.Context, tx *sql.Tx, agencyID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM queue_entries WHERE agency_id=?`, agencyID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- projects ---

const projectColumns = `id,title,value,status,assigned_agency_id,conversion_probability,satisfaction_score,churn_risk,negotiation_started_at,activated_at,concluded_at,lost_reason,cancel_reason,last_report_date,created_at,updated_at`

func scanProject(scan func(dest ...any) error) (domain.PremiumProject, error) {
	var p domain.PremiumProject
	var assigned, negotiation, activated, concluded, lost, cancel, lastReport sql.NullString
	err := scan(&p.ID, &p.Title, &p.Value, &p.Status, &assigned, &p.ConversionProbability,
		&p.SatisfactionScore, &p.ChurnRisk, &negotiation, &activated, &concluded, &lost, &cancel,
		&lastReport, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.AssignedAgencyID = optString(assigned)
	p.NegotiationStartedAt = optString(negotiation)
	p.ActivatedAt = optString(activated)
	p.ConcludedAt = optString(concluded)
	p.LostReason = optString(lost)
	p.CancelReason = optString(cancel)
	p.LastReportDate = optString(lastReport)
	return p, nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.PremiumProject, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.PremiumProject, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

type ProjectFilters struct {
	Status           string
	AssignedAgencyID string
	Limit            int
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.PremiumProject, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	if f.AssignedAgencyID != "" {
		query += ` AND assigned_agency_id=?`
		args = append(args, f.AssignedAgencyID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PremiumProject
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.PremiumProject) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, p.Value, p.Status, nullableStringPtr(p.AssignedAgencyID),
		p.ConversionProbability, p.SatisfactionScore, p.ChurnRisk,
		nullableStringPtr(p.NegotiationStartedAt), nullableStringPtr(p.ActivatedAt), nullableStringPtr(p.ConcludedAt),
		nullableStringPtr(p.LostReason), nullableStringPtr(p.CancelReason), nullableStringPtr(p.LastReportDate),
		p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, p domain.PremiumProject) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET title=?, value=?, status=?, assigned_agency_id=?, conversion_probability=?, satisfaction_score=?, churn_risk=?, negotiation_started_at=?, activated_at=?, concluded_at=?, lost_reason=?, cancel_reason=?, last_report_date=?, updated_at=? WHERE id=?`,
		p.Title, p.Value, p.Status, nullableStringPtr(p.AssignedAgencyID),
		p.ConversionProbability, p.SatisfactionScore, p.ChurnRisk,
		nullableStringPtr(p.NegotiationStartedAt), nullableStringPtr(p.ActivatedAt), nullableStringPtr(p.ConcludedAt),
		nullableStringPtr(p.LostReason), nullableStringPtr(p.CancelReason), nullableStringPtr(p.LastReportDate),
		p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- project history ---

func (r Repo) InsertHistoryTx(ctx context.Context, tx *sql.Tx, h domain.ProjectHistoryEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_history(project_id,from_status,to_status,at,actor_id,note) VALUES (?,?,?,?,?,?)`,
		h.ProjectID, nullableStringPtr(h.FromStatus), h.ToStatus, h.At, h.Actor, nullable(h.Note))
	return err
}

func (r Repo) ListHistory(ctx context.Context, projectID string) ([]domain.ProjectHistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,from_status,to_status,at,actor_id,note FROM project_history WHERE project_id=? ORDER BY id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectHistoryEntry
	for rows.Next() {
		var h domain.ProjectHistoryEntry
		var from, note sql.NullString
		if err := rows.Scan(&h.ID, &h.ProjectID, &from, &h.ToStatus, &h.At, &h.Actor, &note); err != nil {
			return nil, err
		}
		h.FromStatus = optString(from)
		if note.Valid {
			h.Note = note.String
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// --- project reports ---

func (r Repo) InsertProjectReportTx(ctx context.Context, tx *sql.Tx, p domain.ProjectReport) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_reports(project_id,report_date,completion_percentage,budget_status,timeline_status,client_satisfaction) VALUES (?,?,?,?,?,?)`,
		p.ProjectID, p.ReportDate, p.CompletionPercentage, p.BudgetStatus, p.TimelineStatus, p.ClientSatisfaction)
	return err
}

func (r Repo) ListProjectReports(ctx context.Context, projectID string) ([]domain.ProjectReport, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,report_date,completion_percentage,budget_status,timeline_status,client_satisfaction,voided_at,voided_by,void_reason FROM project_reports WHERE project_id=? ORDER BY id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectReport
	for rows.Next() {
		var p domain.ProjectReport
		var voidedAt, voidedBy, voidReason sql.NullString
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.ReportDate, &p.CompletionPercentage, &p.BudgetStatus, &p.TimelineStatus, &p.ClientSatisfaction, &voidedAt, &voidedBy, &voidReason); err != nil {
			return nil, err
		}
		p.VoidedAt = optString(voidedAt)
		p.VoidedBy = optString(voidedBy)
		p.VoidReason = optString(voidReason)
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) GetProjectReportTx(ctx context.Context, tx *sql.Tx, projectID string, reportID int64) (domain.ProjectReport, error) {
	var p domain.ProjectReport
	var voidedAt, voidedBy, voidReason sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT id,project_id,report_date,completion_percentage,budget_status,timeline_status,client_satisfaction,voided_at,voided_by,void_reason FROM project_reports WHERE project_id=? AND id=?`, projectID, reportID).
		Scan(&p.ID, &p.ProjectID, &p.ReportDate, &p.CompletionPercentage, &p.BudgetStatus, &p.TimelineStatus, &p.ClientSatisfaction, &voidedAt, &voidedBy, &voidReason)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.VoidedAt = optString(voidedAt)
	p.VoidedBy = optString(voidedBy)
	p.VoidReason = optString(voidReason)
	return p, nil
}

// VoidProjectReportTx marks a report administratively removed; the row stays.
func (r Repo) VoidProjectReportTx(ctx context.Context, tx *sql.Tx, reportID int64, voidedAt, voidedBy, reason string) error {
	res, err := tx.ExecContext(ctx, `UPDATE project_reports SET voided_at=?, voided_by=?, void_reason=? WHERE id=? AND voided_at IS NULL`,
		voidedAt, voidedBy, nullable(reason), reportID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- compliance reports ---

func (r Repo) InsertComplianceReportTx(ctx context.Context, tx *sql.Tx, c domain.ComplianceReport) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO compliance_reports(agency_id,report_date,note) VALUES (?,?,?)`,
		c.AgencyID, c.ReportDate, nullable(c.Note))
	return err
}

func (r Repo) ListComplianceReports(ctx context.Context, agencyID string) ([]domain.ComplianceReport, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,agency_id,report_date,note FROM compliance_reports WHERE agency_id=? ORDER BY id ASC`, agencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ComplianceReport
	for rows.Next() {
		var c domain.ComplianceReport
		var note sql.NullString
		if err := rows.Scan(&c.ID, &c.AgencyID, &c.ReportDate, &note); err != nil {
			return nil, err
		}
		if note.Valid {
			c.Note = note.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- settings ---

func (r Repo) GetSettings(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM settings WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

func (r Repo) UpsertSettings(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO settings(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func optString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func suspensionField(s *domain.Suspension, get func(*domain.Suspension) string) any {
	if s == nil {
		return nil
	}
	return nullable(get(s))
}
