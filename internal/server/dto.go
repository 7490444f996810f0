package server

import (
	"time"

	"dealflow/internal/cadence"
	"dealflow/internal/domain"
	"dealflow/internal/eligibility"
)

// Request payloads

type RegisterAgencyRequest struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Tier               string  `json:"tier" example:"premium"`
	SatisfactionRating float64 `json:"satisfaction_rating" minimum:"0" maximum:"5"`
	CompletionRate     float64 `json:"completion_rate" minimum:"0" maximum:"100"`
}

type QueueInsertRequest struct {
	AgencyID    string `json:"agency_id"`
	MaxCapacity int    `json:"max_capacity,omitempty" minimum:"0"`
}

type QueueMoveRequest struct {
	Direction string `json:"direction" enum:"up,down"`
}

type QueueToggleRequest struct {
	MatchEnabled bool `json:"match_enabled"`
}

type SuspendRequest struct {
	Reason         string `json:"reason"`
	EffectiveUntil string `json:"effective_until" format:"date-time"`
}

type ComplianceReportRequest struct {
	Note string `json:"note,omitempty"`
}

type CreateProjectRequest struct {
	ID                    *string `json:"id,omitempty"`
	Title                 string  `json:"title"`
	Value                 float64 `json:"value" exclusiveMinimum:"0"`
	ConversionProbability float64 `json:"conversion_probability,omitempty" minimum:"0" maximum:"100"`
	SatisfactionScore     float64 `json:"satisfaction_score,omitempty" minimum:"0" maximum:"5"`
	ChurnRisk             string  `json:"churn_risk,omitempty" enum:"low,medium,high"`
}

type TransitionRequest struct {
	ToStatus string         `json:"to_status" enum:"elaborado,em_negociacao,perdido,aguardando_pagamento,ativo,inadimplente,cancelado,concluido"`
	Note     string         `json:"note,omitempty"`
	Extra    map[string]any `json:"extra,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type SubmitReportRequest struct {
	CompletionPercentage float64 `json:"completion_percentage" minimum:"0" maximum:"100"`
	BudgetStatus         string  `json:"budget_status" enum:"on_budget,over_budget,under_budget"`
	TimelineStatus       string  `json:"timeline_status" enum:"on_time,delayed,ahead"`
	ClientSatisfaction   float64 `json:"client_satisfaction" minimum:"0" maximum:"5"`
}

type VoidReportRequest struct {
	Reason string `json:"reason"`
}

// Response payloads

type DistributeResponse struct {
	ProjectID string `json:"project_id"`
	AgencyID  string `json:"agency_id"`
}

type EligibilityResponse struct {
	AgencyID string   `json:"agency_id"`
	Eligible bool     `json:"eligible"`
	Reasons  []string `json:"reasons,omitempty"`
}

type CadenceStatusResponse struct {
	NextDue     string `json:"next_due" format:"date-time"`
	Overdue     bool   `json:"overdue"`
	OverdueDays int    `json:"overdue_days"`
	Pending     int    `json:"pending_reports"`
	FirstReport bool   `json:"first_report"`
}

func eligibilityResponse(agencyID string, r eligibility.Result) EligibilityResponse {
	reasons := make([]string, 0, len(r.Reasons))
	for _, reason := range r.Reasons {
		reasons = append(reasons, string(reason))
	}
	return EligibilityResponse{AgencyID: agencyID, Eligible: r.Eligible, Reasons: reasons}
}

func cadenceStatusResponse(s cadence.Status) CadenceStatusResponse {
	return CadenceStatusResponse{
		NextDue:     s.NextDue.UTC().Format(time.RFC3339),
		Overdue:     s.Overdue,
		OverdueDays: s.OverdueDays,
		Pending:     s.Pending,
		FirstReport: s.FirstReport,
	}
}

type EventsResponse struct {
	Events     []domain.AuditEvent `json:"events"`
	NextCursor int64               `json:"next_cursor,omitempty"`
}
