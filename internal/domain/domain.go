package domain

import "encoding/json"

type Agency struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Tier               string  `json:"tier" enum:"basic,premium,elite"`
	SatisfactionRating float64 `json:"satisfaction_rating" minimum:"0" maximum:"5"`
	CompletionRate     float64 `json:"completion_rate" minimum:"0" maximum:"100"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

type Suspension struct {
	Reason         string `json:"reason"`
	EffectiveUntil string `json:"effective_until" format:"date-time"`
	SuspendedBy    string `json:"suspended_by"`
}

type QueueEntry struct {
	AgencyID           string      `json:"agency_id"`
	Position           int         `json:"position"`
	Tier               string      `json:"tier" enum:"basic,premium,elite"`
	MatchEnabled       bool        `json:"match_enabled"`
	Suspension         *Suspension `json:"suspension,omitempty"`
	ActiveProjects     int         `json:"active_projects"`
	MaxCapacity        int         `json:"max_capacity"`
	LastReportDate     *string     `json:"last_report_date,omitempty" format:"date-time"`
	SatisfactionRating float64     `json:"satisfaction_rating"`
	CompletionRate     float64     `json:"completion_rate"`
	JoinedQueue        string      `json:"joined_queue" format:"date-time"`
}

type PremiumProject struct {
	ID                    string  `json:"id"`
	Title                 string  `json:"title"`
	Value                 float64 `json:"value"`
	Status                string  `json:"status" enum:"elaborado,em_negociacao,perdido,aguardando_pagamento,ativo,inadimplente,cancelado,concluido"`
	AssignedAgencyID      *string `json:"assigned_agency_id,omitempty"`
	ConversionProbability float64 `json:"conversion_probability"`
	SatisfactionScore     float64 `json:"satisfaction_score"`
	ChurnRisk             string  `json:"churn_risk" enum:"low,medium,high"`
	NegotiationStartedAt  *string `json:"negotiation_started_at,omitempty" format:"date-time"`
	ActivatedAt           *string `json:"activated_at,omitempty" format:"date-time"`
	ConcludedAt           *string `json:"concluded_at,omitempty" format:"date-time"`
	LostReason            *string `json:"lost_reason,omitempty"`
	CancelReason          *string `json:"cancel_reason,omitempty"`
	LastReportDate        *string `json:"last_report_date,omitempty" format:"date-time"`
	CreatedAt             string  `json:"created_at" format:"date-time"`
	UpdatedAt             string  `json:"updated_at" format:"date-time"`
}

// ProjectHistoryEntry records one lifecycle transition. FromStatus is nil only
// for the creation entry, so a project always has len(history) = transitions + 1.
type ProjectHistoryEntry struct {
	ID         int64   `json:"id"`
	ProjectID  string  `json:"project_id"`
	FromStatus *string `json:"from_status,omitempty"`
	ToStatus   string  `json:"to_status"`
	At         string  `json:"at" format:"date-time"`
	Actor      string  `json:"actor"`
	Note       string  `json:"note,omitempty"`
}

type ProjectReport struct {
	ID                   int64   `json:"id"`
	ProjectID            string  `json:"project_id"`
	ReportDate           string  `json:"report_date" format:"date-time"`
	CompletionPercentage float64 `json:"completion_percentage" minimum:"0" maximum:"100"`
	BudgetStatus         string  `json:"budget_status" enum:"on_budget,over_budget,under_budget"`
	TimelineStatus       string  `json:"timeline_status" enum:"on_time,delayed,ahead"`
	ClientSatisfaction   float64 `json:"client_satisfaction" minimum:"0" maximum:"5"`
	VoidedAt             *string `json:"voided_at,omitempty" format:"date-time"`
	VoidedBy             *string `json:"voided_by,omitempty"`
	VoidReason           *string `json:"void_reason,omitempty"`
}

type ComplianceReport struct {
	ID         int64  `json:"id"`
	AgencyID   string `json:"agency_id"`
	ReportDate string `json:"report_date" format:"date-time"`
	Note       string `json:"note,omitempty"`
}

type AuditEvent struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}
