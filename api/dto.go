/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Defines the JSON shapes of requests and responses. These types decouple
  the wire format from the domain types in guard/.

CONVENTIONS:
  - Dates are "YYYY-MM-DD" strings
  - Guard accounts are shown by label ("G.03/02") and ref ("G.2025-02-03")
  - Amounts are whole days, signed

SEE ALSO:
  - handlers.go: Uses these DTOs
  - guard/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/warp/guard-ledger/generic"
	"github.com/warp/guard-ledger/guard"
)

// =============================================================================
// DAYS
// =============================================================================

type TagDTO struct {
	Type string         `json:"type"`
	Name string         `json:"name"`
	Meta map[string]any `json:"meta,omitempty"`
}

type DayDTO struct {
	Date      string    `json:"date"`
	Tags      []TagDTO  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// TagTypeDTO describes one tag type and the tags that block it.
type TagTypeDTO struct {
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	BlockedBy []string `json:"blocked_by"`
}

// UpsertTagRequest is the body of PUT /days/{date}/tags.
type UpsertTagRequest struct {
	Type string         `json:"type"`
	Meta map[string]any `json:"meta,omitempty"`
}

// =============================================================================
// GUARDS
// =============================================================================

// MarkGuardRequest is the body of POST /guards.
type MarkGuardRequest struct {
	WeekStart string `json:"week_start"`
	Planned   bool   `json:"planned"`
}

type GuardWeekResponse struct {
	Label  string       `json:"label"`
	Ref    string       `json:"ref"`
	Days   []string     `json:"days"`
	Credit *MovementDTO `json:"credit,omitempty"`
}

type AvailableGuardResponse struct {
	Available bool   `json:"available"`
	Label     string `json:"label,omitempty"`
	Ref       string `json:"ref,omitempty"`
	Remaining int    `json:"remaining"`
}

// =============================================================================
// FREE DAYS AND ADJUSTMENTS
// =============================================================================

// FreeDaysRequest is the body of POST /free-days.
type FreeDaysRequest struct {
	Dates []string `json:"dates"`
}

type AssignmentDTO struct {
	Date    string `json:"date"`
	Guard   string `json:"guard"`
	Ref     string `json:"ref"`
	Ordinal string `json:"ordinal"`
}

// OtherDaysRequest is the body of POST /other.
type OtherDaysRequest struct {
	Date   string `json:"date"`
	Label  string `json:"label"`
	Amount int    `json:"amount"`
}

// AdjustmentRequest is the body of POST /adjustments.
type AdjustmentRequest struct {
	Date   string `json:"date"`
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

type MovementDTO struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Kind      string    `json:"kind"`
	Category  string    `json:"category"`
	Amount    int       `json:"amount"`
	SourceRef string    `json:"source_ref"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// COUNTERS
// =============================================================================

type CountersResponse struct {
	AsOf string `json:"as_of"`
	guard.Counters
}

// VerifyRequest is the body of POST /counters/verify.
type VerifyRequest struct {
	AsOf      string         `json:"as_of,omitempty"`
	Displayed guard.Counters `json:"displayed"`
}

type VerifyResponse struct {
	Consistent bool           `json:"consistent"`
	Displayed  guard.Counters `json:"displayed"`
	Counters   guard.Counters `json:"counters"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	Action    string         `json:"action"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toDayDTO(d guard.Day) DayDTO {
	dto := DayDTO{Date: d.Date.String(), Tags: make([]TagDTO, len(d.Tags)), UpdatedAt: d.UpdatedAt}
	for i, t := range d.Tags {
		dto.Tags[i] = TagDTO{Type: string(t.Type), Name: t.Type.DisplayName(), Meta: t.Meta}
	}
	return dto
}

func toMovementDTO(m guard.Movement) MovementDTO {
	return MovementDTO{
		ID:        m.ID,
		Date:      m.Date.String(),
		Kind:      string(m.Kind),
		Category:  string(m.Category),
		Amount:    m.Amount,
		SourceRef: m.SourceRef,
		Note:      m.Note,
		CreatedAt: m.CreatedAt,
	}
}

func toAssignmentDTO(a guard.Assignment) AssignmentDTO {
	return AssignmentDTO{
		Date:    a.Date.String(),
		Guard:   a.Account.Label(),
		Ref:     a.Account.Ref(),
		Ordinal: a.OrdinalLabel(),
	}
}

func toGuardWeekResponse(res guard.GuardWeekResult) GuardWeekResponse {
	out := GuardWeekResponse{
		Label: res.Account.Label(),
		Ref:   res.Account.Ref(),
		Days:  make([]string, len(res.Days)),
	}
	for i, d := range res.Days {
		out.Days[i] = d.String()
	}
	if res.Credit != nil {
		m := toMovementDTO(*res.Credit)
		out.Credit = &m
	}
	return out
}

func toAuditDTO(e generic.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{Action: string(e.Action), Detail: e.Detail, Timestamp: e.Timestamp}
}
