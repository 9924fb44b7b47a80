package models

import (
	"time"
)

// Report statuses persisted in Postgres.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
	StatusArchived = "ARCHIVED"
)

// ValidStatus reports whether s belongs to the closed status set.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusInactive, StatusArchived:
		return true
	}
	return false
}

// CanTransition reports whether a status change from one state to another is
// legal. ACTIVE and INACTIVE can flip back and forth, anything can be
// archived, ARCHIVED is terminal.
func CanTransition(from, to string) bool {
	if !ValidStatus(from) || !ValidStatus(to) {
		return false
	}
	if from == to {
		return false
	}
	return from != StatusArchived
}

// Report is a report definition persisted in Postgres. It describes what a
// report is and how to run or schedule it, not any generated output.
type Report struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	ReportType     string         `json:"report_type,omitempty"`
	Description    string         `json:"description,omitempty"`
	TemplateID     *int64         `json:"template_id,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	OutputFormat   string         `json:"output_format,omitempty"`
	ScheduleConfig map[string]any `json:"schedule_config,omitempty"`
	IsScheduled    bool           `json:"is_scheduled"`
	Status         string         `json:"status"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time     `json:"next_run_at,omitempty"`
	CreatedBy      *int64         `json:"created_by,omitempty"`
	BusinessUnitID *int64         `json:"business_unit_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	// DegradedFields names mapping columns that failed to deserialize on
	// read. The record is still returned; the mapping comes back absent.
	DegradedFields []string `json:"degraded_fields,omitempty"`
}
