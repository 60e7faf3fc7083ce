package dto

import (
	"time"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// BackupConfigRequest payload for create and update.
type BackupConfigRequest struct {
	OriginalAssigneeID string      `json:"original_assignee_id" validate:"required,max=128"`
	BackupAssigneeID   string      `json:"backup_assignee_id" validate:"required,max=128,nefield=OriginalAssigneeID"`
	StartDate          domain.Date `json:"start_date"`
	EndDate            domain.Date `json:"end_date"`
	DivertExisting     bool        `json:"divert_existing"`
	Reason             string      `json:"reason" validate:"max=512"`
}

// DeactivateRequest payload.
type DeactivateRequest struct {
	Reason string `json:"reason" validate:"max=512"`
}

// BackupConfigResponse payload.
type BackupConfigResponse struct {
	ID                 string              `json:"id"`
	Role               domain.BackupRole   `json:"role"`
	OriginalAssigneeID string              `json:"original_assignee_id"`
	BackupAssigneeID   string              `json:"backup_assignee_id"`
	StartDate          domain.Date         `json:"start_date"`
	EndDate            domain.Date         `json:"end_date"`
	DivertExisting     bool                `json:"divert_existing"`
	Reason             string              `json:"reason,omitempty"`
	IsActive           bool                `json:"is_active"`
	Status             domain.BackupStatus `json:"status"`
	DaysRemaining      int                 `json:"days_remaining"`
	ProcessedAt        *time.Time          `json:"processed_at,omitempty"`
	CreatedBy          *string             `json:"created_by,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// NewBackupConfigResponse maps a config as seen on today.
func NewBackupConfigResponse(c domain.BackupAssignmentConfig, today domain.Date) BackupConfigResponse {
	return BackupConfigResponse{
		ID:                 c.ID,
		Role:               c.Role,
		OriginalAssigneeID: c.OriginalAssigneeID,
		BackupAssigneeID:   c.BackupAssigneeID,
		StartDate:          c.StartDate,
		EndDate:            c.EndDate,
		DivertExisting:     c.DivertExisting,
		Reason:             c.Reason,
		IsActive:           c.IsActive,
		Status:             c.Status(today),
		DaysRemaining:      c.DaysRemaining(today),
		ProcessedAt:        c.ProcessedAt,
		CreatedBy:          c.CreatedBy,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

// NewBackupConfigList maps a list of configs.
func NewBackupConfigList(configs []domain.BackupAssignmentConfig, today domain.Date) []BackupConfigResponse {
	out := make([]BackupConfigResponse, 0, len(configs))
	for _, c := range configs {
		out = append(out, NewBackupConfigResponse(c, today))
	}
	return out
}

// ReassignmentLogResponse payload.
type ReassignmentLogResponse struct {
	ID             string                    `json:"id"`
	ConfigID       string                    `json:"config_id"`
	Role           domain.BackupRole         `json:"role"`
	OriginalID     string                    `json:"original_id"`
	BackupID       string                    `json:"backup_id"`
	Action         domain.ReassignmentAction `json:"action"`
	AffectedCount  int                       `json:"affected_count"`
	PartialFailure bool                      `json:"partial_failure"`
	FailedItems    []string                  `json:"failed_items,omitempty"`
	ActorID        *string                   `json:"actor_id,omitempty"`
	Reason         string                    `json:"reason,omitempty"`
	Timestamp      time.Time                 `json:"timestamp"`
}

// NewReassignmentLogList maps log entries.
func NewReassignmentLogList(entries []domain.ReassignmentLogEntry) []ReassignmentLogResponse {
	out := make([]ReassignmentLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ReassignmentLogResponse{
			ID:             e.ID,
			ConfigID:       e.ConfigID,
			Role:           e.Role,
			OriginalID:     e.OriginalID,
			BackupID:       e.BackupID,
			Action:         e.Action,
			AffectedCount:  e.AffectedCount,
			PartialFailure: e.PartialFailure,
			FailedItems:    e.FailedItems,
			ActorID:        e.ActorID,
			Reason:         e.Reason,
			Timestamp:      e.Timestamp,
		})
	}
	return out
}

// EffectiveAssigneeResponse payload.
type EffectiveAssigneeResponse struct {
	Role       domain.BackupRole `json:"role"`
	OwnerID    string            `json:"owner_id"`
	AssigneeID string            `json:"assignee_id"`
	Diverted   bool              `json:"diverted"`
	At         time.Time         `json:"at"`
}
