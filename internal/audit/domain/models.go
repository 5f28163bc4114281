// Package domain contains the append-only audit trail of blocking transitions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Operation string

const (
	OperationBlock     Operation = "BLOCK"
	OperationUnblock   Operation = "UNBLOCK"
	OperationProtect   Operation = "PROTECT"
	OperationUnprotect Operation = "UNPROTECT"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationBlock, OperationUnblock, OperationProtect, OperationUnprotect:
		return true
	default:
		return false
	}
}

type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
)

// EnforcementOutcome records the enforcement point result separately from
// the transition outcome.
type EnforcementOutcome string

const (
	EnforcementApplied     EnforcementOutcome = "APPLIED"
	EnforcementFailed      EnforcementOutcome = "FAILED"
	EnforcementNotRequired EnforcementOutcome = "NOT_REQUIRED"
)

// Entry is never updated once written.
type Entry struct {
	ID                 snowflake.ID       `gorm:"primaryKey;autoIncrement:false" json:"id"`
	IdentityKey        string             `gorm:"type:varchar(255);not null;index:idx_audit_entries_identity" json:"identity"`
	Operation          Operation          `gorm:"type:varchar(16);not null" json:"operation"`
	Reason             string             `gorm:"type:text" json:"reason"`
	PerformedBy        string             `gorm:"type:varchar(255);not null" json:"performed_by"`
	BlockType          string             `gorm:"type:varchar(16)" json:"block_type,omitempty"`
	ExpiresAt          *time.Time         `json:"expires_at,omitempty"`
	Outcome            Outcome            `gorm:"type:varchar(16);not null" json:"outcome"`
	EnforcementOutcome EnforcementOutcome `gorm:"type:varchar(16);not null" json:"enforcement_outcome"`
	ErrorMessage       string             `gorm:"type:text" json:"error_message,omitempty"`
	Metadata           datatypes.JSONMap  `json:"metadata,omitempty"`
	CreatedAt          time.Time          `gorm:"not null;index:idx_audit_entries_created_at" json:"created_at"`
}

func (Entry) TableName() string { return "audit_entries" }

type ListFilter struct {
	IdentityKey string
	Operation   Operation
	StartAt     *time.Time
	EndAt       *time.Time
	BeforeID    snowflake.ID
	Limit       int
}
