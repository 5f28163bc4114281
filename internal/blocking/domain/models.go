// Package domain holds the per-identity blocking state and the orchestrator
// contract that drives block, unblock and protection transitions.
package domain

import "time"

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusBlocked   Status = "BLOCKED"
	StatusProtected Status = "PROTECTED"
)

type BlockType string

const (
	BlockTypeAuto   BlockType = "AUTO"
	BlockTypeManual BlockType = "MANUAL"
	BlockTypeNone   BlockType = "NONE"
)

// State is the single live blocking record of an identity. It is replaced in
// place on every transition. BLOCKED implies BlockedAt is set; a nil
// BlockedUntil on a BLOCKED record means indefinite and only MANUAL blocks
// can produce it.
type State struct {
	IdentityKey        string     `gorm:"primaryKey;type:varchar(255)" json:"identity"`
	Status             Status     `gorm:"type:varchar(16);not null;index:idx_blocking_states_status_until,priority:1" json:"status"`
	BlockType          BlockType  `gorm:"type:varchar(16);not null" json:"block_type"`
	Reason             string     `gorm:"type:text" json:"reason,omitempty"`
	BlockedAt          *time.Time `json:"blocked_at,omitempty"`
	BlockedUntil       *time.Time `gorm:"index:idx_blocking_states_status_until,priority:2" json:"blocked_until,omitempty"`
	SetBy              string     `gorm:"type:varchar(255)" json:"set_by,omitempty"`
	EnforcementPending bool       `gorm:"not null;default:false" json:"enforcement_pending"`
	Version            int64      `gorm:"not null;default:0" json:"version"`
	CreatedAt          time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"not null" json:"updated_at"`
}

func (State) TableName() string { return "blocking_states" }

func (s *State) IsBlocked() bool {
	return s != nil && s.Status == StatusBlocked
}

// Expired reports whether a BLOCKED record has a finite expiry at or before now.
func (s *State) Expired(now time.Time) bool {
	return s.IsBlocked() && s.BlockedUntil != nil && !s.BlockedUntil.After(now)
}
