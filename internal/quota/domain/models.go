// Package domain holds the per-identity quota configuration.
package domain

import "time"

// QuotaRecord is created on first observed usage or by provisioning and is
// never deleted.
type QuotaRecord struct {
	IdentityKey              string     `gorm:"primaryKey;type:varchar(255)" json:"identity"`
	GroupKey                 string     `gorm:"type:varchar(255);not null;default:''" json:"group"`
	Email                    string     `gorm:"type:varchar(320)" json:"email,omitempty"`
	DailyLimit               int64      `gorm:"not null" json:"daily_limit"`
	MonthlyLimit             int64      `gorm:"not null" json:"monthly_limit"`
	WarningThreshold         float64    `gorm:"not null" json:"warning_threshold"`
	CriticalThreshold        float64    `gorm:"not null" json:"critical_threshold"`
	AdministrativeProtection bool       `gorm:"not null;default:false;index" json:"administrative_protection"`
	ProtectionSetBy          *string    `gorm:"type:varchar(255)" json:"protection_set_by,omitempty"`
	ProtectionSetAt          *time.Time `json:"protection_set_at,omitempty"`
	CreatedAt                time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt                time.Time  `gorm:"not null" json:"updated_at"`
}

func (QuotaRecord) TableName() string { return "identity_quotas" }
