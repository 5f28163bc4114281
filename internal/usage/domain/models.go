// Package domain contains persistence models for raw usage ingestion.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageEvent stores one accepted request. Rows are append-only.
type UsageEvent struct {
	ID             snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	IdentityKey    string       `gorm:"type:varchar(255);not null;index:idx_usage_events_identity_date,priority:1;index:idx_usage_events_identity_month,priority:1" json:"identity"`
	GroupKey       string       `gorm:"type:varchar(255);not null" json:"group"`
	Kind           RequestKind  `gorm:"type:varchar(32);not null" json:"kind"`
	ResourceID     string       `gorm:"type:varchar(255);not null" json:"resource_id"`
	Region         string       `gorm:"type:varchar(64)" json:"region,omitempty"`
	QuantityIn     int64        `gorm:"not null" json:"quantity_in"`
	QuantityOut    int64        `gorm:"not null" json:"quantity_out"`
	Cost           float64      `gorm:"not null" json:"cost"`
	SourceIP       string       `gorm:"type:varchar(64)" json:"source_ip,omitempty"`
	UserAgent      string       `gorm:"type:text" json:"user_agent,omitempty"`
	CorrelationID  string       `gorm:"type:varchar(128)" json:"correlation_id,omitempty"`
	StatusCode     int          `json:"status_code,omitempty"`
	ErrorMessage   string       `gorm:"type:text" json:"error_message,omitempty"`
	ResponseTimeMs int64        `json:"response_time_ms,omitempty"`
	OccurredAt     time.Time    `gorm:"not null;index:idx_usage_events_occurred_at" json:"occurred_at"`
	UsageDate      string       `gorm:"type:varchar(10);not null;index:idx_usage_events_identity_date,priority:2" json:"usage_date"`
	UsageMonth     string       `gorm:"type:varchar(7);not null;index:idx_usage_events_identity_month,priority:2" json:"usage_month"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }
