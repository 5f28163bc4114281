// Package domain defines the notification dispatcher contract.
package domain

import (
	"context"
	"errors"
	"time"
)

type Category string

const (
	CategoryWarn        Category = "warn"
	CategoryBlocked     Category = "blocked"
	CategoryUnblocked   Category = "unblocked"
	CategoryAdminAction Category = "adminAction"
)

type Initiator string

const (
	InitiatorSystem Initiator = "system"
	InitiatorAdmin  Initiator = "admin"
)

// SweepSummary is attached to adminAction notifications sent after a reset run.
type SweepSummary struct {
	Unblocked         int
	UnblockFailed     int
	ProtectionCleared int
	ProtectionFailed  int
	NotProcessed      int
	Cancelled         bool
	Failures          []string
}

type Notification struct {
	IdentityKey    string
	Category       Category
	Initiator      Initiator
	Reason         string
	PerformedBy    string
	BlockedUntil   *time.Time
	DailyPercent   float64
	MonthlyPercent float64
	// Recipient overrides the address looked up from the quota record.
	Recipient string
	Summary   *SweepSummary
}

// Dispatcher sends notifications without blocking the caller. Failures are
// logged and never returned.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification)
}

var ErrNotificationFailed = errors.New("notification_failed")
