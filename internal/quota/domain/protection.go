package domain

import "time"

type ProtectionUpdate struct {
	IdentityKey string
	Enabled     bool
	SetBy       string
	At          time.Time
}
