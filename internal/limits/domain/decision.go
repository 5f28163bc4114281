// Package domain holds the limit evaluation policy. Evaluate is pure: it
// takes counters, limits and the protection flag and returns a decision.
package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
)

type Action string

const (
	ActionAllow Action = "ALLOW"
	ActionWarn  Action = "WARN"
	ActionBlock Action = "BLOCK"
)

type Scope string

const (
	ScopeNone    Scope = ""
	ScopeDaily   Scope = "daily"
	ScopeMonthly Scope = "monthly"
)

// Input is everything the policy needs for one identity.
type Input struct {
	DailyUsed         int64
	MonthlyUsed       int64
	DailyLimit        int64
	MonthlyLimit      int64
	CriticalThreshold float64
	Protected         bool
}

type Decision struct {
	Action         Action  `json:"action"`
	Reason         string  `json:"reason,omitempty"`
	Scope          Scope   `json:"scope,omitempty"`
	DailyPercent   float64 `json:"daily_percent"`
	MonthlyPercent float64 `json:"monthly_percent"`
	Protected      bool    `json:"protected"`
}

type Evaluator interface {
	// Evaluate reads today's and this month's usage for identity and applies
	// the policy. It never mutates state.
	Evaluate(ctx context.Context, identity string) (Decision, error)
}

var ErrInvalidIdentity = errors.New("invalid_identity")

// Percent is used/limit*100. A non-positive limit disables the metric.
func Percent(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}

// Round1 rounds to one decimal for display. Comparisons never use it.
func Round1(pct float64) float64 {
	return math.Round(pct*10) / 10
}

func Evaluate(in Input) Decision {
	daily := Percent(in.DailyUsed, in.DailyLimit)
	monthly := Percent(in.MonthlyUsed, in.MonthlyLimit)

	decision := Decision{
		Action:         ActionAllow,
		DailyPercent:   Round1(daily),
		MonthlyPercent: Round1(monthly),
		Protected:      in.Protected,
	}

	// Daily wins ties because it resets sooner.
	scope, peak := ScopeDaily, daily
	if monthly > daily {
		scope, peak = ScopeMonthly, monthly
	}

	if !in.Protected && peak >= 100 {
		if daily >= 100 {
			scope = ScopeDaily
		}
		decision.Action = ActionBlock
		decision.Scope = scope
		decision.Reason = blockReason(scope, in)
		return decision
	}

	if peak >= in.CriticalThreshold && peak > 0 {
		decision.Action = ActionWarn
		decision.Scope = scope
		decision.Reason = warnReason(scope, peak, in)
	}
	return decision
}

func blockReason(scope Scope, in Input) string {
	if scope == ScopeMonthly {
		return fmt.Sprintf("Monthly limit exceeded: %d of %d requests (%.1f%%)",
			in.MonthlyUsed, in.MonthlyLimit, Round1(Percent(in.MonthlyUsed, in.MonthlyLimit)))
	}
	return fmt.Sprintf("Daily limit exceeded: %d of %d requests (%.1f%%)",
		in.DailyUsed, in.DailyLimit, Round1(Percent(in.DailyUsed, in.DailyLimit)))
}

func warnReason(scope Scope, peak float64, in Input) string {
	label := "Daily"
	if scope == ScopeMonthly {
		label = "Monthly"
	}
	reason := fmt.Sprintf("%s usage at %.1f%% (critical threshold %.0f%%)", label, Round1(peak), in.CriticalThreshold)
	if in.Protected {
		reason += ", administrative protection active"
	}
	return reason
}
