package domain

import "github.com/aristath/trust-engine/internal/id"

// RuleKind distinguishes the two risk rules the core understands.
type RuleKind string

const (
	RuleRiskPerTrade RuleKind = "risk_per_trade"
	RuleRiskPerMonth RuleKind = "risk_per_month"
)

// RuleLevel determines whether a violation blocks funding or merely rides
// along as a diagnostic.
type RuleLevel string

const (
	LevelAdvice  RuleLevel = "advice"
	LevelWarning RuleLevel = "warning"
	LevelError   RuleLevel = "error"
)

// Rule is a per-account risk constraint.
type Rule struct {
	ID        id.ID
	AccountID id.ID
	Kind      RuleKind
	Pct       string // decimal percentage, e.g. "2.0"
	Priority  int
	Level     RuleLevel
	Active    bool
}

// Blocks reports whether a violation of this rule must prevent funding.
func (r *Rule) Blocks() bool { return r.Level == LevelError }
