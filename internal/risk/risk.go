// Package risk evaluates a trade draft against an account's active Rules:
// risk_per_trade and risk_per_month (spec §4.6). error-level violations
// block funding; warning/advice violations ride along as diagnostics.
package risk

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/money"
	"github.com/aristath/trust-engine/internal/ports"
)

// Violation is one rule that did not pass evaluation.
type Violation struct {
	Rule    *domain.Rule
	Message string
}

// Result is the outcome of evaluating every active rule for a trade.
type Result struct {
	Violations  []Violation // error-level violations that block funding
	Diagnostics []Violation // warning/advice violations, never blocking
}

// Blocked reports whether any error-level rule failed.
func (r Result) Blocked() bool { return len(r.Violations) > 0 }

// Draft is the minimal shape of a trade-to-be-funded the validators need.
type Draft struct {
	Category domain.TradeCategory
	Entry    money.Amount
	Stop     money.Amount
	Quantity int64
}

// MonthStart returns the first instant of now's calendar month, UTC.
func MonthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Evaluate runs every active rule for accountID against draft, in
// descending priority order. On the first error-level violation it
// short-circuits further error checks but still returns every violation
// (error and otherwise) collected so far, per spec's UX tie-break rule.
// warning/advice rules are always evaluated in full regardless of any
// error short-circuit.
func Evaluate(ctx context.Context, reader ports.Reader, accountID id.ID, bal *domain.Balance, rules []*domain.Rule, draft Draft, now time.Time) (Result, error) {
	diff, err := draft.Entry.Sub(draft.Stop)
	if err != nil {
		return Result{}, err
	}
	riskAmount := diff.Abs().MulByInteger(draft.Quantity).CeilToCent()

	active := make([]*domain.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority > active[j].Priority })

	var result Result
	shortCircuited := false

	for _, rule := range active {
		var violated bool
		var msg string

		switch rule.Kind {
		case domain.RuleRiskPerTrade:
			violated, msg, err = evalRiskPerTrade(rule, bal.TotalBalance, riskAmount)
		case domain.RuleRiskPerMonth:
			violated, msg, err = evalRiskPerMonth(ctx, reader, accountID, bal.Currency, rule, riskAmount, now)
		default:
			continue
		}
		if err != nil {
			return Result{}, err
		}
		if !violated {
			continue
		}

		v := Violation{Rule: rule, Message: msg}
		if rule.Blocks() {
			if shortCircuited {
				continue
			}
			result.Violations = append(result.Violations, v)
			shortCircuited = true
		} else {
			result.Diagnostics = append(result.Diagnostics, v)
		}
	}

	return result, nil
}

func evalRiskPerTrade(rule *domain.Rule, totalBalance, riskAmount money.Amount) (bool, string, error) {
	limit, err := pctOf(totalBalance, rule.Pct)
	if err != nil {
		return false, "", err
	}
	if riskAmount.Cmp(limit) > 0 {
		return true, "risk_per_trade exceeded: " + riskAmount.String() + " > " + limit.String(), nil
	}
	return false, "", nil
}

// evalRiskPerMonth implements: monthly_risk = realized_losses(this month)
// + at_risk(currently funded/open); fail when
// monthly_risk + new_trade_risk > pct/100 * total_balance_at_month_start.
func evalRiskPerMonth(ctx context.Context, reader ports.Reader, accountID id.ID, currency money.Currency, rule *domain.Rule, newTradeRisk money.Amount, now time.Time) (bool, string, error) {
	monthStart := MonthStart(now)

	agg, err := reader.MonthWindowAggregate(ctx, accountID, monthStart, now)
	if err != nil {
		return false, "", err
	}
	startBalance, err := reader.MonthStartBalance(ctx, accountID, currency, monthStart)
	if err != nil {
		return false, "", err
	}

	monthlyRisk, err := agg.RealizedLosses.Add(agg.AtRisk)
	if err != nil {
		return false, "", err
	}
	totalWithNew, err := monthlyRisk.Add(newTradeRisk)
	if err != nil {
		return false, "", err
	}

	limit, err := pctOf(startBalance, rule.Pct)
	if err != nil {
		return false, "", err
	}

	if totalWithNew.Cmp(limit) > 0 {
		return true, "risk_per_month exceeded: " + totalWithNew.String() + " > " + limit.String(), nil
	}
	return false, "", nil
}

// pctOf returns totalBalance * pct/100, parsing pct as a decimal string
// (e.g. "2.5") into an exact rational multiplier so risk comparisons never
// suffer float rounding.
func pctOf(totalBalance money.Amount, pct string) (money.Amount, error) {
	r, ok := new(big.Rat).SetString(pct)
	if !ok {
		return money.Zero(totalBalance.Currency()), nil
	}
	num := r.Num().Int64()
	den := r.Denom().Int64() * 100
	return totalBalance.MulByRatio(num, den, false), nil
}
