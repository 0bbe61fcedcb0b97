// Package capital computes the monetary quantities the risk validators
// and trade state machine need: dollars-at-risk, required funding
// capital, and post-trade performance, per spec §4.6.
package capital

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/money"
)

// DollarsAtRisk returns |entry - stop| * quantity for a long trade, and
// the mirror image for a short trade. Both directions reduce to the same
// absolute-difference formula because Amount.Sub followed by Abs is
// direction-agnostic.
func DollarsAtRisk(category domain.TradeCategory, entry, stop money.Amount, quantity int64) (money.Amount, error) {
	diff, err := entry.Sub(stop)
	if err != nil {
		return money.Amount{}, err
	}
	return diff.Abs().MulByInteger(quantity), nil
}

// RequiredCapital returns the capital that must move from total_available
// into total_in_trade to fund the trade. For longs this is simply
// notional (entry_price * quantity). For shorts, spec leaves broker
// collateral as an open question; absent a broker-reported figure this
// core uses notional as well (documented in DESIGN.md), and the Broker
// port's Get/Submit responses may later supply a COLLATERAL field an
// adapter can substitute.
func RequiredCapital(category domain.TradeCategory, entry money.Amount, quantity int64) money.Amount {
	return entry.MulByInteger(quantity)
}

// Performance summarizes a closed trade's own profitability as a
// dimensionless ratio against the capital that was put at risk, useful
// for account_overview reporting (spec §6). It leans on gonum/stat for
// the mean/variance machinery so that a caller aggregating many trades'
// performances gets population statistics rather than hand-rolled math.
type Performance struct {
	RealizedPL money.Amount
	RiskTaken  money.Amount
}

// ReturnOnRisk returns realized P&L divided by dollars-at-risk, expressed
// as a float64 ratio purely for reporting (never fed back into ledger or
// risk-gate arithmetic, which stay fixed-point throughout).
func (p Performance) ReturnOnRisk() float64 {
	if p.RiskTaken.IsZero() {
		return 0
	}
	num := mustFloat(p.RealizedPL)
	den := mustFloat(p.RiskTaken)
	if den == 0 {
		return 0
	}
	return num / den
}

// AggregatePerformance computes the mean and standard deviation of a set
// of trades' return-on-risk ratios, e.g. for an account_overview summary.
func AggregatePerformance(perfs []Performance) (mean, stddev float64) {
	if len(perfs) == 0 {
		return 0, 0
	}
	ratios := returnRatios(perfs)
	mean = stat.Mean(ratios, nil)
	stddev = stat.StdDev(ratios, nil)
	return mean, stddev
}

// SharpeRatio scores a sequence of closed trades' return-on-risk ratios
// against a risk-free rate, one ratio per trade rather than per trading
// day (there is no daily price series in this core's domain). A zero
// stddev (fewer than two trades, or identical ratios) reports 0 rather
// than dividing by zero.
func SharpeRatio(perfs []Performance, riskFreeRate float64) float64 {
	ratios := returnRatios(perfs)
	if len(ratios) < 2 {
		return 0
	}
	mean := stat.Mean(ratios, nil)
	stddev := stat.StdDev(ratios, nil)
	if stddev == 0 {
		return 0
	}
	return (mean - riskFreeRate) / stddev
}

// SortinoRatio is SharpeRatio's downside-only variant: only trades whose
// ratio fell below the target return contribute to the denominator, so a
// string of big winners never penalizes the score the way Sharpe's
// symmetric stddev would.
func SortinoRatio(perfs []Performance, riskFreeRate, targetReturn float64) float64 {
	ratios := returnRatios(perfs)
	if len(ratios) < 2 {
		return 0
	}
	mean := stat.Mean(ratios, nil)

	var downsideSq float64
	var downsideCount int
	for _, r := range ratios {
		if r < targetReturn {
			d := r - targetReturn
			downsideSq += d * d
			downsideCount++
		}
	}
	if downsideCount == 0 {
		return 0
	}
	downsideDev := math.Sqrt(downsideSq / float64(downsideCount))
	if downsideDev == 0 {
		return 0
	}
	return (mean - riskFreeRate) / downsideDev
}

func returnRatios(perfs []Performance) []float64 {
	ratios := make([]float64, len(perfs))
	for i, p := range perfs {
		ratios[i] = p.ReturnOnRisk()
	}
	return ratios
}

// mustFloat converts an Amount to a float64 purely for reporting ratios;
// this is the one place the core leaves fixed-point arithmetic, and only
// for a dimensionless display statistic, never for a balance or risk gate.
func mustFloat(a money.Amount) float64 {
	s := a.StringPrecision(8)
	var whole, frac int64
	var neg bool
	var i int
	if len(s) > 0 && s[0] == '-' {
		neg = true
		i = 1
	}
	for ; i < len(s) && s[i] != '.'; i++ {
		whole = whole*10 + int64(s[i]-'0')
	}
	i++ // skip '.'
	scale := 1.0
	for ; i < len(s); i++ {
		frac = frac*10 + int64(s[i]-'0')
		scale *= 10
	}
	v := float64(whole) + float64(frac)/scale
	if neg {
		v = -v
	}
	return v
}
