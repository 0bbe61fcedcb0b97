package capital

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/money"
)

func TestDollarsAtRiskLong(t *testing.T) {
	entry := money.MustNew("150.00", money.USD)
	stop := money.MustNew("145.00", money.USD)

	risk, err := DollarsAtRisk(domain.TradeLong, entry, stop, 100)
	require.NoError(t, err)
	require.Equal(t, "500.00", risk.String())
}

func TestDollarsAtRiskShortMirrorsLong(t *testing.T) {
	entry := money.MustNew("100.00", money.USD)
	stop := money.MustNew("105.00", money.USD)

	risk, err := DollarsAtRisk(domain.TradeShort, entry, stop, 20)
	require.NoError(t, err)
	require.Equal(t, "100.00", risk.String())
}

func TestRequiredCapital(t *testing.T) {
	entry := money.MustNew("150.00", money.USD)
	cap := RequiredCapital(domain.TradeLong, entry, 50)
	require.Equal(t, "7500.00", cap.String())
}

func TestReturnOnRisk(t *testing.T) {
	p := Performance{
		RealizedPL: money.MustNew("-275", money.USD),
		RiskTaken:  money.MustNew("250", money.USD),
	}
	require.InDelta(t, -1.1, p.ReturnOnRisk(), 0.001)
}
