package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/money"
)

func TestCreateLongRequiresOrdering(t *testing.T) {
	ids := id.NewSequential("t")
	now := time.Now()

	draft := CreateDraft{
		AccountID:     "acc-1",
		VehicleSymbol: "AAPL",
		VehicleBroker: "paper",
		Category:      domain.TradeLong,
		Currency:      money.USD,
		EntryPrice:    money.MustNew("150", money.USD),
		TargetPrice:   money.MustNew("160", money.USD),
		StopPrice:     money.MustNew("145", money.USD),
		Quantity:      100,
	}
	trade, tb, entry, target, stop, err := Create(ids, draft, now)
	require.NoError(t, err)
	require.Equal(t, domain.StatusNew, trade.Status)
	require.Equal(t, domain.OrderNew, entry.Status)
	require.Equal(t, domain.OrderNew, target.Status)
	require.Equal(t, domain.OrderNew, stop.Status)
	require.True(t, tb.Funding.IsZero())
}

func TestCreateLongRejectsBadOrdering(t *testing.T) {
	ids := id.NewSequential("t")
	draft := CreateDraft{
		Category:    domain.TradeLong,
		Currency:    money.USD,
		EntryPrice:  money.MustNew("150", money.USD),
		TargetPrice: money.MustNew("140", money.USD), // below entry: invalid for long
		StopPrice:   money.MustNew("145", money.USD),
		Quantity:    100,
	}
	_, _, _, _, _, err := Create(ids, draft, time.Now())
	require.Error(t, err)
}

func TestTransitionTable(t *testing.T) {
	trade := &domain.Trade{Status: domain.StatusNew}
	require.NoError(t, Transition(trade, domain.StatusFunded, time.Now()))
	require.Equal(t, domain.StatusFunded, trade.Status)

	err := Transition(trade, domain.StatusClosedTarget, time.Now())
	require.Error(t, err)
}

func TestModifyStopDirectionGuardS6(t *testing.T) {
	trade := &domain.Trade{Status: domain.StatusFunded, Category: domain.TradeLong}
	entry := money.MustNew("150", money.USD)

	// 151 is above entry: invalid for a long stop.
	err := ValidateModify(trade, domain.RoleStop, money.MustNew("151", money.USD), entry)
	require.Error(t, err)

	// 147 is below entry: valid.
	err = ValidateModify(trade, domain.RoleStop, money.MustNew("147", money.USD), entry)
	require.NoError(t, err)
}
