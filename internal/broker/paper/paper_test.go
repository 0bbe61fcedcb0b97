package paper

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/ports"
)

func TestSubmitIsIdempotentOnClientOrderID(t *testing.T) {
	b := New(zerolog.Nop(), nil)
	req := ports.SubmitRequest{ClientOrderID: "c-1", Symbol: "AAPL", Quantity: 100}

	first, err := b.Submit(context.Background(), req)
	require.NoError(t, err)
	second, err := b.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first.BrokerOrderID, second.BrokerOrderID)
}

func TestSimulateEmitsFillEvent(t *testing.T) {
	b := New(zerolog.Nop(), nil)
	order, err := b.Submit(context.Background(), ports.SubmitRequest{ClientOrderID: "c-2"})
	require.NoError(t, err)

	events, err := b.StreamUpdates(context.Background())
	require.NoError(t, err)

	b.Simulate(ports.Event{
		Kind:              ports.EventTradeUpdate,
		BrokerOrderID:     order.BrokerOrderID,
		BrokerExecutionID: "exec-1",
		Status:            domain.OrderFilled,
		FilledQuantity:    100,
		OccurredAt:        time.Now(),
	})

	select {
	case ev := <-events:
		require.Equal(t, "exec-1", ev.BrokerExecutionID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for simulated event")
	}
}

func TestGetUnknownOrderIsPermanent(t *testing.T) {
	b := New(zerolog.Nop(), nil)
	_, err := b.Get(context.Background(), "does-not-exist")
	require.True(t, ports.IsPermanent(err))
}
