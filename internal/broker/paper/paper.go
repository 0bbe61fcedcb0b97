// Package paper implements an in-process Broker (spec §4.4) that
// simulates fills without touching a real venue. It is the default for
// accounts in the "paper" environment and for tests, and exercises the
// same port contract ("live" would speak to a real broker over the
// adapter described in internal/broker/live).
package paper

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/ports"
)

// Broker is a deterministic paper-trading simulator: Submit immediately
// accepts and Fill/Reject/PartialFill are driven explicitly by test code
// or a higher-level simulator, not by real market data (market-data
// ingestion is a non-goal per spec §1).
type Broker struct {
	mu      sync.Mutex
	orders  map[string]*state
	events  chan ports.Event
	log     zerolog.Logger
	nowFunc func() time.Time
}

type state struct {
	order         ports.BrokerOrder
	clientOrderID string
}

// New creates a paper Broker. nowFunc defaults to time.Now if nil.
func New(log zerolog.Logger, nowFunc func() time.Time) *Broker {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Broker{
		orders:  make(map[string]*state),
		events:  make(chan ports.Event, 256),
		log:     log.With().Str("component", "broker_paper").Logger(),
		nowFunc: nowFunc,
	}
}

// Submit accepts the order immediately. Idempotent: resubmitting the same
// ClientOrderID returns the previously-created broker order rather than
// minting a second one, per spec §6's idempotent-retry requirement.
func (b *Broker) Submit(ctx context.Context, req ports.SubmitRequest) (*ports.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, st := range b.orders {
		if st.clientOrderID == req.ClientOrderID {
			copyOrder := st.order
			return &copyOrder, nil
		}
	}

	brokerOrderID := uuid.New().String()
	now := b.nowFunc()
	order := ports.BrokerOrder{
		BrokerOrderID: brokerOrderID,
		ClientOrderID: req.ClientOrderID,
		Status:        domain.OrderAccepted,
		SubmittedAt:   &now,
		UpdatedAt:     now,
	}
	b.orders[brokerOrderID] = &state{order: order, clientOrderID: req.ClientOrderID}

	b.log.Info().Str("broker_order_id", brokerOrderID).Str("client_order_id", req.ClientOrderID).Msg("order accepted")
	return &order, nil
}

// Cancel marks an order canceled.
func (b *Broker) Cancel(ctx context.Context, brokerOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.orders[brokerOrderID]
	if !ok {
		return &ports.BrokerError{Class: ports.ClassPermanent, Message: "unknown order id " + brokerOrderID}
	}
	st.order.Status = domain.OrderCanceled
	st.order.UpdatedAt = b.nowFunc()
	return nil
}

// Replace updates price/quantity on an open order.
func (b *Broker) Replace(ctx context.Context, req ports.ReplaceRequest) (*ports.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.orders[req.BrokerOrderID]
	if !ok {
		return nil, &ports.BrokerError{Class: ports.ClassPermanent, Message: "unknown order id " + req.BrokerOrderID}
	}
	st.order.Status = domain.OrderReplaced
	st.order.UpdatedAt = b.nowFunc()
	copyOrder := st.order
	return &copyOrder, nil
}

// Get returns the current broker-side view of an order.
func (b *Broker) Get(ctx context.Context, brokerOrderID string) (*ports.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.orders[brokerOrderID]
	if !ok {
		return nil, &ports.BrokerError{Class: ports.ClassPermanent, Message: "unknown order id " + brokerOrderID}
	}
	copyOrder := st.order
	return &copyOrder, nil
}

// StreamUpdates returns the channel test code / a simulator writes
// synthetic fills to. Every call returns the same persistent buffered
// channel; ctx is not used, and canceling it neither closes the channel
// nor stops delivery.
func (b *Broker) StreamUpdates(ctx context.Context) (<-chan ports.Event, error) {
	return b.events, nil
}

// emit is the internal single path for pushing events so tests have one
// seam to simulate broker behavior through.
func (b *Broker) emit(ev ports.Event) {
	select {
	case b.events <- ev:
	default:
	}
}

// Simulate applies an update to an order's local state and emits the
// corresponding stream event — this is the seam test code and any
// future market simulator use to drive the paper broker, analogous to a
// real broker's websocket trade-update / account-activity frames.
func (b *Broker) Simulate(ev ports.Event) {
	b.mu.Lock()
	if st, ok := b.orders[ev.BrokerOrderID]; ok {
		st.order.Status = ev.Status
		st.order.FilledQuantity = ev.FilledQuantity
		st.order.AverageFillPrice = ev.FillPrice
		st.order.UpdatedAt = ev.OccurredAt
	}
	b.mu.Unlock()
	b.emit(ev)
}
