package ports

import (
	"context"
	"time"

	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/money"
)

// SubmitRequest is the caller-constructed order submission, keyed by a
// caller-supplied client order id so retries are idempotent (spec §4.4,
// §6 "accept and echo a caller-supplied client-order-id").
type SubmitRequest struct {
	ClientOrderID string
	Symbol        string
	Action        domain.OrderAction
	Category      domain.OrderCategory
	Quantity      int64
	Price         money.Amount // zero Amount for market orders
	TimeInForce   domain.TimeInForce
	// OCOGroup, when non-empty, links this order to sibling orders the
	// broker should treat as one-cancels-other.
	OCOGroup string
}

// ReplaceRequest describes a broker replace (modify) call.
type ReplaceRequest struct {
	BrokerOrderID string
	NewPrice      *money.Amount
	NewQuantity   *int64
}

// BrokerOrder is the broker's view of an order, returned by Submit/Get.
type BrokerOrder struct {
	BrokerOrderID    string
	ClientOrderID    string
	Status           domain.OrderStatus
	FilledQuantity   int64
	AverageFillPrice *money.Amount
	SubmittedAt      *time.Time
	UpdatedAt        time.Time
}

// ErrorClass partitions broker errors so the core can apply its retry
// policy uniformly (spec §4.4, §7).
type ErrorClass string

const (
	ClassTransient ErrorClass = "transient"
	ClassPermanent ErrorClass = "permanent"
)

// BrokerError is the error type every Broker method returns on failure.
type BrokerError struct {
	Class   ErrorClass
	Message string
	Cause   error
}

func (e *BrokerError) Error() string {
	if e.Cause != nil {
		return string(e.Class) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Class) + ": " + e.Message
}

func (e *BrokerError) Unwrap() error { return e.Cause }

// IsTransient reports whether err is a BrokerError classified transient.
func IsTransient(err error) bool {
	be, ok := err.(*BrokerError)
	return ok && be.Class == ClassTransient
}

// IsPermanent reports whether err is a BrokerError classified permanent.
func IsPermanent(err error) bool {
	be, ok := err.(*BrokerError)
	return ok && be.Class == ClassPermanent
}

// EventKind distinguishes the two event shapes the broker stream yields.
type EventKind string

const (
	EventTradeUpdate     EventKind = "trade_update"
	EventAccountActivity EventKind = "account_activity"
)

// Event is a single message from the broker's update stream.
type Event struct {
	Kind              EventKind
	BrokerOrderID     string
	BrokerExecutionID string // empty for non-fill trade-update events
	Status            domain.OrderStatus
	FilledQuantity    int64
	FillPrice         *money.Amount
	FeeAmount         *money.Amount
	OccurredAt        time.Time
	Raw               []byte
}

// Broker is the capability set the core depends on: submit, cancel,
// replace, get, and a stream of updates. Variants (paper, live) live
// behind this port; the core never dispatches on broker kind directly.
type Broker interface {
	Submit(ctx context.Context, req SubmitRequest) (*BrokerOrder, error)
	Cancel(ctx context.Context, brokerOrderID string) error
	Replace(ctx context.Context, req ReplaceRequest) (*BrokerOrder, error)
	Get(ctx context.Context, brokerOrderID string) (*BrokerOrder, error)
	StreamUpdates(ctx context.Context) (<-chan Event, error)
}
