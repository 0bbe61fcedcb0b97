package domain

import (
	"encoding/json"
	"time"

	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/money"
)

// ExecutionSide mirrors the broker's fill side.
type ExecutionSide string

const (
	ExecutionBuy  ExecutionSide = "buy"
	ExecutionSell ExecutionSide = "sell"
)

// Execution is an immutable fill record. (Broker, Account, BrokerExecutionID)
// is globally unique and is the key the Reconciler uses for deduplication
// (spec §4.8, testable property 4).
type Execution struct {
	ID                id.ID
	Broker            string
	AccountID         id.ID
	BrokerExecutionID string
	TradeID           id.ID
	OrderID           id.ID
	Symbol            string
	Side              ExecutionSide
	Quantity          int64
	Price             money.Amount
	ExecutedAt        time.Time
	Raw               json.RawMessage
}
