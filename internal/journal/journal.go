// Package journal encodes the "pending submissions" entry of spec §5: a
// record written before a broker call so that, if the local commit fails
// after a successful broker submission, the reconciler can reconstruct
// local state from the next broker event plus this entry. Encoded with
// msgpack for a compact, schema-stable binary payload.
package journal

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/id"
)

// SubmissionIntent is the payload written to the pending_submissions
// journal before a broker Submit call.
type SubmissionIntent struct {
	TradeID       id.ID            `msgpack:"trade_id"`
	ClientOrderID string           `msgpack:"client_order_id"`
	Role          domain.OrderRole `msgpack:"role"`
	Symbol        string           `msgpack:"symbol"`
	Quantity      int64            `msgpack:"quantity"`
	WrittenAt     time.Time        `msgpack:"written_at"`
}

// Encode serializes a SubmissionIntent for persistence.
func Encode(intent SubmissionIntent) ([]byte, error) {
	return msgpack.Marshal(intent)
}

// Decode deserializes a previously-encoded SubmissionIntent.
func Decode(payload []byte) (SubmissionIntent, error) {
	var intent SubmissionIntent
	err := msgpack.Unmarshal(payload, &intent)
	return intent, err
}
