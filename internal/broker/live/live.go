// Package live implements the Broker port (spec §4.4) against a real
// venue over plain HTTP for submit/cancel/replace/get and
// nhooyr.io/websocket for the streaming trade-update/account-activity
// feed, in the style of the teacher's tradernet HTTP client and
// websocket_client.go. The concrete wire encoding of any specific broker
// (e.g. Alpaca) is explicitly out of scope per spec §1 — this adapter
// defines the shape a real encoding would plug into, using a pluggable
// Codec.
package live

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/trust-engine/internal/ports"
)

const (
	baseReconnectDelay   = 2 * time.Second
	maxReconnectDelay    = 1 * time.Minute
	maxReconnectAttempts = 10
)

// Codec translates between the core's port types and a specific broker's
// wire format. The core ships no concrete Codec; an integration supplies
// one (spec §1: "concrete Alpaca wire encoding... explicitly out of
// scope").
type Codec interface {
	EncodeSubmit(req ports.SubmitRequest) ([]byte, error)
	DecodeOrder(body []byte) (*ports.BrokerOrder, error)
	DecodeEvent(frame []byte) (*ports.Event, error)
	ClassifyHTTPError(statusCode int, body []byte) *ports.BrokerError
}

// Broker is the live adapter: HTTP for request/response calls, websocket
// for the update stream.
type Broker struct {
	baseURL        string
	wsURL          string
	httpClient     *http.Client
	codec          Codec
	log            zerolog.Logger
	submitTimeout  time.Duration
	cancelTimeout  time.Duration
	replaceTimeout time.Duration
}

// Config configures timeouts per spec §5 (10s submit, 5s cancel/replace).
type Config struct {
	BaseURL        string
	StreamURL      string
	SubmitTimeout  time.Duration
	CancelTimeout  time.Duration
	ReplaceTimeout time.Duration
}

// New creates a live Broker.
func New(cfg Config, codec Codec, log zerolog.Logger) *Broker {
	if cfg.SubmitTimeout == 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if cfg.CancelTimeout == 0 {
		cfg.CancelTimeout = 5 * time.Second
	}
	if cfg.ReplaceTimeout == 0 {
		cfg.ReplaceTimeout = 5 * time.Second
	}
	return &Broker{
		baseURL:        cfg.BaseURL,
		wsURL:          cfg.StreamURL,
		httpClient:     &http.Client{},
		codec:          codec,
		log:            log.With().Str("component", "broker_live").Logger(),
		submitTimeout:  cfg.SubmitTimeout,
		cancelTimeout:  cfg.CancelTimeout,
		replaceTimeout: cfg.ReplaceTimeout,
	}
}

func (b *Broker) doJSON(ctx context.Context, method, path string, body []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &ports.BrokerError{Class: ports.ClassPermanent, Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &ports.BrokerError{Class: ports.ClassTransient, Message: "http request failed", Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ports.BrokerError{Class: ports.ClassTransient, Message: "read response body", Cause: err}
	}
	if resp.StatusCode >= 400 {
		return nil, b.codec.ClassifyHTTPError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// Submit sends a caller-idempotent order submission.
func (b *Broker) Submit(ctx context.Context, req ports.SubmitRequest) (*ports.BrokerOrder, error) {
	payload, err := b.codec.EncodeSubmit(req)
	if err != nil {
		return nil, &ports.BrokerError{Class: ports.ClassPermanent, Message: "encode submit", Cause: err}
	}
	respBody, err := b.doJSON(ctx, http.MethodPost, "/orders", payload, b.submitTimeout)
	if err != nil {
		return nil, err
	}
	return b.codec.DecodeOrder(respBody)
}

// Cancel cancels a working order.
func (b *Broker) Cancel(ctx context.Context, brokerOrderID string) error {
	_, err := b.doJSON(ctx, http.MethodDelete, "/orders/"+brokerOrderID, nil, b.cancelTimeout)
	return err
}

// Replace submits a new price/quantity for a working order.
func (b *Broker) Replace(ctx context.Context, req ports.ReplaceRequest) (*ports.BrokerOrder, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &ports.BrokerError{Class: ports.ClassPermanent, Message: "encode replace", Cause: err}
	}
	respBody, err := b.doJSON(ctx, http.MethodPatch, "/orders/"+req.BrokerOrderID, payload, b.replaceTimeout)
	if err != nil {
		return nil, err
	}
	return b.codec.DecodeOrder(respBody)
}

// Get fetches the broker's current view of an order.
func (b *Broker) Get(ctx context.Context, brokerOrderID string) (*ports.BrokerOrder, error) {
	respBody, err := b.doJSON(ctx, http.MethodGet, "/orders/"+brokerOrderID, nil, b.cancelTimeout)
	if err != nil {
		return nil, err
	}
	return b.codec.DecodeOrder(respBody)
}

// StreamUpdates dials the broker's websocket feed and decodes frames into
// ports.Event, reconnecting with exponential backoff on an unexpected
// disconnect until ctx is canceled.
func (b *Broker) StreamUpdates(ctx context.Context) (<-chan ports.Event, error) {
	conn, err := b.dialStream(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan ports.Event, 256)
	go b.pump(ctx, conn, out)
	return out, nil
}

func (b *Broker) dialStream(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, b.wsURL, nil)
	if err != nil {
		return nil, &ports.BrokerError{Class: ports.ClassTransient, Message: "dial stream", Cause: err}
	}
	return conn, nil
}

// pump reads frames off conn until it closes, then reconnects with backoff;
// it gives up only when ctx is done, matching the teacher's reconnectLoop.
func (b *Broker) pump(ctx context.Context, conn *websocket.Conn, out chan<- ports.Event) {
	defer close(out)

	for {
		b.readLoop(ctx, conn, out)
		conn.Close(websocket.StatusNormalClosure, "reconnecting")

		if ctx.Err() != nil {
			return
		}

		var reconnected *websocket.Conn
		attempt := 0
		for reconnected == nil {
			attempt++
			delay := backoffDelay(attempt)
			b.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("broker stream disconnected, reconnecting")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			c, err := b.dialStream(ctx)
			if err != nil {
				if attempt >= maxReconnectAttempts {
					b.log.Error().Err(err).Msg("giving up reconnecting to broker stream for now, will keep retrying")
				}
				continue
			}
			reconnected = c
		}
		conn = reconnected
	}
}

func (b *Broker) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- ports.Event) {
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				b.log.Warn().Err(err).Msg("broker stream read failed")
			}
			return
		}
		ev, err := b.codec.DecodeEvent(frame)
		if err != nil {
			b.log.Error().Err(err).Msg("failed to decode broker event frame")
			continue
		}
		select {
		case out <- *ev:
		case <-ctx.Done():
			return
		}
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
