package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/trust-engine/internal/apperr"
	"github.com/aristath/trust-engine/internal/domain"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/money"
	"github.com/aristath/trust-engine/internal/statemachine"
)

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeError writes an error response, mapping the core's apperr.Kind
// taxonomy (spec §7) onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := apperr.KindOf(err); ok {
		switch kind {
		case apperr.Validation, apperr.IllegalTransition:
			status = http.StatusBadRequest
		case apperr.RiskViolation, apperr.InsufficientFunds:
			status = http.StatusUnprocessableEntity
		case apperr.Concurrency:
			status = http.StatusConflict
		case apperr.Indeterminate:
			status = http.StatusAccepted
		case apperr.BrokerTransient, apperr.BrokerPermanent:
			status = http.StatusBadGateway
		case apperr.Internal:
			status = http.StatusInternalServerError
		}
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "healthy",
		"service": "trust-engine",
	}
	if s.sched != nil {
		jobs := s.sched.Statuses()
		status := "healthy"
		for _, j := range jobs {
			if !j.OK {
				status = "degraded"
				break
			}
		}
		body["status"] = status
		body["jobs"] = jobs
	}
	s.writeJSON(w, http.StatusOK, body)
}

type createAccountRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Environment  string `json:"environment"`
	TaxRate      string `json:"tax_rate"`
	EarningsRate string `json:"earnings_rate"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.New(apperr.Validation, "invalid request body: %v", err))
		return
	}

	acc, err := s.facade.CreateAccount(r.Context(), req.Name, req.Description, domain.Environment(req.Environment), req.TaxRate, req.EarningsRate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, acc)
}

type createRuleRequest struct {
	Kind     string `json:"kind"`
	Pct      string `json:"pct"`
	Priority int    `json:"priority"`
	Level    string `json:"level"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	accountID := id.ID(chi.URLParam(r, "accountID"))
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.New(apperr.Validation, "invalid request body: %v", err))
		return
	}

	rule, err := s.facade.CreateRule(r.Context(), accountID, domain.RuleKind(req.Kind), req.Pct, req.Priority, domain.RuleLevel(req.Level))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rule)
}

type amountRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (req amountRequest) parse() (money.Amount, error) {
	return money.New(req.Amount, money.Currency(req.Currency))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleBalanceOp(w, r, s.facade.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleBalanceOp(w, r, s.facade.Withdraw)
}

func (s *Server) handleBalanceOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, accountID id.ID, amount money.Amount) (*domain.Balance, error)) {
	accountID := id.ID(chi.URLParam(r, "accountID"))
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.New(apperr.Validation, "invalid request body: %v", err))
		return
	}
	amount, err := req.parse()
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.Validation, err, "invalid amount"))
		return
	}

	bal, err := op(r.Context(), accountID, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, bal)
}

func (s *Server) handleAccountOverview(w http.ResponseWriter, r *http.Request) {
	accountID := id.ID(chi.URLParam(r, "accountID"))
	currency := money.Currency(r.URL.Query().Get("currency"))
	if currency == "" {
		currency = money.USD
	}

	overview, err := s.facade.AccountOverview(r.Context(), accountID, currency)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	accountID := id.ID(chi.URLParam(r, "accountID"))

	trades, err := s.facade.ListTrades(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	var v domain.TradingVehicle
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		s.writeError(w, apperr.New(apperr.Validation, "invalid request body: %v", err))
		return
	}

	if err := s.facade.CreateTradingVehicle(r.Context(), &v); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, v)
}

type createTradeRequest struct {
	AccountID     string `json:"account_id"`
	VehicleSymbol string `json:"vehicle_symbol"`
	VehicleBroker string `json:"vehicle_broker"`
	Category      string `json:"category"`
	Currency      string `json:"currency"`
	EntryPrice    string `json:"entry_price"`
	TargetPrice   string `json:"target_price"`
	StopPrice     string `json:"stop_price"`
	Quantity      int64  `json:"quantity"`
	TimeInForce   string `json:"time_in_force"`
}

func (s *Server) handleCreateTrade(w http.ResponseWriter, r *http.Request) {
	var req createTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.New(apperr.Validation, "invalid request body: %v", err))
		return
	}

	currency := money.Currency(req.Currency)
	entry, err := money.New(req.EntryPrice, currency)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.Validation, err, "invalid entry_price"))
		return
	}
	target, err := money.New(req.TargetPrice, currency)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.Validation, err, "invalid target_price"))
		return
	}
	stop, err := money.New(req.StopPrice, currency)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.Validation, err, "invalid stop_price"))
		return
	}

	draft := statemachine.CreateDraft{
		AccountID:     id.ID(req.AccountID),
		VehicleSymbol: req.VehicleSymbol,
		VehicleBroker: req.VehicleBroker,
		Category:      domain.TradeCategory(req.Category),
		Currency:      currency,
		EntryPrice:    entry,
		TargetPrice:   target,
		StopPrice:     stop,
		Quantity:      req.Quantity,
		TimeInForce:   domain.TimeInForce(req.TimeInForce),
	}

	trade, err := s.facade.CreateTrade(r.Context(), draft)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, trade)
}

func (s *Server) handleTradeDetail(w http.ResponseWriter, r *http.Request) {
	tradeID := id.ID(chi.URLParam(r, "tradeID"))

	detail, err := s.facade.TradeDetail(r.Context(), tradeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleFundTrade(w http.ResponseWriter, r *http.Request) {
	s.handleTradeOp(w, r, s.facade.FundTrade)
}

func (s *Server) handleSubmitTrade(w http.ResponseWriter, r *http.Request) {
	s.handleTradeOp(w, r, s.facade.SubmitTrade)
}

func (s *Server) handleCancelTrade(w http.ResponseWriter, r *http.Request) {
	s.handleTradeOp(w, r, s.facade.CancelTrade)
}

func (s *Server) handleCloseTrade(w http.ResponseWriter, r *http.Request) {
	s.handleTradeOp(w, r, s.facade.CloseTrade)
}

func (s *Server) handleTradeOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tradeID id.ID) (*domain.Trade, error)) {
	tradeID := id.ID(chi.URLParam(r, "tradeID"))

	trade, err := op(r.Context(), tradeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

type modifyPriceRequest struct {
	Price    string `json:"price"`
	Currency string `json:"currency"`
}

func (s *Server) handleModifyStop(w http.ResponseWriter, r *http.Request) {
	s.handleModifyOp(w, r, s.facade.ModifyStop)
}

func (s *Server) handleModifyTarget(w http.ResponseWriter, r *http.Request) {
	s.handleModifyOp(w, r, s.facade.ModifyTarget)
}

func (s *Server) handleModifyOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tradeID id.ID, newPrice money.Amount) (*domain.Trade, error)) {
	tradeID := id.ID(chi.URLParam(r, "tradeID"))
	var req modifyPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.New(apperr.Validation, "invalid request body: %v", err))
		return
	}
	price, err := money.New(req.Price, money.Currency(req.Currency))
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.Validation, err, "invalid price"))
		return
	}

	trade, err := op(r.Context(), tradeID, price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handleSyncTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := id.ID(chi.URLParam(r, "tradeID"))

	if err := s.facade.SyncTrade(r.Context(), tradeID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}
