package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/oracle"
	"spotengine/apps/spotengine/internal/repository"
)

const (
	actionOpen    = "open"
	actionClose   = "close"
	actionProcess = "process"
)

// Executor runs one order. *orchestrator.Orchestrator implements it.
type Executor interface {
	Open(ctx context.Context, orderID string, snap model.TokenSnapshot) error
	Close(ctx context.Context, orderID string, snap model.TokenSnapshot) error
	Process(ctx context.Context, orderID string, snap model.TokenSnapshot) error
}

// TokenFilter fetches market snapshots. *oracle.Client implements it.
type TokenFilter interface {
	FilterTokens(ctx context.Context, tokenKeys []string) ([]oracle.FilteredToken, error)
}

// OrderHandler serves order lookups and manual execution triggers.
type OrderHandler struct {
	orders   repository.OrderStore
	executor Executor
	market   TokenFilter
	// run starts a triggered execution. Handlers return before it finishes.
	run    func(func())
	ctx    context.Context
	logger *zap.Logger
}

func NewOrderHandler(ctx context.Context, orders repository.OrderStore, executor Executor, market TokenFilter, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		executor: executor,
		market:   market,
		run:      func(f func()) { go f() },
		ctx:      ctx,
		logger:   logger,
	}
}

// GetOrder handles GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	order, err := h.orders.Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, h.logger, http.StatusNotFound, "order_not_found", "Order not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get order", zap.String("order_id", id), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to retrieve order")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, newOrderResponse(order))
}

// Execute handles POST /api/orders/{id}/{action}. The claim inside the executor makes a
// duplicate trigger harmless, so the handler only checks the order exists.
func (h *OrderHandler) Execute(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, action := vars["id"], vars["action"]

	var exec func(context.Context, string, model.TokenSnapshot) error
	switch action {
	case actionOpen:
		exec = h.executor.Open
	case actionClose:
		exec = h.executor.Close
	case actionProcess:
		exec = h.executor.Process
	default:
		writeError(w, h.logger, http.StatusNotFound, "unknown_action", "Action must be open, close or process")
		return
	}

	order, err := h.orders.Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, h.logger, http.StatusNotFound, "order_not_found", "Order not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get order", zap.String("order_id", id), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to retrieve order")
		return
	}

	snap, err := h.snapshot(r.Context(), order)
	if err != nil {
		h.logger.Error("Failed to fetch market data", zap.String("order_id", id), zap.Error(err))
		writeError(w, h.logger, http.StatusBadGateway, "market_data_unavailable", "Failed to fetch token market data")
		return
	}

	h.run(func() {
		if err := exec(h.ctx, id, snap); err != nil {
			h.logger.Error("Triggered execution failed", zap.String("order_id", id), zap.String("action", action), zap.Error(err))
		}
	})

	h.logger.Info("Order execution triggered", zap.String("order_id", id), zap.String("action", action))
	writeJSON(w, h.logger, http.StatusAccepted, ExecuteResponse{OrderID: id, Action: action, Status: "accepted"})
}

// snapshot fetches the current market view of the order's token. A token the oracle does
// not list yields a snapshot without a price.
func (h *OrderHandler) snapshot(ctx context.Context, o *model.Order) (model.TokenSnapshot, error) {
	snap := model.TokenSnapshot{Address: o.Asset.OrderToken.Address, ChainID: o.ChainID}
	if h.market == nil || snap.Address == "" {
		return snap, nil
	}
	key := oracle.TokenKey(snap.Address, snap.ChainID)
	tokens, err := h.market.FilterTokens(ctx, []string{key})
	if err != nil {
		return snap, err
	}
	for _, t := range tokens {
		if strings.EqualFold(t.Token.Address, snap.Address) && t.Token.NetworkID == snap.ChainID {
			return t.Snapshot(), nil
		}
	}
	h.logger.Warn("Token data not found", zap.String("token", key))
	return snap, nil
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, statusCode int, errorCode, message string) {
	writeJSON(w, logger, statusCode, ErrorResponse{Error: errorCode, Message: message})
}
