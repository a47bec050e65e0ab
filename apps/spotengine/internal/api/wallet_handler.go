package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/walletguard"
)

// GuardLookup finds a tracked wallet ledger. *walletguard.Registry implements it.
type GuardLookup interface {
	Lookup(address string) (*walletguard.Wallet, bool)
}

type WalletHandler struct {
	guards GuardLookup
	logger *zap.Logger
}

func NewWalletHandler(guards GuardLookup, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{guards: guards, logger: logger}
}

// GetGuard handles GET /api/wallets/{address}/guard
func (h *WalletHandler) GetGuard(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	wallet, ok := h.guards.Lookup(address)
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "wallet_not_tracked", "Wallet has no ledger in this instance")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, wallet.Snapshot())
}
