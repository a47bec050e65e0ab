// Package orchestrator drives one order through claim, fund check, swap, fee collection
// and accounting. Open buys, Close sells and Process resumes an order parked in
// PROCESSING with a checkpoint.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/chains"
	"spotengine/apps/spotengine/internal/metrics"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/oracle"
	"spotengine/apps/spotengine/internal/repository"
	"spotengine/apps/spotengine/internal/units"
	"spotengine/apps/spotengine/internal/walletguard"
)

// Paths label metrics and logs.
const (
	PathOpen    = "open"
	PathClose   = "close"
	PathProcess = "process"
	PathExpire  = "expire"
)

const priorityOrder = 2

// Adapters resolves the chain adapter for a chain id. *chain.Registry implements it.
type Adapters interface {
	For(chainID uint64) (chain.Adapter, error)
}

// Guards hands out the per-address reservation ledger. *walletguard.Registry implements it.
type Guards interface {
	Wallet(address string) *walletguard.Wallet
	MarkStale(address string) bool
}

// Signers turns stored key material into a signing handle. *keyring.Keyring implements it.
type Signers interface {
	Signer(w model.Wallet) (chain.Signer, error)
}

// Prices serves cached USD prices. *oracle.PriceCache implements it.
type Prices interface {
	Price(chainID uint64, address string) (*big.Int, bool)
}

type Config struct {
	TradeFeeBps        uint64
	PriorityFeeBps     uint64
	FeeExemptStatuses  []string
	EVMFeeCollector    string
	SolanaFeeCollector string
}

type Deps struct {
	Orders     repository.OrderStore
	Activities repository.ActivityStore
	Accounts   repository.AccountStore
	Adapters   Adapters
	Guards     Guards
	Signers    Signers
	Prices     Prices
	// Oracle is asked for prices a withdrawal could not take from its caller.
	Oracle oracle.PriceSource
	Chains *chains.Registry
}

type Orchestrator struct {
	orders     repository.OrderStore
	activities repository.ActivityStore
	accounts   repository.AccountStore
	adapters   Adapters
	guards     Guards
	signers    Signers
	prices     Prices
	oracle     oracle.PriceSource
	chains     *chains.Registry
	cfg        Config
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func New(deps Deps, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		orders:     deps.Orders,
		activities: deps.Activities,
		accounts:   deps.Accounts,
		adapters:   deps.Adapters,
		guards:     deps.Guards,
		signers:    deps.Signers,
		prices:     deps.Prices,
		oracle:     deps.Oracle,
		chains:     deps.Chains,
		cfg:        cfg,
		metrics:    m,
		logger:     logger,
	}
}

// TradeFeeBps is the protocol fee for a user tier and order priority. Exempt tiers pay
// nothing, priority orders pay the surcharge on top.
func (o *Orchestrator) TradeFeeBps(userStatus string, priority int) uint64 {
	if slices.Contains(o.cfg.FeeExemptStatuses, userStatus) {
		return 0
	}
	fee := o.cfg.TradeFeeBps
	if priority == priorityOrder {
		fee += o.cfg.PriorityFeeBps
	}
	return fee
}

// Expire stops an order that used up its retry budget. Orders whose swap never reached
// the chain fail. An order parked after a broadcast swap keeps its status and checkpoint
// and is only deactivated so an operator can settle it.
func (o *Orchestrator) Expire(ctx context.Context, order *model.Order) error {
	if order.Retry < model.MaxRetry || order.IsBusy || !order.IsActive {
		return nil
	}
	u := model.OrderUpdate{
		Message:  model.Ptr(model.MsgRetryBudgetExhausted),
		IsActive: model.Ptr(false),
	}
	if order.Status != model.StatusProcessing || order.Checkpoint.Phase() == model.PhaseNotBroadcast {
		u.Status = model.Ptr(model.StatusFailed)
	}
	return o.update(ctx, PathExpire, order.ID, u)
}

func (o *Orchestrator) feeCollector(c *chains.Chain) string {
	if c.Family == chains.FamilySolana {
		return o.cfg.SolanaFeeCollector
	}
	return o.cfg.EVMFeeCollector
}

// claim runs claimFn and loads the owner and wallet of the claimed order. A claim miss
// returns a nil context and no error. Accounts that do not exist are left nil for the
// validation step to reject.
func (o *Orchestrator) claim(ctx context.Context, path, id string, restore model.OrderStatus, claimFn func() (*model.Order, error)) (*model.OrderContext, error) {
	order, err := claimFn()
	if errors.Is(err, repository.ErrNotClaimed) {
		o.metrics.ClaimMiss(path)
		o.logger.Debug("Order not claimed", zap.String("order_id", id), zap.String("path", path))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim order %s: %w", id, err)
	}

	oc := &model.OrderContext{Order: order}
	oc.User, err = o.accounts.User(ctx, order.UserID)
	if err == nil || errors.Is(err, repository.ErrNotFound) {
		oc.Wallet, err = o.accounts.Wallet(ctx, order.WalletID)
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		o.logger.Error("Failed to load order accounts", zap.String("order_id", id), zap.Error(err))
		_ = o.update(ctx, path, id, model.OrderUpdate{
			Status:  model.Ptr(restore),
			Message: model.Ptr(model.MsgUnexpectedError),
			IsBusy:  model.Ptr(false),
		})
		return nil, fmt.Errorf("failed to load accounts of order %s: %w", id, err)
	}
	return oc, nil
}

// update writes u and records the reason it carries.
func (o *Orchestrator) update(ctx context.Context, path, id string, u model.OrderUpdate) error {
	if err := o.orders.Update(ctx, id, u); err != nil {
		o.logger.Error("Failed to update order", zap.String("order_id", id), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("failed to update order %s: %w", id, err)
	}
	if u.Message != nil {
		o.metrics.OrderOutcome(path, *u.Message)
		fields := []zap.Field{zap.String("order_id", id), zap.String("path", path), zap.String("reason", *u.Message)}
		if u.Status != nil {
			fields = append(fields, zap.String("status", string(*u.Status)))
		}
		o.logger.Info("Order updated", fields...)
	}
	return nil
}

// release hands a claimed order back in status with reason and nothing else changed.
func (o *Orchestrator) release(ctx context.Context, path, id string, status model.OrderStatus, reason string) error {
	return o.update(ctx, path, id, model.OrderUpdate{
		Status:  model.Ptr(status),
		Message: model.Ptr(reason),
		IsBusy:  model.Ptr(false),
	})
}

// park leaves the order in PROCESSING with its checkpoint so Process can pick it up.
func (o *Orchestrator) park(ctx context.Context, path, id, reason string, cp *model.Checkpoint) error {
	return o.update(ctx, path, id, model.OrderUpdate{
		Status:     model.Ptr(model.StatusProcessing),
		Message:    model.Ptr(reason),
		IsBusy:     model.Ptr(false),
		IsActive:   model.Ptr(true),
		Checkpoint: cp.Clone(),
	})
}

// checkpoint persists cp and nothing else. Every step with a side effect on chain or in
// the activity log is followed by one, so a resumed order never repeats it.
func (o *Orchestrator) checkpoint(ctx context.Context, id string, cp *model.Checkpoint) error {
	if err := o.orders.Update(ctx, id, model.OrderUpdate{Checkpoint: cp.Clone()}); err != nil {
		return fmt.Errorf("failed to persist checkpoint: %w", err)
	}
	return nil
}

// finish parks the order when run returned an error.
func (o *Orchestrator) finish(ctx context.Context, path, id string, cp *model.Checkpoint, err error) error {
	if err == nil {
		return nil
	}
	o.logger.Error("Order execution failed", zap.String("order_id", id), zap.String("path", path), zap.Error(err))
	if perr := o.park(ctx, path, id, model.MsgUnexpectedError, cp); perr != nil {
		return errors.Join(err, perr)
	}
	return err
}

// recoverPanic must be deferred directly. A panic after the claim parks the order the
// same way an unexpected error does.
func (o *Orchestrator) recoverPanic(ctx context.Context, path, id string, cp *model.Checkpoint) {
	r := recover()
	if r == nil {
		return
	}
	o.logger.Error("Recovered panic during order execution",
		zap.String("order_id", id),
		zap.String("path", path),
		zap.Any("panic", r),
		zap.Stack("stack"))
	_ = o.park(ctx, path, id, model.MsgUnexpectedError, cp)
}

// checkFunds verifies the wallet covers amount of token plus networkFee of native. The
// two checks run concurrently when the token is not native. It returns the spends to
// reserve.
func (o *Orchestrator) checkFunds(ctx context.Context, w *walletguard.Wallet, chainID uint64, token string, amount, networkFee *big.Int) ([]walletguard.Spend, error) {
	if chains.IsNative(token) {
		total := new(big.Int).Add(amount, networkFee)
		if err := w.CheckSufficientFunds(ctx, chainID, chains.NativeAddress, total); err != nil {
			return nil, err
		}
		return []walletguard.Spend{{ChainID: chainID, Token: chains.NativeAddress, Amount: total}}, nil
	}

	p := pool.New().WithErrors().WithContext(ctx)
	p.Go(func(ctx context.Context) error {
		return w.CheckSufficientFunds(ctx, chainID, chains.NativeAddress, networkFee)
	})
	p.Go(func(ctx context.Context) error {
		return w.CheckSufficientFunds(ctx, chainID, token, amount)
	})
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return []walletguard.Spend{
		{ChainID: chainID, Token: chains.NativeAddress, Amount: units.Clone(networkFee)},
		{ChainID: chainID, Token: token, Amount: units.Clone(amount)},
	}, nil
}

// swap reserves spends for the duration of the swap. The reservation is released on
// every return, panics included.
func (o *Orchestrator) swap(ctx context.Context, adapter chain.Adapter, w *walletguard.Wallet, spends []walletguard.Spend, req chain.SwapRequest) (chain.SwapResult, error) {
	res, err := w.Reserve(spends...)
	if err != nil {
		return chain.SwapResult{}, err
	}
	defer res.Release()

	result := adapter.Swap(ctx, req)
	o.guards.MarkStale(w.Address())
	return result, nil
}

// price returns the cached USD price or zero.
func (o *Orchestrator) price(chainID uint64, address string) *big.Int {
	if o.prices == nil {
		return new(big.Int)
	}
	p, ok := o.prices.Price(chainID, address)
	if !ok {
		return new(big.Int)
	}
	return p
}

// tokenPrice is the snapshot price, or zero when the snapshot carries none.
func tokenPrice(snap model.TokenSnapshot) *big.Int {
	if snap.PriceUSD == "" {
		return new(big.Int)
	}
	p, err := units.ParseUnits(snap.PriceUSD, units.PrecisionDecimals)
	if err != nil || p.Sign() < 0 {
		return new(big.Int)
	}
	return p
}

func isNativeToken(t model.Token) bool {
	return t.IsNative || chains.IsNative(t.Address)
}

func validAccounts(oc *model.OrderContext) bool {
	return oc.Wallet != nil && oc.Wallet.Address != "" && oc.Wallet.EncryptedKey != "" && oc.Wallet.Network != "" &&
		oc.User != nil && oc.User.Status != ""
}
