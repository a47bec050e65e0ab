package repository

import (
	"context"
	"database/sql"
	"math/big"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/events"
	"spotengine/apps/spotengine/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres tests need docker")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("spotengine"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, InitMigration(db))
	return db
}

type fixture struct {
	orders     *OrderRepository
	activities *ActivityRepository
	accounts   *AccountRepository
	outbox     *OutboxRepository
	user       *model.User
	wallet     *model.Wallet
}

func newFixture(t *testing.T) *fixture {
	db := setupTestDB(t)
	logger := zap.NewNop()
	f := &fixture{
		orders:     NewOrderRepository(db, logger),
		activities: NewActivityRepository(db, logger),
		accounts:   NewAccountRepository(db, logger),
		outbox:     NewOutboxRepository(db, logger),
		user:       &model.User{Account: "acct", Status: "active"},
	}
	ctx := context.Background()
	require.NoError(t, f.accounts.CreateUser(ctx, f.user))
	f.wallet = &model.Wallet{UserID: f.user.ID, Address: "0xabc", EncryptedKey: "ENC[v1]:x", Network: model.NetworkEVM}
	require.NoError(t, f.accounts.CreateWallet(ctx, f.wallet))
	return f
}

func (f *fixture) pendingBuy(t *testing.T) *model.Order {
	o := &model.Order{
		UserID:      f.user.ID,
		WalletID:    f.wallet.ID,
		Name:        "dca-1",
		Category:    model.CategorySpot,
		Strategy:    "dca",
		ChainID:     43114,
		SlippageBps: 100,
		Asset: model.OrderAsset{
			CollateralToken: model.Token{Address: "0x0000000000000000000000000000000000000000", Symbol: "AVAX", Decimals: 18},
			OrderToken:      model.Token{Address: "0x00000000000000000000000000000000000000aa", Symbol: "TKN", Decimals: 6},
		},
		OrderSize: big.NewInt(1_000_000),
		Exit:      model.Exit{TakeProfit: model.TakeProfit{PercentageBps: 1000}},
		Status:    model.StatusPending,
		Type:      model.TypeBuy,
		IsActive:  true,
	}
	require.NoError(t, f.orders.Create(context.Background(), o))
	return o
}

func TestPostgresClaimIsExclusive(t *testing.T) {
	f := newFixture(t)
	o := f.pendingBuy(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.Claim(ctx, o.ID, []model.OrderStatus{model.StatusPending})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	claimed := 0
	for err := range results {
		if err == nil {
			claimed++
			continue
		}
		assert.ErrorIs(t, err, ErrNotClaimed)
	}
	assert.Equal(t, 1, claimed)

	got, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBusy)
	assert.Equal(t, model.StatusProcessing, got.Status)
	assert.Equal(t, model.MsgProcessingOrder, got.Message)
	assert.Equal(t, 1, got.Retry)
}

func TestPostgresUpdateWritesPartialFieldsAndCheckpoint(t *testing.T) {
	f := newFixture(t)
	o := f.pendingBuy(t)
	ctx := context.Background()

	_, err := f.orders.Claim(ctx, o.ID, []model.OrderStatus{model.StatusPending})
	require.NoError(t, err)

	cp := &model.Checkpoint{ProcessType: model.TypeBuy, Tx: model.TxState{Signature: "0xswap", AmountOut: big.NewInt(42)}}
	require.NoError(t, f.orders.Update(ctx, o.ID, model.OrderUpdate{
		Message:    model.Ptr(model.MsgPriceNotFetched),
		IsBusy:     model.Ptr(false),
		Checkpoint: cp,
	}))

	got, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
	assert.False(t, got.IsBusy)
	require.NotNil(t, got.Checkpoint)
	assert.Equal(t, "0xswap", got.Checkpoint.Tx.Signature)
	assert.Equal(t, int64(42), got.Checkpoint.Tx.AmountOut.Int64())
	assert.Equal(t, int64(1_000_000), got.OrderSize.Int64())

	resumed, err := f.orders.ClaimForResume(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, resumed.Retry)
	_, err = f.orders.ClaimForResume(ctx, o.ID)
	assert.ErrorIs(t, err, ErrNotClaimed)

	require.NoError(t, f.orders.Update(ctx, o.ID, model.OrderUpdate{
		Status:          model.Ptr(model.StatusOpened),
		IsBusy:          model.Ptr(false),
		ClearCheckpoint: true,
	}))
	got, err = f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Checkpoint)
}

func TestPostgresActivityEnqueuesEventAndBackfills(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := &model.Activity{
		WalletID: f.wallet.ID,
		UserID:   f.user.ID,
		Type:     model.ActivityTradeFee,
		Status:   model.ActivitySuccess,
		ChainID:  43114,
		TxHash:   "0xfee",
		PayToken: &model.TokenAmount{Token: model.Token{Address: "0xaa", Decimals: 6}, Amount: big.NewInt(10)},
		TxFee:    model.TxFee{Amount: big.NewInt(3)},
	}
	id, err := f.activities.Create(ctx, a)
	require.NoError(t, err)

	require.NoError(t, f.activities.BackfillUSD(ctx, id, model.ActivityValuation{PayInUSD: big.NewInt(99), FeeInUSD: big.NewInt(7)}))
	got, err := f.activities.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.PayToken.AmountInUSD.Int64())
	assert.Equal(t, int64(7), got.TxFee.FeeInUSD.Int64())
	assert.Empty(t, got.OrderID)

	claimed, err := f.outbox.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, events.TypeActivity, claimed[0].EventType)
	assert.Equal(t, "0xabc", claimed[0].WalletAddress)

	again, err := f.outbox.ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, f.outbox.MarkFailed(ctx, claimed[0].ID))
	again, err = f.outbox.ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestPostgresAccumulationSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	current := f.pendingBuy(t)
	sibling := f.pendingBuy(t)
	other := f.pendingBuy(t)
	require.NoError(t, f.orders.Update(ctx, sibling.ID, model.OrderUpdate{
		Status: model.Ptr(model.StatusOpened),
		Type:   model.Ptr(model.TypeSell),
	}))
	require.NoError(t, f.orders.Update(ctx, other.ID, model.OrderUpdate{
		Status: model.Ptr(model.StatusOpened),
		Type:   model.Ptr(model.TypeSell),
		IsBusy: model.Ptr(true),
	}))

	siblings, err := f.orders.FindAccumulationSiblings(ctx, current)
	require.NoError(t, err)
	require.Len(t, siblings, 1)
	assert.Equal(t, sibling.ID, siblings[0].ID)

	active, err := f.orders.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}
