package main

import (
	"context"
	"database/sql"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"spotengine/apps/spotengine/internal/api"
	"spotengine/apps/spotengine/internal/balance_sync"
	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/chain/evm"
	"spotengine/apps/spotengine/internal/chain/solana"
	"spotengine/apps/spotengine/internal/chains"
	"spotengine/apps/spotengine/internal/condition"
	"spotengine/apps/spotengine/internal/config"
	"spotengine/apps/spotengine/internal/event_publisher"
	"spotengine/apps/spotengine/internal/keyring"
	"spotengine/apps/spotengine/internal/listener"
	"spotengine/apps/spotengine/internal/metrics"
	"spotengine/apps/spotengine/internal/oracle"
	"spotengine/apps/spotengine/internal/orchestrator"
	"spotengine/apps/spotengine/internal/repository"
	"spotengine/apps/spotengine/internal/repository/memory"
	"spotengine/apps/spotengine/internal/route"
	"spotengine/apps/spotengine/internal/walletguard"
)

type stores struct {
	orders     repository.OrderStore
	activities repository.ActivityStore
	accounts   repository.AccountStore
	outbox     repository.OutboxStore
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg := config.NewConfig()

	logger.Info("Starting spot engine with configuration",
		zap.String("store", cfg.Store),
		zap.Int("evm_chains", len(cfg.EVMRpcURLs)),
		zap.Bool("solana", cfg.SolanaRpcURL != ""),
		zap.Bool("kafka", cfg.KafkaEnabled()),
		zap.String("kafka_topic", cfg.KafkaTopic),
		zap.Int("api_port", cfg.APIPort),
		zap.Duration("listen_interval", cfg.ListenInterval),
		zap.Int("order_concurrency", cfg.OrderConcurrency),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st := openStores(cfg, logger)
	registry := chains.NewRegistry()
	httpClient := &http.Client{Timeout: 30 * time.Second}

	routes := route.NewAggregator(
		route.NewLFJClient(cfg.RouterAPIURL, httpClient, rate.NewLimiter(rate.Limit(cfg.RouterRPS), 1), registry),
		registry, cfg.AggregatorTimeout, m, logger)

	adapters := chain.NewRegistry()
	if len(cfg.EVMRpcURLs) > 0 {
		clients := make(map[uint64]evm.Client, len(cfg.EVMRpcURLs))
		for chainID, url := range cfg.EVMRpcURLs {
			if _, ok := registry.Get(chainID); !ok {
				logger.Fatal("RPC configured for unknown chain", zap.Uint64("chain_id", chainID))
			}
			client, err := ethclient.DialContext(ctx, url)
			if err != nil {
				logger.Fatal("Failed to connect to EVM client", zap.Uint64("chain_id", chainID), zap.Error(err))
			}
			defer client.Close()
			clients[chainID] = client
		}
		evmAdapter, err := evm.NewAdapter(clients, routes, registry, evm.NewNonceTracker(300, 48*time.Hour), evm.DefaultConfig(), m, logger)
		if err != nil {
			logger.Fatal("Failed to create EVM adapter", zap.Error(err))
		}
		for chainID := range clients {
			adapters.Register(chainID, evmAdapter)
		}
	}
	if cfg.SolanaRpcURL != "" {
		rpc := solana.NewHTTPClient(cfg.SolanaRpcURL, solana.WithHTTPClient(httpClient))
		adapters.Register(chains.Solana, solana.NewAdapter(rpc, routes, registry, solana.DefaultConfig(), m, logger))
	}

	keys, err := keyring.New(cfg.MasterKey)
	if err != nil {
		logger.Fatal("Failed to create keyring", zap.Error(err))
	}

	oracleClient := oracle.NewClient(cfg.OracleAPIURL, cfg.OracleAPIKey, httpClient, rate.NewLimiter(rate.Limit(cfg.OracleRPS), 1), logger)
	prices := oracle.NewPriceCache(oracleClient, registry, cfg.PriceRefreshInterval, logger)
	guards := walletguard.NewRegistry(adapters, cfg.WalletGuardTTL, m, logger)

	orch := orchestrator.New(orchestrator.Deps{
		Orders:     st.orders,
		Activities: st.activities,
		Accounts:   st.accounts,
		Adapters:   adapters,
		Guards:     guards,
		Signers:    keys,
		Prices:     prices,
		Oracle:     oracleClient,
		Chains:     registry,
	}, orchestrator.Config{
		TradeFeeBps:        cfg.TradeFeeBps,
		PriorityFeeBps:     cfg.PriorityFeeBps,
		FeeExemptStatuses:  cfg.FeeExemptStatuses,
		EVMFeeCollector:    cfg.EVMFeeCollector,
		SolanaFeeCollector: cfg.SolanaFeeCollector,
	}, m, logger)

	orderListener := listener.NewListener(st.orders, oracleClient,
		condition.NewEvaluator(condition.Standard{}, logger), orch,
		listener.Config{Interval: cfg.ListenInterval, Concurrency: cfg.OrderConcurrency}, m, logger)

	apiServer := api.NewServer(cfg.APIPort,
		api.NewOrderHandler(context.WithoutCancel(ctx), st.orders, orch, oracleClient, logger),
		api.NewWalletHandler(guards, logger),
		m.Handler(), logger)

	var wg conc.WaitGroup
	wg.Go(func() { prices.Start(ctx) })
	wg.Go(func() {
		if err := orderListener.Start(ctx); err != nil {
			logger.Error("Order listener failed", zap.Error(err))
		}
	})
	wg.Go(func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	})

	if cfg.KafkaEnabled() {
		eventPublisher, err := event_publisher.NewEventPublisher(cfg.KafkaBroker, cfg.KafkaTopic, logger, st.outbox)
		if err != nil {
			logger.Fatal("Failed to create event publisher", zap.Error(err))
		}
		defer eventPublisher.Close()
		wg.Go(func() { eventPublisher.StartPublishing(ctx) })

		balanceSync, err := balance_sync.NewBalanceSync(cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaGroupID, logger, guards)
		if err != nil {
			logger.Fatal("Failed to create balance sync", zap.Error(err))
		}
		defer balanceSync.Close()
		wg.Go(func() {
			if err := balanceSync.Start(ctx); err != nil {
				logger.Error("Balance sync failed", zap.Error(err))
			}
		})
	}

	<-ctx.Done()
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", zap.Error(err))
	}
	wg.Wait()

	logger.Info("Application shutdown complete")
}

func openStores(cfg *config.Config, logger *zap.Logger) stores {
	if cfg.Store == config.StoreMemory {
		logger.Warn("Using in-memory store; orders do not survive a restart")
		s := memory.New()
		return stores{orders: s.Orders(), activities: s.Activities(), accounts: s.Accounts(), outbox: s.Outbox()}
	}

	db, err := sql.Open("postgres", cfg.DbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := repository.InitMigration(db); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	return stores{
		orders:     repository.NewOrderRepository(db, logger),
		activities: repository.NewActivityRepository(db, logger),
		accounts:   repository.NewAccountRepository(db, logger),
		outbox:     repository.NewOutboxRepository(db, logger),
	}
}
