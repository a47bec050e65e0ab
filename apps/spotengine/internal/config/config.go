package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Store        string
	DbURL        string
	KafkaBroker  string
	KafkaTopic   string
	KafkaGroupID string
	APIPort      int

	EVMRpcURLs   map[uint64]string
	SolanaRpcURL string
	RouterAPIURL string
	RouterRPS    float64
	OracleAPIURL string
	OracleAPIKey string
	OracleRPS    float64

	MasterKey []byte

	EVMFeeCollector    string
	SolanaFeeCollector string
	TradeFeeBps        uint64
	PriorityFeeBps     uint64
	FeeExemptStatuses  []string

	ListenInterval       time.Duration
	OrderConcurrency     int
	AggregatorTimeout    time.Duration
	WalletGuardTTL       time.Duration
	PriceRefreshInterval time.Duration
}

// NewConfig loads configuration from environment variables
func NewConfig() *Config {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

// FromEnv reads and validates the configuration from the process environment.
func FromEnv() (*Config, error) {
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := &Config{
		Store:        getEnv("STORE", StorePostgres),
		KafkaBroker:  os.Getenv("KAFKA_BROKER"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "spot-engine-events"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "spot-engine-balance-sync"),
		APIPort:      getEnvInt("API_PORT", 8080),

		SolanaRpcURL: os.Getenv("SOLANA_RPC_URL"),
		RouterAPIURL: os.Getenv("ROUTER_API_URL"),
		RouterRPS:    getEnvFloat("ROUTER_RPS", 5),
		OracleAPIURL: getEnv("ORACLE_API_URL", "https://graph.codex.io/graphql"),
		OracleAPIKey: required("ORACLE_API_KEY"),
		OracleRPS:    getEnvFloat("ORACLE_RPS", 5),

		EVMFeeCollector:    os.Getenv("EVM_FEE_COLLECTOR"),
		SolanaFeeCollector: os.Getenv("SOLANA_FEE_COLLECTOR"),
		TradeFeeBps:        getEnvUint64("TRADE_FEE_BPS", 10),
		PriorityFeeBps:     getEnvUint64("PRIORITY_FEE_BPS", 10),
		FeeExemptStatuses:  getEnvList("FEE_EXEMPT_STATUSES", []string{"admin"}),

		ListenInterval:       getEnvDuration("LISTEN_INTERVAL", 30*time.Second),
		OrderConcurrency:     getEnvInt("ORDER_CONCURRENCY", 8),
		AggregatorTimeout:    getEnvDuration("AGGREGATOR_TIMEOUT", 10*time.Second),
		WalletGuardTTL:       getEnvDuration("WALLET_GUARD_TTL", 24*time.Hour),
		PriceRefreshInterval: getEnvDuration("PRICE_REFRESH_INTERVAL", 5*time.Minute),
	}

	switch cfg.Store {
	case StorePostgres:
		cfg.DbURL = required("DB_URL")
	case StoreMemory:
		cfg.DbURL = os.Getenv("DB_URL")
	default:
		return nil, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}

	masterKey := required("WALLET_MASTER_KEY")
	if len(missing) > 0 {
		return nil, fmt.Errorf("environment variables not set: %s", strings.Join(missing, ", "))
	}

	key, err := hex.DecodeString(strings.TrimPrefix(masterKey, "0x"))
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("WALLET_MASTER_KEY must be 32 bytes of hex")
	}
	cfg.MasterKey = key

	urls, err := getEnvChainURLs("EVM_RPC_URLS")
	if err != nil {
		return nil, err
	}
	cfg.EVMRpcURLs = urls
	if len(cfg.EVMRpcURLs) == 0 && cfg.SolanaRpcURL == "" {
		return nil, fmt.Errorf("at least one of EVM_RPC_URLS or SOLANA_RPC_URL must be set")
	}
	if cfg.TradeFeeBps > 10000 || cfg.PriorityFeeBps > 10000 {
		return nil, fmt.Errorf("fee bps must not exceed 10000")
	}
	return cfg, nil
}

// KafkaEnabled reports whether events are published and consumed.
func (c *Config) KafkaEnabled() bool {
	return c.KafkaBroker != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvChainURLs parses "chainId=url,chainId=url".
func getEnvChainURLs(key string) (map[uint64]string, error) {
	out := make(map[uint64]string)
	value := os.Getenv(key)
	if value == "" {
		return out, nil
	}
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, url, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%s: expected chainId=url, got %q", key, pair)
		}
		chainID, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid chain id %q: %w", key, id, err)
		}
		out[chainID] = strings.TrimSpace(url)
	}
	return out, nil
}
