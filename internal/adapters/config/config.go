package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"vulture/pkg/errors"
)

type Config struct {
	App           AppConfig
	Chain         ChainConfig
	Liquidation   LiquidationConfig
	Scheduler     SchedulerConfig
	Risk          RiskConfig
	Redis         RedisConfig
	Telegram      TelegramConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
	Metrics       MetricsConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"vulture"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type ChainConfig struct {
	RPCURL      string `envconfig:"CHAIN_RPC_URL" required:"true"`
	WSURL       string `envconfig:"CHAIN_WS_URL"`
	Comptroller string `envconfig:"COMPTROLLER_ADDRESS" required:"true"`
	Wallet      string `envconfig:"WALLET_ADDRESS" required:"true"`
}

// WalletAddress returns the operator wallet as a checksummed address
func (c ChainConfig) WalletAddress() common.Address {
	return common.HexToAddress(c.Wallet)
}

type LiquidationConfig struct {
	// CloseFactor is the fraction of the largest debt position repaid per
	// liquidation. Compound caps this at 0.5.
	CloseFactor          float64 `envconfig:"LIQUIDATION_CLOSE_FACTOR" default:"0.5"`
	Incentive            float64 `envconfig:"LIQUIDATION_INCENTIVE" default:"1.08"`
	MinProfitUSD         float64 `envconfig:"LIQUIDATION_MIN_PROFIT_USD" default:"10"`
	GasHintUSD           float64 `envconfig:"LIQUIDATION_GAS_HINT_USD" default:"5"`
	MinPositionUSD       float64 `envconfig:"LIQUIDATION_MIN_POSITION_USD" default:"100"`
	SafetyThreshold      float64 `envconfig:"LIQUIDATION_SAFETY_THRESHOLD" default:"1.05"`
	HealthyStreak        int     `envconfig:"LIQUIDATION_HEALTHY_STREAK" default:"3"`
	EnableFlashLoan      bool    `envconfig:"LIQUIDATION_ENABLE_FLASH_LOAN" default:"false"`
	FlashLoanPool        string  `envconfig:"LIQUIDATION_FLASH_LOAN_POOL"`
	FlashLoanFeeBps      int64   `envconfig:"LIQUIDATION_FLASH_LOAN_FEE_BPS" default:"9"`
	GasLimitStandard     uint64  `envconfig:"LIQUIDATION_GAS_LIMIT_STANDARD" default:"850000"`
	GasLimitFlashLoan    uint64  `envconfig:"LIQUIDATION_GAS_LIMIT_FLASH_LOAN" default:"1600000"`
	NativeTokenPriceUSD  float64 `envconfig:"LIQUIDATION_NATIVE_TOKEN_PRICE_USD" default:"0"`
	FallbackGasPriceGwei int64   `envconfig:"LIQUIDATION_FALLBACK_GAS_PRICE_GWEI" default:"0"`
}

// FlashLoanConfigured reports whether a flash-loan execution path exists
func (c LiquidationConfig) FlashLoanConfigured() bool {
	return c.EnableFlashLoan && c.FlashLoanPool != ""
}

type SchedulerConfig struct {
	TickInterval    time.Duration `envconfig:"SCHEDULER_TICK_INTERVAL" default:"15s"`
	SuccessCooldown time.Duration `envconfig:"SCHEDULER_SUCCESS_COOLDOWN" default:"5m"`
	RetryBaseDelay  time.Duration `envconfig:"SCHEDULER_RETRY_BASE_DELAY" default:"1m"`
	RetryMaxDelay   time.Duration `envconfig:"SCHEDULER_RETRY_MAX_DELAY" default:"10m"`
	MaxRetries      int           `envconfig:"SCHEDULER_MAX_RETRIES" default:"5"`
}

type RiskConfig struct {
	DailyLossLimitUSD  float64       `envconfig:"RISK_DAILY_LOSS_LIMIT_USD" default:"500"`
	MaxPositionUSD     float64       `envconfig:"RISK_MAX_POSITION_USD" default:"250000"`
	BlacklistedOwners  []string      `envconfig:"RISK_BLACKLISTED_BORROWERS"`
	EmergencyStopTTL   time.Duration `envconfig:"RISK_EMERGENCY_STOP_TTL" default:"24h"`
	EmergencyStopLocal bool          `envconfig:"RISK_EMERGENCY_STOP_LOCAL" default:"false"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type TelegramConfig struct {
	Enabled  bool   `envconfig:"TELEGRAM_ENABLED" default:"false"`
	BotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	ChatID   int64  `envconfig:"TELEGRAM_CHAT_ID"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Addr    string `envconfig:"METRICS_ADDR" default:":9090"`
}

// WorkerConfig contains intervals for the monitoring feed workers
type WorkerConfig struct {
	PollerInterval   time.Duration `envconfig:"WORKER_POLLER_INTERVAL" default:"30s"`
	PollerRatePerSec float64       `envconfig:"WORKER_POLLER_RATE_PER_SEC" default:"5"`
	ScannerInterval  time.Duration `envconfig:"WORKER_SCANNER_INTERVAL" default:"10m"`
	ScannerPageSize  int           `envconfig:"WORKER_SCANNER_PAGE_SIZE" default:"500"`
	StatsInterval    time.Duration `envconfig:"WORKER_STATS_INTERVAL" default:"1m"`
	PriceCacheTTL    time.Duration `envconfig:"WORKER_PRICE_CACHE_TTL" default:"30s"`
}

// Load reads configuration from environment variables.
// It first tries to load a .env file (useful for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
