package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/archon-research/stl/auto-repay/internal/pkg/env"
)

// Config is the bot's runtime configuration. Every flag falls back to an
// environment variable.
type Config struct {
	RPCURL      string `validate:"required,url"`
	VaultAPIURL string `validate:"required,url"`
	VaultAPIKey string

	WalletKeypair string `validate:"required_unless=UseAWS true"`
	UseAWS        bool
	AWSSecretName string `validate:"required_if=UseAWS true"`
	AWSRegion     string `validate:"required"`

	JupiterQuoteURL string `validate:"required,url"`
	JupiterSwapURL  string `validate:"required,url"`
	PythURL         string `validate:"required,url"`
	CoinGeckoAPIKey string
	CoinGeckoURL    string `validate:"omitempty,url"`

	RedisAddr     string `validate:"omitempty,hostname_port"`
	RedisPassword string

	AlertTopicARN string
	SNSEndpoint   string `validate:"omitempty,url"`

	MetricsExporter string  `validate:"omitempty,oneof=otlp prometheus"`
	OTLPEndpoint    string  `validate:"required_if=MetricsExporter otlp"`
	TraceSampleRate float64 `validate:"gte=0,lte=1"`
	HealthAddr      string  `validate:"required"`
	Environment     string

	AssetsPath string

	PollInterval         time.Duration `validate:"gte=1s"`
	GoalHealth           float64       `validate:"gt=0,lt=100"`
	SlippageBps          int           `validate:"gte=0,lt=10000"`
	MinLoanValueUSD      float64       `validate:"gt=0"`
	MaxConcurrentRepairs int           `validate:"gte=1"`
	ComputeUnitPrice     uint64
	FlashLoanFeeBps      int `validate:"gte=0,lt=10000"`

	LogFile     string
	ShowVersion bool
}

// parseConfig reads flags from args with environment fallbacks and validates
// the result.
func parseConfig(args []string) (*Config, error) {
	var (
		cfg  Config
		errs []error
	)

	pollInterval, err := env.GetDuration("POLL_INTERVAL", 30*time.Second)
	errs = append(errs, err)
	goalHealth, err := env.GetFloat("GOAL_HEALTH", 15)
	errs = append(errs, err)
	slippage, err := env.GetInt("SLIPPAGE_BPS", 50)
	errs = append(errs, err)
	minLoan, err := env.GetFloat("MIN_LOAN_VALUE_USD", 1)
	errs = append(errs, err)
	maxRepairs, err := env.GetInt("MAX_CONCURRENT_REPAIRS", 4)
	errs = append(errs, err)
	cuPrice, err := env.GetInt("COMPUTE_UNIT_PRICE", 1_000_000)
	errs = append(errs, err)
	flashFee, err := env.GetInt("FLASH_LOAN_FEE_BPS", 0)
	errs = append(errs, err)
	sampleRate, err := env.GetFloat("TRACE_SAMPLE_RATE", 1)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cuPrice < 0 {
		return nil, fmt.Errorf("COMPUTE_UNIT_PRICE must not be negative, got %d", cuPrice)
	}

	fs := flag.NewFlagSet("auto-repay", flag.ContinueOnError)

	fs.StringVar(&cfg.RPCURL, "rpc-url", env.Get("RPC_URL", ""), "Solana JSON-RPC endpoint")
	fs.StringVar(&cfg.VaultAPIURL, "vault-api-url", env.Get("VAULT_API_URL", ""), "Vault account and instruction API")
	fs.StringVar(&cfg.VaultAPIKey, "vault-api-key", env.Get("VAULT_API_KEY", ""), "Vault API key")
	fs.StringVar(&cfg.WalletKeypair, "keypair", env.Get("WALLET_KEYPAIR", ""), "Bot keypair as a JSON byte array or base58")
	fs.BoolVar(&cfg.UseAWS, "use-aws", env.GetBool("USE_AWS"), "Load the keypair from AWS Secrets Manager")
	fs.StringVar(&cfg.AWSSecretName, "aws-secret-name", env.Get("AWS_SECRET_NAME", ""), "Secrets Manager secret holding the keypair")
	fs.StringVar(&cfg.AWSRegion, "aws-region", env.Get("AWS_REGION", "eu-west-1"), "AWS region")
	fs.StringVar(&cfg.JupiterQuoteURL, "jupiter-url", env.Get("JUPITER_API_URL", "https://quote-api.jup.ag/v6"), "Jupiter quote API")
	fs.StringVar(&cfg.JupiterSwapURL, "jupiter-swap-url", env.Get("JUPITER_SWAP_URL", "https://api.jup.ag/swap/v1"), "Jupiter swap API")
	fs.StringVar(&cfg.PythURL, "pyth-url", env.Get("PYTH_HERMES_URL", "https://hermes.pyth.network"), "Pyth Hermes API")
	fs.StringVar(&cfg.CoinGeckoAPIKey, "coingecko-api-key", env.Get("COINGECKO_API_KEY", ""), "CoinGecko Pro API key")
	fs.StringVar(&cfg.CoinGeckoURL, "coingecko-url", env.Get("COINGECKO_URL", ""), "CoinGecko API base URL")
	fs.StringVar(&cfg.RedisAddr, "redis", env.Get("REDIS_ADDR", ""), "Redis address for repair locks (empty: in-process locks)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", env.Get("REDIS_PASSWORD", ""), "Redis password")
	fs.StringVar(&cfg.AlertTopicARN, "alert-topic", env.Get("ALERT_TOPIC_ARN", ""), "SNS topic for alerts (empty: log only)")
	fs.StringVar(&cfg.SNSEndpoint, "sns-endpoint", env.Get("AWS_SNS_ENDPOINT", ""), "SNS endpoint override")
	fs.StringVar(&cfg.MetricsExporter, "metrics", env.Get("METRICS_EXPORTER", ""), "Metrics exporter: otlp, prometheus or empty")
	fs.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""), "OTLP gRPC endpoint for traces and otlp metrics")
	fs.Float64Var(&cfg.TraceSampleRate, "trace-sample-rate", sampleRate, "Fraction of scans traced when an OTLP endpoint is set")
	fs.StringVar(&cfg.HealthAddr, "health-addr", env.Get("HEALTH_ADDR", ":8080"), "Health and metrics listen address")
	fs.StringVar(&cfg.Environment, "env", env.Get("ENVIRONMENT", "development"), "Deployment environment")
	fs.StringVar(&cfg.AssetsPath, "assets", env.Get("ASSETS_FILE", ""), "Asset registry YAML (empty: built-in markets)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", pollInterval, "Delay between account scans")
	fs.Float64Var(&cfg.GoalHealth, "goal-health", goalHealth, "Health to restore, 0-100")
	fs.IntVar(&cfg.SlippageBps, "slippage-bps", slippage, "Swap slippage tolerance in basis points")
	fs.Float64Var(&cfg.MinLoanValueUSD, "min-loan-value", minLoan, "Smallest loan worth repaying, in USD")
	fs.IntVar(&cfg.MaxConcurrentRepairs, "max-concurrent-repairs", maxRepairs, "Repairs in flight at once")
	fs.Uint64Var(&cfg.ComputeUnitPrice, "compute-unit-price", uint64(cuPrice), "Priority fee in micro-lamports per compute unit")
	fs.IntVar(&cfg.FlashLoanFeeBps, "flash-loan-fee-bps", flashFee, "Flash loan fee in basis points")
	fs.StringVar(&cfg.LogFile, "log-file", env.Get("LOG_FILE", ""), "Also write logs to this rotating file")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ShowVersion {
		return &cfg, nil
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// newLogger builds the process logger. The returned func closes the log file
// when one is configured.
func newLogger(cfg *Config) (*slog.Logger, func() error) {
	var w io.Writer = os.Stdout
	closeFile := func() error { return nil }
	if cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, file)
		closeFile = file.Close
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	return logger, closeFile
}
