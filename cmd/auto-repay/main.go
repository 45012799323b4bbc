// Package main runs the auto-repay bot: it scans margin accounts and repairs
// the ones that reach zero health with a flash-loan funded swap and repay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssecrets "github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gagliardetto/solana-go"

	httpadapter "github.com/archon-research/stl/auto-repay/internal/adapters/inbound/http"
	"github.com/archon-research/stl/auto-repay/internal/adapters/outbound/coingecko"
	"github.com/archon-research/stl/auto-repay/internal/adapters/outbound/jupiter"
	"github.com/archon-research/stl/auto-repay/internal/adapters/outbound/marginfi"
	"github.com/archon-research/stl/auto-repay/internal/adapters/outbound/memory"
	"github.com/archon-research/stl/auto-repay/internal/adapters/outbound/pyth"
	"github.com/archon-research/stl/auto-repay/internal/adapters/outbound/redis"
	"github.com/archon-research/stl/auto-repay/internal/adapters/outbound/secretsmanager"
	"github.com/archon-research/stl/auto-repay/internal/adapters/outbound/sns"
	"github.com/archon-research/stl/auto-repay/internal/adapters/outbound/solanarpc"
	"github.com/archon-research/stl/auto-repay/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl/auto-repay/internal/adapters/outbound/vaultapi"
	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/pkg/assetconfig"
	"github.com/archon-research/stl/auto-repay/internal/pkg/env"
	"github.com/archon-research/stl/auto-repay/internal/pkg/keypair"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
	"github.com/archon-research/stl/auto-repay/internal/services/auto_repay"
	"github.com/archon-research/stl/auto-repay/internal/services/price_aggregator"
	"github.com/archon-research/stl/auto-repay/internal/services/repay_planner"
	"github.com/archon-research/stl/auto-repay/internal/services/tx_builder"
)

const serviceName = "auto-repay"

// Build-time variables, set via ldflags or read from the module's build info.
var (
	GitCommit string
	BuildTime string
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if GitCommit == "" {
					GitCommit = setting.Value
				}
			case "vcs.time":
				if BuildTime == "" {
					BuildTime = setting.Value
				}
			}
		}
	}
}

func main() {
	env.Load(".env", ".env.local")

	cfg, err := parseConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "auto-repay: %v\n", err)
		os.Exit(2)
	}
	if cfg.ShowVersion {
		fmt.Printf("auto-repay\n")
		fmt.Printf("  Commit:     %s\n", GitCommit)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	logger, closeLog := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	err = run(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("auto-repay failed", "error", err)
		closeLog()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
	closeLog()
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	logger.Info("starting auto-repay",
		"commit", GitCommit,
		"environment", cfg.Environment,
		"pollInterval", cfg.PollInterval,
		"goalHealth", cfg.GoalHealth,
	)

	registry, err := assetconfig.Load(cfg.AssetsPath)
	if err != nil {
		return fmt.Errorf("loading assets: %w", err)
	}

	var awsCfg aws.Config
	if cfg.UseAWS || cfg.AlertTopicARN != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
	}

	signer, err := loadSigner(ctx, cfg, awsCfg)
	if err != nil {
		return err
	}
	logger.Info("loaded bot keypair", "address", signer.PublicKey())

	chain, err := solanarpc.NewClient(solanarpc.ClientConfig{URL: cfg.RPCURL, Logger: logger})
	if err != nil {
		return fmt.Errorf("creating RPC client: %w", err)
	}

	vault, err := vaultapi.NewClient(vaultapi.ClientConfig{
		BaseURL: cfg.VaultAPIURL,
		APIKey:  cfg.VaultAPIKey,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("creating vault API client: %w", err)
	}

	flashLoans, err := loadFlashLoans(ctx, cfg, vault, signer.PublicKey(), registry.Indices(), logger)
	if err != nil {
		return err
	}

	quotes := jupiter.NewClient(jupiter.ClientConfig{
		QuoteURL:         cfg.JupiterQuoteURL,
		SwapURL:          cfg.JupiterSwapURL,
		OnlyDirectRoutes: true,
		Logger:           logger,
	})

	prices, err := price_aggregator.NewService(price_aggregator.Config{Logger: logger}, registry,
		pyth.NewClient(pyth.ClientConfig{BaseURL: cfg.PythURL, Logger: logger}),
		coingecko.NewClient(coingecko.ClientConfig{
			APIKey:  cfg.CoinGeckoAPIKey,
			BaseURL: cfg.CoinGeckoURL,
			Logger:  logger,
		}),
	)
	if err != nil {
		return fmt.Errorf("creating price aggregator: %w", err)
	}

	minLoanValue := entity.DollarsToUSDC(cfg.MinLoanValueUSD)

	planner, err := repay_planner.NewPlanner(repay_planner.Config{
		GoalHealth:   cfg.GoalHealth / 100,
		MinLoanValue: minLoanValue,
		SlippageBps:  uint16(cfg.SlippageBps),
		Logger:       logger,
	}, quotes, registry)
	if err != nil {
		return fmt.Errorf("creating planner: %w", err)
	}

	builderCfg := tx_builder.ConfigDefaults()
	builderCfg.ComputeUnitPrice = cfg.ComputeUnitPrice
	builderCfg.Logger = logger
	builder, err := tx_builder.NewBuilder(builderCfg, chain, quotes, vault, flashLoans, registry, signer)
	if err != nil {
		return fmt.Errorf("creating transaction builder: %w", err)
	}

	lock, closeLock, err := newRepairLock(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLock()

	alerter, err := newAlerter(cfg, awsCfg, logger)
	if err != nil {
		return err
	}

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: GitCommit,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	meterProvider, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    serviceName,
		ServiceVersion: GitCommit,
		Environment:    cfg.Environment,
		Exporter:       cfg.MetricsExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to flush metrics", "error", err)
		}
	}()

	var metrics *telemetry.Metrics
	if meterProvider != nil {
		metrics, err = telemetry.NewMetrics(meterProvider.Provider)
	} else {
		metrics, err = telemetry.NewMetrics(nil)
	}
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	serviceCfg := auto_repay.ConfigDefaults()
	serviceCfg.PollInterval = cfg.PollInterval
	serviceCfg.MaxConcurrentRepairs = cfg.MaxConcurrentRepairs
	serviceCfg.MinLoanValue = minLoanValue
	serviceCfg.Logger = logger

	service, err := auto_repay.NewService(serviceCfg, auto_repay.Dependencies{
		Accounts: vault,
		Prices:   prices,
		Planner:  planner,
		Builder:  builder,
		Chain:    chain,
		Registry: registry,
		Lock:     lock,
		Alerter:  alerter,
		Metrics:  metrics,
	})
	if err != nil {
		return fmt.Errorf("creating auto-repay service: %w", err)
	}

	healthCfg := httpadapter.ServerConfig{Addr: cfg.HealthAddr, Logger: logger}
	if meterProvider != nil {
		healthCfg.Metrics = meterProvider.Handler
	}
	health, err := httpadapter.NewServer(healthCfg, service)
	if err != nil {
		return fmt.Errorf("creating health server: %w", err)
	}
	health.Start()

	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("starting auto-repay service: %w", err)
	}

	<-ctx.Done()

	health.MarkShuttingDown()
	stopErr := service.Stop()
	if err := health.Shutdown(5 * time.Second); err != nil {
		logger.Warn("failed to stop health server", "error", err)
	}
	return stopErr
}

// loadSigner reads the bot keypair from Secrets Manager when USE_AWS is set
// and from WALLET_KEYPAIR otherwise.
func loadSigner(ctx context.Context, cfg *Config, awsCfg aws.Config) (solana.PrivateKey, error) {
	if !cfg.UseAWS {
		signer, err := keypair.Parse(cfg.WalletKeypair)
		if err != nil {
			return nil, fmt.Errorf("parsing WALLET_KEYPAIR: %w", err)
		}
		return signer, nil
	}

	loader, err := secretsmanager.NewKeypairLoader(awssecrets.NewFromConfig(awsCfg), "")
	if err != nil {
		return nil, err
	}
	signer, err := loader.Load(ctx, cfg.AWSSecretName)
	if err != nil {
		return nil, fmt.Errorf("loading keypair from secrets manager: %w", err)
	}
	return signer, nil
}

// flashLoanAccountLister is the vault API call loadFlashLoans needs.
type flashLoanAccountLister interface {
	FlashLoanAccounts(ctx context.Context, authority solana.PublicKey) ([]vaultapi.FlashLoanAccount, error)
}

// loadFlashLoans fetches the bot's flash-loan accounts and builds a provider
// for every market. Startup fails if any market lacks an enabled account.
func loadFlashLoans(
	ctx context.Context,
	cfg *Config,
	vault flashLoanAccountLister,
	authority solana.PublicKey,
	required []entity.MarketIndex,
	logger *slog.Logger,
) (*marginfi.Registry, error) {
	accounts, err := vault.FlashLoanAccounts(ctx, authority)
	if err != nil {
		return nil, fmt.Errorf("fetching flash loan accounts: %w", err)
	}

	registry, err := marginfi.NewRegistry(marginfi.Config{
		Authority: authority,
		FeeBps:    uint16(cfg.FlashLoanFeeBps),
		Logger:    logger,
	}, toMarketConfigs(accounts), required)
	if err != nil {
		return nil, fmt.Errorf("building flash loan registry: %w", err)
	}
	return registry, nil
}

func toMarketConfigs(accounts []vaultapi.FlashLoanAccount) []marginfi.MarketConfig {
	out := make([]marginfi.MarketConfig, 0, len(accounts))
	for _, a := range accounts {
		balances := make([]marginfi.Balance, 0, len(a.ActiveBalances))
		for _, b := range a.ActiveBalances {
			balances = append(balances, marginfi.Balance{Bank: b[0], Oracle: b[1]})
		}
		out = append(out, marginfi.MarketConfig{
			Market:         a.Market,
			Group:          a.Group,
			Account:        a.Account,
			Bank:           a.Bank,
			Oracle:         a.Oracle,
			Disabled:       a.Disabled,
			TokenProgram:   a.TokenProgram,
			ActiveBalances: balances,
			LookupTables:   a.LookupTables,
		})
	}
	return out
}

// newRepairLock returns a Redis lock when REDIS_ADDR is set so replicas do
// not repair the same account, and an in-process lock otherwise.
func newRepairLock(ctx context.Context, cfg *Config, logger *slog.Logger) (outbound.RepairLock, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-process repair locks")
		return memory.NewRepairLock(), func() {}, nil
	}

	lock, err := redis.NewRepairLock(redis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating redis lock: %w", err)
	}
	if err := lock.Ping(ctx); err != nil {
		lock.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	logger.Info("Redis connected", "addr", cfg.RedisAddr)

	return lock, func() {
		if err := lock.Close(); err != nil {
			logger.Warn("failed to close Redis connection", "error", err)
		}
	}, nil
}

// newAlerter publishes to SNS when a topic is configured and only logs
// otherwise.
func newAlerter(cfg *Config, awsCfg aws.Config, logger *slog.Logger) (outbound.Alerter, error) {
	if cfg.AlertTopicARN == "" {
		logger.Warn("ALERT_TOPIC_ARN not set, alerts are only logged")
		return memory.NewAlerter(logger), nil
	}

	client := awssns.NewFromConfig(awsCfg, func(o *awssns.Options) {
		if cfg.SNSEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.SNSEndpoint)
		}
	})
	alerter, err := sns.NewAlerter(client, sns.Config{TopicARN: cfg.AlertTopicARN, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("creating SNS alerter: %w", err)
	}
	return alerter, nil
}
