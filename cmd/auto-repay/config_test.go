package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/stl/auto-repay/internal/adapters/outbound/vaultapi"
	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
)

var configEnv = []string{
	"RPC_URL", "VAULT_API_URL", "VAULT_API_KEY", "WALLET_KEYPAIR", "USE_AWS",
	"AWS_SECRET_NAME", "AWS_REGION", "JUPITER_API_URL", "JUPITER_SWAP_URL",
	"PYTH_HERMES_URL", "COINGECKO_API_KEY", "COINGECKO_URL", "REDIS_ADDR",
	"REDIS_PASSWORD", "ALERT_TOPIC_ARN", "AWS_SNS_ENDPOINT", "METRICS_EXPORTER",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "HEALTH_ADDR", "ENVIRONMENT", "ASSETS_FILE",
	"POLL_INTERVAL", "GOAL_HEALTH", "SLIPPAGE_BPS", "MIN_LOAN_VALUE_USD",
	"MAX_CONCURRENT_REPAIRS", "COMPUTE_UNIT_PRICE", "FLASH_LOAN_FEE_BPS",
	"LOG_FILE", "LOG_LEVEL", "TRACE_SAMPLE_RATE",
}

// setMinimalEnv clears every config variable and sets the required ones.
func setMinimalEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
	t.Setenv("RPC_URL", "http://localhost:8899")
	t.Setenv("VAULT_API_URL", "http://localhost:3000")
	t.Setenv("WALLET_KEYPAIR", "[1,2,3]")
}

func TestParseConfig_Defaults(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := parseConfig(nil)
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}

	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %s, want 30s", cfg.PollInterval)
	}
	if cfg.GoalHealth != 15 {
		t.Errorf("GoalHealth = %v, want 15", cfg.GoalHealth)
	}
	if cfg.SlippageBps != 50 {
		t.Errorf("SlippageBps = %d, want 50", cfg.SlippageBps)
	}
	if cfg.MinLoanValueUSD != 1 {
		t.Errorf("MinLoanValueUSD = %v, want 1", cfg.MinLoanValueUSD)
	}
	if cfg.MaxConcurrentRepairs != 4 {
		t.Errorf("MaxConcurrentRepairs = %d, want 4", cfg.MaxConcurrentRepairs)
	}
	if cfg.ComputeUnitPrice != 1_000_000 {
		t.Errorf("ComputeUnitPrice = %d, want 1000000", cfg.ComputeUnitPrice)
	}
	if cfg.AWSRegion != "eu-west-1" {
		t.Errorf("AWSRegion = %s, want eu-west-1", cfg.AWSRegion)
	}
	if cfg.TraceSampleRate != 1 {
		t.Errorf("TraceSampleRate = %v, want 1", cfg.TraceSampleRate)
	}
	if cfg.HealthAddr != ":8080" {
		t.Errorf("HealthAddr = %s, want :8080", cfg.HealthAddr)
	}
	if cfg.JupiterQuoteURL != "https://quote-api.jup.ag/v6" || cfg.PythURL != "https://hermes.pyth.network" {
		t.Errorf("unexpected default URLs %s %s", cfg.JupiterQuoteURL, cfg.PythURL)
	}
	if cfg.RedisAddr != "" || cfg.AlertTopicARN != "" || cfg.MetricsExporter != "" {
		t.Error("optional integrations should default to off")
	}
}

func TestParseConfig_FlagsOverrideEnv(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("GOAL_HEALTH", "20")
	t.Setenv("POLL_INTERVAL", "10s")

	cfg, err := parseConfig([]string{"-goal-health", "25", "-redis", "localhost:6379", "-metrics", "prometheus"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.GoalHealth != 25 {
		t.Errorf("GoalHealth = %v, want the flag value 25", cfg.GoalHealth)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("PollInterval = %s, want the env value 10s", cfg.PollInterval)
	}
	if cfg.RedisAddr != "localhost:6379" || cfg.MetricsExporter != "prometheus" {
		t.Errorf("unexpected %q %q", cfg.RedisAddr, cfg.MetricsExporter)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		args    []string
		wantErr string
	}{
		{name: "missing rpc url", env: map[string]string{"RPC_URL": ""}, wantErr: "RPCURL"},
		{name: "missing vault url", env: map[string]string{"VAULT_API_URL": ""}, wantErr: "VaultAPIURL"},
		{name: "missing keypair", env: map[string]string{"WALLET_KEYPAIR": ""}, wantErr: "WalletKeypair"},
		{name: "aws without secret name", env: map[string]string{"USE_AWS": "true", "WALLET_KEYPAIR": ""}, wantErr: "AWSSecretName"},
		{name: "otlp without endpoint", env: map[string]string{"METRICS_EXPORTER": "otlp"}, wantErr: "OTLPEndpoint"},
		{name: "unknown exporter", args: []string{"-metrics", "statsd"}, wantErr: "MetricsExporter"},
		{name: "goal health out of range", env: map[string]string{"GOAL_HEALTH": "100"}, wantErr: "GoalHealth"},
		{name: "slippage too large", args: []string{"-slippage-bps", "10000"}, wantErr: "SlippageBps"},
		{name: "poll interval too short", env: map[string]string{"POLL_INTERVAL": "500ms"}, wantErr: "PollInterval"},
		{name: "zero repairs", env: map[string]string{"MAX_CONCURRENT_REPAIRS": "0"}, wantErr: "MaxConcurrentRepairs"},
		{name: "bad redis address", env: map[string]string{"REDIS_ADDR": "localhost"}, wantErr: "RedisAddr"},
		{name: "unparsable duration", env: map[string]string{"POLL_INTERVAL": "soon"}, wantErr: "POLL_INTERVAL"},
		{name: "negative compute unit price", env: map[string]string{"COMPUTE_UNIT_PRICE": "-1"}, wantErr: "COMPUTE_UNIT_PRICE"},
		{name: "unknown flag", args: []string{"-nope"}, wantErr: "nope"},
		{name: "trace sample rate above one", env: map[string]string{"TRACE_SAMPLE_RATE": "1.5"}, wantErr: "TraceSampleRate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setMinimalEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := parseConfig(tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseConfig_AWSKeypair(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("WALLET_KEYPAIR", "")
	t.Setenv("USE_AWS", "true")
	t.Setenv("AWS_SECRET_NAME", "auto-repay/keypair")

	cfg, err := parseConfig(nil)
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if !cfg.UseAWS || cfg.AWSSecretName != "auto-repay/keypair" {
		t.Errorf("unexpected AWS config %+v", cfg)
	}
}

func TestParseConfig_VersionSkipsValidation(t *testing.T) {
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
	cfg, err := parseConfig([]string{"-version"})
	if err != nil || !cfg.ShowVersion {
		t.Fatalf("cfg=%+v err=%v", cfg, err)
	}
}

func TestNewLogger_WritesLogFile(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	path := filepath.Join(t.TempDir(), "auto-repay.log")

	logger, closeLog := newLogger(&Config{LogFile: path})
	logger.Debug("scan complete", "accounts", 3)
	if err := closeLog(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "scan complete") || !strings.Contains(string(data), "accounts=3") {
		t.Errorf("unexpected log contents %q", data)
	}
}

type stubFlashLoanLister struct {
	accounts []vaultapi.FlashLoanAccount
	err      error
	gotAuth  solana.PublicKey
}

func (s *stubFlashLoanLister) FlashLoanAccounts(_ context.Context, authority solana.PublicKey) ([]vaultapi.FlashLoanAccount, error) {
	s.gotAuth = authority
	return s.accounts, s.err
}

func flashLoanAccount(market entity.MarketIndex) vaultapi.FlashLoanAccount {
	return vaultapi.FlashLoanAccount{
		Market:  market,
		Group:   solana.NewWallet().PublicKey(),
		Account: solana.NewWallet().PublicKey(),
		Bank:    solana.NewWallet().PublicKey(),
		Oracle:  solana.NewWallet().PublicKey(),
	}
}

func TestLoadFlashLoans(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	required := []entity.MarketIndex{entity.MarketIndexUSDC, entity.MarketIndexSOL}
	cfg := &Config{}

	t.Run("every market covered", func(t *testing.T) {
		lister := &stubFlashLoanLister{accounts: []vaultapi.FlashLoanAccount{
			flashLoanAccount(entity.MarketIndexUSDC),
			flashLoanAccount(entity.MarketIndexSOL),
		}}
		registry, err := loadFlashLoans(context.Background(), cfg, lister, authority, required, nil)
		if err != nil {
			t.Fatalf("loadFlashLoans: %v", err)
		}
		if !lister.gotAuth.Equals(authority) {
			t.Errorf("accounts requested for %s, want %s", lister.gotAuth, authority)
		}
		if _, err := registry.ForMarket(entity.MarketIndexSOL); err != nil {
			t.Errorf("ForMarket(SOL): %v", err)
		}
	})

	t.Run("missing market", func(t *testing.T) {
		lister := &stubFlashLoanLister{accounts: []vaultapi.FlashLoanAccount{flashLoanAccount(entity.MarketIndexUSDC)}}
		if _, err := loadFlashLoans(context.Background(), cfg, lister, authority, required, nil); err == nil {
			t.Fatal("expected error when a market has no flash loan account")
		}
	})

	t.Run("api failure", func(t *testing.T) {
		lister := &stubFlashLoanLister{err: errors.New("unavailable")}
		if _, err := loadFlashLoans(context.Background(), cfg, lister, authority, required, nil); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestToMarketConfigs(t *testing.T) {
	acct := flashLoanAccount(entity.MarketIndexSOL)
	bank, oracle := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	acct.ActiveBalances = [][2]solana.PublicKey{{bank, oracle}}
	acct.Disabled = true

	got := toMarketConfigs([]vaultapi.FlashLoanAccount{acct})
	if len(got) != 1 {
		t.Fatalf("got %d configs", len(got))
	}
	m := got[0]
	if m.Market != entity.MarketIndexSOL || !m.Disabled || !m.Account.Equals(acct.Account) {
		t.Errorf("unexpected config %+v", m)
	}
	if len(m.ActiveBalances) != 1 || !m.ActiveBalances[0].Bank.Equals(bank) || !m.ActiveBalances[0].Oracle.Equals(oracle) {
		t.Errorf("unexpected balances %+v", m.ActiveBalances)
	}
}
