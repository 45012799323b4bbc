// Package auto_repay runs the scan loop that finds margin accounts at zero
// health and repairs them with a swap-and-repay transaction.
package auto_repay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/pkg/retry"
	"github.com/archon-research/stl/auto-repay/internal/ports/inbound"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
	"github.com/archon-research/stl/auto-repay/internal/services/margin"
)

// tracerName is the instrumentation name for this service.
const tracerName = "github.com/archon-research/stl/auto-repay/internal/services/auto_repay"

// RepayPlanner selects a repay plan for an unhealthy account.
type RepayPlanner interface {
	Plan(ctx context.Context, account *entity.Account, sorted entity.SortedPositions, prices entity.PriceTable, skip int) (entity.RepayPlan, entity.Quote, error)
}

// TransactionBuilder builds and submits the bot's transactions.
type TransactionBuilder interface {
	Address() solana.PublicKey
	BuildAndSubmit(ctx context.Context, account *entity.Account, plan entity.RepayPlan, quote entity.Quote) (solana.Signature, error)
	FulfilDeposits(ctx context.Context, account *entity.Account, markets []entity.MarketIndex) (solana.Signature, error)
}

// Config holds configuration for the auto-repay service.
type Config struct {
	// PollInterval is the delay between account scans.
	PollInterval time.Duration

	// MaxConcurrentRepairs bounds the number of repairs in flight.
	MaxConcurrentRepairs int

	// MaxAttempts is the number of build-and-submit attempts per repair.
	MaxAttempts int

	// RetryBackoff is the delay before the second attempt. It doubles after
	// every attempt up to MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// MaxRouteAttempts bounds the planner calls per attempt. Each route
	// failure drops the next largest collateral from consideration.
	MaxRouteAttempts int

	// ConfirmTimeout bounds how long a submitted transaction is polled.
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration

	// MinLoanValue is the largest-loan floor below which an account is
	// ignored, in USDC base units.
	MinLoanValue int64

	// ObsoleteVaultSize is the data length of the retired vault layout.
	// Vaults at or below it are skipped.
	ObsoleteVaultSize int

	// LowBalanceLamports triggers a low-balance alert for the fee payer.
	LowBalanceLamports uint64

	// HeartbeatInterval is how often the service logs that it is alive.
	HeartbeatInterval time.Duration

	// LockTTL bounds how long one replica may hold an account's repair lock.
	// It is raised to the longest a repair can run when set below it.
	LockTTL time.Duration

	// ShutdownTimeout bounds how long Stop waits for in-flight repairs.
	ShutdownTimeout time.Duration

	// Logger is the structured logger for the service.
	Logger *slog.Logger

	// TracerProvider creates the scan and repair spans. Defaults to the
	// global provider.
	TracerProvider trace.TracerProvider
}

// ConfigDefaults returns the default service configuration.
func ConfigDefaults() Config {
	c := Config{
		PollInterval:         30 * time.Second,
		MaxConcurrentRepairs: 4,
		MaxAttempts:          3,
		RetryBackoff:         2 * time.Second,
		MaxRetryBackoff:      30 * time.Second,
		MaxRouteAttempts:     8,
		ConfirmTimeout:       60 * time.Second,
		ConfirmPollInterval:  2 * time.Second,
		MinLoanValue:         1_000_000,
		ObsoleteVaultSize:    41,
		LowBalanceLamports:   entity.LamportsPerSOL / 1000,
		HeartbeatInterval:    24 * time.Hour,
		ShutdownTimeout:      25 * time.Second,
	}
	c.LockTTL = c.repairBudget()
	return c
}

// lockSlack covers planning, quoting and RPC reads around the confirmations.
const lockSlack = time.Minute

// repairBudget is the longest one repair can hold its lock: a confirmation
// for deposit fulfilment, one per attempt, and every backoff between
// attempts.
func (c Config) repairBudget() time.Duration {
	budget := time.Duration(c.MaxAttempts+1)*c.ConfirmTimeout + lockSlack
	backoff := min(c.RetryBackoff, c.MaxRetryBackoff)
	for range c.MaxAttempts - 1 {
		budget += backoff
		backoff = min(2*backoff, c.MaxRetryBackoff)
	}
	return budget
}

func (c *Config) applyDefaults() {
	d := ConfigDefaults()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxConcurrentRepairs <= 0 {
		c.MaxConcurrentRepairs = d.MaxConcurrentRepairs
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = d.MaxRetryBackoff
	}
	if c.MaxRouteAttempts <= 0 {
		c.MaxRouteAttempts = d.MaxRouteAttempts
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = d.ConfirmTimeout
	}
	if c.ConfirmPollInterval <= 0 {
		c.ConfirmPollInterval = d.ConfirmPollInterval
	}
	if c.MinLoanValue <= 0 {
		c.MinLoanValue = d.MinLoanValue
	}
	if c.ObsoleteVaultSize <= 0 {
		c.ObsoleteVaultSize = d.ObsoleteVaultSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if budget := c.repairBudget(); c.LockTTL < budget {
		c.LockTTL = budget
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
}

// Service scans accounts and repairs the unhealthy ones.
type Service struct {
	config   Config
	accounts outbound.AccountSource
	prices   outbound.PriceSource
	planner  RepayPlanner
	builder  TransactionBuilder
	chain    outbound.Chain
	registry *entity.AssetRegistry
	lock     outbound.RepairLock
	alerter  outbound.Alerter
	metrics  outbound.MetricsRecorder
	logger   *slog.Logger
	tracer   trace.Tracer

	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	inFlight map[solana.PublicKey]struct{}

	ready    atomic.Bool
	lastScan atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
}

var _ inbound.HealthChecker = (*Service)(nil)

// Dependencies groups the collaborators of the service.
type Dependencies struct {
	Accounts outbound.AccountSource
	Prices   outbound.PriceSource
	Planner  RepayPlanner
	Builder  TransactionBuilder
	Chain    outbound.Chain
	Registry *entity.AssetRegistry
	Lock     outbound.RepairLock
	Alerter  outbound.Alerter
	Metrics  outbound.MetricsRecorder
}

// NewService creates a new auto-repay service.
func NewService(config Config, deps Dependencies) (*Service, error) {
	if deps.Accounts == nil {
		return nil, fmt.Errorf("account source cannot be nil")
	}
	if deps.Prices == nil {
		return nil, fmt.Errorf("price source cannot be nil")
	}
	if deps.Planner == nil {
		return nil, fmt.Errorf("planner cannot be nil")
	}
	if deps.Builder == nil {
		return nil, fmt.Errorf("transaction builder cannot be nil")
	}
	if deps.Chain == nil {
		return nil, fmt.Errorf("chain cannot be nil")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("asset registry cannot be nil")
	}
	if deps.Lock == nil {
		return nil, fmt.Errorf("repair lock cannot be nil")
	}
	if deps.Alerter == nil {
		return nil, fmt.Errorf("alerter cannot be nil")
	}
	if deps.Metrics == nil {
		return nil, fmt.Errorf("metrics recorder cannot be nil")
	}

	config.applyDefaults()

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Service{
		config:   config,
		accounts: deps.Accounts,
		prices:   deps.Prices,
		planner:  deps.Planner,
		builder:  deps.Builder,
		chain:    deps.Chain,
		registry: deps.Registry,
		lock:     deps.Lock,
		alerter:  deps.Alerter,
		metrics:  deps.Metrics,
		logger:   logger.With("component", "auto-repay"),
		tracer:   tp.Tracer(tracerName),
		sem:      make(chan struct{}, config.MaxConcurrentRepairs),
		inFlight: make(map[solana.PublicKey]struct{}),
	}, nil
}

// Start begins scanning. The first scan runs immediately.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.loopDone = make(chan struct{})

	go s.run()

	s.logger.Info("auto-repay started",
		"bot", s.builder.Address(),
		"pollInterval", s.config.PollInterval,
		"maxConcurrentRepairs", s.config.MaxConcurrentRepairs,
	)
	return nil
}

// Stop cancels scanning and waits for in-flight repairs to return.
func (s *Service) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.loopDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("auto-repay stopped")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		return fmt.Errorf("timed out waiting for in-flight repairs after %s", s.config.ShutdownTimeout)
	}
}

// IsReady reports whether a scan has completed.
func (s *Service) IsReady() bool {
	return s.ready.Load()
}

// IsHealthy reports whether the last scan completed within three poll
// intervals.
func (s *Service) IsHealthy() bool {
	last := s.lastScan.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) < 3*s.config.PollInterval
}

func (s *Service) run() {
	defer close(s.loopDone)

	s.heartbeat(s.ctx)
	s.Scan(s.ctx)

	// PollInterval runs from the end of one scan to the start of the next.
	next := time.NewTimer(s.config.PollInterval)
	defer next.Stop()
	heartbeat := time.NewTicker(s.config.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-next.C:
			s.Scan(s.ctx)
			next.Reset(s.config.PollInterval)
		case <-heartbeat.C:
			s.heartbeat(s.ctx)
		}
	}
}

// Scan checks every account once and dispatches repairs for the ones at
// zero health. It returns once every repair has been dispatched, not
// completed.
func (s *Service) Scan(ctx context.Context) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "autorepay.scan", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	accounts, err := retry.Do(ctx, retry.DefaultConfig(), nil,
		func(attempt int, err error, backoff time.Duration) {
			s.logger.Warn("listing accounts failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
		func() ([]*entity.Account, error) {
			return s.accounts.ListAccounts(ctx)
		})
	if err != nil {
		s.logger.Error("failed to list accounts", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list accounts")
		s.metrics.RecordScan(ctx, time.Since(start), 0, 0, err)
		return
	}

	prices, err := s.prices.GetPrices(ctx)
	if err != nil {
		s.logger.Error("failed to fetch prices", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch prices")
		s.metrics.RecordScan(ctx, time.Since(start), len(accounts), 0, err)
		return
	}

	unhealthy := 0
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		if !s.needsRepair(ctx, account, prices) {
			continue
		}
		unhealthy++
		s.dispatch(ctx, account, prices)
	}

	span.SetAttributes(
		attribute.Int("scan.accounts", len(accounts)),
		attribute.Int("scan.unhealthy", unhealthy),
	)
	s.lastScan.Store(time.Now().UnixNano())
	s.ready.Store(true)
	s.metrics.RecordScan(ctx, time.Since(start), len(accounts), unhealthy, nil)
	s.logger.Debug("scan complete", "accounts", len(accounts), "unhealthy", unhealthy, "duration", time.Since(start))
}

// Wait blocks until every dispatched repair has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) needsRepair(ctx context.Context, account *entity.Account, prices entity.PriceTable) bool {
	logger := s.logger.With("owner", account.Owner)

	size, exists, err := s.chain.AccountDataSize(ctx, account.Vault)
	if err != nil {
		logger.Warn("failed to read vault", "vault", account.Vault, "error", err)
		return false
	}
	if !exists || size <= s.config.ObsoleteVaultSize {
		logger.Debug("skipping obsolete vault", "vault", account.Vault, "size", size)
		return false
	}

	health, err := margin.ComputeHealth(account, prices, s.registry, margin.Params{})
	if err != nil {
		logger.Warn("failed to compute health", "error", err)
		return false
	}
	return health.Score == 0
}

// dispatch starts a repair unless one is already running for the owner. It
// blocks while the worker pool is full.
func (s *Service) dispatch(ctx context.Context, account *entity.Account, prices entity.PriceTable) {
	owner := account.Owner

	s.mu.Lock()
	if _, busy := s.inFlight[owner]; busy {
		s.mu.Unlock()
		s.logger.Debug("repair already in flight", "owner", owner)
		return
	}
	s.inFlight[owner] = struct{}{}
	s.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.clearInFlight(owner)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		defer s.clearInFlight(owner)

		s.repairLocked(ctx, account, prices)
	}()
}

func (s *Service) clearInFlight(owner solana.PublicKey) {
	s.mu.Lock()
	delete(s.inFlight, owner)
	s.mu.Unlock()
}

func (s *Service) heartbeat(ctx context.Context) {
	bot := s.builder.Address()
	lamports, err := s.chain.Balance(ctx, bot)
	if err != nil {
		s.logger.Warn("heartbeat: failed to read fee payer balance", "bot", bot, "error", err)
		return
	}
	s.logger.Info("heartbeat", "bot", bot, "lamports", lamports)
}

func (s *Service) sendAlert(ctx context.Context, alert outbound.Alert) {
	s.metrics.RecordAlert(ctx, string(alert.Severity))
	if err := s.alerter.Alert(ctx, alert); err != nil {
		s.logger.Warn("failed to send alert", "subject", alert.Subject, "error", err)
	}
}
