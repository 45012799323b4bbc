package auto_repay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/pkg/retry"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
	"github.com/archon-research/stl/auto-repay/internal/services/margin"
)

const lockKeyPrefix = "auto-repay:repair:"

// errRecovered ends the attempt loop when the account is healthy again
// before an attempt was made.
var errRecovered = errors.New("account recovered")

func (s *Service) repairLocked(ctx context.Context, account *entity.Account, prices entity.PriceTable) {
	logger := s.logger.With("owner", account.Owner)

	ctx, span := s.tracer.Start(ctx, "autorepay.repair",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("account.owner", account.Owner.String())),
	)
	defer span.End()

	release, ok, err := s.lock.Acquire(ctx, lockKeyPrefix+account.Owner.String(), s.config.LockTTL)
	if err != nil {
		logger.Warn("failed to acquire repair lock", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire repair lock")
		return
	}
	if !ok {
		logger.Debug("repair lock held elsewhere")
		span.SetAttributes(attribute.String("repair.outcome", outbound.RepairOutcomeSkipped))
		s.metrics.RecordRepair(ctx, 0, outbound.RepairOutcomeSkipped, 0)
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			logger.Warn("failed to release repair lock", "error", err)
		}
	}()

	start := time.Now()
	outcome, attempts := s.repair(ctx, logger, account, prices)
	span.SetAttributes(
		attribute.String("repair.outcome", outcome),
		attribute.Int("repair.attempts", attempts),
	)
	if outcome == outbound.RepairOutcomeFailed {
		span.SetStatus(codes.Error, "repair failed")
	}
	s.metrics.RecordRepair(ctx, time.Since(start), outcome, attempts)
}

// repair brings one account back above zero health. It returns the outcome
// and the number of build-and-submit attempts made.
func (s *Service) repair(ctx context.Context, logger *slog.Logger, account *entity.Account, prices entity.PriceTable) (string, int) {
	logger.Info("account at zero health, starting repair")

	if pending := account.PendingDeposits(s.registry); len(pending) > 0 {
		refreshed, healthy, err := s.fulfilDeposits(ctx, logger, account, pending, prices)
		switch {
		case err != nil:
			logger.Warn("failed to fulfil pending deposits", "markets", pending, "error", err)
		case healthy:
			logger.Info("pending deposits restored health")
			return outbound.RepairOutcomeResolved, 0
		default:
			account = refreshed
		}
	}

	sorted, err := margin.SortPositions(account.Positions, prices, s.registry)
	if err != nil {
		logger.Error("failed to value positions", "error", err)
		return outbound.RepairOutcomeFailed, 0
	}
	if len(sorted.Loans) == 0 {
		logger.Error("unhealthy account has no loans", "error", entity.ErrNoLoanPositions)
		return outbound.RepairOutcomeNoLoanPositions, 0
	}
	if largest := sorted.Loans[0].AbsValue(); largest < s.config.MinLoanValue {
		logger.Info("largest loan below minimum, ignoring", "loanValue", largest, "minimum", s.config.MinLoanValue)
		return outbound.RepairOutcomeBelowMinimum, 0
	}

	attempts := 0
	var lastErr error
	sig, err := retry.Do(ctx, s.retryConfig(), isRetryableRepairError,
		func(attempt int, err error, backoff time.Duration) {
			logger.Warn("repay attempt failed, retrying",
				"attempt", attempt,
				"maxAttempts", s.config.MaxAttempts,
				"backoff", backoff,
				"error", err,
			)
		},
		func() (solana.Signature, error) {
			attempts++
			if attempts > 1 {
				var recovered bool
				account, sorted, recovered = s.reload(ctx, logger, account, sorted, prices)
				if recovered {
					return solana.Signature{}, retry.Permanent(errRecovered)
				}
			}
			sig, err := s.attempt(ctx, logger, account, sorted, prices)
			if err != nil {
				lastErr = err
			}
			return sig, err
		})

	var below *entity.CollateralBelowMinimumError
	switch {
	case err == nil:
		logger.Info("repay confirmed", "signature", sig, "attempts", attempts)
		s.checkFeePayer(ctx)
		if health, err := s.currentHealth(ctx, account.Owner, prices); err == nil {
			s.metrics.RecordHealth(ctx, health)
			logger.Info("health after repay", "health", health)
		}
		return outbound.RepairOutcomeSuccess, attempts
	case errors.Is(err, errRecovered):
		logger.Info("account recovered between attempts")
		return outbound.RepairOutcomeResolved, attempts - 1
	case errors.As(err, &below):
		logger.Warn("collateral below minimum, not repaying", "collateralValue", below.Value)
		return outbound.RepairOutcomeBelowMinimum, attempts
	case errors.Is(err, entity.ErrNoLoanPositions):
		logger.Error("unhealthy account has no loans", "error", err)
		return outbound.RepairOutcomeNoLoanPositions, attempts
	case errors.Is(err, entity.ErrNoRouteFound):
		logger.Warn("no swap route for any pair, will retry next scan", "error", err)
		return outbound.RepairOutcomeNoRoute, attempts
	case ctx.Err() != nil:
		logger.Info("repair cancelled", "attempts", attempts)
		return outbound.RepairOutcomeFailed, attempts
	}

	// A confirmation timeout may hide a transaction that landed.
	if health, herr := s.currentHealth(ctx, account.Owner, prices); herr == nil && health > 0 {
		logger.Info("account recovered despite failed attempts", "health", health, "error", err)
		s.metrics.RecordHealth(ctx, health)
		return outbound.RepairOutcomeResolved, attempts
	}

	trace.SpanFromContext(ctx).RecordError(err)
	slippage := errors.Is(lastErr, entity.ErrSlippageExceeded)
	logger.Error("repay failed after all attempts",
		"attempts", attempts,
		"slippageExceeded", slippage,
		"error", err,
	)
	message := fmt.Sprintf("auto-repay failed for %s after %d attempts: %v", account.Owner, attempts, err)
	if slippage {
		message = "[Slippage Exceeded] " + message
	}
	s.sendAlert(ctx, outbound.Alert{
		Severity: outbound.SeverityCritical,
		Subject:  "Auto-repay failed",
		Message:  message,
		Account:  account.Owner.String(),
	})
	return outbound.RepairOutcomeFailed, attempts
}

// attempt plans, submits and confirms one repay transaction inside its own
// span.
func (s *Service) attempt(ctx context.Context, logger *slog.Logger, account *entity.Account, sorted entity.SortedPositions, prices entity.PriceTable) (solana.Signature, error) {
	ctx, span := s.tracer.Start(ctx, "autorepay.attempt",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("account.owner", account.Owner.String())),
	)
	defer span.End()

	sig, skip, err := s.submitRepay(ctx, logger, account, sorted, prices)
	span.SetAttributes(
		attribute.Int("repay.skip", skip),
		attribute.String("attempt.outcome", attemptOutcome(err)),
	)
	if sig != (solana.Signature{}) {
		span.SetAttributes(attribute.String("tx.signature", sig.String()))
	}
	if err != nil {
		span.RecordError(err)
		if isRetryableRepairError(err) {
			span.SetStatus(codes.Error, "repay attempt failed")
		}
	}
	return sig, err
}

func attemptOutcome(err error) string {
	var below *entity.CollateralBelowMinimumError
	switch {
	case err == nil:
		return "confirmed"
	case errors.Is(err, entity.ErrNoRouteFound):
		return outbound.RepairOutcomeNoRoute
	case errors.As(err, &below):
		return outbound.RepairOutcomeBelowMinimum
	case errors.Is(err, entity.ErrNoLoanPositions):
		return outbound.RepairOutcomeNoLoanPositions
	case errors.Is(err, entity.ErrSlippageExceeded):
		return "slippage_exceeded"
	}
	return outbound.RepairOutcomeFailed
}

// submitRepay plans and submits until one collateral has a route, dropping
// the next largest collateral after each route failure. It returns the skip
// of the last plan tried.
func (s *Service) submitRepay(ctx context.Context, logger *slog.Logger, account *entity.Account, sorted entity.SortedPositions, prices entity.PriceTable) (solana.Signature, int, error) {
	lastErr := entity.ErrNoRouteFound
	skip := 0
	for ; skip < s.config.MaxRouteAttempts; skip++ {
		plan, quote, err := s.planner.Plan(ctx, account, sorted, prices, skip)
		if errors.Is(err, entity.ErrNoRouteFound) {
			lastErr = err
			continue
		}
		// Only the pairs left after skipping are below the floor. The
		// skipped ones had no route, so the account still needs repaying.
		var below *entity.CollateralBelowMinimumError
		if skip > 0 && errors.As(err, &below) {
			return solana.Signature{}, skip, lastErr
		}
		if err != nil {
			return solana.Signature{}, skip, err
		}

		logger.Info("submitting repay",
			"plan", plan.String(),
			"repayValue", plan.RepayValue,
			"skip", skip,
		)

		sig, err := s.builder.BuildAndSubmit(ctx, account, plan, quote)
		if errors.Is(err, entity.ErrNoRouteFound) {
			lastErr = err
			continue
		}
		if err != nil {
			return sig, skip, classifySubmission(err)
		}

		if err := s.confirm(ctx, sig); err != nil {
			return sig, skip, err
		}
		return sig, skip, nil
	}
	return solana.Signature{}, skip - 1, lastErr
}

// reload refreshes the account before a retry. recovered is true when it no
// longer needs repairing. On read failure the previous state is kept.
func (s *Service) reload(ctx context.Context, logger *slog.Logger, account *entity.Account, sorted entity.SortedPositions, prices entity.PriceTable) (*entity.Account, entity.SortedPositions, bool) {
	fresh, err := s.accounts.GetAccount(ctx, account.Owner)
	if err != nil {
		logger.Warn("failed to reload account before retry", "error", err)
		return account, sorted, false
	}
	health, err := margin.ComputeHealth(fresh, prices, s.registry, margin.Params{})
	if err == nil && health.Score > 0 {
		return fresh, sorted, true
	}
	freshSorted, err := margin.SortPositions(fresh.Positions, prices, s.registry)
	if err != nil {
		logger.Warn("failed to value reloaded account", "error", err)
		return account, sorted, false
	}
	return fresh, freshSorted, false
}

// fulfilDeposits credits pending deposit-address balances and reports
// whether that alone restored the account's health.
func (s *Service) fulfilDeposits(ctx context.Context, logger *slog.Logger, account *entity.Account, markets []entity.MarketIndex, prices entity.PriceTable) (*entity.Account, bool, error) {
	logger.Info("fulfilling pending deposits", "markets", markets)

	sig, err := s.builder.FulfilDeposits(ctx, account, markets)
	if err != nil {
		return nil, false, fmt.Errorf("submitting deposit fulfilment: %w", classifySubmission(err))
	}
	if err := s.confirm(ctx, sig); err != nil {
		return nil, false, err
	}
	logger.Info("deposits fulfilled", "signature", sig)

	refreshed, err := s.accounts.GetAccount(ctx, account.Owner)
	if err != nil {
		return nil, false, fmt.Errorf("reloading account: %w", err)
	}
	health, err := margin.ComputeHealth(refreshed, prices, s.registry, margin.Params{})
	if err != nil {
		return nil, false, fmt.Errorf("computing health: %w", err)
	}
	return refreshed, health.Score > 0, nil
}

// currentHealth reloads the account and scores it at current prices, falling
// back to the scan's prices when a fresh table is unavailable.
func (s *Service) currentHealth(ctx context.Context, owner solana.PublicKey, scanPrices entity.PriceTable) (int, error) {
	account, err := s.accounts.GetAccount(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("reloading account: %w", err)
	}
	prices, err := s.prices.GetPrices(ctx)
	if err != nil {
		prices = scanPrices
	}
	health, err := margin.ComputeHealth(account, prices, s.registry, margin.Params{})
	if err != nil {
		return 0, err
	}
	return health.Score, nil
}

func (s *Service) checkFeePayer(ctx context.Context) {
	bot := s.builder.Address()
	lamports, err := s.chain.Balance(ctx, bot)
	if err != nil {
		s.logger.Warn("failed to read fee payer balance", "bot", bot, "error", err)
		return
	}
	if lamports >= s.config.LowBalanceLamports {
		return
	}

	s.logger.Warn("fee payer balance low", "bot", bot, "lamports", lamports, "threshold", s.config.LowBalanceLamports)
	s.sendAlert(ctx, outbound.Alert{
		Severity: outbound.SeverityWarning,
		Subject:  "Auto-repay fee payer balance low",
		Message: fmt.Sprintf("fee payer %s holds %d lamports, below %d; repairs will start failing",
			bot, lamports, s.config.LowBalanceLamports),
	})
}

func (s *Service) retryConfig() retry.Config {
	return retry.Config{
		MaxRetries:     s.config.MaxAttempts - 1,
		InitialBackoff: s.config.RetryBackoff,
		MaxBackoff:     s.config.MaxRetryBackoff,
		BackoffFactor:  2.0,
	}
}

// isRetryableRepairError reports whether another attempt could succeed.
// Planning outcomes are final for this scan.
func isRetryableRepairError(err error) bool {
	var below *entity.CollateralBelowMinimumError
	switch {
	case errors.As(err, &below),
		errors.Is(err, entity.ErrNoLoanPositions),
		errors.Is(err, entity.ErrNoRouteFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// classifySubmission tags preflight failures whose logs show slippage.
func classifySubmission(err error) error {
	var subErr *entity.SubmissionError
	if errors.As(err, &subErr) && entity.IsSlippageLog(subErr.Logs) {
		return fmt.Errorf("%w: %w", entity.ErrSlippageExceeded, err)
	}
	return err
}
