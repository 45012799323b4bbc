// Package repay_planner chooses which loan to repay with which collateral,
// and how much to swap, to bring an unhealthy account back to a goal health.
package repay_planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
	"github.com/archon-research/stl/auto-repay/internal/services/margin"
)

// Config holds configuration for the planner.
type Config struct {
	// GoalHealth is the health to restore, as a fraction (0.15 = 15%).
	GoalHealth float64

	// HealthBuffer is extra headroom on top of GoalHealth, as a fraction.
	HealthBuffer float64

	// MinLoanValue is the smallest repayment worth a transaction, in USDC base units.
	MinLoanValue int64

	// SlippageBps is the slippage tolerance passed to the quote source.
	SlippageBps uint16

	// Logger is the structured logger for the planner.
	Logger *slog.Logger
}

// ConfigDefaults returns the default planner configuration.
func ConfigDefaults() Config {
	return Config{
		GoalHealth:   0.15,
		MinLoanValue: 1_000_000,
		SlippageBps:  50,
	}
}

// Planner selects a repay plan and an executable quote for it.
type Planner struct {
	config   Config
	quotes   outbound.QuoteSource
	registry *entity.AssetRegistry
	logger   *slog.Logger
}

// NewPlanner creates a new Planner.
func NewPlanner(config Config, quotes outbound.QuoteSource, registry *entity.AssetRegistry) (*Planner, error) {
	if quotes == nil {
		return nil, fmt.Errorf("quote source cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("asset registry cannot be nil")
	}
	if config.GoalHealth <= 0 || config.GoalHealth >= 1 {
		return nil, fmt.Errorf("goal health must be in (0, 1), got %v", config.GoalHealth)
	}
	if config.HealthBuffer < 0 || config.HealthBuffer >= 1 {
		return nil, fmt.Errorf("health buffer must be in [0, 1), got %v", config.HealthBuffer)
	}
	if config.SlippageBps >= entity.WeightPrecision {
		return nil, fmt.Errorf("slippage must be below %d bps, got %d", entity.WeightPrecision, config.SlippageBps)
	}

	defaults := ConfigDefaults()
	if config.MinLoanValue <= 0 {
		config.MinLoanValue = defaults.MinLoanValue
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Planner{
		config:   config,
		quotes:   quotes,
		registry: registry,
		logger:   logger.With("component", "repay-planner"),
	}, nil
}

// outcomeKind tags the result of evaluating one (loan, collateral) pair.
type outcomeKind int

const (
	outcomeFound outcomeKind = iota
	outcomeNoRoute
	outcomeBelowMinimum
)

type outcome struct {
	kind  outcomeKind
	plan  entity.RepayPlan
	quote entity.Quote
}

// pairContext is the account state shared by every pair of one Plan call.
type pairContext struct {
	account    *entity.Account
	prices     entity.PriceTable
	collateral int64
	liability  int64
}

// Plan walks loans largest first and, for each, the collateral positions
// largest first after dropping the first skip of them. It returns the first
// pair for which the quote source has a route.
//
// It fails with entity.ErrNoLoanPositions when there are no loans, with
// *entity.CollateralBelowMinimumError when no pair is worth repaying, and
// with entity.ErrNoRouteFound when pairs were worth repaying but none could
// be routed.
func (p *Planner) Plan(ctx context.Context, account *entity.Account, sorted entity.SortedPositions, prices entity.PriceTable, skip int) (entity.RepayPlan, entity.Quote, error) {
	if len(sorted.Loans) == 0 {
		return entity.RepayPlan{}, entity.Quote{}, entity.ErrNoLoanPositions
	}
	if skip < 0 {
		skip = 0
	}
	if skip > 0 && skip >= len(sorted.Collateral) {
		return entity.RepayPlan{}, entity.Quote{}, entity.ErrNoRouteFound
	}

	collateral, liability, err := margin.WeightedTotals(account, prices, p.registry, margin.Params{})
	if err != nil {
		return entity.RepayPlan{}, entity.Quote{}, fmt.Errorf("valuing account: %w", err)
	}
	pc := pairContext{account: account, prices: prices, collateral: collateral, liability: liability}

	aboveMinimum := false
	for _, loan := range sorted.Loans {
		for _, coll := range sorted.Collateral[skip:] {
			if loan.MarketIndex == coll.MarketIndex {
				continue
			}

			out, err := p.evaluatePair(ctx, pc, loan, coll)
			if err != nil {
				return entity.RepayPlan{}, entity.Quote{}, err
			}

			switch out.kind {
			case outcomeFound:
				return out.plan, out.quote, nil
			case outcomeNoRoute:
				aboveMinimum = true
			case outcomeBelowMinimum:
			}
		}
	}

	if !aboveMinimum {
		return entity.RepayPlan{}, entity.Quote{}, &entity.CollateralBelowMinimumError{Value: sorted.TotalCollateral()}
	}
	return entity.RepayPlan{}, entity.Quote{}, entity.ErrNoRouteFound
}

func (p *Planner) evaluatePair(ctx context.Context, pc pairContext, loan, coll entity.ValuedPosition) (outcome, error) {
	loanAsset, ok := p.registry.Get(loan.MarketIndex)
	if !ok {
		return outcome{}, fmt.Errorf("unknown loan market %d", loan.MarketIndex)
	}
	collAsset, ok := p.registry.Get(coll.MarketIndex)
	if !ok {
		return outcome{}, fmt.Errorf("unknown collateral market %d", coll.MarketIndex)
	}
	loanPrice, err := pc.prices.Get(loan.MarketIndex)
	if err != nil {
		return outcome{}, err
	}
	collPrice, err := pc.prices.Get(coll.MarketIndex)
	if err != nil {
		return outcome{}, err
	}

	repay := p.repayValue(pc, loan, coll, collAsset)
	if repay < p.config.MinLoanValue {
		p.logger.Debug("pair below minimum repay value",
			"loan", loan.MarketIndex,
			"collateral", coll.MarketIndex,
			"repayValue", repay,
		)
		return outcome{kind: outcomeBelowMinimum}, nil
	}

	loanPriceFixed := entity.PriceToFixed(loanPrice.Spot)
	collPriceFixed := entity.PriceToFixed(collPrice.Spot)
	collBalance := uint64(max(pc.account.Balance(coll.MarketIndex), 0))
	loanOwed := uint64(-min(pc.account.Balance(loan.MarketIndex), 0))

	plan := entity.RepayPlan{
		LoanMarket:       loan.MarketIndex,
		CollateralMarket: coll.MarketIndex,
		RepayValue:       repay,
	}

	// Exact output: receive the loan amount, bounded by what the whole
	// collateral balance buys after slippage.
	collValueAfterSlippage := margin.ApplyWeight(
		margin.TokenValue(collBalance, collPriceFixed, collAsset.Decimals),
		uint32(entity.WeightPrecision-p.config.SlippageBps),
	)
	outAmount := min(
		margin.TokenAmount(uint64(repay), loanPriceFixed, loanAsset.Decimals),
		margin.TokenAmount(collValueAfterSlippage, loanPriceFixed, loanAsset.Decimals),
		loanOwed,
	)
	if outAmount > 0 {
		quote, found, err := p.quote(ctx, entity.SwapExactOut, collAsset, loanAsset, outAmount, collBalance)
		if err != nil {
			return outcome{}, err
		}
		if found {
			plan.SwapMode = entity.SwapExactOut
			plan.SwapAmount = outAmount
			return outcome{kind: outcomeFound, plan: plan, quote: quote}, nil
		}
	}

	// Exact input: sell collateral worth the repay value, never more than held.
	inAmount := min(margin.TokenAmount(uint64(repay), collPriceFixed, collAsset.Decimals), collBalance)
	if inAmount == 0 {
		return outcome{kind: outcomeNoRoute}, nil
	}
	quote, found, err := p.quote(ctx, entity.SwapExactIn, collAsset, loanAsset, inAmount, collBalance)
	if err != nil {
		return outcome{}, err
	}
	if !found {
		return outcome{kind: outcomeNoRoute}, nil
	}

	plan.SwapMode = entity.SwapExactIn
	plan.SwapAmount = inAmount
	return outcome{kind: outcomeFound, plan: plan, quote: quote}, nil
}

// repayValue sizes the repayment for a pair, capped by the loan and by the
// collateral available to sell.
func (p *Planner) repayValue(pc pairContext, loan, coll entity.ValuedPosition, collAsset *entity.Asset) int64 {
	weight := float64(collAsset.MaintenanceAssetWeight) / entity.WeightPrecision

	repay := loan.AbsValue()
	if r, ok := margin.RepayValue(p.config.GoalHealth, float64(pc.liability), float64(pc.collateral), weight, p.config.HealthBuffer); ok {
		repay = min(repay, int64(r))
	}
	return min(repay, coll.Value)
}

// quote requests a quote and reports found=false when there is no route or
// the route would need more collateral than the account holds.
func (p *Planner) quote(ctx context.Context, mode entity.SwapMode, from, to *entity.Asset, amount, balance uint64) (entity.Quote, bool, error) {
	quote, err := p.quotes.GetQuote(ctx, entity.QuoteRequest{
		Mode:        mode,
		InputMint:   from.Mint,
		OutputMint:  to.Mint,
		Amount:      amount,
		SlippageBps: p.config.SlippageBps,
	})
	if errors.Is(err, entity.ErrNoRouteFound) {
		p.logger.Debug("no route", "mode", mode, "from", from.Symbol, "to", to.Symbol, "amount", amount)
		return entity.Quote{}, false, nil
	}
	if err != nil {
		return entity.Quote{}, false, fmt.Errorf("quoting %s %s->%s: %w", mode, from.Symbol, to.Symbol, err)
	}

	if quote.RequiredInput() > balance {
		p.logger.Debug("route needs more collateral than held",
			"mode", mode,
			"from", from.Symbol,
			"required", quote.RequiredInput(),
			"balance", balance,
		)
		return entity.Quote{}, false, nil
	}
	return quote, true, nil
}
