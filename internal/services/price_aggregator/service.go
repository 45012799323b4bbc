// Package price_aggregator builds the per-scan price table from a primary
// provider, filling gaps from a fallback provider.
package price_aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// Config holds configuration for the price aggregator.
type Config struct {
	// MaxPriceAge rejects prices whose timestamp is older than this. Prices
	// without a timestamp are accepted.
	MaxPriceAge time.Duration

	// Logger is the structured logger for the service.
	Logger *slog.Logger
}

// ConfigDefaults returns the default aggregator configuration.
func ConfigDefaults() Config {
	return Config{
		MaxPriceAge: 2 * time.Minute,
	}
}

// Service combines a primary and an optional fallback PriceProvider.
type Service struct {
	config   Config
	registry *entity.AssetRegistry
	primary  outbound.PriceProvider
	fallback outbound.PriceProvider
	logger   *slog.Logger
	now      func() time.Time
}

var _ outbound.PriceSource = (*Service)(nil)

// NewService creates a new price aggregator. fallback may be nil.
func NewService(config Config, registry *entity.AssetRegistry, primary, fallback outbound.PriceProvider) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("asset registry cannot be nil")
	}
	if primary == nil {
		return nil, fmt.Errorf("primary provider cannot be nil")
	}
	if config.MaxPriceAge <= 0 {
		config.MaxPriceAge = ConfigDefaults().MaxPriceAge
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		config:   config,
		registry: registry,
		primary:  primary,
		fallback: fallback,
		logger:   logger.With("component", "price-aggregator", "primary", primary.Name()),
		now:      time.Now,
	}, nil
}

// GetPrices returns a price for every registered asset. Assets the primary
// cannot price, or prices too old to use, are requested from the fallback.
// It fails when any asset is still unpriced.
func (s *Service) GetPrices(ctx context.Context) (entity.PriceTable, error) {
	assets := s.registry.All()
	table := make(entity.PriceTable, len(assets))

	primary, err := s.primary.GetPrices(ctx, assets)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("primary price provider failed", "error", err)
	}
	s.merge(table, primary)

	missing := s.missing(table, assets)
	if len(missing) > 0 && s.fallback != nil {
		s.logger.Info("filling prices from fallback",
			"fallback", s.fallback.Name(),
			"assets", symbols(missing),
		)
		fallback, err := s.fallback.GetPrices(ctx, missing)
		if err != nil {
			s.logger.Warn("fallback price provider failed", "fallback", s.fallback.Name(), "error", err)
		}
		s.merge(table, fallback)
		missing = s.missing(table, assets)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", entity.ErrPriceUnavailable, strings.Join(symbols(missing), ", "))
	}
	return table, nil
}

// merge copies usable prices from src into dst without replacing existing ones.
func (s *Service) merge(dst, src entity.PriceTable) {
	for idx, p := range src {
		if _, ok := dst[idx]; ok {
			continue
		}
		if !p.Valid() {
			continue
		}
		if s.stale(p) {
			s.logger.Debug("dropping stale price", "market", idx, "source", p.Source, "timestamp", p.Timestamp)
			continue
		}
		dst[idx] = p
	}
}

func (s *Service) stale(p entity.OraclePrice) bool {
	if p.Timestamp.IsZero() {
		return false
	}
	return s.now().Sub(p.Timestamp) > s.config.MaxPriceAge
}

func (s *Service) missing(table entity.PriceTable, assets []*entity.Asset) []*entity.Asset {
	var out []*entity.Asset
	for _, a := range assets {
		if _, ok := table[a.MarketIndex]; !ok {
			out = append(out, a)
		}
	}
	return out
}

func symbols(assets []*entity.Asset) []string {
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.Symbol
	}
	return out
}
