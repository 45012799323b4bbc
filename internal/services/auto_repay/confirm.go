package auto_repay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

var errConfirmTimeout = errors.New("transaction not confirmed in time")

// confirm polls sig until it is confirmed, fails on-chain, or ConfirmTimeout
// passes. An on-chain failure is returned as *entity.SubmissionError carrying
// the transaction logs, tagged with entity.ErrSlippageExceeded when the logs
// show a slippage revert.
func (s *Service) confirm(ctx context.Context, sig solana.Signature) error {
	deadline := time.NewTimer(s.config.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.config.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		status, err := s.chain.SignatureStatus(ctx, sig)
		if err != nil {
			s.logger.Debug("signature status unavailable", "signature", sig, "error", err)
		} else {
			switch status.State {
			case outbound.SignatureConfirmed:
				return nil
			case outbound.SignatureFailed:
				return s.onChainFailure(ctx, sig, status.Err)
			case outbound.SignaturePending:
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &entity.SubmissionError{Signature: sig, Err: errConfirmTimeout}
		case <-ticker.C:
		}
	}
}

func (s *Service) onChainFailure(ctx context.Context, sig solana.Signature, reason string) error {
	logs, err := s.chain.TransactionLogs(ctx, sig)
	if err != nil {
		s.logger.Warn("failed to fetch transaction logs", "signature", sig, "error", err)
	}

	subErr := &entity.SubmissionError{
		Signature: sig,
		Logs:      logs,
		Err:       fmt.Errorf("transaction failed on-chain: %s", reason),
	}
	if entity.IsSlippageLog(logs) {
		return fmt.Errorf("%w: %w", entity.ErrSlippageExceeded, subErr)
	}
	return subErr
}
