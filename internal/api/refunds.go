package api

import (
	"context"

	"refund-relay-go/internal/models"
	"refund-relay-go/internal/refund"

	"go.uber.org/zap"
)

// Refund brings the account's ledger up to date, then validates the signed
// refund and settles it on chain. A failed catch-up is logged and the refund
// is judged against the ledger as it stands.
func (s *RelayService) Refund(ctx context.Context, in models.RefundRequest) (*models.RefundResponse, error) {
	req, err := refund.ParseRequest(in)
	if err != nil {
		return nil, err
	}

	if session, ok := s.registry.Get(req.Account); ok {
		if err := s.watcher.Ensure(ctx, session); err != nil {
			zap.L().Warn("Deposit catch-up before refund failed",
				zap.String("address", req.Account.Hex()),
				zap.Error(err))
		}
	}

	txHash, err := s.refunder.Refund(ctx, req)
	if err != nil {
		return nil, err
	}
	return &models.RefundResponse{TxHash: txHash.Hex()}, nil
}
