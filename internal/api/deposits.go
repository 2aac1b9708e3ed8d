package api

import (
	"context"
	"fmt"

	"refund-relay-go/internal/common"
	"refund-relay-go/internal/models"
	"refund-relay-go/internal/store"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// GetDeposits brings the account's ledger up to date and returns it newest first.
func (s *RelayService) GetDeposits(ctx context.Context, address string) (*models.DepositsResponse, error) {
	session, err := s.lookup(address)
	if err != nil {
		return nil, err
	}

	if err := s.watcher.Ensure(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to sync deposits: %w", err)
	}

	snapshot := session.Snapshot()
	response := &models.DepositsResponse{
		Address:         snapshot.Address.Hex(),
		Watching:        snapshot.State == models.WatcherLive,
		WatcherState:    string(snapshot.State),
		LastSyncedBlock: snapshot.LastSyncedBlock,
		Deposits:        make([]models.DepositView, 0, len(snapshot.Deposits)),
	}
	for _, d := range snapshot.Deposits {
		view := models.DepositView{
			Amount:          d.Amount.String(),
			AmountFormatted: common.FormatTokenAmount(d.Amount, s.tokenDecimals),
			Sender:          d.Sender.Hex(),
			TxHash:          d.TxHash.Hex(),
			LogIndex:        d.LogIndex,
			BlockNumber:     d.BlockNumber,
			BlockTimestamp:  d.BlockTimestamp,
			Ready:           d.Ready,
			Refunded:        d.Refunded,
		}
		if d.RefundTxHash != nil {
			view.RefundTxHash = d.RefundTxHash.Hex()
		}
		response.Deposits = append(response.Deposits, view)
	}

	return response, nil
}

// GetNonce returns the account's EntryPoint nonce for key 0.
func (s *RelayService) GetNonce(ctx context.Context, address string) (*models.NonceResponse, error) {
	account, err := parseAccount(address)
	if err != nil {
		return nil, err
	}
	nonce, err := s.nonces.Nonce(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	return &models.NonceResponse{
		Address: account.Hex(),
		Nonce:   fmt.Sprintf("%d", nonce),
	}, nil
}

func (s *RelayService) lookup(address string) (*store.Session, error) {
	account, err := parseAccount(address)
	if err != nil {
		return nil, err
	}
	session, ok := s.registry.Get(account)
	if !ok {
		return nil, models.Reject(models.ReasonSessionNotFound, "no session for %s", account.Hex())
	}
	return session, nil
}

func parseAccount(address string) (ethcommon.Address, error) {
	if !ethcommon.IsHexAddress(address) {
		return ethcommon.Address{}, models.Reject(models.ReasonInvalidRequest, "invalid address %q", address)
	}
	return ethcommon.HexToAddress(address), nil
}
