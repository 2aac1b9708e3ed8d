package api

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"refund-relay-go/internal/models"

	"go.uber.org/zap"
)

// CreateAccount provisions the passkey account, registers its session and
// starts watching it for deposits. A watcher failure does not fail the call.
func (s *RelayService) CreateAccount(ctx context.Context, req models.CreateAccountRequest) (*models.CreateAccountResponse, error) {
	credentialId := strings.TrimSpace(req.CredentialId)
	if credentialId == "" {
		return nil, models.Reject(models.ReasonInvalidRequest, "credential_id is required")
	}
	x, err := parseCoordinate("public_key.x", req.PublicKey.X)
	if err != nil {
		return nil, err
	}
	y, err := parseCoordinate("public_key.y", req.PublicKey.Y)
	if err != nil {
		return nil, err
	}

	provisioned, err := s.provisioner.Provision(ctx, x, y)
	if err != nil {
		return nil, fmt.Errorf("failed to provision account: %w", err)
	}

	session := s.registry.Upsert(provisioned.Address, credentialId)
	zap.L().Info("Account session registered",
		zap.String("address", provisioned.Address.Hex()),
		zap.String("credential_id", credentialId))

	response := &models.CreateAccountResponse{
		Address:  provisioned.Address.Hex(),
		Watching: true,
	}
	if provisioned.DeployTx != nil {
		response.DeployTx = provisioned.DeployTx.Hex()
	}
	if provisioned.FundingTx != nil {
		response.FundingTx = provisioned.FundingTx.Hex()
	}

	if err := s.watcher.Ensure(ctx, session); err != nil {
		zap.L().Warn("Deposit watcher not started, will retry on next read",
			zap.String("address", provisioned.Address.Hex()),
			zap.Error(err))
		response.Watching = false
	}

	return response, nil
}

// parseCoordinate reads a hex P-256 coordinate, with or without 0x prefix
func parseCoordinate(field, raw string) (*big.Int, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	v, ok := new(big.Int).SetString(digits, 16)
	if !ok || v.Sign() <= 0 || v.BitLen() > 256 {
		return nil, models.Reject(models.ReasonInvalidRequest, "%s is not a valid coordinate", field)
	}
	return v, nil
}
