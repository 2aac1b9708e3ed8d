package refund

import (
	"math/big"
	"strings"

	"refund-relay-go/internal/chain"
	"refund-relay-go/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// Request is a refund request with every field decoded.
type Request struct {
	Account      common.Address
	CredentialId string
	Signature    WebAuthnAuth
	OwnerIndex   *big.Int
	Nonce        *big.Int
	// Operation carries the caller's payload; Nonce and Signature are set
	// when the final operation is assembled.
	Operation chain.UserOperation
	Deposit   models.DepositRef
}

// ParseRequest decodes the wire request. Any malformed field is rejected
// with invalid_request.
func ParseRequest(in models.RefundRequest) (*Request, error) {
	p := parser{}

	req := &Request{
		Account:      p.address("address", in.Address),
		CredentialId: strings.TrimSpace(in.CredentialId),
		OwnerIndex:   new(big.Int).SetUint64(in.Metadata.OwnerIndex),
		Nonce:        p.quantity("nonce", in.Nonce),
		Signature: WebAuthnAuth{
			AuthenticatorData: p.bytes("signature.authenticator_data", in.Signature.AuthenticatorData),
			ClientDataJSON:    in.Signature.ClientDataJSON,
			ChallengeIndex:    new(big.Int).SetUint64(in.Signature.ChallengeIndex),
			TypeIndex:         new(big.Int).SetUint64(in.Signature.TypeIndex),
			R:                 p.quantity("signature.r", in.Signature.R),
			S:                 p.quantity("signature.s", in.Signature.S),
		},
		Operation: chain.UserOperation{
			Sender:               p.address("user_operation.sender", in.UserOperation.Sender),
			InitCode:             p.optionalBytes("user_operation.init_code", in.UserOperation.InitCode),
			CallData:             p.bytes("user_operation.call_data", in.UserOperation.CallData),
			CallGasLimit:         p.quantity("user_operation.call_gas_limit", in.UserOperation.CallGasLimit),
			VerificationGasLimit: p.quantity("user_operation.verification_gas_limit", in.UserOperation.VerificationGasLimit),
			PreVerificationGas:   p.quantity("user_operation.pre_verification_gas", in.UserOperation.PreVerificationGas),
			MaxFeePerGas:         p.quantity("user_operation.max_fee_per_gas", in.UserOperation.MaxFeePerGas),
			MaxPriorityFeePerGas: p.quantity("user_operation.max_priority_fee_per_gas", in.UserOperation.MaxPriorityFeePerGas),
			PaymasterAndData:     p.optionalBytes("user_operation.paymaster_and_data", in.UserOperation.PaymasterAndData),
		},
		Deposit: models.DepositRef{
			TxHash:   p.hash("deposit.tx_hash", in.Deposit.TxHash),
			LogIndex: in.Deposit.LogIndex,
			Sender:   p.address("deposit.sender", in.Deposit.Sender),
			Amount:   p.quantity("deposit.amount", in.Deposit.Amount),
		},
	}

	if p.err == nil && req.CredentialId == "" {
		p.fail("credential_id is required")
	}
	if p.err == nil && in.Signature.ClientDataJSON == "" {
		p.fail("signature.client_data_json is required")
	}
	if p.err != nil {
		return nil, p.err
	}
	return req, nil
}

// parser keeps the first decoding failure so fields can be decoded in one
// pass.
type parser struct {
	err *models.Rejection
}

func (p *parser) fail(format string, args ...any) {
	if p.err == nil {
		p.err = models.Reject(models.ReasonInvalidRequest, format, args...)
	}
}

func (p *parser) address(field, raw string) common.Address {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		p.fail("%s is not a valid address", field)
		return common.Address{}
	}
	return common.HexToAddress(raw)
}

func (p *parser) hash(field, raw string) common.Hash {
	b, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil || len(b) != common.HashLength {
		p.fail("%s is not a valid transaction hash", field)
		return common.Hash{}
	}
	return common.BytesToHash(b)
}

func (p *parser) bytes(field, raw string) []byte {
	b, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil {
		p.fail("%s is not valid hex: %v", field, err)
		return nil
	}
	return b
}

func (p *parser) optionalBytes(field, raw string) []byte {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0x" {
		return []byte{}
	}
	return p.bytes(field, raw)
}

// quantity accepts decimal or 0x-prefixed hex.
func (p *parser) quantity(field, raw string) *big.Int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		p.fail("%s is required", field)
		return new(big.Int)
	}
	v, ok := math.ParseBig256(raw)
	if !ok || v.Sign() < 0 {
		p.fail("%s is not a valid unsigned integer", field)
		return new(big.Int)
	}
	return v
}
