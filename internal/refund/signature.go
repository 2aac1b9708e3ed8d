package refund

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// WebAuthnAuth is the passkey assertion the account verifies on chain.
type WebAuthnAuth struct {
	AuthenticatorData []byte
	ClientDataJSON    string
	ChallengeIndex    *big.Int
	TypeIndex         *big.Int
	R                 *big.Int
	S                 *big.Int
}

type signatureWrapper struct {
	OwnerIndex    *big.Int
	SignatureData []byte
}

var (
	webAuthnAuthArgs = abi.Arguments{{Type: mustTupleType([]abi.ArgumentMarshaling{
		{Name: "authenticatorData", Type: "bytes"},
		{Name: "clientDataJSON", Type: "string"},
		{Name: "challengeIndex", Type: "uint256"},
		{Name: "typeIndex", Type: "uint256"},
		{Name: "r", Type: "uint256"},
		{Name: "s", Type: "uint256"},
	})}}

	signatureWrapperArgs = abi.Arguments{{Type: mustTupleType([]abi.ArgumentMarshaling{
		{Name: "ownerIndex", Type: "uint256"},
		{Name: "signatureData", Type: "bytes"},
	})}}
)

// EncodeSignature produces abi.encode(SignatureWrapper{ownerIndex,
// abi.encode(WebAuthnAuth)}), the signature layout the account validates.
func EncodeSignature(ownerIndex *big.Int, auth WebAuthnAuth) ([]byte, error) {
	inner, err := webAuthnAuthArgs.Pack(auth)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webauthn assertion: %w", err)
	}

	out, err := signatureWrapperArgs.Pack(signatureWrapper{
		OwnerIndex:    ownerIndex,
		SignatureData: inner,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode signature wrapper: %w", err)
	}
	return out, nil
}

func mustTupleType(components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType("tuple", "", components)
	if err != nil {
		panic(fmt.Sprintf("failed to build tuple type: %v", err))
	}
	return typ
}
