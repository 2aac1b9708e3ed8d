/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

// PublicKey is the P-256 passkey public key, coordinates hex encoded
type PublicKey struct {
	X string `json:"x"`
	Y string `json:"y"`
}

// CreateAccountRequest is the body of POST /account/create
type CreateAccountRequest struct {
	CredentialId string    `json:"credential_id"`
	PublicKey    PublicKey `json:"public_key"`
}

// CreateAccountResponse reports the provisioned account
type CreateAccountResponse struct {
	Address   string `json:"address"`
	DeployTx  string `json:"deploy_tx,omitempty"`
	FundingTx string `json:"funding_tx,omitempty"`
	Watching  bool   `json:"watching"`
}

// DepositView is a single ledger entry as returned to clients
type DepositView struct {
	Amount          string `json:"amount"`
	AmountFormatted string `json:"amount_formatted"`
	Sender          string `json:"sender"`
	TxHash          string `json:"tx_hash"`
	LogIndex        uint   `json:"log_index"`
	BlockNumber     uint64 `json:"block_number"`
	BlockTimestamp  uint64 `json:"block_timestamp"`
	Ready           bool   `json:"ready"`
	Refunded        bool   `json:"refunded"`
	RefundTxHash    string `json:"refund_tx_hash,omitempty"`
}

// DepositsResponse is the body of GET /account/{address}/deposits
type DepositsResponse struct {
	Address         string        `json:"address"`
	Watching        bool          `json:"watching"`
	WatcherState    string        `json:"watcher_state"`
	LastSyncedBlock *uint64       `json:"last_synced_block,omitempty"`
	Deposits        []DepositView `json:"deposits"`
}

// NonceResponse is the body of GET /account/{address}/nonce
type NonceResponse struct {
	Address string `json:"address"`
	Nonce   string `json:"nonce"`
}

// WebAuthnSignature carries the assertion fields produced by the passkey ceremony
type WebAuthnSignature struct {
	AuthenticatorData string `json:"authenticator_data"`
	ClientDataJSON    string `json:"client_data_json"`
	ChallengeIndex    uint64 `json:"challenge_index"`
	TypeIndex         uint64 `json:"type_index"`
	R                 string `json:"r"`
	S                 string `json:"s"`
}

// CeremonyMetadata describes which account owner produced the signature
type CeremonyMetadata struct {
	OwnerIndex uint64 `json:"owner_index"`
}

// UserOperation is the externally constructed operation, all fields hex encoded
type UserOperation struct {
	Sender               string `json:"sender"`
	InitCode             string `json:"init_code"`
	CallData             string `json:"call_data"`
	CallGasLimit         string `json:"call_gas_limit"`
	VerificationGasLimit string `json:"verification_gas_limit"`
	PreVerificationGas   string `json:"pre_verification_gas"`
	MaxFeePerGas         string `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas string `json:"max_priority_fee_per_gas"`
	PaymasterAndData     string `json:"paymaster_and_data"`
}

// DepositReference is the caller's claimed deposit
type DepositReference struct {
	TxHash   string `json:"tx_hash"`
	LogIndex uint   `json:"log_index"`
	Sender   string `json:"sender"`
	Amount   string `json:"amount"`
}

// RefundRequest is the body of POST /account/refund
type RefundRequest struct {
	Address       string            `json:"address"`
	CredentialId  string            `json:"credential_id"`
	Signature     WebAuthnSignature `json:"signature"`
	Metadata      CeremonyMetadata  `json:"metadata"`
	Nonce         string            `json:"nonce"`
	UserOperation UserOperation     `json:"user_operation"`
	Deposit       DepositReference  `json:"deposit"`
}

// RefundResponse reports a settled refund
type RefundResponse struct {
	TxHash string `json:"tx_hash"`
}

// ErrorBody is the structured error returned at the HTTP boundary
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps ErrorBody
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
