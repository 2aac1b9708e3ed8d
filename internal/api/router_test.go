package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"refund-relay-go/internal/chain"
	"refund-relay-go/internal/models"
	"refund-relay-go/internal/refund"
	"refund-relay-go/internal/store"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

var (
	testAccount   = ethcommon.HexToAddress("0x1111111111111111111111111111111111111111")
	testDepositor = ethcommon.HexToAddress("0x2222222222222222222222222222222222222222")
	testToken     = ethcommon.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	testDepositTx = ethcommon.HexToHash("0xd0")
)

type fakeProvisioner struct {
	x, y *big.Int
	err  error
}

func (p *fakeProvisioner) Provision(_ context.Context, x, y *big.Int) (*chain.Provisioned, error) {
	p.x, p.y = x, y
	if p.err != nil {
		return nil, p.err
	}
	deploy := ethcommon.HexToHash("0xde")
	return &chain.Provisioned{Address: testAccount, DeployTx: &deploy}, nil
}

type fakeWatcher struct {
	calls int
	err   error
	// seed is merged into the session on every Ensure
	seed []models.DepositRecord
}

func (w *fakeWatcher) Ensure(_ context.Context, session *store.Session) error {
	w.calls++
	if w.err != nil {
		session.SetWatcherState(models.WatcherError)
		return w.err
	}
	session.Merge(w.seed, 120)
	session.SetWatcherState(models.WatcherLive)
	return nil
}

type fakeRefunder struct {
	req  *refund.Request
	hash ethcommon.Hash
	err  error
}

func (f *fakeRefunder) Refund(_ context.Context, req *refund.Request) (ethcommon.Hash, error) {
	f.req = req
	return f.hash, f.err
}

type fakeNonces struct {
	nonce uint64
	err   error
}

func (f *fakeNonces) Nonce(context.Context, ethcommon.Address) (uint64, error) {
	return f.nonce, f.err
}

type fixture struct {
	registry    *store.Registry
	provisioner *fakeProvisioner
	watcher     *fakeWatcher
	refunder    *fakeRefunder
	nonces      *fakeNonces
	router      http.Handler
}

func setupRouter(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		registry:    store.NewRegistry(store.LedgerPolicy{MinDeposit: big.NewInt(1_000_000), MaxDeposits: 20}),
		provisioner: &fakeProvisioner{},
		watcher:     &fakeWatcher{},
		refunder:    &fakeRefunder{},
		nonces:      &fakeNonces{},
	}
	f.router = NewRouter(NewRelayService(RelayServiceConfig{
		Registry:      f.registry,
		Provisioner:   f.provisioner,
		Watcher:       f.watcher,
		Refunder:      f.refunder,
		Nonces:        f.nonces,
		TokenDecimals: 6,
	}))
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorBody {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestCreateAccount(t *testing.T) {
	f := setupRouter(t)

	rec := f.do(t, http.MethodPost, "/account/create", models.CreateAccountRequest{
		CredentialId: "cred-1",
		PublicKey:    models.PublicKey{X: "0x0a", Y: "0b"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(RequestIdHeader))

	var body models.CreateAccountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, testAccount.Hex(), body.Address)
	require.True(t, body.Watching)
	require.NotEmpty(t, body.DeployTx)
	require.Empty(t, body.FundingTx)

	require.Equal(t, int64(10), f.provisioner.x.Int64())
	require.Equal(t, int64(11), f.provisioner.y.Int64())

	session, ok := f.registry.Get(testAccount)
	require.True(t, ok)
	require.Equal(t, "cred-1", session.CredentialId())
	require.Equal(t, 1, f.watcher.calls)
}

func TestCreateAccount_WatcherFailureIsNotFatal(t *testing.T) {
	f := setupRouter(t)
	f.watcher.err = errors.New("rpc down")

	rec := f.do(t, http.MethodPost, "/account/create", models.CreateAccountRequest{
		CredentialId: "cred-1",
		PublicKey:    models.PublicKey{X: "0x0a", Y: "0x0b"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body models.CreateAccountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Watching)

	_, ok := f.registry.Get(testAccount)
	require.True(t, ok)
}

func TestCreateAccount_Invalid(t *testing.T) {
	tests := []struct {
		name string
		req  models.CreateAccountRequest
	}{
		{"missing credential", models.CreateAccountRequest{PublicKey: models.PublicKey{X: "0x01", Y: "0x02"}}},
		{"bad x", models.CreateAccountRequest{CredentialId: "c", PublicKey: models.PublicKey{X: "zz", Y: "0x02"}}},
		{"zero y", models.CreateAccountRequest{CredentialId: "c", PublicKey: models.PublicKey{X: "0x01", Y: "0x00"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupRouter(t)
			rec := f.do(t, http.MethodPost, "/account/create", tt.req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, string(models.ReasonInvalidRequest), decodeError(t, rec).Code)
			require.Nil(t, f.provisioner.x)
		})
	}
}

func TestCreateAccount_ProvisionFailure(t *testing.T) {
	f := setupRouter(t)
	f.provisioner.err = fmt.Errorf("deploy: %w", chain.ErrExecutionReverted)

	rec := f.do(t, http.MethodPost, "/account/create", models.CreateAccountRequest{
		CredentialId: "cred-1",
		PublicKey:    models.PublicKey{X: "0x0a", Y: "0x0b"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "execution_reverted", decodeError(t, rec).Code)

	_, ok := f.registry.Get(testAccount)
	require.False(t, ok)
}

func TestGetDeposits(t *testing.T) {
	f := setupRouter(t)
	f.registry.Upsert(testAccount, "cred-1")
	f.watcher.seed = []models.DepositRecord{
		{Sender: testDepositor, Amount: big.NewInt(1_500_000), TxHash: ethcommon.HexToHash("0x01"), BlockNumber: 100, BlockTimestamp: 1_700_001_200},
		{Sender: testDepositor, Amount: big.NewInt(500), TxHash: ethcommon.HexToHash("0x02"), BlockNumber: 110, BlockTimestamp: 1_700_001_320},
	}

	rec := f.do(t, http.MethodGet, "/account/"+testAccount.Hex()+"/deposits", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body models.DepositsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Watching)
	require.Equal(t, "live", body.WatcherState)
	require.NotNil(t, body.LastSyncedBlock)
	require.Equal(t, uint64(120), *body.LastSyncedBlock)
	require.Len(t, body.Deposits, 2)

	require.Equal(t, uint64(110), body.Deposits[0].BlockNumber)
	require.Equal(t, "0.0005", body.Deposits[0].AmountFormatted)
	require.False(t, body.Deposits[0].Ready)
	require.Equal(t, "1.5", body.Deposits[1].AmountFormatted)
	require.True(t, body.Deposits[1].Ready)
}

func TestGetDeposits_Errors(t *testing.T) {
	f := setupRouter(t)

	rec := f.do(t, http.MethodGet, "/account/not-an-address/deposits", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/account/"+testAccount.Hex()+"/deposits", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, string(models.ReasonSessionNotFound), decodeError(t, rec).Code)

	f.registry.Upsert(testAccount, "cred-1")
	f.watcher.err = errors.New("connection refused")
	rec = f.do(t, http.MethodGet, "/account/"+testAccount.Hex()+"/deposits", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "upstream_error", decodeError(t, rec).Code)
}

func TestGetNonce(t *testing.T) {
	f := setupRouter(t)
	f.nonces.nonce = 7

	rec := f.do(t, http.MethodGet, "/account/"+testAccount.Hex()+"/nonce", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body models.NonceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "7", body.Nonce)

	f.nonces.err = context.DeadlineExceeded
	rec = f.do(t, http.MethodGet, "/account/"+testAccount.Hex()+"/nonce", nil)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func refundWire(t *testing.T) models.RefundRequest {
	t.Helper()
	transfer, err := refund.PackTransfer(testDepositor, big.NewInt(1_000_000))
	require.NoError(t, err)
	callData, err := refund.PackExecuteBatch([]refund.BatchCall{{Target: testToken, Value: big.NewInt(0), Data: transfer}})
	require.NoError(t, err)

	return models.RefundRequest{
		Address:      testAccount.Hex(),
		CredentialId: "cred-1",
		Signature: models.WebAuthnSignature{
			AuthenticatorData: "0x4996",
			ClientDataJSON:    `{"type":"webauthn.get"}`,
			R:                 "0x01",
			S:                 "0x02",
		},
		Nonce: "0x0",
		UserOperation: models.UserOperation{
			Sender:               testAccount.Hex(),
			CallData:             hexutil.Encode(callData),
			CallGasLimit:         "100000",
			VerificationGasLimit: "400000",
			PreVerificationGas:   "60000",
			MaxFeePerGas:         "2000000000",
			MaxPriorityFeePerGas: "1000000",
		},
		Deposit: models.DepositReference{
			TxHash: testDepositTx.Hex(),
			Sender: testDepositor.Hex(),
			Amount: "1000000",
		},
	}
}

func TestRefund(t *testing.T) {
	f := setupRouter(t)
	f.refunder.hash = ethcommon.HexToHash("0xfeed")

	rec := f.do(t, http.MethodPost, "/account/refund", refundWire(t))
	require.Equal(t, http.StatusOK, rec.Code)

	var body models.RefundResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, f.refunder.hash.Hex(), body.TxHash)

	require.NotNil(t, f.refunder.req)
	require.Equal(t, testAccount, f.refunder.req.Account)
	require.Equal(t, testDepositTx, f.refunder.req.Deposit.TxHash)
}

func TestRefund_CatchesUpRegisteredSession(t *testing.T) {
	f := setupRouter(t)
	f.refunder.hash = ethcommon.HexToHash("0xfeed")

	rec := f.do(t, http.MethodPost, "/account/refund", refundWire(t))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, f.watcher.calls)

	session := f.registry.Upsert(testAccount, "cred-1")
	rec = f.do(t, http.MethodPost, "/account/refund", refundWire(t))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, f.watcher.calls)
	require.Equal(t, models.WatcherLive, session.WatcherState())
}

func TestRefund_CatchUpFailureStillValidates(t *testing.T) {
	f := setupRouter(t)
	f.registry.Upsert(testAccount, "cred-1")
	f.watcher.err = errors.New("rpc down")
	f.refunder.err = models.Reject(models.ReasonDepositNotFound, "x")

	rec := f.do(t, http.MethodPost, "/account/refund", refundWire(t))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(models.ReasonDepositNotFound), decodeError(t, rec).Code)
	require.Equal(t, 1, f.watcher.calls)
	require.NotNil(t, f.refunder.req)
}

func TestRefund_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"session", models.Reject(models.ReasonSessionNotFound, "x"), http.StatusNotFound, "session_not_found"},
		{"credential", models.Reject(models.ReasonCredentialMismatch, "x"), http.StatusForbidden, "credential_mismatch"},
		{"refunded", models.Reject(models.ReasonAlreadyRefunded, "x"), http.StatusConflict, "already_refunded"},
		{"in progress", models.Reject(models.ReasonRefundInProgress, "x"), http.StatusConflict, "refund_in_progress"},
		{"recipient", models.Reject(models.ReasonRecipientMismatch, "x"), http.StatusBadRequest, "recipient_mismatch"},
		{"simulation", fmt.Errorf("failed to settle refund: %w", chain.ErrSimulationFailed), http.StatusUnprocessableEntity, "simulation_failed"},
		{"reverted", fmt.Errorf("failed to settle refund: %w", chain.ErrExecutionReverted), http.StatusUnprocessableEntity, "execution_reverted"},
		{"transport", errors.New("connection reset"), http.StatusBadGateway, "upstream_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupRouter(t)
			f.refunder.err = tt.err

			rec := f.do(t, http.MethodPost, "/account/refund", refundWire(t))
			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestRefund_MalformedBody(t *testing.T) {
	f := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/account/refund", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(models.ReasonInvalidRequest), decodeError(t, rec).Code)
	require.Nil(t, f.refunder.req)
}

func TestRequestIdIsPropagated(t *testing.T) {
	f := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIdHeader, "req-123")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "req-123", rec.Header().Get(RequestIdHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	f := setupRouter(t)
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
