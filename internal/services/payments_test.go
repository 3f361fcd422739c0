package services

import (
	"context"
	"errors"
	"testing"

	"propledger/internal/gateway"
	"propledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitiateDepositRecordsAuthorization(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "owner-1", 0)
	var sent gateway.InitializeRequest
	gw := stubGateway{initializeFn: func(_ context.Context, req gateway.InitializeRequest) (gateway.InitializeResponse, error) {
		sent = req
		return gateway.InitializeResponse{AuthorizationURL: "https://pay/xyz", AccessCode: "xyz", Reference: req.Reference}, nil
	}}
	payments := NewPayments(h.txlog, gw, "NGN", zap.NewNop())

	intent, err := payments.InitiateDeposit(context.Background(), "owner-1", 250000, "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://pay/xyz", intent.AuthorizationURL)
	assert.Equal(t, intent.Transaction.Reference, sent.Reference)
	assert.Equal(t, int64(250000), sent.Amount)
	assert.Equal(t, models.TxPending, intent.Transaction.Status)

	stored, err := h.txlog.GetByID(context.Background(), intent.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://pay/xyz", stored.Metadata.String("authorization_url"))
	assert.Equal(t, "buyer@example.com", stored.Metadata.String("email"))
}

func TestInitiateDepositFailsTransactionWhenGatewayDown(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "owner-1", 0)
	gw := stubGateway{initializeFn: func(context.Context, gateway.InitializeRequest) (gateway.InitializeResponse, error) {
		return gateway.InitializeResponse{}, errors.New("connection refused")
	}}
	payments := NewPayments(h.txlog, gw, "NGN", zap.NewNop())

	_, err := payments.InitiateDeposit(context.Background(), "owner-1", 1000, "buyer@example.com")
	require.ErrorIs(t, err, ErrGatewayUnavailable)

	rows, err := h.txlog.ListByOwner(context.Background(), "owner-1", storeFilter())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.TxFailed, rows[0].Status)
	assert.Equal(t, int64(0), h.balance(t, "owner-1"))
}

func TestInitiateDepositNeedsEmail(t *testing.T) {
	h := newHarness(t)
	payments := NewPayments(h.txlog, stubGateway{}, "NGN", zap.NewNop())
	_, err := payments.InitiateDeposit(context.Background(), "owner-1", 1000, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRequestWithdrawalDebitsImmediately(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "owner-1", 8000)
	payments := NewPayments(h.txlog, stubGateway{}, "NGN", zap.NewNop())

	tx, err := payments.RequestWithdrawal(context.Background(), "owner-1", 3000, models.Metadata{"bank": "058"})
	require.NoError(t, err)
	assert.Equal(t, models.TxPending, tx.Status)
	assert.Equal(t, "058", tx.Metadata.String("bank"))
	assert.Equal(t, int64(5000), h.balance(t, "owner-1"))
}
