package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"propledger/internal/gateway"
	"propledger/internal/models"

	"go.uber.org/zap"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Payments opens gateway-backed wallet movements. The gateway is only called
// after the transaction row has committed.
type Payments struct {
	transactions *TransactionLog
	gateway      gateway.Gateway
	currency     string
	logger       *zap.Logger
}

func NewPayments(transactions *TransactionLog, gw gateway.Gateway, currency string, logger *zap.Logger) *Payments {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Payments{transactions: transactions, gateway: gw, currency: currency, logger: logger}
}

type DepositIntent struct {
	Transaction      models.Transaction `json:"transaction"`
	AuthorizationURL string             `json:"authorization_url"`
	AccessCode       string             `json:"access_code,omitempty"`
}

func (p *Payments) InitiateDeposit(ctx context.Context, ownerID string, amount int64, email string) (DepositIntent, error) {
	const op = "payments.InitiateDeposit"
	email = strings.TrimSpace(email)
	if email == "" {
		return DepositIntent{}, validationf(op, "email is required")
	}
	t, err := p.transactions.CreateTransaction(ctx, CreateTransactionRequest{
		OwnerID:  ownerID,
		Type:     models.TxWalletDeposit,
		Amount:   amount,
		Metadata: models.Metadata{"email": email, "currency": p.currency},
	})
	if err != nil {
		return DepositIntent{}, err
	}

	resp, err := p.gateway.Initialize(ctx, gateway.InitializeRequest{
		Amount:    t.Amount,
		Email:     email,
		Reference: t.Reference,
		Currency:  p.currency,
		Metadata:  map[string]any{"transaction_id": t.ID},
	})
	if err != nil {
		p.logger.Warn("gateway initialize failed", zap.String("reference", t.Reference), zap.Error(err))
		if _, ferr := p.transactions.Finalize(ctx, t.ID, models.TxFailed, "gateway initialize failed"); ferr != nil {
			p.logger.Error("could not fail deposit after gateway error", zap.String("reference", t.Reference), zap.Error(ferr))
		}
		return DepositIntent{}, fmt.Errorf("%s: %w: %v", op, ErrGatewayUnavailable, err)
	}

	extra := models.Metadata{"authorization_url": resp.AuthorizationURL, "access_code": resp.AccessCode}
	if err := p.transactions.annotate(ctx, t.ID, extra); err != nil {
		p.logger.Error("could not record gateway authorization", zap.String("reference", t.Reference), zap.Error(err))
	} else {
		t.Metadata = t.Metadata.Merge(extra)
	}
	return DepositIntent{Transaction: t, AuthorizationURL: resp.AuthorizationURL, AccessCode: resp.AccessCode}, nil
}

// RequestWithdrawal debits the wallet now. A failed or cancelled payout later
// credits it back.
func (p *Payments) RequestWithdrawal(ctx context.Context, ownerID string, amount int64, metadata models.Metadata) (models.Transaction, error) {
	return p.transactions.CreateTransaction(ctx, CreateTransactionRequest{
		OwnerID:  ownerID,
		Type:     models.TxWalletWithdrawal,
		Amount:   amount,
		Metadata: metadata.Merge(models.Metadata{"currency": p.currency}),
	})
}
