package services

import (
	"context"
	"encoding/json"
	"strings"

	"propledger/internal/gateway"
	"propledger/internal/models"

	"go.uber.org/zap"
)

// WebhookProcessor turns signed gateway notifications into finalizations.
// Deliveries may repeat or race; only the first one changes anything.
type WebhookProcessor struct {
	transactions *TransactionLog
	secret       string
	currency     string
	logger       *zap.Logger
}

func NewWebhookProcessor(transactions *TransactionLog, secret, currency string, logger *zap.Logger) *WebhookProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookProcessor{transactions: transactions, secret: secret, currency: currency, logger: logger}
}

type WebhookResult struct {
	Transaction models.Transaction `json:"transaction"`
	Ignored     bool               `json:"ignored"`
}

func (w *WebhookProcessor) Handle(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	const op = "webhook.Handle"
	if !gateway.VerifySignature(w.secret, body, signature) {
		w.logger.Warn("webhook rejected: bad signature")
		return WebhookResult{}, validationf(op, "invalid signature")
	}
	var event gateway.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookResult{}, validationf(op, "malformed payload")
	}
	reference := strings.TrimSpace(event.Data.Reference)
	if reference == "" {
		return WebhookResult{}, validationf(op, "reference is required")
	}
	log := w.logger.With(zap.String("reference", reference), zap.String("event", event.Event))

	t, err := w.transactions.FindByReference(ctx, reference)
	if err != nil {
		log.Warn("webhook for unknown reference", zap.Error(err))
		return WebhookResult{}, err
	}
	if !t.Type.GatewayBacked() {
		log.Warn("webhook for internal transaction", zap.String("type", string(t.Type)))
		return WebhookResult{}, validationf(op, "transaction %s is not gateway backed", t.ID)
	}
	if event.Data.Amount != t.Amount {
		log.Warn("webhook amount mismatch", zap.Int64("expected", t.Amount), zap.Int64("got", event.Data.Amount))
		return WebhookResult{}, validationf(op, "amount %d does not match %d", event.Data.Amount, t.Amount)
	}
	if !strings.EqualFold(event.Data.Currency, w.currency) {
		log.Warn("webhook currency mismatch", zap.String("got", event.Data.Currency))
		return WebhookResult{}, validationf(op, "currency %q does not match %q", event.Data.Currency, w.currency)
	}

	outcome, ok := transactionOutcome(gateway.MapStatus(event.Data.Status))
	if !ok {
		log.Info("webhook status ignored", zap.String("status", event.Data.Status))
		return WebhookResult{Transaction: t, Ignored: true}, nil
	}
	finalized, err := w.transactions.finalizeByReference(ctx, reference, outcome, models.Metadata{
		"gateway_event_id": event.Data.ID.String(),
		"gateway_event":    event.Event,
		"gateway_status":   event.Data.Status,
	})
	if err != nil {
		return WebhookResult{}, err
	}
	return WebhookResult{Transaction: finalized}, nil
}

func transactionOutcome(o gateway.Outcome) (models.TransactionStatus, bool) {
	switch o {
	case gateway.OutcomeSuccess:
		return models.TxSuccess, true
	case gateway.OutcomeFailed:
		return models.TxFailed, true
	case gateway.OutcomeCancelled:
		return models.TxCancelled, true
	case gateway.OutcomeIgnore:
		return "", false
	default:
		panic("unhandled gateway outcome")
	}
}
