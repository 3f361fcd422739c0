package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"propledger/internal/gateway"
	"propledger/internal/models"
	"propledger/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayWebhookForwardsRawBody(t *testing.T) {
	const payload = `{"event":"charge.success","data":{"reference":"DEP_X","status":"success","amount":500,"currency":"NGN"}}`
	var gotBody, gotSig string
	handler := newTestHandler(testDeps{webhooks: stubWebhooks{
		handleFn: func(_ context.Context, body []byte, signature string) (services.WebhookResult, error) {
			gotBody, gotSig = string(body), signature
			return services.WebhookResult{Transaction: models.Transaction{Status: models.TxSuccess}}, nil
		},
	}})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(payload))
	req.Header.Set(gateway.SignatureHeader, "abc123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, payload, gotBody)
	assert.Equal(t, "abc123", gotSig)
	assert.JSONEq(t, `{"status":"SUCCESS"}`, rr.Body.String())
}

func TestGatewayWebhookStatuses(t *testing.T) {
	cases := map[string]struct {
		result services.WebhookResult
		err    error
		status int
	}{
		"ignored":       {result: services.WebhookResult{Ignored: true}, status: http.StatusOK},
		"bad signature": {err: svcErr(services.ErrValidation, "invalid signature"), status: http.StatusBadRequest},
		"unknown":       {err: svcErr(services.ErrNotFound, "transaction not found"), status: http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			handler := newTestHandler(testDeps{webhooks: stubWebhooks{
				handleFn: func(context.Context, []byte, string) (services.WebhookResult, error) { return tc.result, tc.err },
			}})
			rr := serve(t, handler, http.MethodPost, "/webhooks/gateway", `{}`, "")
			assert.Equal(t, tc.status, rr.Code)
		})
	}
}
