package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureRoundTrip(t *testing.T) {
	body := []byte(`{"event":"charge.success"}`)
	sig := Sign("whsec", body)
	assert.Len(t, sig, 128)
	assert.True(t, VerifySignature("whsec", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("whsec", []byte(`{"event":"charge.failed"}`), sig))
	assert.False(t, VerifySignature("whsec", body, "not-hex"))
	assert.False(t, VerifySignature("", body, Sign("", body)))
}

func TestMapStatus(t *testing.T) {
	cases := map[string]Outcome{
		"success":   OutcomeSuccess,
		"SUCCESS":   OutcomeSuccess,
		"failed":    OutcomeFailed,
		"abandoned": OutcomeCancelled,
		"reversed":  OutcomeCancelled,
		"pending":   OutcomeIgnore,
		"ongoing":   OutcomeIgnore,
		"":          OutcomeIgnore,
	}
	for status, want := range cases {
		assert.Equal(t, want, MapStatus(status), status)
	}
}

func TestWebhookEventDecodesNumericID(t *testing.T) {
	var event WebhookEvent
	require.NoError(t, json.Unmarshal([]byte(`{"event":"charge.success","data":{"id":302961,"reference":"DEP_X","status":"success","amount":5000,"currency":"NGN"}}`), &event))
	assert.Equal(t, "302961", event.Data.ID.String())
	assert.Equal(t, int64(5000), event.Data.Amount)
}

func TestWebhookEventDecodesStringAndMissingID(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{name: "string", raw: `"evt_7f3a"`, want: "evt_7f3a"},
		{name: "numeric string", raw: `"302961"`, want: "302961"},
		{name: "null", raw: `null`, want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var event WebhookEvent
			body := `{"event":"charge.success","data":{"id":` + tc.raw + `,"reference":"DEP_X","status":"success","amount":5000,"currency":"NGN"}}`
			require.NoError(t, json.Unmarshal([]byte(body), &event))
			assert.Equal(t, tc.want, event.Data.ID.String())
			assert.Equal(t, "DEP_X", event.Data.Reference)
		})
	}
}

func TestWebhookEventRejectsObjectID(t *testing.T) {
	var event WebhookEvent
	err := json.Unmarshal([]byte(`{"data":{"id":{"nested":1}}}`), &event)
	assert.Error(t, err)
}
