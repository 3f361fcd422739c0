package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const SignatureHeader = "X-Payment-Signature"

// Sign returns the hex HMAC-SHA512 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time. An empty secret never verifies.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(Sign(secret, body))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

type WebhookData struct {
	ID        EventID `json:"id"`
	Reference string  `json:"reference"`
	Status    string  `json:"status"`
	Amount    int64   `json:"amount"`
	Currency  string  `json:"currency"`
}

// EventID is the gateway's event id. Gateways send it either as a JSON
// number or as a string, so both decode to the same text.
type EventID string

func (id *EventID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*id = EventID(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	*id = EventID(number.String())
	return nil
}

func (id EventID) String() string {
	return string(id)
}

// Outcome is how a gateway status maps onto a transaction status.
type Outcome int

const (
	OutcomeIgnore Outcome = iota
	OutcomeSuccess
	OutcomeFailed
	OutcomeCancelled
)

// MapStatus translates a gateway status. Statuses that are not final, such
// as "pending" or "ongoing", map to OutcomeIgnore.
func MapStatus(status string) Outcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success":
		return OutcomeSuccess
	case "failed":
		return OutcomeFailed
	case "abandoned", "reversed":
		return OutcomeCancelled
	default:
		return OutcomeIgnore
	}
}
