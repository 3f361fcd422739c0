package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	ErrGateway  = errors.New("payment gateway error")
	ErrNotFound = errors.New("payment gateway: transaction not found")
)

// Gateway is the external payment provider. Calls are made outside any
// database unit of work.
type Gateway interface {
	Initialize(ctx context.Context, req InitializeRequest) (InitializeResponse, error)
	Verify(ctx context.Context, reference string) (Verification, error)
}

type InitializeRequest struct {
	Amount    int64          `json:"amount"`
	Email     string         `json:"email"`
	Reference string         `json:"reference"`
	Currency  string         `json:"currency,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type InitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Verification is the gateway's current view of a transaction.
type Verification struct {
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
	PaidAt    string `json:"paid_at,omitempty"`
}

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Client talks to a Paystack-style REST API.
type Client struct {
	rest *resty.Client
}

func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(secret).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})
	return &Client{rest: rc}
}

func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (InitializeResponse, error) {
	var out envelope[InitializeResponse]
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post("/transaction/initialize")
	if err != nil {
		return InitializeResponse{}, fmt.Errorf("%w: initialize: %v", ErrGateway, err)
	}
	if resp.IsError() || !out.Status {
		return InitializeResponse{}, fmt.Errorf("%w: initialize: %d %s", ErrGateway, resp.StatusCode(), out.Message)
	}
	return out.Data, nil
}

func (c *Client) Verify(ctx context.Context, reference string) (Verification, error) {
	var out envelope[Verification]
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("reference", reference).
		SetResult(&out).
		SetError(&out).
		Get("/transaction/verify/{reference}")
	if err != nil {
		return Verification{}, fmt.Errorf("%w: verify: %v", ErrGateway, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return Verification{}, ErrNotFound
	}
	if resp.IsError() || !out.Status {
		return Verification{}, fmt.Errorf("%w: verify: %d %s", ErrGateway, resp.StatusCode(), out.Message)
	}
	return out.Data, nil
}
