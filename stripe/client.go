package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joshnel2/aidisputeapp/workflow"
)

const defaultBaseURL = "https://api.stripe.com"

// ChargeError is a typed gateway failure carrying Stripe's reason code, so
// callers can distinguish declines from transport problems without parsing
// message text.
type ChargeError struct {
	Code    string
	Type    string
	Message string
}

func (e *ChargeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: charge failed (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("stripe: charge failed: %s", e.Message)
}

// Client captures submission fees through the Stripe Charges API. It
// implements workflow.PaymentGateway.
type Client struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Stripe client with the given secret key.
func NewClient(secretKey string) *Client {
	return &Client{
		secretKey:  secretKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

type chargeResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Error    *struct {
		Code    string `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Charge captures a single charge against the token. Declines, malformed
// tokens, and transport failures all surface as errors; the workflow engine
// folds them into its payment-failed family.
func (c *Client) Charge(ctx context.Context, req workflow.ChargeRequest) (workflow.ChargeReceipt, error) {
	form := url.Values{
		"amount":      {strconv.FormatInt(req.AmountMinorUnit, 10)},
		"currency":    {req.Currency},
		"description": {req.Description},
		"source":      {req.Token},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charges", strings.NewReader(form.Encode()))
	if err != nil {
		return workflow.ChargeReceipt{}, fmt.Errorf("stripe: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return workflow.ChargeReceipt{}, fmt.Errorf("stripe: charge: %w", err)
	}
	defer resp.Body.Close()

	var payload chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return workflow.ChargeReceipt{}, fmt.Errorf("stripe: decode response: %w", err)
	}

	if resp.StatusCode >= 300 || payload.Error != nil {
		chErr := &ChargeError{Message: fmt.Sprintf("status %d", resp.StatusCode)}
		if payload.Error != nil {
			chErr.Code = payload.Error.Code
			chErr.Type = payload.Error.Type
			chErr.Message = payload.Error.Message
		}
		return workflow.ChargeReceipt{}, chErr
	}

	return workflow.ChargeReceipt{
		ID:              payload.ID,
		AmountMinorUnit: payload.Amount,
		Currency:        payload.Currency,
	}, nil
}
