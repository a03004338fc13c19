package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const ProviderYookassa = "yookassa"

const (
	statusSucceeded = "succeeded"
	statusCanceled  = "canceled"
)

type Client struct {
	ShopID     string
	SecretKey  string
	APIURL     string
	HTTPClient *http.Client
}

func NewClient(shopID, secretKey string) *Client {
	return &Client{
		ShopID:    shopID,
		SecretKey: secretKey,
		APIURL:    "https://api.yookassa.ru/v3",
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreatePayment starts a customer-confirmed payment and asks YooKassa to save the card
// for later autopayments. The subscriber pays on the returned confirmation URL.
func (c *Client) CreatePayment(ctx context.Context, amount, currency, description, returnURL string, metadata map[string]string) (*PaymentResponse, error) {
	reqBody := CreatePaymentRequest{
		Amount: Amount{
			Value:    amount,
			Currency: currency,
		},
		Capture: true,
		Confirmation: &Confirmation{
			Type:      "redirect",
			ReturnURL: returnURL,
		},
		SavePaymentMethod: true,
		Description:       description,
		Metadata:          metadata,
	}
	return c.createPayment(ctx, reqBody, uuid.New().String())
}

// Charge makes an autopayment with a saved payment method.
func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*Receipt, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}
	resp, err := c.createPayment(ctx, CreatePaymentRequest{
		Amount: Amount{
			Value:    req.Amount.StringFixed(2),
			Currency: req.Currency,
		},
		Capture:         true,
		PaymentMethodID: req.Token,
		Description:     req.Description,
		Metadata:        req.Metadata,
	}, key)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case statusSucceeded:
		return &Receipt{Provider: ProviderYookassa, TransactionID: resp.ID}, nil
	case statusCanceled:
		code := "canceled"
		if resp.CancellationDetails != nil && resp.CancellationDetails.Reason != "" {
			code = resp.CancellationDetails.Reason
		}
		return nil, &DeclineError{Provider: ProviderYookassa, Code: code}
	default:
		return nil, fmt.Errorf("payment %s is %s: %w", resp.ID, resp.Status, ErrPending)
	}
}

func (c *Client) createPayment(ctx context.Context, reqBody CreatePaymentRequest, idempotenceKey string) (*PaymentResponse, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/payments", c.APIURL), bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Idempotence-Key", idempotenceKey)
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.ShopID, c.SecretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api error: %s (status: %d)", string(respBody), resp.StatusCode)
	}

	var paymentResponse PaymentResponse
	if err := json.Unmarshal(respBody, &paymentResponse); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &paymentResponse, nil
}
