package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"recurring-orders/internal/models"
)

// ErrNoShipAddress is returned for orders that cannot be shipped.
var ErrNoShipAddress = errors.New("order has no ship address")

// Client hands completed renewal orders to the warehouse API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	url := fmt.Sprintf("%s%s", c.BaseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api error: %s (status: %d)", string(respBody), resp.StatusCode)
	}

	return respBody, nil
}

// Submit creates a shipment for a completed order.
func (c *Client) Submit(ctx context.Context, order *models.Order) (*ShipmentResponse, error) {
	if order.ShipAddress == nil {
		return nil, ErrNoShipAddress
	}
	a := order.ShipAddress
	reqBody := ShipmentRequest{
		OrderNumber: order.Number,
		Email:       order.Email,
		ShipTo: Address{
			FirstName: a.FirstName,
			LastName:  a.LastName,
			Address1:  a.Address1,
			Address2:  a.Address2,
			City:      a.City,
			Zipcode:   a.Zipcode,
			Country:   a.Country,
			Phone:     a.Phone,
		},
	}
	for _, li := range order.LineItems {
		reqBody.Lines = append(reqBody.Lines, Line{SKU: li.VariantSKU, Quantity: li.Quantity})
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/shipments", reqBody)
	if err != nil {
		return nil, err
	}

	var shipment ShipmentResponse
	if err := json.Unmarshal(resp, &shipment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &shipment, nil
}
