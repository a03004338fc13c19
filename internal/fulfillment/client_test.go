package fulfillment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recurring-orders/internal/models"
)

func TestSubmit(t *testing.T) {
	var got ShipmentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/shipments", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ShipmentResponse{ID: "shp_1", Status: "accepted"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key")
	order := &models.Order{
		Number:      "R100",
		Email:       "buyer@example.com",
		ShipAddress: &models.Address{FirstName: "Ann", City: "Berlin", Country: "DE"},
		LineItems:   []models.LineItem{{VariantSKU: "TEA-1", Quantity: 2}},
	}

	resp, err := c.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "shp_1", resp.ID)
	assert.Equal(t, "R100", got.OrderNumber)
	assert.Equal(t, "Berlin", got.ShipTo.City)
	assert.Equal(t, []Line{{SKU: "TEA-1", Quantity: 2}}, got.Lines)
}

func TestSubmitErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "warehouse closed", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key")
	_, err := c.Submit(context.Background(), &models.Order{})
	assert.ErrorIs(t, err, ErrNoShipAddress)

	_, err = c.Submit(context.Background(), &models.Order{ShipAddress: &models.Address{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 503")
}
