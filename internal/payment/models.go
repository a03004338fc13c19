package payment

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`       // For redirect
	ConfirmationURL string `json:"confirmation_url,omitempty"` // From response
}

type CreatePaymentRequest struct {
	Amount            Amount            `json:"amount"`
	Capture           bool              `json:"capture"`
	Confirmation      *Confirmation     `json:"confirmation,omitempty"`
	PaymentMethodID   string            `json:"payment_method_id,omitempty"`
	SavePaymentMethod bool              `json:"save_payment_method,omitempty"`
	Description       string            `json:"description,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type Card struct {
	First6      string `json:"first6"`
	Last4       string `json:"last4"`
	ExpiryMonth string `json:"expiry_month"`
	ExpiryYear  string `json:"expiry_year"`
	CardType    string `json:"card_type"`
}

type PaymentMethod struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Saved bool   `json:"saved"`
	Card  *Card  `json:"card,omitempty"`
}

type CancellationDetails struct {
	Party  string `json:"party"`
	Reason string `json:"reason"`
}

type PaymentResponse struct {
	ID                  string               `json:"id"`
	Status              string               `json:"status"`
	Paid                bool                 `json:"paid"`
	Amount              Amount               `json:"amount"`
	Confirmation        Confirmation         `json:"confirmation"`
	PaymentMethod       *PaymentMethod       `json:"payment_method,omitempty"`
	CancellationDetails *CancellationDetails `json:"cancellation_details,omitempty"`
	Metadata            map[string]string    `json:"metadata,omitempty"`
}

// Webhook structures

type WebhookNotification struct {
	Type   string          `json:"type"`
	Event  string          `json:"event"`
	Object PaymentResponse `json:"object"`
}
