package fulfillment

type Address struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city"`
	Zipcode   string `json:"zipcode"`
	Country   string `json:"country"`
	Phone     string `json:"phone,omitempty"`
}

type Line struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type ShipmentRequest struct {
	OrderNumber string  `json:"orderNumber"`
	Email       string  `json:"email"`
	ShipTo      Address `json:"shipTo"`
	Lines       []Line  `json:"lines"`
}

type ShipmentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
