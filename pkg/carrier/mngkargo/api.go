package mngkargo

import (
	"context"
	"encoding/json"
)

// APIClient defines the interface for MNG Kargo API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production. All calls except CreateToken
// take the bearer token acquired by the owning Client.
type APIClient interface {
	// CreateToken exchanges the customer credentials for a session token
	CreateToken(ctx context.Context, req *TokenRequest) (*TokenResponse, error)

	// CreateOrder registers a new shipment order
	CreateOrder(ctx context.Context, token string, req *OrderRequest) (OrderResponse, error)

	// CreateBarcode generates labels/barcodes for a registered order
	CreateBarcode(ctx context.Context, token string, req *BarcodeRequest) (*BarcodeResult, error)

	// TrackShipment retrieves tracking information for a reference id
	TrackShipment(ctx context.Context, token string, referenceID string) (json.RawMessage, error)

	// GetOrder retrieves the carrier's order record for a reference id
	GetOrder(ctx context.Context, token string, referenceID string) (json.RawMessage, error)
}

// ============================================================================
// API Request/Response Types (match the MNG Kargo REST API wire format)
// ============================================================================

// TokenRequest is the body for POST /token.
type TokenRequest struct {
	CustomerNumber string `json:"customerNumber"`
	Password       string `json:"password"`
	IdentityType   int    `json:"identityType"` // always 1
}

// TokenResponse is the response from POST /token.
type TokenResponse struct {
	JWT           string `json:"jwt"`
	JWTExpireDate string `json:"jwtExpireDate"`
	RefreshToken  string `json:"refreshToken,omitempty"`
}

// OrderRequest is the body for POST /standardcmdapi/createOrder.
type OrderRequest struct {
	Order          Order        `json:"order"`
	OrderPieceList []OrderPiece `json:"orderPieceList"`
	Recipient      Recipient    `json:"recipient"`
}

// Order carries the logistics intent of a shipment.
type Order struct {
	ReferenceID         string  `json:"referenceId"`
	Barcode             string  `json:"barcode"`
	BillOfLandingID     string  `json:"billOfLandingId"`
	IsCOD               int     `json:"isCOD"`
	CODAmount           float64 `json:"codAmount"`
	ShipmentServiceType int     `json:"shipmentServiceType"`
	PackagingType       int     `json:"packagingType"`
	Content             string  `json:"content"`
	SMSPreference1      int     `json:"smsPreference1"`
	SMSPreference2      int     `json:"smsPreference2"`
	SMSPreference3      int     `json:"smsPreference3"`
	PaymentType         int     `json:"paymentType"`
	DeliveryType        int     `json:"deliveryType"`
	Description         string  `json:"description"`
	MarketPlaceShort    string  `json:"marketPlaceShortCode"`
	MarketPlaceSale     string  `json:"marketPlaceSaleCode"`
}

// OrderPiece is a single physical piece of a shipment.
type OrderPiece struct {
	Barcode string  `json:"barcode"`
	Desi    float64 `json:"desi"` // volumetric weight
	Kg      float64 `json:"kg"`
	Content string  `json:"content"`
}

// Recipient is the delivery target. The bussinessPhoneNumber spelling
// is the carrier's, not ours.
type Recipient struct {
	CustomerID          string `json:"customerId"`
	RefCustomerID       string `json:"refCustomerId"`
	CityCode            int    `json:"cityCode"`
	CityName            string `json:"cityName"`
	DistrictCode        int    `json:"districtCode"`
	DistrictName        string `json:"districtName"`
	Address             string `json:"address"`
	BusinessPhoneNumber string `json:"bussinessPhoneNumber"`
	Email               string `json:"email"`
	TaxOffice           string `json:"taxOffice"`
	TaxNumber           string `json:"taxNumber"`
	FullName            string `json:"fullName"`
	HomePhoneNumber     string `json:"homePhoneNumber"`
	MobilePhoneNumber   string `json:"mobilePhoneNumber"`
}

// OrderResponse is the array body returned by createOrder; the first
// element carries the carrier-assigned order invoice id.
type OrderResponse []OrderResponseItem

// OrderResponseItem is one element of the createOrder response.
type OrderResponseItem struct {
	OrderInvoiceID     string `json:"orderInvoiceId"`
	OrderInvoiceDetail string `json:"orderInvoiceDetailId,omitempty"`
	ShipperBranchCode  string `json:"shipperBranchCode,omitempty"`
}

// BarcodeRequest is the body for POST /barcodecmdapi/createbarcode.
type BarcodeRequest struct {
	ReferenceID        string         `json:"referenceId"`
	BillOfLandingID    string         `json:"billOfLandingId"`
	IsCOD              int            `json:"isCOD"`
	CODAmount          float64        `json:"codAmount"`
	PackagingType      int            `json:"packagingType"`
	PrintOnError       int            `json:"printReferenceBarcodeOnError"`
	Message            string         `json:"message"`
	AdditionalContent1 string         `json:"additionalContent1"`
	AdditionalContent2 string         `json:"additionalContent2"`
	AdditionalContent3 string         `json:"additionalContent3"`
	AdditionalContent4 string         `json:"additionalContent4"`
	OrderPieceList     []BarcodePiece `json:"orderPieceList"`
}

// BarcodePiece is a per-piece label request, keyed {referenceId}-P{n}.
type BarcodePiece struct {
	Barcode string  `json:"barcode"`
	Desi    float64 `json:"desi"`
	Kg      float64 `json:"kg"`
	Content string  `json:"content"`
}

// BarcodeResult is the first element of the createbarcode response array.
type BarcodeResult struct {
	ShipmentID string    `json:"shipmentId"`
	InvoiceID  string    `json:"invoiceId"`
	Barcodes   []Barcode `json:"barcodes"`
}

// Barcode holds one generated label; Value is the printable ZPL payload.
type Barcode struct {
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// ZPLContent returns the printable content of the first barcode, or ""
// if no barcode was generated.
func (r *BarcodeResult) ZPLContent() string {
	if r == nil || len(r.Barcodes) == 0 {
		return ""
	}
	return r.Barcodes[0].Value
}
