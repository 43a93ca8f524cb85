package mngkargo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tursped/kargopanel/pkg/carrier"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	// Call counters, useful for asserting token reuse.
	TokenCalls   int
	OrderCalls   int
	BarcodeCalls int

	OnCreateToken   func(ctx context.Context, req *TokenRequest) (*TokenResponse, error)
	OnCreateOrder   func(ctx context.Context, token string, req *OrderRequest) (OrderResponse, error)
	OnCreateBarcode func(ctx context.Context, token string, req *BarcodeRequest) (*BarcodeResult, error)
	OnTrackShipment func(ctx context.Context, token string, referenceID string) (json.RawMessage, error)
	OnGetOrder      func(ctx context.Context, token string, referenceID string) (json.RawMessage, error)
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

func (m *MockAPIClient) simulate() error {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}
	if m.SimulateErrors {
		return carrier.NewError(carrierName, carrier.CodeRemote, "simulated API error")
	}
	return nil
}

// CreateToken returns a mock JWT valid for one hour.
func (m *MockAPIClient) CreateToken(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	m.TokenCalls++
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreateToken != nil {
		return m.OnCreateToken(ctx, req)
	}

	return &TokenResponse{
		JWT:           fmt.Sprintf("mock-jwt-%d", m.TokenCalls),
		JWTExpireDate: time.Now().Add(time.Hour).Format(time.RFC3339),
	}, nil
}

// CreateOrder registers a mock order.
func (m *MockAPIClient) CreateOrder(ctx context.Context, token string, req *OrderRequest) (OrderResponse, error) {
	m.OrderCalls++
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreateOrder != nil {
		return m.OnCreateOrder(ctx, token, req)
	}

	return OrderResponse{
		{OrderInvoiceID: fmt.Sprintf("ORD-%d", 100000+m.OrderCalls)},
	}, nil
}

// CreateBarcode generates mock labels, one per requested piece.
func (m *MockAPIClient) CreateBarcode(ctx context.Context, token string, req *BarcodeRequest) (*BarcodeResult, error) {
	m.BarcodeCalls++
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreateBarcode != nil {
		return m.OnCreateBarcode(ctx, token, req)
	}

	barcodes := make([]Barcode, 0, len(req.OrderPieceList))
	for _, piece := range req.OrderPieceList {
		barcodes = append(barcodes, Barcode{
			Value: "^XA^FD" + piece.Barcode + "^FS^XZ",
			Type:  "zpl",
		})
	}

	return &BarcodeResult{
		ShipmentID: fmt.Sprintf("SHP-%d", 500000+m.BarcodeCalls),
		InvoiceID:  fmt.Sprintf("INV-%d", 700000+m.BarcodeCalls),
		Barcodes:   barcodes,
	}, nil
}

// TrackShipment returns mock tracking data.
func (m *MockAPIClient) TrackShipment(ctx context.Context, token string, referenceID string) (json.RawMessage, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnTrackShipment != nil {
		return m.OnTrackShipment(ctx, token, referenceID)
	}

	payload := map[string]interface{}{
		"referenceId": referenceID,
		"status":      "IN_TRANSIT",
		"events": []map[string]string{
			{"date": time.Now().Format(time.RFC3339), "description": "Shipment accepted at origin branch"},
		},
	}
	raw, _ := json.Marshal(payload)
	return raw, nil
}

// GetOrder returns a mock order record.
func (m *MockAPIClient) GetOrder(ctx context.Context, token string, referenceID string) (json.RawMessage, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetOrder != nil {
		return m.OnGetOrder(ctx, token, referenceID)
	}

	raw, _ := json.Marshal(map[string]string{"referenceId": referenceID, "status": "CREATED"})
	return raw, nil
}

var _ APIClient = (*MockAPIClient)(nil)
