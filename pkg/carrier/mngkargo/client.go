// Package mngkargo provides integration with the MNG Kargo cargo API.
package mngkargo

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tursped/kargopanel/pkg/carrier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const carrierName = "mngkargo"

// Config holds MNG Kargo configuration. All four credentials are
// required before any network call is attempted.
type Config struct {
	ClientID       string
	ClientSecret   string
	CustomerNumber string
	Password       string
	TestMode       bool // selects the sandbox gateway
	UseMock        bool // when true, uses a mock API client
}

// SandboxConfig returns the carrier's published sandbox credentials.
// It is applied only when an explicit test-mode flag is set and no
// credentials are configured; it is never a production fallback.
func SandboxConfig() Config {
	return Config{
		ClientID:       "7fd724286af5cbdcf97e25fd063e0281",
		ClientSecret:   "c1c8cfeda81ff8753d4b0d26a49d132d",
		CustomerNumber: "2326821076",
		Password:       "2326821076..!!",
		TestMode:       true,
	}
}

// BaseURL returns the gateway URL selected by the test-mode flag.
func (c Config) BaseURL() string {
	if c.TestMode {
		return TestBaseURL
	}
	return ProductionBaseURL
}

// complete reports whether all four credentials are present.
func (c Config) complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.CustomerNumber != "" && c.Password != ""
}

// Client is the MNG Kargo carrier client. It owns the session token
// cache and delegates wire calls to the underlying APIClient (mock or
// HTTP). The token is in-memory only; a fresh process starts cold.
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

// New creates a new MNG Kargo client.
// If cfg.UseMock is true, it uses a mock API client for testing.
// Otherwise, it uses the real HTTP API client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:      cfg.BaseURL(),
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Timeout:      30 * time.Second,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new MNG Kargo client with a custom API
// client. This is useful for injecting mock clients in tests.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
		now:       time.Now,
	}
}

// WithClock overrides the client's clock. Tests use this to exercise
// token expiry without sleeping.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return carrierName
}

// TokenInfo describes an acquired session token.
type TokenInfo struct {
	Token     string
	ExpiresAt time.Time
}

// AcquireToken returns a valid session token, reusing the cached one
// while unexpired and fetching a fresh one otherwise.
func (c *Client) AcquireToken(ctx context.Context) (*TokenInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && !c.tokenExpiry.IsZero() && c.now().Before(c.tokenExpiry) {
		return &TokenInfo{Token: c.token, ExpiresAt: c.tokenExpiry}, nil
	}

	if !c.config.complete() {
		return nil, carrier.NewError(carrierName, carrier.CodeConfig,
			"carrier credentials incomplete, configure client id, secret, customer number and password").
			WithCause(carrier.ErrMissingCredentials)
	}

	resp, err := c.apiClient.CreateToken(ctx, &TokenRequest{
		CustomerNumber: c.config.CustomerNumber,
		Password:       c.config.Password,
		IdentityType:   1,
	})
	if err != nil {
		c.logger.Error("MNG token request failed", zap.Error(err))
		return nil, err
	}

	c.token = resp.JWT
	c.tokenExpiry = parseExpiry(resp.JWTExpireDate)

	c.logger.Info("Acquired MNG session token",
		zap.Time("expires_at", c.tokenExpiry),
	)
	return &TokenInfo{Token: c.token, ExpiresAt: c.tokenExpiry}, nil
}

// parseExpiry parses the carrier's jwtExpireDate. An unparsable value
// yields the zero time, which forces a refetch on the next call.
func parseExpiry(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// OrderInput describes a shipment order to submit.
type OrderInput struct {
	ReferenceID    string
	RecipientName  string
	Phone          string
	Email          string
	Address        string
	City           string
	District       string
	Content        string
	Desi           float64
	Kg             float64
	DeliveryNoteNo string
	COD            bool
	CODAmount      float64
	DeliveryType   int // shipmentServiceType, defaults to 1
	PackageType    int // packagingType, defaults to 3
}

// OrderOutput is the result of a successful order submission.
type OrderOutput struct {
	ReferenceID string
	OrderID     string
	Raw         OrderResponse
}

// SubmitOrder constructs the carrier order payload and registers the
// shipment. The reference id is sanitized to uppercase alphanumerics.
func (c *Client) SubmitOrder(ctx context.Context, in *OrderInput) (*OrderOutput, error) {
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.Start(ctx, "mngkargo.SubmitOrder")
		defer span.End()
	}

	tok, err := c.AcquireToken(ctx)
	if err != nil {
		return nil, err
	}

	referenceID := SanitizeReference(in.ReferenceID)
	req := buildOrderRequest(referenceID, in)

	c.logger.Info("Submitting MNG order",
		zap.String("reference_id", referenceID),
		zap.String("city", req.Recipient.CityName),
	)

	resp, err := c.apiClient.CreateOrder(ctx, tok.Token, req)
	if err != nil {
		c.logger.Error("MNG order submission failed",
			zap.String("reference_id", referenceID),
			zap.Error(err),
		)
		return nil, err
	}

	out := &OrderOutput{ReferenceID: referenceID, Raw: resp}
	if len(resp) > 0 {
		out.OrderID = resp[0].OrderInvoiceID
	}
	return out, nil
}

func buildOrderRequest(referenceID string, in *OrderInput) *OrderRequest {
	content := in.Content
	if content == "" {
		content = "Urun"
	}
	city := strings.ToUpper(in.City)
	if city == "" {
		city = "ISTANBUL"
	}
	deliveryType := in.DeliveryType
	if deliveryType == 0 {
		deliveryType = 1
	}
	packageType := in.PackageType
	if packageType == 0 {
		packageType = 3
	}
	codAmount := 0.0
	isCOD := 0
	if in.COD {
		isCOD = 1
		codAmount = in.CODAmount
	}
	desi := in.Desi
	if desi == 0 {
		desi = 1
	}
	kg := in.Kg
	if kg == 0 {
		kg = 1
	}
	fullName := in.RecipientName
	if fullName == "" {
		fullName = "Alici"
	}
	address := in.Address
	if address == "" {
		address = "Adres"
	}

	return &OrderRequest{
		Order: Order{
			ReferenceID:         referenceID,
			Barcode:             referenceID,
			BillOfLandingID:     in.DeliveryNoteNo,
			IsCOD:               isCOD,
			CODAmount:           codAmount,
			ShipmentServiceType: deliveryType,
			PackagingType:       packageType,
			Content:             content,
			PaymentType:         1,
			DeliveryType:        1,
			Description:         "Açıklama 1",
		},
		OrderPieceList: []OrderPiece{
			{Barcode: referenceID, Desi: desi, Kg: kg, Content: content},
		},
		Recipient: Recipient{
			CityName:          city,
			DistrictName:      strings.ToUpper(in.District),
			Address:           address,
			Email:             in.Email,
			FullName:          fullName,
			MobilePhoneNumber: digitsOnly(in.Phone),
		},
	}
}

// PieceInput describes one physical piece for label generation.
type PieceInput struct {
	Desi    float64
	Kg      float64
	Content string
}

// BarcodeInput describes a label request for a registered order.
type BarcodeInput struct {
	ReferenceID        string
	DeliveryNoteNo     string
	COD                bool
	CODAmount          float64
	PackageType        int
	Pieces             []PieceInput
	AdditionalContent1 string
	AdditionalContent2 string
	AdditionalContent3 string
}

// BarcodeOutput is the result of a successful label request.
type BarcodeOutput struct {
	ShipmentID string
	InvoiceID  string
	Barcodes   []Barcode
	ZPLContent string
}

// SubmitBarcode builds a per-piece label request (each piece keyed
// {referenceId}-P{n}, 1-indexed) and calls the label endpoint.
func (c *Client) SubmitBarcode(ctx context.Context, in *BarcodeInput) (*BarcodeOutput, error) {
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.Start(ctx, "mngkargo.SubmitBarcode")
		defer span.End()
	}

	tok, err := c.AcquireToken(ctx)
	if err != nil {
		return nil, err
	}

	referenceID := strings.ToUpper(in.ReferenceID)
	packageType := in.PackageType
	if packageType == 0 {
		packageType = 3
	}

	pieces := in.Pieces
	if len(pieces) == 0 {
		pieces = []PieceInput{{Desi: 1, Kg: 1}}
	}
	pieceList := make([]BarcodePiece, 0, len(pieces))
	for i, p := range pieces {
		desi := p.Desi
		if desi == 0 {
			desi = 1
		}
		kg := p.Kg
		if kg == 0 {
			kg = 1
		}
		content := p.Content
		if content == "" {
			content = "Ürün"
		}
		pieceList = append(pieceList, BarcodePiece{
			Barcode: referenceID + "-P" + strconv.Itoa(i+1),
			Desi:    desi,
			Kg:      kg,
			Content: content,
		})
	}

	codAmount := 0.0
	isCOD := 0
	if in.COD {
		isCOD = 1
		codAmount = in.CODAmount
	}

	req := &BarcodeRequest{
		ReferenceID:        referenceID,
		BillOfLandingID:    in.DeliveryNoteNo,
		IsCOD:              isCOD,
		CODAmount:          codAmount,
		PackagingType:      packageType,
		PrintOnError:       1,
		AdditionalContent1: in.AdditionalContent1,
		AdditionalContent2: in.AdditionalContent2,
		AdditionalContent3: in.AdditionalContent3,
		OrderPieceList:     pieceList,
	}

	c.logger.Info("Submitting MNG barcode request",
		zap.String("reference_id", referenceID),
		zap.Int("pieces", len(pieceList)),
	)

	result, err := c.apiClient.CreateBarcode(ctx, tok.Token, req)
	if err != nil {
		c.logger.Error("MNG barcode request failed",
			zap.String("reference_id", referenceID),
			zap.Error(err),
		)
		return nil, err
	}

	return &BarcodeOutput{
		ShipmentID: result.ShipmentID,
		InvoiceID:  result.InvoiceID,
		Barcodes:   result.Barcodes,
		ZPLContent: result.ZPLContent(),
	}, nil
}

// TrackShipment performs a read-only status lookup for a reference id.
func (c *Client) TrackShipment(ctx context.Context, referenceID string) (json.RawMessage, error) {
	tok, err := c.AcquireToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.apiClient.TrackShipment(ctx, tok.Token, strings.ToUpper(referenceID))
}

// GetOrder retrieves the carrier's order record for a reference id.
func (c *Client) GetOrder(ctx context.Context, referenceID string) (json.RawMessage, error) {
	tok, err := c.AcquireToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.apiClient.GetOrder(ctx, tok.Token, strings.ToUpper(referenceID))
}

// ConnectionStatus is the outcome of a connection test.
type ConnectionStatus struct {
	OK             bool       `json:"ok"`
	Message        string     `json:"message"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
}

// TestConnection attempts token acquisition only and reports the
// outcome for diagnostics. Failures are folded into the status value.
func (c *Client) TestConnection(ctx context.Context) *ConnectionStatus {
	tok, err := c.AcquireToken(ctx)
	if err != nil {
		return &ConnectionStatus{OK: false, Message: "connection failed: " + err.Error()}
	}
	expires := tok.ExpiresAt
	return &ConnectionStatus{OK: true, Message: "connection successful", TokenExpiresAt: &expires}
}

// SanitizeReference uppercases a reference id and strips everything
// outside A-Z0-9, as the carrier requires.
func SanitizeReference(s string) string {
	upper := strings.ToUpper(s)
	var b strings.Builder
	b.Grow(len(upper))
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
