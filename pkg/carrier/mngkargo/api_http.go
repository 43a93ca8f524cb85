package mngkargo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/tursped/kargopanel/pkg/carrier"
)

// Production and sandbox endpoints of the MNG Kargo gateway.
const (
	ProductionBaseURL = "https://api.mngkargo.com.tr/mngapi/api"
	TestBaseURL       = "https://testapi.mngkargo.com.tr/mngapi/api"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPAPIClient{
		baseURL:      cfg.BaseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateToken exchanges customer credentials for a JWT.
// POST /token with the x-ibm client headers; no bearer token yet.
func (c *HTTPAPIClient) CreateToken(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/token", "", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.parseError(resp)
	}

	var result TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &result, nil
}

// CreateOrder registers a shipment order.
// POST /standardcmdapi/createOrder with bearer token plus client headers.
func (c *HTTPAPIClient) CreateOrder(ctx context.Context, token string, req *OrderRequest) (OrderResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/standardcmdapi/createOrder", token, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.parseError(resp)
	}

	var result OrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	return result, nil
}

// CreateBarcode generates labels for a registered order.
// POST /barcodecmdapi/createbarcode; the response is an array whose
// first element carries the shipment id, invoice id and barcodes.
func (c *HTTPAPIClient) CreateBarcode(ctx context.Context, token string, req *BarcodeRequest) (*BarcodeResult, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/barcodecmdapi/createbarcode", token, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.parseError(resp)
	}

	var results []BarcodeResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode barcode response: %w", err)
	}
	if len(results) == 0 {
		return nil, carrier.NewError(carrierName, carrier.CodeRemote, "empty barcode response")
	}
	return &results[0], nil
}

// TrackShipment retrieves tracking information for a reference id.
// GET /standardqueryapi/trackshipment/{referenceId}
func (c *HTTPAPIClient) TrackShipment(ctx context.Context, token string, referenceID string) (json.RawMessage, error) {
	path := fmt.Sprintf("/standardqueryapi/trackshipment/%s", referenceID)
	return c.getRaw(ctx, path, token)
}

// GetOrder retrieves the carrier's order record for a reference id.
// GET /standardqueryapi/getorder/{referenceId}
func (c *HTTPAPIClient) GetOrder(ctx context.Context, token string, referenceID string) (json.RawMessage, error) {
	path := fmt.Sprintf("/standardqueryapi/getorder/%s", referenceID)
	return c.getRaw(ctx, path, token)
}

func (c *HTTPAPIClient) getRaw(ctx context.Context, path, token string) (json.RawMessage, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return json.RawMessage(body), nil
}

// doRequest performs an HTTP request with the MNG client headers and,
// when token is non-empty, the bearer credential.
func (c *HTTPAPIClient) doRequest(ctx context.Context, method, path, token string, body interface{}) (*http.Response, error) {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-ibm-client-id", c.clientID)
	req.Header.Set("x-ibm-client-secret", c.clientSecret)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, normalizeTransportError(err)
	}
	return resp, nil
}

// normalizeTransportError classifies network-level failures into the
// carrier error taxonomy.
func normalizeTransportError(err error) *carrier.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return carrier.NewError(carrierName, carrier.CodeTimeout, "request timed out").WithCause(err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return carrier.NewError(carrierName, carrier.CodeTimeout, "request timed out").WithCause(err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return carrier.NewError(carrierName, carrier.CodeConnection, "connection refused").WithCause(err)
	}
	var operr *net.OpError
	if errors.As(err, &operr) {
		return carrier.NewError(carrierName, carrier.CodeConnection, "carrier unreachable").WithCause(err)
	}
	return carrier.NewError(carrierName, carrier.CodeUnknown, err.Error()).WithCause(err)
}

// parseError converts a non-2xx response into a REMOTE carrier error,
// extracting a human-readable message from the known body shapes.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	msg := extractRemoteMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return carrier.NewError(carrierName, carrier.CodeRemote, msg).WithStatusCode(resp.StatusCode)
}

// extractRemoteMessage tries the known MNG error body shapes in order:
// a bare JSON string, an object with "message", an object with
// "errorMessage", the first element of an array with "message", and
// finally the whole body serialized.
func extractRemoteMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(body, &asString); err == nil && asString != "" {
		return asString
	}

	var asObject struct {
		Message      string `json:"message"`
		ErrorMessage string `json:"errorMessage"`
		Description  string `json:"description"`
	}
	if err := json.Unmarshal(body, &asObject); err == nil {
		switch {
		case asObject.Message != "":
			return asObject.Message
		case asObject.ErrorMessage != "":
			return asObject.ErrorMessage
		case asObject.Description != "":
			return asObject.Description
		}
	}

	var asArray []struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &asArray); err == nil && len(asArray) > 0 && asArray[0].Message != "" {
		return asArray[0].Message
	}

	return string(body)
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
