package mngkargo_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tursped/kargopanel/pkg/carrier"
	"github.com/tursped/kargopanel/pkg/carrier/mngkargo"
)

func newHTTPClient(baseURL string) *mngkargo.HTTPAPIClient {
	return mngkargo.NewHTTPAPIClient(mngkargo.HTTPAPIClientConfig{
		BaseURL:      baseURL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})
}

func TestHTTPAPIClient_CreateToken_Headers(t *testing.T) {
	var gotHeaders http.Header
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"jwt":           "server-jwt",
			"jwtExpireDate": "2024-06-01T12:00:00Z",
		})
	}))
	defer srv.Close()

	client := newHTTPClient(srv.URL)
	resp, err := client.CreateToken(context.Background(), &mngkargo.TokenRequest{
		CustomerNumber: "1234567890",
		Password:       "secret",
		IdentityType:   1,
	})

	require.NoError(t, err)
	assert.Equal(t, "server-jwt", resp.JWT)
	assert.Equal(t, "client-id", gotHeaders.Get("x-ibm-client-id"))
	assert.Equal(t, "client-secret", gotHeaders.Get("x-ibm-client-secret"))
	assert.Empty(t, gotHeaders.Get("Authorization"), "token endpoint carries no bearer")
	assert.Equal(t, "1234567890", gotBody["customerNumber"])
	assert.Equal(t, float64(1), gotBody["identityType"])
}

func TestHTTPAPIClient_CreateOrder_BearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/standardcmdapi/createOrder", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]map[string]string{{"orderInvoiceId": "ORD-7"}})
	}))
	defer srv.Close()

	client := newHTTPClient(srv.URL)
	resp, err := client.CreateOrder(context.Background(), "the-jwt", &mngkargo.OrderRequest{})

	require.NoError(t, err)
	assert.Equal(t, "Bearer the-jwt", gotAuth)
	require.Len(t, resp, 1)
	assert.Equal(t, "ORD-7", resp[0].OrderInvoiceID)
}

func TestHTTPAPIClient_CreateBarcode_FirstElement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/barcodecmdapi/createbarcode", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{
				"shipmentId": "SHP-1",
				"invoiceId":  "INV-1",
				"barcodes":   []map[string]string{{"value": "^XA...^XZ", "type": "zpl"}},
			},
		})
	}))
	defer srv.Close()

	client := newHTTPClient(srv.URL)
	result, err := client.CreateBarcode(context.Background(), "jwt", &mngkargo.BarcodeRequest{})

	require.NoError(t, err)
	assert.Equal(t, "SHP-1", result.ShipmentID)
	assert.Equal(t, "^XA...^XZ", result.ZPLContent())
}

func TestHTTPAPIClient_RemoteErrorShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bare string", `"kayit bulunamadi"`, "kayit bulunamadi"},
		{"message object", `{"message":"gecersiz sifre"}`, "gecersiz sifre"},
		{"errorMessage object", `{"errorMessage":"yetkisiz erisim"}`, "yetkisiz erisim"},
		{"description object", `{"description":"limit asildi"}`, "limit asildi"},
		{"array first message", `[{"message":"eksik alan"}]`, "eksik alan"},
		{"unknown shape", `{"foo":"bar"}`, `{"foo":"bar"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := newHTTPClient(srv.URL)
			_, err := client.CreateToken(context.Background(), &mngkargo.TokenRequest{})

			require.Error(t, err)
			var cerr *carrier.Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, carrier.CodeRemote, cerr.Code)
			assert.Equal(t, http.StatusBadRequest, cerr.StatusCode)
			assert.Equal(t, tc.want, cerr.Message)
		})
	}
}

func TestHTTPAPIClient_EmptyErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newHTTPClient(srv.URL)
	_, err := client.CreateToken(context.Background(), &mngkargo.TokenRequest{})

	require.Error(t, err)
	var cerr *carrier.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "HTTP 503", cerr.Message)
}

func TestHTTPAPIClient_ConnectionRefused(t *testing.T) {
	// A closed server yields a connection-level failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := newHTTPClient(srv.URL)
	_, err := client.CreateToken(context.Background(), &mngkargo.TokenRequest{})

	require.Error(t, err)
	assert.Equal(t, carrier.CodeConnection, carrier.CodeOf(err))
}

func TestHTTPAPIClient_TrackShipment_RawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/standardqueryapi/trackshipment/REF1", r.URL.Path)
		_, _ = w.Write([]byte(`{"referenceId":"REF1","status":"DELIVERED"}`))
	}))
	defer srv.Close()

	client := newHTTPClient(srv.URL)
	raw, err := client.TrackShipment(context.Background(), "jwt", "REF1")

	require.NoError(t, err)
	assert.JSONEq(t, `{"referenceId":"REF1","status":"DELIVERED"}`, string(raw))
}
