package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tursped/kargopanel/internal/server"
	"github.com/tursped/kargopanel/internal/store"
	"github.com/tursped/kargopanel/internal/telemetry"
)

// promauto registers against the default registry, so the test binary
// shares one Metrics instance.
var testMetrics = telemetry.NewMetrics()

func seedCredentials(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.SetSetting(ctx, store.KeyCarrierTestMode, "true"))
	require.NoError(t, st.SetSetting(ctx, store.KeyCarrierClientID, "test-client-id"))
	require.NoError(t, st.SetSetting(ctx, store.KeyCarrierClientSecret, "test-client-secret"))
	require.NoError(t, st.SetSetting(ctx, store.KeyCarrierCustomerNumber, "1234567890"))
	require.NoError(t, st.SetSetting(ctx, store.KeyCarrierPassword, "secret"))
}

func newTestServer(st store.Store) http.Handler {
	srv := server.New(server.Config{Port: 0, UseMock: true}, st, telemetry.NopLogger(), nil, testMetrics)
	return srv.Handler()
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHealth(t *testing.T) {
	h := newTestServer(store.NewMemory())
	rec := doRequest(t, h, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCreateShipment_Success(t *testing.T) {
	st := store.NewMemory()
	seedCredentials(t, st)
	h := newTestServer(st)

	rec := doRequest(t, h, http.MethodPost, "/api/shipments", `{
		"referenceId": "REF1",
		"aliciAdSoyad": "Mehmet Demir",
		"aliciAdres": "Atatürk Cad. No:1",
		"aliciIl": "Ankara",
		"aliciCepTel": "05321234567",
		"desi": 2,
		"kg": 1.5
	}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Success     bool   `json:"success"`
		ReferenceID string `json:"referenceId"`
		OrderID     string `json:"orderId"`
		ShipmentID  string `json:"shipmentId"`
		ZPLContent  string `json:"zplContent"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "REF1", result.ReferenceID)
	assert.NotEmpty(t, result.OrderID)
	assert.NotEmpty(t, result.ShipmentID)
	assert.NotEmpty(t, result.ZPLContent)

	// The record landed in the store.
	shipment, err := st.GetShipment(context.Background(), "REF1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, shipment.Status)
}

func TestCreateShipment_MissingRecipient(t *testing.T) {
	st := store.NewMemory()
	seedCredentials(t, st)
	h := newTestServer(st)

	rec := doRequest(t, h, http.MethodPost, "/api/shipments", `{"aliciAdres":"adres"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "AliciAdSoyad")
}

func TestCreateShipment_InvalidJSON(t *testing.T) {
	h := newTestServer(store.NewMemory())
	rec := doRequest(t, h, http.MethodPost, "/api/shipments", `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

func TestCreateShipment_NoCredentialsIsBusinessFailure(t *testing.T) {
	// Empty settings: the carrier rejects before any network call, but
	// the HTTP layer still answers 200 with success=false.
	st := store.NewMemory()
	h := newTestServer(st)

	rec := doRequest(t, h, http.MethodPost, "/api/shipments", `{
		"aliciAdSoyad": "Mehmet Demir",
		"aliciAdres": "adres"
	}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Success bool   `json:"success"`
		Step    string `json:"step"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, "order", result.Step)
	assert.Contains(t, result.Error, "credentials")
}

func TestListShipments(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.InsertShipment(ctx, &store.Shipment{ReferenceID: "REF1", Status: store.StatusSuccess}))
	require.NoError(t, st.InsertShipment(ctx, &store.Shipment{ReferenceID: "REF2", Status: store.StatusError}))
	h := newTestServer(st)

	rec := doRequest(t, h, http.MethodGet, "/api/shipments?status=success", "")

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)

	var shipments []store.Shipment
	require.NoError(t, json.Unmarshal(env.Data, &shipments))
	require.Len(t, shipments, 1)
	assert.Equal(t, "REF1", shipments[0].ReferenceID)
}

func TestGetShipment_NotFound(t *testing.T) {
	h := newTestServer(store.NewMemory())
	rec := doRequest(t, h, http.MethodGet, "/api/shipments/NOPE", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

func TestGetShipment_LowercaseReference(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.InsertShipment(context.Background(), &store.Shipment{ReferenceID: "REF1"}))
	h := newTestServer(st)

	rec := doRequest(t, h, http.MethodGet, "/api/shipments/ref1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStats(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.InsertShipment(context.Background(), &store.Shipment{ReferenceID: "REF1", Status: store.StatusSuccess}))
	h := newTestServer(st)

	rec := doRequest(t, h, http.MethodGet, "/api/shipments/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)

	var stats store.Stats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Success)
}

func TestRecent_DefaultLimit(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		require.NoError(t, st.InsertShipment(ctx, &store.Shipment{
			ReferenceID: "REF" + string(rune('A'+i)),
		}))
	}
	h := newTestServer(st)

	rec := doRequest(t, h, http.MethodGet, "/api/shipments/recent", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var shipments []store.Shipment
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &shipments))
	assert.Len(t, shipments, 10)
}

func TestTrack(t *testing.T) {
	st := store.NewMemory()
	seedCredentials(t, st)
	h := newTestServer(st)

	rec := doRequest(t, h, http.MethodGet, "/api/shipments/REF1/track", "")

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), "REF1")
}

func TestLogs(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.AppendLog(context.Background(), &store.LogEntry{Operation: "create_shipment", Status: "success"}))
	h := newTestServer(st)

	rec := doRequest(t, h, http.MethodGet, "/api/logs", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var logs []store.LogEntry
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "create_shipment", logs[0].Operation)
}

func TestSettings_Masking(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.SetSetting(ctx, store.KeyCarrierPassword, "super-secret"))
	require.NoError(t, st.SetSetting(ctx, store.KeyCarrierClientID, "abcdef123456"))
	require.NoError(t, st.SetSetting(ctx, store.KeyCarrierTestMode, "true"))
	h := newTestServer(st)

	rec := doRequest(t, h, http.MethodGet, "/api/settings", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var settings []store.Setting
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &settings))

	byKey := map[string]string{}
	for _, s := range settings {
		byKey[s.Key] = s.Value
	}
	assert.Equal(t, "********", byKey[store.KeyCarrierPassword])
	assert.Equal(t, "****3456", byKey[store.KeyCarrierClientID])
	assert.Equal(t, "true", byKey[store.KeyCarrierTestMode], "non-secrets stay readable")
}

func TestSettings_Set(t *testing.T) {
	st := store.NewMemory()
	h := newTestServer(st)

	rec := doRequest(t, h, http.MethodPost, "/api/settings", `{"key":"mng_test_mode","value":"false"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	v, err := st.GetSetting(context.Background(), "mng_test_mode")
	require.NoError(t, err)
	assert.Equal(t, "false", v)
}

func TestSettings_SetMissingKey(t *testing.T) {
	h := newTestServer(store.NewMemory())
	rec := doRequest(t, h, http.MethodPost, "/api/settings", `{"value":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCarrierSettings_SaveAndMaskedRead(t *testing.T) {
	st := store.NewMemory()
	h := newTestServer(st)

	rec := doRequest(t, h, http.MethodPost, "/api/settings/carrier", `{
		"testMode": true,
		"clientId": "abcdef123456",
		"clientSecret": "shh",
		"customerNumber": "1234567890",
		"password": "pw"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/settings/carrier", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg struct {
		TestMode       bool   `json:"testMode"`
		ClientID       string `json:"clientId"`
		ClientSecret   string `json:"clientSecret"`
		CustomerNumber string `json:"customerNumber"`
		Password       string `json:"password"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &cfg))
	assert.True(t, cfg.TestMode)
	assert.Equal(t, "****3456", cfg.ClientID)
	assert.Equal(t, "********", cfg.ClientSecret)
	assert.Equal(t, "1234567890", cfg.CustomerNumber)
	assert.Equal(t, "********", cfg.Password)
}

func TestCarrierSettings_MaskedValueDoesNotClobber(t *testing.T) {
	st := store.NewMemory()
	seedCredentials(t, st)
	h := newTestServer(st)

	// Round-trip the masked form back as a save.
	rec := doRequest(t, h, http.MethodPost, "/api/settings/carrier", `{
		"testMode": true,
		"clientId": "****t-id",
		"clientSecret": "********",
		"customerNumber": "1234567890",
		"password": "********"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	v, err := st.GetSetting(context.Background(), store.KeyCarrierPassword)
	require.NoError(t, err)
	assert.Equal(t, "secret", v, "stored secret untouched")
}

func TestCarrierTest_Success(t *testing.T) {
	st := store.NewMemory()
	seedCredentials(t, st)
	h := newTestServer(st)

	rec := doRequest(t, h, http.MethodPost, "/api/carrier/test", "")

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)

	// The attempt lands in the audit trail.
	logs, err := st.ListLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "test_connection", logs[0].Operation)
	assert.Equal(t, "success", logs[0].Status)
}

func TestCarrierTest_NoCredentials(t *testing.T) {
	st := store.NewMemory()
	h := newTestServer(st)

	rec := doRequest(t, h, http.MethodPost, "/api/carrier/test", "")

	require.Equal(t, http.StatusOK, rec.Code, "business failure stays HTTP 200")
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)

	logs, err := st.ListLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "error", logs[0].Status)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(store.NewMemory())

	rec := doRequest(t, h, http.MethodDelete, "/api/shipments", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/logs", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/carrier/test", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
