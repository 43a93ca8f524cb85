// Package server exposes the admin panel's JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tursped/kargopanel/internal/dispatch"
	"github.com/tursped/kargopanel/internal/store"
	"github.com/tursped/kargopanel/internal/telemetry"
	"github.com/tursped/kargopanel/pkg/carrier/mngkargo"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Server is the HTTP server for the admin panel API.
type Server struct {
	port     int
	useMock  bool
	sandbox  bool
	store    store.Store
	logger   *otelzap.Logger
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
	validate *validatorv10.Validate
}

// Config holds server configuration.
type Config struct {
	Port int

	// UseMock swaps the carrier transport for the in-process mock.
	UseMock bool

	// SandboxPreset allows the carrier's published sandbox credentials
	// to stand in when test mode is on and no credentials are saved.
	SandboxPreset bool
}

// New creates a new server instance.
func New(cfg Config, st store.Store, logger *otelzap.Logger, tracer trace.Tracer, metrics *telemetry.Metrics) *Server {
	return &Server{
		port:     cfg.Port,
		useMock:  cfg.UseMock,
		sandbox:  cfg.SandboxPreset,
		store:    st,
		logger:   logger,
		tracer:   tracer,
		metrics:  metrics,
		validate: validatorv10.New(),
	}
}

// Handler builds the route table. Exposed separately from Run so tests
// can drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/shipments", s.handleShipments)
	mux.HandleFunc("/api/shipments/", s.handleShipmentSubpath)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/settings/carrier", s.handleCarrierSettings)
	mux.HandleFunc("/api/carrier/test", s.handleCarrierTest)

	return s.withMetrics(mux)
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.metrics.RecordRequest(r.URL.Path, strconv.Itoa(sw.status), time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// envelope is the uniform response shape. Business-level failures keep
// HTTP 200 and report through success=false.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: v})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// carrierClient assembles a carrier client from the saved settings.
// Settings are re-read per request so credential changes apply without
// a restart.
func (s *Server) carrierClient(ctx context.Context) (*mngkargo.Client, error) {
	settings, err := store.LoadCarrierSettings(ctx, s.store)
	if err != nil {
		return nil, fmt.Errorf("loading carrier settings: %w", err)
	}

	cfg := mngkargo.Config{
		ClientID:       settings.ClientID,
		ClientSecret:   settings.ClientSecret,
		CustomerNumber: settings.CustomerNumber,
		Password:       settings.Password,
		TestMode:       settings.TestMode,
		UseMock:        s.useMock,
	}
	if s.sandbox && settings.TestMode &&
		cfg.ClientID == "" && cfg.ClientSecret == "" && cfg.CustomerNumber == "" && cfg.Password == "" {
		sandbox := mngkargo.SandboxConfig()
		sandbox.UseMock = s.useMock
		cfg = sandbox
	}

	return mngkargo.New(cfg, s.logger, s.tracer), nil
}

func (s *Server) dispatcher(ctx context.Context) (*dispatch.Service, error) {
	client, err := s.carrierClient(ctx)
	if err != nil {
		return nil, err
	}
	return dispatch.NewService(client, s.store, s.logger, s.metrics), nil
}

// pieceRequest is one physical piece in a shipment creation request.
type pieceRequest struct {
	Desi   float64 `json:"desi" validate:"gte=0"`
	Kg     float64 `json:"kg" validate:"gte=0"`
	Icerik string  `json:"icerik"`
}

// createShipmentRequest mirrors the panel's form field names.
type createShipmentRequest struct {
	ReferenceID      string         `json:"referenceId"`
	SiparisNo        string         `json:"siparisNo"`
	AliciAdSoyad     string         `json:"aliciAdSoyad" validate:"required"`
	AliciCepTel      string         `json:"aliciCepTel"`
	AliciEmail       string         `json:"aliciEmail" validate:"omitempty,email"`
	AliciAdres       string         `json:"aliciAdres" validate:"required"`
	AliciIl          string         `json:"aliciIl"`
	AliciIlce        string         `json:"aliciIlce"`
	Icerik           string         `json:"icerik"`
	Desi             float64        `json:"desi" validate:"gte=0"`
	Kg               float64        `json:"kg" validate:"gte=0"`
	ParcaSayisi      int            `json:"parcaSayisi" validate:"gte=0"`
	IrsaliyeNo       string         `json:"irsaliyeNo"`
	KapidaOdeme      bool           `json:"kapidaOdeme"`
	KapidaOdemeTutar float64        `json:"kapidaOdemeTutar" validate:"gte=0"`
	PaketTipi        int            `json:"paketTipi" validate:"gte=0"`
	TeslimatTipi     int            `json:"teslimatTipi" validate:"gte=0"`
	Parcalar         []pieceRequest `json:"parcalar" validate:"dive"`
	Kaynak           string         `json:"kaynak" validate:"omitempty,oneof=manual external"`
}

func (s *Server) handleShipments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateShipment(w, r)
	case http.MethodGet:
		s.handleListShipments(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	var req createShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	svc, err := s.dispatcher(r.Context())
	if err != nil {
		s.logger.Error("Dispatcher setup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	pieces := make([]mngkargo.PieceInput, 0, len(req.Parcalar))
	for _, p := range req.Parcalar {
		pieces = append(pieces, mngkargo.PieceInput{Desi: p.Desi, Kg: p.Kg, Content: p.Icerik})
	}

	result := svc.CreateShipment(r.Context(), &dispatch.CreateInput{
		ReferenceID:    req.ReferenceID,
		OrderNo:        req.SiparisNo,
		RecipientName:  req.AliciAdSoyad,
		Phone:          req.AliciCepTel,
		Email:          req.AliciEmail,
		Address:        req.AliciAdres,
		City:           req.AliciIl,
		District:       req.AliciIlce,
		Content:        req.Icerik,
		Desi:           req.Desi,
		Kg:             req.Kg,
		PieceCount:     req.ParcaSayisi,
		DeliveryNoteNo: req.IrsaliyeNo,
		COD:            req.KapidaOdeme,
		CODAmount:      req.KapidaOdemeTutar,
		DeliveryType:   req.TeslimatTipi,
		PackageType:    req.PaketTipi,
		Pieces:         pieces,
		Source:         req.Kaynak,
	})

	// The workflow's outcome is the payload either way; a failed
	// submission is not a failed request.
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListShipments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ShipmentFilter{
		Status: q.Get("status"),
		Source: q.Get("source"),
		Limit:  queryInt(q.Get("limit"), 0),
	}

	shipments, err := s.store.ListShipments(r.Context(), filter)
	if err != nil {
		s.logger.Error("Listing shipments failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeData(w, shipments)
}

// handleShipmentSubpath routes /api/shipments/{referenceId}[/track]
// and the fixed /stats and /recent paths.
func (s *Server) handleShipmentSubpath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/shipments/"), "/")
	switch {
	case rest == "stats":
		s.handleStats(w, r)
	case rest == "recent":
		s.handleRecent(w, r)
	case strings.HasSuffix(rest, "/track"):
		s.handleTrack(w, r, strings.TrimSuffix(rest, "/track"))
	case rest != "" && !strings.Contains(rest, "/"):
		s.handleGetShipment(w, r, rest)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.AggregateCounts(r.Context())
	if err != nil {
		s.logger.Error("Aggregating shipment counts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeData(w, stats)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query().Get("limit"), 10)
	shipments, err := s.store.ListShipments(r.Context(), store.ShipmentFilter{Limit: limit})
	if err != nil {
		s.logger.Error("Listing recent shipments failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeData(w, shipments)
}

func (s *Server) handleGetShipment(w http.ResponseWriter, r *http.Request, referenceID string) {
	shipment, err := s.store.GetShipment(r.Context(), strings.ToUpper(referenceID))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "shipment not found")
		return
	}
	if err != nil {
		s.logger.Error("Loading shipment failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeData(w, shipment)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request, referenceID string) {
	client, err := s.carrierClient(r.Context())
	if err != nil {
		s.logger.Error("Carrier client setup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	raw, err := client.TrackShipment(r.Context(), referenceID)
	if err != nil {
		writeJSON(w, http.StatusOK, envelope{Success: false, Error: err.Error()})
		return
	}
	writeData(w, json.RawMessage(raw))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := queryInt(r.URL.Query().Get("limit"), 50)
	logs, err := s.store.ListLogs(r.Context(), limit)
	if err != nil {
		s.logger.Error("Listing logs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeData(w, logs)
}

type settingRequest struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.store.ListSettings(r.Context())
		if err != nil {
			s.logger.Error("Listing settings failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		for _, st := range settings {
			st.Value = maskSetting(st.Key, st.Value)
		}
		writeData(w, settings)

	case http.MethodPost:
		var req settingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if err := s.validate.Struct(&req); err != nil {
			writeError(w, http.StatusBadRequest, validationMessage(err))
			return
		}
		if err := s.store.SetSetting(r.Context(), req.Key, req.Value); err != nil {
			s.logger.Error("Saving setting failed", zap.String("key", req.Key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeData(w, map[string]string{"key": req.Key})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// carrierSettingsRequest mirrors the panel's carrier settings form.
type carrierSettingsRequest struct {
	TestMode       bool   `json:"testMode"`
	ClientID       string `json:"clientId"`
	ClientSecret   string `json:"clientSecret"`
	CustomerNumber string `json:"customerNumber"`
	Password       string `json:"password"`
}

type carrierSettingsResponse struct {
	TestMode       bool   `json:"testMode"`
	ClientID       string `json:"clientId"`
	ClientSecret   string `json:"clientSecret"`
	CustomerNumber string `json:"customerNumber"`
	Password       string `json:"password"`
}

func (s *Server) handleCarrierSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := store.LoadCarrierSettings(r.Context(), s.store)
		if err != nil {
			s.logger.Error("Loading carrier settings failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeData(w, carrierSettingsResponse{
			TestMode:       settings.TestMode,
			ClientID:       maskSetting(store.KeyCarrierClientID, settings.ClientID),
			ClientSecret:   maskSetting(store.KeyCarrierClientSecret, settings.ClientSecret),
			CustomerNumber: settings.CustomerNumber,
			Password:       maskSetting(store.KeyCarrierPassword, settings.Password),
		})

	case http.MethodPost:
		var req carrierSettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}

		testMode := "false"
		if req.TestMode {
			testMode = "true"
		}
		pairs := map[string]string{
			store.KeyCarrierTestMode:       testMode,
			store.KeyCarrierClientID:       req.ClientID,
			store.KeyCarrierClientSecret:   req.ClientSecret,
			store.KeyCarrierCustomerNumber: req.CustomerNumber,
			store.KeyCarrierPassword:       req.Password,
		}
		for key, value := range pairs {
			// Masked values round-tripped from the GET form must not
			// clobber the stored secret.
			if isMasked(value) {
				continue
			}
			if err := s.store.SetSetting(r.Context(), key, value); err != nil {
				s.logger.Error("Saving carrier setting failed", zap.String("key", key), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
		}
		writeData(w, map[string]bool{"saved": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCarrierTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	client, err := s.carrierClient(r.Context())
	if err != nil {
		s.logger.Error("Carrier client setup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := client.TestConnection(r.Context())

	logStatus := "success"
	errMsg := ""
	if !status.OK {
		logStatus = "error"
		errMsg = status.Message
	}
	if err := s.store.AppendLog(r.Context(), &store.LogEntry{
		Operation:    "test_connection",
		Status:       logStatus,
		Response:     status.Message,
		ErrorMessage: errMsg,
		CreatedAt:    time.Now(),
	}); err != nil {
		s.logger.Warn("Recording connection test failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, envelope{Success: status.OK, Data: status})
}

// maskSetting hides secret values in API responses. Client ids keep
// their last four characters for recognition.
func maskSetting(key, value string) string {
	if value == "" {
		return ""
	}
	lower := strings.ToLower(key)
	switch {
	case strings.Contains(lower, "password") || strings.Contains(lower, "secret"):
		return "********"
	case strings.Contains(lower, "client_id") || strings.Contains(lower, "clientid"):
		if len(value) <= 4 {
			return "****"
		}
		return "****" + value[len(value)-4:]
	}
	return value
}

func isMasked(value string) bool {
	return strings.HasPrefix(value, "****")
}

func validationMessage(err error) string {
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return fmt.Sprintf("field %s failed validation on %s", fe.Field(), fe.Tag())
	}
	return "validation failed"
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
