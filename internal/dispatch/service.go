// Package dispatch implements the shipment submission workflow: the
// two-phase order-then-barcode call sequence against the carrier, with
// durable shipment state and an audit trail.
package dispatch

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/tursped/kargopanel/internal/store"
	"github.com/tursped/kargopanel/internal/telemetry"
	"github.com/tursped/kargopanel/pkg/carrier"
	"github.com/tursped/kargopanel/pkg/carrier/mngkargo"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Carrier is the slice of the MNG client the workflow needs.
type Carrier interface {
	SubmitOrder(ctx context.Context, in *mngkargo.OrderInput) (*mngkargo.OrderOutput, error)
	SubmitBarcode(ctx context.Context, in *mngkargo.BarcodeInput) (*mngkargo.BarcodeOutput, error)
}

// Service orchestrates the carrier client and the store. It holds no
// persistent state of its own.
type Service struct {
	carrier Carrier
	store   store.Store
	logger  *otelzap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewService creates a submission workflow service.
func NewService(c Carrier, st store.Store, logger *otelzap.Logger, metrics *telemetry.Metrics) *Service {
	return &Service{
		carrier: c,
		store:   st,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateInput is a shipment creation request, already bound and
// validated by the HTTP layer.
type CreateInput struct {
	ReferenceID    string
	OrderNo        string
	RecipientName  string
	Phone          string
	Email          string
	Address        string
	City           string
	District       string
	Content        string
	Desi           float64
	Kg             float64
	PieceCount     int
	DeliveryNoteNo string
	COD            bool
	CODAmount      float64
	DeliveryType   int
	PackageType    int
	Pieces         []mngkargo.PieceInput
	Source         string
}

// Workflow step names reported on failure.
const (
	StepOrder   = "order"
	StepBarcode = "barcode"
)

// Result is the outcome of one submission. Expected failures are
// values, not errors: Step tells the caller which phase failed, and
// OrderCreated signals the partial-failure state where the order
// exists at the carrier but no label was produced.
type Result struct {
	Success      bool               `json:"success"`
	ReferenceID  string             `json:"referenceId"`
	Step         string             `json:"step,omitempty"`
	Error        string             `json:"error,omitempty"`
	OrderCreated bool               `json:"orderCreated,omitempty"`
	OrderID      string             `json:"orderId,omitempty"`
	ShipmentID   string             `json:"shipmentId,omitempty"`
	InvoiceID    string             `json:"invoiceId,omitempty"`
	ZPLContent   string             `json:"zplContent,omitempty"`
	Barcodes     []mngkargo.Barcode `json:"barcodes,omitempty"`
}

const logOpCreateShipment = "create_shipment"

// CreateShipment runs the full submission workflow. Failures at either
// remote phase are terminal for this invocation; there is no retry.
func (s *Service) CreateShipment(ctx context.Context, in *CreateInput) *Result {
	started := s.now()

	referenceID := in.ReferenceID
	if referenceID == "" {
		referenceID = "GND" + strconv.FormatInt(s.now().UnixMilli(), 10)
	}
	referenceID = mngkargo.SanitizeReference(referenceID)

	source := in.Source
	if source == "" {
		source = store.SourceManual
	}

	// Local bookkeeping is best-effort: the carrier has no knowledge of
	// our storage, so a persistence failure must not block submission.
	rec := &store.Shipment{
		ReferenceID:      referenceID,
		OrderNo:          in.OrderNo,
		RecipientName:    in.RecipientName,
		RecipientPhone:   in.Phone,
		RecipientEmail:   in.Email,
		RecipientAddress: in.Address,
		City:             in.City,
		District:         in.District,
		Content:          in.Content,
		Desi:             defaultFloat(in.Desi, 1),
		Kg:               defaultFloat(in.Kg, 1),
		PieceCount:       defaultInt(in.PieceCount, 1),
		DeliveryNoteNo:   in.DeliveryNoteNo,
		COD:              in.COD,
		CODAmount:        in.CODAmount,
		Status:           store.StatusPending,
		Source:           source,
	}
	if err := s.store.InsertShipment(ctx, rec); err != nil {
		s.logger.Warn("Pending shipment insert failed, continuing",
			zap.String("reference_id", referenceID),
			zap.Error(err),
		)
	}

	orderOut, err := s.carrier.SubmitOrder(ctx, &mngkargo.OrderInput{
		ReferenceID:    referenceID,
		RecipientName:  in.RecipientName,
		Phone:          in.Phone,
		Email:          in.Email,
		Address:        in.Address,
		City:           in.City,
		District:       in.District,
		Content:        in.Content,
		Desi:           in.Desi,
		Kg:             in.Kg,
		DeliveryNoteNo: in.DeliveryNoteNo,
		COD:            in.COD,
		CODAmount:      in.CODAmount,
		DeliveryType:   in.DeliveryType,
		PackageType:    in.PackageType,
	})
	if err != nil {
		s.updateRecord(ctx, referenceID, store.ShipmentPatch{
			Status:       statusPtr(store.StatusError),
			ErrorMessage: strPtr("order error: " + err.Error()),
		})
		s.appendLog(ctx, &store.LogEntry{
			Operation:    logOpCreateShipment,
			ReferenceID:  referenceID,
			Status:       "error",
			ErrorMessage: err.Error(),
		})
		s.observe(StepOrder, "error", started)
		s.observeCarrierError(err)
		return &Result{Success: false, ReferenceID: referenceID, Step: StepOrder, Error: err.Error()}
	}

	pieces := in.Pieces
	if len(pieces) == 0 {
		pieces = []mngkargo.PieceInput{{Desi: in.Desi, Kg: in.Kg, Content: in.Content}}
	}

	barcodeOut, err := s.carrier.SubmitBarcode(ctx, &mngkargo.BarcodeInput{
		ReferenceID:    referenceID,
		DeliveryNoteNo: in.DeliveryNoteNo,
		COD:            in.COD,
		CODAmount:      in.CODAmount,
		PackageType:    in.PackageType,
		Pieces:         pieces,
	})
	if err != nil {
		// Genuine partial failure: the order exists upstream without a
		// label. Keep the carrier order id so the caller can reconcile.
		s.updateRecord(ctx, referenceID, store.ShipmentPatch{
			CarrierOrderID: strPtr(orderOut.OrderID),
			Status:         statusPtr(store.StatusLabelError),
			ErrorMessage:   strPtr("barcode error: " + err.Error()),
		})
		s.observe(StepBarcode, "error", started)
		s.observeCarrierError(err)
		return &Result{
			Success:      false,
			ReferenceID:  referenceID,
			Step:         StepBarcode,
			Error:        err.Error(),
			OrderCreated: true,
			OrderID:      orderOut.OrderID,
		}
	}

	s.updateRecord(ctx, referenceID, store.ShipmentPatch{
		CarrierOrderID:    strPtr(orderOut.OrderID),
		CarrierShipmentID: strPtr(barcodeOut.ShipmentID),
		CarrierInvoiceID:  strPtr(barcodeOut.InvoiceID),
		ZPLContent:        strPtr(barcodeOut.ZPLContent),
		Status:            statusPtr(store.StatusSuccess),
	})
	s.appendLog(ctx, &store.LogEntry{
		Operation:   logOpCreateShipment,
		ReferenceID: referenceID,
		Status:      "success",
		Response:    snapshot(map[string]string{"orderId": orderOut.OrderID, "shipmentId": barcodeOut.ShipmentID}),
	})
	s.observe("complete", "success", started)

	return &Result{
		Success:     true,
		ReferenceID: referenceID,
		OrderID:     orderOut.OrderID,
		ShipmentID:  barcodeOut.ShipmentID,
		InvoiceID:   barcodeOut.InvoiceID,
		ZPLContent:  barcodeOut.ZPLContent,
		Barcodes:    barcodeOut.Barcodes,
	}
}

// updateRecord is fire-and-forget: a bookkeeping failure never aborts
// an in-flight submission.
func (s *Service) updateRecord(ctx context.Context, referenceID string, patch store.ShipmentPatch) {
	if err := s.store.UpdateShipment(ctx, referenceID, patch); err != nil {
		s.logger.Warn("Shipment record update failed",
			zap.String("reference_id", referenceID),
			zap.Error(err),
		)
	}
}

// appendLog is fire-and-forget for the same reason.
func (s *Service) appendLog(ctx context.Context, e *store.LogEntry) {
	if err := s.store.AppendLog(ctx, e); err != nil {
		s.logger.Warn("Audit log append failed",
			zap.String("operation", e.Operation),
			zap.Error(err),
		)
	}
}

func (s *Service) observe(step, status string, started time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordSubmission(step, status, s.now().Sub(started).Seconds())
}

func (s *Service) observeCarrierError(err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordCarrierError(carrier.CodeOf(err))
}

func snapshot(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func defaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func strPtr(s string) *string { return &s }

func statusPtr(st store.ShipmentStatus) *store.ShipmentStatus { return &st }
