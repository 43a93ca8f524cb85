// Package store provides persistence for shipments, audit logs, and
// panel settings.
package store

import (
	"context"
	"errors"
	"time"
)

// ShipmentStatus tracks a shipment's progress through the submission
// workflow. A record only moves forward; it never reverts from success.
type ShipmentStatus string

const (
	StatusPending    ShipmentStatus = "pending"
	StatusSuccess    ShipmentStatus = "success"
	StatusError      ShipmentStatus = "error"
	StatusLabelError ShipmentStatus = "label_error"
)

// Provenance tags for shipment records.
const (
	SourceManual   = "manual"
	SourceExternal = "external"
)

// Shipment is the persisted record of a shipment attempt. ReferenceID
// is the correlation key across carrier and local state; it is unique
// and immutable once set.
type Shipment struct {
	ID                string         `json:"id"`
	ReferenceID       string         `json:"referenceId"`
	OrderNo           string         `json:"orderNo,omitempty"`
	RecipientName     string         `json:"recipientName"`
	RecipientPhone    string         `json:"recipientPhone,omitempty"`
	RecipientEmail    string         `json:"recipientEmail,omitempty"`
	RecipientAddress  string         `json:"recipientAddress,omitempty"`
	City              string         `json:"city,omitempty"`
	District          string         `json:"district,omitempty"`
	Content           string         `json:"content,omitempty"`
	Desi              float64        `json:"desi"`
	Kg                float64        `json:"kg"`
	PieceCount        int            `json:"pieceCount"`
	DeliveryNoteNo    string         `json:"deliveryNoteNo,omitempty"`
	COD               bool           `json:"cod"`
	CODAmount         float64        `json:"codAmount"`
	CarrierOrderID    string         `json:"carrierOrderId,omitempty"`
	CarrierShipmentID string         `json:"carrierShipmentId,omitempty"`
	CarrierInvoiceID  string         `json:"carrierInvoiceId,omitempty"`
	ZPLContent        string         `json:"zplContent,omitempty"`
	Status            ShipmentStatus `json:"status"`
	ErrorMessage      string         `json:"errorMessage,omitempty"`
	Source            string         `json:"source"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// ShipmentPatch is a partial update; only non-nil fields change.
// UpdatedAt always refreshes.
type ShipmentPatch struct {
	CarrierOrderID    *string
	CarrierShipmentID *string
	CarrierInvoiceID  *string
	ZPLContent        *string
	Status            *ShipmentStatus
	ErrorMessage      *string
}

// ShipmentFilter narrows ListShipments results.
type ShipmentFilter struct {
	Status string
	Source string
	Limit  int
}

// Stats holds the dashboard aggregate counts.
type Stats struct {
	CreatedToday int `json:"createdToday"`
	Pending      int `json:"pending"`
	Success      int `json:"success"`
	Error        int `json:"error"`
	Total        int `json:"total"`
}

// LogEntry is one append-only audit record of a remote operation
// attempt. Entries are never updated or deleted.
type LogEntry struct {
	ID           string    `json:"id"`
	Operation    string    `json:"operation"`
	ReferenceID  string    `json:"referenceId,omitempty"`
	Request      string    `json:"request,omitempty"`
	Response     string    `json:"response,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Setting is one persisted key/value configuration pair.
type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store is the persistence interface used by the workflow and the API
// server.
type Store interface {
	// Shipments
	InsertShipment(ctx context.Context, s *Shipment) error
	UpdateShipment(ctx context.Context, referenceID string, patch ShipmentPatch) error
	GetShipment(ctx context.Context, referenceID string) (*Shipment, error)
	ListShipments(ctx context.Context, filter ShipmentFilter) ([]*Shipment, error)
	AggregateCounts(ctx context.Context) (*Stats, error)

	// Audit log
	AppendLog(ctx context.Context, e *LogEntry) error
	ListLogs(ctx context.Context, limit int) ([]*LogEntry, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) ([]*Setting, error)
}

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateReference = errors.New("duplicate reference id")
)

// Settings keys for the MNG carrier configuration.
const (
	KeyCarrierTestMode       = "mng_test_mode"
	KeyCarrierClientID       = "mng_client_id"
	KeyCarrierClientSecret   = "mng_client_secret"
	KeyCarrierCustomerNumber = "mng_customer_number"
	KeyCarrierPassword       = "mng_password"
)

// CarrierSettings is the carrier configuration assembled from the
// settings table.
type CarrierSettings struct {
	TestMode       bool
	ClientID       string
	ClientSecret   string
	CustomerNumber string
	Password       string
}

// LoadCarrierSettings reads the mng_* keys. Absent keys yield zero
// values, not errors.
func LoadCarrierSettings(ctx context.Context, st Store) (*CarrierSettings, error) {
	get := func(key string) (string, error) {
		v, err := st.GetSetting(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return v, err
	}

	testMode, err := get(KeyCarrierTestMode)
	if err != nil {
		return nil, err
	}
	clientID, err := get(KeyCarrierClientID)
	if err != nil {
		return nil, err
	}
	clientSecret, err := get(KeyCarrierClientSecret)
	if err != nil {
		return nil, err
	}
	customerNumber, err := get(KeyCarrierCustomerNumber)
	if err != nil {
		return nil, err
	}
	password, err := get(KeyCarrierPassword)
	if err != nil {
		return nil, err
	}

	return &CarrierSettings{
		TestMode:       testMode == "true",
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		CustomerNumber: customerNumber,
		Password:       password,
	}, nil
}
