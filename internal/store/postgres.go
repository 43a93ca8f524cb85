package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
)

// Postgres is the production store backed by PostgreSQL via pgx.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens and pings a PostgreSQL connection.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// EnsureSchema creates the panel tables if they do not exist, the way
// the panel bootstraps on first run. No migration framework; the schema
// is additive-only.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS shipments (
			id UUID PRIMARY KEY,
			reference_id TEXT UNIQUE NOT NULL,
			order_no TEXT,
			recipient_name TEXT NOT NULL,
			recipient_phone TEXT,
			recipient_email TEXT,
			recipient_address TEXT,
			city TEXT,
			district TEXT,
			content TEXT,
			desi DOUBLE PRECISION DEFAULT 1,
			kg DOUBLE PRECISION DEFAULT 1,
			piece_count INT DEFAULT 1,
			delivery_note_no TEXT,
			cod BOOLEAN DEFAULT FALSE,
			cod_amount DOUBLE PRECISION DEFAULT 0,
			carrier_order_id TEXT,
			carrier_shipment_id TEXT,
			carrier_invoice_id TEXT,
			zpl_content TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			error_message TEXT,
			source TEXT NOT NULL DEFAULT 'manual',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS operation_logs (
			id UUID PRIMARY KEY,
			operation TEXT NOT NULL,
			reference_id TEXT,
			request TEXT,
			response TEXT,
			status TEXT,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT,
			description TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) InsertShipment(ctx context.Context, s *Shipment) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = StatusPending
	}
	if s.Source == "" {
		s.Source = SourceManual
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err := p.db.ExecContext(ctx, `INSERT INTO shipments (
			id, reference_id, order_no, recipient_name, recipient_phone, recipient_email,
			recipient_address, city, district, content, desi, kg, piece_count,
			delivery_note_no, cod, cod_amount, status, source, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		s.ID, s.ReferenceID, nullIfEmpty(s.OrderNo), s.RecipientName,
		nullIfEmpty(s.RecipientPhone), nullIfEmpty(s.RecipientEmail),
		nullIfEmpty(s.RecipientAddress), nullIfEmpty(s.City), nullIfEmpty(s.District),
		nullIfEmpty(s.Content), s.Desi, s.Kg, s.PieceCount,
		nullIfEmpty(s.DeliveryNoteNo), s.COD, s.CODAmount,
		string(s.Status), s.Source, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

func (p *Postgres) UpdateShipment(ctx context.Context, referenceID string, patch ShipmentPatch) error {
	set := []string{"updated_at = now()"}
	args := []any{}
	n := 1

	add := func(col string, v any) {
		set = append(set, col+" = $"+strconv.Itoa(n))
		args = append(args, v)
		n++
	}
	if patch.CarrierOrderID != nil {
		add("carrier_order_id", *patch.CarrierOrderID)
	}
	if patch.CarrierShipmentID != nil {
		add("carrier_shipment_id", *patch.CarrierShipmentID)
	}
	if patch.CarrierInvoiceID != nil {
		add("carrier_invoice_id", *patch.CarrierInvoiceID)
	}
	if patch.ZPLContent != nil {
		add("zpl_content", *patch.ZPLContent)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.ErrorMessage != nil {
		add("error_message", *patch.ErrorMessage)
	}

	args = append(args, referenceID)
	query := "UPDATE shipments SET " + joinSet(set) + " WHERE reference_id = $" + strconv.Itoa(n)
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

func joinSet(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}

const shipmentColumns = `id::text, reference_id, order_no, recipient_name, recipient_phone,
	recipient_email, recipient_address, city, district, content, desi, kg, piece_count,
	delivery_note_no, cod, cod_amount, carrier_order_id, carrier_shipment_id,
	carrier_invoice_id, zpl_content, status, error_message, source, created_at, updated_at`

func scanShipment(row interface{ Scan(...any) error }) (*Shipment, error) {
	var s Shipment
	var orderNo, phone, email, address, city, district, content sql.NullString
	var deliveryNote, orderID, shipmentID, invoiceID, zpl, errMsg sql.NullString
	if err := row.Scan(&s.ID, &s.ReferenceID, &orderNo, &s.RecipientName, &phone,
		&email, &address, &city, &district, &content, &s.Desi, &s.Kg, &s.PieceCount,
		&deliveryNote, &s.COD, &s.CODAmount, &orderID, &shipmentID,
		&invoiceID, &zpl, &s.Status, &errMsg, &s.Source, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.OrderNo = orderNo.String
	s.RecipientPhone = phone.String
	s.RecipientEmail = email.String
	s.RecipientAddress = address.String
	s.City = city.String
	s.District = district.String
	s.Content = content.String
	s.DeliveryNoteNo = deliveryNote.String
	s.CarrierOrderID = orderID.String
	s.CarrierShipmentID = shipmentID.String
	s.CarrierInvoiceID = invoiceID.String
	s.ZPLContent = zpl.String
	s.ErrorMessage = errMsg.String
	return &s, nil
}

func (p *Postgres) GetShipment(ctx context.Context, referenceID string) (*Shipment, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE reference_id = $1`, referenceID)
	s, err := scanShipment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (p *Postgres) ListShipments(ctx context.Context, filter ShipmentFilter) ([]*Shipment, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE 1=1`
	args := []any{}
	n := 1
	if filter.Status != "" {
		query += ` AND status = $` + strconv.Itoa(n)
		args = append(args, filter.Status)
		n++
	}
	if filter.Source != "" {
		query += ` AND source = $` + strconv.Itoa(n)
		args = append(args, filter.Source)
		n++
	}
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(n)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Shipment{}
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AggregateCounts runs the dashboard count queries concurrently.
func (p *Postgres) AggregateCounts(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	g, ctx := errgroup.WithContext(ctx)

	count := func(dst *int, query string, args ...any) func() error {
		return func() error {
			return p.db.QueryRowContext(ctx, query, args...).Scan(dst)
		}
	}

	g.Go(count(&stats.CreatedToday, `SELECT COUNT(*) FROM shipments WHERE created_at::date = CURRENT_DATE`))
	g.Go(count(&stats.Pending, `SELECT COUNT(*) FROM shipments WHERE status = $1`, string(StatusPending)))
	g.Go(count(&stats.Success, `SELECT COUNT(*) FROM shipments WHERE status = $1`, string(StatusSuccess)))
	g.Go(count(&stats.Error, `SELECT COUNT(*) FROM shipments WHERE status = $1`, string(StatusError)))
	g.Go(count(&stats.Total, `SELECT COUNT(*) FROM shipments`))

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (p *Postgres) AppendLog(ctx context.Context, e *LogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO operation_logs
			(id, operation, reference_id, request, response, status, error_message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.Operation, nullIfEmpty(e.ReferenceID), nullIfEmpty(e.Request),
		nullIfEmpty(e.Response), e.Status, nullIfEmpty(e.ErrorMessage), e.CreatedAt)
	return err
}

func (p *Postgres) ListLogs(ctx context.Context, limit int) ([]*LogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, operation, reference_id,
			request, response, status, error_message, created_at
		FROM operation_logs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*LogEntry{}
	for rows.Next() {
		var e LogEntry
		var ref, req, resp, status, errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.Operation, &ref, &req, &resp, &status, &errMsg, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ReferenceID = ref.String
		e.Request = req.String
		e.Response = resp.String
		e.Status = status.String
		e.ErrorMessage = errMsg.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *Postgres) GetSetting(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := p.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}

func (p *Postgres) SetSetting(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	return err
}

func (p *Postgres) ListSettings(ctx context.Context) ([]*Setting, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key, value, description, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Setting{}
	for rows.Next() {
		var s Setting
		var value, desc sql.NullString
		if err := rows.Scan(&s.Key, &value, &desc, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Value = value.String
		s.Description = desc.String
		out = append(out, &s)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*Postgres)(nil)
