package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set
// and as the test double.
type Memory struct {
	mu        sync.Mutex
	shipments map[string]*Shipment // referenceID -> record
	order     []string             // insertion order of reference ids
	logs      []*LogEntry
	settings  map[string]*Setting

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		shipments: map[string]*Shipment{},
		settings:  map[string]*Setting{},
		now:       time.Now,
	}
}

// WithClock overrides the store's clock, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

func (m *Memory) InsertShipment(ctx context.Context, s *Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.shipments[s.ReferenceID]; exists {
		return ErrDuplicateReference
	}

	cp := *s
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.Status == "" {
		cp.Status = StatusPending
	}
	if cp.Source == "" {
		cp.Source = SourceManual
	}
	now := m.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	m.shipments[cp.ReferenceID] = &cp
	m.order = append(m.order, cp.ReferenceID)

	// reflect generated fields back to the caller
	*s = cp
	return nil
}

func (m *Memory) UpdateShipment(ctx context.Context, referenceID string, patch ShipmentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.shipments[referenceID]
	if !ok {
		return ErrNotFound
	}

	if patch.CarrierOrderID != nil {
		rec.CarrierOrderID = *patch.CarrierOrderID
	}
	if patch.CarrierShipmentID != nil {
		rec.CarrierShipmentID = *patch.CarrierShipmentID
	}
	if patch.CarrierInvoiceID != nil {
		rec.CarrierInvoiceID = *patch.CarrierInvoiceID
	}
	if patch.ZPLContent != nil {
		rec.ZPLContent = *patch.ZPLContent
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.ErrorMessage != nil {
		rec.ErrorMessage = *patch.ErrorMessage
	}
	rec.UpdatedAt = m.now()
	return nil
}

func (m *Memory) GetShipment(ctx context.Context, referenceID string) (*Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.shipments[referenceID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) ListShipments(ctx context.Context, filter ShipmentFilter) ([]*Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []*Shipment{}
	// most-recent-first
	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.shipments[m.order[i]]
		if filter.Status != "" && string(rec.Status) != filter.Status {
			continue
		}
		if filter.Source != "" && rec.Source != filter.Source {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) AggregateCounts(ctx context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &Stats{}
	today := m.now().Format("2006-01-02")
	for _, rec := range m.shipments {
		stats.Total++
		if rec.CreatedAt.Format("2006-01-02") == today {
			stats.CreatedToday++
		}
		switch rec.Status {
		case StatusPending:
			stats.Pending++
		case StatusSuccess:
			stats.Success++
		case StatusError:
			stats.Error++
		}
	}
	return stats, nil
}

func (m *Memory) AppendLog(ctx context.Context, e *LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *Memory) ListLogs(ctx context.Context, limit int) ([]*LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	out := []*LogEntry{}
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.logs[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return s.Value, nil
}

func (m *Memory) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[key] = &Setting{Key: key, Value: value, UpdatedAt: m.now()}
	return nil
}

func (m *Memory) ListSettings(ctx context.Context) ([]*Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Setting, 0, len(m.settings))
	for _, s := range m.settings {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].Key, out[j].Key) < 0
	})
	return out, nil
}

var _ Store = (*Memory)(nil)
