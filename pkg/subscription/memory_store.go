package subscription

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of Store, AuditLog, Ledger, ImageIndex and
// Accounts. Suitable for tests and local development only.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[uuid.UUID]Record
	audit    []AuditEntry
	invoices map[uuid.UUID]Invoice
	images   map[uuid.UUID][]ImageRef
	accounts map[uuid.UUID]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[uuid.UUID]Record),
		invoices: make(map[uuid.UUID]Invoice),
		images:   make(map[uuid.UUID][]ImageRef),
		accounts: make(map[uuid.UUID]struct{}),
	}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, userID uuid.UUID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return &rec, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[record.UserID] = *record
	m.accounts[record.UserID] = struct{}{}
	return nil
}

// ListExpiredTrials implements Store.
func (m *MemoryStore) ListExpiredTrials(_ context.Context, now time.Time) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.TrialExpired(now) }), nil
}

// ListGraceElapsed implements Store.
func (m *MemoryStore) ListGraceElapsed(_ context.Context, now time.Time) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.GraceElapsed(now) }), nil
}

// ListInGrace implements Store.
func (m *MemoryStore) ListInGrace(_ context.Context, now time.Time) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.InGracePeriod(now) }), nil
}

// ListDeferredCancellations implements Store.
func (m *MemoryStore) ListDeferredCancellations(_ context.Context, now time.Time) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.DeferredCancellationDue(now) }), nil
}

func (m *MemoryStore) filter(match func(Record) bool) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, r := range m.records {
		if match(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Record) int { return cmp.Compare(a.UserID.String(), b.UserID.String()) })
	return out
}

// Append implements AuditLog.
func (m *MemoryStore) Append(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audit = append(m.audit, entry)
	return nil
}

// AuditEntries returns the audit entries of userID in insertion order.
func (m *MemoryStore) AuditEntries(userID uuid.UUID) []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []AuditEntry
	for _, e := range m.audit {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// GetInvoice implements Ledger.
func (m *MemoryStore) GetInvoice(_ context.Context, userID, invoiceID uuid.UUID) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invoices[invoiceID]
	if !ok || inv.UserID != userID {
		return nil, ErrInvoiceNotFound
	}
	return &inv, nil
}

// LatestPaidInvoice implements Ledger.
func (m *MemoryStore) LatestPaidInvoice(_ context.Context, userID uuid.UUID) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Invoice
	for _, inv := range m.invoices {
		if inv.UserID != userID || inv.Status != InvoicePaid {
			continue
		}
		if latest == nil || inv.CreatedAt.After(latest.CreatedAt) {
			latest = &inv
		}
	}
	if latest == nil {
		return nil, ErrInvoiceNotFound
	}
	return latest, nil
}

// MarkRefunded implements Ledger.
func (m *MemoryStore) MarkRefunded(_ context.Context, invoiceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[invoiceID]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.Status = InvoiceRefunded
	m.invoices[invoiceID] = inv
	return nil
}

// CreateInvoice implements Ledger.
func (m *MemoryStore) CreateInvoice(_ context.Context, invoice *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invoices[invoice.ID] = *invoice
	return nil
}

// SetGatewayRefund implements Ledger.
func (m *MemoryStore) SetGatewayRefund(_ context.Context, invoiceID uuid.UUID, refundID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[invoiceID]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.GatewayRefundID = refundID
	m.invoices[invoiceID] = inv
	return nil
}

// Invoices returns the invoices of userID ordered by creation time.
func (m *MemoryStore) Invoices(userID uuid.UUID) []Invoice {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Invoice
	for _, inv := range m.invoices {
		if inv.UserID == userID {
			out = append(out, inv)
		}
	}
	slices.SortFunc(out, func(a, b Invoice) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// AddImage registers an uploaded image for userID.
func (m *MemoryStore) AddImage(userID uuid.UUID, ref ImageRef) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.images[userID] = append(m.images[userID], ref)
}

// ListUserImages implements ImageIndex. Cleared references are not returned.
func (m *MemoryStore) ListUserImages(_ context.Context, userID uuid.UUID) ([]ImageRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ImageRef
	for _, ref := range m.images[userID] {
		if ref.URL != "" {
			out = append(out, ref)
		}
	}
	return out, nil
}

// ClearImage implements ImageIndex.
func (m *MemoryStore) ClearImage(_ context.Context, ref ImageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, refs := range m.images {
		for i, r := range refs {
			if r.Class == ref.Class && r.OwnerID == ref.OwnerID {
				refs[i].URL = ""
				m.images[userID] = refs
			}
		}
	}
	return nil
}

// AddAccount registers an account without a subscription record.
func (m *MemoryStore) AddAccount(userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts[userID] = struct{}{}
}

// HasAccount reports whether the account of userID exists.
func (m *MemoryStore) HasAccount(userID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.accounts[userID]
	return ok
}

// AccountExists implements Accounts.
func (m *MemoryStore) AccountExists(_ context.Context, userID uuid.UUID) (bool, error) {
	return m.HasAccount(userID), nil
}

// DeleteAccount implements Accounts. The subscription record and audit trail are kept.
func (m *MemoryStore) DeleteAccount(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[userID]; !ok {
		return ErrAccountNotFound
	}
	delete(m.accounts, userID)
	delete(m.images, userID)
	return nil
}
