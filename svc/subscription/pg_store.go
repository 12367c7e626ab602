package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/printforge/pkg/pg"
	sub "github.com/dmitrymomot/printforge/pkg/subscription"
)

// PostgresStore implements the engine persistence ports on top of PostgreSQL.
// One value serves as Store, AuditLog, Ledger, ImageIndex, Accounts and RecipientLookup.
type PostgresStore struct {
	db pg.Querier
}

// NewPostgresStore creates a store. Panics if db is nil.
func NewPostgresStore(db pg.Querier) *PostgresStore {
	if db == nil {
		panic("subscription: postgres querier is required")
	}
	return &PostgresStore{db: db}
}

var (
	_ sub.Store       = (*PostgresStore)(nil)
	_ sub.AuditLog    = (*PostgresStore)(nil)
	_ sub.Ledger      = (*PostgresStore)(nil)
	_ sub.ImageIndex  = (*PostgresStore)(nil)
	_ sub.Accounts    = (*PostgresStore)(nil)
	_ RecipientLookup = (*PostgresStore)(nil)
)

const recordColumns = `user_id, tier, status, expires_at, coalesce(previous_tier, ''), downgrade_date,
	grace_period_end, is_read_only, coalesce(billing_link, ''), coalesce(customer_ref, ''),
	coalesce(billing_period, ''), next_billing_date, created_at, updated_at`

func scanRecord(row pgx.CollectableRow) (sub.Record, error) {
	var (
		r                                     sub.Record
		tier, status, previous, billingPeriod string
	)
	err := row.Scan(
		&r.UserID, &tier, &status, &r.ExpiresAt, &previous, &r.DowngradeDate,
		&r.GracePeriodEnd, &r.IsReadOnly, &r.BillingLink, &r.CustomerRef,
		&billingPeriod, &r.NextBillingDate, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return sub.Record{}, err
	}
	r.Tier = sub.Tier(tier)
	r.Status = sub.Status(status)
	r.PreviousTier = sub.Tier(previous)
	r.BillingPeriod = sub.BillingPeriod(billingPeriod)
	return r, nil
}

// Get implements subscription.Store.
func (s *PostgresStore) Get(ctx context.Context, userID uuid.UUID) (*sub.Record, error) {
	rows, err := s.db.Query(ctx, `SELECT `+recordColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, sub.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &rec, nil
}

// Save implements subscription.Store. Rows are upserted by user_id; created_at is kept.
func (s *PostgresStore) Save(ctx context.Context, r *sub.Record) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO subscriptions (
			user_id, tier, status, expires_at, previous_tier, downgrade_date, grace_period_end,
			is_read_only, billing_link, customer_ref, billing_period, next_billing_date,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			status = EXCLUDED.status,
			expires_at = EXCLUDED.expires_at,
			previous_tier = EXCLUDED.previous_tier,
			downgrade_date = EXCLUDED.downgrade_date,
			grace_period_end = EXCLUDED.grace_period_end,
			is_read_only = EXCLUDED.is_read_only,
			billing_link = EXCLUDED.billing_link,
			customer_ref = EXCLUDED.customer_ref,
			billing_period = EXCLUDED.billing_period,
			next_billing_date = EXCLUDED.next_billing_date,
			updated_at = EXCLUDED.updated_at`,
		r.UserID, string(r.Tier), string(r.Status), r.ExpiresAt, nullString(string(r.PreviousTier)),
		r.DowngradeDate, r.GracePeriodEnd, r.IsReadOnly, nullString(r.BillingLink),
		nullString(r.CustomerRef), nullString(string(r.BillingPeriod)), r.NextBillingDate,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// ListExpiredTrials implements subscription.Store.
func (s *PostgresStore) ListExpiredTrials(ctx context.Context, now time.Time) ([]sub.Record, error) {
	return s.list(ctx, `status = 'trial' AND expires_at < $1`, now)
}

// ListGraceElapsed implements subscription.Store.
func (s *PostgresStore) ListGraceElapsed(ctx context.Context, now time.Time) ([]sub.Record, error) {
	return s.list(ctx, `grace_period_end <= $1`, now)
}

// ListInGrace implements subscription.Store.
func (s *PostgresStore) ListInGrace(ctx context.Context, now time.Time) ([]sub.Record, error) {
	return s.list(ctx, `grace_period_end > $1`, now)
}

// ListDeferredCancellations implements subscription.Store.
func (s *PostgresStore) ListDeferredCancellations(ctx context.Context, now time.Time) ([]sub.Record, error) {
	return s.list(ctx, `status = 'cancelled' AND tier <> 'free' AND (expires_at IS NULL OR expires_at <= $1)`, now)
}

func (s *PostgresStore) list(ctx context.Context, where string, now time.Time) ([]sub.Record, error) {
	rows, err := s.db.Query(ctx, `SELECT `+recordColumns+` FROM subscriptions WHERE `+where+` ORDER BY user_id`, now)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return records, nil
}

// Append implements subscription.AuditLog.
func (s *PostgresStore) Append(ctx context.Context, e sub.AuditEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO subscription_audit_log (
			id, user_id, actor_id, previous_tier, new_tier, change_type, reason, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.UserID, e.ActorID, string(e.PreviousTier), string(e.NewTier),
		string(e.ChangeType), e.Reason, nullString(e.Notes), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Amounts travel as text so numeric precision survives without a pgx decimal codec.
const invoiceColumns = `id, user_id, invoice_number, amount::text, currency, status,
	coalesce(notes, ''), coalesce(gateway_refund_id, ''), created_at`

func scanInvoice(row pgx.CollectableRow) (sub.Invoice, error) {
	var (
		inv            sub.Invoice
		amount, status string
	)
	err := row.Scan(&inv.ID, &inv.UserID, &inv.InvoiceNumber, &amount, &inv.Currency,
		&status, &inv.Notes, &inv.GatewayRefundID, &inv.CreatedAt)
	if err != nil {
		return sub.Invoice{}, err
	}
	if inv.Amount, err = decimal.NewFromString(amount); err != nil {
		return sub.Invoice{}, fmt.Errorf("invoice %s amount: %w", inv.ID, err)
	}
	inv.Status = sub.InvoiceStatus(status)
	return inv, nil
}

func (s *PostgresStore) oneInvoice(ctx context.Context, query string, args ...any) (*sub.Invoice, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	inv, err := pgx.CollectExactlyOneRow(rows, scanInvoice)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, sub.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return &inv, nil
}

// GetInvoice implements subscription.Ledger.
func (s *PostgresStore) GetInvoice(ctx context.Context, userID, invoiceID uuid.UUID) (*sub.Invoice, error) {
	return s.oneInvoice(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 AND user_id = $2`,
		invoiceID, userID)
}

// LatestPaidInvoice implements subscription.Ledger.
func (s *PostgresStore) LatestPaidInvoice(ctx context.Context, userID uuid.UUID) (*sub.Invoice, error) {
	return s.oneInvoice(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		WHERE user_id = $1 AND status = 'paid'
		ORDER BY created_at DESC LIMIT 1`,
		userID)
}

// MarkRefunded implements subscription.Ledger.
func (s *PostgresStore) MarkRefunded(ctx context.Context, invoiceID uuid.UUID) error {
	return s.updateInvoice(ctx, `UPDATE invoices SET status = 'refunded' WHERE id = $1`, invoiceID)
}

// SetGatewayRefund implements subscription.Ledger.
func (s *PostgresStore) SetGatewayRefund(ctx context.Context, invoiceID uuid.UUID, refundID string) error {
	return s.updateInvoice(ctx, `UPDATE invoices SET gateway_refund_id = $2 WHERE id = $1`, invoiceID, refundID)
}

func (s *PostgresStore) updateInvoice(ctx context.Context, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sub.ErrInvoiceNotFound
	}
	return nil
}

// CreateInvoice implements subscription.Ledger.
func (s *PostgresStore) CreateInvoice(ctx context.Context, inv *sub.Invoice) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO invoices (
			id, user_id, invoice_number, amount, currency, status, notes, gateway_refund_id, created_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`,
		inv.ID, inv.UserID, inv.InvoiceNumber, inv.Amount.String(), inv.Currency,
		string(inv.Status), nullString(inv.Notes), nullString(inv.GatewayRefundID), inv.CreatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return fmt.Errorf("create invoice %s: duplicate invoice number: %w", inv.InvoiceNumber, err)
		}
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

// imageColumns maps each image class to the table and column holding its URL.
var imageColumns = map[sub.ImageClass]struct{ table, key, column string }{
	sub.ImageProject:        {"projects", "id", "thumbnail_url"},
	sub.ImageCatalogProject: {"catalog_projects", "id", "image_url"},
	sub.ImageBrandLogo:      {"brand_settings", "user_id", "logo_url"},
}

// ListUserImages implements subscription.ImageIndex.
func (s *PostgresStore) ListUserImages(ctx context.Context, userID uuid.UUID) ([]sub.ImageRef, error) {
	rows, err := s.db.Query(ctx, `
		SELECT 'project', id, thumbnail_url FROM projects
			WHERE user_id = $1 AND coalesce(thumbnail_url, '') <> ''
		UNION ALL
		SELECT 'catalog_project', id, image_url FROM catalog_projects
			WHERE user_id = $1 AND coalesce(image_url, '') <> ''
		UNION ALL
		SELECT 'brand_logo', user_id, logo_url FROM brand_settings
			WHERE user_id = $1 AND coalesce(logo_url, '') <> ''`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list user images: %w", err)
	}
	refs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (sub.ImageRef, error) {
		var (
			ref   sub.ImageRef
			class string
		)
		err := row.Scan(&class, &ref.OwnerID, &ref.URL)
		ref.Class = sub.ImageClass(class)
		return ref, err
	})
	if err != nil {
		return nil, fmt.Errorf("list user images: %w", err)
	}
	return refs, nil
}

// ClearImage implements subscription.ImageIndex.
func (s *PostgresStore) ClearImage(ctx context.Context, ref sub.ImageRef) error {
	col, ok := imageColumns[ref.Class]
	if !ok {
		return fmt.Errorf("clear image: unknown image class %q", ref.Class)
	}
	query := fmt.Sprintf(`UPDATE %s SET %s = NULL WHERE %s = $1`, col.table, col.column, col.key)
	if _, err := s.db.Exec(ctx, query, ref.OwnerID); err != nil {
		return fmt.Errorf("clear %s image: %w", ref.Class, err)
	}
	return nil
}

// AccountExists implements subscription.Accounts.
func (s *PostgresStore) AccountExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check account: %w", err)
	}
	return exists, nil
}

// DeleteAccount implements subscription.Accounts. Owned rows cascade; the subscription
// record and its audit trail are kept.
func (s *PostgresStore) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sub.ErrAccountNotFound
	}
	return nil
}

// Email implements RecipientLookup.
func (s *PostgresStore) Email(ctx context.Context, userID uuid.UUID) (string, error) {
	var email string
	err := s.db.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return "", sub.ErrAccountNotFound
		}
		return "", fmt.Errorf("lookup user email: %w", err)
	}
	return email, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
