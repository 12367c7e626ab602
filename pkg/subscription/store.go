package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store persists subscription records. UserID is the primary key.
type Store interface {
	// Get returns ErrSubscriptionNotFound if the user has no record yet.
	Get(ctx context.Context, userID uuid.UUID) (*Record, error)

	// Save creates or replaces the record.
	Save(ctx context.Context, record *Record) error

	// ListExpiredTrials returns records with status=trial and expires_at < now.
	ListExpiredTrials(ctx context.Context, now time.Time) ([]Record, error)

	// ListGraceElapsed returns records with grace_period_end <= now.
	ListGraceElapsed(ctx context.Context, now time.Time) ([]Record, error)

	// ListInGrace returns records with grace_period_end > now.
	ListInGrace(ctx context.Context, now time.Time) ([]Record, error)

	// ListDeferredCancellations returns cancelled records that still hold a paid tier
	// and whose expires_at <= now.
	ListDeferredCancellations(ctx context.Context, now time.Time) ([]Record, error)
}

// AuditLog is the append-only transition ledger.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// Ledger stores invoices.
type Ledger interface {
	// GetInvoice returns ErrInvoiceNotFound when the invoice does not exist for the user.
	GetInvoice(ctx context.Context, userID, invoiceID uuid.UUID) (*Invoice, error)

	// LatestPaidInvoice returns ErrInvoiceNotFound when the user has no paid invoice.
	LatestPaidInvoice(ctx context.Context, userID uuid.UUID) (*Invoice, error)

	MarkRefunded(ctx context.Context, invoiceID uuid.UUID) error
	CreateInvoice(ctx context.Context, invoice *Invoice) error
	SetGatewayRefund(ctx context.Context, invoiceID uuid.UUID, refundID string) error
}

// ImageIndex knows which records reference uploaded images.
type ImageIndex interface {
	ListUserImages(ctx context.Context, userID uuid.UUID) ([]ImageRef, error)

	// ClearImage sets the URL field of the owning record to null.
	ClearImage(ctx context.Context, ref ImageRef) error
}

// ObjectStore deletes blobs addressed by their public URL.
// Implementations return an error wrapping ErrObjectNotFound for absent objects.
type ObjectStore interface {
	DeleteObject(ctx context.Context, url string) error
}

// Gateway is the external subscription billing provider.
type Gateway interface {
	// CancelSubscription cancels the gateway subscription, either now or at the end of
	// the current paid period, and returns the end of the paid period when known.
	CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (periodEnd *time.Time, err error)

	// FindCharge looks for a recent settled charge of the customer matching amount and
	// currency. Returns ErrChargeNotFound when nothing matches.
	FindCharge(ctx context.Context, customerRef string, amount decimal.Decimal, currency string) (*Charge, error)

	// Refund refunds amount against the charge and returns the gateway refund ID.
	Refund(ctx context.Context, chargeID string, amount decimal.Decimal, currency string) (string, error)
}

// Milestone describes one grace period reminder.
type Milestone struct {
	UserID         uuid.UUID
	PreviousTier   Tier
	DaysRemaining  int
	GracePeriodEnd time.Time
}

// Notifier delivers grace period reminders.
type Notifier interface {
	NotifyGraceMilestone(ctx context.Context, m Milestone) error
}

// MilestoneGuard deduplicates milestone sends across overlapping sweeps.
// Claim returns true exactly once per user, milestone and grace period.
// Release gives the milestone back after a failed delivery so a later run can retry it.
type MilestoneGuard interface {
	Claim(ctx context.Context, m Milestone) (bool, error)
	Release(ctx context.Context, m Milestone) error
}

// Accounts removes user accounts.
type Accounts interface {
	AccountExists(ctx context.Context, userID uuid.UUID) (bool, error)
	// DeleteAccount returns ErrAccountNotFound when the user does not exist.
	DeleteAccount(ctx context.Context, userID uuid.UUID) error
}
