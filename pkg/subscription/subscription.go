package subscription

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Record is the persisted subscription state of a single user.
// There is exactly one record per user and it is never deleted.
type Record struct {
	UserID uuid.UUID // primary key
	Tier   Tier
	Status Status

	ExpiresAt *time.Time // end of the trial or paid period

	// Grace period bookkeeping. PreviousTier, DowngradeDate and GracePeriodEnd are either
	// all set or all empty; use startGracePeriod and clearGracePeriod to change them.
	PreviousTier   Tier // empty when not in a grace period
	DowngradeDate  *time.Time
	GracePeriodEnd *time.Time
	IsReadOnly     bool

	BillingLink     string // gateway subscription ID
	CustomerRef     string // gateway customer ID
	BillingPeriod   BillingPeriod
	NextBillingDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord returns the record every account starts with: free tier, active, no grace period.
func NewRecord(userID uuid.UUID, now time.Time) *Record {
	return &Record{
		UserID:    userID,
		Tier:      TierFree,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// InGracePeriod reports whether the record carries an open grace period at now.
func (r *Record) InGracePeriod(now time.Time) bool {
	return r.GracePeriodEnd != nil && r.GracePeriodEnd.After(now)
}

// GraceElapsed reports whether the grace period ended and image purge is due.
func (r *Record) GraceElapsed(now time.Time) bool {
	return r.GracePeriodEnd != nil && !r.GracePeriodEnd.After(now)
}

// TrialExpired reports whether a trial record ran past its expiry.
func (r *Record) TrialExpired(now time.Time) bool {
	return r.Status == StatusTrial && r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// DeferredCancellationDue reports whether a cancelled record still holding a paid tier
// reached the end of its paid period. A missing expiry counts as ended.
func (r *Record) DeferredCancellationDue(now time.Time) bool {
	return r.Status == StatusCancelled && r.Tier.IsPaid() && (r.ExpiresAt == nil || !r.ExpiresAt.After(now))
}

// GraceDaysRemainingAt returns the number of whole days, rounded up, until the grace
// period ends. Returns 0 when there is no open grace period.
func (r *Record) GraceDaysRemainingAt(now time.Time) int {
	if !r.InGracePeriod(now) {
		return 0
	}
	remaining := r.GracePeriodEnd.Sub(now)
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) != 0 {
		days++
	}
	return days
}

func (r *Record) startGracePeriod(previous Tier, now, end time.Time) {
	r.PreviousTier = previous
	r.DowngradeDate = &now
	r.GracePeriodEnd = &end
	r.IsReadOnly = true
}

func (r *Record) clearGracePeriod() {
	r.PreviousTier = ""
	r.DowngradeDate = nil
	r.GracePeriodEnd = nil
	r.IsReadOnly = false
}

// AuditEntry is an immutable record of one tier or status transition.
type AuditEntry struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	ActorID      uuid.UUID
	PreviousTier Tier
	NewTier      Tier
	ChangeType   ChangeType
	Reason       string
	Notes        string
	CreatedAt    time.Time
}

// Invoice is a ledger row. Refunds are stored as invoices with a negative amount.
type Invoice struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	InvoiceNumber   string
	Amount          decimal.Decimal
	Currency        string
	Status          InvoiceStatus
	Notes           string
	GatewayRefundID string
	CreatedAt       time.Time
}

// ImageRef points at one uploaded image and the record field that references it.
type ImageRef struct {
	Class   ImageClass
	OwnerID uuid.UUID // project, catalog project or brand settings row
	URL     string
}

// SystemActorID is recorded as the actor of transitions made by scheduled sweeps.
var SystemActorID = uuid.Nil

// Actor is the verified identity performing an operation.
type Actor struct {
	ID    uuid.UUID
	Admin bool
}

// Charge is a settled gateway payment that can be refunded.
type Charge struct {
	ID       string
	Amount   decimal.Decimal
	Currency string
}
