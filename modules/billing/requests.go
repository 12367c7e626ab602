package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	sub "github.com/dmitrymomot/printforge/pkg/subscription"
)

type ChangeTierRequest struct {
	UserID  uuid.UUID `json:"userId"`
	NewTier string    `json:"newTier" validate:"required"`
	Notes   string    `json:"notes" validate:"max=1000"`
}

type AddTrialRequest struct {
	UserID    uuid.UUID `json:"userId"`
	TrialDays int       `json:"trialDays"`
	Notes     string    `json:"notes" validate:"max=1000"`
}

type AdminCancelRequest struct {
	UserID         uuid.UUID `json:"userId"`
	Notes          string    `json:"notes" validate:"max=1000"`
	CancelInStripe bool      `json:"cancelInStripe"`
	Immediate      bool      `json:"immediate"`
}

type SelfCancelRequest struct {
	CancelInStripe bool `json:"cancelInStripe"`
	Immediate      bool `json:"immediate"`
}

// RefundRequest accepts the amount as a JSON number or a decimal string.
type RefundRequest struct {
	UserID          uuid.UUID       `json:"userId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" validate:"omitempty,len=3"`
	Notes           string          `json:"notes" validate:"max=1000"`
	ProcessInStripe bool            `json:"processInStripe"`
	InvoiceID       *uuid.UUID      `json:"invoiceId"`
}

type DeleteUserRequest struct {
	UserID                   uuid.UUID `json:"userId"`
	Reason                   string    `json:"reason" validate:"max=500"`
	CancelStripeSubscription bool      `json:"cancelStripeSubscription"`
}

type RunJobRequest struct {
	Job string `json:"-" path:"job"`
}

// JobResult is the response of the manual job trigger.
type JobResult struct {
	Job       string `json:"job"`
	Processed int    `json:"processed"`
}

type emptyRequest struct{}

// SubscriptionView is the caller's subscription as returned by GET /v1/subscription.
type SubscriptionView struct {
	UserID          uuid.UUID         `json:"userId"`
	Tier            sub.Tier          `json:"tier"`
	Status          sub.Status        `json:"status"`
	ExpiresAt       *time.Time        `json:"expiresAt"`
	PreviousTier    sub.Tier          `json:"previousTier,omitempty"`
	DowngradeDate   *time.Time        `json:"downgradeDate,omitempty"`
	GracePeriodEnd  *time.Time        `json:"gracePeriodEnd,omitempty"`
	ReadOnly        bool              `json:"readOnly"`
	BillingPeriod   sub.BillingPeriod `json:"billingPeriod,omitempty"`
	NextBillingDate *time.Time        `json:"nextBillingDate,omitempty"`
	TierInfo        sub.TierInfo      `json:"tierInfo"`
}

func newSubscriptionView(rec *sub.Record, tiers sub.TierTable) SubscriptionView {
	return SubscriptionView{
		UserID:          rec.UserID,
		Tier:            rec.Tier,
		Status:          rec.Status,
		ExpiresAt:       rec.ExpiresAt,
		PreviousTier:    rec.PreviousTier,
		DowngradeDate:   rec.DowngradeDate,
		GracePeriodEnd:  rec.GracePeriodEnd,
		ReadOnly:        rec.IsReadOnly,
		BillingPeriod:   rec.BillingPeriod,
		NextBillingDate: rec.NextBillingDate,
		TierInfo:        tiers.Info(rec.Tier),
	}
}
