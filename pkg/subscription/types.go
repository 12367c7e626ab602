package subscription

import (
	"fmt"
	"strings"
)

// Tier represents a subscription plan level. Tiers are ordered free < tier_1 < tier_2.
type Tier string

const (
	TierFree Tier = "free"
	Tier1    Tier = "tier_1"
	Tier2    Tier = "tier_2"
)

// Tiers lists every valid tier in rank order.
var Tiers = []Tier{TierFree, Tier1, Tier2}

// Rank returns the ordinal position of the tier, or -1 for unknown values.
func (t Tier) Rank() int {
	switch t {
	case TierFree:
		return 0
	case Tier1:
		return 1
	case Tier2:
		return 2
	default:
		return -1
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// IsPaid reports whether t is a paid tier.
func (t Tier) IsPaid() bool {
	return t.Rank() > 0
}

func (t Tier) String() string {
	return string(t)
}

// ParseTier converts a raw string into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.TrimSpace(strings.ToLower(s)))
	if !t.Valid() {
		return "", invalid(ErrInvalidTier, fmt.Errorf("unknown tier %q", s))
	}
	return t, nil
}

// Status represents the lifecycle state of a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusTrial     Status = "trial"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// ChangeType classifies a recorded transition.
type ChangeType string

const (
	ChangeUpgrade      ChangeType = "upgrade"
	ChangeDowngrade    ChangeType = "downgrade"
	ChangeCancel       ChangeType = "cancel"
	ChangeRefund       ChangeType = "refund"
	ChangeTrialExpired ChangeType = "trial_expired"
	ChangeSame         ChangeType = "same"
)

// ClassifyChange compares tier ranks to decide whether moving from one tier to another
// is an upgrade, a downgrade or no change.
func ClassifyChange(from, to Tier) ChangeType {
	switch {
	case to.Rank() > from.Rank():
		return ChangeUpgrade
	case to.Rank() < from.Rank():
		return ChangeDowngrade
	default:
		return ChangeSame
	}
}

// BillingPeriod is the recurring billing interval of a paid subscription.
type BillingPeriod string

const (
	BillingMonthly BillingPeriod = "monthly"
	BillingYearly  BillingPeriod = "yearly"
)

// Days returns the length of the period used for expiration fallbacks.
func (p BillingPeriod) Days() int {
	switch p {
	case BillingMonthly:
		return 30
	case BillingYearly:
		return 365
	default:
		return 0
	}
}

// ImageClass identifies which kind of owning record an uploaded image belongs to.
type ImageClass string

const (
	ImageProject        ImageClass = "project"
	ImageCatalogProject ImageClass = "catalog_project"
	ImageBrandLogo      ImageClass = "brand_logo"
)

// InvoiceStatus is the ledger status of an invoice row.
type InvoiceStatus string

const (
	InvoicePending  InvoiceStatus = "pending"
	InvoicePaid     InvoiceStatus = "paid"
	InvoiceRefunded InvoiceStatus = "refunded"
)
