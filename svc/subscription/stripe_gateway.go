package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/charge"
	"github.com/stripe/stripe-go/v82/refund"
	stripesub "github.com/stripe/stripe-go/v82/subscription"
	"golang.org/x/text/currency"

	sub "github.com/dmitrymomot/printforge/pkg/subscription"
)

// StripeConfig holds the payment gateway credentials. An empty secret key disables the gateway.
type StripeConfig struct {
	SecretKey string `env:"STRIPE_SECRET_KEY"`
	// ChargeLookback limits how many recent charges FindCharge inspects.
	ChargeLookback int64 `env:"STRIPE_CHARGE_LOOKBACK" envDefault:"20"`
}

// Enabled reports whether a secret key is configured.
func (c StripeConfig) Enabled() bool {
	return strings.TrimSpace(c.SecretKey) != ""
}

// StripeAPI is the part of the Stripe API used by StripeGateway.
type StripeAPI interface {
	UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	CancelSubscription(id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)
	ListCharges(params *stripe.ChargeListParams) ([]*stripe.Charge, error)
	CreateRefund(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeGateway implements subscription.Gateway with Stripe.
type StripeGateway struct {
	api      StripeAPI
	lookback int64
}

var _ sub.Gateway = (*StripeGateway)(nil)

// StripeOption configures StripeGateway.
type StripeOption func(*StripeGateway)

// WithStripeAPI replaces the Stripe client. Used in tests.
func WithStripeAPI(api StripeAPI) StripeOption {
	return func(g *StripeGateway) {
		if api != nil {
			g.api = api
		}
	}
}

// NewStripeGateway creates a gateway backed by the Stripe API.
func NewStripeGateway(cfg StripeConfig, opts ...StripeOption) *StripeGateway {
	g := &StripeGateway{lookback: cfg.ChargeLookback}
	for _, opt := range opts {
		opt(g)
	}
	if g.api == nil {
		stripe.Key = strings.TrimSpace(cfg.SecretKey)
		g.api = stripeClient{}
	}
	if g.lookback <= 0 {
		g.lookback = 20
	}
	return g
}

// CancelSubscription cancels immediately or schedules cancellation at the end of the
// current period. The returned time is the end of the paid period when Stripe reports one.
func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*time.Time, error) {
	var (
		s   *stripe.Subscription
		err error
	)
	if immediate {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		s, err = g.api.CancelSubscription(subscriptionID, params)
	} else {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		s, err = g.api.UpdateSubscription(subscriptionID, params)
	}
	if err != nil {
		return nil, fmt.Errorf("stripe: cancel subscription %s: %w", subscriptionID, err)
	}
	return periodEnd(s), nil
}

// FindCharge returns the most recent settled, unrefunded charge of the customer that
// matches amount and currency.
func (g *StripeGateway) FindCharge(ctx context.Context, customerRef string, amount decimal.Decimal, cur string) (*sub.Charge, error) {
	params := &stripe.ChargeListParams{Customer: stripe.String(customerRef)}
	params.Context = ctx
	params.Limit = stripe.Int64(g.lookback)

	charges, err := g.api.ListCharges(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: list charges: %w", err)
	}
	for _, ch := range charges {
		if ch == nil || !ch.Paid || ch.Refunded || ch.Status != stripe.ChargeStatusSucceeded {
			continue
		}
		c := sub.Charge{
			ID:       ch.ID,
			Amount:   fromMinorUnits(ch.Amount, string(ch.Currency)),
			Currency: strings.ToUpper(string(ch.Currency)),
		}
		if sub.ChargeMatches(c, amount, cur) {
			return &c, nil
		}
	}
	return nil, sub.ErrChargeNotFound
}

// Refund refunds amount against the charge and returns the Stripe refund ID.
func (g *StripeGateway) Refund(ctx context.Context, chargeID string, amount decimal.Decimal, cur string) (string, error) {
	params := &stripe.RefundParams{
		Charge: stripe.String(chargeID),
		Amount: stripe.Int64(toMinorUnits(amount, cur)),
	}
	params.Context = ctx

	r, err := g.api.CreateRefund(params)
	if err != nil {
		return "", fmt.Errorf("stripe: refund charge %s: %w", chargeID, err)
	}
	if r == nil || r.ID == "" {
		return "", errors.New("stripe: refund response without id")
	}
	return r.ID, nil
}

// periodEnd prefers a scheduled cancellation time and falls back to the latest item period end.
func periodEnd(s *stripe.Subscription) *time.Time {
	if s == nil {
		return nil
	}
	var end int64
	switch {
	case s.CancelAt > 0:
		end = s.CancelAt
	case s.EndedAt > 0:
		end = s.EndedAt
	case s.Items != nil:
		for _, item := range s.Items.Data {
			end = max(end, item.CurrentPeriodEnd)
		}
	}
	if end == 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}

// minorUnitScale returns the number of decimal places of the currency's minor unit.
func minorUnitScale(code string) int32 {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

func toMinorUnits(amount decimal.Decimal, code string) int64 {
	return amount.Shift(minorUnitScale(code)).Round(0).IntPart()
}

func fromMinorUnits(amount int64, code string) decimal.Decimal {
	return decimal.New(amount, -minorUnitScale(code))
}

// stripeClient calls the package level Stripe API using stripe.Key.
type stripeClient struct{}

func (stripeClient) UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return stripesub.Update(id, params)
}

func (stripeClient) CancelSubscription(id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
	return stripesub.Cancel(id, params)
}

func (stripeClient) ListCharges(params *stripe.ChargeListParams) ([]*stripe.Charge, error) {
	limit := int64(20)
	if params.Limit != nil {
		limit = *params.Limit
	}
	var out []*stripe.Charge
	it := charge.List(params)
	for it.Next() {
		out = append(out, it.Charge())
		if int64(len(out)) >= limit {
			break
		}
	}
	return out, it.Err()
}

func (stripeClient) CreateRefund(params *stripe.RefundParams) (*stripe.Refund, error) {
	return refund.New(params)
}
