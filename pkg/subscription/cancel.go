package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/printforge/pkg/logger"
)

// CancelRequest holds the parameters of CancelSubscription.
type CancelRequest struct {
	UserID          uuid.UUID
	Immediate       bool
	CancelAtGateway bool
	Notes           string
}

// Cancellation is the result of CancelSubscription.
type Cancellation struct {
	PreviousTier     Tier       `json:"previousTier"`
	GracePeriodEnd   *time.Time `json:"gracePeriodEnd"`
	GatewayCancelled bool       `json:"stripeCancelled"`
	ExpirationDate   *time.Time `json:"expirationDate"`
	Immediate        bool       `json:"immediate"`
}

// CancelSubscription cancels the user's subscription. The actor must be the user or an
// administrator.
//
// Gateway cancellation is best effort: when it fails the expiration date falls back to the
// next billing date, then to one billing period from now, then to the stored expiry.
// A deferred cancellation keeps the paid tier until the expiration date. When no
// expiration date can be determined the cancellation takes effect immediately.
func (e *Engine) CancelSubscription(ctx context.Context, actor Actor, req CancelRequest) (*Cancellation, error) {
	if req.UserID == uuid.Nil {
		return nil, invalid(ErrMissingUserID)
	}
	if actor.ID == uuid.Nil {
		return nil, forbidden(ErrNotOwner)
	}
	if actor.ID != req.UserID && !actor.Admin {
		return nil, forbidden(ErrNotOwner)
	}

	rec, err := e.load(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, notFound(ErrSubscriptionNotFound)
	}
	if rec.Status == StatusCancelled {
		return nil, conflict(ErrAlreadyCancelled)
	}

	var (
		expiration       *time.Time
		gatewayCancelled bool
	)
	if req.CancelAtGateway && rec.BillingLink != "" {
		expiration, gatewayCancelled = e.cancelAtGateway(ctx, rec, req.Immediate)
	}

	now := e.now()
	if expiration == nil {
		expiration = fallbackExpiration(rec, now)
	}

	previous := rec.Tier
	immediate := req.Immediate || expiration == nil
	if immediate {
		rec.Tier = TierFree
		rec.ExpiresAt = &now
	} else {
		rec.ExpiresAt = expiration
	}

	if previous.IsPaid() {
		graceStart := now
		if expiration != nil && expiration.After(now) {
			graceStart = *expiration
		}
		rec.startGracePeriod(previous, now, graceStart.Add(e.gracePeriod))
	}
	rec.Status = StatusCancelled

	if err := e.save(ctx, rec, now); err != nil {
		return nil, err
	}

	notes := "deferred cancellation at period end"
	if immediate {
		notes = "immediate cancellation"
	}
	if req.Notes != "" {
		notes += ": " + req.Notes
	}
	reason := "cancelled by user"
	if actor.ID != req.UserID {
		reason = "cancelled by admin"
	}
	if err := e.appendAudit(ctx, AuditEntry{
		UserID:       req.UserID,
		ActorID:      actor.ID,
		PreviousTier: previous,
		NewTier:      rec.Tier,
		ChangeType:   ChangeCancel,
		Reason:       reason,
		Notes:        notes,
		CreatedAt:    now,
	}); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "subscription cancelled",
		logger.UserID(req.UserID),
		slog.String("previous_tier", previous.String()),
		slog.Bool("immediate", immediate),
		slog.Bool("gateway_cancelled", gatewayCancelled))

	return &Cancellation{
		PreviousTier:     previous,
		GracePeriodEnd:   rec.GracePeriodEnd,
		GatewayCancelled: gatewayCancelled,
		ExpirationDate:   expiration,
		Immediate:        immediate,
	}, nil
}

// cancelAtGateway never fails the cancellation. Errors are logged and reported as not cancelled.
func (e *Engine) cancelAtGateway(ctx context.Context, rec *Record, immediate bool) (*time.Time, bool) {
	if e.gateway == nil {
		e.logger.WarnContext(ctx, "gateway cancellation requested but no gateway configured",
			logger.UserID(rec.UserID))
		return nil, false
	}

	gctx, cancel := e.gatewayContext(ctx)
	defer cancel()

	periodEnd, err := e.gateway.CancelSubscription(gctx, rec.BillingLink, immediate)
	if err != nil {
		e.logger.WarnContext(ctx, "gateway cancellation failed, using fallback expiration",
			logger.UserID(rec.UserID),
			logger.Error(err))
		return nil, false
	}
	return periodEnd, true
}

func fallbackExpiration(rec *Record, now time.Time) *time.Time {
	if rec.NextBillingDate != nil {
		t := *rec.NextBillingDate
		return &t
	}
	if days := rec.BillingPeriod.Days(); days > 0 {
		t := now.AddDate(0, 0, days)
		return &t
	}
	if rec.ExpiresAt != nil {
		t := *rec.ExpiresAt
		return &t
	}
	return nil
}
