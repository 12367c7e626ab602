package subscription

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/printforge/pkg/logger"
)

// DeleteUserRequest holds the parameters of DeleteUser.
type DeleteUserRequest struct {
	UserID          uuid.UUID
	Reason          string
	CancelAtGateway bool
}

// DeletedUser is the result of DeleteUser.
type DeletedUser struct {
	UserID           uuid.UUID `json:"userId"`
	GatewayCancelled bool      `json:"stripeCancelled"`
}

// DeleteUser removes a user account on behalf of an administrator. Administrators cannot
// delete themselves. The gateway subscription is cancelled on a best effort basis and all
// uploaded images are purged before the account is removed.
func (e *Engine) DeleteUser(ctx context.Context, actor Actor, req DeleteUserRequest) (*DeletedUser, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if req.UserID == uuid.Nil {
		return nil, invalid(ErrMissingUserID)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, invalid(ErrMissingReason)
	}
	if actor.ID == req.UserID {
		return nil, invalid(ErrSelfTarget)
	}

	exists, err := e.accounts.AccountExists(ctx, req.UserID)
	if err != nil {
		return nil, persistence(err)
	}
	if !exists {
		return nil, notFound(ErrAccountNotFound)
	}

	rec, err := e.load(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	previous := TierFree
	var gatewayCancelled bool
	if rec != nil {
		previous = rec.Tier
		if req.CancelAtGateway && rec.BillingLink != "" {
			_, gatewayCancelled = e.cancelAtGateway(ctx, rec, true)
		}
	}

	n, err := e.purger.purgeUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	e.purger.logPurged(ctx, req.UserID, n)

	if err := e.appendAudit(ctx, AuditEntry{
		UserID:       req.UserID,
		ActorID:      actor.ID,
		PreviousTier: previous,
		NewTier:      TierFree,
		ChangeType:   ChangeCancel,
		Reason:       reason,
		Notes:        "account deleted by admin",
		CreatedAt:    e.now(),
	}); err != nil {
		return nil, err
	}

	if err := e.accounts.DeleteAccount(ctx, req.UserID); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, notFound(ErrAccountNotFound)
		}
		return nil, persistence(err)
	}

	e.logger.InfoContext(ctx, "user deleted",
		logger.UserID(req.UserID),
		logger.ActorID(actor.ID))

	return &DeletedUser{UserID: req.UserID, GatewayCancelled: gatewayCancelled}, nil
}
