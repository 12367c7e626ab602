package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/printforge/pkg/logger"
)

// TierChange is the result of ChangeTier.
type TierChange struct {
	PreviousTier Tier       `json:"previousTier"`
	NewTier      Tier       `json:"newTier"`
	ChangeType   ChangeType `json:"changeType"`
}

// ChangeTier moves the user to newTier. Only administrators may call it.
//
// A downgrade from a paid tier to free opens a grace period during which the account is
// read-only. Moving to any paid tier closes an open grace period.
func (e *Engine) ChangeTier(ctx context.Context, actor Actor, userID uuid.UUID, newTier Tier, notes string) (*TierChange, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if userID == uuid.Nil {
		return nil, invalid(ErrMissingUserID)
	}
	if !newTier.Valid() {
		return nil, invalid(ErrInvalidTier, fmt.Errorf("unknown tier %q", newTier))
	}

	now := e.now()
	rec, err := e.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = NewRecord(userID, now)
	}

	oldTier := rec.Tier
	change := ClassifyChange(oldTier, newTier)

	switch {
	case newTier == TierFree && oldTier.IsPaid():
		rec.startGracePeriod(oldTier, now, now.Add(e.gracePeriod))
	case change == ChangeUpgrade || newTier != TierFree:
		rec.clearGracePeriod()
	}

	rec.Tier = newTier
	rec.Status = StatusActive
	if newTier == TierFree {
		rec.Status = StatusCancelled
	}

	if err := e.save(ctx, rec, now); err != nil {
		return nil, err
	}
	if err := e.appendAudit(ctx, AuditEntry{
		UserID:       userID,
		ActorID:      actor.ID,
		PreviousTier: oldTier,
		NewTier:      newTier,
		ChangeType:   change,
		Reason:       "admin tier change",
		Notes:        notes,
		CreatedAt:    now,
	}); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "subscription tier changed",
		logger.UserID(userID),
		slog.String("previous_tier", oldTier.String()),
		slog.String("new_tier", newTier.String()),
		slog.String("change_type", string(change)))

	return &TierChange{PreviousTier: oldTier, NewTier: newTier, ChangeType: change}, nil
}

// Trial is the result of AddTrial.
type Trial struct {
	TrialDays    int       `json:"trialDays"`
	NewExpiresAt time.Time `json:"newExpiresAt"`
	TrialTier    Tier      `json:"trialTier"`
}

// AddTrial grants trialDays of trial access. Days stack onto any remaining entitlement and
// the trial never lowers the current tier. Only administrators may call it.
func (e *Engine) AddTrial(ctx context.Context, actor Actor, userID uuid.UUID, trialDays int, notes string) (*Trial, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if userID == uuid.Nil {
		return nil, invalid(ErrMissingUserID)
	}
	if trialDays < 1 || trialDays > MaxTrialDays {
		return nil, invalid(ErrInvalidTrialDays, fmt.Errorf("got %d", trialDays))
	}

	now := e.now()
	rec, err := e.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = NewRecord(userID, now)
	}

	base := now
	if rec.ExpiresAt != nil && rec.ExpiresAt.After(now) {
		base = *rec.ExpiresAt
	}
	expiresAt := base.AddDate(0, 0, trialDays)

	oldTier := rec.Tier
	trialTier := oldTier
	if trialTier == TierFree {
		trialTier = Tier1
	}

	rec.Tier = trialTier
	rec.Status = StatusTrial
	rec.ExpiresAt = &expiresAt
	rec.clearGracePeriod()

	if err := e.save(ctx, rec, now); err != nil {
		return nil, err
	}
	if err := e.appendAudit(ctx, AuditEntry{
		UserID:       userID,
		ActorID:      actor.ID,
		PreviousTier: oldTier,
		NewTier:      trialTier,
		ChangeType:   ChangeUpgrade,
		Reason:       fmt.Sprintf("trial extended by %d days", trialDays),
		Notes:        notes,
		CreatedAt:    now,
	}); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "trial granted",
		logger.UserID(userID),
		slog.Int("trial_days", trialDays),
		slog.Time("expires_at", expiresAt))

	return &Trial{TrialDays: trialDays, NewExpiresAt: expiresAt, TrialTier: trialTier}, nil
}
