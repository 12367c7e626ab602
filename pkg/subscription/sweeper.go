package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/dmitrymomot/printforge/pkg/logger"
)

// Job names accepted by Sweeper.Run.
const (
	JobExpireTrials          = "expire-trials"
	JobPurgeGracePeriods     = "purge-grace-periods"
	JobNotifyMilestones      = "notify-grace-milestones"
	JobFinalizeCancellations = "finalize-cancellations"
)

// Jobs lists every sweep in the order they are registered with the scheduler.
var Jobs = []string{JobExpireTrials, JobFinalizeCancellations, JobPurgeGracePeriods, JobNotifyMilestones}

// ErrUnknownJob is returned by Sweeper.Run for names not in Jobs.
var ErrUnknownJob = errors.New("unknown sweep job")

// Sweeper runs the periodic maintenance sweeps. Every sweep is safe to run repeatedly and
// concurrently with itself: each candidate is re-read and its trigger condition re-checked
// against the stored state right before it is written.
type Sweeper struct {
	store       Store
	audit       AuditLog
	purger      *purger
	notifier    Notifier
	guard       MilestoneGuard
	milestones  []int
	gracePeriod time.Duration
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// NewSweeper creates a Sweeper. Store and Audit are required.
// Images and Objects are optional; without an image index the purge only clears the
// grace period fields.
func NewSweeper(deps Deps, opts ...Option) *Sweeper {
	if deps.Store == nil {
		panic("subscription: Store is required")
	}
	if deps.Audit == nil {
		panic("subscription: AuditLog is required")
	}

	o := buildOptions(opts)
	log := o.logger.With(logger.Component("subscription.sweeper"))

	return &Sweeper{
		store:       deps.Store,
		audit:       deps.Audit,
		purger:      newPurger(deps.Images, deps.Objects, log),
		notifier:    o.notifier,
		guard:       o.guard,
		milestones:  o.milestones,
		gracePeriod: o.gracePeriod,
		concurrency: o.concurrency,
		now:         o.now,
		logger:      log,
	}
}

// Run executes the sweep registered under name and returns the number of processed items.
func (s *Sweeper) Run(ctx context.Context, name string) (int, error) {
	switch name {
	case JobExpireTrials:
		return s.ExpireTrials(ctx)
	case JobPurgeGracePeriods:
		return s.PurgeExpiredGracePeriods(ctx)
	case JobNotifyMilestones:
		return s.NotifyGracePeriodMilestones(ctx)
	case JobFinalizeCancellations:
		return s.FinalizeDeferredCancellations(ctx)
	default:
		return 0, errors.Join(ErrValidation, ErrUnknownJob, fmt.Errorf("job %q", name))
	}
}

// ExpireTrials moves every trial past its expiry to the free tier with status expired.
func (s *Sweeper) ExpireTrials(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.store.ListExpiredTrials(ctx, now)
	if err != nil {
		return 0, persistence(err)
	}

	var processed int
	for _, c := range candidates {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		ok, err := s.expireTrial(ctx, c, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to expire trial",
				logger.UserID(c.UserID),
				logger.Error(err))
			continue
		}
		if ok {
			processed++
		}
	}

	s.logger.InfoContext(ctx, "trial expiry sweep finished",
		slog.Int("candidates", len(candidates)),
		slog.Int("processed", processed))
	return processed, nil
}

func (s *Sweeper) expireTrial(ctx context.Context, candidate Record, now time.Time) (bool, error) {
	rec, err := s.store.Get(ctx, candidate.UserID)
	if err != nil {
		return false, persistence(err)
	}
	if !rec.TrialExpired(now) {
		return false, nil
	}

	previous := rec.Tier
	rec.Tier = TierFree
	rec.Status = StatusExpired
	rec.UpdatedAt = now
	if err := s.store.Save(ctx, rec); err != nil {
		return false, persistence(err)
	}

	if err := s.appendAudit(ctx, AuditEntry{
		UserID:       rec.UserID,
		ActorID:      SystemActorID,
		PreviousTier: previous,
		NewTier:      TierFree,
		ChangeType:   ChangeTrialExpired,
		Reason:       "trial expired",
		CreatedAt:    now,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// FinalizeDeferredCancellations moves cancelled subscriptions that still hold a paid tier
// to the free tier once their paid period has ended.
func (s *Sweeper) FinalizeDeferredCancellations(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.store.ListDeferredCancellations(ctx, now)
	if err != nil {
		return 0, persistence(err)
	}

	var processed int
	for _, c := range candidates {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		ok, err := s.finalizeCancellation(ctx, c, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to finalize cancellation",
				logger.UserID(c.UserID),
				logger.Error(err))
			continue
		}
		if ok {
			processed++
		}
	}

	s.logger.InfoContext(ctx, "deferred cancellation sweep finished",
		slog.Int("candidates", len(candidates)),
		slog.Int("processed", processed))
	return processed, nil
}

func (s *Sweeper) finalizeCancellation(ctx context.Context, candidate Record, now time.Time) (bool, error) {
	rec, err := s.store.Get(ctx, candidate.UserID)
	if err != nil {
		return false, persistence(err)
	}
	if !rec.DeferredCancellationDue(now) {
		return false, nil
	}

	previous := rec.Tier
	rec.Tier = TierFree
	if rec.GracePeriodEnd == nil {
		rec.startGracePeriod(previous, now, now.Add(s.gracePeriod))
	}
	rec.UpdatedAt = now
	if err := s.store.Save(ctx, rec); err != nil {
		return false, persistence(err)
	}

	if err := s.appendAudit(ctx, AuditEntry{
		UserID:       rec.UserID,
		ActorID:      SystemActorID,
		PreviousTier: previous,
		NewTier:      TierFree,
		ChangeType:   ChangeDowngrade,
		Reason:       "paid period ended after cancellation",
		CreatedAt:    now,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// PurgeExpiredGracePeriods deletes the images of every user whose grace period has ended and
// then closes the grace period. Users are processed in parallel. A user whose purge fails
// keeps the grace period fields and is retried on the next run.
func (s *Sweeper) PurgeExpiredGracePeriods(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.store.ListGraceElapsed(ctx, now)
	if err != nil {
		return 0, persistence(err)
	}

	var processed atomic.Int64
	p := pool.New().WithMaxGoroutines(s.concurrency)
	for _, c := range candidates {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			ok, err := s.purgeGracePeriod(ctx, c, now)
			if err != nil {
				s.logger.ErrorContext(ctx, "failed to purge expired grace period",
					logger.UserID(c.UserID),
					logger.Error(err))
				return
			}
			if ok {
				processed.Add(1)
			}
		})
	}
	p.Wait()

	n := int(processed.Load())
	s.logger.InfoContext(ctx, "grace period purge sweep finished",
		slog.Int("candidates", len(candidates)),
		slog.Int("processed", n))
	return n, ctx.Err()
}

func (s *Sweeper) purgeGracePeriod(ctx context.Context, candidate Record, now time.Time) (bool, error) {
	rec, err := s.store.Get(ctx, candidate.UserID)
	if err != nil {
		return false, persistence(err)
	}
	if !rec.GraceElapsed(now) {
		return false, nil
	}
	// The paid tier has to be finalized before the grace period can close.
	if rec.DeferredCancellationDue(now) {
		return false, nil
	}

	n, err := s.purger.purgeUser(ctx, rec.UserID)
	if err != nil {
		return false, err
	}

	// Closing the grace period must stay the last write for this user.
	rec.clearGracePeriod()
	rec.UpdatedAt = now
	if err := s.store.Save(ctx, rec); err != nil {
		return false, persistence(err)
	}
	s.purger.logPurged(ctx, rec.UserID, n)
	return true, nil
}

// NotifyGracePeriodMilestones sends one reminder to every user whose grace period has
// exactly 30, 7 or 1 days left. Returns the number of reminders sent.
func (s *Sweeper) NotifyGracePeriodMilestones(ctx context.Context) (int, error) {
	if s.notifier == nil {
		s.logger.WarnContext(ctx, "milestone notifications skipped, no notifier configured")
		return 0, nil
	}

	now := s.now()
	candidates, err := s.store.ListInGrace(ctx, now)
	if err != nil {
		return 0, persistence(err)
	}

	var sent int
	for _, rec := range candidates {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		days := rec.GraceDaysRemainingAt(now)
		if !slices.Contains(s.milestones, days) {
			continue
		}
		m := Milestone{
			UserID:         rec.UserID,
			PreviousTier:   rec.PreviousTier,
			DaysRemaining:  days,
			GracePeriodEnd: *rec.GracePeriodEnd,
		}
		ok, err := s.notify(ctx, m)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to send grace period reminder",
				logger.UserID(rec.UserID),
				slog.Int("days_remaining", days),
				logger.Error(err))
			continue
		}
		if ok {
			sent++
		}
	}

	s.logger.InfoContext(ctx, "grace period reminder sweep finished",
		slog.Int("candidates", len(candidates)),
		slog.Int("sent", sent))
	return sent, nil
}

// notify reports false when another run already claimed the milestone.
func (s *Sweeper) notify(ctx context.Context, m Milestone) (bool, error) {
	if s.guard != nil {
		claimed, err := s.guard.Claim(ctx, m)
		if err != nil {
			return false, errors.Join(ErrUpstream, err)
		}
		if !claimed {
			return false, nil
		}
	}
	if err := s.notifier.NotifyGraceMilestone(ctx, m); err != nil {
		if s.guard != nil {
			if rerr := s.guard.Release(ctx, m); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		return false, errors.Join(ErrUpstream, err)
	}
	return true, nil
}

func (s *Sweeper) appendAudit(ctx context.Context, entry AuditEntry) error {
	entry.ID = uuid.New()
	if err := s.audit.Append(ctx, entry); err != nil {
		return persistence(err)
	}
	return nil
}
