package subscription_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/printforge/pkg/subscription"
)

func newTestSweeper(store *subscription.MemoryStore, objects subscription.ObjectStore, opts ...subscription.Option) *subscription.Sweeper {
	opts = append([]subscription.Option{subscription.WithClock(fixedClock)}, opts...)
	return subscription.NewSweeper(subscription.Deps{
		Store:   store,
		Audit:   store,
		Images:  store,
		Objects: objects,
	}, opts...)
}

func inGrace(end, downgraded int) func(r *subscription.Record) {
	return func(r *subscription.Record) {
		r.Tier = subscription.TierFree
		r.Status = subscription.StatusCancelled
		r.PreviousTier = subscription.Tier2
		r.GracePeriodEnd = ptr(testNow.Add(time.Duration(end) * day))
		r.DowngradeDate = ptr(testNow.Add(-time.Duration(downgraded) * day))
		r.IsReadOnly = true
	}
}

func TestSweeper_ExpireTrials(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := subscription.NewMemoryStore()
	sweeper := newTestSweeper(store, nil)

	expired := seed(t, store, func(r *subscription.Record) {
		r.Tier = subscription.Tier1
		r.Status = subscription.StatusTrial
		r.ExpiresAt = ptr(testNow.Add(-day))
	})
	running := seed(t, store, func(r *subscription.Record) {
		r.Tier = subscription.Tier1
		r.Status = subscription.StatusTrial
		r.ExpiresAt = ptr(testNow.Add(day))
	})

	n, err := sweeper.ExpireTrials(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := load(t, store, expired)
	assert.Equal(t, subscription.TierFree, rec.Tier)
	assert.Equal(t, subscription.StatusExpired, rec.Status)

	entries := store.AuditEntries(expired)
	require.Len(t, entries, 1)
	assert.Equal(t, subscription.ChangeTrialExpired, entries[0].ChangeType)
	assert.Equal(t, subscription.Tier1, entries[0].PreviousTier)
	assert.Equal(t, subscription.TierFree, entries[0].NewTier)

	assert.Equal(t, subscription.StatusTrial, load(t, store, running).Status)
	assert.Empty(t, store.AuditEntries(running))

	n, err = sweeper.ExpireTrials(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, store.AuditEntries(expired), 1)
}

func TestSweeper_FinalizeDeferredCancellations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := subscription.NewMemoryStore()
	engine := newTestEngine(store, nil, nil)

	userID := seed(t, store, func(r *subscription.Record) {
		r.Tier = subscription.Tier2
		r.NextBillingDate = ptr(testNow.Add(-day))
	})
	_, err := engine.CancelSubscription(ctx, subscription.Actor{ID: userID}, subscription.CancelRequest{UserID: userID})
	require.NoError(t, err)
	assert.Equal(t, subscription.Tier2, load(t, store, userID).Tier)

	sweeper := newTestSweeper(store, nil)
	n, err := sweeper.FinalizeDeferredCancellations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := load(t, store, userID)
	assert.Equal(t, subscription.TierFree, rec.Tier)
	assert.Equal(t, subscription.StatusCancelled, rec.Status)
	assert.True(t, rec.IsReadOnly)
	require.NotNil(t, rec.GracePeriodEnd)

	entries := store.AuditEntries(userID)
	require.Len(t, entries, 2)
	assert.Equal(t, subscription.ChangeDowngrade, entries[1].ChangeType)
	assert.Equal(t, subscription.SystemActorID, entries[1].ActorID)

	n, err = sweeper.FinalizeDeferredCancellations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeper_CancelWithoutBillingDataConverges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := subscription.NewMemoryStore()
	engine := newTestEngine(store, nil, nil)
	userID := seed(t, store, func(r *subscription.Record) { r.Tier = subscription.Tier2 })

	_, err := engine.CancelSubscription(ctx, subscription.Actor{ID: userID}, subscription.CancelRequest{UserID: userID})
	require.NoError(t, err)

	later := subscription.WithClock(func() time.Time { return testNow.Add(31 * day) })
	sweeper := newTestSweeper(store, newFakeObjects(), later)

	n, err := sweeper.FinalizeDeferredCancellations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = sweeper.PurgeExpiredGracePeriods(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := load(t, store, userID)
	assert.Equal(t, subscription.TierFree, rec.Tier)
	assert.Equal(t, subscription.StatusCancelled, rec.Status)
	assert.False(t, rec.IsReadOnly)
	assert.Nil(t, rec.GracePeriodEnd)
}

func TestSweeper_PurgeWaitsForPaidTierFinalization(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := subscription.NewMemoryStore()
	objects := newFakeObjects("https://cdn/a.png")
	sweeper := newTestSweeper(store, objects)

	// Cancelled while holding a paid tier and no recorded expiry.
	userID := seed(t, store, func(r *subscription.Record) {
		inGrace(-1, 31)(r)
		r.Tier = subscription.Tier2
	})
	store.AddImage(userID, subscription.ImageRef{Class: subscription.ImageProject, OwnerID: uuid.New(), URL: "https://cdn/a.png"})

	n, err := sweeper.PurgeExpiredGracePeriods(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, objects.exists("https://cdn/a.png"))
	assert.True(t, load(t, store, userID).IsReadOnly)

	n, err = sweeper.FinalizeDeferredCancellations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, subscription.TierFree, load(t, store, userID).Tier)

	n, err = sweeper.PurgeExpiredGracePeriods(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := load(t, store, userID)
	assert.Equal(t, subscription.TierFree, rec.Tier)
	assert.False(t, rec.IsReadOnly)
	assert.False(t, objects.exists("https://cdn/a.png"))
}

func TestSweeper_PurgeExpiredGracePeriods(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("deletes images and closes grace period", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		objects := newFakeObjects("https://cdn/a.png", "https://cdn/b.png", "https://cdn/logo.png")
		sweeper := newTestSweeper(store, objects)

		userID := seed(t, store, inGrace(0, 30))
		store.AddImage(userID, subscription.ImageRef{Class: subscription.ImageProject, OwnerID: uuid.New(), URL: "https://cdn/a.png"})
		store.AddImage(userID, subscription.ImageRef{Class: subscription.ImageCatalogProject, OwnerID: uuid.New(), URL: "https://cdn/b.png"})
		store.AddImage(userID, subscription.ImageRef{Class: subscription.ImageBrandLogo, OwnerID: uuid.New(), URL: "https://cdn/logo.png"})
		pending := seed(t, store, inGrace(3, 27))

		n, err := sweeper.PurgeExpiredGracePeriods(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		rec := load(t, store, userID)
		assert.Nil(t, rec.GracePeriodEnd)
		assert.Nil(t, rec.DowngradeDate)
		assert.Empty(t, rec.PreviousTier)
		assert.False(t, rec.IsReadOnly)

		refs, err := store.ListUserImages(ctx, userID)
		require.NoError(t, err)
		assert.Empty(t, refs)
		assert.False(t, objects.exists("https://cdn/a.png"))
		assert.False(t, objects.exists("https://cdn/logo.png"))
		assert.Empty(t, store.AuditEntries(userID))

		assert.True(t, load(t, store, pending).IsReadOnly)
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		objects := newFakeObjects("https://cdn/a.png")
		sweeper := newTestSweeper(store, objects)
		userID := seed(t, store, inGrace(-1, 31))
		store.AddImage(userID, subscription.ImageRef{Class: subscription.ImageProject, OwnerID: uuid.New(), URL: "https://cdn/a.png"})

		n, err := sweeper.PurgeExpiredGracePeriods(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = sweeper.PurgeExpiredGracePeriods(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, 1, objects.deletes)
		assert.Empty(t, store.AuditEntries(userID))
	})

	t.Run("already deleted objects are tolerated", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		objects := newFakeObjects()
		sweeper := newTestSweeper(store, objects)
		userID := seed(t, store, inGrace(0, 30))
		store.AddImage(userID, subscription.ImageRef{Class: subscription.ImageProject, OwnerID: uuid.New(), URL: "https://cdn/gone.png"})

		n, err := sweeper.PurgeExpiredGracePeriods(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Nil(t, load(t, store, userID).GracePeriodEnd)
	})

	t.Run("failed delete keeps user for retry", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		objects := newFakeObjects("https://cdn/a.png", "https://cdn/b.png")
		objects.failing["https://cdn/b.png"] = errors.New("access denied")
		sweeper := newTestSweeper(store, objects)

		stuck := seed(t, store, inGrace(-2, 32))
		store.AddImage(stuck, subscription.ImageRef{Class: subscription.ImageProject, OwnerID: uuid.New(), URL: "https://cdn/a.png"})
		store.AddImage(stuck, subscription.ImageRef{Class: subscription.ImageProject, OwnerID: uuid.New(), URL: "https://cdn/b.png"})
		clean := seed(t, store, inGrace(-1, 31))

		n, err := sweeper.PurgeExpiredGracePeriods(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		rec := load(t, store, stuck)
		require.NotNil(t, rec.GracePeriodEnd)
		assert.True(t, rec.IsReadOnly)
		assert.Nil(t, load(t, store, clean).GracePeriodEnd)

		delete(objects.failing, "https://cdn/b.png")
		n, err = sweeper.PurgeExpiredGracePeriods(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Nil(t, load(t, store, stuck).GracePeriodEnd)
	})
}

func TestSweeper_NotifyGracePeriodMilestones(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("only exact milestones are notified", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		notifier := &mockNotifier{}
		sweeper := newTestSweeper(store, nil, subscription.WithNotifier(notifier))

		seven := seed(t, store, inGrace(7, 23))
		seed(t, store, inGrace(15, 15))
		seed(t, store, inGrace(8, 22))

		notifier.On("NotifyGraceMilestone", mock.Anything, mock.MatchedBy(func(m subscription.Milestone) bool {
			return m.UserID == seven && m.DaysRemaining == 7 && m.PreviousTier == subscription.Tier2
		})).Return(nil).Once()

		n, err := sweeper.NotifyGracePeriodMilestones(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		notifier.AssertExpectations(t)
		notifier.AssertNumberOfCalls(t, "NotifyGraceMilestone", 1)
	})

	t.Run("partial days round up", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		notifier := &mockNotifier{}
		sweeper := newTestSweeper(store, nil, subscription.WithNotifier(notifier))

		seed(t, store, func(r *subscription.Record) {
			inGrace(0, 30)(r)
			r.GracePeriodEnd = ptr(testNow.Add(6*day + 2*time.Hour))
		})
		notifier.On("NotifyGraceMilestone", mock.Anything, mock.MatchedBy(func(m subscription.Milestone) bool {
			return m.DaysRemaining == 7
		})).Return(nil).Once()

		n, err := sweeper.NotifyGracePeriodMilestones(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		notifier.AssertExpectations(t)
	})

	t.Run("guard prevents duplicate sends", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		notifier := &mockNotifier{}
		sweeper := newTestSweeper(store, nil,
			subscription.WithNotifier(notifier),
			subscription.WithMilestoneGuard(newMemoryGuard()))

		seed(t, store, inGrace(1, 29))
		notifier.On("NotifyGraceMilestone", mock.Anything, mock.Anything).Return(nil).Once()

		n, err := sweeper.NotifyGracePeriodMilestones(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = sweeper.NotifyGracePeriodMilestones(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		notifier.AssertNumberOfCalls(t, "NotifyGraceMilestone", 1)
	})

	t.Run("delivery failure does not block others", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		notifier := &mockNotifier{}
		guard := newMemoryGuard()
		sweeper := newTestSweeper(store, nil,
			subscription.WithNotifier(notifier),
			subscription.WithMilestoneGuard(guard))

		failing := seed(t, store, inGrace(30, 0))
		seed(t, store, inGrace(30, 0))
		notifier.On("NotifyGraceMilestone", mock.Anything, mock.MatchedBy(func(m subscription.Milestone) bool {
			return m.UserID == failing
		})).Return(errors.New("smtp down"))
		notifier.On("NotifyGraceMilestone", mock.Anything, mock.Anything).Return(nil)

		n, err := sweeper.NotifyGracePeriodMilestones(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		// the failed milestone was released and is retried
		n, err = sweeper.NotifyGracePeriodMilestones(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		notifier.AssertNumberOfCalls(t, "NotifyGraceMilestone", 3)
	})

	t.Run("without notifier nothing is sent", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		sweeper := newTestSweeper(store, nil)
		seed(t, store, inGrace(7, 23))

		n, err := sweeper.NotifyGracePeriodMilestones(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestSweeper_Run(t *testing.T) {
	t.Parallel()
	store := subscription.NewMemoryStore()
	sweeper := newTestSweeper(store, nil)

	for _, job := range subscription.Jobs {
		_, err := sweeper.Run(context.Background(), job)
		assert.NoError(t, err, job)
	}

	_, err := sweeper.Run(context.Background(), "reindex")
	assert.ErrorIs(t, err, subscription.ErrUnknownJob)
	assert.ErrorIs(t, err, subscription.ErrValidation)
}
