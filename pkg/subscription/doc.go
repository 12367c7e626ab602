// Package subscription implements the subscription lifecycle of a printforge account:
// tier changes, trials, cancellations, refunds, account deletion and the grace period
// that follows every downgrade from a paid tier to the free tier.
//
// # Architecture
//
// The package is split into two entry points sharing the same collaborators:
//
//   - Engine: request driven transitions (ChangeTier, AddTrial, CancelSubscription,
//     ProcessRefund, DeleteUser) plus read helpers (GetSubscription, CheckWritable)
//   - Sweeper: periodic maintenance (ExpireTrials, FinalizeDeferredCancellations,
//     PurgeExpiredGracePeriods, NotifyGracePeriodMilestones)
//
// Persistence and external services are reached through small interfaces: Store,
// AuditLog, Ledger, ImageIndex, ObjectStore, Gateway, Notifier, MilestoneGuard and
// Accounts. MemoryStore implements the persistence interfaces in memory.
//
// # Grace Period
//
// Dropping from a paid tier to free keeps the account data for a grace period
// (30 days by default) during which the account is read-only. Reaching a paid tier again
// closes the grace period. Once it has elapsed the Sweeper deletes every uploaded image of
// the user and clears the grace period fields. Clearing the fields is the last write of a
// purge so an interrupted purge is picked up again on the next run.
//
// # Actors
//
// Every Engine operation receives the verified Actor explicitly. Administrative operations
// require Actor.Admin; CancelSubscription also accepts the owner of the subscription.
//
// # Gateway Calls
//
// Payment gateway calls are best effort. They run under a timeout and their failures are
// logged and degrade to computed fallbacks, so the stored transition always completes when
// the store is reachable.
//
// # Error Handling
//
// Returned errors are joined with one of ErrValidation, ErrForbidden, ErrNotFound,
// ErrConflict, ErrUpstream or ErrPersistence, and with a specific error such as
// ErrInvalidTier or ErrAlreadyCancelled:
//
//	res, err := engine.ChangeTier(ctx, actor, userID, subscription.TierFree, "")
//	switch {
//	case errors.Is(err, subscription.ErrValidation):
//		// 400
//	case errors.Is(err, subscription.ErrForbidden):
//		// 403
//	}
package subscription
