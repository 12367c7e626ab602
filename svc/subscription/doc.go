// Package subscription wires the subscription engine to concrete infrastructure.
//
// It provides the production implementations of the ports declared by
// pkg/subscription:
//
//   - PostgresStore: subscription records, audit log, invoices, image references,
//     account deletion and recipient lookup over pgx
//   - PostgresGrants: role grants for the rbac gate
//   - MongoAuditLog: alternative audit backend
//   - StripeGateway: subscription cancellation, charge lookup and refunds
//   - RedisMilestoneGuard: once-only claims for grace period reminders
//   - EmailNotifier: reminder emails through pkg/email
//   - FileObjectStore: blob deletion through pkg/file
package subscription
