// Package billing exposes the subscription engine over HTTP.
//
// Router mounts the administrative routes under /v1/admin, the self-service routes under
// /v1/subscription, and the health and metrics endpoints. Every /v1 route requires a
// bearer token verified by the rbac gate; admin routes additionally require the
// billing.manage permission.
//
// Domain errors are mapped to HTTP statuses by Classify:
//
//	validation, conflict   400
//	unauthenticated        401
//	forbidden              403
//	not found              404
//	read-only account      423
//	persistence            500
//	upstream               502
//
// RequireWritable is a middleware for the host application's mutating routes. It rejects
// requests from accounts in a read-only grace period with 423 Locked.
package billing
