// Package rbac is the authorization gate in front of the subscription API.
//
// Gate.Authenticate verifies the bearer token once per request, loads the caller's role
// grants from a GrantSource, and stores the resulting Principal in the request context.
// Gate.Require and Gate.Admin then check permissions against an Authorizer built from a
// role catalogue. Roles may inherit from each other and grant wildcard permissions such
// as "billing.*".
//
// Missing or invalid tokens yield ErrUnauthenticated (401); authenticated callers without
// the permission get ErrForbidden (403).
package rbac
