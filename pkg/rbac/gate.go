package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/printforge/pkg/jwt"
	"github.com/dmitrymomot/printforge/pkg/logger"
)

// TokenVerifier turns a bearer token into verified claims.
type TokenVerifier interface {
	Parse(token string) (*jwt.Claims, error)
}

// Principal is the caller identity resolved once per request.
type Principal struct {
	UserID uuid.UUID
	Email  string
	Roles  []string
	Admin  bool
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by Gate.Authenticate.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ErrorResponder renders gate failures. err wraps ErrUnauthenticated or ErrForbidden.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

// Gate authenticates requests and enforces permissions.
type Gate struct {
	tokens  TokenVerifier
	grants  GrantSource
	authz   *Authorizer
	respond ErrorResponder
	logger  *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

func WithErrorResponder(fn ErrorResponder) GateOption {
	return func(g *Gate) {
		if fn != nil {
			g.respond = fn
		}
	}
}

func WithGateLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGate panics when a dependency is missing.
func NewGate(tokens TokenVerifier, grants GrantSource, authz *Authorizer, opts ...GateOption) *Gate {
	if tokens == nil || grants == nil || authz == nil {
		panic("rbac: NewGate requires a token verifier, grant source and authorizer")
	}
	g := &Gate{
		tokens: tokens,
		grants: grants,
		authz:  authz,
		respond: func(w http.ResponseWriter, _ *http.Request, err error) {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrForbidden) {
				status = http.StatusForbidden
			}
			http.Error(w, http.StatusText(status), status)
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Resolve verifies the request's bearer token and loads the caller's roles.
func (g *Gate) Resolve(r *http.Request) (Principal, error) {
	token, err := jwt.BearerToken(r)
	if err != nil {
		return Principal{}, errors.Join(ErrUnauthenticated, err)
	}
	claims, err := g.tokens.Parse(token)
	if err != nil {
		return Principal{}, errors.Join(ErrUnauthenticated, err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return Principal{}, errors.Join(ErrUnauthenticated, err)
	}
	roles, err := g.grants.Roles(r.Context(), userID)
	if err != nil {
		return Principal{}, fmt.Errorf("rbac: load roles: %w", err)
	}
	return Principal{
		UserID: userID,
		Email:  claims.Email,
		Roles:  roles,
		Admin:  g.authz.Can(roles, AdminPermission),
	}, nil
}

// Authenticate rejects requests without a valid token and stores the Principal in the
// request context.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.Resolve(r)
		if err != nil {
			if !errors.Is(err, ErrUnauthenticated) {
				g.logger.ErrorContext(r.Context(), "failed to resolve principal", logger.Error(err))
			}
			g.respond(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Require rejects authenticated principals lacking permission. It must run after
// Authenticate.
func (g *Gate) Require(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				g.respond(w, r, errors.Join(ErrUnauthenticated, ErrNoPrincipal))
				return
			}
			if !g.authz.Can(p.Roles, permission) {
				g.respond(w, r, fmt.Errorf("%w: %s", ErrForbidden, permission))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Admin is Require(AdminPermission).
func (g *Gate) Admin(next http.Handler) http.Handler {
	return g.Require(AdminPermission)(next)
}
