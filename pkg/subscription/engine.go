package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/printforge/pkg/logger"
)

const (
	// DefaultGracePeriod is how long data is kept read-only after a paid-to-free downgrade.
	DefaultGracePeriod = 30 * 24 * time.Hour

	// DefaultGatewayTimeout bounds every best-effort payment gateway call.
	DefaultGatewayTimeout = 10 * time.Second

	// MaxTrialDays caps a single AddTrial call.
	MaxTrialDays = 365

	defaultRefundCurrency = "EUR"
)

// Deps groups the collaborators of the Engine.
// Store, Audit, Ledger and Accounts are required. Gateway, Images and Objects may be nil
// in which case the dependent steps are skipped.
type Deps struct {
	Store    Store
	Audit    AuditLog
	Ledger   Ledger
	Accounts Accounts
	Images   ImageIndex
	Objects  ObjectStore
	Gateway  Gateway
}

// Engine applies subscription transitions. Each operation re-reads the current record,
// writes the new record and then appends one audit entry.
type Engine struct {
	store    Store
	audit    AuditLog
	ledger   Ledger
	accounts Accounts
	purger   *purger
	gateway  Gateway

	gracePeriod    time.Duration
	gatewayTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// Option configures an Engine or a Sweeper.
type Option func(*options)

type options struct {
	gracePeriod    time.Duration
	gatewayTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
	concurrency    int
	notifier       Notifier
	guard          MilestoneGuard
	milestones     []int
}

// WithGracePeriod overrides the 30 day grace period.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.gracePeriod = d
		}
	}
}

// WithGatewayTimeout overrides the timeout applied to each gateway call.
func WithGatewayTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.gatewayTimeout = d
		}
	}
}

// WithClock sets the time source. Mostly useful in tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPurgeConcurrency bounds how many users are purged in parallel.
func WithPurgeConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithNotifier sets the milestone notifier used by the sweeper.
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithMilestoneGuard sets the deduplication guard for milestone notifications.
func WithMilestoneGuard(g MilestoneGuard) Option {
	return func(o *options) {
		o.guard = g
	}
}

func buildOptions(opts []Option) options {
	o := options{
		gracePeriod:    DefaultGracePeriod,
		gatewayTimeout: DefaultGatewayTimeout,
		now:            time.Now,
		logger:         slog.Default(),
		concurrency:    4,
		milestones:     []int{30, 7, 1},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewEngine creates an Engine.
// Panics if a required dependency is missing so misconfiguration fails at startup.
func NewEngine(deps Deps, opts ...Option) *Engine {
	if deps.Store == nil {
		panic("subscription: Store is required")
	}
	if deps.Audit == nil {
		panic("subscription: AuditLog is required")
	}
	if deps.Ledger == nil {
		panic("subscription: Ledger is required")
	}
	if deps.Accounts == nil {
		panic("subscription: Accounts is required")
	}

	o := buildOptions(opts)
	log := o.logger.With(logger.Component("subscription.engine"))

	return &Engine{
		store:          deps.Store,
		audit:          deps.Audit,
		ledger:         deps.Ledger,
		accounts:       deps.Accounts,
		purger:         newPurger(deps.Images, deps.Objects, log),
		gateway:        deps.Gateway,
		gracePeriod:    o.gracePeriod,
		gatewayTimeout: o.gatewayTimeout,
		now:            o.now,
		logger:         log,
	}
}

// GetSubscription returns the current record of the user. A user without a stored record
// is reported with the signup defaults.
func (e *Engine) GetSubscription(ctx context.Context, userID uuid.UUID) (*Record, error) {
	if userID == uuid.Nil {
		return nil, invalid(ErrMissingUserID)
	}
	rec, err := e.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return NewRecord(userID, e.now()), nil
	}
	return rec, nil
}

// CheckWritable returns an error wrapping ErrReadOnly while the user's account is read-only.
func (e *Engine) CheckWritable(ctx context.Context, userID uuid.UUID) error {
	rec, err := e.load(ctx, userID)
	if err != nil {
		return err
	}
	if rec != nil && rec.IsReadOnly {
		return errors.Join(ErrConflict, ErrReadOnly)
	}
	return nil
}

// load returns nil without error when the user has no record.
func (e *Engine) load(ctx context.Context, userID uuid.UUID) (*Record, error) {
	rec, err := e.store.Get(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, persistence(err)
	}
	return rec, nil
}

func (e *Engine) save(ctx context.Context, rec *Record, now time.Time) error {
	rec.UpdatedAt = now
	if err := e.store.Save(ctx, rec); err != nil {
		return persistence(err)
	}
	return nil
}

func (e *Engine) appendAudit(ctx context.Context, entry AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		return persistence(err)
	}
	return nil
}

func (e *Engine) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.gatewayTimeout)
}

func requireAdmin(actor Actor) error {
	if actor.ID == uuid.Nil || !actor.Admin {
		return forbidden(ErrAdminRequired)
	}
	return nil
}
