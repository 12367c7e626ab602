package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/printforge/handler"
	"github.com/dmitrymomot/printforge/pkg/logger"
	"github.com/dmitrymomot/printforge/pkg/rbac"
	sub "github.com/dmitrymomot/printforge/pkg/subscription"
)

// Engine is the subset of *subscription.Engine served over HTTP.
type Engine interface {
	ChangeTier(ctx context.Context, actor sub.Actor, userID uuid.UUID, newTier sub.Tier, notes string) (*sub.TierChange, error)
	AddTrial(ctx context.Context, actor sub.Actor, userID uuid.UUID, trialDays int, notes string) (*sub.Trial, error)
	CancelSubscription(ctx context.Context, actor sub.Actor, req sub.CancelRequest) (*sub.Cancellation, error)
	ProcessRefund(ctx context.Context, actor sub.Actor, req sub.RefundRequest) (*sub.Refund, error)
	DeleteUser(ctx context.Context, actor sub.Actor, req sub.DeleteUserRequest) (*sub.DeletedUser, error)
	GetSubscription(ctx context.Context, userID uuid.UUID) (*sub.Record, error)
	CheckWritable(ctx context.Context, userID uuid.UUID) error
}

// SweepRunner runs a maintenance sweep by name.
type SweepRunner interface {
	Run(ctx context.Context, name string) (int, error)
}

// Service holds the HTTP handlers of the billing module.
type Service struct {
	engine       Engine
	sweeps       SweepRunner
	tiers        sub.TierTable
	logger       *slog.Logger
	errorHandler handler.ErrorHandler[handler.Context]
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTierTable sets the table used to describe tiers in GET /v1/subscription.
func WithTierTable(t sub.TierTable) ServiceOption {
	return func(s *Service) {
		s.tiers = t
	}
}

// NewService panics when engine or sweeps is nil.
func NewService(engine Engine, sweeps SweepRunner, opts ...ServiceOption) *Service {
	if engine == nil || sweeps == nil {
		panic("billing: NewService requires an engine and a sweep runner")
	}
	s := &Service{
		engine: engine,
		sweeps: sweeps,
		tiers:  sub.DefaultTierTable(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("billing"))
	s.errorHandler = handler.NewErrorHandler(s.logger, Classify)
	return s
}

// RenderError writes err as a classified JSON error. It matches rbac.ErrorResponder.
func (s *Service) RenderError(w http.ResponseWriter, r *http.Request, err error) {
	handler.RenderError(s.logger, Classify, w, r, err)
}

// RequireWritable rejects requests from principals whose account is read-only.
// It must run after the gate's Authenticate middleware.
func (s *Service) RequireWritable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := rbac.PrincipalFrom(r.Context())
		if !ok {
			s.RenderError(w, r, errors.Join(rbac.ErrUnauthenticated, rbac.ErrNoPrincipal))
			return
		}
		if err := s.engine.CheckWritable(r.Context(), p.UserID); err != nil {
			s.RenderError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func wrap[R any](s *Service, h handler.HandlerFunc[handler.Context, R], binders ...handler.Bind) http.HandlerFunc {
	opts := []handler.WrapOption[handler.Context, R]{
		handler.WithErrorHandler[handler.Context, R](s.errorHandler),
	}
	if len(binders) > 0 {
		opts = append(opts, handler.WithBinders[handler.Context, R](binders...))
	}
	return handler.Wrap(h, opts...)
}

func actorFrom(ctx context.Context) (sub.Actor, error) {
	p, ok := rbac.PrincipalFrom(ctx)
	if !ok {
		return sub.Actor{}, errors.Join(rbac.ErrUnauthenticated, rbac.ErrNoPrincipal)
	}
	return sub.Actor{ID: p.UserID, Admin: p.Admin}, nil
}

func (s *Service) changeTier(ctx handler.Context, req ChangeTierRequest) handler.Response {
	actor, err := actorFrom(ctx)
	if err != nil {
		return handler.Error(err)
	}
	tier, err := sub.ParseTier(req.NewTier)
	if err != nil {
		return handler.Error(err)
	}
	res, err := s.engine.ChangeTier(ctx, actor, req.UserID, tier, req.Notes)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(res)
}

func (s *Service) addTrial(ctx handler.Context, req AddTrialRequest) handler.Response {
	actor, err := actorFrom(ctx)
	if err != nil {
		return handler.Error(err)
	}
	res, err := s.engine.AddTrial(ctx, actor, req.UserID, req.TrialDays, req.Notes)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(res)
}

func (s *Service) adminCancel(ctx handler.Context, req AdminCancelRequest) handler.Response {
	actor, err := actorFrom(ctx)
	if err != nil {
		return handler.Error(err)
	}
	res, err := s.engine.CancelSubscription(ctx, actor, sub.CancelRequest{
		UserID:          req.UserID,
		Immediate:       req.Immediate,
		CancelAtGateway: req.CancelInStripe,
		Notes:           req.Notes,
	})
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(res)
}

func (s *Service) selfCancel(ctx handler.Context, req SelfCancelRequest) handler.Response {
	actor, err := actorFrom(ctx)
	if err != nil {
		return handler.Error(err)
	}
	res, err := s.engine.CancelSubscription(ctx, actor, sub.CancelRequest{
		UserID:          actor.ID,
		Immediate:       req.Immediate,
		CancelAtGateway: req.CancelInStripe,
	})
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(res)
}

func (s *Service) refund(ctx handler.Context, req RefundRequest) handler.Response {
	actor, err := actorFrom(ctx)
	if err != nil {
		return handler.Error(err)
	}
	params := sub.RefundRequest{
		UserID:           req.UserID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Notes:            req.Notes,
		ProcessAtGateway: req.ProcessInStripe,
	}
	if req.InvoiceID != nil {
		params.InvoiceID = *req.InvoiceID
	}
	res, err := s.engine.ProcessRefund(ctx, actor, params)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(res)
}

func (s *Service) deleteUser(ctx handler.Context, req DeleteUserRequest) handler.Response {
	actor, err := actorFrom(ctx)
	if err != nil {
		return handler.Error(err)
	}
	res, err := s.engine.DeleteUser(ctx, actor, sub.DeleteUserRequest{
		UserID:          req.UserID,
		Reason:          req.Reason,
		CancelAtGateway: req.CancelStripeSubscription,
	})
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(res)
}

func (s *Service) runJob(ctx handler.Context, req RunJobRequest) handler.Response {
	n, err := s.sweeps.Run(ctx, req.Job)
	if err != nil {
		return handler.Error(err)
	}
	s.logger.InfoContext(ctx, "sweep triggered manually", logger.Job(req.Job), slog.Int("processed", n))
	return handler.JSON(JobResult{Job: req.Job, Processed: n})
}

func (s *Service) current(ctx handler.Context, _ emptyRequest) handler.Response {
	actor, err := actorFrom(ctx)
	if err != nil {
		return handler.Error(err)
	}
	rec, err := s.engine.GetSubscription(ctx, actor.ID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(newSubscriptionView(rec, s.tiers))
}
