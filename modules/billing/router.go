package billing

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/printforge/pkg/binder"
	"github.com/dmitrymomot/printforge/pkg/rbac"
	"github.com/dmitrymomot/printforge/pkg/requestid"
)

// RouterOptions configures the billing router. Service and Gate are required; Health and
// Metrics are mounted only when provided.
type RouterOptions struct {
	Service *Service
	Gate    *rbac.Gate
	Health  http.Handler
	Metrics http.Handler
}

// Router creates the billing router.
//
// Example:
//
//	svc := billing.NewService(engine, sweeper, billing.WithLogger(log))
//	gate := rbac.NewGate(tokens, grants, authz, rbac.WithErrorResponder(svc.RenderError))
//
//	srv.Run(ctx, billing.Router(billing.RouterOptions{
//		Service: svc,
//		Gate:    gate,
//		Health:  httpserver.ReadinessHandler(log, 2*time.Second, checks),
//		Metrics: promhttp.Handler(),
//	}))
func Router(opts RouterOptions) chi.Router {
	if opts.Service == nil || opts.Gate == nil {
		panic("billing: Router requires a service and a gate")
	}
	s, gate := opts.Service, opts.Gate

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)

	if opts.Health != nil {
		r.Method(http.MethodGet, "/healthz", opts.Health)
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(gate.Authenticate)

		v1.Get("/subscription", wrap[emptyRequest](s, s.current))
		v1.Post("/subscription/cancel", wrap[SelfCancelRequest](s, s.selfCancel))

		v1.Route("/admin", func(admin chi.Router) {
			admin.Use(gate.Admin)

			admin.Post("/subscriptions/tier", wrap[ChangeTierRequest](s, s.changeTier))
			admin.Post("/subscriptions/trial", wrap[AddTrialRequest](s, s.addTrial))
			admin.Post("/subscriptions/cancel", wrap[AdminCancelRequest](s, s.adminCancel))
			admin.Post("/refunds", wrap[RefundRequest](s, s.refund))
			admin.With(gate.Require(rbac.PermUsersDelete)).
				Post("/users/delete", wrap[DeleteUserRequest](s, s.deleteUser))
			admin.With(gate.Require(rbac.PermJobsRun)).
				Post("/jobs/{job}", wrap[RunJobRequest](s, s.runJob, binder.Path(chi.URLParam)))
		})
	})

	return r
}
