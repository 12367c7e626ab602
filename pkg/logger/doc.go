// Package logger builds *slog.Logger instances with consistent settings and attribute names.
//
// New applies functional options on top of production defaults (JSON, info level, stdout).
// WithEnvironment switches to the defaults of a deployment environment and tags every
// record with the service and environment names. ContextHandler adds request scoped
// values, such as the request ID, to records logged with a context.
//
// Attribute helpers (UserID, ActorID, Tier, Job, Error, ...) keep keys uniform across
// packages. Helpers taking nil or empty values return an empty slog.Attr which slog
// omits, so callers do not need nil checks:
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "printforge"),
//		logger.WithContextExtractors(requestid.LogExtractor()),
//	)
//	log.InfoContext(ctx, "subscription cancelled", logger.UserID(userID), logger.Error(err))
package logger
