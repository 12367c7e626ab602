package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/printforge/pkg/logger"
	"github.com/dmitrymomot/printforge/pkg/requestid"
)

// Classifier maps a domain error to an HTTPError. Returning ok=false falls back to the
// HTTPError and ValidationError values already in the chain.
type Classifier func(err error) (HTTPError, bool)

// NewErrorHandler creates an error handler that logs the error and renders it as JSON.
// Client errors are logged at warn level and server errors at error level.
func NewErrorHandler(log *slog.Logger, classify Classifier) ErrorHandler[Context] {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx Context, err error) {
		RenderError(log, classify, ctx.ResponseWriter(), ctx.Request(), err)
	}
}

// RenderError is the http.Handler form of NewErrorHandler, for middleware that fails
// before a typed handler runs.
func RenderError(log *slog.Logger, classify Classifier, w http.ResponseWriter, r *http.Request, err error) {
	if log == nil {
		log = slog.Default()
	}
	if classify != nil {
		if httpErr, ok := classify(err); ok {
			err = errors.Join(httpErr, err)
		}
	}

	status, _ := ErrorToDetail(err)
	level := slog.LevelError
	if status < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	log.LogAttrs(r.Context(), level, "request error",
		logger.RequestID(requestid.FromContext(r.Context())),
		logger.Error(err),
		slog.Int("status_code", status),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		logger.Component("error_handler"),
	)

	if renderErr := JSONError(err).Render(w, r); renderErr != nil {
		log.ErrorContext(r.Context(), "failed to render error response", logger.Error(renderErr))
	}
}

type errorResponse struct{ err error }

func (e errorResponse) Render(http.ResponseWriter, *http.Request) error { return e.err }

// Error returns a Response that writes nothing and passes err to the ErrorHandler
// configured in Wrap, so domain errors go through the same classification as bind and
// validation errors.
func Error(err error) Response {
	return errorResponse{err: err}
}
