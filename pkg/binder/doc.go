// Package binder decodes HTTP requests into typed request structs.
//
// JSON reads a strict JSON body: unknown fields, trailing data and bodies above the size
// limit are rejected. Path fills fields tagged `path:"name"` from router parameters:
//
//	type RunJobRequest struct {
//		Job string `path:"job"`
//	}
//
//	r.Post("/jobs/{job}", handler.Wrap(run, handler.WithBinders[handler.Context, RunJobRequest](
//		binder.Path(chi.URLParam),
//	)))
//
// Binders return errors wrapping the sentinels in errors.go so callers can map them to
// HTTP status codes.
package binder
