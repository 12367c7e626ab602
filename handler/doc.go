// Package handler provides typed JSON HTTP handlers.
//
// A HandlerFunc receives a bound and validated request struct and returns a Response.
// Wrap turns it into an http.HandlerFunc:
//
//	type TrialRequest struct {
//		UserID uuid.UUID `json:"userId"`
//		Days   int       `json:"days" validate:"min=1,max=365"`
//	}
//
//	func addTrial(ctx handler.Context, req TrialRequest) handler.Response {
//		res, err := engine.AddTrial(ctx, actor, req.UserID, req.Days)
//		if err != nil {
//			return handler.JSONError(err)
//		}
//		return handler.JSON(res)
//	}
//
//	r.Post("/trial", handler.Wrap(addTrial))
//
// Requests are decoded with binder.JSON unless WithBinders is given and validated with
// go-playground/validator using `validate` tags. Binding and validation failures, as well
// as errors returned through JSONError, are rendered as
//
//	{"error":{"code":"validation_error","message":"...","details":{"days":["must be at least 1"]}}}
//
// NewErrorHandler adds logging and a Classifier that maps domain errors to HTTPError
// values, so packages can keep their own sentinel errors.
package handler
