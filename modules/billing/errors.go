package billing

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/printforge/handler"
	"github.com/dmitrymomot/printforge/pkg/rbac"
	sub "github.com/dmitrymomot/printforge/pkg/subscription"
)

var errConflict = handler.NewHTTPError(http.StatusBadRequest, "conflict")

// clientMessages are reported verbatim to callers. Errors outside this list only expose
// the status key.
var clientMessages = []error{
	sub.ErrInvalidTier,
	sub.ErrInvalidTrialDays,
	sub.ErrInvalidAmount,
	sub.ErrInvalidCurrency,
	sub.ErrMissingUserID,
	sub.ErrMissingReason,
	sub.ErrSelfTarget,
	sub.ErrAdminRequired,
	sub.ErrNotOwner,
	sub.ErrAlreadyCancelled,
	sub.ErrReadOnly,
	sub.ErrInvoiceNotFound,
	sub.ErrInvoiceAlreadyRefunded,
	sub.ErrAccountNotFound,
	sub.ErrSubscriptionNotFound,
	sub.ErrUnknownJob,
	sub.ErrGatewayDisabled,
}

// Classify maps subscription and rbac errors to HTTP errors. It is a handler.Classifier.
func Classify(err error) (handler.HTTPError, bool) {
	var status handler.HTTPError
	switch {
	case errors.Is(err, rbac.ErrUnauthenticated):
		status = handler.ErrUnauthorized
	case errors.Is(err, rbac.ErrForbidden), errors.Is(err, sub.ErrForbidden):
		status = handler.ErrForbidden
	case errors.Is(err, sub.ErrReadOnly):
		status = handler.ErrLocked
	case errors.Is(err, sub.ErrValidation):
		status = handler.ErrBadRequest
	case errors.Is(err, sub.ErrConflict):
		status = errConflict
	case errors.Is(err, sub.ErrNotFound):
		status = handler.ErrNotFound
	case errors.Is(err, sub.ErrUpstream):
		status = handler.ErrBadGateway
	case errors.Is(err, sub.ErrPersistence):
		status = handler.ErrInternalServerError
	default:
		return handler.HTTPError{}, false
	}
	for _, known := range clientMessages {
		if errors.Is(err, known) {
			return status.WithMessage(known.Error()), true
		}
	}
	return status, true
}
