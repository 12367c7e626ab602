package subscription

import "errors"

// Error kinds. Every error returned by the engine and the sweeper is joined with
// exactly one of these so transports can classify it with errors.Is.
var (
	ErrValidation  = errors.New("subscription: validation failed")
	ErrForbidden   = errors.New("subscription: operation not permitted")
	ErrNotFound    = errors.New("subscription: not found")
	ErrConflict    = errors.New("subscription: operation not applicable to current state")
	ErrUpstream    = errors.New("subscription: upstream service failure")
	ErrPersistence = errors.New("subscription: persistence failure")
)

var (
	ErrInvalidTier            = errors.New("invalid subscription tier")
	ErrInvalidTrialDays       = errors.New("trial days must be between 1 and 365")
	ErrInvalidAmount          = errors.New("refund amount must be greater than zero")
	ErrInvalidCurrency        = errors.New("invalid ISO 4217 currency code")
	ErrMissingUserID          = errors.New("user ID is required")
	ErrMissingReason          = errors.New("reason is required")
	ErrSelfTarget             = errors.New("administrators cannot target their own account")
	ErrAdminRequired          = errors.New("administrator privileges required")
	ErrNotOwner               = errors.New("subscription belongs to another user")
	ErrAlreadyCancelled       = errors.New("subscription is already cancelled")
	ErrReadOnly               = errors.New("account is read-only during the grace period")
	ErrInvalidTierTable       = errors.New("invalid tier table")
	ErrGatewayDisabled        = errors.New("payment gateway is not configured")
	ErrChargeNotFound         = errors.New("no matching gateway charge")
	ErrInvoiceNotFound        = errors.New("invoice not found")
	ErrInvoiceAlreadyRefunded = errors.New("invoice is already refunded")
	ErrAccountNotFound        = errors.New("account not found")
	ErrObjectNotFound         = errors.New("stored object not found")
	ErrSubscriptionNotFound   = errors.New("subscription not found")
)

func invalid(err error, details ...error) error {
	return errors.Join(append([]error{ErrValidation, err}, details...)...)
}

func persistence(err error) error {
	return errors.Join(ErrPersistence, err)
}

func forbidden(err error) error {
	return errors.Join(ErrForbidden, err)
}

func notFound(err error) error {
	return errors.Join(ErrNotFound, err)
}

func conflict(err error) error {
	return errors.Join(ErrConflict, err)
}
