package email

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
)

// EmailSender delivers a rendered message.
type EmailSender interface {
	SendEmail(ctx context.Context, params SendEmailParams) error
}

// SendEmailParams is a single rendered message.
type SendEmailParams struct {
	SendTo   string `json:"send_to" validate:"required,email"`
	Subject  string `json:"subject" validate:"required,max=255"`
	BodyHTML string `json:"body_html" validate:"required"`
	Tag      string `json:"tag,omitempty" validate:"max=1000"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the recipient address and the presence of subject and body.
func (p SendEmailParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		return errors.Join(ErrInvalidParams, err)
	}
	return nil
}
