package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// PostmarkAPI is the slice of the Postmark client used for sending.
type PostmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

type postmarkClient struct {
	api    PostmarkAPI
	config Config
}

// NewPostmarkClient returns a sender that delivers through Postmark. Replies go to the
// support address.
func NewPostmarkClient(cfg Config) (EmailSender, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: postmark tokens are required", ErrInvalidConfig)
	}
	return NewPostmarkClientWithAPI(postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken), cfg)
}

// NewPostmarkClientWithAPI builds the sender around an existing API client.
func NewPostmarkClientWithAPI(api PostmarkAPI, cfg Config) (EmailSender, error) {
	if api == nil {
		return nil, fmt.Errorf("%w: postmark client is nil", ErrInvalidConfig)
	}
	if err := validate.Var(cfg.SenderEmail, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: SenderEmail must be a valid email address", ErrInvalidConfig)
	}
	if err := validate.Var(cfg.SupportEmail, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: SupportEmail must be a valid email address", ErrInvalidConfig)
	}
	return &postmarkClient{api: api, config: cfg}, nil
}

func (c *postmarkClient) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	resp, err := c.api.SendEmail(ctx, postmark.Email{
		From:       c.config.SenderEmail,
		ReplyTo:    c.config.SupportEmail,
		To:         params.SendTo,
		Subject:    params.Subject,
		Tag:        params.Tag,
		HTMLBody:   params.BodyHTML,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrFailedToSendEmail, fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
