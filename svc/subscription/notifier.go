package subscription

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/google/uuid"

	"github.com/dmitrymomot/printforge/pkg/email"
	sub "github.com/dmitrymomot/printforge/pkg/subscription"
)

// RecipientLookup resolves the email address of a user.
type RecipientLookup interface {
	Email(ctx context.Context, userID uuid.UUID) (string, error)
}

var graceMilestoneTemplate = template.Must(template.New("grace_milestone").Parse(`<!doctype html>
<html>
<body style="font-family: sans-serif; color: #222;">
<p>Hello,</p>
<p>Your {{.TierName}} plan has ended and your PrintForge account is read-only.
Uploaded images are kept until <strong>{{.Deadline}}</strong>, which is
{{if eq .Days 1}}tomorrow{{else}}in {{.Days}} days{{end}}.</p>
<p>After that date project thumbnails, catalog images and your brand logo are removed permanently.
Renew your {{.TierName}} plan before then to keep them.</p>
{{if .RenewURL}}<p><a href="{{.RenewURL}}">Renew your subscription</a></p>{{end}}
{{if .SupportEmail}}<p>Questions? Write to <a href="mailto:{{.SupportEmail}}">{{.SupportEmail}}</a>.</p>{{end}}
</body>
</html>`))

type graceMilestoneData struct {
	TierName     string
	Days         int
	Deadline     string
	RenewURL     string
	SupportEmail string
}

// EmailNotifier sends grace period reminders by email.
type EmailNotifier struct {
	sender       email.EmailSender
	recipients   RecipientLookup
	tiers        sub.TierTable
	renewURL     string
	supportEmail string
}

var _ sub.Notifier = (*EmailNotifier)(nil)

// NotifierOption configures EmailNotifier.
type NotifierOption func(*EmailNotifier)

// WithRenewURL links the reminder to the billing page.
func WithRenewURL(u string) NotifierOption {
	return func(n *EmailNotifier) { n.renewURL = u }
}

// WithSupportEmail adds a support contact to the reminder.
func WithSupportEmail(addr string) NotifierOption {
	return func(n *EmailNotifier) { n.supportEmail = addr }
}

func NewEmailNotifier(sender email.EmailSender, recipients RecipientLookup, tiers sub.TierTable, opts ...NotifierOption) *EmailNotifier {
	if sender == nil || recipients == nil {
		panic("subscription: email sender and recipient lookup are required")
	}
	n := &EmailNotifier{sender: sender, recipients: recipients, tiers: tiers}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyGraceMilestone implements subscription.Notifier.
func (n *EmailNotifier) NotifyGraceMilestone(ctx context.Context, m sub.Milestone) error {
	to, err := n.recipients.Email(ctx, m.UserID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}

	var body bytes.Buffer
	if err := graceMilestoneTemplate.Execute(&body, graceMilestoneData{
		TierName:     n.tiers.DisplayName(m.PreviousTier),
		Days:         m.DaysRemaining,
		Deadline:     m.GracePeriodEnd.UTC().Format("January 2, 2006"),
		RenewURL:     n.renewURL,
		SupportEmail: n.supportEmail,
	}); err != nil {
		return fmt.Errorf("render grace milestone email: %w", err)
	}

	return n.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   to,
		Subject:  milestoneSubject(m.DaysRemaining),
		BodyHTML: body.String(),
		Tag:      MilestoneTag(m.DaysRemaining),
	})
}

// MilestoneTag is the delivery tag of a reminder, e.g. grace-period-7d.
func MilestoneTag(days int) string {
	return fmt.Sprintf("grace-period-%dd", days)
}

func milestoneSubject(days int) string {
	if days == 1 {
		return "Your PrintForge images will be removed tomorrow"
	}
	return fmt.Sprintf("Your PrintForge images will be removed in %d days", days)
}
