package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/dmitrymomot/printforge/pkg/logger"
)

// ChargeMatchTolerance is the maximum difference between a refund amount and a gateway
// charge for the charge to be considered a match.
var ChargeMatchTolerance = decimal.RequireFromString("0.01")

// RefundRequest holds the parameters of ProcessRefund.
type RefundRequest struct {
	UserID           uuid.UUID
	Amount           decimal.Decimal
	Currency         string // ISO 4217, defaults to EUR
	InvoiceID        uuid.UUID
	Notes            string
	ProcessAtGateway bool
}

// RefundInvoice summarises the ledger row created for a refund.
type RefundInvoice struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	Amount        decimal.Decimal `json:"amount"`
}

// MarshalJSON writes Amount as a JSON number.
func (r RefundInvoice) MarshalJSON() ([]byte, error) {
	type plain RefundInvoice
	return json.Marshal(struct {
		plain
		Amount json.Number `json:"amount"`
	}{plain: plain(r), Amount: json.Number(r.Amount.String())})
}

// Refund is the result of ProcessRefund.
type Refund struct {
	RefundInvoice   RefundInvoice `json:"refundInvoice"`
	GatewayRefundID *string       `json:"stripeRefundId"`
}

// ProcessRefund records a refund in the ledger and, when requested, refunds a matching
// gateway charge. The gateway step is best effort and never fails the refund.
// Only administrators may call it.
//
// An explicit invoice that is already refunded is rejected with ErrInvoiceAlreadyRefunded.
// An explicit invoice that does not exist is ignored and the refund is recorded on its own.
func (e *Engine) ProcessRefund(ctx context.Context, actor Actor, req RefundRequest) (*Refund, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if req.UserID == uuid.Nil {
		return nil, invalid(ErrMissingUserID)
	}
	if !req.Amount.IsPositive() {
		return nil, invalid(ErrInvalidAmount, fmt.Errorf("got %s", req.Amount.String()))
	}
	cur, err := normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	now := e.now()
	rec, err := e.load(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = NewRecord(req.UserID, now)
	}

	original, err := e.findRefundableInvoice(ctx, req.UserID, req.InvoiceID)
	if err != nil {
		return nil, err
	}

	notes := "Refund"
	if original != nil {
		notes = "Refund for invoice " + original.InvoiceNumber
	}
	if req.Notes != "" {
		notes += ": " + req.Notes
	}

	inv := &Invoice{
		ID:            uuid.New(),
		UserID:        req.UserID,
		InvoiceNumber: refundInvoiceNumber(now),
		Amount:        req.Amount.Neg(),
		Currency:      cur,
		Status:        InvoiceRefunded,
		Notes:         notes,
		CreatedAt:     now,
	}
	if err := e.ledger.CreateInvoice(ctx, inv); err != nil {
		return nil, persistence(err)
	}
	if original != nil {
		if err := e.ledger.MarkRefunded(ctx, original.ID); err != nil {
			return nil, persistence(err)
		}
	}

	var gatewayRefundID *string
	if req.ProcessAtGateway && rec.CustomerRef != "" {
		if id, ok := e.refundAtGateway(ctx, rec, req.Amount, cur); ok {
			gatewayRefundID = &id
			if err := e.ledger.SetGatewayRefund(ctx, inv.ID, id); err != nil {
				e.logger.WarnContext(ctx, "failed to store gateway refund reference",
					logger.UserID(req.UserID),
					slog.String("refund_id", id),
					logger.Error(err))
			} else {
				inv.GatewayRefundID = id
			}
		}
	}

	if err := e.appendAudit(ctx, AuditEntry{
		UserID:       req.UserID,
		ActorID:      actor.ID,
		PreviousTier: rec.Tier,
		NewTier:      rec.Tier,
		ChangeType:   ChangeRefund,
		Reason:       fmt.Sprintf("refund of %s %s", req.Amount.StringFixed(2), cur),
		Notes:        notes,
		CreatedAt:    now,
	}); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "refund processed",
		logger.UserID(req.UserID),
		slog.String("invoice_number", inv.InvoiceNumber),
		slog.String("amount", req.Amount.String()),
		slog.String("currency", cur),
		slog.Bool("gateway_refunded", gatewayRefundID != nil))

	return &Refund{
		RefundInvoice: RefundInvoice{
			ID:            inv.ID,
			InvoiceNumber: inv.InvoiceNumber,
			Amount:        inv.Amount,
		},
		GatewayRefundID: gatewayRefundID,
	}, nil
}

// findRefundableInvoice returns nil without error when there is nothing to mark refunded.
func (e *Engine) findRefundableInvoice(ctx context.Context, userID, invoiceID uuid.UUID) (*Invoice, error) {
	var (
		inv *Invoice
		err error
	)
	if invoiceID != uuid.Nil {
		inv, err = e.ledger.GetInvoice(ctx, userID, invoiceID)
		if errors.Is(err, ErrInvoiceNotFound) {
			return nil, nil
		}
		if err == nil && inv.Status == InvoiceRefunded {
			return nil, conflict(ErrInvoiceAlreadyRefunded)
		}
	} else {
		inv, err = e.ledger.LatestPaidInvoice(ctx, userID)
		if errors.Is(err, ErrInvoiceNotFound) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, persistence(err)
	}
	return inv, nil
}

func (e *Engine) refundAtGateway(ctx context.Context, rec *Record, amount decimal.Decimal, cur string) (string, bool) {
	if e.gateway == nil {
		e.logger.WarnContext(ctx, "gateway refund requested but no gateway configured",
			logger.UserID(rec.UserID))
		return "", false
	}

	gctx, cancel := e.gatewayContext(ctx)
	defer cancel()

	charge, err := e.gateway.FindCharge(gctx, rec.CustomerRef, amount, cur)
	if err != nil {
		e.logger.WarnContext(ctx, "no gateway charge matched the refund",
			logger.UserID(rec.UserID),
			slog.String("amount", amount.String()),
			logger.Error(err))
		return "", false
	}

	id, err := e.gateway.Refund(gctx, charge.ID, amount, cur)
	if err != nil {
		e.logger.WarnContext(ctx, "gateway refund failed",
			logger.UserID(rec.UserID),
			slog.String("charge_id", charge.ID),
			logger.Error(err))
		return "", false
	}
	return id, true
}

// ChargeMatches reports whether a gateway charge corresponds to the refund amount and currency.
func ChargeMatches(c Charge, amount decimal.Decimal, cur string) bool {
	if !strings.EqualFold(c.Currency, cur) {
		return false
	}
	return c.Amount.Sub(amount).Abs().LessThanOrEqual(ChargeMatchTolerance)
}

func normalizeCurrency(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return defaultRefundCurrency, nil
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", invalid(ErrInvalidCurrency, err)
	}
	return unit.String(), nil
}

func refundInvoiceNumber(now time.Time) string {
	return fmt.Sprintf("RF-%s-%s", now.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}
