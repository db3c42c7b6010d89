// Package settlement turns confident matches into payment records and keeps
// the invoice's paid state in line with them.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/spice-reconcile/internal/common"
	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/service"
)

// DefaultTimeout bounds one call to the invoice collaborator.
const DefaultTimeout = 10 * time.Second

// DefaultConfirmedBy is recorded on payments confirmed without an operator.
const DefaultConfirmedBy = "bank-import"

// Outcomes reported per match.
const (
	OutcomeCreated = "created"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Config holds settlement settings.
type Config struct {
	ConfirmedBy string
	Retry       service.RetryOptions
	Timeout     time.Duration
}

// Options controls one settlement run.
type Options struct {
	OnlyHighConfidence bool
	AutoConfirm        bool
}

// Detail is the outcome for one eligible match.
type Detail struct {
	InvoiceID     string              `json:"invoiceId"`
	InvoiceNumber string              `json:"invoiceNumber"`
	Fingerprint   string              `json:"fingerprint"`
	PaymentNumber string              `json:"paymentNumber,omitempty"`
	Outcome       string              `json:"outcome"`
	InvoiceStatus model.InvoiceStatus `json:"invoiceStatus,omitempty"`
	Error         string              `json:"error,omitempty"`
	Amount        int64               `json:"amount"`
}

// Result summarizes a settlement run.
type Result struct {
	Errors  []string `json:"errors"`
	Details []Detail `json:"details,omitempty"`
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
}

// Service creates payment records from matches.
type Service struct {
	payments service.PaymentStore
	invoices service.InvoiceStore
	now      func() time.Time
	newID    func() string
	cfg      Config
}

// NewService creates a settlement service. Payments are stored in payments;
// invoice state is read from and written to invoices.
func NewService(payments service.PaymentStore, invoices service.InvoiceStore, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConfirmedBy == "" {
		cfg.ConfirmedBy = DefaultConfirmedBy
	}
	return &Service{
		payments: payments,
		invoices: invoices,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}
}

// Eligible reports whether a match may be settled under opts.
func Eligible(m model.MatchResult, opts Options) bool {
	if m.Invoice == nil || !m.Transaction.IsDeposit() {
		return false
	}
	if m.Confidence == model.ConfidenceHigh {
		return true
	}
	return !opts.OnlyHighConfidence && m.Confidence.AtLeast(model.ConfidenceMedium)
}

// CreatePaymentRecordsFromMatches settles every eligible match. Nothing
// happens unless opts.AutoConfirm is set.
//
// At most one payment record exists per (invoice, fingerprint): a match
// whose record already exists, or loses a concurrent insert, is skipped.
// Failures are reported per match and never stop the batch.
func (s *Service) CreatePaymentRecordsFromMatches(ctx context.Context, matches []model.MatchResult, opts Options) (*Result, error) {
	result := &Result{Errors: []string{}}
	if !opts.AutoConfirm {
		return result, nil
	}

	for _, m := range matches {
		if !Eligible(m, opts) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		detail := s.settle(ctx, m)
		switch detail.Outcome {
		case OutcomeCreated:
			result.Created++
		case OutcomeSkipped:
			result.Skipped++
		}
		if detail.Error != "" {
			result.Errors = append(result.Errors, fmt.Sprintf("invoice %s: %s", detail.InvoiceNumber, detail.Error))
		}
		result.Details = append(result.Details, detail)
	}

	slog.Info("Settled matches",
		"created", result.Created,
		"skipped", result.Skipped,
		"errors", len(result.Errors))

	return result, nil
}

func (s *Service) settle(ctx context.Context, m model.MatchResult) Detail {
	detail := Detail{
		InvoiceID:     m.Invoice.ID,
		InvoiceNumber: m.Invoice.InvoiceNumber,
		Fingerprint:   m.Fingerprint,
		Amount:        m.Transaction.Amount,
	}
	fail := func(err error) Detail {
		detail.Outcome = OutcomeFailed
		detail.Error = err.Error()
		slog.Warn("Failed to settle match",
			"invoice", m.Invoice.InvoiceNumber,
			"fingerprint", m.Fingerprint,
			"error", err)
		return detail
	}

	existing, err := s.payments.GetPaymentRecord(ctx, m.Invoice.ID, m.Fingerprint)
	switch {
	case err == nil:
		detail.Outcome = OutcomeSkipped
		detail.PaymentNumber = existing.PaymentNumber
	case errors.Is(err, common.ErrNotFound):
		record := &model.PaymentRecord{
			ID:          s.newID(),
			InvoiceID:   m.Invoice.ID,
			Fingerprint: m.Fingerprint,
			Amount:      m.Transaction.Amount,
			PaymentDate: model.CivilDate(m.Transaction.Date),
			Method:      model.PaymentBankTransfer,
			Status:      model.PaymentConfirmed,
			ConfirmedBy: s.cfg.ConfirmedBy,
			Notes:       m.MatchReason,
			CreatedAt:   s.now(),
		}
		err := s.payments.CreatePaymentRecord(ctx, record)
		switch {
		case err == nil:
			detail.Outcome = OutcomeCreated
			detail.PaymentNumber = record.PaymentNumber
		case errors.Is(err, common.ErrDuplicateEntry):
			detail.Outcome = OutcomeSkipped
		default:
			return fail(&common.PersistenceError{Key: "payment record", Err: err})
		}
	default:
		return fail(&common.PersistenceError{Key: "payment lookup", Err: err})
	}

	// The invoice is brought in line on skips too, which repairs an earlier
	// run whose invoice update failed after the record was written.
	status, err := s.syncInvoice(ctx, m.Invoice.ID, model.CivilDate(m.Transaction.Date))
	if err != nil {
		detail.Error = err.Error()
		slog.Warn("Failed to update invoice",
			"invoice", m.Invoice.InvoiceNumber,
			"error", err)
		return detail
	}
	detail.InvoiceStatus = status
	return detail
}

// syncInvoice recomputes the invoice's paid amount and status from every
// confirmed payment and writes it when it changed.
func (s *Service) syncInvoice(ctx context.Context, invoiceID string, paymentDate time.Time) (model.InvoiceStatus, error) {
	total, err := s.payments.ConfirmedPaymentsTotal(ctx, invoiceID)
	if err != nil {
		return "", err
	}

	var inv *model.Invoice
	err = s.call(ctx, func(callCtx context.Context) error {
		var err error
		inv, err = s.invoices.GetInvoice(callCtx, invoiceID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to load invoice: %w", err)
	}

	update := StatusUpdate(*inv, total, paymentDate)
	if update.Status == inv.Status && update.PaidAmount == inv.PaidAmount {
		return inv.Status, nil
	}

	err = s.call(ctx, func(callCtx context.Context) error {
		return s.invoices.RecordPayment(callCtx, invoiceID, update)
	})
	if err != nil {
		return "", fmt.Errorf("failed to record payment: %w", err)
	}
	return update.Status, nil
}

// call runs one invoice collaborator call under the per-call timeout,
// retrying timeouts and other retryable errors.
func (s *Service) call(ctx context.Context, fn func(context.Context) error) error {
	return common.WithRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
		return fn(callCtx)
	}, s.cfg.Retry)
}

// StatusUpdate derives the invoice state for a confirmed total.
func StatusUpdate(inv model.Invoice, confirmedTotal int64, paymentDate time.Time) service.PaymentUpdate {
	update := service.PaymentUpdate{PaidAmount: confirmedTotal, PaidDate: inv.PaidDate}
	switch {
	case confirmedTotal >= inv.TotalAmount && confirmedTotal > 0:
		update.Status = model.InvoicePaid
		if update.PaidDate == nil {
			d := paymentDate
			update.PaidDate = &d
		}
	case confirmedTotal > 0:
		update.Status = model.InvoicePartiallyPaid
		update.PaidDate = nil
	default:
		update.Status = model.InvoiceUnpaid
		update.PaidDate = nil
	}
	return update
}
