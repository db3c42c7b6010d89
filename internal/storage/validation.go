// Package storage provides the SQLite persistence layer for imported bank
// transactions, import history, invoices and payment records.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/spice-reconcile/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidDateRange   = errors.New("start date must be before end date")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidInvoice     = errors.New("invalid invoice")
	ErrInvalidPayment     = errors.New("invalid payment record")
	ErrInvalidHistory     = errors.New("invalid import history")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateStoredTransaction validates a transaction before insertion.
func validateStoredTransaction(txn *model.StoredTransaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.Fingerprint == "" {
		return fmt.Errorf("%w: missing fingerprint", ErrInvalidTransaction)
	}
	if txn.ImportID == "" {
		return fmt.Errorf("%w: missing import ID", ErrInvalidTransaction)
	}
	if err := txn.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}
	return nil
}

// validateHistory validates an import history record.
func validateHistory(h *model.ImportHistory) error {
	if h == nil {
		return fmt.Errorf("%w: history", ErrNilParameter)
	}
	if h.ImportID == "" {
		return fmt.Errorf("%w: missing import ID", ErrInvalidHistory)
	}
	switch h.Status {
	case model.ImportCompleted, model.ImportPartial, model.ImportFailed:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, h.Status)
	}
	return nil
}

// validateInvoice validates an invoice.
func validateInvoice(inv *model.Invoice) error {
	if inv == nil {
		return fmt.Errorf("%w: invoice", ErrNilParameter)
	}
	if strings.TrimSpace(inv.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidInvoice)
	}
	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		return fmt.Errorf("%w: missing invoice number", ErrInvalidInvoice)
	}
	if inv.TotalAmount < 0 || inv.PaidAmount < 0 {
		return fmt.Errorf("%w: amounts cannot be negative", ErrInvalidInvoice)
	}
	return validateInvoiceStatus(inv.Status)
}

func validateInvoiceStatus(status model.InvoiceStatus) error {
	switch status {
	case model.InvoiceUnpaid, model.InvoicePartiallyPaid, model.InvoicePaid:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
}

// validatePayment validates a payment record.
func validatePayment(p *model.PaymentRecord) error {
	if p == nil {
		return fmt.Errorf("%w: payment record", ErrNilParameter)
	}
	if p.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidPayment)
	}
	if p.InvoiceID == "" {
		return fmt.Errorf("%w: missing invoice ID", ErrInvalidPayment)
	}
	if p.Fingerprint == "" {
		return fmt.Errorf("%w: missing fingerprint", ErrInvalidPayment)
	}
	if p.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidPayment)
	}
	if p.PaymentDate.IsZero() {
		return fmt.Errorf("%w: missing payment date", ErrInvalidPayment)
	}
	return nil
}
