package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/spice-reconcile/internal/common"
	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/service"
)

const invoiceColumns = `id, invoice_number, customer_name, total_amount, paid_amount, status, paid_date`

// SaveInvoice inserts or replaces an invoice. It backs the local invoice
// table used when no remote invoice service is configured.
func (s *SQLiteStorage) SaveInvoice(ctx context.Context, inv *model.Invoice) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if inv != nil && inv.Status == "" {
		inv.Status = model.InvoiceUnpaid
	}
	if err := validateInvoice(inv); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			invoice_number = excluded.invoice_number,
			customer_name = excluded.customer_name,
			total_amount = excluded.total_amount,
			paid_amount = excluded.paid_amount,
			status = excluded.status,
			paid_date = excluded.paid_date`,
		inv.ID,
		inv.InvoiceNumber,
		inv.CustomerName,
		inv.TotalAmount,
		inv.PaidAmount,
		string(inv.Status),
		nullableDate(inv.PaidDate),
	)
	if err != nil {
		return mapWriteError(err, "invoice "+inv.InvoiceNumber)
	}
	return nil
}

// OutstandingInvoices returns every invoice with a positive unpaid balance,
// ordered by invoice number.
func (s *SQLiteStorage) OutstandingInvoices(ctx context.Context) ([]model.Invoice, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices
		WHERE total_amount - paid_amount > 0
		ORDER BY invoice_number`)
	if err != nil {
		return nil, fmt.Errorf("failed to query outstanding invoices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var invoices []model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// GetInvoice returns one invoice or common.ErrNotFound.
func (s *SQLiteStorage) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: invoice %s", common.ErrNotFound, id)
	}
	return inv, err
}

// RecordPayment stores the invoice state produced by a settled payment.
func (s *SQLiteStorage) RecordPayment(ctx context.Context, id string, update service.PaymentUpdate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if err := validateInvoiceStatus(update.Status); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET paid_amount = ?, status = ?, paid_date = ?
		WHERE id = ?`,
		update.PaidAmount,
		string(update.Status),
		nullableDate(update.PaidDate),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to record payment on invoice %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record payment on invoice %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: invoice %s", common.ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*model.Invoice, error) {
	var (
		inv      model.Invoice
		status   string
		paidDate sql.NullString
	)
	if err := row.Scan(
		&inv.ID,
		&inv.InvoiceNumber,
		&inv.CustomerName,
		&inv.TotalAmount,
		&inv.PaidAmount,
		&status,
		&paidDate,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan invoice: %w", err)
	}
	inv.Status = model.InvoiceStatus(status)

	var err error
	if inv.PaidDate, err = scanNullableDate(paidDate); err != nil {
		return nil, err
	}
	return &inv, nil
}
