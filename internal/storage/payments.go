package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/spice-reconcile/internal/common"
	"github.com/Veraticus/spice-reconcile/internal/model"
)

const paymentColumns = `id, payment_number, invoice_id, fingerprint, amount, payment_date,
	method, status, confirmed_by, notes, created_at`

// PaymentNumberPrefix starts every generated payment number.
const PaymentNumberPrefix = "PR-"

// CreatePaymentRecord inserts a payment record. When PaymentNumber is empty
// the next PR-YYYYMMDD-NNN number for the payment date is assigned in the
// same database transaction.
func (s *SQLiteStorage) CreatePaymentRecord(ctx context.Context, record *model.PaymentRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePayment(record); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	number := record.PaymentNumber
	if number == "" {
		if number, err = nextPaymentNumber(ctx, tx, record.PaymentDate); err != nil {
			return err
		}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_records (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		number,
		record.InvoiceID,
		record.Fingerprint,
		record.Amount,
		record.PaymentDate.Format(dateLayout),
		string(record.Method),
		string(record.Status),
		record.ConfirmedBy,
		record.Notes,
		formatTimestamp(record.CreatedAt),
	)
	if err != nil {
		// Only the (invoice, transaction) pair means the payment already
		// exists. A taken payment number is a plain failure.
		if isUniqueViolation(err) && strings.Contains(err.Error(), "payment_records.payment_number") {
			return fmt.Errorf("failed to save payment for invoice %s: payment number %s is taken: %w",
				record.InvoiceID, number, err)
		}
		return mapWriteError(err, fmt.Sprintf("payment for invoice %s", record.InvoiceID))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment record: %w", err)
	}
	record.PaymentNumber = number
	return nil
}

// nextPaymentNumber returns PR-YYYYMMDD-NNN, one past the highest sequence
// already used for that day. The sequence is compared as a number, so it
// keeps counting past 999.
func nextPaymentNumber(ctx context.Context, q queryable, day time.Time) (string, error) {
	prefix := PaymentNumberPrefix + day.Format("20060102") + "-"

	var last sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT MAX(CAST(substr(payment_number, ?) AS INTEGER))
		FROM payment_records WHERE payment_number LIKE ?`,
		len(prefix)+1, prefix+"%").Scan(&last)
	if err != nil {
		return "", fmt.Errorf("failed to read payment sequence: %w", err)
	}

	seq := int64(1)
	if last.Valid {
		seq = last.Int64 + 1
	}
	return fmt.Sprintf("%s%03d", prefix, seq), nil
}

// GetPaymentRecord returns the record for (invoiceID, fingerprint) or
// common.ErrNotFound.
func (s *SQLiteStorage) GetPaymentRecord(ctx context.Context, invoiceID, fingerprint string) (*model.PaymentRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	records, err := s.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payment_records
		WHERE invoice_id = ? AND fingerprint = ?`, invoiceID, fingerprint)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: payment for invoice %s", common.ErrNotFound, invoiceID)
	}
	return &records[0], nil
}

// ListPaymentRecords returns every payment recorded against an invoice.
func (s *SQLiteStorage) ListPaymentRecords(ctx context.Context, invoiceID string) ([]model.PaymentRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(invoiceID, "invoiceID"); err != nil {
		return nil, err
	}
	return s.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payment_records
		WHERE invoice_id = ? ORDER BY payment_date, payment_number`, invoiceID)
}

// ConfirmedPaymentsTotal sums the confirmed payments for an invoice.
func (s *SQLiteStorage) ConfirmedPaymentsTotal(ctx context.Context, invoiceID string) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payment_records
		WHERE invoice_id = ? AND status = ?`,
		invoiceID, string(model.PaymentConfirmed)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to total payments for invoice %s: %w", invoiceID, err)
	}
	return total, nil
}

func (s *SQLiteStorage) queryPayments(ctx context.Context, query string, args ...any) ([]model.PaymentRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.PaymentRecord
	for rows.Next() {
		var (
			p                      model.PaymentRecord
			paymentDate, createdAt string
			method, status         string
		)
		if err := rows.Scan(
			&p.ID,
			&p.PaymentNumber,
			&p.InvoiceID,
			&p.Fingerprint,
			&p.Amount,
			&paymentDate,
			&method,
			&status,
			&p.ConfirmedBy,
			&p.Notes,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payment record: %w", err)
		}
		if p.PaymentDate, err = parseDate(paymentDate); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		p.Method = model.PaymentMethod(method)
		p.Status = model.PaymentStatus(status)
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payment records: %w", err)
	}
	return records, nil
}
