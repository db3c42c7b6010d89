package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/service"
)

const transactionColumns = `id, fingerprint, fit_id, date, content, amount, type, balance,
	reference_number, customer_name, memo, bank_type, import_id, file_name, file_type,
	reimport, imported_at, account`

// InsertTransaction stores one imported transaction. A fingerprint that
// already has a non-reimport row returns common.ErrDuplicateEntry.
func (s *SQLiteStorage) InsertTransaction(ctx context.Context, txn *model.StoredTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateStoredTransaction(txn); err != nil {
		return err
	}

	if txn.ImportedAt.IsZero() {
		txn.ImportedAt = time.Now().UTC()
	}

	var balance sql.NullInt64
	if txn.Balance != nil {
		balance = sql.NullInt64{Int64: *txn.Balance, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.Fingerprint,
		txn.FitID,
		txn.Date.Format(dateLayout),
		txn.Content,
		txn.Amount,
		string(txn.Type),
		balance,
		txn.ReferenceNumber,
		txn.CustomerName,
		txn.Memo,
		string(txn.BankType),
		txn.ImportID,
		txn.FileName,
		string(txn.FileType),
		boolToInt(txn.Reimport),
		formatTimestamp(txn.ImportedAt),
		txn.Account,
	)
	if err != nil {
		return mapWriteError(err, "transaction "+txn.Fingerprint)
	}
	return nil
}

// FindByFingerprints returns the original (non-reimport) row for each
// fingerprint that is already stored.
func (s *SQLiteStorage) FindByFingerprints(ctx context.Context, fingerprints []string) (map[string]*model.StoredTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	found := make(map[string]*model.StoredTransaction)
	for _, batch := range chunks(fingerprints) {
		query := `SELECT ` + transactionColumns + ` FROM bank_transactions
			WHERE reimport = 0 AND fingerprint IN (` + placeholders(len(batch)) + `)`
		txns, err := s.queryTransactions(ctx, s.db, query, batch...)
		if err != nil {
			return nil, fmt.Errorf("failed to look up fingerprints: %w", err)
		}
		for i := range txns {
			found[txns[i].Fingerprint] = &txns[i]
		}
	}
	return found, nil
}

// FindByFitIDs returns the earliest stored row of account for each FITID.
// Rows stored without an account only match lookups with account "".
func (s *SQLiteStorage) FindByFitIDs(ctx context.Context, account string, fitIDs []string) (map[string]*model.StoredTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	found := make(map[string]*model.StoredTransaction)
	for _, batch := range chunks(fitIDs) {
		query := `SELECT ` + transactionColumns + ` FROM bank_transactions
			WHERE account = ? AND fit_id IN (` + placeholders(len(batch)) + `)
			ORDER BY imported_at, rowid`
		txns, err := s.queryTransactions(ctx, s.db, query, append([]any{account}, batch...)...)
		if err != nil {
			return nil, fmt.Errorf("failed to look up FITIDs: %w", err)
		}
		for i := range txns {
			if _, ok := found[txns[i].FitID]; !ok {
				found[txns[i].FitID] = &txns[i]
			}
		}
	}
	return found, nil
}

// ListTransactions returns stored transactions matching filter, newest
// first, along with the total number of matches ignoring Limit and Offset.
func (s *SQLiteStorage) ListTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.StoredTransaction, int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, 0, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, 0, fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, *filter.To, *filter.From)
	}

	var where []string
	var args []any
	if filter.ImportID != "" {
		where = append(where, "import_id = ?")
		args = append(args, filter.ImportID)
	}
	if filter.From != nil {
		where = append(where, "date >= ?")
		args = append(args, filter.From.Format(dateLayout))
	}
	if filter.To != nil {
		where = append(where, "date <= ?")
		args = append(args, filter.To.Format(dateLayout))
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bank_transactions`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := `SELECT ` + transactionColumns + ` FROM bank_transactions` + clause +
		` ORDER BY date DESC, imported_at DESC, rowid DESC` + limitClause(filter.Limit, filter.Offset)

	txns, err := s.queryTransactions(ctx, s.db, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, total, nil
}

// limitClause renders LIMIT/OFFSET; a non-positive limit means no limit.
func limitClause(limit, offset int) string {
	if limit <= 0 && offset <= 0 {
		return ""
	}
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}

func (s *SQLiteStorage) queryTransactions(ctx context.Context, q queryable, query string, args ...any) ([]model.StoredTransaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var txns []model.StoredTransaction
	for rows.Next() {
		var (
			txn                        model.StoredTransaction
			date, importedAt           string
			txType, bankType, fileType string
			balance                    sql.NullInt64
			reimport                   int
		)
		if err := rows.Scan(
			&txn.ID,
			&txn.Fingerprint,
			&txn.FitID,
			&date,
			&txn.Content,
			&txn.Amount,
			&txType,
			&balance,
			&txn.ReferenceNumber,
			&txn.CustomerName,
			&txn.Memo,
			&bankType,
			&txn.ImportID,
			&txn.FileName,
			&fileType,
			&reimport,
			&importedAt,
			&txn.Account,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		if txn.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		if txn.ImportedAt, err = parseTimestamp(importedAt); err != nil {
			return nil, err
		}
		if balance.Valid {
			b := balance.Int64
			txn.Balance = &b
		}
		txn.Type = model.TransactionType(txType)
		txn.BankType = model.BankType(bankType)
		txn.FileType = model.FileType(fileType)
		txn.Reimport = reimport != 0

		txns = append(txns, txn)
	}
	return txns, rows.Err()
}
