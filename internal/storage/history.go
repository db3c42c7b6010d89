package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/service"
)

const historyColumns = `import_id, file_name, file_size, file_type, bank_type, bank_name,
	account_info, total_count, deposit_count, withdrawal_count, total_deposit_amount,
	total_withdrawal_amount, matched_count, high_confidence_count, auto_confirmed_count,
	duplicate_count, new_transaction_count, status, errors, created_at`

// CreateImportHistory writes the audit record of one import invocation.
// Records are never updated; a second write for the same import ID returns
// common.ErrDuplicateEntry.
func (s *SQLiteStorage) CreateImportHistory(ctx context.Context, h *model.ImportHistory) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateHistory(h); err != nil {
		return err
	}

	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	var accountInfo sql.NullString
	if h.AccountInfo != nil {
		data, err := json.Marshal(h.AccountInfo)
		if err != nil {
			return fmt.Errorf("failed to marshal account info: %w", err)
		}
		accountInfo = sql.NullString{String: string(data), Valid: true}
	}

	errs := h.Errors
	if errs == nil {
		errs = []string{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to marshal import errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ImportID,
		h.FileName,
		h.FileSize,
		string(h.FileType),
		string(h.BankType),
		h.BankName,
		accountInfo,
		h.TotalCount,
		h.DepositCount,
		h.WithdrawalCount,
		h.TotalDepositAmount,
		h.TotalWithdrawalAmount,
		h.MatchedCount,
		h.HighConfidenceCount,
		h.AutoConfirmedCount,
		h.DuplicateCount,
		h.NewTransactionCount,
		string(h.Status),
		string(errorsJSON),
		formatTimestamp(h.CreatedAt),
	)
	if err != nil {
		return mapWriteError(err, "import history "+h.ImportID)
	}
	return nil
}

// ListImportHistory returns history records newest first and the total
// number of records matching the status filter.
func (s *SQLiteStorage) ListImportHistory(ctx context.Context, filter service.HistoryFilter) ([]model.ImportHistory, int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, 0, err
	}

	clause := ""
	var args []any
	if filter.Status != "" {
		clause = " WHERE status = ?"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_history`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count import history: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+historyColumns+` FROM import_history`+clause+
		` ORDER BY created_at DESC, id DESC`+limitClause(filter.Limit, filter.Offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query import history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.ImportHistory
	for rows.Next() {
		var (
			h                                     model.ImportHistory
			fileType, bankType, status, createdAt string
			accountInfo                           sql.NullString
			errorsJSON                            string
		)
		if err := rows.Scan(
			&h.ImportID,
			&h.FileName,
			&h.FileSize,
			&fileType,
			&bankType,
			&h.BankName,
			&accountInfo,
			&h.TotalCount,
			&h.DepositCount,
			&h.WithdrawalCount,
			&h.TotalDepositAmount,
			&h.TotalWithdrawalAmount,
			&h.MatchedCount,
			&h.HighConfidenceCount,
			&h.AutoConfirmedCount,
			&h.DuplicateCount,
			&h.NewTransactionCount,
			&status,
			&errorsJSON,
			&createdAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan import history: %w", err)
		}

		h.FileType = model.FileType(fileType)
		h.BankType = model.BankType(bankType)
		h.Status = model.ImportStatus(status)
		if h.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, 0, err
		}
		if accountInfo.Valid {
			h.AccountInfo = &model.AccountInfo{}
			if err := json.Unmarshal([]byte(accountInfo.String), h.AccountInfo); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal account info: %w", err)
			}
		}
		if err := json.Unmarshal([]byte(errorsJSON), &h.Errors); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal import errors: %w", err)
		}

		items = append(items, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate import history: %w", err)
	}
	return items, total, nil
}
