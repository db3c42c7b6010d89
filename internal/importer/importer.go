// Package importer persists parsed bank transactions and the audit record of
// each import.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/spice-reconcile/internal/common"
	"github.com/Veraticus/spice-reconcile/internal/dedup"
	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/service"
)

// Default and maximum page sizes for list queries.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Store is the persistence the import service needs.
type Store interface {
	service.TransactionStore
	service.HistoryStore
}

// Options controls one ImportTransactions call.
type Options struct {
	ImportID       string
	FileName       string
	FileType       model.FileType
	BankType       model.BankType
	Account        string
	SkipDuplicates bool
}

// NewOptions returns options for an import with duplicates skipped.
func NewOptions(importID, fileName string) Options {
	return Options{
		ImportID:       importID,
		FileName:       fileName,
		SkipDuplicates: true,
	}
}

// Result summarizes what an import wrote.
type Result struct {
	Errors                []string                 `json:"errors"`
	DuplicateTransactions []model.DuplicatePreview `json:"duplicateTransactions"`
	Created               int                      `json:"created"`
	Skipped               int                      `json:"skipped"`
	Duplicates            int                      `json:"duplicates"`
	Success               bool                     `json:"success"`
}

// Service imports transactions into the store.
type Service struct {
	store   Store
	checker *dedup.Checker
	now     func() time.Time
	newID   func() string
}

// NewService creates an import service over store.
func NewService(store Store) *Service {
	return &Service{
		store:   store,
		checker: dedup.NewChecker(store),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
}

// Checker returns the duplicate checker bound to the service's store.
func (s *Service) Checker() *dedup.Checker {
	return s.checker
}

// ImportTransactions checks txs for duplicates and stores them.
func (s *Service) ImportTransactions(ctx context.Context, txs []model.ParsedTransaction, opts Options) (*Result, error) {
	report, err := s.checker.CheckAccount(ctx, opts.Account, txs)
	if err != nil {
		return nil, err
	}
	return s.ImportChecked(ctx, report, opts)
}

// ImportChecked stores the rows of an existing duplicate report.
//
// Duplicates are counted in Duplicates. With SkipDuplicates they are also
// Skipped; without it they are written as re-imports. Rows are written one
// at a time and a failed row never stops the others. A uniqueness conflict
// raised by the store means a concurrent import got there first, so the row
// counts as a skipped duplicate rather than an error.
//
// On cancellation the rows already written stay written and the partial
// result is returned with the context error.
func (s *Service) ImportChecked(ctx context.Context, report *dedup.Report, opts Options) (*Result, error) {
	if opts.ImportID == "" {
		return nil, fmt.Errorf("%w: import ID is required", common.ErrValidation)
	}

	result := &Result{
		Errors:                []string{},
		DuplicateTransactions: report.Preview,
	}
	importedAt := s.now()

	for i, row := range report.Rows {
		if err := ctx.Err(); err != nil {
			result.Success = false
			return result, err
		}

		if row.IsDuplicate {
			result.Duplicates++
			if opts.SkipDuplicates {
				result.Skipped++
				continue
			}
		}

		txn := &model.StoredTransaction{
			ID:                s.newID(),
			Fingerprint:       row.Fingerprint,
			FitID:             row.FitID,
			Account:           row.Account,
			ImportID:          opts.ImportID,
			FileName:          opts.FileName,
			FileType:          opts.FileType,
			ImportedAt:        importedAt,
			ParsedTransaction: row.Transaction,
			Reimport:          row.IsDuplicate,
		}

		err := s.store.InsertTransaction(ctx, txn)
		switch {
		case err == nil:
			result.Created++
		case errors.Is(err, common.ErrDuplicateEntry):
			result.Duplicates++
			result.Skipped++
		default:
			perr := &common.PersistenceError{Key: fmt.Sprintf("row %d (%s)", i+1, row.Fingerprint), Err: err}
			result.Errors = append(result.Errors, perr.Error())
			slog.Warn("Failed to store transaction", "import_id", opts.ImportID, "row", i+1, "error", err)
		}
	}

	result.Success = len(result.Errors) == 0

	slog.Info("Imported transactions",
		"import_id", opts.ImportID,
		"created", result.Created,
		"skipped", result.Skipped,
		"duplicates", result.Duplicates,
		"errors", len(result.Errors))

	return result, nil
}

// Status derives the import status from what the import did with its rows,
// plus failures of later steps. Rows the parser rejected never reach the
// import and do not count.
func (r *Result) Status(laterErrors int) model.ImportStatus {
	if r == nil {
		return StatusFor(0, laterErrors)
	}
	return StatusFor(r.Created+r.Skipped, len(r.Errors)+laterErrors)
}

// StatusFor derives the import status from how many rows were handled and
// how many errors were collected.
func StatusFor(handled, errorCount int) model.ImportStatus {
	switch {
	case errorCount == 0:
		return model.ImportCompleted
	case handled == 0:
		return model.ImportFailed
	default:
		return model.ImportPartial
	}
}

// CreateImportHistory writes the audit record for one invocation. A missing
// status is derived from NewTransactionCount and Errors.
func (s *Service) CreateImportHistory(ctx context.Context, h *model.ImportHistory) error {
	if h == nil {
		return fmt.Errorf("%w: history is required", common.ErrValidation)
	}
	if h.Status == "" {
		h.Status = StatusFor(h.NewTransactionCount, len(h.Errors))
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = s.now()
	}
	if h.BankName == "" {
		if info, ok := h.BankType.Info(); ok {
			h.BankName = info.Name
		}
	}
	if err := s.store.CreateImportHistory(ctx, h); err != nil {
		return fmt.Errorf("failed to record import %s: %w", h.ImportID, err)
	}
	return nil
}

// ListImportHistory returns history newest first with the unpaged total.
func (s *Service) ListImportHistory(ctx context.Context, filter service.HistoryFilter) ([]model.ImportHistory, int, error) {
	filter.Limit = pageSize(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListImportHistory(ctx, filter)
}

// ListTransactions returns stored transactions newest first with the
// unpaged total.
func (s *Service) ListTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.StoredTransaction, int, error) {
	filter.Limit = pageSize(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListTransactions(ctx, filter)
}

func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
