// Package dedup decides which parsed transactions are already stored.
package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/spice-reconcile/internal/fingerprint"
	"github.com/Veraticus/spice-reconcile/internal/model"
)

// PreviewLimit caps the duplicate rows echoed back to callers.
const PreviewLimit = 10

// Lookup is the part of the transaction store the checker reads.
type Lookup interface {
	FindByFingerprints(ctx context.Context, fingerprints []string) (map[string]*model.StoredTransaction, error)
	FindByFitIDs(ctx context.Context, account string, fitIDs []string) (map[string]*model.StoredTransaction, error)
}

// Result is the verdict for one fingerprint.
type Result struct {
	// Existing is the stored row this transaction duplicates, nil for
	// within-batch repeats of a new transaction.
	Existing    *model.StoredTransaction `json:"existing,omitempty"`
	IsDuplicate bool                     `json:"isDuplicate"`
	WithinBatch bool                     `json:"withinBatch"`
}

// Row is the verdict for one input transaction, in input order.
type Row struct {
	Transaction model.ParsedTransaction
	Fingerprint string
	FitID       string
	Account     string
	Result
}

// Report is the outcome of one Check call.
type Report struct {
	Results      map[string]Result        `json:"-"`
	Rows         []Row                    `json:"-"`
	Preview      []model.DuplicatePreview `json:"duplicateTransactions"`
	TotalChecked int                      `json:"totalChecked"`
	Duplicates   int                      `json:"duplicateCount"`
	New          int                      `json:"newTransactionCount"`
}

// NewTransactions returns the rows that are not duplicates, in input order.
func (r *Report) NewTransactions() []Row {
	rows := make([]Row, 0, r.New)
	for _, row := range r.Rows {
		if !row.IsDuplicate {
			rows = append(rows, row)
		}
	}
	return rows
}

// Checker compares parsed transactions against the store.
type Checker struct {
	store Lookup
}

// NewChecker creates a duplicate checker reading from store.
func NewChecker(store Lookup) *Checker {
	return &Checker{store: store}
}

// FitIDOf returns the FITID carried by an OFX transaction, or "".
func FitIDOf(tx model.ParsedTransaction) string {
	if tx.BankType != model.BankOFX {
		return ""
	}
	return tx.ReferenceNumber
}

// Check classifies transactions that carry no account. See CheckAccount.
func (c *Checker) Check(ctx context.Context, txs []model.ParsedTransaction) (*Report, error) {
	return c.CheckAccount(ctx, "", txs)
}

// CheckAccount classifies every transaction of one statement. A transaction
// is a duplicate when its fingerprint is already stored, when its FITID is
// already stored for the same account, or when an earlier row of the same
// batch has the same fingerprint.
func (c *Checker) CheckAccount(ctx context.Context, account string, txs []model.ParsedTransaction) (*Report, error) {
	report := &Report{
		Results:      make(map[string]Result, len(txs)),
		Rows:         make([]Row, 0, len(txs)),
		Preview:      []model.DuplicatePreview{},
		TotalChecked: len(txs),
	}
	if len(txs) == 0 {
		return report, nil
	}

	fingerprints := make([]string, len(txs))
	var fitIDs []string
	for i, tx := range txs {
		fingerprints[i] = fingerprint.Of(tx)
		if id := FitIDOf(tx); id != "" {
			fitIDs = append(fitIDs, id)
		}
	}

	byFingerprint, err := c.store.FindByFingerprints(ctx, fingerprints)
	if err != nil {
		return nil, fmt.Errorf("failed to check fingerprints: %w", err)
	}
	byFitID := map[string]*model.StoredTransaction{}
	if len(fitIDs) > 0 {
		if byFitID, err = c.store.FindByFitIDs(ctx, account, fitIDs); err != nil {
			return nil, fmt.Errorf("failed to check FITIDs: %w", err)
		}
	}

	seen := make(map[string]bool, len(txs))
	for i, tx := range txs {
		fp := fingerprints[i]
		row := Row{Transaction: tx, Fingerprint: fp, FitID: FitIDOf(tx), Account: account}

		switch existing := byFingerprint[fp]; {
		case existing != nil:
			row.Result = Result{IsDuplicate: true, Existing: existing}
		case row.FitID != "" && byFitID[row.FitID] != nil:
			row.Result = Result{IsDuplicate: true, Existing: byFitID[row.FitID]}
		}
		if seen[fp] {
			row.IsDuplicate = true
			row.WithinBatch = true
		}
		seen[fp] = true

		if _, ok := report.Results[fp]; !ok || row.IsDuplicate {
			report.Results[fp] = row.Result
		}
		report.Rows = append(report.Rows, row)

		if !row.IsDuplicate {
			report.New++
			continue
		}
		report.Duplicates++
		if len(report.Preview) < PreviewLimit {
			report.Preview = append(report.Preview, preview(row))
		}
	}

	slog.Debug("Checked for duplicates",
		"checked", report.TotalChecked,
		"duplicates", report.Duplicates,
		"new", report.New)

	return report, nil
}

func preview(row Row) model.DuplicatePreview {
	p := model.DuplicatePreview{
		Date:    row.Transaction.Date,
		Content: row.Transaction.Content,
		Amount:  row.Transaction.Amount,
	}
	if row.Existing != nil {
		importedAt := row.Existing.ImportedAt
		p.ExistingImportDate = &importedAt
		p.ExistingFileName = row.Existing.FileName
	}
	return p
}
