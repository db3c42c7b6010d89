// Package pipeline runs one uploaded statement through detection, parsing,
// duplicate checking, storage, matching and settlement.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/spice-reconcile/internal/bankcsv"
	"github.com/Veraticus/spice-reconcile/internal/common"
	"github.com/Veraticus/spice-reconcile/internal/config"
	"github.com/Veraticus/spice-reconcile/internal/dedup"
	"github.com/Veraticus/spice-reconcile/internal/detect"
	"github.com/Veraticus/spice-reconcile/internal/importer"
	"github.com/Veraticus/spice-reconcile/internal/matching"
	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/ofx"
	"github.com/Veraticus/spice-reconcile/internal/parser"
	"github.com/Veraticus/spice-reconcile/internal/service"
	"github.com/Veraticus/spice-reconcile/internal/settlement"
)

// Store is the local persistence the pipeline writes to.
type Store interface {
	service.TransactionStore
	service.HistoryStore
	service.PaymentStore
}

// Request is one ingestion: a file plus the caller's flags.
type Request struct {
	File               model.RawFile
	FileType           model.FileType
	BankType           model.BankType
	AutoMatch          bool
	AutoConfirm        bool
	OnlyHighConfidence bool
	SkipDuplicates     bool
	SaveTransactions   bool
}

// NewRequest returns a request for file with bank auto detection and
// duplicates skipped. Every other step is off until enabled.
func NewRequest(file model.RawFile) Request {
	return Request{
		File:           file,
		BankType:       model.BankAuto,
		SkipDuplicates: true,
	}
}

// MatchView is one entry of Response.MatchResults.
type MatchView struct {
	Date            string             `json:"date"`
	MatchedInvoice  *model.InvoiceRef  `json:"matchedInvoice,omitempty"`
	Content         string             `json:"content"`
	CustomerName    string             `json:"customerName,omitempty"`
	ReferenceNumber string             `json:"referenceNumber,omitempty"`
	Confidence      model.Confidence   `json:"confidence"`
	MatchReason     string             `json:"matchReason"`
	Candidates      []model.InvoiceRef `json:"candidates,omitempty"`
	Amount          int64              `json:"amount"`
}

// Response is the outcome of a successful Run. Optional sections are nil
// when the corresponding flag was off.
type Response struct {
	BankInfo                *model.BankInfo      `json:"bankInfo,omitempty"`
	ParseResult             *model.ParseResult   `json:"parseResult"`
	DuplicateCheck          *dedup.Report        `json:"duplicateCheck"`
	TransactionImportResult *importer.Result     `json:"transactionImportResult,omitempty"`
	MatchResults            *[]MatchView         `json:"matchResults,omitempty"`
	ImportResult            *settlement.Result   `json:"importResult,omitempty"`
	History                 *model.ImportHistory `json:"-"`
	ImportID                string               `json:"importId"`
	FileType                model.FileType       `json:"fileType"`
	DetectedBank            model.BankType       `json:"detectedBank,omitempty"`
	Matches                 []model.MatchResult  `json:"-"`
	Success                 bool                 `json:"success"`
}

// Pipeline wires the ingestion stages together. It is safe for concurrent
// use; each Run works on its own data.
type Pipeline struct {
	registry *parser.Registry
	importer *importer.Service
	matcher  *matching.Engine
	settler  *settlement.Service
	invoices service.InvoiceStore
	newID    func() string
	cfg      config.Config
}

// New builds a pipeline from cfg. Transactions, history and payment records
// go to store; invoices are read from and updated through invoices.
func New(cfg *config.Config, store Store, invoices service.InvoiceStore) *Pipeline {
	registry := parser.NewRegistry().
		MustRegister(model.FileTypeCSV, bankcsv.NewParser(cfg.Currency.Exponent)).
		MustRegister(model.FileTypeOFX, ofx.NewParser(cfg.Currency.Exponent))

	return &Pipeline{
		cfg:      *cfg,
		registry: registry,
		importer: importer.NewService(store),
		matcher:  matching.NewEngine(cfg.Matching.Workers),
		settler: settlement.NewService(store, invoices, settlement.Config{
			ConfirmedBy: cfg.Settlement.ConfirmedBy,
			Retry:       cfg.Retry,
			Timeout:     cfg.Settlement.Timeout,
		}),
		invoices: invoices,
		newID:    func() string { return uuid.New().String() },
	}
}

// Importer exposes the import service for history and transaction listing.
func (p *Pipeline) Importer() *importer.Service {
	return p.importer
}

// Run ingests one file.
//
// A missing file, an unrecognized format or a file with no parseable rows
// returns an error wrapping common.ErrValidation or
// common.ErrUnrecognizedFormat. Per-row failures never fail the run; they
// are reported in the sections of the response.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	if len(req.File.Content) == 0 {
		return nil, common.NewUserError("no file was uploaded", common.ErrValidation)
	}
	if req.BankType == "" {
		req.BankType = model.BankAuto
	}

	importID := p.newID()
	logger := slog.With("import_id", importID, "file", req.File.Name)

	fileType := detect.Detect(req.File.Content, req.File.Name, req.FileType)
	if fileType == model.FileTypeUnknown {
		return nil, common.NewUserError("unsupported file format; upload a bank CSV or OFX statement",
			common.ErrUnrecognizedFormat)
	}

	parsed, err := p.registry.Parse(ctx, fileType, req.File.Content, req.BankType)
	if err != nil {
		if errors.Is(err, common.ErrValidation) || errors.Is(err, common.ErrUnrecognizedFormat) {
			return nil, common.NewUserError("failed to parse file", err)
		}
		return nil, fmt.Errorf("parsing %s: %w", req.File.Name, err)
	}

	resp := &Response{
		ImportID:     importID,
		FileType:     fileType,
		DetectedBank: parsed.DetectedBank,
		ParseResult:  parsed,
	}
	if info, ok := parsed.DetectedBank.Info(); ok {
		resp.BankInfo = &info
	}

	history := &model.ImportHistory{
		ImportID:              importID,
		FileName:              req.File.Name,
		FileSize:              fileSize(req.File),
		FileType:              fileType,
		BankType:              parsed.DetectedBank,
		AccountInfo:           parsed.AccountInfo,
		TotalCount:            parsed.TotalCount,
		DepositCount:          parsed.DepositCount,
		WithdrawalCount:       parsed.WithdrawalCount,
		TotalDepositAmount:    parsed.TotalDepositAmount,
		TotalWithdrawalAmount: parsed.TotalWithdrawalAmount,
	}
	resp.History = history

	if !parsed.Success {
		if req.SaveTransactions {
			history.Errors = parsed.Errors
			history.Status = model.ImportFailed
			p.recordHistory(ctx, logger, history)
		}
		return nil, common.NewUserError("failed to parse file", common.ErrUnrecognizedFormat, parsed.Errors...)
	}

	account := parsed.AccountInfo.Key()
	report, err := p.importer.Checker().CheckAccount(ctx, account, parsed.Transactions)
	if err != nil {
		return nil, fmt.Errorf("checking duplicates: %w", err)
	}
	resp.DuplicateCheck = report
	history.DuplicateCount = report.Duplicates

	// Parser row errors stay in the history but not in its status.
	errs := append([]string{}, parsed.Errors...)
	var imported *importer.Result

	if req.SaveTransactions {
		opts := importer.Options{
			ImportID:       importID,
			FileName:       req.File.Name,
			FileType:       fileType,
			BankType:       parsed.DetectedBank,
			Account:        account,
			SkipDuplicates: req.SkipDuplicates,
		}
		imported, err = p.importer.ImportChecked(ctx, report, opts)
		if imported != nil {
			resp.TransactionImportResult = imported
			history.NewTransactionCount = imported.Created
			errs = append(errs, imported.Errors...)
		}
		if err != nil {
			history.Errors = errs
			history.Status = model.ImportFailed
			p.recordHistory(ctx, logger, history)
			return nil, fmt.Errorf("importing transactions: %w", err)
		}
	}

	if req.AutoMatch {
		matches, err := p.match(ctx, parsed.Deposits())
		if err != nil {
			if req.SaveTransactions {
				history.Errors = append(errs, err.Error())
				history.Status = imported.Status(1)
				p.recordHistory(ctx, logger, history)
			}
			return nil, fmt.Errorf("matching deposits: %w", err)
		}
		resp.Matches = matches
		views := matchViews(matches)
		resp.MatchResults = &views

		counts := matching.Count(matches)
		history.MatchedCount = counts.Matched()
		history.HighConfidenceCount = counts.High
	}

	if req.AutoConfirm {
		settled, err := p.settler.CreatePaymentRecordsFromMatches(ctx, resp.Matches, settlement.Options{
			OnlyHighConfidence: req.OnlyHighConfidence,
			AutoConfirm:        true,
		})
		if settled != nil {
			resp.ImportResult = settled
			history.AutoConfirmedCount = settled.Created
		}
		if err != nil {
			if req.SaveTransactions {
				history.Errors = errs
				history.Status = imported.Status(1)
				p.recordHistory(ctx, logger, history)
			}
			return nil, fmt.Errorf("settling matches: %w", err)
		}
	}

	if req.SaveTransactions {
		history.Errors = errs
		history.Status = imported.Status(0)
		p.recordHistory(ctx, logger, history)
	}

	resp.Success = true

	logger.Info("Import finished",
		"file_type", fileType,
		"bank", parsed.DetectedBank,
		"transactions", parsed.TotalCount,
		"duplicates", report.Duplicates,
		"matched", history.MatchedCount,
		"auto_confirmed", history.AutoConfirmedCount)

	return resp, nil
}

// match loads the outstanding invoices and matches deposits against them.
func (p *Pipeline) match(ctx context.Context, deposits []model.ParsedTransaction) ([]model.MatchResult, error) {
	if len(deposits) == 0 {
		return []model.MatchResult{}, nil
	}

	var invoices []model.Invoice
	err := common.WithRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.Invoices.Timeout)
		defer cancel()
		var err error
		invoices, err = p.invoices.OutstandingInvoices(callCtx)
		return err
	}, p.cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("loading outstanding invoices: %w", err)
	}

	return p.matcher.Match(ctx, deposits, invoices)
}

// recordHistory writes the audit record. It runs detached from the request
// context so a cancelled upload still leaves its history behind.
func (p *Pipeline) recordHistory(ctx context.Context, logger *slog.Logger, h *model.ImportHistory) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.importer.CreateImportHistory(ctx, h); err != nil {
		logger.Error("Failed to record import history", "error", err)
	}
}

func matchViews(matches []model.MatchResult) []MatchView {
	views := make([]MatchView, 0, len(matches))
	for _, m := range matches {
		tx := m.Transaction
		views = append(views, MatchView{
			Date:            tx.Date.Format(time.DateOnly),
			Content:         tx.Content,
			Amount:          tx.Amount,
			CustomerName:    tx.CustomerName,
			ReferenceNumber: tx.ReferenceNumber,
			MatchedInvoice:  m.Invoice,
			Candidates:      m.Candidates,
			Confidence:      m.Confidence,
			MatchReason:     m.MatchReason,
		})
	}
	return views
}

func fileSize(f model.RawFile) int64 {
	if f.Size > 0 {
		return f.Size
	}
	return int64(len(f.Content))
}
