// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/spice-reconcile/internal/model"
)

// TransactionFilter defines filtering options for stored transaction queries.
type TransactionFilter struct {
	From     *time.Time
	To       *time.Time
	ImportID string
	Type     model.TransactionType
	Limit    int
	Offset   int
}

// HistoryFilter defines filtering options for import history queries.
type HistoryFilter struct {
	Status model.ImportStatus
	Limit  int
	Offset int
}

// TransactionStore persists imported bank transactions.
type TransactionStore interface {
	// InsertTransaction stores one transaction. A fingerprint collision with a
	// non-reimport row returns common.ErrDuplicateEntry.
	InsertTransaction(ctx context.Context, txn *model.StoredTransaction) error
	FindByFingerprints(ctx context.Context, fingerprints []string) (map[string]*model.StoredTransaction, error)
	// FindByFitIDs looks FITIDs up within one account; FITIDs are only
	// unique per account.
	FindByFitIDs(ctx context.Context, account string, fitIDs []string) (map[string]*model.StoredTransaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]model.StoredTransaction, int, error)
}

// HistoryStore persists import audit records.
type HistoryStore interface {
	CreateImportHistory(ctx context.Context, history *model.ImportHistory) error
	ListImportHistory(ctx context.Context, filter HistoryFilter) ([]model.ImportHistory, int, error)
}

// PaymentStore persists payment records.
type PaymentStore interface {
	// CreatePaymentRecord stores a record, assigning the next PR-YYYYMMDD-NNN
	// payment number when PaymentNumber is empty. A second record for the
	// same (invoice, fingerprint) pair returns common.ErrDuplicateEntry.
	CreatePaymentRecord(ctx context.Context, record *model.PaymentRecord) error
	GetPaymentRecord(ctx context.Context, invoiceID, fingerprint string) (*model.PaymentRecord, error)
	ListPaymentRecords(ctx context.Context, invoiceID string) ([]model.PaymentRecord, error)
	ConfirmedPaymentsTotal(ctx context.Context, invoiceID string) (int64, error)
}

// InvoiceStore is the narrow contract with the external invoice owner.
type InvoiceStore interface {
	OutstandingInvoices(ctx context.Context) ([]model.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	RecordPayment(ctx context.Context, id string, update PaymentUpdate) error
}

// PaymentUpdate is the invoice state after a payment was recorded.
type PaymentUpdate struct {
	PaidDate   *time.Time          `json:"paidDate,omitempty"`
	Status     model.InvoiceStatus `json:"status"`
	PaidAmount int64               `json:"paidAmount"`
}

// Storage is the full persistence layer backing the pipeline.
type Storage interface {
	TransactionStore
	HistoryStore
	PaymentStore
	InvoiceStore

	SaveInvoice(ctx context.Context, invoice *model.Invoice) error
	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}
