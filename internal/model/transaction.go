package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EmptyContentPlaceholder replaces a blank bank description.
const EmptyContentPlaceholder = "(摘要なし)"

// TransactionType classifies a statement line by the sign of its amount.
type TransactionType string

// Transaction types.
const (
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
)

// TypeForAmount derives the transaction type from a signed amount.
func TypeForAmount(amount int64) TransactionType {
	if amount > 0 {
		return TypeDeposit
	}
	return TypeWithdrawal
}

// FileType is the container format of an uploaded statement.
type FileType string

// File types.
const (
	FileTypeCSV     FileType = "csv"
	FileTypeOFX     FileType = "ofx"
	FileTypeUnknown FileType = "unknown"
)

// ParseFileType converts a caller supplied string to a FileType.
// Anything other than csv or ofx yields FileTypeUnknown.
func ParseFileType(s string) FileType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FileTypeCSV
	case "ofx", "qfx":
		return FileTypeOFX
	default:
		return FileTypeUnknown
	}
}

// Transaction validation errors.
var (
	ErrZeroAmount   = errors.New("amount cannot be zero")
	ErrMissingDate  = errors.New("missing date")
	ErrEmptyContent = errors.New("content cannot be empty")
	ErrTypeMismatch = errors.New("transaction type does not match amount sign")
)

// ParsedTransaction is one normalized bank statement line.
type ParsedTransaction struct {
	Date            time.Time       `json:"date"`
	Balance         *int64          `json:"balance,omitempty"`
	Content         string          `json:"content"`
	ReferenceNumber string          `json:"referenceNumber,omitempty"`
	CustomerName    string          `json:"customerName,omitempty"`
	Memo            string          `json:"memo,omitempty"`
	Type            TransactionType `json:"type"`
	BankType        BankType        `json:"bankType"`
	Amount          int64           `json:"amount"` // signed minor units; > 0 is a deposit
}

// IsDeposit reports whether money came into the account.
func (t ParsedTransaction) IsDeposit() bool {
	return t.Amount > 0
}

// AbsAmount returns the unsigned amount.
func (t ParsedTransaction) AbsAmount() int64 {
	if t.Amount < 0 {
		return -t.Amount
	}
	return t.Amount
}

// Validate checks the invariants every parser must uphold.
func (t ParsedTransaction) Validate() error {
	if t.Amount == 0 {
		return ErrZeroAmount
	}
	if t.Date.IsZero() {
		return ErrMissingDate
	}
	if strings.TrimSpace(t.Content) == "" {
		return ErrEmptyContent
	}
	if t.Type != TypeForAmount(t.Amount) {
		return fmt.Errorf("%w: %s with amount %d", ErrTypeMismatch, t.Type, t.Amount)
	}
	return nil
}

// CivilDate truncates a time to its calendar date at UTC midnight.
func CivilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StoredTransaction is a ParsedTransaction persisted by an import.
// It is never mutated after creation.
type StoredTransaction struct {
	ImportedAt  time.Time `json:"importedAt"`
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	FitID       string    `json:"fitId,omitempty"`
	Account     string    `json:"account,omitempty"`
	ImportID    string    `json:"importId"`
	FileName    string    `json:"fileName"`
	FileType    FileType  `json:"fileType"`
	ParsedTransaction
	Reimport bool `json:"reimport"`
}

// DuplicatePreview summarizes one duplicate row for callers.
type DuplicatePreview struct {
	Date               time.Time  `json:"date"`
	ExistingImportDate *time.Time `json:"existingImportDate,omitempty"`
	Content            string     `json:"content"`
	ExistingFileName   string     `json:"existingFileName,omitempty"`
	Amount             int64      `json:"amount"`
}
