package model

import "time"

// AccountInfo is statement metadata; every field is optional.
type AccountInfo struct {
	PeriodStart   *time.Time `json:"periodStart,omitempty"`
	PeriodEnd     *time.Time `json:"periodEnd,omitempty"`
	BankID        string     `json:"bankId,omitempty"`
	BranchID      string     `json:"branchId,omitempty"`
	AccountNumber string     `json:"accountNumber,omitempty"`
	AccountType   string     `json:"accountType,omitempty"`
}

// Key identifies the account for FITID scoping: bank and account number,
// or "" when the statement does not name an account.
func (a *AccountInfo) Key() string {
	if a == nil || a.AccountNumber == "" {
		return ""
	}
	if a.BankID == "" {
		return a.AccountNumber
	}
	return a.BankID + "/" + a.AccountNumber
}

// ParseResult is the output of any bank parser.
type ParseResult struct {
	AccountInfo           *AccountInfo        `json:"accountInfo,omitempty"`
	DetectedBank          BankType            `json:"detectedBank,omitempty"`
	Transactions          []ParsedTransaction `json:"-"`
	Errors                []string            `json:"errors"`
	TotalCount            int                 `json:"totalCount"`
	DepositCount          int                 `json:"depositCount"`
	WithdrawalCount       int                 `json:"withdrawalCount"`
	TotalDepositAmount    int64               `json:"totalDepositAmount"`
	TotalWithdrawalAmount int64               `json:"totalWithdrawalAmount"`
	Success               bool                `json:"success"`
}

// Add appends a transaction and updates the running totals.
func (r *ParseResult) Add(tx ParsedTransaction) {
	r.Transactions = append(r.Transactions, tx)
	r.TotalCount++
	if tx.IsDeposit() {
		r.DepositCount++
		r.TotalDepositAmount += tx.Amount
	} else {
		r.WithdrawalCount++
		r.TotalWithdrawalAmount += tx.AbsAmount()
	}
}

// Finish sets Success; a parse succeeds if at least one transaction survived.
func (r *ParseResult) Finish() *ParseResult {
	if r.Errors == nil {
		r.Errors = []string{}
	}
	r.Success = len(r.Transactions) > 0
	return r
}

// Deposits returns only the deposit transactions.
func (r *ParseResult) Deposits() []ParsedTransaction {
	deposits := make([]ParsedTransaction, 0, r.DepositCount)
	for _, tx := range r.Transactions {
		if tx.IsDeposit() {
			deposits = append(deposits, tx)
		}
	}
	return deposits
}

// ImportStatus is the outcome of one import invocation.
type ImportStatus string

// Import statuses.
const (
	ImportCompleted ImportStatus = "completed"
	ImportPartial   ImportStatus = "partial"
	ImportFailed    ImportStatus = "failed"
)

// ImportHistory is the audit record of one import invocation.
// It is written once, at the end of the invocation.
type ImportHistory struct {
	CreatedAt             time.Time    `json:"createdAt"`
	AccountInfo           *AccountInfo `json:"accountInfo,omitempty"`
	ImportID              string       `json:"importId"`
	FileName              string       `json:"fileName"`
	FileType              FileType     `json:"fileType"`
	BankType              BankType     `json:"bankType,omitempty"`
	BankName              string       `json:"bankName,omitempty"`
	Status                ImportStatus `json:"status"`
	Errors                []string     `json:"errors"`
	FileSize              int64        `json:"fileSize"`
	TotalCount            int          `json:"totalCount"`
	DepositCount          int          `json:"depositCount"`
	WithdrawalCount       int          `json:"withdrawalCount"`
	TotalDepositAmount    int64        `json:"totalDepositAmount"`
	TotalWithdrawalAmount int64        `json:"totalWithdrawalAmount"`
	MatchedCount          int          `json:"matchedCount"`
	HighConfidenceCount   int          `json:"highConfidenceCount"`
	AutoConfirmedCount    int          `json:"autoConfirmedCount"`
	DuplicateCount        int          `json:"duplicateCount"`
	NewTransactionCount   int          `json:"newTransactionCount"`
}

// RawFile is an uploaded statement; it is consumed once and never stored.
type RawFile struct {
	Name        string
	ContentType string
	Content     []byte
	Size        int64
}
