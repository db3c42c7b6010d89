package model

import "time"

// Confidence is the ordinal certainty of a transaction to invoice match.
type Confidence string

// Confidence tiers, weakest first.
const (
	ConfidenceNone   Confidence = "none"
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Rank orders confidence tiers; unknown values rank below none.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	case ConfidenceNone:
		return 0
	default:
		return -1
	}
}

// AtLeast reports whether c is as strong as other.
func (c Confidence) AtLeast(other Confidence) bool {
	return c.Rank() >= other.Rank()
}

// InvoiceStatus is the payment state of an invoice.
type InvoiceStatus string

// Invoice statuses.
const (
	InvoiceUnpaid        InvoiceStatus = "unpaid"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
)

// Invoice is the receivable side of a match. Its lifecycle belongs to the
// invoice collaborator; this module only reads it and records payments.
type Invoice struct {
	PaidDate      *time.Time    `json:"paidDate,omitempty" yaml:"paidDate,omitempty"`
	ID            string        `json:"id" yaml:"id"`
	InvoiceNumber string        `json:"invoiceNumber" yaml:"invoiceNumber"`
	CustomerName  string        `json:"customerName" yaml:"customerName"`
	Status        InvoiceStatus `json:"status" yaml:"status"`
	TotalAmount   int64         `json:"totalAmount" yaml:"totalAmount"`
	PaidAmount    int64         `json:"paidAmount" yaml:"paidAmount"`
}

// Outstanding returns the unpaid balance.
func (i Invoice) Outstanding() int64 {
	return i.TotalAmount - i.PaidAmount
}

// IsOutstanding reports whether the invoice can still receive payments.
func (i Invoice) IsOutstanding() bool {
	return i.Outstanding() > 0
}

// Ref returns the short reference used in match output.
func (i Invoice) Ref() InvoiceRef {
	return InvoiceRef{
		ID:            i.ID,
		InvoiceNumber: i.InvoiceNumber,
		CustomerName:  i.CustomerName,
		Outstanding:   i.Outstanding(),
	}
}

// InvoiceRef identifies an invoice in match results.
type InvoiceRef struct {
	ID            string `json:"id"`
	InvoiceNumber string `json:"invoiceNumber"`
	CustomerName  string `json:"customerName"`
	Outstanding   int64  `json:"outstandingAmount"`
}

// MatchResult pairs one deposit with at most one invoice.
type MatchResult struct {
	Invoice     *InvoiceRef       `json:"matchedInvoice,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	Confidence  Confidence        `json:"confidence"`
	MatchReason string            `json:"matchReason"`
	Candidates  []InvoiceRef      `json:"candidates,omitempty"`
	Transaction ParsedTransaction `json:"transaction"`
}
