package model

import "time"

// PaymentMethod describes how a payment arrived.
type PaymentMethod string

// PaymentBankTransfer is the only method produced by settlement.
const PaymentBankTransfer PaymentMethod = "bank_transfer"

// PaymentStatus is the confirmation state of a payment record.
type PaymentStatus string

// Payment statuses.
const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
)

// PaymentRecord links an invoice to the bank transaction that paid it.
// At most one record exists per (InvoiceID, Fingerprint).
type PaymentRecord struct {
	PaymentDate   time.Time     `json:"paymentDate"`
	CreatedAt     time.Time     `json:"createdAt"`
	ID            string        `json:"id"`
	PaymentNumber string        `json:"paymentNumber"`
	InvoiceID     string        `json:"invoiceId"`
	Fingerprint   string        `json:"fingerprint"`
	Method        PaymentMethod `json:"paymentMethod"`
	Status        PaymentStatus `json:"status"`
	ConfirmedBy   string        `json:"confirmedBy,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	Amount        int64         `json:"amount"`
}
