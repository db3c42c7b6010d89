// Package testutil provides shared fixtures for package tests: migrated
// throwaway databases and builders for statement data.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/storage"
)

// TestDB wraps a migrated in-memory database.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database seeded with invoices.
// It automatically handles migrations and cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t,
//		testutil.Invoice("inv-1", "INV-001", "Acme", 120000),
//	)
func SetupTestDB(t *testing.T, invoices ...model.Invoice) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	db := &TestDB{Storage: store, t: t}
	db.SeedInvoices(invoices...)
	return db
}

// SeedInvoices saves invoices or fails the test.
func (db *TestDB) SeedInvoices(invoices ...model.Invoice) {
	db.t.Helper()
	for i := range invoices {
		if err := db.Storage.SaveInvoice(context.Background(), &invoices[i]); err != nil {
			db.t.Fatalf("failed to seed invoice %q: %v", invoices[i].InvoiceNumber, err)
		}
	}
}

// MustGetInvoice returns the stored invoice or fails the test.
func (db *TestDB) MustGetInvoice(id string) *model.Invoice {
	db.t.Helper()
	inv, err := db.Storage.GetInvoice(context.Background(), id)
	if err != nil {
		db.t.Fatalf("failed to get invoice %q: %v", id, err)
	}
	return inv
}

// Invoice builds an unpaid invoice.
func Invoice(id, number, customer string, total int64) model.Invoice {
	return model.Invoice{
		ID:            id,
		InvoiceNumber: number,
		CustomerName:  customer,
		TotalAmount:   total,
		Status:        model.InvoiceUnpaid,
	}
}

// Date returns a UTC civil date.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Deposit builds a valid CSV deposit line.
func Deposit(date time.Time, content string, amount int64) model.ParsedTransaction {
	return model.ParsedTransaction{
		Date:     date,
		Content:  content,
		Amount:   amount,
		Type:     model.TypeForAmount(amount),
		BankType: model.BankSBI,
	}
}

// Withdrawal builds a valid CSV withdrawal line; amount is the positive size.
func Withdrawal(date time.Time, content string, amount int64) model.ParsedTransaction {
	return Deposit(date, content, -amount)
}
