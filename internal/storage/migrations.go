package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 5

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Bank transactions",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS bank_transactions (
					id TEXT PRIMARY KEY,
					fingerprint TEXT NOT NULL,
					fit_id TEXT NOT NULL DEFAULT '',
					date TEXT NOT NULL,
					content TEXT NOT NULL,
					amount INTEGER NOT NULL CHECK (amount <> 0),
					type TEXT NOT NULL CHECK (type IN ('deposit', 'withdrawal')),
					balance INTEGER,
					reference_number TEXT NOT NULL DEFAULT '',
					customer_name TEXT NOT NULL DEFAULT '',
					memo TEXT NOT NULL DEFAULT '',
					bank_type TEXT NOT NULL,
					import_id TEXT NOT NULL,
					file_name TEXT NOT NULL DEFAULT '',
					file_type TEXT NOT NULL DEFAULT '',
					reimport INTEGER NOT NULL DEFAULT 0,
					imported_at TEXT NOT NULL
				)`,
				// Only the first copy of a fingerprint is unique; explicit
				// re-imports are stored alongside it with reimport = 1.
				`CREATE UNIQUE INDEX idx_bank_transactions_fingerprint
					ON bank_transactions(fingerprint) WHERE reimport = 0`,
				`CREATE INDEX idx_bank_transactions_fit_id ON bank_transactions(fit_id)`,
				`CREATE INDEX idx_bank_transactions_import_id ON bank_transactions(import_id)`,
				`CREATE INDEX idx_bank_transactions_date ON bank_transactions(date)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Import history",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS import_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					import_id TEXT UNIQUE NOT NULL,
					file_name TEXT NOT NULL,
					file_size INTEGER NOT NULL DEFAULT 0,
					file_type TEXT NOT NULL,
					bank_type TEXT NOT NULL DEFAULT '',
					bank_name TEXT NOT NULL DEFAULT '',
					account_info TEXT,
					total_count INTEGER NOT NULL DEFAULT 0,
					deposit_count INTEGER NOT NULL DEFAULT 0,
					withdrawal_count INTEGER NOT NULL DEFAULT 0,
					total_deposit_amount INTEGER NOT NULL DEFAULT 0,
					total_withdrawal_amount INTEGER NOT NULL DEFAULT 0,
					matched_count INTEGER NOT NULL DEFAULT 0,
					high_confidence_count INTEGER NOT NULL DEFAULT 0,
					auto_confirmed_count INTEGER NOT NULL DEFAULT 0,
					duplicate_count INTEGER NOT NULL DEFAULT 0,
					new_transaction_count INTEGER NOT NULL DEFAULT 0,
					status TEXT NOT NULL CHECK (status IN ('completed', 'partial', 'failed')),
					errors TEXT NOT NULL DEFAULT '[]',
					created_at TEXT NOT NULL
				)`,
				`CREATE INDEX idx_import_history_created_at ON import_history(created_at)`,
				`CREATE INDEX idx_import_history_status ON import_history(status)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Invoices",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS invoices (
					id TEXT PRIMARY KEY,
					invoice_number TEXT UNIQUE NOT NULL,
					customer_name TEXT NOT NULL DEFAULT '',
					total_amount INTEGER NOT NULL,
					paid_amount INTEGER NOT NULL DEFAULT 0,
					status TEXT NOT NULL DEFAULT 'unpaid'
						CHECK (status IN ('unpaid', 'partially_paid', 'paid')),
					paid_date TEXT,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_invoices_status ON invoices(status)`,
				`CREATE TRIGGER update_invoices_updated_at
					AFTER UPDATE ON invoices
					FOR EACH ROW
					BEGIN
						UPDATE invoices SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
					END`,
			})
		},
	},
	{
		Version:     4,
		Description: "Payment records",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS payment_records (
					id TEXT PRIMARY KEY,
					payment_number TEXT UNIQUE NOT NULL,
					invoice_id TEXT NOT NULL,
					fingerprint TEXT NOT NULL,
					amount INTEGER NOT NULL,
					payment_date TEXT NOT NULL,
					method TEXT NOT NULL,
					status TEXT NOT NULL,
					confirmed_by TEXT NOT NULL DEFAULT '',
					notes TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL,
					UNIQUE (invoice_id, fingerprint)
				)`,
				`CREATE INDEX idx_payment_records_fingerprint ON payment_records(fingerprint)`,
			})
		},
	},
	{
		Version:     5,
		Description: "Account scoped FITIDs",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`ALTER TABLE bank_transactions ADD COLUMN account TEXT NOT NULL DEFAULT ''`,
				`CREATE INDEX idx_bank_transactions_account_fit_id ON bank_transactions(account, fit_id)`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if version != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, version)
	}

	return nil
}

// SchemaVersion returns the applied schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
