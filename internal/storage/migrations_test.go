package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)
	assert.Len(t, migrations, ExpectedSchemaVersion)

	// Re-running is a no-op.
	require.NoError(t, store.Migrate(ctx))

	for _, name := range []string{"bank_transactions", "import_history", "invoices", "payment_records"} {
		var count int
		err := store.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s", name)
	}

	var indexSQL string
	err = store.db.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'index' AND name = 'idx_bank_transactions_fingerprint'`).Scan(&indexSQL)
	require.NoError(t, err)
	assert.Contains(t, indexSQL, "WHERE reimport = 0")

	err = store.db.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'index' AND name = 'idx_bank_transactions_account_fit_id'`).Scan(&indexSQL)
	require.NoError(t, err)
	assert.Contains(t, indexSQL, "(account, fit_id)")
}

func TestMigrate_VersionsAreSequential(t *testing.T) {
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Description)
	}
}

func TestInvoicesUpdatedAtTrigger(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx, `INSERT INTO invoices (id, invoice_number, total_amount, updated_at)
		VALUES ('inv-1', 'INV-001', 100, '2000-01-01 00:00:00')`)
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `UPDATE invoices SET paid_amount = 100 WHERE id = 'inv-1'`)
	require.NoError(t, err)

	var updatedAt string
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT updated_at FROM invoices WHERE id = 'inv-1'`).Scan(&updatedAt))
	assert.NotEqual(t, "2000-01-01 00:00:00", updatedAt)
}
