package dedup

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-reconcile/internal/fingerprint"
	"github.com/Veraticus/spice-reconcile/internal/model"
)

type fakeLookup struct {
	byFingerprint map[string]*model.StoredTransaction
	byFitID       map[string]*model.StoredTransaction
	err           error
	fitAccount    string
	fitCalls      int
}

func (f *fakeLookup) FindByFingerprints(_ context.Context, fps []string) (map[string]*model.StoredTransaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]*model.StoredTransaction{}
	for _, fp := range fps {
		if tx, ok := f.byFingerprint[fp]; ok {
			out[fp] = tx
		}
	}
	return out, nil
}

func (f *fakeLookup) FindByFitIDs(_ context.Context, account string, ids []string) (map[string]*model.StoredTransaction, error) {
	f.fitCalls++
	out := map[string]*model.StoredTransaction{}
	if account != f.fitAccount {
		return out, nil
	}
	for _, id := range ids {
		if tx, ok := f.byFitID[id]; ok {
			out[id] = tx
		}
	}
	return out, nil
}

func deposit(d int, content string, amount int64) model.ParsedTransaction {
	return model.ParsedTransaction{
		Date:     time.Date(2024, 4, d, 0, 0, 0, 0, time.UTC),
		Content:  content,
		Amount:   amount,
		Type:     model.TypeForAmount(amount),
		BankType: model.BankSBI,
	}
}

func TestCheck_StoreDuplicates(t *testing.T) {
	a := deposit(1, "振込 アクメ", 120000)
	b := deposit(2, "振込 グローベックス", 5000)

	stored := &model.StoredTransaction{
		ID:                "tx-1",
		FileName:          "march.csv",
		ImportedAt:        time.Date(2024, 4, 3, 9, 0, 0, 0, time.UTC),
		Fingerprint:       fingerprint.Of(a),
		ParsedTransaction: a,
	}
	checker := NewChecker(&fakeLookup{byFingerprint: map[string]*model.StoredTransaction{stored.Fingerprint: stored}})

	report, err := checker.Check(context.Background(), []model.ParsedTransaction{a, b})
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalChecked)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 1, report.New)
	require.Len(t, report.Rows, 2)
	assert.True(t, report.Rows[0].IsDuplicate)
	assert.Same(t, stored, report.Rows[0].Existing)
	assert.False(t, report.Rows[0].WithinBatch)
	assert.False(t, report.Rows[1].IsDuplicate)

	require.Len(t, report.Preview, 1)
	assert.Equal(t, "march.csv", report.Preview[0].ExistingFileName)
	require.NotNil(t, report.Preview[0].ExistingImportDate)
	assert.True(t, stored.ImportedAt.Equal(*report.Preview[0].ExistingImportDate))

	fresh := report.NewTransactions()
	require.Len(t, fresh, 1)
	assert.Equal(t, b.Content, fresh[0].Transaction.Content)

	assert.True(t, report.Results[fingerprint.Of(a)].IsDuplicate)
	assert.False(t, report.Results[fingerprint.Of(b)].IsDuplicate)
}

func TestCheck_WithinBatch(t *testing.T) {
	a := deposit(1, "振込 アクメ", 120000)
	variant := a
	variant.Content = "振込　ｱｸﾒ"

	report, err := NewChecker(&fakeLookup{}).Check(context.Background(), []model.ParsedTransaction{a, variant, a})
	require.NoError(t, err)

	assert.Equal(t, 1, report.New)
	assert.Equal(t, 2, report.Duplicates)
	assert.False(t, report.Rows[0].IsDuplicate)
	assert.True(t, report.Rows[1].WithinBatch)
	assert.True(t, report.Rows[2].WithinBatch)
	assert.Nil(t, report.Rows[1].Existing)
	assert.Nil(t, report.Preview[0].ExistingImportDate)
}

func TestCheck_FitID(t *testing.T) {
	tx := model.ParsedTransaction{
		Date:            time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Content:         "ACME CORP",
		ReferenceNumber: "FIT-1",
		Amount:          5000,
		Type:            model.TypeDeposit,
		BankType:        model.BankOFX,
	}
	// Same FITID, different description: the bank re-rendered the memo.
	stored := &model.StoredTransaction{ID: "tx-1", FitID: "FIT-1"}
	lookup := &fakeLookup{byFitID: map[string]*model.StoredTransaction{"FIT-1": stored}}

	report, err := NewChecker(lookup).Check(context.Background(), []model.ParsedTransaction{tx})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Duplicates)
	assert.Same(t, stored, report.Rows[0].Existing)
	assert.Equal(t, "FIT-1", report.Rows[0].FitID)

	// CSV rows never carry a FITID, so the FITID table is not consulted.
	csvLookup := &fakeLookup{}
	_, err = NewChecker(csvLookup).Check(context.Background(), []model.ParsedTransaction{deposit(1, "x", 1)})
	require.NoError(t, err)
	assert.Zero(t, csvLookup.fitCalls)
}

func TestCheckAccount(t *testing.T) {
	tx := model.ParsedTransaction{
		Date:            time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Content:         "DEPOSIT",
		ReferenceNumber: "1",
		Amount:          70000,
		Type:            model.TypeDeposit,
		BankType:        model.BankOFX,
	}
	stored := &model.StoredTransaction{ID: "tx-1", FitID: "1", Account: "0001/111"}

	tests := []struct {
		name          string
		account       string
		wantDuplicate bool
	}{
		{name: "same account", account: "0001/111", wantDuplicate: true},
		{name: "other account", account: "0001/999"},
		{name: "no account", account: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &fakeLookup{
				byFitID:    map[string]*model.StoredTransaction{"1": stored},
				fitAccount: stored.Account,
			}
			report, err := NewChecker(lookup).CheckAccount(context.Background(), tt.account, []model.ParsedTransaction{tx})
			require.NoError(t, err)
			require.Len(t, report.Rows, 1)
			assert.Equal(t, tt.wantDuplicate, report.Rows[0].IsDuplicate)
			assert.Equal(t, tt.account, report.Rows[0].Account)
			assert.Equal(t, 1, lookup.fitCalls)
		})
	}
}

func TestCheck_PreviewLimit(t *testing.T) {
	txs := make([]model.ParsedTransaction, 0, 2*(PreviewLimit+5))
	for i := 0; i < PreviewLimit+5; i++ {
		tx := deposit(1, fmt.Sprintf("row %d", i), int64(i+1))
		txs = append(txs, tx, tx)
	}

	report, err := NewChecker(&fakeLookup{}).Check(context.Background(), txs)
	require.NoError(t, err)
	assert.Equal(t, PreviewLimit+5, report.Duplicates)
	assert.Len(t, report.Preview, PreviewLimit)
}

func TestCheck_Empty(t *testing.T) {
	report, err := NewChecker(&fakeLookup{err: errors.New("unused")}).Check(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, report.TotalChecked)
	assert.NotNil(t, report.Preview)
}

func TestCheck_StoreError(t *testing.T) {
	boom := errors.New("database is locked")
	_, err := NewChecker(&fakeLookup{err: boom}).Check(context.Background(), []model.ParsedTransaction{deposit(1, "x", 1)})
	assert.ErrorIs(t, err, boom)
}
