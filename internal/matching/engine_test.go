package matching

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/testutil"
)

var april2 = testutil.Date(2024, 4, 2)

func TestMatch_AmountAndReference(t *testing.T) {
	withdrawal := testutil.Withdrawal(testutil.Date(2024, 4, 1), "ATM withdrawal", 5000)
	deposit := testutil.Deposit(april2, "Acme Corp payment", 120000)
	deposit.ReferenceNumber = "INV-100"

	invoices := []model.Invoice{testutil.Invoice("inv-100", "INV-100", "Acme Corporation", 120000)}

	results, err := NewEngine(2).Match(context.Background(), []model.ParsedTransaction{withdrawal, deposit}, invoices)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, model.TypeDeposit, r.Transaction.Type)
	assert.Equal(t, model.ConfidenceHigh, r.Confidence)
	require.NotNil(t, r.Invoice)
	assert.Equal(t, "inv-100", r.Invoice.ID)
	assert.Equal(t, int64(120000), r.Invoice.Outstanding)
	assert.Contains(t, r.MatchReason, "reference number")
	assert.Contains(t, r.MatchReason, "INV-100")
	assert.NotEmpty(t, r.Fingerprint)
}

func TestMatch_Ambiguous(t *testing.T) {
	deposit := testutil.Deposit(april2, "振込 ヤマダタロウ", 50000)
	deposit.CustomerName = "ヤマダタロウ"
	invoices := []model.Invoice{
		testutil.Invoice("b", "INV-202", "Globex", 50000),
		testutil.Invoice("a", "INV-201", "Initech", 50000),
	}

	results, err := NewEngine(0).Match(context.Background(), []model.ParsedTransaction{deposit}, invoices)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, model.ConfidenceLow, r.Confidence)
	assert.Nil(t, r.Invoice)
	assert.Contains(t, r.MatchReason, "INV-201")
	assert.Contains(t, r.MatchReason, "INV-202")
	require.Len(t, r.Candidates, 2)
	assert.Equal(t, "INV-201", r.Candidates[0].InvoiceNumber)
}

func TestMatch_Rules(t *testing.T) {
	tests := []struct {
		name        string
		tx          model.ParsedTransaction
		invoices    []model.Invoice
		want        model.Confidence
		wantInvoice string
	}{
		{
			name: "reference in description, full-width",
			tx:   testutil.Deposit(april2, "振込 ＩＮＶ－１００ アクメ", 1000),
			invoices: []model.Invoice{
				testutil.Invoice("x", "INV-099", "Other", 1000),
				testutil.Invoice("y", "INV-100", "Other", 1000),
			},
			want:        model.ConfidenceHigh,
			wantInvoice: "INV-100",
		},
		{
			name:        "reference without separators",
			tx:          testutil.Deposit(april2, "INV2024001 ACME", 1000),
			invoices:    []model.Invoice{testutil.Invoice("x", "INV-2024-001", "Someone", 1000), testutil.Invoice("z", "INV-2024-002", "Someone", 1000)},
			want:        model.ConfidenceHigh,
			wantInvoice: "INV-2024-001",
		},
		{
			name: "customer name with corporate affixes",
			tx: func() model.ParsedTransaction {
				tx := testutil.Deposit(april2, "ﾌﾘｺﾐ ｱｸﾒ", 3000)
				tx.CustomerName = "ｱｸﾒ"
				return tx
			}(),
			invoices: []model.Invoice{
				testutil.Invoice("x", "INV-001", "グローベックス株式会社", 3000),
				testutil.Invoice("y", "INV-002", "株式会社アクメ", 3000),
			},
			want:        model.ConfidenceHigh,
			wantInvoice: "INV-002",
		},
		{
			name:        "latin name token overlap",
			tx:          testutil.Deposit(april2, "Payment from ACME", 3000),
			invoices:    []model.Invoice{testutil.Invoice("x", "INV-001", "Globex", 3000), testutil.Invoice("y", "INV-002", "Acme Inc.", 3000)},
			want:        model.ConfidenceHigh,
			wantInvoice: "INV-002",
		},
		{
			name: "longer invoice number is not a prefix match",
			tx:   testutil.Deposit(april2, "Payment INV-1000", 50000),
			invoices: []model.Invoice{
				testutil.Invoice("x", "INV-100", "Someone", 50000),
				testutil.Invoice("y", "INV-1000", "Someone", 50000),
			},
			want:        model.ConfidenceHigh,
			wantInvoice: "INV-1000",
		},
		{
			name: "generic transfer words are not a name match",
			tx:   testutil.Deposit(april2, "Bank transfer payment", 9000),
			invoices: []model.Invoice{
				testutil.Invoice("x", "INV-001", "Transfer Logistics", 9000),
				testutil.Invoice("y", "INV-002", "Payment Partners", 9000),
			},
			want: model.ConfidenceLow,
		},
		{
			name:        "single amount match",
			tx:          testutil.Deposit(april2, "振込 ヤマダ", 7000),
			invoices:    []model.Invoice{testutil.Invoice("x", "INV-001", "Globex", 7000), testutil.Invoice("y", "INV-002", "Globex", 8000)},
			want:        model.ConfidenceMedium,
			wantInvoice: "INV-001",
		},
		{
			name:     "no amount match",
			tx:       testutil.Deposit(april2, "振込 ヤマダ", 7001),
			invoices: []model.Invoice{testutil.Invoice("x", "INV-001", "Globex", 7000)},
			want:     model.ConfidenceNone,
		},
		{
			name: "outstanding balance, not total",
			tx:   testutil.Deposit(april2, "振込 ヤマダ", 4000),
			invoices: []model.Invoice{{
				ID: "x", InvoiceNumber: "INV-001", CustomerName: "Globex",
				TotalAmount: 10000, PaidAmount: 6000, Status: model.InvoicePartiallyPaid,
			}},
			want:        model.ConfidenceMedium,
			wantInvoice: "INV-001",
		},
		{
			name: "paid invoices are ignored",
			tx:   testutil.Deposit(april2, "INV-001", 5000),
			invoices: []model.Invoice{{
				ID: "x", InvoiceNumber: "INV-001", TotalAmount: 5000, PaidAmount: 5000, Status: model.InvoicePaid,
			}},
			want: model.ConfidenceNone,
		},
		{
			name: "no invoices",
			tx:   testutil.Deposit(april2, "振込 ヤマダ", 5000),
			want: model.ConfidenceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := NewEngine(4).Match(context.Background(), []model.ParsedTransaction{tt.tx}, tt.invoices)
			require.NoError(t, err)
			require.Len(t, results, 1)

			r := results[0]
			assert.Equal(t, tt.want, r.Confidence, r.MatchReason)
			if tt.wantInvoice == "" {
				assert.Nil(t, r.Invoice)
				return
			}
			require.NotNil(t, r.Invoice)
			assert.Equal(t, tt.wantInvoice, r.Invoice.InvoiceNumber)
		})
	}
}

func TestMatch_ReferenceNeverScoresBelowAmountOnly(t *testing.T) {
	invoices := []model.Invoice{
		testutil.Invoice("a", "INV-001", "Globex", 9000),
		testutil.Invoice("b", "INV-002", "Initech", 9000),
	}
	plain := testutil.Deposit(april2, "振込 ヤマダ", 9000)
	withRef := plain
	withRef.ReferenceNumber = "INV-002"

	results, err := NewEngine(2).Match(context.Background(), []model.ParsedTransaction{plain, withRef}, invoices)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[1].Confidence.AtLeast(results[0].Confidence))
	assert.Equal(t, model.ConfidenceHigh, results[1].Confidence)
}

func TestMatch_PreservesInputOrder(t *testing.T) {
	var txs []model.ParsedTransaction
	var invoices []model.Invoice
	for i := 1; i <= 50; i++ {
		txs = append(txs, testutil.Deposit(april2, fmt.Sprintf("row %d", i), int64(i*100)))
		invoices = append(invoices, testutil.Invoice(fmt.Sprintf("inv-%d", i), fmt.Sprintf("INV-%03d", i), "Globex", int64(i*100)))
	}

	results, err := NewEngine(3).Match(context.Background(), txs, invoices)
	require.NoError(t, err)
	require.Len(t, results, 50)
	for i, r := range results {
		assert.Equal(t, txs[i].Amount, r.Transaction.Amount)
		require.NotNil(t, r.Invoice)
		assert.Equal(t, fmt.Sprintf("INV-%03d", i+1), r.Invoice.InvoiceNumber)
	}

	counts := Count(results)
	assert.Equal(t, 50, counts.Medium)
	assert.Equal(t, 50, counts.Matched())
}

func TestMatch_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(1).Match(ctx, []model.ParsedTransaction{testutil.Deposit(april2, "x", 1)}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNamesMatch(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{a: "アクメ", b: "株式会社アクメ", want: true},
		{a: "ｶ)ｱｸﾒ", b: "アクメ株式会社", want: true},
		{a: "アクメ(カ", b: "㈱アクメ", want: true},
		{a: "ACME CORP", b: "Acme Corporation", want: true},
		{a: "Acme Corp payment", b: "Acme Inc.", want: true},
		{a: "Globex", b: "Initech", want: false},
		{a: "株式会社", b: "株式会社アクメ", want: false},
		{a: "", b: "Acme", want: false},
		{a: "A", b: "A Holdings", want: false},
		{a: "Bank transfer payment", b: "Transfer Logistics", want: false},
		{a: "振込 入金", b: "振込代行センター", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, namesMatch(tt.a, tt.b))
		})
	}
}

func TestReferenceMatches(t *testing.T) {
	assert.True(t, referenceMatches("inv-100", "INV-100"))
	assert.True(t, referenceMatches("振込 INV 100", "INV-100"))
	assert.False(t, referenceMatches("", "INV-100"))
	assert.False(t, referenceMatches("A-1", "A1"))
	assert.False(t, referenceMatches("INV-101", "INV-100"))

	assert.False(t, referenceMatches("Payment INV-1000", "INV-100"))
	assert.False(t, referenceMatches("INV 1000", "INV-100"))
	assert.False(t, referenceMatches("INV-100A", "INV-100"))
	assert.False(t, referenceMatches("INV2024001X", "INV-2024-001"))
	assert.True(t, referenceMatches("Payment INV-1000", "INV-1000"))
	assert.True(t, referenceMatches("INV-100/2024", "INV-100"))
	assert.True(t, referenceMatches("振込INV-100アクメ", "INV-100"))
	assert.True(t, referenceMatches("INV2024001 ACME", "INV-2024-001"))
}
