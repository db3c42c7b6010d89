package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-reconcile/internal/bankcsv"
	"github.com/Veraticus/spice-reconcile/internal/common"
	"github.com/Veraticus/spice-reconcile/internal/config"
	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/service"
	"github.com/Veraticus/spice-reconcile/internal/testutil"
)

const sbiCSV = `日付,内容,出金金額(円),入金金額(円),残高(円),メモ
2024/04/01,ATM引出,"5,000",,"95,000",
2024/04/02,振込 アクメ（カ）,,"120,000","215,000",INV-100
`

const sbiOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102

<OFX>
<BANKMSGSRSV1>
<STMTTRNRS>
<STMTRS>
<BANKTRANLIST>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240402
<TRNAMT>50000
<FITID>F-1
<NAME>Payment INV-200
</STMTTRN>
</BANKTRANLIST>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>
`

// accountOFX renders a one-transaction statement for bank 0005.
func accountOFX(account, fitID string, amount int64) []byte {
	return []byte(fmt.Sprintf(`OFXHEADER:100
DATA:OFXSGML
VERSION:102

<OFX>
<BANKMSGSRSV1>
<STMTTRNRS>
<STMTRS>
<BANKACCTFROM>
<BANKID>0005
<ACCTID>%s
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240402
<TRNAMT>%d
<FITID>%s
<NAME>DEPOSIT
</STMTTRN>
</BANKTRANLIST>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>
`, account, amount, fitID))
}

func newPipeline(t *testing.T, invoices ...model.Invoice) (*Pipeline, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t, invoices...)

	cfg := config.Default()
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond

	return New(cfg, db.Storage, db.Storage), db
}

func csvFile() model.RawFile {
	return model.RawFile{Name: "statement.csv", Content: []byte(sbiCSV)}
}

func fullRequest(file model.RawFile) Request {
	req := NewRequest(file)
	req.SaveTransactions = true
	req.AutoMatch = true
	req.AutoConfirm = true
	req.OnlyHighConfidence = true
	return req
}

func history(t *testing.T, db *testutil.TestDB) []model.ImportHistory {
	t.Helper()
	rows, _, err := db.Storage.ListImportHistory(context.Background(), service.HistoryFilter{Limit: 50})
	require.NoError(t, err)
	return rows
}

func TestRun_FullImport(t *testing.T) {
	p, db := newPipeline(t, testutil.Invoice("inv-1", "INV-100", "アクメ株式会社", 120000))

	resp, err := p.Run(context.Background(), fullRequest(csvFile()))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.ImportID)
	assert.Equal(t, model.FileTypeCSV, resp.FileType)
	assert.Equal(t, model.BankSBI, resp.DetectedBank)
	require.NotNil(t, resp.BankInfo)
	assert.Equal(t, "0038", resp.BankInfo.Code)

	assert.Equal(t, 2, resp.ParseResult.TotalCount)
	assert.Equal(t, 2, resp.DuplicateCheck.TotalChecked)
	assert.Equal(t, 0, resp.DuplicateCheck.Duplicates)

	require.NotNil(t, resp.TransactionImportResult)
	assert.Equal(t, 2, resp.TransactionImportResult.Created)

	require.NotNil(t, resp.MatchResults)
	views := *resp.MatchResults
	require.Len(t, views, 1, "only deposits are matched")
	assert.Equal(t, "2024-04-02", views[0].Date)
	assert.Equal(t, int64(120000), views[0].Amount)
	assert.Equal(t, model.ConfidenceHigh, views[0].Confidence)
	require.NotNil(t, views[0].MatchedInvoice)
	assert.Equal(t, "INV-100", views[0].MatchedInvoice.InvoiceNumber)

	require.NotNil(t, resp.ImportResult)
	assert.Equal(t, 1, resp.ImportResult.Created)
	assert.Empty(t, resp.ImportResult.Errors)

	inv := db.MustGetInvoice("inv-1")
	assert.Equal(t, model.InvoicePaid, inv.Status)
	assert.Equal(t, int64(120000), inv.PaidAmount)

	records, err := db.Storage.ListPaymentRecords(context.Background(), "inv-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].PaymentNumber, "PR-20240402-")

	rows := history(t, db)
	require.Len(t, rows, 1)
	h := rows[0]
	assert.Equal(t, resp.ImportID, h.ImportID)
	assert.Equal(t, model.ImportCompleted, h.Status)
	assert.Equal(t, "statement.csv", h.FileName)
	assert.Equal(t, 2, h.NewTransactionCount)
	assert.Equal(t, 1, h.MatchedCount)
	assert.Equal(t, 1, h.HighConfidenceCount)
	assert.Equal(t, 1, h.AutoConfirmedCount)
	assert.Equal(t, int64(120000), h.TotalDepositAmount)
	assert.Equal(t, int64(5000), h.TotalWithdrawalAmount)
}

func TestRun_ReimportIsIdempotent(t *testing.T) {
	p, db := newPipeline(t, testutil.Invoice("inv-1", "INV-100", "アクメ株式会社", 120000))
	ctx := context.Background()

	first, err := p.Run(ctx, fullRequest(csvFile()))
	require.NoError(t, err)

	second, err := p.Run(ctx, fullRequest(csvFile()))
	require.NoError(t, err)

	assert.NotEqual(t, first.ImportID, second.ImportID)
	assert.Equal(t, 2, second.DuplicateCheck.Duplicates)
	assert.Len(t, second.DuplicateCheck.Preview, 2)
	assert.Equal(t, 0, second.TransactionImportResult.Created)
	assert.Equal(t, 2, second.TransactionImportResult.Skipped)
	assert.Equal(t, 0, second.ImportResult.Created)

	_, total, err := db.Storage.ListTransactions(ctx, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	records, err := db.Storage.ListPaymentRecords(ctx, "inv-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	assert.Len(t, history(t, db), 2, "every run leaves an audit record")
}

func TestRun_ReimportWithMalformedRow(t *testing.T) {
	p, db := newPipeline(t)
	ctx := context.Background()

	file := model.RawFile{Name: "statement.csv", Content: []byte(sbiCSV + "2024/13/45,壊れた行,,\"1,000\",\"216,000\",\n")}
	req := NewRequest(file)
	req.SaveTransactions = true

	first, err := p.Run(ctx, req)
	require.NoError(t, err)
	second, err := p.Run(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 2, first.TransactionImportResult.Created)
	assert.Equal(t, 0, second.TransactionImportResult.Created)
	assert.Equal(t, 2, second.TransactionImportResult.Skipped)

	byID := map[string]model.ImportHistory{}
	for _, h := range history(t, db) {
		byID[h.ImportID] = h
	}
	for _, id := range []string{first.ImportID, second.ImportID} {
		h, ok := byID[id]
		require.True(t, ok, id)
		assert.Equal(t, model.ImportCompleted, h.Status, "a rejected row does not fail the import")
		assert.Len(t, h.Errors, 1, "the rejected row stays in the history")
	}
}

func TestRun_FITIDScopedByAccount(t *testing.T) {
	p, db := newPipeline(t)
	ctx := context.Background()

	checking := NewRequest(model.RawFile{Name: "checking.ofx", Content: accountOFX("111", "1", 50000)})
	checking.SaveTransactions = true
	savings := NewRequest(model.RawFile{Name: "savings.ofx", Content: accountOFX("999", "1", 70000)})
	savings.SaveTransactions = true

	_, err := p.Run(ctx, checking)
	require.NoError(t, err)
	resp, err := p.Run(ctx, savings)
	require.NoError(t, err)

	assert.Equal(t, 0, resp.DuplicateCheck.Duplicates)
	assert.Equal(t, 1, resp.DuplicateCheck.New)
	assert.Equal(t, 1, resp.TransactionImportResult.Created)

	again, err := p.Run(ctx, savings)
	require.NoError(t, err)
	assert.Equal(t, 1, again.DuplicateCheck.Duplicates)

	rows, total, err := db.Storage.ListTransactions(ctx, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	accounts := []string{rows[0].Account, rows[1].Account}
	assert.ElementsMatch(t, []string{"0005/111", "0005/999"}, accounts)
}

func TestRun_ConcurrentImportsStoreEachRowOnce(t *testing.T) {
	p, db := newPipeline(t)

	const runs = 4
	created := make([]int, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := NewRequest(csvFile())
			req.SaveTransactions = true
			resp, err := p.Run(context.Background(), req)
			if assert.NoError(t, err) {
				created[i] = resp.TransactionImportResult.Created
			}
		}()
	}
	wg.Wait()

	sum := 0
	for _, c := range created {
		sum += c
	}
	assert.Equal(t, 2, sum)

	_, total, err := db.Storage.ListTransactions(context.Background(), service.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestRun_OptionalSections(t *testing.T) {
	p, db := newPipeline(t, testutil.Invoice("inv-1", "INV-100", "アクメ株式会社", 120000))

	resp, err := p.Run(context.Background(), NewRequest(csvFile()))
	require.NoError(t, err)

	assert.Nil(t, resp.TransactionImportResult)
	assert.Nil(t, resp.MatchResults)
	assert.Nil(t, resp.ImportResult)
	assert.Empty(t, history(t, db), "history is written only when transactions are saved")

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, `"duplicateCheck"`)
	assert.Contains(t, body, `"parseResult"`)
	assert.NotContains(t, body, `"transactionImportResult"`)
	assert.NotContains(t, body, `"matchResults"`)
	assert.NotContains(t, body, `"importResult"`)
}

func TestRun_MatchWithoutConfirm(t *testing.T) {
	p, db := newPipeline(t, testutil.Invoice("inv-1", "INV-100", "アクメ株式会社", 120000))

	req := NewRequest(csvFile())
	req.AutoMatch = true
	resp, err := p.Run(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, resp.MatchResults)
	assert.Len(t, *resp.MatchResults, 1)
	assert.Nil(t, resp.ImportResult)

	records, err := db.Storage.ListPaymentRecords(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, model.InvoiceUnpaid, db.MustGetInvoice("inv-1").Status)
}

func TestRun_EmptyMatchResultsAreStillReported(t *testing.T) {
	p, _ := newPipeline(t)

	req := NewRequest(csvFile())
	req.AutoMatch = true
	resp, err := p.Run(context.Background(), req)
	require.NoError(t, err)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"matchResults"`)
	require.NotNil(t, resp.MatchResults)
	assert.Equal(t, model.ConfidenceNone, (*resp.MatchResults)[0].Confidence)
}

func TestRun_OFX(t *testing.T) {
	p, db := newPipeline(t, testutil.Invoice("inv-2", "INV-200", "Globex", 50000))

	resp, err := p.Run(context.Background(), fullRequest(model.RawFile{Name: "april.ofx", Content: []byte(sbiOFX)}))
	require.NoError(t, err)

	assert.Equal(t, model.FileTypeOFX, resp.FileType)
	assert.Equal(t, model.BankOFX, resp.DetectedBank)
	assert.Nil(t, resp.BankInfo)
	require.NotNil(t, resp.MatchResults)
	assert.Equal(t, model.ConfidenceHigh, (*resp.MatchResults)[0].Confidence)
	assert.Equal(t, 1, resp.ImportResult.Created)
	assert.Equal(t, model.InvoicePaid, db.MustGetInvoice("inv-2").Status)
}

func TestRun_AmountMismatchLeavesInvoiceUnpaid(t *testing.T) {
	p, db := newPipeline(t, testutil.Invoice("inv-1", "INV-100", "アクメ株式会社", 120000))
	ctx := context.Background()

	resp, err := p.Run(ctx, fullRequest(csvFile()))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.ImportResult.Created)

	db.SeedInvoices(testutil.Invoice("inv-3", "INV-300", "アクメ株式会社", 90000))
	partial := `日付,内容,出金金額(円),入金金額(円),残高(円),メモ
2024/05/01,振込 アクメ（カ）,,"30,000","245,000",INV-300
`
	resp, err = p.Run(ctx, fullRequest(model.RawFile{Name: "may.csv", Content: []byte(partial)}))
	require.NoError(t, err)

	// 30,000 does not equal the 90,000 outstanding, so nothing matches.
	assert.Equal(t, model.ConfidenceNone, (*resp.MatchResults)[0].Confidence)
	assert.Equal(t, 0, resp.ImportResult.Created)
	assert.Equal(t, model.InvoiceUnpaid, db.MustGetInvoice("inv-3").Status)
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    model.RawFile
		wantErr error
	}{
		{
			name:    "missing file",
			file:    model.RawFile{Name: "empty.csv"},
			wantErr: common.ErrValidation,
		},
		{
			name:    "unknown format",
			file:    model.RawFile{Name: "notes.txt", Content: []byte("hello world")},
			wantErr: common.ErrUnrecognizedFormat,
		},
		{
			name:    "unknown bank",
			file:    model.RawFile{Name: "other.csv", Content: []byte("a,b,c\n1,2,3\n")},
			wantErr: common.ErrUnrecognizedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPipeline(t)
			_, err := p.Run(context.Background(), fullRequest(tt.file))
			require.ErrorIs(t, err, tt.wantErr)

			var userErr *common.UserError
			assert.ErrorAs(t, err, &userErr)
		})
	}
}

func TestRun_UnparseableFileLeavesFailedHistory(t *testing.T) {
	p, db := newPipeline(t)

	_, err := p.Run(context.Background(), fullRequest(model.RawFile{
		Name:    "other.csv",
		Content: []byte("a,b,c\n1,2,3\n"),
	}))
	require.Error(t, err)

	var userErr *common.UserError
	require.ErrorAs(t, err, &userErr)
	assert.Contains(t, userErr.Details, bankcsv.ErrUndetectedBank.Error())

	rows := history(t, db)
	require.Len(t, rows, 1)
	assert.Equal(t, model.ImportFailed, rows[0].Status)
	assert.Equal(t, "other.csv", rows[0].FileName)
}

func TestRun_ForcedBankMismatch(t *testing.T) {
	p, _ := newPipeline(t)

	req := fullRequest(csvFile())
	req.BankType = model.BankOFX
	_, err := p.Run(context.Background(), req)
	assert.ErrorIs(t, err, common.ErrValidation)
}
