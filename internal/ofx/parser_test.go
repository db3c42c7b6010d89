package ofx

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/spice-reconcile/internal/common"
	"github.com/Veraticus/spice-reconcile/internal/fingerprint"
	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ofxHeader = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

`

const signon = `<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240415120000[0:GMT]
<LANGUAGE>JPN
</SONRS>
</SIGNONMSGSRSV1>
`

// bankOFX wraps transaction blocks in a JPY checking account statement.
func bankOFX(transactions string) string {
	return ofxHeader + "<OFX>\n" + signon + `<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>JPY
<BANKACCTFROM>
<BANKID>0005
<BRANCHID>123
<ACCTID>1234567
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240401000000[9:JST]
<DTEND>20240430000000[9:JST]
` + transactions + `</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>215000
<DTASOF>20240430000000[9:JST]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>
`
}

func stmtTrn(posted, amount, fitID, name, memo string) string {
	var b strings.Builder
	b.WriteString("<STMTTRN>\n<TRNTYPE>OTHER\n")
	fmt.Fprintf(&b, "<DTPOSTED>%s\n<TRNAMT>%s\n", posted, amount)
	if fitID != "" {
		fmt.Fprintf(&b, "<FITID>%s\n", fitID)
	}
	if name != "" {
		fmt.Fprintf(&b, "<NAME>%s\n", name)
	}
	if memo != "" {
		fmt.Fprintf(&b, "<MEMO>%s\n", memo)
	}
	b.WriteString("</STMTTRN>\n")
	return b.String()
}

var sampleBankOFX = bankOFX(
	stmtTrn("20240401120000[9:JST]", "-5000", "2024040101", "ATM WITHDRAWAL", "") +
		stmtTrn("20240402090000[9:JST]", "120000", "2024040201", "ACME CORP PAYMENT", "INV-100") +
		stmtTrn("20240403090000[9:JST]", "7000", "2024040301", "", "TRANSFER YAMADA"),
)

const sampleCreditCardOFX = ofxHeader + `<OFX>
` + signon + `<CREDITCARDMSGSRSV1>
<CCSTMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<CCSTMTRS>
<CURDEF>USD
<CCACCTFROM>
<ACCTID>4111111111111111
</CCACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240110120000[0:GMT]
<TRNAMT>-45.99
<FITID>CC2024011001
<NAME>AMAZON.COM*RT4Y7HG2
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>15.00
<FITID>CC2024011501
<NAME>NETFLIX.COM REFUND
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>-500.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>`

func TestParse(t *testing.T) {
	tests := []struct {
		name          string
		ofxData       string
		exponent      int32
		expectedCount int
		expectedError bool
	}{
		{
			name:          "valid bank statement",
			ofxData:       sampleBankOFX,
			expectedCount: 3,
		},
		{
			name:          "valid credit card statement",
			ofxData:       sampleCreditCardOFX,
			exponent:      2,
			expectedCount: 2,
		},
		{
			name:          "invalid OFX data",
			ofxData:       "not valid OFX",
			expectedError: true,
		},
		{
			name:          "empty OFX",
			ofxData:       "",
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NewParser(tt.exponent).Parse(context.Background(), []byte(tt.ofxData), model.BankAuto)

			if tt.expectedError {
				assert.ErrorIs(t, err, common.ErrUnrecognizedFormat)
				return
			}
			require.NoError(t, err)
			assert.True(t, result.Success)
			assert.Empty(t, result.Errors)
			assert.Len(t, result.Transactions, tt.expectedCount)
			assert.Equal(t, model.BankOFX, result.DetectedBank)
		})
	}
}

func TestParseBankTransactions(t *testing.T) {
	result, err := NewParser(0).Parse(context.Background(), []byte(sampleBankOFX), model.BankAuto)
	require.NoError(t, err)
	require.Len(t, result.Transactions, 3)

	withdrawal := result.Transactions[0]
	assert.Equal(t, "2024040101", withdrawal.ReferenceNumber)
	assert.Equal(t, "ATM WITHDRAWAL", withdrawal.Content)
	assert.Equal(t, int64(-5000), withdrawal.Amount)
	assert.Equal(t, model.TypeWithdrawal, withdrawal.Type)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), withdrawal.Date)

	deposit := result.Transactions[1]
	assert.Equal(t, "ACME CORP PAYMENT", deposit.Content)
	assert.Equal(t, "INV-100", deposit.Memo)
	assert.Equal(t, int64(120000), deposit.Amount)
	assert.Equal(t, model.TypeDeposit, deposit.Type)

	memoOnly := result.Transactions[2]
	assert.Equal(t, "TRANSFER YAMADA", memoOnly.Content, "MEMO is used when NAME is absent")
	assert.Empty(t, memoOnly.Memo)

	assert.Equal(t, 2, result.DepositCount)
	assert.Equal(t, 1, result.WithdrawalCount)
	assert.Equal(t, int64(127000), result.TotalDepositAmount)
	assert.Equal(t, int64(5000), result.TotalWithdrawalAmount)

	require.NotNil(t, result.AccountInfo)
	assert.Equal(t, "0005", result.AccountInfo.BankID)
	assert.Equal(t, "123", result.AccountInfo.BranchID)
	assert.Equal(t, "1234567", result.AccountInfo.AccountNumber)
	assert.Equal(t, "CHECKING", result.AccountInfo.AccountType)
	require.NotNil(t, result.AccountInfo.PeriodStart)
	require.NotNil(t, result.AccountInfo.PeriodEnd)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), *result.AccountInfo.PeriodStart)
	assert.Equal(t, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), *result.AccountInfo.PeriodEnd)
}

func TestParseCreditCardTransactions(t *testing.T) {
	result, err := NewParser(2).Parse(context.Background(), []byte(sampleCreditCardOFX), model.BankAuto)
	require.NoError(t, err)
	require.Len(t, result.Transactions, 2)

	assert.Equal(t, "CC2024011001", result.Transactions[0].ReferenceNumber)
	assert.Equal(t, int64(-4599), result.Transactions[0].Amount)
	assert.Equal(t, int64(1500), result.Transactions[1].Amount)

	require.NotNil(t, result.AccountInfo)
	assert.Equal(t, "4111111111111111", result.AccountInfo.AccountNumber)
	assert.Equal(t, "CREDITCARD", result.AccountInfo.AccountType)
}

func TestParse_MissingFITID(t *testing.T) {
	doc := bankOFX(stmtTrn("20240402", "120000", "", "ACME CORP PAYMENT", ""))

	result, err := NewParser(0).Parse(context.Background(), []byte(doc), model.BankAuto)
	require.NoError(t, err)
	require.Len(t, result.Transactions, 1)

	tx := result.Transactions[0]
	assert.Empty(t, tx.ReferenceNumber)
	assert.Equal(t, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), tx.Date)
	assert.Equal(t,
		fingerprint.Compute(tx.Date, "ACME CORP PAYMENT", 120000, model.BankOFX),
		fingerprint.Of(tx))
}

func TestParse_MalformedBlockIsolated(t *testing.T) {
	doc := bankOFX(
		stmtTrn("20240401", "-5000", "A1", "ATM", "") +
			stmtTrn("20240402", "not-a-number", "A2", "BROKEN", "") +
			stmtTrn("20240403", "9000", "A3", "振込 ヤマダ", ""),
	)

	result, err := NewParser(0).Parse(context.Background(), []byte(doc), model.BankAuto)
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, result.Transactions, 2)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "row 2")
	assert.Contains(t, result.Errors[0], "TRNAMT")

	assert.Equal(t, "ヤマダ", result.Transactions[1].CustomerName)
	require.NotNil(t, result.AccountInfo)
	assert.Equal(t, "1234567", result.AccountInfo.AccountNumber)
}

func TestParse_LenientBlocksWithoutEnvelope(t *testing.T) {
	doc := "<STMTTRN><DTPOSTED>20240405<TRNAMT>3000<NAME>入金 スズキ</STMTTRN>\n" +
		"<STMTTRN><DTPOSTED>2024<TRNAMT>100</STMTTRN>\n" +
		"<STMTTRN><DTPOSTED>20240406<TRNAMT>0</STMTTRN>\n"

	result, err := NewParser(0).Parse(context.Background(), []byte(doc), model.BankAuto)
	require.NoError(t, err)

	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "スズキ", result.Transactions[0].CustomerName)
	assert.Equal(t, int64(3000), result.Transactions[0].Amount)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "row 2")
	assert.Contains(t, result.Errors[1], "row 3")
	assert.Nil(t, result.AccountInfo)
}

func TestParse_FractionalYenRejected(t *testing.T) {
	doc := bankOFX(
		stmtTrn("20240401", "-25.50", "F1", "COFFEE", "") +
			stmtTrn("20240402", "1000", "F2", "REFUND", ""),
	)

	result, err := NewParser(0).Parse(context.Background(), []byte(doc), model.BankAuto)
	require.NoError(t, err)

	assert.Len(t, result.Transactions, 1)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "row 1")
}

func TestParse_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewParser(0).Parse(ctx, []byte(sampleBankOFX), model.BankAuto)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPreprocessOFX(t *testing.T) {
	in := "\n\n  OFXHEADER:100\n<STATUS>\n<SEVERITY>Info</SEVERITY>\n<BANKTRANLIST\n"
	out := preprocessOFX(in)

	assert.True(t, strings.HasPrefix(out, "OFXHEADER:100"))
	assert.Contains(t, out, "<SEVERITY>INFO</SEVERITY>")
	assert.Contains(t, out, "<BANKTRANLIST>")
}
