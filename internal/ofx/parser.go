// Package ofx parses OFX/QFX bank and credit card statements.
package ofx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"

	"github.com/Veraticus/spice-reconcile/internal/common"
	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/normalize"
)

// ErrNoTransactions is returned when a document has no <STMTTRN> blocks and
// could not be read as a complete OFX response either.
var ErrNoTransactions = errors.New("no OFX transactions found")

// ratPrecision is the number of decimal places used when rendering an OFX
// amount, enough for normalize.Amount to reject fractional minor units.
const ratPrecision = 8

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	tagFixRegex   = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	stmtTrnRegex  = regexp.MustCompile(`(?is)<STMTTRN>(.*?)(?:</STMTTRN>|$)`)
	dateDigits    = regexp.MustCompile(`^\s*(\d{8})`)
)

// Parser implements OFX/QFX parsing. It holds no state besides the currency
// exponent and is safe for concurrent use.
type Parser struct {
	exponent int32
}

// NewParser creates an OFX parser for amounts with the given currency exponent.
func NewParser(exponent int32) *Parser {
	return &Parser{exponent: exponent}
}

// Name returns the parser identifier.
func (p *Parser) Name() string {
	return "ofx"
}

// preprocessOFX fixes common formatting issues in OFX files.
func preprocessOFX(content string) string {
	// Trim any leading whitespace or blank lines before the header
	content = strings.TrimLeft(content, " \t\r\n")

	// Fix mixed-case SEVERITY values (should be INFO, WARN, or ERROR)
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)

	// Fix opening tags missing their closing bracket at end of line
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// Parse reads an OFX document. ofxgo is tried first; when it rejects the
// document the <STMTTRN> blocks are scanned one by one so a single malformed
// block costs one row rather than the file. hint is ignored.
func (p *Parser) Parse(ctx context.Context, content []byte, _ model.BankType) (*model.ParseResult, error) {
	text, err := normalize.Decode(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrUnrecognizedFormat, err)
	}
	text = preprocessOFX(text)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &model.ParseResult{DetectedBank: model.BankOFX}

	resp, parseErr := ofxgo.ParseResponse(strings.NewReader(text))
	if parseErr == nil {
		p.fromResponse(resp, result)
	} else {
		slog.Debug("ofxgo rejected document, scanning transaction blocks", "error", parseErr)
		blocks := stmtTrnRegex.FindAllStringSubmatch(text, -1)
		if len(blocks) == 0 {
			return nil, fmt.Errorf("%w: %w: %w", common.ErrUnrecognizedFormat, ErrNoTransactions, parseErr)
		}
		p.fromBlocks(text, blocks, result)
	}

	result.Finish()

	slog.Debug("Parsed OFX file",
		"transactions", result.TotalCount,
		"errors", len(result.Errors),
		"lenient", parseErr != nil)

	return result, nil
}

func (p *Parser) fromResponse(resp *ofxgo.Response, result *model.ParseResult) {
	row := 0
	add := func(list *ofxgo.TransactionList) {
		if list == nil {
			return
		}
		for _, ofxTx := range list.Transactions {
			row++
			tx, err := p.convertTransaction(ofxTx)
			if err != nil {
				result.Errors = append(result.Errors, (&common.RowParseError{Row: row, Err: err}).Error())
				continue
			}
			result.Add(tx)
		}
	}

	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok {
			continue
		}
		if result.AccountInfo == nil {
			result.AccountInfo = &model.AccountInfo{
				BankID:        string(stmt.BankAcctFrom.BankID),
				BranchID:      string(stmt.BankAcctFrom.BranchID),
				AccountNumber: string(stmt.BankAcctFrom.AcctID),
				AccountType:   stmt.BankAcctFrom.AcctType.String(),
			}
			setPeriod(result.AccountInfo, stmt.BankTranList)
		}
		add(stmt.BankTranList)
	}

	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok {
			continue
		}
		if result.AccountInfo == nil {
			result.AccountInfo = &model.AccountInfo{
				AccountNumber: string(stmt.CCAcctFrom.AcctID),
				AccountType:   "CREDITCARD",
			}
			setPeriod(result.AccountInfo, stmt.BankTranList)
		}
		add(stmt.BankTranList)
	}
}

func setPeriod(info *model.AccountInfo, list *ofxgo.TransactionList) {
	if list == nil {
		return
	}
	if !list.DtStart.IsZero() {
		start := model.CivilDate(list.DtStart.Time)
		info.PeriodStart = &start
	}
	if !list.DtEnd.IsZero() {
		end := model.CivilDate(list.DtEnd.Time)
		info.PeriodEnd = &end
	}
}

// convertTransaction converts an OFX transaction to our model.
func (p *Parser) convertTransaction(ofxTx ofxgo.Transaction) (model.ParsedTransaction, error) {
	if ofxTx.DtPosted.IsZero() {
		return model.ParsedTransaction{}, model.ErrMissingDate
	}
	amount, err := normalize.Amount(ofxTx.TrnAmt.FloatString(ratPrecision), p.exponent)
	if err != nil {
		return model.ParsedTransaction{}, err
	}

	name := string(ofxTx.Name)
	if name == "" && ofxTx.Payee != nil {
		name = string(ofxTx.Payee.Name)
	}
	return p.build(model.CivilDate(ofxTx.DtPosted.Time), amount, name, string(ofxTx.Memo), string(ofxTx.FiTID))
}

func (p *Parser) fromBlocks(text string, blocks [][]string, result *model.ParseResult) {
	result.AccountInfo = scanAccountInfo(text)

	for i, block := range blocks {
		row := i + 1
		tx, err := p.convertBlock(block[1])
		if err != nil {
			var rowErr *common.RowParseError
			if errors.As(err, &rowErr) {
				rowErr.Row = row
			} else {
				rowErr = &common.RowParseError{Row: row, Err: err}
			}
			result.Errors = append(result.Errors, rowErr.Error())
			continue
		}
		result.Add(tx)
	}
}

func (p *Parser) convertBlock(block string) (model.ParsedTransaction, error) {
	rawDate := tagValue(block, "DTPOSTED")
	m := dateDigits.FindStringSubmatch(rawDate)
	if m == nil {
		return model.ParsedTransaction{}, &common.RowParseError{Field: "DTPOSTED", Value: rawDate, Err: model.ErrMissingDate}
	}
	date, err := normalize.Date(m[1])
	if err != nil {
		return model.ParsedTransaction{}, &common.RowParseError{Field: "DTPOSTED", Value: rawDate, Err: err}
	}

	rawAmount := tagValue(block, "TRNAMT")
	if rawAmount == "" {
		return model.ParsedTransaction{}, &common.RowParseError{Field: "TRNAMT", Err: model.ErrZeroAmount}
	}
	amount, err := normalize.Amount(rawAmount, p.exponent)
	if err != nil {
		return model.ParsedTransaction{}, &common.RowParseError{Field: "TRNAMT", Value: rawAmount, Err: err}
	}

	return p.build(date, amount, tagValue(block, "NAME"), tagValue(block, "MEMO"), tagValue(block, "FITID"))
}

// build applies the shared field rules: NAME then MEMO as content, FITID
// as the reference number.
func (p *Parser) build(date time.Time, amount int64, name, memo, fitID string) (model.ParsedTransaction, error) {
	name = strings.TrimSpace(name)
	memo = strings.TrimSpace(memo)

	content := name
	if content == "" {
		content = memo
	}
	content = normalize.Content(content)

	tx := model.ParsedTransaction{
		Date:            date,
		Content:         content,
		ReferenceNumber: strings.TrimSpace(fitID),
		CustomerName:    normalize.CustomerName(content),
		Type:            model.TypeForAmount(amount),
		BankType:        model.BankOFX,
		Amount:          amount,
	}
	if memo != content {
		tx.Memo = memo
	}
	if err := tx.Validate(); err != nil {
		return model.ParsedTransaction{}, err
	}
	return tx, nil
}

// tagValue returns the text following <tag> up to the next tag or line end.
func tagValue(block, tag string) string {
	re := regexp.MustCompile(`(?i)<` + regexp.QuoteMeta(tag) + `>([^<\r\n]*)`)
	m := re.FindStringSubmatch(block)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

var (
	bankAcctRegex = regexp.MustCompile(`(?is)<BANKACCTFROM>(.*?)</BANKACCTFROM>`)
	ccAcctRegex   = regexp.MustCompile(`(?is)<CCACCTFROM>(.*?)</CCACCTFROM>`)
	tranListHead  = regexp.MustCompile(`(?is)<BANKTRANLIST>(.*?)<STMTTRN>`)
)

// scanAccountInfo extracts account metadata without a full parse.
// It returns nil when the document carries none.
func scanAccountInfo(text string) *model.AccountInfo {
	info := &model.AccountInfo{}
	found := false

	if m := bankAcctRegex.FindStringSubmatch(text); m != nil {
		info.BankID = tagValue(m[1], "BANKID")
		info.BranchID = tagValue(m[1], "BRANCHID")
		info.AccountNumber = tagValue(m[1], "ACCTID")
		info.AccountType = tagValue(m[1], "ACCTTYPE")
		found = true
	} else if m := ccAcctRegex.FindStringSubmatch(text); m != nil {
		info.AccountNumber = tagValue(m[1], "ACCTID")
		info.AccountType = "CREDITCARD"
		found = true
	}

	if m := tranListHead.FindStringSubmatch(text); m != nil {
		if d, ok := scanDate(tagValue(m[1], "DTSTART")); ok {
			info.PeriodStart = &d
			found = true
		}
		if d, ok := scanDate(tagValue(m[1], "DTEND")); ok {
			info.PeriodEnd = &d
			found = true
		}
	}

	if !found {
		return nil
	}
	return info
}

func scanDate(raw string) (time.Time, bool) {
	m := dateDigits.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, false
	}
	d, err := normalize.Date(m[1])
	return d, err == nil
}
