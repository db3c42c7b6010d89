// Package bankcsv parses the CSV exports of the supported Japanese banks.
package bankcsv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Veraticus/spice-reconcile/internal/common"
	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/normalize"
)

// ErrUndetectedBank is reported when auto detection finds no known header.
var ErrUndetectedBank = errors.New("could not detect the bank format; select the bank explicitly")

// errBothAmounts rejects rows that fill both the withdrawal and deposit columns.
var errBothAmounts = errors.New("both withdrawal and deposit are set")

// ctxCheckInterval is how many rows are parsed between cancellation checks.
const ctxCheckInterval = 256

// Parser handles every CSV dialect. It is stateless and safe for
// concurrent use.
type Parser struct {
	exponent int32
}

// NewParser creates a CSV parser for amounts with the given currency exponent.
func NewParser(exponent int32) *Parser {
	return &Parser{exponent: exponent}
}

// Name returns the parser identifier.
func (p *Parser) Name() string {
	return "csv"
}

type record struct {
	fields []string
	line   int
}

// Parse decodes content, resolves the bank dialect and parses every data row.
// A hint of BankAuto (or empty) sniffs the bank from the header.
func (p *Parser) Parse(ctx context.Context, content []byte, hint model.BankType) (*model.ParseResult, error) {
	if hint == "" {
		hint = model.BankAuto
	}
	if hint != model.BankAuto && !hint.IsCSV() {
		return nil, fmt.Errorf("%w: bank type %q is not a CSV format", common.ErrValidation, hint)
	}

	text, err := normalize.Decode(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrUnrecognizedFormat, err)
	}

	bank := hint
	if bank == model.BankAuto {
		bank = DetectBank(text)
	}
	if bank == model.BankAuto {
		result := &model.ParseResult{Errors: []string{ErrUndetectedBank.Error()}}
		return result.Finish(), nil
	}

	dialect, _ := DialectFor(bank)
	result := &model.ParseResult{DetectedBank: bank}

	records, readErrs := readRecords(text)
	result.Errors = append(result.Errors, readErrs...)

	for i, rec := range records[dataStart(dialect, records):] {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		tx, ok, rowErr := p.parseRow(dialect, rec)
		if rowErr != nil {
			result.Errors = append(result.Errors, rowErr.Error())
			continue
		}
		if ok {
			result.Add(tx)
		}
	}

	result.Finish()

	slog.Debug("Parsed bank CSV",
		"bank", bank,
		"transactions", result.TotalCount,
		"errors", len(result.Errors))

	return result, nil
}

// readRecords splits text into records, keeping the source line of each.
// A malformed line becomes an error and reading continues.
func readRecords(text string) ([]record, []string) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records []record
	var errs []string
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				rowErr := &common.RowParseError{Row: parseErr.StartLine, Err: parseErr.Err}
				errs = append(errs, rowErr.Error())
				continue
			}
			errs = append(errs, err.Error())
			break
		}
		line, _ := reader.FieldPos(0)
		records = append(records, record{fields: fields, line: line})
	}
	return records, errs
}

// dataStart returns the index of the first data record: the record after
// the header when one is found near the top, else the dialect's SkipLines.
func dataStart(d Dialect, records []record) int {
	for i := 0; i < len(records) && i < detectLines; i++ {
		if d.Matches(strings.Join(records[i].fields, ",")) {
			return i + 1
		}
	}
	if d.SkipLines > len(records) {
		return len(records)
	}
	return d.SkipLines
}

// parseRow converts one record. ok is false for rows that are skipped
// silently, such as blank lines or rows without a date.
func (p *Parser) parseRow(d Dialect, rec record) (model.ParsedTransaction, bool, error) {
	cols := d.Columns
	rowErr := func(field, value string, err error) error {
		return &common.RowParseError{Row: rec.line, Field: field, Value: value, Err: err}
	}

	dateCell := cell(rec.fields, cols.Date)
	if dateCell == "" {
		return model.ParsedTransaction{}, false, nil
	}
	date, err := normalize.Date(dateCell)
	if err != nil {
		return model.ParsedTransaction{}, false, rowErr("date", dateCell, err)
	}

	var amount int64
	if cols.Combined != noColumn {
		raw := cell(rec.fields, cols.Combined)
		if amount, err = normalize.Amount(raw, p.exponent); err != nil {
			return model.ParsedTransaction{}, false, rowErr("amount", raw, err)
		}
	} else {
		rawOut := cell(rec.fields, cols.Withdrawal)
		withdrawal, err := normalize.Amount(rawOut, p.exponent)
		if err != nil {
			return model.ParsedTransaction{}, false, rowErr("withdrawal", rawOut, err)
		}
		rawIn := cell(rec.fields, cols.Deposit)
		deposit, err := normalize.Amount(rawIn, p.exponent)
		if err != nil {
			return model.ParsedTransaction{}, false, rowErr("deposit", rawIn, err)
		}
		if withdrawal != 0 && deposit != 0 {
			return model.ParsedTransaction{}, false, rowErr("amount", rawOut+"/"+rawIn, errBothAmounts)
		}
		amount = abs(deposit) - abs(withdrawal)
	}
	if amount == 0 {
		return model.ParsedTransaction{}, false, rowErr("amount", "", model.ErrZeroAmount)
	}

	var balance *int64
	if rawBalance := cell(rec.fields, cols.Balance); rawBalance != "" {
		b, err := normalize.Amount(rawBalance, p.exponent)
		if err != nil {
			return model.ParsedTransaction{}, false, rowErr("balance", rawBalance, err)
		}
		balance = &b
	}

	content := normalize.Content(cell(rec.fields, cols.Content))
	tx := model.ParsedTransaction{
		Date:         date,
		Balance:      balance,
		Content:      content,
		CustomerName: normalize.CustomerName(content),
		Memo:         cell(rec.fields, cols.Memo),
		Type:         model.TypeForAmount(amount),
		BankType:     d.Bank,
		Amount:       amount,
	}
	if err := tx.Validate(); err != nil {
		return model.ParsedTransaction{}, false, rowErr("", "", err)
	}
	return tx, true, nil
}

func cell(fields []string, idx int) string {
	if idx == noColumn || idx >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[idx])
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
