package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/pipeline"
)

// maxListedErrors caps the row errors echoed in a summary box.
const maxListedErrors = 5

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderColumn(false).
		BorderLeft(false).
		BorderRight(false).
		BorderStyle(SubtleStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return TableCellStyle
		})
}

// ImportSummary renders the outcome of one pipeline run.
func ImportSummary(fileName string, resp *pipeline.Response, exponent int32) string {
	var b strings.Builder

	bank := string(resp.DetectedBank)
	if resp.BankInfo != nil {
		bank = resp.BankInfo.Name + " (" + resp.BankInfo.NameEn + ")"
	}
	fmt.Fprintf(&b, "Format:        %s / %s\n", resp.FileType, bank)
	fmt.Fprintf(&b, "Import ID:     %s\n", SubtleStyle.Render(resp.ImportID))

	parsed := resp.ParseResult
	fmt.Fprintf(&b, "Transactions:  %d (%d deposits %s, %d withdrawals %s)\n",
		parsed.TotalCount,
		parsed.DepositCount, FormatAmount(parsed.TotalDepositAmount, exponent),
		parsed.WithdrawalCount, FormatAmount(parsed.TotalWithdrawalAmount, exponent))

	if dup := resp.DuplicateCheck; dup != nil {
		fmt.Fprintf(&b, "Duplicates:    %d of %d\n", dup.Duplicates, dup.TotalChecked)
	}
	if imported := resp.TransactionImportResult; imported != nil {
		fmt.Fprintf(&b, "Stored:        %d new, %d skipped\n", imported.Created, imported.Skipped)
	}
	if resp.MatchResults != nil {
		counts := map[model.Confidence]int{}
		for _, m := range *resp.MatchResults {
			counts[m.Confidence]++
		}
		fmt.Fprintf(&b, "Matches:       %d high, %d medium, %d low, %d none\n",
			counts[model.ConfidenceHigh], counts[model.ConfidenceMedium],
			counts[model.ConfidenceLow], counts[model.ConfidenceNone])
	}
	if settled := resp.ImportResult; settled != nil {
		fmt.Fprintf(&b, "Payments:      %d recorded, %d already recorded\n", settled.Created, settled.Skipped)
	}

	var errs []string
	errs = append(errs, parsed.Errors...)
	if resp.TransactionImportResult != nil {
		errs = append(errs, resp.TransactionImportResult.Errors...)
	}
	if resp.ImportResult != nil {
		errs = append(errs, resp.ImportResult.Errors...)
	}
	if len(errs) > 0 {
		b.WriteString("\n" + FormatWarning(fmt.Sprintf("%d errors", len(errs))) + "\n")
		for i, e := range errs {
			if i == maxListedErrors {
				b.WriteString(SubtleStyle.Render(fmt.Sprintf("  … and %d more", len(errs)-maxListedErrors)) + "\n")
				break
			}
			b.WriteString("  " + ErrorStyle.Render(e) + "\n")
		}
	}

	return RenderBox(fileName, strings.TrimRight(b.String(), "\n"))
}

// MatchTable renders match results, one deposit per row.
func MatchTable(views []pipeline.MatchView, exponent int32) string {
	t := newTable("Date", "Amount", "Content", "Invoice", "Confidence", "Reason")
	for _, v := range views {
		invoice := "-"
		if v.MatchedInvoice != nil {
			invoice = v.MatchedInvoice.InvoiceNumber
		}
		t.Row(v.Date, FormatAmount(v.Amount, exponent), v.Content, invoice,
			FormatConfidence(v.Confidence), v.MatchReason)
	}
	return t.String()
}


// HistoryTable renders import history rows.
func HistoryTable(rows []model.ImportHistory, exponent int32) string {
	t := newTable("Imported", "File", "Bank", "Status", "Rows", "New", "Dup", "Matched", "Confirmed", "Deposits")
	for _, h := range rows {
		bank := h.BankName
		if bank == "" {
			bank = string(h.BankType)
		}
		t.Row(
			h.CreatedAt.Local().Format(time.DateTime),
			h.FileName,
			bank,
			FormatStatus(h.Status),
			strconv.Itoa(h.TotalCount),
			strconv.Itoa(h.NewTransactionCount),
			strconv.Itoa(h.DuplicateCount),
			strconv.Itoa(h.MatchedCount),
			strconv.Itoa(h.AutoConfirmedCount),
			FormatAmount(h.TotalDepositAmount, exponent),
		)
	}
	return t.String()
}


// BanksTable renders the supported bank table.
func BanksTable(banks []model.SupportedBank) string {
	t := newTable("Type", "Code", "Name", "English name")
	for _, b := range banks {
		t.Row(string(b.Type), b.Info.Code, b.Info.Name, b.Info.NameEn)
	}
	return t.String()
}
