// Package cli renders import results for the terminal using lipgloss.
package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/spice-reconcile/internal/model"
)

// Palette.
var (
	accentColor  = lipgloss.Color("#5B8DEF")
	matchedColor = lipgloss.Color("#4ECDC4")
	cautionColor = lipgloss.Color("#FFE66D")
	failedColor  = lipgloss.Color("#FF6B6B")
	noticeColor  = lipgloss.Color("#95E1D3")
	mutedColor   = lipgloss.Color("#666666")
)

// Text styles shared by the summary renderers and cmd/reconcile.
var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	SuccessStyle = lipgloss.NewStyle().Foreground(matchedColor)
	WarningStyle = lipgloss.NewStyle().Foreground(cautionColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(failedColor)
	InfoStyle    = lipgloss.NewStyle().Foreground(noticeColor)
	SubtleStyle  = lipgloss.NewStyle().Foreground(mutedColor)

	// TableHeaderStyle and TableCellStyle pad every column by two cells.
	TableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor).PaddingRight(2)
	TableCellStyle   = lipgloss.NewStyle().PaddingRight(2)

	summaryBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(1, 2)
)

var confidenceStyles = map[model.Confidence]lipgloss.Style{
	model.ConfidenceHigh:   SuccessStyle,
	model.ConfidenceMedium: InfoStyle,
	model.ConfidenceLow:    WarningStyle,
}

var statusStyles = map[model.ImportStatus]lipgloss.Style{
	model.ImportCompleted: SuccessStyle,
	model.ImportPartial:   WarningStyle,
	model.ImportFailed:    ErrorStyle,
}

// FormatConfidence colors a confidence tier; none and unknown tiers are muted.
func FormatConfidence(c model.Confidence) string {
	style, ok := confidenceStyles[c]
	if !ok {
		style = SubtleStyle
	}
	return style.Render(string(c))
}

// FormatStatus colors an import status.
func FormatStatus(s model.ImportStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		style = ErrorStyle
	}
	return style.Render(string(s))
}

// FormatSuccess prefixes a check mark.
func FormatSuccess(message string) string {
	return SuccessStyle.Render("✓ " + message)
}

// FormatError prefixes a cross.
func FormatError(message string) string {
	return ErrorStyle.Render("✗ " + message)
}

// FormatWarning prefixes a warning sign.
func FormatWarning(message string) string {
	return WarningStyle.Render("⚠️ " + message)
}

// FormatInfo prefixes an info sign.
func FormatInfo(message string) string {
	return InfoStyle.Render("ℹ️ " + message)
}

// RenderBox frames content under a bank-titled heading.
func RenderBox(title, content string) string {
	heading := TitleStyle.Render("🏦 " + title)
	return summaryBox.Render(lipgloss.JoinVertical(lipgloss.Left, heading, "", content))
}

// FormatAmount renders signed minor units as a grouped decimal, for example
// 1234567 with exponent 0 as "1,234,567" and -12550 with exponent 2 as
// "-125.50".
func FormatAmount(minor int64, exponent int32) string {
	s := decimal.New(minor, -exponent).StringFixed(exponent)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return sign + b.String()
}
