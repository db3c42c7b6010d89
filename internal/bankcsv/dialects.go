package bankcsv

import (
	"regexp"
	"strings"

	"github.com/Veraticus/spice-reconcile/internal/model"
)

// noColumn marks a column a dialect does not have.
const noColumn = -1

// detectLines is how many leading lines are searched for a header signature.
const detectLines = 5

// Columns holds zero-based column indexes; noColumn marks an absent column.
type Columns struct {
	Date    int
	Content int
	// Withdrawal and Deposit hold unsigned amounts. Banks with a single
	// signed column set Combined instead.
	Withdrawal int
	Deposit    int
	Combined   int
	Balance    int
	Memo       int
}

// Dialect describes the fixed column layout of one bank's CSV export.
type Dialect struct {
	// Pattern, when set, replaces Signature for detection.
	Pattern *regexp.Regexp
	Bank    model.BankType
	// Signature lists header tokens that must all appear.
	Signature []string
	Columns   Columns
	// SkipLines is used when no header row is found, e.g. a forced bank on
	// a file whose header was edited.
	SkipLines int
}

// Matches reports whether text contains this dialect's header.
func (d Dialect) Matches(text string) bool {
	if d.Pattern != nil {
		return d.Pattern.MatchString(text)
	}
	for _, token := range d.Signature {
		if !strings.Contains(text, token) {
			return false
		}
	}
	return len(d.Signature) > 0
}

// dialects is ordered for detection. mufg precedes mizuho and japan-post
// precedes sony because their headers share tokens.
var dialects = []Dialect{
	{
		Bank:      model.BankSBI,
		Signature: []string{"出金金額(円)", "入金金額(円)"},
		Columns:   Columns{Date: 0, Content: 1, Withdrawal: 2, Deposit: 3, Balance: 4, Combined: noColumn, Memo: 5},
		SkipLines: 1,
	},
	{
		Bank:      model.BankMUFG,
		Signature: []string{"お支払金額", "お預り金額"},
		Columns:   Columns{Date: 0, Content: 1, Withdrawal: 2, Deposit: 3, Balance: 4, Combined: noColumn, Memo: noColumn},
		SkipLines: 1,
	},
	{
		Bank:      model.BankSMBC,
		Signature: []string{"お引出し", "お預入れ"},
		Columns:   Columns{Date: 0, Content: 4, Withdrawal: 1, Deposit: 2, Balance: 3, Combined: noColumn, Memo: noColumn},
		SkipLines: 1,
	},
	{
		Bank:      model.BankMizuho,
		Signature: []string{"お支払金額", "お預かり金額"},
		Columns:   Columns{Date: 0, Content: 1, Withdrawal: 2, Deposit: 3, Balance: 4, Combined: noColumn, Memo: noColumn},
		SkipLines: 1,
	},
	{
		Bank:      model.BankRakuten,
		Signature: []string{"取引日", "入出金"},
		Columns:   Columns{Date: 0, Content: 3, Withdrawal: noColumn, Deposit: noColumn, Balance: 2, Combined: 1, Memo: noColumn},
		SkipLines: 1,
	},
	{
		Bank:      model.BankJapanPost,
		Signature: []string{"お預入金額", "お引出金額"},
		Columns:   Columns{Date: 0, Content: 1, Withdrawal: 3, Deposit: 2, Balance: 4, Combined: noColumn, Memo: noColumn},
		SkipLines: 1,
	},
	{
		Bank:      model.BankSony,
		Signature: []string{"お支払い金額", "お預かり金額"},
		Columns:   Columns{Date: 0, Content: 1, Withdrawal: 2, Deposit: 3, Balance: 4, Combined: noColumn, Memo: noColumn},
		SkipLines: 1,
	},
	{
		Bank:      model.BankAEON,
		Pattern:   regexp.MustCompile(`取引日.*摘要.*出金.*入金.*残高`),
		Columns:   Columns{Date: 0, Content: 1, Withdrawal: 2, Deposit: 3, Balance: 4, Combined: noColumn, Memo: noColumn},
		SkipLines: 1,
	},
}

// DialectFor returns the layout for a CSV bank.
func DialectFor(bank model.BankType) (Dialect, bool) {
	for _, d := range dialects {
		if d.Bank == bank {
			return d, true
		}
	}
	return Dialect{}, false
}

// DetectBank sniffs the bank from header signatures in the first lines of
// decoded CSV text. It returns BankAuto when nothing matches.
func DetectBank(text string) model.BankType {
	head := firstLines(text, detectLines)
	for _, d := range dialects {
		if d.Matches(head) {
			return d.Bank
		}
	}
	return model.BankAuto
}

func firstLines(text string, n int) string {
	lines := strings.SplitN(text, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
