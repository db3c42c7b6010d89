package matching

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Veraticus/spice-reconcile/internal/normalize"
)

// minCompactRef is the shortest invoice number compared with separators
// removed; shorter numbers would match unrelated digits.
const minCompactRef = 4

// minNameRunes is the shortest name or token that counts as a name match.
const minNameRunes = 2

// corporateAffixes are stripped from folded names before comparison.
// normalize.Fold has already turned ㈱ into (株) and half-width kana into
// full-width.
var corporateAffixes = []string{
	"株式会社", "有限会社", "合同会社", "合資会社", "合名会社",
	"(株)", "(有)", "(同)", "(資)", "(名)",
	"カ)", "(カ", "ユ)", "(ユ", "ド)", "(ド",
}

// corporateTokens are latin-script affixes dropped as whole tokens.
var corporateTokens = map[string]bool{
	"inc": true, "incorporated": true, "corp": true, "corporation": true,
	"co": true, "company": true, "ltd": true, "limited": true,
	"llc": true, "kk": true, "gk": true,
}

// genericTokens are words common in transfer descriptions that say
// nothing about the payer.
var genericTokens = map[string]bool{
	"payment": true, "transfer": true, "deposit": true, "remittance": true,
	"from": true, "to": true, "for": true, "the": true, "bank": true,
	"振込": true, "振替": true, "入金": true, "送金": true, "支払": true,
	"代金": true, "請求": true, "請求書": true,
}

// referenceMatches reports whether hay carries the invoice number, ignoring
// case, character width and separators. The number must end on a token
// boundary so INV-100 is not found inside INV-1000.
func referenceMatches(hay, invoiceNumber string) bool {
	number := []rune(normalize.Fold(invoiceNumber))
	text := []rune(normalize.Fold(hay))
	if len(number) == 0 || len(text) == 0 {
		return false
	}

	for i := 0; i+len(number) <= len(text); i++ {
		if slices.Equal(text[i:i+len(number)], number) && onBoundary(text, i, i+len(number), number[0]) {
			return true
		}
	}

	compact, _ := compactRunes(number)
	if len(compact) < minCompactRef {
		return false
	}
	kept, pos := compactRunes(text)
	for i := 0; i+len(compact) <= len(kept); i++ {
		if !slices.Equal(kept[i:i+len(compact)], compact) {
			continue
		}
		if onBoundary(text, pos[i], pos[i+len(compact)-1]+1, compact[0]) {
			return true
		}
	}
	return false
}

// compactRunes drops separators and returns, for every kept rune, its
// index in s.
func compactRunes(s []rune) ([]rune, []int) {
	kept := make([]rune, 0, len(s))
	pos := make([]int, 0, len(s))
	for i, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			kept = append(kept, r)
			pos = append(pos, i)
		}
	}
	return kept, pos
}

// onBoundary reports whether text[start:end] is not glued to a following
// latin letter or digit, nor to a preceding digit when it starts with one.
// Kana and kanji may abut a reference.
func onBoundary(text []rune, start, end int, first rune) bool {
	if end < len(text) && isRefRune(text[end]) {
		return false
	}
	if start > 0 && unicode.IsDigit(first) && unicode.IsDigit(text[start-1]) {
		return false
	}
	return true
}

func isRefRune(r rune) bool {
	return r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// nameTokens folds a customer name, removes corporate affixes and splits
// it into comparable tokens, dropping generic transfer words.
func nameTokens(name string) []string {
	folded := normalize.Fold(name)
	for _, affix := range corporateAffixes {
		folded = strings.ReplaceAll(folded, affix, " ")
	}

	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if !corporateTokens[f] && !genericTokens[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// namesMatch reports whether two customer names refer to the same party:
// one contains the other once affixes and spacing are removed, or they
// share a token.
func namesMatch(a, b string) bool {
	ta, tb := nameTokens(a), nameTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}

	ja, jb := strings.Join(ta, ""), strings.Join(tb, "")
	if utf8.RuneCountInString(ja) >= minNameRunes && utf8.RuneCountInString(jb) >= minNameRunes &&
		(strings.Contains(ja, jb) || strings.Contains(jb, ja)) {
		return true
	}

	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		if utf8.RuneCountInString(t) >= minNameRunes {
			set[t] = true
		}
	}
	for _, t := range tb {
		if set[t] {
			return true
		}
	}
	return false
}
