package normalize

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode returns statement bytes as UTF-8 text. Valid UTF-8 is passed
// through with any BOM removed; anything else is decoded as Shift_JIS,
// the encoding Japanese bank exports default to.
func Decode(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if utf8.Valid(content) {
		return string(content), nil
	}

	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), content)
	if err != nil {
		return "", fmt.Errorf("failed to decode Shift_JIS content: %w", err)
	}
	return string(decoded), nil
}
