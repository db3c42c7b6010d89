// Package fingerprint derives the stable identity key used to deduplicate
// bank transactions across imports.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"
	"time"

	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/normalize"
)

// Version prefixes every fingerprint so the scheme can change without
// colliding with keys already stored.
const Version = "v1"

// Compute returns the fingerprint of a statement line.
//
// Each field is written as "<byte length>:<bytes>;" before hashing, so no
// choice of content can make two different tuples produce the same input.
// Content is folded with normalize.Fold first, which makes renderings that
// differ only in whitespace, case or character width collide.
func Compute(date time.Time, content string, amount int64, bankType model.BankType) string {
	h := sha256.New()
	writeField(h, date.Format("2006-01-02"))
	writeField(h, normalize.Fold(content))
	writeField(h, strconv.FormatInt(amount, 10))
	writeField(h, string(bankType))
	return Version + ":" + hex.EncodeToString(h.Sum(nil))
}

// Of fingerprints a parsed transaction.
func Of(tx model.ParsedTransaction) string {
	return Compute(tx.Date, tx.Content, tx.Amount, tx.BankType)
}

func writeField(h hash.Hash, value string) {
	// hash.Hash writes never fail.
	_, _ = h.Write([]byte(strconv.Itoa(len(value))))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(value))
	_, _ = h.Write([]byte{';'})
}
