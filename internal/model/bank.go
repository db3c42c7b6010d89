package model

import (
	"fmt"
	"strings"
)

// BankType identifies which parser produced a transaction.
type BankType string

// Supported bank types. BankAuto is only valid as a parser hint.
const (
	BankAuto      BankType = "auto"
	BankSBI       BankType = "sbi"
	BankMUFG      BankType = "mufg"
	BankSMBC      BankType = "smbc"
	BankMizuho    BankType = "mizuho"
	BankRakuten   BankType = "rakuten"
	BankJapanPost BankType = "japan-post"
	BankSony      BankType = "sony"
	BankAEON      BankType = "aeon"
	BankOFX       BankType = "ofx"
)

// BankInfo describes a supported bank.
type BankInfo struct {
	Code   string `json:"code" yaml:"code"`
	Name   string `json:"name" yaml:"name"`
	NameEn string `json:"nameEn" yaml:"nameEn"`
}

// CSVBanks lists the CSV dialects in detection order.
var CSVBanks = []BankType{
	BankSBI,
	BankMUFG,
	BankSMBC,
	BankMizuho,
	BankRakuten,
	BankJapanPost,
	BankSony,
	BankAEON,
}

var bankInfo = map[BankType]BankInfo{
	BankSBI:       {Code: "0038", Name: "住信SBIネット銀行", NameEn: "SBI Sumishin Net Bank"},
	BankMUFG:      {Code: "0005", Name: "三菱UFJ銀行", NameEn: "MUFG Bank"},
	BankSMBC:      {Code: "0009", Name: "三井住友銀行", NameEn: "SMBC"},
	BankMizuho:    {Code: "0001", Name: "みずほ銀行", NameEn: "Mizuho Bank"},
	BankRakuten:   {Code: "0036", Name: "楽天銀行", NameEn: "Rakuten Bank"},
	BankJapanPost: {Code: "9900", Name: "ゆうちょ銀行", NameEn: "Japan Post Bank"},
	BankSony:      {Code: "0035", Name: "ソニー銀行", NameEn: "Sony Bank"},
	BankAEON:      {Code: "0040", Name: "イオン銀行", NameEn: "AEON Bank"},
}

// Info returns the metadata for a bank, if known.
func (b BankType) Info() (BankInfo, bool) {
	info, ok := bankInfo[b]
	return info, ok
}

// IsCSV reports whether b is one of the CSV dialects.
func (b BankType) IsCSV() bool {
	_, ok := bankInfo[b]
	return ok
}

// ParseBankType converts a caller supplied string to a BankType.
// An empty string means BankAuto.
func ParseBankType(s string) (BankType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return BankAuto, nil
	}
	b := BankType(s)
	if b == BankAuto || b == BankOFX || b.IsCSV() {
		return b, nil
	}
	return "", fmt.Errorf("unsupported bank type %q", s)
}

// SupportedBank pairs a bank type with its metadata.
type SupportedBank struct {
	Type BankType `json:"type"`
	Info BankInfo `json:"info"`
}

// SupportedBanks returns every CSV bank in detection order.
func SupportedBanks() []SupportedBank {
	banks := make([]SupportedBank, 0, len(CSVBanks))
	for _, b := range CSVBanks {
		banks = append(banks, SupportedBank{Type: b, Info: bankInfo[b]})
	}
	return banks
}
