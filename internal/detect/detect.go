// Package detect classifies uploaded statements as CSV or OFX.
package detect

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"strings"

	"github.com/Veraticus/spice-reconcile/internal/model"
)

// sniffBytes bounds how much of a file is inspected for markers.
const sniffBytes = 4096

// csvSampleLines is the number of leading non-empty lines that must agree
// on a field count before content is treated as CSV.
const csvSampleLines = 5

var ofxMarkers = []string{"OFXHEADER", "<?OFX", "<OFX>", "<STMTTRN>"}

// Detect returns the container format of a statement.
//
// A forced csv or ofx type wins unconditionally. Otherwise the content is
// sniffed for OFX markers or a consistent comma-separated layout, and the
// file extension is consulted last. FileTypeUnknown means nothing matched.
func Detect(content []byte, fileName string, forced model.FileType) model.FileType {
	if forced == model.FileTypeCSV || forced == model.FileTypeOFX {
		return forced
	}

	if ft := sniff(content); ft != model.FileTypeUnknown {
		return ft
	}

	return byExtension(fileName)
}

func sniff(content []byte) model.FileType {
	head := content
	if len(head) > sniffBytes {
		head = head[:sniffBytes]
		// Drop the partial last line so it is not counted as a short record.
		if i := bytes.LastIndexByte(head, '\n'); i > 0 {
			head = head[:i+1]
		}
	}

	upper := strings.ToUpper(string(head))
	for _, marker := range ofxMarkers {
		if strings.Contains(upper, marker) {
			return model.FileTypeOFX
		}
	}

	if looksLikeCSV(head) {
		return model.FileTypeCSV
	}
	return model.FileTypeUnknown
}

// looksLikeCSV requires the first non-empty record to have at least two
// fields, and the following sampled records to have the same count give or
// take one (bank exports often add a trailing comma). Quoted fields such as
// "1,120,000" count once.
func looksLikeCSV(head []byte) bool {
	r := csv.NewReader(bytes.NewReader(head))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	want := 0
	seen := 0
	for seen < csvSampleLines {
		record, err := r.Read()
		if err != nil {
			// EOF, or a record cut off by the sniff window.
			break
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		fields := len(record)
		if seen == 0 {
			if fields < 2 {
				return false
			}
			want = fields
		} else if fields < want-1 || fields > want+1 {
			return false
		}
		seen++
	}
	return seen > 0
}

func byExtension(fileName string) model.FileType {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv":
		return model.FileTypeCSV
	case ".ofx", ".qfx":
		return model.FileTypeOFX
	default:
		return model.FileTypeUnknown
	}
}
