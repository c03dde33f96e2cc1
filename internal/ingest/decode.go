package ingest

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"chemviz/internal/parser/csv"
)

// DecodeUpload turns uploaded bytes into text for Ingest.
//
// A leading UTF-8 byte order mark is removed. Anything that is not valid
// UTF-8 is rejected with the encoding ValidationError; no other charset is
// guessed.
func DecodeUpload(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", csv.NewEncodingError()
	}
	out, _, err := transform.Bytes(unicode.UTF8BOM.NewDecoder(), b)
	if err != nil {
		return "", csv.NewEncodingError()
	}
	return string(out), nil
}
