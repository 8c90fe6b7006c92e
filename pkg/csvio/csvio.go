// Package csvio reads and writes the catalog as a flat CSV file where each row
// is a project, suite, case or step, and writes session reports.
package csvio

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Header is the column layout of catalog files.
var Header = []string{
	"project_name",
	"type",
	"parent",
	"name",
	"description",
	"order",
	"status",
	"priority",
	"prerequisites",
	"expected_result",
}

// Row types.
const (
	TypeProject = "project"
	TypeSuite   = "suite"
	TypeCase    = "case"
	TypeStep    = "step"
)

// FormatError reports a malformed file. Row is 1-based over data rows; 0 means the header.
type FormatError struct {
	Row     int
	Message string
}

func (e *FormatError) Error() string {
	if e.Row == 0 {
		return "invalid CSV format: " + e.Message
	}
	return fmt.Sprintf("invalid data format at row %d: %s", e.Row, e.Message)
}

// Decode returns a UTF-8 reader over r. A UTF-8 byte order mark is dropped and
// content that is not valid UTF-8 is read as Shift_JIS, the usual spreadsheet
// export encoding for Japanese locales.
func Decode(r io.Reader) (io.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV input: %w", err)
	}
	if utf8.Valid(data) {
		return transform.NewReader(bytes.NewReader(data), unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	}
	return transform.NewReader(bytes.NewReader(data), japanese.ShiftJIS.NewDecoder()), nil
}
