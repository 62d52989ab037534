// Package csvrow implements a one-pass CSV line splitter and typed field
// extraction for the catalog formats consumed by the indexer and
// duplicator. It intentionally diverges from RFC 4180: the escape
// character is unconditionally active (even outside quotes), embedded
// newlines are never permitted, and numeric fields must not be quoted.
// Because of this, the standard library's encoding/csv package cannot
// be used as-is.
package csvrow

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MaxLineSize is the maximum permitted length, in bytes, of a single
// CSV line (including its terminator).
const MaxLineSize = 16384

// Quote, Escape and Newline are the fixed special characters recognized
// by Split. The delimiter is caller-supplied and must not collide with
// any of them.
const (
	Quote   = '"'
	Escape  = '\\'
	Newline = '\n'
)

// Split parses a single CSV line out of buf starting at offset 0,
// storing n+1 field boundary offsets into fields (so field i spans
// buf[fields[i]:fields[i+1]-1]; the byte at fields[i+1]-1 is always the
// delimiter or line terminator and must be excluded from the field's
// value; for a line unterminated at EOF, fields[n]-1 is len(buf), one
// past the end). fields must have length n+1 or more; only the first n+1
// entries are written. Split returns the offset of the first byte past
// the consumed line (i.e. past the terminating '\n', or len(buf) if the
// line is unterminated at EOF).
//
// Fields never span lines: any '\n' ends the line, even mid-quote or
// right after an escape. A quote or escape still open at the point the
// line ends is an error.
func Split(buf []byte, delim byte, fields []int, n int) (int, error) {
	if len(buf) == 0 {
		return 0, errors.New("csvrow: line ends before it begins")
	}
	if n < 1 {
		return 0, errors.New("csvrow: field count must be >= 1")
	}
	if len(fields) < n+1 {
		return 0, errors.New("csvrow: fields slice too small")
	}
	if delim == Escape || delim == Quote || delim == Newline {
		return 0, errors.New("csvrow: delimiter must not be '\\', '\"' or '\\n'")
	}

	fields[0] = 0
	i := 1
	sawQuote := false
	sawEscape := false
	terminated := false
	pos := 0
	for ; pos < len(buf); pos++ {
		b := buf[pos]
		if b == Newline {
			pos++
			terminated = true
			break
		}
		switch {
		case sawEscape:
			sawEscape = false
		case sawQuote:
			sawEscape = b == Escape
			sawQuote = b != Quote
		default:
			sawEscape = b == Escape
			sawQuote = b == Quote
			if b == delim {
				if i >= n {
					return 0, errors.New("csvrow: too many fields in line")
				}
				fields[i] = pos + 1
				i++
			}
		}
	}
	if sawQuote || sawEscape {
		return 0, errors.New("csvrow: invalid line format: embedded newline, trailing escape, or missing quote")
	}
	if i != n {
		return 0, errors.Errorf("csvrow: line has %d fields, expected %d", i, n)
	}
	fields[i] = pos
	if !terminated {
		fields[i] = pos + 1
	}
	return pos, nil
}

// trim removes leading and trailing ASCII whitespace from field,
// matching the C-locale isspace used by the reference parser.
func trim(field []byte) []byte {
	start := 0
	for start < len(field) && isSpace(field[start]) {
		start++
	}
	end := len(field)
	for end > start && isSpace(field[end-1]) {
		end--
	}
	return field[start:end]
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	default:
		return false
	}
}

// IsNull reports whether field (after trimming whitespace) encodes a
// NULL value: an empty field, the literal `\N`, or the literal `NULL`.
func IsNull(field []byte) bool {
	f := trim(field)
	if len(f) == 0 {
		return true
	}
	if len(f) == 2 && f[0] == '\\' && f[1] == 'N' {
		return true
	}
	if len(f) == 4 && string(f) == "NULL" {
		return true
	}
	return false
}

// ExtractDouble parses field (after trimming whitespace) as a float64.
// It fails if the field is empty or contains characters left over after
// parsing a full floating point literal; quoted numeric fields are not
// supported.
func ExtractDouble(field []byte) (float64, error) {
	f := trim(field)
	if len(f) == 0 {
		return 0, errors.New("csvrow: cannot convert empty field to a double")
	}
	v, err := strconv.ParseFloat(string(f), 64)
	if err != nil {
		return 0, errors.Wrap(err, "csvrow: failed to convert field to a double")
	}
	return v, nil
}

// ExtractInt parses field (after trimming whitespace) as an int64. It
// fails if the field is empty or contains characters left over after
// parsing a full integer literal; quoted numeric fields are not
// supported.
func ExtractInt(field []byte) (int64, error) {
	f := trim(field)
	if len(f) == 0 {
		return 0, errors.New("csvrow: cannot convert empty field to an integer")
	}
	v, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "csvrow: failed to convert field to an integer")
	}
	return v, nil
}

// Field extracts field i (0-indexed) of n from buf given the boundary
// offsets produced by Split, excluding the trailing delimiter/terminator
// byte.
func Field(buf []byte, fields []int, i int) []byte {
	lo, hi := fields[i], fields[i+1]
	if hi > lo {
		hi--
	}
	return buf[lo:hi]
}

// JoinFieldNames joins names into a single comma-separated list.
func JoinFieldNames(names []string) string {
	return strings.Join(names, ",")
}
