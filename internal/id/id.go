package id

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultPrefixDigit replaces a zero in the eighth-from-last position of
// an entry number when building sequence numbers.
const DefaultPrefixDigit = '1'

const (
	sequenceDigits  = 9
	ordinalWidth    = 6
	prefixPosition  = 8 // counted from the end of the trimmed entry number
	fileStampLayout = "20060102150405"
)

// Sequence returns the partner sequence number for a declaration line:
// the last nine digits of the entry number followed by the six-digit
// zero-padded line ordinal. Calls with equal inputs return equal output.
func Sequence(entryNumber string, lineOrdinal int) string {
	return SequenceWithPrefix(entryNumber, lineOrdinal, DefaultPrefixDigit)
}

// SequenceWithPrefix is Sequence with an explicit substitution digit.
func SequenceWithPrefix(entryNumber string, lineOrdinal int, prefix byte) string {
	digits := onlyDigits(entryNumber)
	if len(digits) > sequenceDigits {
		digits = digits[len(digits)-sequenceDigits:]
	} else if len(digits) < sequenceDigits {
		digits = strings.Repeat("0", sequenceDigits-len(digits)) + digits
	}

	b := []byte(digits)
	if i := len(b) - prefixPosition; b[i] == '0' {
		b[i] = prefix
	}
	return string(b) + fmt.Sprintf("%0*d", ordinalWidth, lineOrdinal)
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// SplitLineNumber parses a composite line number such as "10/SL" into the
// numeric line and its suffix. A plain "10" has an empty suffix.
func SplitLineNumber(s string) (line int, suffix string, err error) {
	num, suffix, _ := strings.Cut(strings.TrimSpace(s), "/")
	line, err = strconv.Atoi(strings.TrimSpace(num))
	if err != nil {
		return 0, "", fmt.Errorf("invalid line number %q: %w", s, err)
	}
	return line, strings.TrimSpace(suffix), nil
}

// FormatLineNumber is the inverse of SplitLineNumber.
func FormatLineNumber(line int, suffix string) string {
	if suffix == "" {
		return strconv.Itoa(line)
	}
	return strconv.Itoa(line) + "/" + suffix
}

// FileNameParts names the pieces of an outbound file name.
type FileNameParts struct {
	PartnerID   string
	Country     string
	Form        string
	BrokerID    string
	EntryNumber string
	Extension   string // without the dot
}

// FileName returns "<partner>_<country>_<form>_<broker>_<entry>_<yyyyMMddHHmmss>.<ext>",
// with the timestamp rendered in loc.
func FileName(p FileNameParts, at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("%s_%s_%s_%s_%s_%s.%s",
		p.PartnerID, p.Country, p.Form, p.BrokerID, p.EntryNumber,
		at.In(loc).Format(fileStampLayout), p.Extension)
}

// ParseFileName splits a name produced by FileName back into its parts.
func ParseFileName(name string) (FileNameParts, time.Time, error) {
	base, ext, ok := strings.Cut(name, ".")
	if !ok {
		return FileNameParts{}, time.Time{}, fmt.Errorf("invalid file name %q: no extension", name)
	}
	parts := strings.Split(base, "_")
	if len(parts) != 6 {
		return FileNameParts{}, time.Time{}, fmt.Errorf("invalid file name %q: expected 6 parts, got %d", name, len(parts))
	}
	at, err := time.Parse(fileStampLayout, parts[5])
	if err != nil {
		return FileNameParts{}, time.Time{}, fmt.Errorf("invalid timestamp in file name %q: %w", name, err)
	}
	return FileNameParts{
		PartnerID:   parts[0],
		Country:     parts[1],
		Form:        parts[2],
		BrokerID:    parts[3],
		EntryNumber: parts[4],
		Extension:   ext,
	}, at, nil
}

// BatchNumber renders a counter value as the six-digit batch number used
// in outbound files.
func BatchNumber(v int64) string {
	return fmt.Sprintf("%06d", v)
}
