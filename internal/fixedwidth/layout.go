// Package fixedwidth encodes declarations as fixed-width flat-file records.
package fixedwidth

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/entrysync/internal/money"
)

// ErrFieldOverflow is returned when a value does not fit its field.
var ErrFieldOverflow = errors.New("value exceeds field width")

// ErrPrecision is returned when a decimal has more places than its field.
var ErrPrecision = errors.New("value exceeds field precision")

// CRLF is the record separator partners expect.
const CRLF = "\r\n"

// Kind is the value type a field holds.
type Kind int

const (
	Text Kind = iota
	Integer
	Decimal
	Date
)

// Justify controls how a value is padded to its width.
type Justify int

const (
	Left       Justify = iota // value then spaces
	RightZero                 // zeros then value
	RightSpace                // spaces then value
)

// Field is one column range of a record. Start is 1-based.
type Field struct {
	Name       string
	Start      int
	Width      int
	Kind       Kind
	Justify    Justify
	Scale      int32  // decimal places for Decimal fields
	Implied    bool   // decimal point implied: 12.34 at scale 2 renders as 1234
	DateLayout string // time layout for Date fields
}

func (f Field) end() int { return f.Start + f.Width - 1 }

// Record maps field names to values. Accepted value types are string,
// int, int64, decimal.Decimal and time.Time.
type Record map[string]any

// Layout is an ordered set of non-overlapping fields.
type Layout struct {
	Name            string
	Fields          []Field
	RecordSeparator string
	Location        *time.Location // dates are rendered in this zone
}

// Validate checks that fields are positive-width and do not overlap.
func (l Layout) Validate() error {
	fields := make([]Field, len(l.Fields))
	copy(fields, l.Fields)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Start < fields[j].Start })

	seen := make(map[string]bool)
	prevEnd := 0
	for _, f := range fields {
		if f.Start < 1 || f.Width < 1 {
			return fmt.Errorf("layout %s: field %s has invalid range %d+%d", l.Name, f.Name, f.Start, f.Width)
		}
		if f.Start <= prevEnd {
			return fmt.Errorf("layout %s: field %s overlaps column %d", l.Name, f.Name, prevEnd)
		}
		if seen[f.Name] {
			return fmt.Errorf("layout %s: duplicate field %s", l.Name, f.Name)
		}
		if f.Kind == Date && f.DateLayout == "" {
			return fmt.Errorf("layout %s: date field %s has no layout", l.Name, f.Name)
		}
		seen[f.Name] = true
		prevEnd = f.end()
	}
	return nil
}

// Length is the record length excluding the separator.
func (l Layout) Length() int {
	n := 0
	for _, f := range l.Fields {
		if f.end() > n {
			n = f.end()
		}
	}
	return n
}

func (l Layout) location() *time.Location {
	if l.Location == nil {
		return time.UTC
	}
	return l.Location
}

// Format renders rec as one record without the separator. Columns not
// covered by a field are spaces. Missing text and date values render
// blank, missing numbers render as zero.
func (l Layout) Format(rec Record) (string, error) {
	buf := []byte(strings.Repeat(" ", l.Length()))
	for _, f := range l.Fields {
		s, err := l.render(f, rec[f.Name])
		if err != nil {
			return "", fmt.Errorf("field %s: %w", f.Name, err)
		}
		copy(buf[f.Start-1:], s)
	}
	return string(buf), nil
}

func (l Layout) render(f Field, v any) (string, error) {
	var raw string
	switch f.Kind {
	case Text:
		s, err := asString(v)
		if err != nil {
			return "", err
		}
		raw = sanitize(s)
	case Integer:
		n, err := asInt(v)
		if err != nil {
			return "", err
		}
		return pad(f, strconv.FormatInt(n, 10))
	case Decimal:
		d, err := asDecimal(v)
		if err != nil {
			return "", err
		}
		if !d.Equal(d.Round(f.Scale)) {
			return "", fmt.Errorf("%w: %s has more than %d places, field %s", ErrPrecision, d, f.Scale, f.Name)
		}
		if f.Implied {
			return pad(f, d.Shift(f.Scale).StringFixed(0))
		}
		return pad(f, money.Fixed(d, f.Scale))
	case Date:
		t, err := asTime(v)
		if err != nil {
			return "", err
		}
		if !t.IsZero() {
			raw = t.In(l.location()).Format(f.DateLayout)
		}
	default:
		return "", fmt.Errorf("unknown kind %d", f.Kind)
	}
	return pad(f, raw)
}

// pad justifies s to the field width. Negative numbers keep their sign
// in the first column when zero-padded.
func pad(f Field, s string) (string, error) {
	if len(s) > f.Width {
		return "", fmt.Errorf("%w: %q is %d wide, field %s allows %d", ErrFieldOverflow, s, len(s), f.Name, f.Width)
	}
	fill := f.Width - len(s)
	switch f.Justify {
	case RightZero:
		if strings.HasPrefix(s, "-") {
			return "-" + strings.Repeat("0", fill) + s[1:], nil
		}
		return strings.Repeat("0", fill) + s, nil
	case RightSpace:
		return strings.Repeat(" ", fill) + s, nil
	default:
		return s + strings.Repeat(" ", fill), nil
	}
}

// sanitize replaces control and non-ASCII characters so every record
// keeps its byte length.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return ' '
		case r > 0x7e:
			return '?'
		default:
			return r
		}
	}, s)
}

// Parse splits one record (separator already removed) into typed values.
func (l Layout) Parse(line string) (Record, error) {
	if len(line) != l.Length() {
		return nil, fmt.Errorf("record length %d, layout %s expects %d", len(line), l.Name, l.Length())
	}
	rec := make(Record, len(l.Fields))
	for _, f := range l.Fields {
		raw := line[f.Start-1 : f.end()]
		v, err := l.parseField(f, raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		rec[f.Name] = v
	}
	return rec, nil
}

func (l Layout) parseField(f Field, raw string) (any, error) {
	switch f.Kind {
	case Text:
		switch f.Justify {
		case RightSpace:
			return strings.TrimLeft(raw, " "), nil
		case RightZero:
			return strings.TrimLeft(raw, "0"), nil
		default:
			return strings.TrimRight(raw, " "), nil
		}
	case Integer:
		s := strings.TrimSpace(raw)
		if s == "" {
			return int64(0), nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing integer %q: %w", raw, err)
		}
		return n, nil
	case Decimal:
		s := strings.TrimSpace(raw)
		if s == "" {
			return decimal.Zero, nil
		}
		if f.Implied {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing implied decimal %q: %w", raw, err)
			}
			return decimal.New(n, -f.Scale), nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("parsing decimal %q: %w", raw, err)
		}
		return d, nil
	case Date:
		s := strings.TrimSpace(raw)
		if s == "" {
			return time.Time{}, nil
		}
		t, err := time.ParseInLocation(f.DateLayout, s, l.location())
		if err != nil {
			return nil, fmt.Errorf("parsing date %q: %w", raw, err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown kind %d", f.Kind)
	}
}

func asString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	default:
		return "", fmt.Errorf("cannot render %T as text", v)
	}
}

func asInt(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	default:
		return 0, fmt.Errorf("cannot render %T as integer", v)
	}
}

func asDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return x, nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	default:
		return decimal.Zero, fmt.Errorf("cannot render %T as decimal", v)
	}
}

func asTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x, nil
	default:
		return time.Time{}, fmt.Errorf("cannot render %T as date", v)
	}
}
