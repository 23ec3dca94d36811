package fixedwidth

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/entrysync/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func toronto(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)
	return loc
}

func testDeclaration() *model.Declaration {
	return &model.Declaration{
		Header: model.DeclarationHeader{
			EntryNumber:     "11981000123456",
			BrokerReference: "REF77",
			Currency:        "CAD",
			ReleaseAt:       time.Date(2025, 2, 1, 3, 0, 0, 0, time.UTC),
			BatchNumber:     42,
		},
		Lines: []model.DeclarationLine{
			{
				Key:           model.DeclKey{EntryNumber: "11981000123456", CustomsLine: 10, Subheader: 1},
				Ordinal:       1,
				Sequence:      "010123456000001",
				PartNumber:    "PN-1",
				Description:   "STEEL BOLTS",
				HTSCode:       "7318150000",
				CountryOrigin: "CN",
				PONumber:      "PO123",
				Amounts: model.Amounts{
					ValueForDuty: dec("-500"),
					Duty:         dec("25.10"),
					GST:          dec("5.05"),
				},
				Payable: dec("30.15"),
				Refund:  decimal.Zero,
			},
			{
				Key:      model.DeclKey{EntryNumber: "11981000123456", CustomsLine: 11, Subheader: 1},
				Ordinal:  2,
				Sequence: "010123456000002",
				Amounts:  model.Amounts{Duty: dec("-12.00")},
				Refund:   dec("12"),
			},
		},
	}
}

func TestBillingLayout_Valid(t *testing.T) {
	l := BillingLayout(time.UTC)
	require.NoError(t, l.Validate())
	assert.Equal(t, 260, l.Length())
}

func TestLayoutValidate_Overlap(t *testing.T) {
	l := Layout{Name: "bad", Fields: []Field{
		{Name: "a", Start: 1, Width: 5},
		{Name: "b", Start: 5, Width: 2},
	}}
	assert.Error(t, l.Validate())

	l = Layout{Name: "bad", Fields: []Field{{Name: "d", Start: 1, Width: 8, Kind: Date}}}
	assert.Error(t, l.Validate())
}

func TestEncode_PONumberPadding(t *testing.T) {
	data, err := Encode(testDeclaration(), BillingLayout(toronto(t)))
	require.NoError(t, err)

	first := strings.SplitN(string(data), CRLF, 2)[0]
	assert.Equal(t, "PO123"+strings.Repeat(" ", 15), first[104:124])
}

func TestEncode_RecordsAndSeparators(t *testing.T) {
	data, err := Encode(testDeclaration(), BillingLayout(toronto(t)))
	require.NoError(t, err)

	s := string(data)
	assert.True(t, strings.HasSuffix(s, CRLF))
	records := strings.Split(strings.TrimSuffix(s, CRLF), CRLF)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Len(t, r, 260)
	}

	first := records[0]
	assert.Equal(t, "D", first[0:1])
	assert.Equal(t, "000042", first[1:7])
	assert.Equal(t, "010123456000001", first[7:22])
	// Released 03:00 UTC on Feb 1 is still Jan 31 in Toronto.
	assert.Equal(t, "20250131", first[46:54])
	assert.Equal(t, "0010", first[54:58])
	assert.Equal(t, "-00000000500.00", first[127:142])
	assert.Equal(t, "0000000002510", first[142:155])
	assert.Equal(t, "0000000003015", first[194:207])
	assert.Equal(t, "0000000000000", first[207:220])

	second := records[1]
	assert.Equal(t, "-000000001200", second[142:155])
	assert.Equal(t, "0000000000000", second[194:207])
	assert.Equal(t, "0000000001200", second[207:220])
	assert.NotContains(t, second, "-0000000000000")
}

func TestEncode_Overflow(t *testing.T) {
	decl := testDeclaration()
	decl.Lines[0].PONumber = strings.Repeat("X", 21)

	_, err := Encode(decl, BillingLayout(time.UTC))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFieldOverflow)
	assert.Contains(t, err.Error(), FieldPONumber)
}

func TestEncode_NumericOverflow(t *testing.T) {
	decl := testDeclaration()
	decl.Lines[0].Amounts.Duty = dec("123456789012.00")

	_, err := Encode(decl, BillingLayout(time.UTC))
	assert.ErrorIs(t, err, ErrFieldOverflow)
}

func TestEncode_ExcessPrecision(t *testing.T) {
	tests := []struct {
		name  string
		field string
		set   func(l *model.DeclarationLine)
	}{
		{"implied scale", FieldDuty, func(l *model.DeclarationLine) { l.Amounts.Duty = dec("12.345") }},
		{"explicit scale", FieldValueForDuty, func(l *model.DeclarationLine) { l.Amounts.ValueForDuty = dec("100.004") }},
		{"payable bucket", FieldTotalPayable, func(l *model.DeclarationLine) { l.Payable = dec("30.151") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decl := testDeclaration()
			tt.set(&decl.Lines[0])

			data, err := Encode(decl, BillingLayout(time.UTC))
			assert.Nil(t, data)
			assert.ErrorIs(t, err, ErrPrecision)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestEncode_TrailingZerosAreNotExcess(t *testing.T) {
	decl := testDeclaration()
	decl.Lines[0].Amounts.Duty = dec("25.1000")

	data, err := Encode(decl, BillingLayout(time.UTC))
	require.NoError(t, err)
	first := strings.SplitN(string(data), CRLF, 2)[0]
	assert.Equal(t, "0000000002510", first[142:155])
}

func TestRoundTrip(t *testing.T) {
	loc := toronto(t)
	layout := BillingLayout(loc)
	decl := testDeclaration()

	data, err := Encode(decl, layout)
	require.NoError(t, err)

	recs, err := Decode(data, layout)
	require.NoError(t, err)
	require.Len(t, recs, len(decl.Lines))

	for i, l := range decl.Lines {
		want := BillingRecord(decl.Header, l)
		got := recs[i]
		for _, f := range layout.Fields {
			switch f.Kind {
			case Text:
				assert.Equal(t, want[f.Name], got[f.Name], "line %d field %s", i, f.Name)
			case Integer:
				n, err := asInt(want[f.Name])
				require.NoError(t, err)
				assert.Equal(t, n, got[f.Name], "line %d field %s", i, f.Name)
			case Decimal:
				d, err := asDecimal(want[f.Name])
				require.NoError(t, err)
				assert.True(t, d.Equal(got[f.Name].(decimal.Decimal)), "line %d field %s: %s != %s", i, f.Name, d, got[f.Name])
			case Date:
				wantDay := want[f.Name].(time.Time).In(loc).Format(dateLayout)
				assert.Equal(t, wantDay, got[f.Name].(time.Time).Format(dateLayout))
			}
		}
	}
}

func TestFormat_SanitizesText(t *testing.T) {
	l := Layout{Name: "t", Fields: []Field{{Name: "s", Start: 1, Width: 6, Kind: Text}}}
	out, err := l.Format(Record{"s": "a\nbé"})
	require.NoError(t, err)
	assert.Equal(t, "a b?  ", out)
}

func TestFormat_RightSpace(t *testing.T) {
	l := Layout{Name: "t", Fields: []Field{
		{Name: "s", Start: 1, Width: 5, Kind: Text, Justify: RightSpace},
		{Name: "n", Start: 7, Width: 3, Kind: Integer, Justify: RightZero},
	}}
	out, err := l.Format(Record{"s": "ab"})
	require.NoError(t, err)
	assert.Equal(t, "   ab 000", out)

	rec, err := l.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "ab", rec["s"])
	assert.Equal(t, int64(0), rec["n"])
}

func TestFormat_WrongType(t *testing.T) {
	l := Layout{Name: "t", Fields: []Field{{Name: "n", Start: 1, Width: 3, Kind: Integer}}}
	_, err := l.Format(Record{"n": "12"})
	assert.Error(t, err)
}

func TestParse_WrongLength(t *testing.T) {
	_, err := BillingLayout(time.UTC).Parse("short")
	assert.Error(t, err)
}
