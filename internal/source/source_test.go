package source

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/entrysync/internal/model"
	"github.com/cleared-dev/entrysync/internal/money"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func fixture(id int64, number string, logged time.Time) Fixture {
	return Fixture{
		Entry: EntryRow{
			ID: id, EntryNumber: number, EntryType: "AB", Currency: "CAD",
			FileLoggedAt: logged, LastExportedFromSource: logged.Add(time.Hour),
		},
		Identifiers: map[string][]string{"Fenix Importer": {"IMP1"}},
		Tariffs: []TariffRow{
			{ID: id*10 + 1, CustomsLine: "1", Subheader: 1, LineNumber: 1, Duty: "10.00", ValueForDuty: "100"},
		},
	}
}

func TestAssemble(t *testing.T) {
	release := date(2025, 2, 1)
	e := EntryRow{ID: 1, EntryNumber: "11981000123456", ReleaseAt: &release}
	tariffs := []TariffRow{
		{ID: 11, CustomsLine: "10/SL", Subheader: 2, LineNumber: 1, LineType: "A", Duty: "1,000.00", ValueForDuty: "(5.00)", Quantity: "3"},
		{ID: 12, CustomsLine: "10", Subheader: 2, LineNumber: 2, LineType: "", GST: "4.25"},
	}
	pgas := []PGARecord{
		{ID: 101, TariffID: 11, Sequence: 2, AgencyCode: "HC", ProgramCode: "Y"},
		{ID: 100, TariffID: 11, Sequence: 1, AgencyCode: "HC", ProgramCode: "X"},
	}
	ings := []IngredientRecord{
		{PGAID: 100, Sequence: 2, Name: "B", Percent: "20"},
		{PGAID: 100, Sequence: 1, Name: "A", Quantity: "1.5"},
	}

	entry, err := Assemble(e, tariffs, pgas, ings)
	require.NoError(t, err)
	require.Len(t, entry.Lines, 2)
	assert.Equal(t, release, entry.ReleaseAt)

	first := entry.Lines[0]
	assert.Equal(t, model.DeclKey{EntryNumber: "11981000123456", CustomsLine: 10, Subheader: 2}, first.Key)
	assert.Equal(t, "SL", first.LineSuffix)
	assert.Equal(t, model.Adjustment, first.Type)
	assert.True(t, first.Amounts.Duty.Equal(decimal.RequireFromString("1000")))
	assert.True(t, first.Amounts.ValueForDuty.Equal(decimal.RequireFromString("-5")))
	assert.True(t, first.Quantity.Equal(decimal.NewFromInt(3)))

	require.Len(t, first.PGA, 2)
	assert.Equal(t, "X", first.PGA[0].ProgramCode)
	assert.Equal(t, "Y", first.PGA[1].ProgramCode)
	ingr := first.PGA[0].Detail.Ingredients
	require.Len(t, ingr, 2)
	assert.Equal(t, "A", ingr[0].Name)
	assert.True(t, ingr[0].Quantity.Valid)
	assert.False(t, ingr[0].Percent.Valid)
	assert.Equal(t, "20", ingr[1].Percent.Decimal.String())

	second := entry.Lines[1]
	assert.Equal(t, model.Correction, second.Type)
	assert.Equal(t, first.Key, second.Key)
	assert.Empty(t, second.PGA)
}

func TestAssemble_MalformedAmountFailsEntry(t *testing.T) {
	e := EntryRow{ID: 1, EntryNumber: "1"}
	tariffs := []TariffRow{
		{ID: 1, CustomsLine: "1", LineNumber: 1, Duty: "5"},
		{ID: 2, CustomsLine: "1", LineNumber: 2, GST: "12.3x"},
	}
	_, err := Assemble(e, tariffs, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, money.ErrMalformedAmount)
	assert.Contains(t, err.Error(), "gst")
	assert.Contains(t, err.Error(), "tariff row 2")
}

func TestAssemble_BadLineType(t *testing.T) {
	_, err := Assemble(EntryRow{EntryNumber: "1"}, []TariffRow{{CustomsLine: "1", LineType: "Q"}}, nil, nil)
	assert.ErrorContains(t, err, "unknown line type")
}

func TestAssemble_BadCustomsLine(t *testing.T) {
	_, err := Assemble(EntryRow{EntryNumber: "1"}, []TariffRow{{CustomsLine: "SL"}}, nil, nil)
	assert.ErrorContains(t, err, "invalid line number")
}

func TestMemoryCandidates(t *testing.T) {
	keep := fixture(1, "E1", date(2025, 1, 10))
	early := fixture(2, "E2", date(2024, 12, 31))
	other := fixture(3, "E3", date(2025, 1, 5))
	other.Identifiers = map[string][]string{"Fenix Importer": {"SOMEONE"}}
	freeTrade := fixture(4, "E4", date(2025, 1, 11))
	freeTrade.Entry.EntryType = "F"
	first := fixture(5, "E5", date(2025, 1, 2))
	fresh := fixture(6, "E6", date(2025, 1, 12))
	fresh.Entry.LastExportedFromSource = date(2025, 3, 1)

	m := NewMemory(keep, early, other, freeTrade, first, fresh)
	refs, err := m.Candidates(context.Background(), CandidateQuery{
		IdentifierSystem:   "Fenix Importer",
		Identifiers:        []string{"IMP1"},
		LoggedSince:        date(2025, 1, 1),
		ChangedBefore:      date(2025, 2, 1),
		ExcludedEntryTypes: []string{"F"},
	})
	require.NoError(t, err)

	var ids []int64
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{5, 1}, ids)
}

func TestExcluded_IgnoresCaseAndSpace(t *testing.T) {
	tests := []struct {
		entryType string
		types     []string
		want      bool
	}{
		{"F", []string{"F"}, true},
		{" f", []string{"F"}, true},
		{"F", []string{" f "}, true},
		{"AB", []string{"F"}, false},
		{"", []string{"F"}, false},
		{"F", nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, excluded(tt.entryType, tt.types), "%q in %q", tt.entryType, tt.types)
	}
	assert.Equal(t, []string{"F", "AB"}, normalizeEntryTypes([]string{" f", "ab "}))
	assert.NotNil(t, normalizeEntryTypes(nil))
}

func TestMemoryLoadEntry(t *testing.T) {
	m := NewMemory(fixture(1, "E1", date(2025, 1, 10)))

	e, err := m.LoadEntry(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "E1", e.EntryNumber)
	require.Len(t, e.Lines, 1)

	_, err = m.LoadEntry(context.Background(), 9)
	assert.ErrorIs(t, err, ErrNotFound)
}
