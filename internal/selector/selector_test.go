package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/entrysync/internal/ledger"
	"github.com/cleared-dev/entrysync/internal/model"
	"github.com/cleared-dev/entrysync/internal/source"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

type fakeLedger struct {
	recs map[int64]ledger.SyncRecord
	err  error
}

func (f fakeLedger) Confirmed(_ context.Context, _, _ string, ids []int64) (map[int64]ledger.SyncRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int64]ledger.SyncRecord)
	for _, id := range ids {
		if r, ok := f.recs[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func confirmedAt(t time.Time) ledger.SyncRecord {
	return ledger.SyncRecord{State: model.SyncConfirmed, ConfirmedAt: &t}
}

func fixture(id int64, logged, changed time.Time) source.Fixture {
	return source.Fixture{
		Entry: source.EntryRow{
			ID: id, EntryNumber: "E", FileLoggedAt: logged, LastExportedFromSource: changed,
		},
		Identifiers: map[string][]string{"Fenix Importer": {"IMP1"}},
	}
}

func criteria() Criteria {
	return Criteria{
		TradingPartner:     "SIEMENS BILLING",
		IdentifierSystem:   "Fenix Importer",
		Identifiers:        []string{"IMP1"},
		SystemStartDate:    date(2025, 1, 1),
		ExcludedEntryTypes: []string{"F"},
		Now:                date(2025, 6, 1),
	}
}

func TestSelect(t *testing.T) {
	src := source.NewMemory(
		fixture(1, date(2025, 1, 5), date(2025, 1, 6)), // never sent
		fixture(2, date(2025, 1, 3), date(2025, 1, 4)), // sent after last change
		fixture(3, date(2025, 1, 4), date(2025, 2, 1)), // changed after send
		fixture(4, date(2025, 1, 2), date(2025, 1, 2)), // failed earlier: no record
	)
	l := fakeLedger{recs: map[int64]ledger.SyncRecord{
		2: confirmedAt(date(2025, 1, 10)),
		3: confirmedAt(date(2025, 1, 10)),
	}}

	refs, err := New(src, l).Select(context.Background(), criteria())
	require.NoError(t, err)

	var ids []int64
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{4, 3, 1}, ids)
}

func TestSelect_MinLag(t *testing.T) {
	src := source.NewMemory(
		fixture(1, date(2025, 1, 5), date(2025, 5, 31)),
		fixture(2, date(2025, 1, 5), date(2025, 5, 1)),
	)
	c := criteria()
	c.MinLag = 48 * time.Hour

	refs, err := New(src, fakeLedger{}).Select(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, int64(2), refs[0].ID)
}

func TestSelect_Watermark(t *testing.T) {
	c := criteria()
	c.SystemStartDate = time.Time{}
	_, err := New(source.NewMemory(), fakeLedger{}).Select(context.Background(), c)
	assert.ErrorIs(t, err, ErrWatermark)
}

func TestSelect_LedgerError(t *testing.T) {
	src := source.NewMemory(fixture(1, date(2025, 1, 5), date(2025, 1, 6)))
	_, err := New(src, fakeLedger{err: errors.New("db down")}).Select(context.Background(), criteria())
	assert.ErrorContains(t, err, "db down")
}

func TestNeedsExport(t *testing.T) {
	ref := model.EntityRef{LastExportedFromSource: date(2025, 1, 5)}

	assert.True(t, NeedsExport(ref, ledger.SyncRecord{}))
	assert.True(t, NeedsExport(ref, ledger.SyncRecord{State: model.SyncSending}))
	assert.False(t, NeedsExport(ref, confirmedAt(date(2025, 1, 6))))
	assert.False(t, NeedsExport(ref, confirmedAt(date(2025, 1, 5))))
	assert.True(t, NeedsExport(ref, confirmedAt(date(2025, 1, 4))))
}
