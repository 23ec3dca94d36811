// Package selector decides which entries a run should export.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cleared-dev/entrysync/internal/ledger"
	"github.com/cleared-dev/entrysync/internal/model"
	"github.com/cleared-dev/entrysync/internal/source"
)

// ErrWatermark means the system start date is missing; the run must stop.
var ErrWatermark = errors.New("system start date watermark is not set")

// Ledger is the part of the sync ledger the selector reads.
type Ledger interface {
	Confirmed(ctx context.Context, entityType, partner string, ids []int64) (map[int64]ledger.SyncRecord, error)
}

// Criteria describes one partner's selection.
type Criteria struct {
	TradingPartner     string
	IdentifierSystem   string
	Identifiers        []string
	SystemStartDate    time.Time
	MinLag             time.Duration
	ExcludedEntryTypes []string
	Now                time.Time // zero means time.Now()
}

// Selector combines upstream candidates with the sync ledger.
type Selector struct {
	src    source.Source
	ledger Ledger
}

// New returns a Selector.
func New(src source.Source, l Ledger) *Selector {
	return &Selector{src: src, ledger: l}
}

// Select returns entries that have no confirmed record for the partner,
// or that changed upstream after their last confirmation. Output is
// ordered by file-logged date, then id.
func (s *Selector) Select(ctx context.Context, c Criteria) ([]model.EntityRef, error) {
	if c.SystemStartDate.IsZero() {
		return nil, ErrWatermark
	}
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}
	var changedBefore time.Time
	if c.MinLag > 0 {
		changedBefore = now.Add(-c.MinLag)
	}

	refs, err := s.src.Candidates(ctx, source.CandidateQuery{
		IdentifierSystem:   c.IdentifierSystem,
		Identifiers:        c.Identifiers,
		LoggedSince:        c.SystemStartDate,
		ChangedBefore:      changedBefore,
		ExcludedEntryTypes: c.ExcludedEntryTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("selecting candidates for %s: %w", c.TradingPartner, err)
	}
	if len(refs) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	confirmed, err := s.ledger.Confirmed(ctx, ledger.EntityEntry, c.TradingPartner, ids)
	if err != nil {
		return nil, fmt.Errorf("reading ledger for %s: %w", c.TradingPartner, err)
	}

	out := refs[:0:0]
	for _, r := range refs {
		if NeedsExport(r, confirmed[r.ID]) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].FileLoggedAt.Equal(out[j].FileLoggedAt) {
			return out[i].FileLoggedAt.Before(out[j].FileLoggedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// NeedsExport reports whether ref must be sent given its ledger record.
// A zero record means none exists.
func NeedsExport(ref model.EntityRef, rec ledger.SyncRecord) bool {
	if rec.State != model.SyncConfirmed || rec.ConfirmedAt == nil {
		return true
	}
	return ref.LastExportedFromSource.After(*rec.ConfirmedAt)
}
