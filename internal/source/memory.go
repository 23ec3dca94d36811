package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cleared-dev/entrysync/internal/model"
)

// Fixture is everything the upstream platform holds for one entry.
type Fixture struct {
	Entry       EntryRow            `yaml:"entry"`
	Identifiers map[string][]string `yaml:"identifiers,omitempty"` // importer identifiers by system
	Tariffs     []TariffRow         `yaml:"tariffs,omitempty"`
	PGAs        []PGARecord         `yaml:"pgas,omitempty"`
	Ingredients []IngredientRecord  `yaml:"ingredients,omitempty"`
}

// Memory is an in-process Source used by tests and previews.
type Memory struct {
	mu       sync.RWMutex
	fixtures map[int64]Fixture
}

// NewMemory returns a Memory holding fixtures.
func NewMemory(fixtures ...Fixture) *Memory {
	m := &Memory{fixtures: make(map[int64]Fixture)}
	for _, f := range fixtures {
		m.Put(f)
	}
	return m
}

// Put adds or replaces a fixture.
func (m *Memory) Put(f Fixture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixtures[f.Entry.ID] = f
}

// Candidates applies the same filters as the SQL source.
func (m *Memory) Candidates(_ context.Context, q CandidateQuery) ([]model.EntityRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var refs []model.EntityRef
	for _, f := range m.fixtures {
		e := f.Entry
		if !hasIdentifier(f.Identifiers[q.IdentifierSystem], q.Identifiers) {
			continue
		}
		if e.FileLoggedAt.Before(q.LoggedSince) {
			continue
		}
		if !q.ChangedBefore.IsZero() && e.LastExportedFromSource.After(q.ChangedBefore) {
			continue
		}
		if excluded(e.EntryType, q.ExcludedEntryTypes) {
			continue
		}
		refs = append(refs, model.EntityRef{
			ID:                     e.ID,
			EntryNumber:            e.EntryNumber,
			EntryType:              e.EntryType,
			FileLoggedAt:           e.FileLoggedAt,
			LastExportedFromSource: e.LastExportedFromSource,
		})
	}
	sort.Slice(refs, func(i, j int) bool {
		if !refs[i].FileLoggedAt.Equal(refs[j].FileLoggedAt) {
			return refs[i].FileLoggedAt.Before(refs[j].FileLoggedAt)
		}
		return refs[i].ID < refs[j].ID
	})
	return refs, nil
}

// LoadEntry assembles the fixture for entryID.
func (m *Memory) LoadEntry(_ context.Context, entryID int64) (*model.Entry, error) {
	m.mu.RLock()
	f, ok := m.fixtures[entryID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, entryID)
	}
	return Assemble(f.Entry, f.Tariffs, f.PGAs, f.Ingredients)
}

func hasIdentifier(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
