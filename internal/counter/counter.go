// Package counter keeps named sequence counters that survive restarts.
// A value is consumed only when its lease is committed, so a failed
// dispatch never burns a number.
package counter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConflict is returned when a counter changed between reservation and commit.
var ErrConflict = errors.New("counter changed concurrently")

// Counter is one row of the counters table.
type Counter struct {
	Name      string    `gorm:"primaryKey;size:64" json:"name"`
	Value     int64     `gorm:"not null;default:0" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Counter) TableName() string { return "counters" }

// Store hands out leases on named counters. Leases on the same name are
// serialized within the process; the commit is a compare-and-swap so a
// writer in another process is detected rather than overwritten.
type Store struct {
	db    *gorm.DB
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewStore returns a Store over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, locks: make(map[string]chan struct{})}
}

func (s *Store) lockFor(name string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[name] = ch
	}
	return ch
}

// Current returns the last committed value, zero if the counter is new.
func (s *Store) Current(ctx context.Context, name string) (int64, error) {
	var c Counter
	err := s.db.WithContext(ctx).Where("name = ?", name).Limit(1).Find(&c).Error
	if err != nil {
		return 0, fmt.Errorf("reading counter %s: %w", name, err)
	}
	return c.Value, nil
}

// List returns every counter ordered by name.
func (s *Store) List(ctx context.Context) ([]Counter, error) {
	var cs []Counter
	if err := s.db.WithContext(ctx).Order("name").Find(&cs).Error; err != nil {
		return nil, fmt.Errorf("listing counters: %w", err)
	}
	return cs, nil
}

// Set overwrites a counter value. It is meant for operators seeding or
// repairing a sequence and takes the same lock as leases.
func (s *Store) Set(ctx context.Context, name string, value int64) error {
	lock := s.lockFor(name)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&Counter{Name: name, Value: value}).Error
	if err != nil {
		return fmt.Errorf("setting counter %s: %w", name, err)
	}
	return nil
}

// Lease holds the right to consume the next value of a counter.
type Lease struct {
	Name    string
	Current int64
	Next    int64

	store *Store
	lock  chan struct{}
	once  sync.Once
}

// Reserve waits for exclusive use of name and returns a lease on the
// next value. The caller must Commit or Release it.
func (s *Store) Reserve(ctx context.Context, name string) (*Lease, error) {
	lock := s.lockFor(name)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Counter{Name: name}).Error
	if err != nil {
		<-lock
		return nil, fmt.Errorf("creating counter %s: %w", name, err)
	}
	cur, err := s.Current(ctx, name)
	if err != nil {
		<-lock
		return nil, err
	}
	return &Lease{Name: name, Current: cur, Next: cur + 1, store: s, lock: lock}, nil
}

// Commit stores Next if the counter still holds Current, then releases
// the lease. It returns ErrConflict if another writer got there first.
func (l *Lease) Commit(ctx context.Context) error {
	defer l.Release()
	res := l.store.db.WithContext(ctx).Model(&Counter{}).
		Where("name = ? AND value = ?", l.Name, l.Current).
		Updates(map[string]any{"value": l.Next, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("committing counter %s: %w", l.Name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s expected %d", ErrConflict, l.Name, l.Current)
	}
	return nil
}

// Release gives up the lease without consuming a value. It is safe to
// call more than once and after Commit.
func (l *Lease) Release() {
	l.once.Do(func() { <-l.lock })
}
