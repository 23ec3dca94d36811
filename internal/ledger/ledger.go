// Package ledger records which entities have been delivered to which
// trading partner. A record only reaches the confirmed state inside the
// same transaction that covered the send.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cleared-dev/entrysync/internal/logging"
	"github.com/cleared-dev/entrysync/internal/model"
)

// EntityEntry is the entity type of customs entries.
const EntityEntry = "entry"

// SyncRecord is one row of sync_records. There is at most one row per
// entity and trading partner.
type SyncRecord struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	EntityID          int64           `gorm:"not null;uniqueIndex:idx_sync_entity_partner" json:"entity_id"`
	EntityType        string          `gorm:"size:32;not null;uniqueIndex:idx_sync_entity_partner" json:"entity_type"`
	TradingPartner    string          `gorm:"size:64;not null;uniqueIndex:idx_sync_entity_partner" json:"trading_partner"`
	State             model.SyncState `gorm:"size:16;not null" json:"state"`
	FileName          string          `gorm:"size:255" json:"file_name"`
	ExternalReference string          `gorm:"size:255" json:"external_reference,omitempty"`
	BatchNumber       int64           `json:"batch_number,omitempty"`
	SentAt            *time.Time      `json:"sent_at,omitempty"`
	ConfirmedAt       *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (SyncRecord) TableName() string { return "sync_records" }

// Task is one dispatch. Send runs inside the ledger transaction; exactly
// one of OnCommit or OnAbort runs after the transaction ends.
type Task struct {
	EntityID       int64
	EntityType     string
	TradingPartner string
	FileName       string
	BatchNumber    int64

	Send     func(ctx context.Context) (reference string, err error)
	OnCommit func(ctx context.Context, rec SyncRecord)
	OnAbort  func(ctx context.Context, err error)
}

// Tracker drives the Unsent -> Sending -> Confirmed transition.
type Tracker struct {
	db  *gorm.DB
	log *logging.Logger
	now func() time.Time
}

// NewTracker returns a Tracker over db.
func NewTracker(db *gorm.DB, log *logging.Logger) *Tracker {
	return &Tracker{db: db, log: log.With("component", "ledger"), now: time.Now}
}

// Dispatch marks the entity as sending, calls task.Send and confirms the
// record, all in one transaction. If Send fails or panics the transaction
// rolls back, leaving any earlier confirmed record untouched, and
// task.OnAbort receives the error.
func (t *Tracker) Dispatch(ctx context.Context, task Task) (SyncRecord, error) {
	if task.Send == nil {
		return SyncRecord{}, errors.New("dispatch task has no send function")
	}
	if task.EntityType == "" {
		task.EntityType = EntityEntry
	}

	var rec SyncRecord
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sentAt := t.now().UTC()
		rec = SyncRecord{
			EntityID:       task.EntityID,
			EntityType:     task.EntityType,
			TradingPartner: task.TradingPartner,
			State:          model.SyncSending,
			FileName:       task.FileName,
			BatchNumber:    task.BatchNumber,
			SentAt:         &sentAt,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_id"}, {Name: "entity_type"}, {Name: "trading_partner"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "file_name", "batch_number", "sent_at", "updated_at"}),
		}).Create(&rec).Error; err != nil {
			return fmt.Errorf("marking entity %d as sending: %w", task.EntityID, err)
		}

		ref, err := safeSend(ctx, task.Send)
		if err != nil {
			return fmt.Errorf("sending %s: %w", task.FileName, err)
		}

		confirmedAt := t.now().UTC()
		res := tx.Model(&SyncRecord{}).
			Where("entity_id = ? AND entity_type = ? AND trading_partner = ?", task.EntityID, task.EntityType, task.TradingPartner).
			Updates(map[string]any{
				"state":              model.SyncConfirmed,
				"confirmed_at":       confirmedAt,
				"external_reference": ref,
			})
		if res.Error != nil {
			return fmt.Errorf("confirming entity %d: %w", task.EntityID, res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("confirming entity %d: %d rows updated", task.EntityID, res.RowsAffected)
		}
		rec.State = model.SyncConfirmed
		rec.ConfirmedAt = &confirmedAt
		rec.ExternalReference = ref
		return nil
	})

	// Completion handlers must run even when the caller is shutting down.
	hctx := context.WithoutCancel(ctx)
	if err != nil {
		t.log.Warn("dispatch rolled back", "entity_id", task.EntityID, "partner", task.TradingPartner, "file", task.FileName, "error", err)
		if task.OnAbort != nil {
			task.OnAbort(hctx, err)
		}
		return SyncRecord{}, err
	}

	t.log.Info("dispatch confirmed", "entity_id", task.EntityID, "partner", task.TradingPartner, "file", task.FileName, "reference", rec.ExternalReference)
	if task.OnCommit != nil {
		task.OnCommit(hctx, rec)
	}
	return rec, nil
}

func safeSend(ctx context.Context, send func(context.Context) (string, error)) (ref string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return send(ctx)
}

// Get returns the record for an entity and partner, or nil if none exists.
func (t *Tracker) Get(ctx context.Context, entityType string, entityID int64, partner string) (*SyncRecord, error) {
	var rec SyncRecord
	err := t.db.WithContext(ctx).
		Where("entity_id = ? AND entity_type = ? AND trading_partner = ?", entityID, entityType, partner).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading sync record: %w", err)
	}
	return &rec, nil
}

// Confirmed returns the confirmed records of partner for the given
// entities, keyed by entity id.
func (t *Tracker) Confirmed(ctx context.Context, entityType, partner string, ids []int64) (map[int64]SyncRecord, error) {
	out := make(map[int64]SyncRecord, len(ids))
	const batch = 500
	for start := 0; start < len(ids); start += batch {
		end := min(start+batch, len(ids))
		var recs []SyncRecord
		err := t.db.WithContext(ctx).
			Where("entity_type = ? AND trading_partner = ? AND state = ? AND entity_id IN ?",
				entityType, partner, model.SyncConfirmed, ids[start:end]).
			Find(&recs).Error
		if err != nil {
			return nil, fmt.Errorf("loading confirmed records: %w", err)
		}
		for _, r := range recs {
			out[r.EntityID] = r
		}
	}
	return out, nil
}

// ListForEntity returns every record of an entity across partners.
func (t *Tracker) ListForEntity(ctx context.Context, entityType string, entityID int64) ([]SyncRecord, error) {
	var recs []SyncRecord
	err := t.db.WithContext(ctx).
		Where("entity_id = ? AND entity_type = ?", entityID, entityType).
		Order("trading_partner").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing sync records: %w", err)
	}
	return recs, nil
}

// Recent returns the most recently confirmed records for partner.
func (t *Tracker) Recent(ctx context.Context, partner string, limit int) ([]SyncRecord, error) {
	var recs []SyncRecord
	q := t.db.WithContext(ctx).Where("state = ?", model.SyncConfirmed)
	if partner != "" {
		q = q.Where("trading_partner = ?", partner)
	}
	if err := q.Order("confirmed_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing recent sync records: %w", err)
	}
	return recs, nil
}
