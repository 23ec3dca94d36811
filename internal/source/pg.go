package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cleared-dev/entrysync/internal/model"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG reads entries from the upstream Postgres database.
type PG struct {
	db DBTX
}

// NewPG wraps an existing connection or pool.
func NewPG(db DBTX) *PG {
	return &PG{db: db}
}

// OpenPG creates a pool for dsn. The caller closes the returned pool.
func OpenPG(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing source dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	// Reads only; keep connections from writing by accident.
	cfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to source: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging source: %w", err)
	}
	return pool, nil
}

const candidatesSQL = `
SELECT e.id, e.entry_number, COALESCE(e.entry_type, ''), e.file_logged_date, e.last_exported_from_source
FROM entries e
WHERE EXISTS (
        SELECT 1 FROM system_identifiers si
        WHERE si.company_id = e.importer_id AND si.system = $1 AND si.code = ANY($2)
      )
  AND e.file_logged_date >= $3
  AND ($4::timestamptz IS NULL OR e.last_exported_from_source <= $4)
  AND NOT (upper(btrim(COALESCE(e.entry_type, ''))) = ANY($5))
ORDER BY e.file_logged_date, e.id`

// Candidates returns entries of the partner's importers logged on or
// after the watermark, ordered by file-logged date.
func (p *PG) Candidates(ctx context.Context, q CandidateQuery) ([]model.EntityRef, error) {
	var changedBefore *time.Time
	if !q.ChangedBefore.IsZero() {
		changedBefore = &q.ChangedBefore
	}
	excludedTypes := normalizeEntryTypes(q.ExcludedEntryTypes)

	rows, err := p.db.Query(ctx, candidatesSQL,
		q.IdentifierSystem, q.Identifiers, q.LoggedSince, changedBefore, excludedTypes)
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	refs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.EntityRef, error) {
		var r model.EntityRef
		err := row.Scan(&r.ID, &r.EntryNumber, &r.EntryType, &r.FileLoggedAt, &r.LastExportedFromSource)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning candidates: %w", err)
	}
	return refs, nil
}

const entrySQL = `
SELECT e.id, e.entry_number, COALESCE(e.broker_reference, ''), COALESCE(e.entry_type, ''),
       COALESCE(e.importer_tax_id, ''), COALESCE(e.currency, ''), COALESCE(e.country_iso, ''),
       e.file_logged_date, e.release_date, e.last_exported_from_source
FROM entries e
WHERE e.id = $1`

const tariffsSQL = `
SELECT t.id, cil.customs_line_number, cil.subheader_number, t.line_number, COALESCE(cil.line_type, ''),
       COALESCE(t.duty::text, ''), COALESCE(t.gst::text, ''), COALESCE(t.sima::text, ''),
       COALESCE(t.excise::text, ''), COALESCE(t.value_for_duty::text, ''), COALESCE(t.quantity::text, ''),
       COALESCE(cil.part_number, ''), COALESCE(t.description, ''), COALESCE(t.hts_code, ''),
       COALESCE(cil.country_origin, ''), COALESCE(cil.country_export, ''), COALESCE(cil.po_number, ''),
       COALESCE(t.uom, '')
FROM commercial_invoice_lines cil
JOIN tariff_lines t ON t.invoice_line_id = cil.id
WHERE cil.entry_id = $1
ORDER BY cil.position, cil.id, t.line_number, t.id`

const pgasSQL = `
SELECT p.id, p.tariff_line_id, p.sequence, COALESCE(p.agency_code, ''), COALESCE(p.program_code, ''),
       COALESCE(p.product_category, ''), COALESCE(p.commodity_type, ''), COALESCE(p.brand, ''),
       COALESCE(p.model, ''), COALESCE(p.intended_use, '')
FROM pga_summaries p
JOIN tariff_lines t ON t.id = p.tariff_line_id
JOIN commercial_invoice_lines cil ON cil.id = t.invoice_line_id
WHERE cil.entry_id = $1
ORDER BY p.tariff_line_id, p.sequence, p.id`

const ingredientsSQL = `
SELECT i.pga_summary_id, i.sequence, COALESCE(i.name, ''), COALESCE(i.quantity::text, ''), COALESCE(i.percent::text, '')
FROM pga_ingredients i
JOIN pga_summaries p ON p.id = i.pga_summary_id
JOIN tariff_lines t ON t.id = p.tariff_line_id
JOIN commercial_invoice_lines cil ON cil.id = t.invoice_line_id
WHERE cil.entry_id = $1
ORDER BY i.pga_summary_id, i.sequence`

// LoadEntry reads an entry with its tariff, PGA and ingredient rows.
func (p *PG) LoadEntry(ctx context.Context, entryID int64) (*model.Entry, error) {
	var e EntryRow
	err := p.db.QueryRow(ctx, entrySQL, entryID).Scan(
		&e.ID, &e.EntryNumber, &e.BrokerReference, &e.EntryType, &e.ImporterID,
		&e.Currency, &e.Country, &e.FileLoggedAt, &e.ReleaseAt, &e.LastExportedFromSource,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, entryID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading entry %d: %w", entryID, err)
	}

	tariffs, err := queryAll(ctx, p.db, tariffsSQL, entryID, func(row pgx.CollectableRow) (TariffRow, error) {
		var t TariffRow
		err := row.Scan(&t.ID, &t.CustomsLine, &t.Subheader, &t.LineNumber, &t.LineType,
			&t.Duty, &t.GST, &t.SIMA, &t.Excise, &t.ValueForDuty, &t.Quantity,
			&t.PartNumber, &t.Description, &t.HTSCode, &t.CountryOrigin, &t.CountryExport, &t.PONumber, &t.UOM)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading tariff lines of entry %d: %w", entryID, err)
	}

	pgas, err := queryAll(ctx, p.db, pgasSQL, entryID, func(row pgx.CollectableRow) (PGARecord, error) {
		var r PGARecord
		err := row.Scan(&r.ID, &r.TariffID, &r.Sequence, &r.AgencyCode, &r.ProgramCode,
			&r.ProductCategory, &r.CommodityType, &r.Brand, &r.Model, &r.IntendedUse)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading PGA rows of entry %d: %w", entryID, err)
	}

	ings, err := queryAll(ctx, p.db, ingredientsSQL, entryID, func(row pgx.CollectableRow) (IngredientRecord, error) {
		var r IngredientRecord
		err := row.Scan(&r.PGAID, &r.Sequence, &r.Name, &r.Quantity, &r.Percent)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading ingredients of entry %d: %w", entryID, err)
	}

	return Assemble(e, tariffs, pgas, ings)
}

func queryAll[T any](ctx context.Context, db DBTX, sql string, entryID int64, fn pgx.RowToFunc[T]) ([]T, error) {
	rows, err := db.Query(ctx, sql, entryID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, fn)
}
