// Package runlog keeps an append-only CSV journal of pipeline outcomes,
// one row per entity per run.
package runlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Entry is one row in the run log.
type Entry struct {
	Timestamp time.Time
	RunID     string
	Partner   string
	EntityID  int64
	Status    string
	FileName  string
	Reference string
	Details   string
}

// Header is the CSV header for runs.csv.
const Header = "timestamp,run_id,partner,entity_id,status,file_name,reference,details"

// FileName is the journal file inside the log directory.
const FileName = "runs.csv"

const (
	numFields    = 8
	colTimestamp = 0
	colRunID     = 1
	colPartner   = 2
	colEntityID  = 3
	colStatus    = 4
	colFileName  = 5
	colReference = 6
	colDetails   = 7
)

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.UTC().Format(time.RFC3339)
	row[colRunID] = e.RunID
	row[colPartner] = e.Partner
	row[colEntityID] = strconv.FormatInt(e.EntityID, 10)
	row[colStatus] = e.Status
	row[colFileName] = e.FileName
	row[colReference] = e.Reference
	row[colDetails] = e.Details
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}
	entityID, err := strconv.ParseInt(record[colEntityID], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing entity id %q: %w", record[colEntityID], err)
	}

	return Entry{
		Timestamp: ts,
		RunID:     record[colRunID],
		Partner:   record[colPartner],
		EntityID:  entityID,
		Status:    record[colStatus],
		FileName:  record[colFileName],
		Reference: record[colReference],
		Details:   record[colDetails],
	}, nil
}

// Append writes entries to <dir>/runs.csv, creating the file and header if needed.
func Append(dir string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating run log dir: %w", err)
	}

	path := filepath.Join(dir, FileName)
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)

	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Read returns all entries from <dir>/runs.csv.
// Returns an empty slice if the file does not exist.
func Read(dir string) ([]Entry, error) {
	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading run log CSV: %w", err)
	}

	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ForEntity filters entries to one entity, newest last.
func ForEntity(entries []Entry, entityID int64) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out
}
