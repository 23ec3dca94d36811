package pipeline

import (
	"sort"
	"time"
)

// Status is the outcome of one entity in a run.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Stage names where an entity stopped.
const (
	StageLoad      = "load"
	StageRollup    = "rollup"
	StageEncode    = "encode"
	StageCounter   = "counter"
	StageDispatch  = "dispatch"
	StageCancelled = "cancelled"
)

// Outcome reports what happened to one entity for one partner.
type Outcome struct {
	Partner     string `json:"partner"`
	EntityID    int64  `json:"entity_id"`
	EntryNumber string `json:"entry_number"`
	Status      Status `json:"status"`
	Stage       string `json:"stage,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	Reference   string `json:"reference,omitempty"`
	BatchNumber int64  `json:"batch_number,omitempty"`
	Lines       int    `json:"lines,omitempty"`
	Error       string `json:"error,omitempty"`
	Err         error  `json:"-"`
}

// Result summarizes a run.
type Result struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Selected   int       `json:"selected"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Count returns how many outcomes have status s.
func (r *Result) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

func (r *Result) sort() {
	sort.SliceStable(r.Outcomes, func(i, j int) bool {
		a, b := r.Outcomes[i], r.Outcomes[j]
		if a.Partner != b.Partner {
			return a.Partner < b.Partner
		}
		return a.EntityID < b.EntityID
	})
}
