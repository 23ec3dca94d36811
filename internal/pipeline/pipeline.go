// Package pipeline runs one export pass: select entries per partner,
// roll them up, encode them and dispatch each file exactly once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cleared-dev/entrysync/internal/counter"
	"github.com/cleared-dev/entrysync/internal/encode"
	"github.com/cleared-dev/entrysync/internal/id"
	"github.com/cleared-dev/entrysync/internal/ledger"
	"github.com/cleared-dev/entrysync/internal/lock"
	"github.com/cleared-dev/entrysync/internal/logging"
	"github.com/cleared-dev/entrysync/internal/model"
	"github.com/cleared-dev/entrysync/internal/notify"
	"github.com/cleared-dev/entrysync/internal/rollup"
	"github.com/cleared-dev/entrysync/internal/runlog"
	"github.com/cleared-dev/entrysync/internal/selector"
	"github.com/cleared-dev/entrysync/internal/source"
	"github.com/cleared-dev/entrysync/internal/tracing"
	"github.com/cleared-dev/entrysync/internal/transport"
)

// LockName is the run lock shared by every entrysync process.
const LockName = "pipeline"

// Partner is a fully resolved export target.
type Partner struct {
	ID                 string
	TradingPartner     string
	Country            string
	Form               string
	BrokerID           string
	IdentifierSystem   string
	Identifiers        []string
	ExcludedEntryTypes []string
	Location           *time.Location
	PrefixDigit        byte
	// Counter names the batch counter. Empty means no batch numbers.
	Counter  string
	Encoder  encode.Encoder
	Settings encode.Settings
	Mailbox  transport.Mailbox
}

// Options are the run-wide settings.
type Options struct {
	SystemStartDate time.Time
	MinLag          time.Duration
	Workers         int
	SendTimeout     time.Duration
	LockTTL         time.Duration
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Source   source.Source
	Ledger   *ledger.Tracker
	Counters *counter.Store
	Notifier notify.Notifier
	Locker   lock.Locker
	Log      *logging.Logger
	Tracer   trace.Tracer
	// Archive receives a copy of every confirmed file. Nil disables it.
	Archive transport.Mailbox
	// RunLogDir holds the CSV run journal. Empty disables it.
	RunLogDir string
	Now       func() time.Time
}

// Pipeline is safe for repeated Run calls; the run lock keeps them from
// overlapping.
type Pipeline struct {
	opts     Options
	partners []Partner
	deps     Deps
	selector *selector.Selector
	log      *logging.Logger
}

// New returns a Pipeline. Each partner mailbox is bounded by opts.SendTimeout.
func New(opts Options, partners []Partner, deps Deps) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if deps.Log == nil {
		deps.Log = logging.Nop()
	}
	if deps.Tracer == nil {
		deps.Tracer = tracing.Tracer(nil)
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.LogNotifier{Log: deps.Log}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	bounded := make([]Partner, len(partners))
	for i, p := range partners {
		p.Mailbox = transport.WithTimeout(p.Mailbox, opts.SendTimeout)
		if p.Location == nil {
			p.Location = time.UTC
		}
		if p.Settings.Location == nil {
			p.Settings.Location = p.Location
		}
		bounded[i] = p
	}

	return &Pipeline{
		opts:     opts,
		partners: bounded,
		deps:     deps,
		selector: selector.New(deps.Source, deps.Ledger),
		log:      deps.Log.With("component", "pipeline"),
	}
}

// Partners returns the resolved partners.
func (p *Pipeline) Partners() []Partner {
	return p.partners
}

type job struct {
	partner *Partner
	ref     model.EntityRef
}

// Run executes one pass. Selection and lock errors abort the run before
// any entity is touched. Entity errors are reported in the Result and
// never abort the batch. When ctx is cancelled no new entity starts, but
// entities already dispatching finish their transaction.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), StartedAt: p.deps.Now().UTC()}
	log := p.log.With("run_id", res.RunID)

	ctx, span := p.deps.Tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", res.RunID),
		attribute.Int("partners", len(p.partners)),
	))
	defer span.End()

	if p.opts.SystemStartDate.IsZero() {
		span.SetStatus(codes.Error, selector.ErrWatermark.Error())
		return res, selector.ErrWatermark
	}

	release, err := p.deps.Locker.Acquire(ctx, LockName, p.opts.LockTTL)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("acquiring run lock: %w", err)
	}
	defer release()

	var jobs []job
	for i := range p.partners {
		pt := &p.partners[i]
		refs, err := p.selector.Select(ctx, selector.Criteria{
			TradingPartner:     pt.TradingPartner,
			IdentifierSystem:   pt.IdentifierSystem,
			Identifiers:        pt.Identifiers,
			SystemStartDate:    p.opts.SystemStartDate,
			MinLag:             p.opts.MinLag,
			ExcludedEntryTypes: pt.ExcludedEntryTypes,
			Now:                p.deps.Now(),
		})
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return res, fmt.Errorf("selecting for partner %s: %w", pt.ID, err)
		}
		log.Info("entries selected", "partner", pt.ID, "count", len(refs))
		for _, r := range refs {
			jobs = append(jobs, job{partner: pt, ref: r})
		}
	}
	res.Selected = len(jobs)
	span.SetAttributes(attribute.Int("selected", len(jobs)))

	var mu sync.Mutex
	record := func(o Outcome) {
		if o.Err != nil {
			o.Error = o.Err.Error()
		}
		mu.Lock()
		res.Outcomes = append(res.Outcomes, o)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for _, j := range jobs {
		if ctx.Err() != nil {
			record(Outcome{
				Partner: j.partner.TradingPartner, EntityID: j.ref.ID, EntryNumber: j.ref.EntryNumber,
				Status: StatusSkipped, Stage: StageCancelled, Err: ctx.Err(),
			})
			continue
		}
		g.Go(func() error {
			record(p.processEntity(ctx, log, j.partner, j.ref))
			return nil
		})
	}
	_ = g.Wait()

	res.FinishedAt = p.deps.Now().UTC()
	res.sort()
	p.journal(log, res)

	log.Info("run finished",
		"selected", res.Selected,
		"sent", res.Count(StatusSent),
		"skipped", res.Count(StatusSkipped),
		"failed", res.Count(StatusFailed),
		"duration", res.FinishedAt.Sub(res.StartedAt).String(),
	)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("run %s interrupted: %w", res.RunID, err)
	}
	return res, nil
}

// processEntity runs load, rollup, encode and dispatch for one entity.
func (p *Pipeline) processEntity(ctx context.Context, runLog *logging.Logger, pt *Partner, ref model.EntityRef) Outcome {
	out := Outcome{Partner: pt.TradingPartner, EntityID: ref.ID, EntryNumber: ref.EntryNumber}
	log := runLog.With("partner", pt.ID, "entity_id", ref.ID, "entry_number", ref.EntryNumber)

	ctx, span := p.deps.Tracer.Start(ctx, "pipeline.entity", trace.WithAttributes(
		attribute.String("partner", pt.ID),
		attribute.Int64("entity_id", ref.ID),
	))
	defer span.End()

	fail := func(status Status, stage string, err error) Outcome {
		out.Status, out.Stage, out.Err = status, stage, err
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("stage", stage))
		if status == StatusFailed {
			log.Error("entity failed", "stage", stage, "error", err)
		} else {
			log.Warn("entity skipped", "stage", stage, "error", err)
		}
		return out
	}

	if err := ctx.Err(); err != nil {
		return fail(StatusSkipped, StageCancelled, err)
	}

	entry, err := p.deps.Source.LoadEntry(ctx, ref.ID)
	if err != nil {
		return fail(StatusSkipped, StageLoad, err)
	}

	var lease *counter.Lease
	if pt.Counter != "" {
		lease, err = p.deps.Counters.Reserve(ctx, pt.Counter)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fail(StatusSkipped, StageCancelled, err)
		}
		if err != nil {
			return fail(StatusFailed, StageCounter, err)
		}
	}
	releaseLease := func() {
		if lease != nil {
			lease.Release()
		}
	}

	var batch int64
	if lease != nil {
		batch = lease.Next
	}
	decl, err := rollup.BuildDeclaration(entry, rollup.Options{
		BrokerID:    pt.BrokerID,
		PrefixDigit: pt.PrefixDigit,
		BatchNumber: batch,
	})
	if err != nil {
		releaseLease()
		return fail(StatusSkipped, StageRollup, err)
	}
	out.Lines = len(decl.Lines)

	payload, err := pt.Encoder.Encode(decl, pt.Settings)
	if err != nil {
		releaseLease()
		return fail(StatusSkipped, StageEncode, err)
	}

	fileName := id.FileName(id.FileNameParts{
		PartnerID:   pt.ID,
		Country:     pt.Country,
		Form:        pt.Form,
		BrokerID:    pt.BrokerID,
		EntryNumber: entry.EntryNumber,
		Extension:   pt.Encoder.Extension(),
	}, p.deps.Now(), pt.Location)
	out.FileName = fileName
	out.BatchNumber = batch
	file := transport.File{Name: fileName, Data: payload, ContentType: contentType(pt.Encoder)}

	var counterErr error
	task := ledger.Task{
		EntityID:       entry.ID,
		EntityType:     ledger.EntityEntry,
		TradingPartner: pt.TradingPartner,
		FileName:       fileName,
		BatchNumber:    batch,
		Send: func(ctx context.Context) (string, error) {
			r, err := pt.Mailbox.Send(ctx, file)
			if err != nil {
				return "", err
			}
			return r.Reference, nil
		},
		OnCommit: func(ctx context.Context, rec ledger.SyncRecord) {
			if lease != nil {
				if err := lease.Commit(ctx); err != nil {
					counterErr = err
					log.Error("counter commit failed after confirmed dispatch", "counter", pt.Counter, "batch", batch, "error", err)
				}
			}
			if p.deps.Archive != nil {
				if _, err := p.deps.Archive.Send(ctx, file); err != nil {
					log.Warn("archiving payload failed", "file", fileName, "error", err)
				}
			}
		},
		OnAbort: func(ctx context.Context, err error) {
			releaseLease()
			nerr := p.deps.Notifier.NotifyFailure(ctx, notify.Failure{
				Partner:  pt.TradingPartner,
				EntityID: strconv.FormatInt(entry.ID, 10),
				FileName: fileName,
				Payload:  payload,
				Err:      err,
			})
			if nerr != nil {
				log.Error("failure notification not delivered", "file", fileName, "error", nerr)
			}
		},
	}

	// A started dispatch is never cut short by run cancellation; the send
	// itself is still bounded by the mailbox timeout.
	rec, err := p.deps.Ledger.Dispatch(context.WithoutCancel(ctx), task)
	if err != nil {
		return fail(StatusFailed, StageDispatch, err)
	}

	out.Status = StatusSent
	out.Reference = rec.ExternalReference
	if counterErr != nil {
		out.Stage = StageCounter
		out.Err = counterErr
		span.SetStatus(codes.Error, counterErr.Error())
	}
	log.Info("entity sent", "file", fileName, "reference", rec.ExternalReference, "lines", out.Lines)
	return out
}

func contentType(e encode.Encoder) string {
	if e.Format() == "xml" {
		return "application/xml"
	}
	return "text/plain"
}

func (p *Pipeline) journal(log *logging.Logger, res *Result) {
	if p.deps.RunLogDir == "" {
		return
	}
	entries := make([]runlog.Entry, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		details := o.Stage
		if o.Error != "" {
			details = o.Stage + ": " + o.Error
		}
		entries = append(entries, runlog.Entry{
			Timestamp: res.FinishedAt,
			RunID:     res.RunID,
			Partner:   o.Partner,
			EntityID:  o.EntityID,
			Status:    string(o.Status),
			FileName:  o.FileName,
			Reference: o.Reference,
			Details:   details,
		})
	}
	if err := runlog.Append(p.deps.RunLogDir, entries); err != nil {
		log.Warn("writing run journal failed", "error", err)
	}
}
