// Package harvest orchestrates registry harvest runs: one sequential
// page loop per source, many sources in parallel.
package harvest

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/barharvest/internal/governor"
	"github.com/sells-group/barharvest/internal/model"
	"github.com/sells-group/barharvest/internal/normalize"
	"github.com/sells-group/barharvest/internal/resilience"
	"github.com/sells-group/barharvest/internal/source"
	"github.com/sells-group/barharvest/internal/store"
)

// Options configures one orchestration run.
type Options struct {
	// Sources restricts the run to specific source names; empty = all.
	Sources []string
	// Concurrency bounds how many sources harvest at once. Default: 2.
	Concurrency int
	// ForceRestart resets each selected source's checkpoint before running.
	ForceRestart bool
}

// Summary aggregates the outcome across all sources in one run.
type Summary struct {
	Completed int              `json:"completed"`
	Aborted   int              `json:"aborted"`
	Entries   []model.RunEntry `json:"entries"`
}

// Engine drives the adapter-governor-retry-checkpoint-persistence loop.
type Engine struct {
	reg      *source.Registry
	st       store.Store
	upserter *normalize.Upserter
	govCfg   governor.Config
	retryCfg resilience.RetryConfig
}

// New creates an Engine. The store handle is explicit; there is no implicit
// process-wide connection.
func New(reg *source.Registry, st store.Store, govCfg governor.Config, retryCfg resilience.RetryConfig) *Engine {
	return &Engine{
		reg:      reg,
		st:       st,
		upserter: normalize.NewUpserter(st),
		govCfg:   govCfg,
		retryCfg: retryCfg,
	}
}

// Run harvests the selected sources. Each source runs its own state machine;
// an individual source's abort does not stop the others. The returned
// Summary always carries per-source counts, aborted runs included.
func (e *Engine) Run(ctx context.Context, opts Options) (*Summary, error) {
	log := zap.L().With(zap.String("component", "harvest.engine"))

	sources, err := e.reg.Select(opts.Sources)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		log.Info("no sources selected")
		return &Summary{}, nil
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}

	log.Info("starting harvest",
		zap.Int("sources", len(sources)),
		zap.Int("concurrency", concurrency),
	)

	var (
		mu      sync.Mutex
		summary Summary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, src := range sources {
		g.Go(func() error {
			if opts.ForceRestart {
				if err := e.st.ResetCheckpoint(gctx, src.Name()); err != nil {
					return eris.Wrapf(err, "engine: reset checkpoint for %s", src.Name())
				}
			}

			entry := e.runSource(gctx, src)

			mu.Lock()
			summary.Entries = append(summary.Entries, entry)
			if entry.Status == model.RunStatusCompleted {
				summary.Completed++
			} else {
				summary.Aborted++
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return &summary, err
	}

	log.Info("harvest complete",
		zap.Int("completed", summary.Completed),
		zap.Int("aborted", summary.Aborted),
	)
	return &summary, nil
}

// fetchResult carries one page through the retry wrapper.
type fetchResult struct {
	records []source.RawRecord
	next    string
}

// runSource executes the full state machine for one source and returns its
// run-log entry. Errors terminate the source, never the whole run.
func (e *Engine) runSource(ctx context.Context, src source.Source) model.RunEntry {
	log := zap.L().With(
		zap.String("component", "harvest.engine"),
		zap.String("source", src.Name()),
	)

	entry := model.RunEntry{
		Source:    src.Name(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	state := stateIdle
	advance := func(next runState) {
		log.Debug("state transition",
			zap.Stringer("from", state),
			zap.Stringer("to", next),
		)
		state = next
	}

	fail := func(err error) model.RunEntry {
		advance(stateAborted)
		entry.Status = model.RunStatusAborted
		entry.Error = err.Error()
		e.finish(ctx, log, &entry, state, err)
		return entry
	}

	runID, err := e.st.StartRun(ctx, src.Name())
	if err != nil {
		return fail(eris.Wrapf(err, "engine: start run for %s", src.Name()))
	}
	entry.ID = runID

	cursor := ""
	if cp, err := e.st.LoadCheckpoint(ctx, src.Name()); err != nil {
		return fail(eris.Wrapf(err, "engine: load checkpoint for %s", src.Name()))
	} else if cp != nil {
		cursor = cp.Cursor
		log.Info("resuming from checkpoint",
			zap.String("cursor", cursor),
			zap.Int64("records_so_far", cp.RecordsCount),
		)
	}

	gov := governor.New(e.govCfg)
	retryCfg := e.retryCfg
	retryCfg.OnRetry = resilience.RetryLogger(src.Name(), "fetch")

	for {
		advance(stateFetching)

		if err := gov.Wait(ctx); err != nil {
			return fail(eris.Wrap(err, "engine: governor wait"))
		}

		page, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (fetchResult, error) {
			records, next, err := src.Fetch(ctx, cursor)
			return fetchResult{records: records, next: next}, err
		})
		if err != nil {
			// A permanent page failure with a determinable next cursor
			// skips the page; everything else ends the run. The last
			// committed checkpoint stays valid either way.
			if pe, ok := source.AsPermanent(err); ok && (pe.NextCursor != "" || pe.Terminal) {
				log.Warn("skipping unparseable page",
					zap.String("cursor", cursor),
					zap.Error(err),
				)
				entry.Stats.Pages++
				entry.Stats.Skipped++
				if !pe.Terminal {
					cursor = pe.NextCursor
					continue
				}
				// The failed page was the source's last. Park the checkpoint
				// at end-of-source so the next run does not re-hit it.
				advance(stateCheckpointing)
				if err := e.st.SaveCheckpoint(ctx, src.Name(), "", 0); err != nil {
					return fail(eris.Wrapf(err, "engine: save checkpoint for %s", src.Name()))
				}
				advance(stateCompleted)
				entry.Status = model.RunStatusCompleted
				e.finish(ctx, log, &entry, state, nil)
				return entry
			}
			return fail(eris.Wrapf(err, "engine: fetch page for %s", src.Name()))
		}

		advance(stateParsing)
		entry.Stats.Pages++
		entry.Stats.Fetched += int64(len(page.records))

		advance(statePersisting)
		res, err := e.upserter.PersistPage(ctx, src, page.records)
		entry.Stats.Persisted += res.Persisted
		entry.Stats.Failed += res.Rejected
		entry.Stats.NameConflicts += res.NameConflicts
		if err != nil {
			return fail(eris.Wrapf(err, "engine: persist page for %s", src.Name()))
		}

		// Checkpoint only after the page's records are durable, so a crash
		// in between replays the page instead of losing it.
		advance(stateCheckpointing)
		if err := e.st.SaveCheckpoint(ctx, src.Name(), page.next, res.Persisted); err != nil {
			return fail(eris.Wrapf(err, "engine: save checkpoint for %s", src.Name()))
		}

		if page.next == "" {
			advance(stateCompleted)
			entry.Status = model.RunStatusCompleted
			e.finish(ctx, log, &entry, state, nil)
			return entry
		}
		cursor = page.next
	}
}

// finish records the terminal transition: the run-log row plus one
// structured event with the counts, aborts included.
func (e *Engine) finish(ctx context.Context, log *zap.Logger, entry *model.RunEntry, state runState, cause error) {
	now := time.Now().UTC()
	entry.CompletedAt = &now

	if entry.ID != "" {
		// Best effort on a cancelled context so an abort still leaves a row.
		logCtx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			logCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := e.st.FinishRun(logCtx, entry.ID, entry.Status, entry.Stats, entry.Error); err != nil {
			log.Error("failed to record run outcome", zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("state", state.String()),
		zap.Int64("pages", entry.Stats.Pages),
		zap.Int64("fetched", entry.Stats.Fetched),
		zap.Int64("persisted", entry.Stats.Persisted),
		zap.Int64("skipped", entry.Stats.Skipped),
		zap.Int64("failed", entry.Stats.Failed),
		zap.Duration("elapsed", now.Sub(entry.StartedAt)),
	}
	if cause != nil {
		log.Error("source run aborted", append(fields, zap.Error(cause))...)
		return
	}
	log.Info("source run completed", fields...)
}
