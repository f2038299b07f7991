package normalize

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/barharvest/internal/source"
	"github.com/sells-group/barharvest/internal/store"
)

// PageResult reports what persisting one page did. Rejected counts records
// dropped for a missing or malformed identity key.
type PageResult struct {
	Persisted     int64
	Rejected      int64
	NameConflicts int64
}

// PersistenceError marks a storage-layer failure. It is fatal for the run
// that hit it; the page's checkpoint is not advanced.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

// Upserter persists normalized pages. It is safe for concurrent use by
// multiple source workers; writes are serialized per identity key.
type Upserter struct {
	store store.Store
	locks keyLock
}

// NewUpserter creates an Upserter writing through st.
func NewUpserter(st store.Store) *Upserter {
	return &Upserter{store: st}
}

// PersistPage normalizes and upserts one page of raw records for src.
// Records with missing or malformed identity keys are skipped and counted,
// never fatal; a storage failure aborts the page with a PersistenceError.
// Persisting the same page twice yields no new rows and no changed state
// beyond timestamps.
func (u *Upserter) PersistPage(ctx context.Context, src source.Source, records []source.RawRecord) (PageResult, error) {
	log := zap.L().With(
		zap.String("component", "normalize.upserter"),
		zap.String("source", src.Name()),
	)

	var res PageResult
	for _, raw := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		a, err := Record(raw, src.Jurisdiction())
		if err != nil {
			if IsValidation(err) {
				res.Rejected++
				log.Debug("skipping invalid record", zap.Error(err))
				continue
			}
			return res, err
		}

		key := a.Key()
		mu := u.locks.lock(key.String())
		outcome, err := u.store.UpsertAttorney(ctx, a)
		mu.Unlock()
		if err != nil {
			return res, &PersistenceError{Err: eris.Wrapf(err, "upsert %s", key)}
		}

		if outcome.NameConflict {
			res.NameConflicts++
			log.Warn("name conflict on existing record, overwriting",
				zap.String("key", key.String()),
				zap.String("name", a.FullName),
			)
		}
		res.Persisted++
	}

	return res, nil
}
