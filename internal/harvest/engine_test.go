package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/barharvest/internal/governor"
	"github.com/sells-group/barharvest/internal/model"
	"github.com/sells-group/barharvest/internal/resilience"
	"github.com/sells-group/barharvest/internal/source"
	"github.com/sells-group/barharvest/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// memStore is an in-memory Store for engine tests.
type memStore struct {
	mu          sync.Mutex
	attorneys   map[model.Identity]*model.Attorney
	checkpoints map[string]model.Checkpoint
	runs        map[string]*model.RunEntry
	runSeq      int
	upsertErr   error
}

func newMemStore() *memStore {
	return &memStore{
		attorneys:   make(map[model.Identity]*model.Attorney),
		checkpoints: make(map[string]model.Checkpoint),
		runs:        make(map[string]*model.RunEntry),
	}
}

func (m *memStore) UpsertAttorney(_ context.Context, a *model.Attorney) (store.UpsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return store.UpsertOutcome{}, m.upsertErr
	}
	key := a.Key()
	existing, ok := m.attorneys[key]
	out := store.UpsertOutcome{Created: !ok}
	if ok && existing.FullName != a.FullName {
		out.NameConflict = true
	}
	m.attorneys[key] = a
	return out, nil
}

func (m *memStore) SearchAttorneys(context.Context, store.SearchFilter) ([]model.Attorney, error) {
	return nil, nil
}

func (m *memStore) Stats(context.Context) (*store.Stats, error) { return &store.Stats{}, nil }

func (m *memStore) LoadCheckpoint(_ context.Context, sourceName string) (*model.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[sourceName]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (m *memStore) SaveCheckpoint(_ context.Context, sourceName, cursor string, countDelta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := m.checkpoints[sourceName]
	cp.Source = sourceName
	cp.Cursor = cursor
	cp.UpdatedAt = time.Now().UTC()
	cp.RecordsCount += countDelta
	m.checkpoints[sourceName] = cp
	return nil
}

func (m *memStore) ResetCheckpoint(_ context.Context, sourceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, sourceName)
	return nil
}

func (m *memStore) ListCheckpoints(context.Context) ([]model.Checkpoint, error) { return nil, nil }

func (m *memStore) StartRun(_ context.Context, sourceName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runSeq++
	id := fmt.Sprintf("run-%d", m.runSeq)
	m.runs[id] = &model.RunEntry{ID: id, Source: sourceName, Status: model.RunStatusRunning}
	return id, nil
}

func (m *memStore) FinishRun(_ context.Context, runID string, status model.RunStatus, stats model.RunStats, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.runs[runID]
	if !ok {
		return errors.New("run not found")
	}
	e.Status = status
	e.Stats = stats
	e.Error = errMsg
	return nil
}

func (m *memStore) ListRuns(context.Context, int) ([]model.RunEntry, error) { return nil, nil }
func (m *memStore) Migrate(context.Context) error                           { return nil }
func (m *memStore) Close() error                                            { return nil }

func (m *memStore) checkpoint(sourceName string) (model.Checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[sourceName]
	return cp, ok
}

func (m *memStore) run(id string) model.RunEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.runs[id]
}

// scriptedSource drives the engine with a programmable fetch.
type scriptedSource struct {
	name    string
	fetch   func(cursor string) ([]source.RawRecord, string, error)
	mu      sync.Mutex
	cursors []string
}

func (s *scriptedSource) Name() string         { return s.name }
func (s *scriptedSource) Jurisdiction() string { return "TX" }

func (s *scriptedSource) Fetch(_ context.Context, cursor string) ([]source.RawRecord, string, error) {
	s.mu.Lock()
	s.cursors = append(s.cursors, cursor)
	s.mu.Unlock()
	return s.fetch(cursor)
}

func recordsPage(prefix string, n int) []source.RawRecord {
	out := make([]source.RawRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, source.RawRecord{
			source.FieldBarNumber: fmt.Sprintf("%s-%d", prefix, i),
			source.FieldFullName:  "Jane Doe",
		})
	}
	return out
}

// threePageSource serves pages "" -> "2" -> "3" -> done, 10 records each.
func threePageSource(name string) *scriptedSource {
	return &scriptedSource{
		name: name,
		fetch: func(cursor string) ([]source.RawRecord, string, error) {
			switch cursor {
			case "":
				return recordsPage("a", 10), "2", nil
			case "2":
				return recordsPage("b", 10), "3", nil
			case "3":
				return recordsPage("c", 10), "", nil
			default:
				return nil, "", source.NewPermanentError(fmt.Errorf("unknown cursor %q", cursor), 0)
			}
		},
	}
}

func testEngine(st store.Store, srcs ...source.Source) *Engine {
	reg := source.NewRegistry()
	for _, s := range srcs {
		reg.Register(s)
	}
	return New(reg, st,
		governor.Config{MinInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
		resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2.0,
		},
	)
}

func TestRun_CompletesAllPages(t *testing.T) {
	st := newMemStore()
	src := threePageSource("texas_bar")
	e := testEngine(st, src)

	summary, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 0, summary.Aborted)

	require.Len(t, summary.Entries, 1)
	entry := summary.Entries[0]
	assert.Equal(t, model.RunStatusCompleted, entry.Status)
	assert.Equal(t, int64(3), entry.Stats.Pages)
	assert.Equal(t, int64(30), entry.Stats.Fetched)
	assert.Equal(t, int64(30), entry.Stats.Persisted)
	assert.Equal(t, int64(0), entry.Stats.Failed)

	assert.Len(t, st.attorneys, 30)
	assert.Equal(t, []string{"", "2", "3"}, src.cursors)

	// Completion overwrites the checkpoint with the empty start cursor.
	cp, ok := st.checkpoint("texas_bar")
	require.True(t, ok)
	assert.Equal(t, "", cp.Cursor)
	assert.Equal(t, int64(30), cp.RecordsCount)

	assert.Equal(t, model.RunStatusCompleted, st.run(entry.ID).Status)
}

func TestRun_InvalidRecordSkippedAndCounted(t *testing.T) {
	st := newMemStore()
	src := &scriptedSource{
		name: "texas_bar",
		fetch: func(string) ([]source.RawRecord, string, error) {
			page := recordsPage("a", 9)
			page = append(page, source.RawRecord{source.FieldFullName: "No Bar Number"})
			return page, "", nil
		},
	}
	e := testEngine(st, src)

	summary, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, summary.Entries, 1)

	entry := summary.Entries[0]
	assert.Equal(t, model.RunStatusCompleted, entry.Status)
	assert.Equal(t, int64(10), entry.Stats.Fetched)
	assert.Equal(t, int64(9), entry.Stats.Persisted)
	assert.Equal(t, int64(1), entry.Stats.Failed)
}

func TestRun_ResumesFromCheckpoint(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.SaveCheckpoint(context.Background(), "texas_bar", "3", 20))

	src := threePageSource("texas_bar")
	e := testEngine(st, src)

	summary, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)

	// Only the final page is refetched.
	assert.Equal(t, []string{"3"}, src.cursors)
	assert.Equal(t, int64(10), summary.Entries[0].Stats.Persisted)

	cp, _ := st.checkpoint("texas_bar")
	assert.Equal(t, int64(30), cp.RecordsCount)
}

func TestRun_ForceRestartIgnoresCheckpoint(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.SaveCheckpoint(context.Background(), "texas_bar", "3", 20))

	src := threePageSource("texas_bar")
	e := testEngine(st, src)

	_, err := e.Run(context.Background(), Options{ForceRestart: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"", "2", "3"}, src.cursors)
}

func TestRun_AbortsWhenRetriesExhausted(t *testing.T) {
	st := newMemStore()
	src := &scriptedSource{
		name: "texas_bar",
		fetch: func(string) ([]source.RawRecord, string, error) {
			return nil, "", resilience.NewTransientError(errors.New("503"), 503)
		},
	}
	e := testEngine(st, src)

	summary, err := e.Run(context.Background(), Options{})
	require.NoError(t, err, "a single source abort does not fail the run call")
	assert.Equal(t, 1, summary.Aborted)

	entry := summary.Entries[0]
	assert.Equal(t, model.RunStatusAborted, entry.Status)
	assert.NotEmpty(t, entry.Error)
	assert.Len(t, src.cursors, 2, "MaxAttempts bounds the fetches")

	// No page succeeded: no checkpoint written.
	_, ok := st.checkpoint("texas_bar")
	assert.False(t, ok)

	assert.Equal(t, model.RunStatusAborted, st.run(entry.ID).Status)
}

func TestRun_AbortKeepsLastCheckpoint(t *testing.T) {
	st := newMemStore()
	src := &scriptedSource{
		name: "texas_bar",
		fetch: func(cursor string) ([]source.RawRecord, string, error) {
			if cursor == "" {
				return recordsPage("a", 10), "2", nil
			}
			return nil, "", source.NewPermanentError(errors.New("login wall"), 403)
		},
	}
	e := testEngine(st, src)

	summary, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Aborted)

	// The page-1 checkpoint survives, so the next run resumes at cursor 2.
	cp, ok := st.checkpoint("texas_bar")
	require.True(t, ok)
	assert.Equal(t, "2", cp.Cursor)
	assert.Equal(t, int64(10), cp.RecordsCount)
}

func TestRun_PermanentErrorWithNextCursorSkipsPage(t *testing.T) {
	st := newMemStore()
	src := &scriptedSource{
		name: "texas_bar",
		fetch: func(cursor string) ([]source.RawRecord, string, error) {
			switch cursor {
			case "":
				pe := source.NewPermanentError(errors.New("garbled page"), 0)
				pe.NextCursor = "2"
				return nil, "", pe
			default:
				return recordsPage("b", 10), "", nil
			}
		},
	}
	e := testEngine(st, src)

	summary, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)

	entry := summary.Entries[0]
	assert.Equal(t, int64(2), entry.Stats.Pages)
	assert.Equal(t, int64(1), entry.Stats.Skipped)
	assert.Equal(t, int64(10), entry.Stats.Persisted)
}

func TestRun_TerminalPermanentFailureCompletesWithSkip(t *testing.T) {
	st := newMemStore()
	src := &scriptedSource{
		name: "texas_bar",
		fetch: func(cursor string) ([]source.RawRecord, string, error) {
			if cursor == "" {
				return recordsPage("a", 10), "2", nil
			}
			// The final page breaks; the adapter knows nothing follows it.
			pe := source.NewPermanentError(errors.New("garbled page"), 0)
			pe.Terminal = true
			return nil, "", pe
		},
	}
	e := testEngine(st, src)

	summary, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 0, summary.Aborted)

	entry := summary.Entries[0]
	assert.Equal(t, model.RunStatusCompleted, entry.Status)
	assert.Equal(t, int64(2), entry.Stats.Pages)
	assert.Equal(t, int64(1), entry.Stats.Skipped)
	assert.Equal(t, int64(10), entry.Stats.Persisted)

	// The checkpoint moves past the broken final page, so the next run
	// restarts from the top instead of re-aborting on it.
	cp, ok := st.checkpoint("texas_bar")
	require.True(t, ok)
	assert.Equal(t, "", cp.Cursor)
	assert.Equal(t, int64(10), cp.RecordsCount)
}

func TestRun_PersistenceFailureAborts(t *testing.T) {
	st := newMemStore()
	st.upsertErr = errors.New("disk full")
	src := threePageSource("texas_bar")
	e := testEngine(st, src)

	summary, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Aborted)

	// The failed page's checkpoint was never advanced.
	_, ok := st.checkpoint("texas_bar")
	assert.False(t, ok)
}

func TestRun_SourceIsolation(t *testing.T) {
	st := newMemStore()
	good := threePageSource("texas_bar")
	bad := &scriptedSource{
		name: "florida_bar",
		fetch: func(string) ([]source.RawRecord, string, error) {
			return nil, "", source.NewPermanentError(errors.New("blocked"), 403)
		},
	}
	e := testEngine(st, good, bad)

	summary, err := e.Run(context.Background(), Options{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Aborted)
	assert.Len(t, st.attorneys, 30, "the healthy source finishes despite the broken one")
}

func TestRun_UnknownSourceName(t *testing.T) {
	st := newMemStore()
	e := testEngine(st, threePageSource("texas_bar"))

	_, err := e.Run(context.Background(), Options{Sources: []string{"nope"}})
	assert.Error(t, err)
}

func TestRun_ContextCancelledAborts(t *testing.T) {
	st := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())

	src := &scriptedSource{name: "texas_bar"}
	src.fetch = func(cursor string) ([]source.RawRecord, string, error) {
		if cursor == "" {
			return recordsPage("a", 10), "2", nil
		}
		// Cancellation lands after page 1 was persisted and checkpointed.
		cancel()
		return recordsPage("b", 10), "", nil
	}
	e := testEngine(st, src)

	summary, err := e.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Aborted)

	// The completed page's checkpoint is durable even though the run died.
	cp, ok := st.checkpoint("texas_bar")
	require.True(t, ok)
	assert.Equal(t, "2", cp.Cursor)
	assert.Equal(t, model.RunStatusAborted, st.run(summary.Entries[0].ID).Status)
}
