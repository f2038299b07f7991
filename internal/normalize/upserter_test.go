package normalize

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/barharvest/internal/model"
	"github.com/sells-group/barharvest/internal/source"
	"github.com/sells-group/barharvest/internal/store"
)

type fakeSource struct{}

func (fakeSource) Name() string         { return "texas_bar" }
func (fakeSource) Jurisdiction() string { return "TX" }
func (fakeSource) Fetch(context.Context, string) ([]source.RawRecord, string, error) {
	return nil, "", nil
}

// recordingStore implements only the upsert path; everything else is unused
// by the upserter.
type recordingStore struct {
	store.Store

	upserts  []*model.Attorney
	outcome  store.UpsertOutcome
	failWith error
}

func (s *recordingStore) UpsertAttorney(_ context.Context, a *model.Attorney) (store.UpsertOutcome, error) {
	if s.failWith != nil {
		return store.UpsertOutcome{}, s.failWith
	}
	s.upserts = append(s.upserts, a)
	return s.outcome, nil
}

func page(barNumbers ...string) []source.RawRecord {
	var out []source.RawRecord
	for _, n := range barNumbers {
		out = append(out, source.RawRecord{
			source.FieldBarNumber: n,
			source.FieldFullName:  "Jane Doe",
		})
	}
	return out
}

func TestPersistPage_CountsPersisted(t *testing.T) {
	st := &recordingStore{}
	u := NewUpserter(st)

	res, err := u.PersistPage(context.Background(), fakeSource{}, page("1", "2", "3"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Persisted)
	assert.Equal(t, int64(0), res.Rejected)
	assert.Len(t, st.upserts, 3)
	assert.Equal(t, "TX", st.upserts[0].Jurisdiction)
}

func TestPersistPage_InvalidRecordSkippedNotFatal(t *testing.T) {
	st := &recordingStore{}
	u := NewUpserter(st)

	records := page("1", "2")
	records = append(records, source.RawRecord{source.FieldFullName: "No Number"})
	records = append(records, page("3")...)

	res, err := u.PersistPage(context.Background(), fakeSource{}, records)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Persisted)
	assert.Equal(t, int64(1), res.Rejected)
}

func TestPersistPage_StorageFailureIsFatal(t *testing.T) {
	st := &recordingStore{failWith: errors.New("disk full")}
	u := NewUpserter(st)

	_, err := u.PersistPage(context.Background(), fakeSource{}, page("1"))
	require.Error(t, err)
	var pe *PersistenceError
	assert.ErrorAs(t, err, &pe)
}

func TestPersistPage_NameConflictCounted(t *testing.T) {
	st := &recordingStore{outcome: store.UpsertOutcome{NameConflict: true}}
	u := NewUpserter(st)

	res, err := u.PersistPage(context.Background(), fakeSource{}, page("1", "2"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.NameConflicts)
}

func TestPersistPage_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := &recordingStore{}
	_, err := NewUpserter(st).PersistPage(ctx, fakeSource{}, page("1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, st.upserts)
}
