package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name         string
	jurisdiction string
}

func (f *fakeSource) Name() string         { return f.name }
func (f *fakeSource) Jurisdiction() string { return f.jurisdiction }
func (f *fakeSource) Fetch(context.Context, string) ([]RawRecord, string, error) {
	return nil, "", nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{name: "texas_bar", jurisdiction: "TX"})
	reg.Register(&fakeSource{name: "florida_bar", jurisdiction: "FL"})

	s, err := reg.Get("texas_bar")
	require.NoError(t, err)
	assert.Equal(t, "TX", s.Jurisdiction())

	_, err = reg.Get("nope")
	assert.Error(t, err)
}

func TestRegistry_SelectAllInOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{name: "b"})
	reg.Register(&fakeSource{name: "a"})
	reg.Register(&fakeSource{name: "c"})

	all, err := reg.Select(nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"b", "a", "c"}, reg.Names())
}

func TestRegistry_SelectNamed(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{name: "a"})
	reg.Register(&fakeSource{name: "b"})

	got, err := reg.Select([]string{"b"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Name())

	_, err = reg.Select([]string{"b", "missing"})
	assert.Error(t, err, "unknown names must fail, not be dropped")
}

func TestRegistry_ReregisterKeepsPosition(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{name: "a", jurisdiction: "TX"})
	reg.Register(&fakeSource{name: "b"})
	reg.Register(&fakeSource{name: "a", jurisdiction: "FL"})

	assert.Equal(t, []string{"a", "b"}, reg.Names())
	s, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "FL", s.Jurisdiction())
}

func TestRawRecordAreas(t *testing.T) {
	r := RawRecord{FieldPracticeAreas: "Family Law| Criminal Defense |"}
	assert.Equal(t, []string{"Family Law", "Criminal Defense"}, r.Areas())

	assert.Nil(t, RawRecord{}.Areas())
}
