package session

import (
	"testing"

	"github.com/Valter4578/MoonEnhancer/internal/hw/camera"
	"github.com/stretchr/testify/require"
)

func testProcessor(id int64) *processor {
	return newProcessor(camera.Settings{UniqueID: id}, func() {}, func(bool) {}, func(*processor) {})
}

func TestRegistry_InsertRemove(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.insert(2, testProcessor(2)))
	require.NoError(t, r.insert(1, testProcessor(1)))
	require.Equal(t, 2, r.len())
	require.Equal(t, []int64{1, 2}, r.ids())

	require.True(t, r.remove(2))
	require.False(t, r.remove(2))
	require.Equal(t, []int64{1}, r.ids())
	require.Equal(t, 2, r.inserted)
	require.Equal(t, 1, r.removed)
}

func TestRegistry_DuplicateID(t *testing.T) {
	r := newRegistry()
	first := testProcessor(7)
	require.NoError(t, r.insert(7, first))

	err := r.insert(7, testProcessor(7))
	require.ErrorIs(t, err, ErrDuplicateRequest)
	require.Same(t, first, r.inFlight[7])
	require.Equal(t, 1, r.len())
}
