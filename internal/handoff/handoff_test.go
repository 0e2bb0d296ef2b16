package handoff

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead_Empty(t *testing.T) {
	t.Parallel()

	h := New[int]()

	v, ok := h.Read()
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestWriteRead_Latest(t *testing.T) {
	t.Parallel()

	h := New[string]()
	h.Write("first")

	v, ok := h.Read()
	require.True(t, ok)
	assert.Equal(t, "first", v)
}

func TestWrite_OverwritesUnread(t *testing.T) {
	t.Parallel()

	h := New[int]()
	h.Write(1)
	h.Write(2)

	v, ok := h.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, uint64(1), h.Drops())
	assert.Equal(t, uint64(2), h.Writes())
}

func TestRead_DoesNotConsume(t *testing.T) {
	t.Parallel()

	h := New[int]()
	h.Write(7)

	for i := 0; i < 3; i++ {
		v, ok := h.Read()
		require.True(t, ok)
		assert.Equal(t, 7, v)
	}
}

func TestReset_ClearsSlot(t *testing.T) {
	t.Parallel()

	h := New[int]()
	h.Write(5)
	h.Reset()

	_, ok := h.Read()
	assert.False(t, ok)

	// A later write is visible again.
	h.Write(6)
	v, ok := h.Read()
	require.True(t, ok)
	assert.Equal(t, 6, v)
}

func TestReadAfterRead_NoDropCounted(t *testing.T) {
	t.Parallel()

	h := New[int]()
	h.Write(1)
	_, _ = h.Read()
	h.Write(2)

	assert.Equal(t, uint64(0), h.Drops())
}

// TestConcurrent_NoTornValues hammers the slot from both sides and
// checks every observed value is one that was actually written whole.
func TestConcurrent_NoTornValues(t *testing.T) {
	t.Parallel()

	type pair struct {
		A, B uint64
	}

	h := New[pair]()
	const n = 10000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := uint64(1); i <= n; i++ {
			h.Write(pair{A: i, B: i * 2})
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			v, ok := h.Read()
			if !ok {
				continue
			}
			if v.B != v.A*2 {
				t.Errorf("torn read: %+v", v)
				return
			}
		}
	}()

	wg.Wait()

	v, ok := h.Read()
	require.True(t, ok)
	assert.Equal(t, uint64(n), v.A)
}
