package portalloc

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/artpar/lnlab/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Allocate / Release Tests
// =============================================================================

func TestAllocate_StartsAtBase(t *testing.T) {
	a := New(0, 0, nil)

	ports, err := a.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, []int{20000, 20001, 20002, 20003}, ports)

	ports, err = a.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, []int{20004, 20005, 20006, 20007}, ports)
}

func TestAllocate_ReusesLowestFreedRange(t *testing.T) {
	a := New(20000, 0, nil)

	first, err := a.Allocate(4)
	require.NoError(t, err)
	_, err = a.Allocate(3)
	require.NoError(t, err)

	require.NoError(t, a.Release(first))

	again, err := a.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestAllocate_SkipsGapTooSmall(t *testing.T) {
	a := New(20000, 0, nil)

	lnd, err := a.Allocate(3) // 20000-20002
	require.NoError(t, err)
	_, err = a.Allocate(4) // 20003-20006
	require.NoError(t, err)
	require.NoError(t, a.Release(lnd))

	btc, err := a.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, 20007, btc[0])

	small, err := a.Allocate(3)
	require.NoError(t, err)
	assert.Equal(t, 20000, small[0])
}

func TestAllocate_Exhaustion(t *testing.T) {
	a := New(20000, 20005, nil)

	_, err := a.Allocate(4)
	require.NoError(t, err)

	_, err = a.Allocate(4)
	assert.ErrorIs(t, err, domain.ErrPortExhaustion)

	ports, err := a.Allocate(2)
	require.NoError(t, err)
	assert.Equal(t, []int{20004, 20005}, ports)
}

func TestAllocate_InvalidSize(t *testing.T) {
	a := New(0, 0, nil)
	_, err := a.Allocate(0)
	assert.Error(t, err)
}

func TestRelease_NotReserved(t *testing.T) {
	a := New(0, 0, nil)

	ports, err := a.Allocate(2)
	require.NoError(t, err)

	err = a.Release([]int{ports[0], 30000})
	assert.ErrorIs(t, err, domain.ErrNotReserved)

	// Nothing was released
	assert.True(t, a.IsReserved(ports[0]))

	require.NoError(t, a.Release(ports))
	assert.ErrorIs(t, a.Release(ports), domain.ErrNotReserved)
}

func TestLoad_MarksReserved(t *testing.T) {
	a := New(0, 0, nil)
	a.Load([]int{20000, 20001, 20002, 20003, 20002})

	ports, err := a.Allocate(3)
	require.NoError(t, err)
	assert.Equal(t, 20004, ports[0])
	assert.Equal(t, []int{20000, 20001, 20002, 20003, 20004, 20005, 20006}, a.Reserved())
}

// =============================================================================
// Uniqueness Property Tests
// =============================================================================

func TestAllocator_RandomSequencesNeverOverlap(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a := New(20000, 20200, nil)

	var held [][]int
	for i := 0; i < 2000; i++ {
		if len(held) > 0 && rng.Intn(3) == 0 {
			idx := rng.Intn(len(held))
			require.NoError(t, a.Release(held[idx]))
			held = append(held[:idx], held[idx+1:]...)
		} else {
			ports, err := a.Allocate(3 + rng.Intn(2))
			if err != nil {
				require.ErrorIs(t, err, domain.ErrPortExhaustion)
				continue
			}
			held = append(held, ports)
		}

		seen := make(map[int]bool)
		for _, block := range held {
			for _, p := range block {
				require.False(t, seen[p], "port %d held twice", p)
				seen[p] = true
			}
		}
		assert.Len(t, a.Reserved(), len(seen))
	}
}

func TestAllocator_ConcurrentAllocateNeverOverlaps(t *testing.T) {
	a := New(20000, 0, nil)

	const workers = 32
	results := make([][]int, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ports, err := a.Allocate(4)
			if err == nil {
				results[i] = ports
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, ports := range results {
		require.Len(t, ports, 4)
		for _, p := range ports {
			assert.False(t, seen[p], "port %d allocated twice", p)
			seen[p] = true
		}
	}
	assert.Len(t, seen, workers*4)
}
