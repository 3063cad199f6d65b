package storage

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/aggrht/pkg/util"
)

func Test_arenaAllocate(t *testing.T) {
	arena := NewArena(100, 0)
	assert.Equal(t, MIN_PAGE_SIZE, arena.PageSize())

	page, err := arena.AllocatePage()
	require.NoError(t, err)
	assert.Len(t, page, MIN_PAGE_SIZE)
	assert.Equal(t, int64(MIN_PAGE_SIZE), arena.Used())
	assert.Equal(t, 1, arena.PageCount())

	buf, err := arena.Allocate(10)
	require.NoError(t, err)
	assert.Len(t, buf, 10)
	arena.Free(10)
	assert.Equal(t, int64(MIN_PAGE_SIZE), arena.Used())
	assert.Equal(t, int64(MIN_PAGE_SIZE+10), arena.Peak())
	assert.Contains(t, arena.String(), "unlimited")
}

func Test_arenaLimit(t *testing.T) {
	arena := NewArena(MIN_PAGE_SIZE, 2*MIN_PAGE_SIZE)
	_, err := arena.AllocatePage()
	require.NoError(t, err)
	_, err = arena.AllocatePage()
	require.NoError(t, err)
	_, err = arena.AllocatePage()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	assert.Equal(t, 2, arena.PageCount())

	arena.Free(MIN_PAGE_SIZE)
	require.NoError(t, arena.Reserve(MIN_PAGE_SIZE))
}

func Test_arenaRefs(t *testing.T) {
	arena := NewArena(0, 0)
	assert.Equal(t, DEFAULT_PAGE_SIZE, arena.PageSize())
	arena.Retain()
	assert.Equal(t, 2, arena.Refs())
	arena.Release()
	_, err := arena.AllocatePage()
	require.NoError(t, err)
	arena.Release()
	assert.Equal(t, 0, arena.Refs())
	assert.Equal(t, int64(0), arena.Used())

	_, err = arena.Allocate(8)
	assert.True(t, errors.Is(err, ErrArenaReleased))
	assert.Panics(t, func() {
		arena.Retain()
	})
}

func Test_arenaFault(t *testing.T) {
	util.Open(util.FAULTS_SCOPE_ARENA)
	defer util.Close(util.FAULTS_SCOPE_ARENA)
	util.Register(util.FAULTS_SCOPE_ARENA, FaultArenaAllocate, nil, func([]string) error {
		return errors.New("injected")
	})
	arena := NewArena(MIN_PAGE_SIZE, 0)
	_, err := arena.AllocatePage()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	assert.Equal(t, int64(0), arena.Used())
}

func Test_arenaConcurrent(t *testing.T) {
	arena := NewArena(MIN_PAGE_SIZE, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 16; j++ {
				_, err := arena.AllocatePage()
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 128, arena.PageCount())
	assert.Equal(t, int64(128*MIN_PAGE_SIZE), arena.Used())
}
