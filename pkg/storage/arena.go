// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/daviszhen/aggrht/pkg/util"
)

const (
	DEFAULT_PAGE_SIZE = 256 * 1024
	MIN_PAGE_SIZE     = 4 * 1024

	FaultArenaAllocate = "arena.allocate"
)

var (
	ErrOutOfMemory   = errors.New("arena out of memory")
	ErrArenaReleased = errors.New("arena already released")
)

// Arena hands out fixed-size pages and arbitrary buffers to the hash
// tables that share it and accounts their bytes against a limit.
// Memory is returned as a whole once the last reference is released.
type Arena struct {
	_lock     sync.Mutex
	_pageSize int
	_limit    int64
	_used     int64
	_peak     int64
	_pages    int
	_refs     atomic.Int32
}

// NewArena returns an arena holding one reference. limit <= 0 means no
// limit.
func NewArena(pageSize int, limit int64) *Arena {
	if pageSize <= 0 {
		pageSize = DEFAULT_PAGE_SIZE
	}
	if pageSize < MIN_PAGE_SIZE {
		pageSize = MIN_PAGE_SIZE
	}
	ret := &Arena{
		_pageSize: util.AlignValue8(pageSize),
		_limit:    limit,
	}
	ret._refs.Store(1)
	return ret
}

func (arena *Arena) PageSize() int {
	return arena._pageSize
}

func (arena *Arena) Retain() *Arena {
	util.AssertFunc(arena._refs.Add(1) > 1)
	return arena
}

// Release drops one reference. The last release frees the accounting.
func (arena *Arena) Release() {
	refs := arena._refs.Add(-1)
	util.AssertFunc(refs >= 0)
	if refs > 0 {
		return
	}
	arena._lock.Lock()
	defer arena._lock.Unlock()
	util.Debug("arena released",
		zap.Int("pages", arena._pages),
		zap.String("peak", humanize.IBytes(uint64(arena._peak))))
	arena._used = 0
	arena._pages = 0
}

func (arena *Arena) Refs() int {
	return int(arena._refs.Load())
}

// AllocatePage returns a zeroed page of PageSize bytes.
func (arena *Arena) AllocatePage() ([]byte, error) {
	buf, err := arena.Allocate(arena._pageSize)
	if err != nil {
		return nil, err
	}
	arena._lock.Lock()
	arena._pages++
	arena._lock.Unlock()
	return buf, nil
}

// Allocate returns a zeroed buffer of sz bytes.
func (arena *Arena) Allocate(sz int) ([]byte, error) {
	if err := arena.Reserve(sz); err != nil {
		return nil, err
	}
	return make([]byte, sz), nil
}

// Reserve accounts sz bytes without handing out memory. Callers that
// allocate their own typed slices use it together with Free.
func (arena *Arena) Reserve(sz int) error {
	util.AssertFunc(sz >= 0)
	if arena._refs.Load() <= 0 {
		return ErrArenaReleased
	}
	if err := util.Check(util.FAULTS_SCOPE_ARENA, FaultArenaAllocate).Run(); err != nil {
		return errors.Mark(errors.Wrapf(err, "allocate %d bytes", sz), ErrOutOfMemory)
	}
	arena._lock.Lock()
	defer arena._lock.Unlock()
	if arena._limit > 0 && arena._used+int64(sz) > arena._limit {
		util.Warn("arena limit reached",
			zap.String("request", humanize.IBytes(uint64(sz))),
			zap.String("used", humanize.IBytes(uint64(arena._used))),
			zap.String("limit", humanize.IBytes(uint64(arena._limit))))
		return errors.Wrapf(ErrOutOfMemory,
			"allocate %d bytes, used %d of %d", sz, arena._used, arena._limit)
	}
	arena._used += int64(sz)
	arena._peak = max(arena._peak, arena._used)
	return nil
}

// Free returns sz bytes of accounting.
func (arena *Arena) Free(sz int) {
	arena._lock.Lock()
	defer arena._lock.Unlock()
	arena._used -= int64(sz)
	util.AssertFunc(arena._used >= 0)
}

func (arena *Arena) Used() int64 {
	arena._lock.Lock()
	defer arena._lock.Unlock()
	return arena._used
}

func (arena *Arena) Peak() int64 {
	arena._lock.Lock()
	defer arena._lock.Unlock()
	return arena._peak
}

func (arena *Arena) PageCount() int {
	arena._lock.Lock()
	defer arena._lock.Unlock()
	return arena._pages
}

func (arena *Arena) String() string {
	arena._lock.Lock()
	defer arena._lock.Unlock()
	limit := "unlimited"
	if arena._limit > 0 {
		limit = humanize.IBytes(uint64(arena._limit))
	}
	return "arena page=" + humanize.IBytes(uint64(arena._pageSize)) +
		" used=" + humanize.IBytes(uint64(arena._used)) +
		" limit=" + limit
}
