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
	"math"
	"sync/atomic"

	hll "github.com/axiomhq/hyperloglog"

	"github.com/daviszhen/aggrht/pkg/util"
)

const (
	SAMPLE_RATE float64 = 0.1
)

// DistinctStats estimates the number of distinct keys from their hashes.
// With sampling only a part of each batch is inserted into the sketch
// and the count is scaled up to the total.
type DistinctStats struct {
	_log         *hll.Sketch
	_sampleCount atomic.Uint64
	_totalCount  atomic.Uint64
}

func NewDistinctStats() *DistinctStats {
	ret := &DistinctStats{
		_log: hll.New14(),
	}
	return ret
}

func (stats *DistinctStats) Update(
	hashes []uint64,
	count int,
	sample bool) {
	if count == 0 {
		return
	}
	stats._totalCount.Add(uint64(count))
	if sample {
		mval := int(float64(max(util.DefaultVectorSize, count)) * SAMPLE_RATE)
		count = min(mval, count)
	}
	stats._sampleCount.Add(uint64(count))
	for i := 0; i < count; i++ {
		stats._log.InsertHash(hashes[i])
	}
}

func (stats *DistinctStats) Count() uint64 {
	if stats._sampleCount.Load() == 0 ||
		stats._totalCount.Load() == 0 {
		return 0
	}
	cnt := stats._log.Estimate()
	u := float64(min(cnt, stats._sampleCount.Load()))
	s := float64(stats._sampleCount.Load())
	n := float64(stats._totalCount.Load())
	u1 := math.Pow(u/s, 2) * u
	est := u + u1/s*(n-s)
	return min(uint64(est), stats._totalCount.Load())
}

func (stats *DistinctStats) TotalCount() uint64 {
	return stats._totalCount.Load()
}

func (stats *DistinctStats) Merge(other *DistinctStats) error {
	if err := stats._log.Merge(other._log); err != nil {
		return err
	}
	stats._sampleCount.Add(other._sampleCount.Load())
	stats._totalCount.Add(other._totalCount.Load())
	return nil
}
