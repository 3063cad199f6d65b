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

package chunk

import (
	"fmt"
	"math"

	"github.com/daviszhen/aggrht/pkg/common"
	"github.com/daviszhen/aggrht/pkg/util"
)

const (
	NULL_HASH = 0xbf58476d1ce4e5b9
)

func murmurhash64(x uint64) uint64 {
	x ^= x >> 32
	x *= 0xd6e8feb86659fd93
	x ^= x >> 32
	x *= 0xd6e8feb86659fd93
	x ^= x >> 32
	return x
}

func murmurhash32(x uint32) uint64 {
	return murmurhash64(uint64(x))
}

func CombineHashScalar(a, b uint64) uint64 {
	return (a * 0xbf58476d1ce4e5b9) ^ b
}

func hashValue(vec *Vector, idx int) uint64 {
	if vec.IsNull(idx) {
		return NULL_HASH
	}
	switch vec.Typ().Id {
	case common.LTID_BOOLEAN:
		if util.Load[bool](vec.Data, idx) {
			return murmurhash32(1)
		}
		return murmurhash32(0)
	case common.LTID_INTEGER:
		return murmurhash32(uint32(util.Load[int32](vec.Data, idx*common.Int32Size)))
	case common.LTID_BIGINT, common.LTID_DECIMAL:
		return murmurhash64(uint64(util.Load[int64](vec.Data, idx*common.Int64Size)))
	case common.LTID_UBIGINT:
		return murmurhash64(util.Load[uint64](vec.Data, idx*common.Int64Size))
	case common.LTID_DOUBLE:
		return murmurhash64(math.Float64bits(util.Load[float64](vec.Data, idx*common.DoubleSize)))
	case common.LTID_VARCHAR:
		return util.HashBytes(util.UnsafeStringToBytes(vec.Strs[idx]))
	default:
		panic(fmt.Sprintf("usp hash type %v", vec.Typ()))
	}
}

// HashVector writes the hash of the first count rows of vec into hashes.
func HashVector(vec *Vector, count int, hashes []uint64) {
	for i := 0; i < count; i++ {
		hashes[i] = hashValue(vec, i)
	}
}

// CombineHashVector mixes the hash of each row of vec into hashes.
func CombineHashVector(vec *Vector, count int, hashes []uint64) {
	for i := 0; i < count; i++ {
		hashes[i] = CombineHashScalar(hashes[i], hashValue(vec, i))
	}
}

// Hash computes a 64-bit hash per row over all columns of c.
func (c *Chunk) Hash(hashes []uint64) {
	util.AssertFunc(c.ColumnCount() > 0)
	util.AssertFunc(len(hashes) >= c.Card())
	HashVector(c.Data[0], c.Card(), hashes)
	for i := 1; i < c.ColumnCount(); i++ {
		CombineHashVector(c.Data[i], c.Card(), hashes)
	}
}
