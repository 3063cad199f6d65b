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

package compute

import (
	"github.com/daviszhen/aggrht/pkg/util"
)

const (
	LOAD_FACTOR      = 1.5
	HASH_WIDTH       = 8
	INITIAL_CAPACITY = 4096
	BATCH_SIZE       = util.DefaultVectorSize

	//the top 16 bits of the hash
	SALT_SHIFT = (HASH_WIDTH - 2) * 8
)

// CapacityForCount is the directory size that holds count groups
// without resizing.
func CapacityForCount(count int) int {
	count = max(count, INITIAL_CAPACITY)
	return int(util.NextPowerOfTwo(uint64(float64(count) * LOAD_FACTOR)))
}

func saltOf(hash uint64) uint16 {
	return uint16(hash >> SALT_SHIFT)
}
