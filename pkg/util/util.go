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

package util

import (
	"os"
)

const (
	DefaultVectorSize = 2048
)

func AlignValue8(value int) int {
	return (value + 7) & (^7)
}

func AssertFunc(b bool) {
	if !b {
		panic("assertion failed")
	}
}

func FileIsValid(path string) bool {
	stat, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !stat.IsDir()
}

func NextPowerOfTwo(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}

func IsPowerOfTwo(v uint64) bool {
	return v != 0 && (v&(v-1)) == 0
}

// Grow returns data with len >= n. The existing prefix is kept.
func Grow[T any](data []T, n int) []T {
	if len(data) >= n {
		return data
	}
	if cap(data) >= n {
		return data[:n]
	}
	ret := make([]T, n)
	copy(ret, data)
	return ret
}

func Fill[T any](data []T, count int, val T) {
	for i := 0; i < count; i++ {
		data[i] = val
	}
}
