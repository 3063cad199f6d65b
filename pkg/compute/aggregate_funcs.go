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
	"math"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/daviszhen/aggrht/pkg/chunk"
	"github.com/daviszhen/aggrht/pkg/common"
	"github.com/daviszhen/aggrht/pkg/util"
)

var ErrSumOverflow = errors.New("sum overflow")

type numeric interface {
	~int32 | ~int64 | ~uint64 | ~float64
}

/*
state formats. every state is 8-byte aligned.

	count      : | count int64 |
	sum,min,max: | isset int64 | value 8B |
	avg        : | count int64 | sum float64 |
*/
const (
	countStateSize = 8
	valueStateSize = 16
	avgStateSize   = 16
)

func stateIsSet(row []byte, off int) bool {
	return util.Load[int64](row, off) != 0
}

func loadValue[T numeric](row []byte, off int) T {
	return util.Load[T](row, off+8)
}

func storeValue[T numeric](val T, row []byte, off int) {
	util.Store[int64](1, row, off)
	util.Store[T](val, row, off+8)
}

func loadArg[T numeric](vec *chunk.Vector, idx int) T {
	return util.Load[T](vec.Data, idx*util.SizeOf[T]())
}

func storeResult[T numeric](val T, vec *chunk.Vector, idx int) {
	vec.SetNull(idx, false)
	util.Store[T](val, vec.Data, idx*util.SizeOf[T]())
}

type aggrBase struct {
	_name    string
	_args    []common.LType
	_retType common.LType
}

func (base *aggrBase) Name() string {
	return base._name
}

func (base *aggrBase) ArgTypes() []common.LType {
	return base._args
}

func (base *aggrBase) ReturnType() common.LType {
	return base._retType
}

func (base *aggrBase) InitState(state []byte) {
	util.Memset(state, 0)
}

// countFunc is count(*) without arguments or count(x) that skips NULL.
type countFunc struct {
	aggrBase
}

func (cf *countFunc) StateSize() int {
	return countStateSize
}

func (cf *countFunc) Accumulate(states [][]byte, offset int, args []*chunk.Vector, count int) error {
	if len(args) == 0 {
		for i := 0; i < count; i++ {
			util.Store[int64](util.Load[int64](states[i], offset)+1, states[i], offset)
		}
		return nil
	}
	vec := args[0]
	for i := 0; i < count; i++ {
		if vec.IsNull(i) {
			continue
		}
		util.Store[int64](util.Load[int64](states[i], offset)+1, states[i], offset)
	}
	return nil
}

func (cf *countFunc) MergeStates(dst, src [][]byte, offset int, count int) error {
	for i := 0; i < count; i++ {
		sum := util.Load[int64](dst[i], offset) + util.Load[int64](src[i], offset)
		util.Store[int64](sum, dst[i], offset)
	}
	return nil
}

func (cf *countFunc) Finalize(states [][]byte, offset int, result *chunk.Vector, count int) error {
	for i := 0; i < count; i++ {
		if states[i] == nil {
			result.SetNull(i, true)
			continue
		}
		storeResult[int64](util.Load[int64](states[i], offset), result, i)
	}
	return nil
}

// sumFunc adds T inputs into an R state. add reports overflow.
type sumFunc[T, R numeric] struct {
	aggrBase
	_add func(a, b R) (R, error)
}

func (sf *sumFunc[T, R]) StateSize() int {
	return valueStateSize
}

func (sf *sumFunc[T, R]) update(row []byte, offset int, val R) error {
	if !stateIsSet(row, offset) {
		storeValue[R](val, row, offset)
		return nil
	}
	sum, err := sf._add(loadValue[R](row, offset), val)
	if err != nil {
		return err
	}
	storeValue[R](sum, row, offset)
	return nil
}

func (sf *sumFunc[T, R]) Accumulate(states [][]byte, offset int, args []*chunk.Vector, count int) error {
	vec := args[0]
	for i := 0; i < count; i++ {
		if vec.IsNull(i) {
			continue
		}
		if err := sf.update(states[i], offset, R(loadArg[T](vec, i))); err != nil {
			return err
		}
	}
	return nil
}

func (sf *sumFunc[T, R]) MergeStates(dst, src [][]byte, offset int, count int) error {
	for i := 0; i < count; i++ {
		if !stateIsSet(src[i], offset) {
			continue
		}
		if err := sf.update(dst[i], offset, loadValue[R](src[i], offset)); err != nil {
			return err
		}
	}
	return nil
}

func (sf *sumFunc[T, R]) Finalize(states [][]byte, offset int, result *chunk.Vector, count int) error {
	for i := 0; i < count; i++ {
		if states[i] == nil || !stateIsSet(states[i], offset) {
			result.SetNull(i, true)
			continue
		}
		storeResult[R](loadValue[R](states[i], offset), result, i)
	}
	return nil
}

func addInt64(a, b int64) (int64, error) {
	c := a + b
	if (c > a) != (b > 0) {
		return 0, errors.Wrapf(ErrSumOverflow, "%d + %d", a, b)
	}
	return c, nil
}

func addUint64(a, b uint64) (uint64, error) {
	c := a + b
	if c < a {
		return 0, errors.Wrapf(ErrSumOverflow, "%d + %d", a, b)
	}
	return c, nil
}

func addFloat64(a, b float64) (float64, error) {
	return a + b, nil
}

func addDecimal(scale int) func(a, b int64) (int64, error) {
	return func(a, b int64) (int64, error) {
		return common.AddDecimal(a, b, common.DecimalMaxWidth, scale)
	}
}

// minMaxFunc keeps the smallest or the largest input.
type minMaxFunc[T numeric] struct {
	aggrBase
	_less bool
}

func (mf *minMaxFunc[T]) StateSize() int {
	return valueStateSize
}

func (mf *minMaxFunc[T]) better(val, cur T) bool {
	if mf._less {
		return val < cur
	}
	return val > cur
}

func (mf *minMaxFunc[T]) update(row []byte, offset int, val T) {
	if !stateIsSet(row, offset) || mf.better(val, loadValue[T](row, offset)) {
		storeValue[T](val, row, offset)
	}
}

func (mf *minMaxFunc[T]) Accumulate(states [][]byte, offset int, args []*chunk.Vector, count int) error {
	vec := args[0]
	for i := 0; i < count; i++ {
		if vec.IsNull(i) {
			continue
		}
		mf.update(states[i], offset, loadArg[T](vec, i))
	}
	return nil
}

func (mf *minMaxFunc[T]) MergeStates(dst, src [][]byte, offset int, count int) error {
	for i := 0; i < count; i++ {
		if !stateIsSet(src[i], offset) {
			continue
		}
		mf.update(dst[i], offset, loadValue[T](src[i], offset))
	}
	return nil
}

func (mf *minMaxFunc[T]) Finalize(states [][]byte, offset int, result *chunk.Vector, count int) error {
	for i := 0; i < count; i++ {
		if states[i] == nil || !stateIsSet(states[i], offset) {
			result.SetNull(i, true)
			continue
		}
		storeResult[T](loadValue[T](states[i], offset), result, i)
	}
	return nil
}

// avgFunc sums in float64. Decimal inputs are divided by 10^scale at
// the end.
type avgFunc[T numeric] struct {
	aggrBase
	_divisor float64
}

func (af *avgFunc[T]) StateSize() int {
	return avgStateSize
}

func (af *avgFunc[T]) add(row []byte, offset int, cnt int64, sum float64) {
	util.Store[int64](util.Load[int64](row, offset)+cnt, row, offset)
	util.Store[float64](util.Load[float64](row, offset+8)+sum, row, offset+8)
}

func (af *avgFunc[T]) Accumulate(states [][]byte, offset int, args []*chunk.Vector, count int) error {
	vec := args[0]
	for i := 0; i < count; i++ {
		if vec.IsNull(i) {
			continue
		}
		af.add(states[i], offset, 1, float64(loadArg[T](vec, i)))
	}
	return nil
}

func (af *avgFunc[T]) MergeStates(dst, src [][]byte, offset int, count int) error {
	for i := 0; i < count; i++ {
		af.add(dst[i], offset,
			util.Load[int64](src[i], offset),
			util.Load[float64](src[i], offset+8))
	}
	return nil
}

func (af *avgFunc[T]) Finalize(states [][]byte, offset int, result *chunk.Vector, count int) error {
	for i := 0; i < count; i++ {
		if states[i] == nil {
			result.SetNull(i, true)
			continue
		}
		cnt := util.Load[int64](states[i], offset)
		if cnt == 0 {
			result.SetNull(i, true)
			continue
		}
		sum := util.Load[float64](states[i], offset+8)
		storeResult[float64](sum/float64(cnt)/af._divisor, result, i)
	}
	return nil
}

func CountStar() AggregateFunction {
	return &countFunc{
		aggrBase{
			_name:    "count_star",
			_retType: common.BigintType(),
		},
	}
}

func Count(argTyp common.LType) AggregateFunction {
	return &countFunc{
		aggrBase{
			_name:    "count",
			_args:    []common.LType{argTyp},
			_retType: common.BigintType(),
		},
	}
}

func Sum(argTyp common.LType) (AggregateFunction, error) {
	base := func(ret common.LType) aggrBase {
		return aggrBase{_name: "sum", _args: []common.LType{argTyp}, _retType: ret}
	}
	switch argTyp.Id {
	case common.LTID_INTEGER:
		return &sumFunc[int32, int64]{base(common.BigintType()), addInt64}, nil
	case common.LTID_BIGINT:
		return &sumFunc[int64, int64]{base(common.BigintType()), addInt64}, nil
	case common.LTID_UBIGINT:
		return &sumFunc[uint64, uint64]{base(common.HashType()), addUint64}, nil
	case common.LTID_DOUBLE:
		return &sumFunc[float64, float64]{base(common.DoubleType()), addFloat64}, nil
	case common.LTID_DECIMAL:
		ret := common.DecimalType(common.DecimalMaxWidth, argTyp.Scale)
		return &sumFunc[int64, int64]{base(ret), addDecimal(argTyp.Scale)}, nil
	default:
		return nil, invalidInputf("sum does not support %v", argTyp)
	}
}

func minMax(name string, argTyp common.LType, less bool) (AggregateFunction, error) {
	base := aggrBase{_name: name, _args: []common.LType{argTyp}, _retType: argTyp}
	switch argTyp.Id {
	case common.LTID_INTEGER:
		return &minMaxFunc[int32]{base, less}, nil
	case common.LTID_BIGINT, common.LTID_DECIMAL:
		return &minMaxFunc[int64]{base, less}, nil
	case common.LTID_UBIGINT:
		return &minMaxFunc[uint64]{base, less}, nil
	case common.LTID_DOUBLE:
		return &minMaxFunc[float64]{base, less}, nil
	default:
		return nil, invalidInputf("%s does not support %v", name, argTyp)
	}
}

func Min(argTyp common.LType) (AggregateFunction, error) {
	return minMax("min", argTyp, true)
}

func Max(argTyp common.LType) (AggregateFunction, error) {
	return minMax("max", argTyp, false)
}

func Avg(argTyp common.LType) (AggregateFunction, error) {
	base := aggrBase{_name: "avg", _args: []common.LType{argTyp}, _retType: common.DoubleType()}
	switch argTyp.Id {
	case common.LTID_INTEGER:
		return &avgFunc[int32]{base, 1}, nil
	case common.LTID_BIGINT:
		return &avgFunc[int64]{base, 1}, nil
	case common.LTID_UBIGINT:
		return &avgFunc[uint64]{base, 1}, nil
	case common.LTID_DOUBLE:
		return &avgFunc[float64]{base, 1}, nil
	case common.LTID_DECIMAL:
		return &avgFunc[int64]{base, math.Pow10(argTyp.Scale)}, nil
	default:
		return nil, invalidInputf("avg does not support %v", argTyp)
	}
}

// GetAggregateFunction resolves an aggregate by name and argument types.
func GetAggregateFunction(name string, argTypes []common.LType) (AggregateFunction, error) {
	name = strings.ToLower(name)
	if name == "count_star" || (name == "count" && len(argTypes) == 0) {
		if len(argTypes) != 0 {
			return nil, invalidInputf("count(*) takes no argument")
		}
		return CountStar(), nil
	}
	if len(argTypes) != 1 {
		return nil, invalidInputf("%s takes one argument, got %d", name, len(argTypes))
	}
	switch name {
	case "count":
		return Count(argTypes[0]), nil
	case "sum":
		return Sum(argTypes[0])
	case "min":
		return Min(argTypes[0])
	case "max":
		return Max(argTypes[0])
	case "avg":
		return Avg(argTypes[0])
	default:
		return nil, invalidInputf("unknown aggregate %q", name)
	}
}
