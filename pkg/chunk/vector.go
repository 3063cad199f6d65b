package chunk

import (
	"fmt"
	"math"

	"github.com/daviszhen/aggrht/pkg/common"
	"github.com/daviszhen/aggrht/pkg/util"
)

// Vector is a flat column of one type. Fixed width values live in Data,
// VARCHAR values in Strs. Mask carries validity.
type Vector struct {
	_Typ common.LType
	_Cap int
	Data []byte
	Strs []string
	Mask *util.Bitmap
}

func NewFlatVector(lType common.LType, cap int) *Vector {
	vec := &Vector{
		_Typ: lType,
		Mask: &util.Bitmap{},
	}
	vec.Init(cap)
	return vec
}

func (vec *Vector) Init(cap int) {
	vec._Cap = cap
	vec.Mask.Reset()
	if vec.Typ().PTyp.IsVarchar() {
		vec.Strs = make([]string, cap)
		vec.Data = nil
	} else {
		vec.Data = make([]byte, cap*vec.Typ().PTyp.Size())
		vec.Strs = nil
	}
}

func (vec *Vector) Typ() common.LType {
	return vec._Typ
}

func (vec *Vector) Cap() int {
	return vec._Cap
}

// Reserve grows the vector to hold at least cap rows.
func (vec *Vector) Reserve(cap int) {
	if cap <= vec._Cap {
		return
	}
	if vec.Typ().PTyp.IsVarchar() {
		vec.Strs = util.Grow(vec.Strs, cap)
	} else {
		vec.Data = util.Grow(vec.Data, cap*vec.Typ().PTyp.Size())
	}
	vec.Mask.Resize(vec._Cap, cap)
	vec._Cap = cap
}

func (vec *Vector) Reset() {
	vec.Mask.Reset()
}

func (vec *Vector) Reference(other *Vector) {
	util.AssertFunc(vec.Typ().Equal(other.Typ()))
	vec._Cap = other._Cap
	vec.Data = other.Data
	vec.Strs = other.Strs
	vec.Mask = other.Mask
}

func (vec *Vector) IsNull(idx int) bool {
	return !vec.Mask.RowIsValid(uint64(idx))
}

func (vec *Vector) SetNull(idx int, isNull bool) {
	vec.Mask.Set(uint64(idx), !isNull, vec._Cap)
}

// ValueBytes is the fixed width encoding of row idx.
func (vec *Vector) ValueBytes(idx int) []byte {
	sz := vec.Typ().PTyp.Size()
	return vec.Data[idx*sz : (idx+1)*sz]
}

func (vec *Vector) GetValue(idx int) *Value {
	if vec.IsNull(idx) {
		return NullValue(vec.Typ())
	}
	ret := &Value{Typ: vec.Typ()}
	switch vec.Typ().Id {
	case common.LTID_BOOLEAN:
		ret.Bool = util.Load[bool](vec.Data, idx)
	case common.LTID_INTEGER:
		ret.I64 = int64(util.Load[int32](vec.Data, idx*common.Int32Size))
	case common.LTID_BIGINT, common.LTID_DECIMAL:
		ret.I64 = util.Load[int64](vec.Data, idx*common.Int64Size)
	case common.LTID_UBIGINT:
		ret.U64 = util.Load[uint64](vec.Data, idx*common.Int64Size)
	case common.LTID_DOUBLE:
		ret.F64 = util.Load[float64](vec.Data, idx*common.DoubleSize)
	case common.LTID_VARCHAR:
		ret.Str = vec.Strs[idx]
	default:
		panic(fmt.Sprintf("usp type %v", vec.Typ()))
	}
	return ret
}

func (vec *Vector) SetValue(idx int, val *Value) {
	if val.IsNull {
		vec.SetNull(idx, true)
		return
	}
	vec.SetNull(idx, false)
	switch vec.Typ().Id {
	case common.LTID_BOOLEAN:
		util.Store[bool](val.Bool, vec.Data, idx)
	case common.LTID_INTEGER:
		util.AssertFunc(val.I64 >= math.MinInt32 && val.I64 <= math.MaxInt32)
		util.Store[int32](int32(val.I64), vec.Data, idx*common.Int32Size)
	case common.LTID_BIGINT, common.LTID_DECIMAL:
		util.Store[int64](val.I64, vec.Data, idx*common.Int64Size)
	case common.LTID_UBIGINT:
		util.Store[uint64](val.U64, vec.Data, idx*common.Int64Size)
	case common.LTID_DOUBLE:
		util.Store[float64](val.F64, vec.Data, idx*common.DoubleSize)
	case common.LTID_VARCHAR:
		vec.Strs[idx] = val.Str
	default:
		panic(fmt.Sprintf("usp type %v", vec.Typ()))
	}
}

// Copy copies count rows of src starting at srcOffset into vec starting
// at dstOffset.
func (vec *Vector) Copy(src *Vector, srcOffset, dstOffset, count int) {
	util.AssertFunc(vec.Typ().Equal(src.Typ()))
	vec.Reserve(dstOffset + count)
	if vec.Typ().PTyp.IsVarchar() {
		copy(vec.Strs[dstOffset:dstOffset+count], src.Strs[srcOffset:srcOffset+count])
	} else {
		sz := vec.Typ().PTyp.Size()
		copy(vec.Data[dstOffset*sz:(dstOffset+count)*sz], src.Data[srcOffset*sz:(srcOffset+count)*sz])
	}
	vec.copyMask(src, func(i int) int { return srcOffset + i }, dstOffset, count)
}

// CopySel gathers the rows sel[0:count] of src into vec[dstOffset:].
func (vec *Vector) CopySel(src *Vector, sel []int, dstOffset, count int) {
	util.AssertFunc(vec.Typ().Equal(src.Typ()))
	vec.Reserve(dstOffset + count)
	if vec.Typ().PTyp.IsVarchar() {
		for i := 0; i < count; i++ {
			vec.Strs[dstOffset+i] = src.Strs[sel[i]]
		}
	} else {
		sz := vec.Typ().PTyp.Size()
		for i := 0; i < count; i++ {
			copy(vec.Data[(dstOffset+i)*sz:(dstOffset+i+1)*sz], src.Data[sel[i]*sz:(sel[i]+1)*sz])
		}
	}
	vec.copyMask(src, func(i int) int { return sel[i] }, dstOffset, count)
}

func (vec *Vector) copyMask(src *Vector, srcIdx func(int) int, dstOffset, count int) {
	if src.Mask.AllValid() {
		if !vec.Mask.AllValid() {
			for i := 0; i < count; i++ {
				vec.Mask.SetValid(uint64(dstOffset + i))
			}
		}
		return
	}
	for i := 0; i < count; i++ {
		vec.Mask.Set(uint64(dstOffset+i), src.Mask.RowIsValid(uint64(srcIdx(i))), vec._Cap)
	}
}
