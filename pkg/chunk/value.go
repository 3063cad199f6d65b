package chunk

import (
	"fmt"
	"strconv"

	"github.com/daviszhen/aggrht/pkg/common"
)

type Value struct {
	Typ    common.LType
	IsNull bool
	//value
	Bool bool
	I64  int64
	U64  uint64
	F64  float64
	Str  string
}

func (val Value) String() string {
	if val.IsNull {
		return "NULL"
	}
	switch val.Typ.Id {
	case common.LTID_INTEGER, common.LTID_BIGINT:
		return strconv.FormatInt(val.I64, 10)
	case common.LTID_BOOLEAN:
		return strconv.FormatBool(val.Bool)
	case common.LTID_VARCHAR:
		return val.Str
	case common.LTID_DECIMAL:
		return common.DecimalToString(val.I64, val.Typ.Scale)
	case common.LTID_UBIGINT:
		return fmt.Sprintf("0x%x", val.U64)
	case common.LTID_DOUBLE:
		return strconv.FormatFloat(val.F64, 'g', -1, 64)
	default:
		panic(fmt.Sprintf("usp value type %v", val.Typ))
	}
}

// Equal compares two values of the same type. Nulls are equal to each
// other.
func (val *Value) Equal(o *Value) bool {
	if val.IsNull || o.IsNull {
		return val.IsNull == o.IsNull
	}
	if !val.Typ.Equal(o.Typ) {
		return false
	}
	switch val.Typ.Id {
	case common.LTID_INTEGER, common.LTID_BIGINT, common.LTID_DECIMAL:
		return val.I64 == o.I64
	case common.LTID_BOOLEAN:
		return val.Bool == o.Bool
	case common.LTID_VARCHAR:
		return val.Str == o.Str
	case common.LTID_UBIGINT:
		return val.U64 == o.U64
	case common.LTID_DOUBLE:
		return val.F64 == o.F64
	default:
		return false
	}
}

func NullValue(typ common.LType) *Value {
	return &Value{Typ: typ, IsNull: true}
}

func BigintValue(v int64) *Value {
	return &Value{Typ: common.BigintType(), I64: v}
}

func IntegerValue(v int32) *Value {
	return &Value{Typ: common.IntegerType(), I64: int64(v)}
}

func DoubleValue(v float64) *Value {
	return &Value{Typ: common.DoubleType(), F64: v}
}

func VarcharValue(v string) *Value {
	return &Value{Typ: common.VarcharType(), Str: v}
}

func BooleanValue(v bool) *Value {
	return &Value{Typ: common.BooleanType(), Bool: v}
}

func DecimalValue(unscaled int64, width, scale int) *Value {
	return &Value{Typ: common.DecimalType(width, scale), I64: unscaled}
}
