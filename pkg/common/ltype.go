package common

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	DecimalMaxWidth = 18
)

type LType struct {
	Id    LTypeId
	PTyp  PhyType
	Width int
	Scale int
}

func MakeLType(id LTypeId) LType {
	ret := LType{Id: id}
	ret.PTyp = ret.GetInternalType()
	return ret
}

func Null() LType {
	return MakeLType(LTID_NULL)
}

func DecimalType(width, scale int) LType {
	ret := MakeLType(LTID_DECIMAL)
	ret.Width = width
	ret.Scale = scale
	return ret
}

func BigintType() LType {
	return MakeLType(LTID_BIGINT)
}

func IntegerType() LType {
	return MakeLType(LTID_INTEGER)
}

func HashType() LType {
	return MakeLType(LTID_UBIGINT)
}

func DoubleType() LType {
	return MakeLType(LTID_DOUBLE)
}

func VarcharType() LType {
	return MakeLType(LTID_VARCHAR)
}

func BooleanType() LType {
	return MakeLType(LTID_BOOLEAN)
}

func CopyLTypes(typs ...LType) []LType {
	ret := make([]LType, len(typs))
	copy(ret, typs)
	return ret
}

func (lt LType) IsNumeric() bool {
	switch lt.Id {
	case LTID_INTEGER, LTID_BIGINT, LTID_DOUBLE, LTID_DECIMAL, LTID_UBIGINT:
		return true
	default:
		return false
	}
}

func (lt LType) IsIntegral() bool {
	return lt.Id == LTID_INTEGER || lt.Id == LTID_BIGINT || lt.Id == LTID_UBIGINT
}

func (lt LType) Equal(o LType) bool {
	if lt.Id != o.Id {
		return false
	}
	switch lt.Id {
	case LTID_DECIMAL:
		return lt.Width == o.Width && lt.Scale == o.Scale
	default:
	}
	return true
}

func (lt LType) GetInternalType() PhyType {
	switch lt.Id {
	case LTID_BOOLEAN:
		return BOOL
	case LTID_NULL, LTID_INTEGER:
		return INT32
	case LTID_BIGINT:
		return INT64
	case LTID_UBIGINT:
		return UINT64
	case LTID_DOUBLE:
		return DOUBLE
	case LTID_DECIMAL:
		return DECIMAL
	case LTID_VARCHAR:
		return VARCHAR
	case LTID_VALIDITY:
		return BIT
	case LTID_INVALID:
		return INVALID
	default:
		panic(fmt.Sprintf("usp logical type %d", lt.Id))
	}
}

func (lt LType) String() string {
	switch lt.Id {
	case LTID_DECIMAL:
		return fmt.Sprintf("DECIMAL(%d,%d)", lt.Width, lt.Scale)
	case LTID_BOOLEAN:
		return "BOOLEAN"
	case LTID_INTEGER:
		return "INTEGER"
	case LTID_BIGINT:
		return "BIGINT"
	case LTID_UBIGINT:
		return "UBIGINT"
	case LTID_DOUBLE:
		return "DOUBLE"
	case LTID_VARCHAR:
		return "VARCHAR"
	case LTID_NULL:
		return "NULL"
	default:
		return lt.Id.String()
	}
}

// ParseLType converts a type name like "bigint" or "decimal(10,2)".
func ParseLType(s string) (LType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "bool", "boolean":
		return BooleanType(), nil
	case "int", "integer", "int32":
		return IntegerType(), nil
	case "bigint", "int64":
		return BigintType(), nil
	case "ubigint", "uint64":
		return HashType(), nil
	case "double", "float64":
		return DoubleType(), nil
	case "varchar", "string", "text":
		return VarcharType(), nil
	}
	if strings.HasPrefix(name, "decimal(") && strings.HasSuffix(name, ")") {
		args := strings.Split(name[len("decimal("):len(name)-1], ",")
		if len(args) != 2 {
			return LType{}, errors.Newf("invalid decimal type %q", s)
		}
		width, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil {
			return LType{}, errors.Wrapf(err, "invalid decimal width in %q", s)
		}
		scale, err := strconv.Atoi(strings.TrimSpace(args[1]))
		if err != nil {
			return LType{}, errors.Wrapf(err, "invalid decimal scale in %q", s)
		}
		if width <= 0 || width > DecimalMaxWidth || scale < 0 || scale > width {
			return LType{}, errors.Newf("decimal(%d,%d) out of range", width, scale)
		}
		return DecimalType(width, scale), nil
	}
	return LType{}, errors.Newf("unsupported type %q", s)
}
