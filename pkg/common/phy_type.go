package common

import "fmt"

type PhyType int

const (
	NA      PhyType = 0
	BOOL    PhyType = 1
	INT32   PhyType = 7
	UINT64  PhyType = 8
	INT64   PhyType = 9
	DOUBLE  PhyType = 12
	VARCHAR PhyType = 200
	BIT     PhyType = 206
	DECIMAL PhyType = 209

	INVALID PhyType = 255
)

const (
	BoolSize    = 1
	Int32Size   = 4
	Int64Size   = 8
	DoubleSize  = 8
	DecimalSize = 8
	//length + prefix + heap location
	VarcharSize = 16
)

var pTypeToStr = map[PhyType]string{
	NA:      "NA",
	BOOL:    "BOOL",
	INT32:   "INT32",
	UINT64:  "UINT64",
	INT64:   "INT64",
	DOUBLE:  "DOUBLE",
	VARCHAR: "VARCHAR",
	BIT:     "BIT",
	DECIMAL: "DECIMAL",
	INVALID: "INVALID",
}

func (pt PhyType) String() string {
	if s, has := pTypeToStr[pt]; has {
		return s
	}
	return fmt.Sprintf("PT_%d", int(pt))
}

// Size is the width of one value of pt inside a vector or a row.
func (pt PhyType) Size() int {
	switch pt {
	case BOOL, BIT:
		return BoolSize
	case INT32:
		return Int32Size
	case INT64, UINT64:
		return Int64Size
	case DOUBLE:
		return DoubleSize
	case DECIMAL:
		return DecimalSize
	case VARCHAR:
		return VarcharSize
	default:
		panic(fmt.Sprintf("usp phy type %v", pt))
	}
}

func (pt PhyType) IsConstant() bool {
	return pt != VARCHAR && pt != NA && pt != INVALID
}

func (pt PhyType) IsVarchar() bool {
	return pt == VARCHAR
}
