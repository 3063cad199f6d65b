package common

import "fmt"

type LTypeId int

const (
	LTID_INVALID  LTypeId = 0
	LTID_NULL     LTypeId = 1
	LTID_BOOLEAN  LTypeId = 10
	LTID_INTEGER  LTypeId = 13
	LTID_BIGINT   LTypeId = 14
	LTID_DECIMAL  LTypeId = 21
	LTID_DOUBLE   LTypeId = 23
	LTID_VARCHAR  LTypeId = 25
	LTID_UBIGINT  LTypeId = 31
	LTID_VALIDITY LTypeId = 53
)

var lTypeIdToStr = map[LTypeId]string{
	LTID_INVALID:  "LTID_INVALID",
	LTID_NULL:     "LTID_NULL",
	LTID_BOOLEAN:  "LTID_BOOLEAN",
	LTID_INTEGER:  "LTID_INTEGER",
	LTID_BIGINT:   "LTID_BIGINT",
	LTID_DECIMAL:  "LTID_DECIMAL",
	LTID_DOUBLE:   "LTID_DOUBLE",
	LTID_VARCHAR:  "LTID_VARCHAR",
	LTID_UBIGINT:  "LTID_UBIGINT",
	LTID_VALIDITY: "LTID_VALIDITY",
}

func (id LTypeId) String() string {
	if s, has := lTypeIdToStr[id]; has {
		return s
	}
	return fmt.Sprintf("LTID_%d", int(id))
}
