package parser

import (
	"strings"

	"github.com/cockroachdb/errors"
	pg_query "github.com/pganalyze/pg_query_go/v5"

	"github.com/daviszhen/aggrht/pkg/common"
)

// ParseColumns parses a column list in CREATE TABLE syntax:
//
//	a bigint, b varchar, c decimal(10,2)
func ParseColumns(list string) ([]string, []common.LType, error) {
	stmts, err := Parse("CREATE TABLE t (" + list + ")")
	if err != nil {
		return nil, nil, errors.Wrapf(err, "column list %q", list)
	}
	if len(stmts) != 1 || stmts[0].GetStmt().GetCreateStmt() == nil {
		return nil, nil, errors.Newf("invalid column list %q", list)
	}
	var names []string
	var types []common.LType
	for _, node := range stmts[0].GetStmt().GetCreateStmt().GetTableElts() {
		colDef := node.GetColumnDef()
		if colDef == nil {
			return nil, nil, errors.Newf("unexpected element in column list %q", list)
		}
		typ, err := columnType(colDef.GetTypeName())
		if err != nil {
			return nil, nil, errors.Wrapf(err, "column %s", colDef.GetColname())
		}
		names = append(names, colDef.GetColname())
		types = append(types, typ)
	}
	return names, types, nil
}

func columnType(typName *pg_query.TypeName) (common.LType, error) {
	name := ""
	switch len(typName.GetNames()) {
	case 2:
		name = typName.GetNames()[1].GetString_().GetSval()
	case 1:
		name = typName.GetNames()[0].GetString_().GetSval()
	default:
		return common.LType{}, errors.New("invalid type name")
	}
	switch strings.ToLower(name) {
	case "int4":
		return common.IntegerType(), nil
	case "int8":
		return common.BigintType(), nil
	case "ubigint":
		return common.HashType(), nil
	case "float8":
		return common.DoubleType(), nil
	case "bool":
		return common.BooleanType(), nil
	case "varchar", "text":
		return common.VarcharType(), nil
	case "numeric":
		typMods := typName.GetTypmods()
		if len(typMods) != 2 {
			return common.LType{}, errors.New("decimal needs width and scale")
		}
		width := int(typMods[0].GetAConst().GetIval().GetIval())
		scale := int(typMods[1].GetAConst().GetIval().GetIval())
		if width <= 0 || width > common.DecimalMaxWidth || scale < 0 || scale > width {
			return common.LType{}, errors.Newf("decimal(%d,%d) out of range", width, scale)
		}
		return common.DecimalType(width, scale), nil
	default:
		return common.LType{}, errors.Newf("unsupported type %s", name)
	}
}
