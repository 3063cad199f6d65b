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

package parser

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	pg_query "github.com/pganalyze/pg_query_go/v5"
)

func Parse(s string) ([]*pg_query.RawStmt, error) {
	result, err := pg_query.Parse(s)
	if err != nil {
		return nil, err
	}
	return result.Stmts, nil
}

// AggregateCall is one aggregate of the select list. Arg is empty for
// count(*).
type AggregateCall struct {
	Name  string
	Arg   string
	Star  bool
	Alias string
}

func (call AggregateCall) String() string {
	if call.Star {
		return fmt.Sprintf("%s(*)", call.Name)
	}
	return fmt.Sprintf("%s(%s)", call.Name, call.Arg)
}

// AggregateQuery is a single table GROUP BY query:
//
//	SELECT a, count(*), sum(b) FROM t GROUP BY a
type AggregateQuery struct {
	Table      string
	GroupBy    []string
	Aggregates []AggregateCall
}

// ParseQuery extracts the group keys and the aggregates of sql.
func ParseQuery(sql string) (*AggregateQuery, error) {
	stmts, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	if len(stmts) != 1 {
		return nil, errors.Newf("expect one statement, got %d", len(stmts))
	}
	sel := stmts[0].GetStmt().GetSelectStmt()
	if sel == nil {
		return nil, errors.New("expect a select statement")
	}
	ret := &AggregateQuery{}
	from := sel.GetFromClause()
	if len(from) > 1 {
		return nil, errors.New("expect at most one table")
	}
	if len(from) == 1 {
		rv := from[0].GetRangeVar()
		if rv == nil {
			return nil, errors.New("expect a plain table in FROM")
		}
		ret.Table = rv.GetRelname()
	}
	for _, node := range sel.GetGroupClause() {
		col, err := columnName(node)
		if err != nil {
			return nil, errors.Wrap(err, "group by")
		}
		ret.GroupBy = append(ret.GroupBy, col)
	}
	for _, target := range sel.GetTargetList() {
		res := target.GetResTarget()
		if res == nil {
			continue
		}
		fc := res.GetVal().GetFuncCall()
		if fc == nil {
			//group columns in the select list
			col, err := columnName(res.GetVal())
			if err != nil {
				return nil, err
			}
			if !contains(ret.GroupBy, col) {
				return nil, errors.Newf("column %q must appear in GROUP BY", col)
			}
			continue
		}
		call, err := aggregateCall(fc)
		if err != nil {
			return nil, err
		}
		call.Alias = res.GetName()
		ret.Aggregates = append(ret.Aggregates, call)
	}
	return ret, nil
}

// ParseAggregates parses a list like "count(*), sum(b) AS total".
func ParseAggregates(list string) ([]AggregateCall, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	query, err := ParseQuery("SELECT " + list)
	if err != nil {
		return nil, errors.Wrapf(err, "aggregate list %q", list)
	}
	return query.Aggregates, nil
}

func getFuncName(expr *pg_query.FuncCall) string {
	for _, node := range expr.GetFuncname() {
		sval := node.GetString_().GetSval()
		if sval == "pg_catalog" {
			continue
		}
		return sval
	}
	return ""
}

func aggregateCall(expr *pg_query.FuncCall) (AggregateCall, error) {
	call := AggregateCall{
		Name: strings.ToLower(getFuncName(expr)),
		Star: expr.GetAggStar(),
	}
	if call.Name == "" {
		return call, errors.New("function without name")
	}
	if expr.GetAggDistinct() {
		return call, errors.Newf("%s(DISTINCT ...) is not supported", call.Name)
	}
	if call.Star {
		return call, nil
	}
	if len(expr.GetArgs()) != 1 {
		return call, errors.Newf("%s expects one column, got %d arguments", call.Name, len(expr.GetArgs()))
	}
	col, err := columnName(expr.GetArgs()[0])
	if err != nil {
		return call, errors.Wrapf(err, "argument of %s", call.Name)
	}
	call.Arg = col
	return call, nil
}

func columnName(node *pg_query.Node) (string, error) {
	ref := node.GetColumnRef()
	if ref == nil {
		return "", errors.Newf("expect a column, got %s", node.String())
	}
	fields := ref.GetFields()
	if len(fields) == 0 || len(fields) > 2 {
		return "", errors.Newf("unexpected column reference %s", ref.String())
	}
	//table.column keeps the column
	col := fields[len(fields)-1].GetString_().GetSval()
	if col == "" {
		return "", errors.Newf("unexpected column reference %s", ref.String())
	}
	return col, nil
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
