package compute

import (
	"strings"

	"github.com/daviszhen/aggrht/pkg/chunk"
	"github.com/daviszhen/aggrht/pkg/common"
	"github.com/daviszhen/aggrht/pkg/parser"
)

// AggregatePlan is a GROUP BY query bound to an input schema.
type AggregatePlan struct {
	GroupIndices []int
	GroupTypes   []common.LType
	Aggregates   []*AggregateObject
}

func columnIndex(names []string, name string) int {
	for i, n := range names {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return -1
}

// BindAggregates resolves the aggregate calls against the input columns.
func BindAggregates(calls []parser.AggregateCall, names []string, types []common.LType) ([]*AggregateObject, error) {
	ret := make([]*AggregateObject, 0, len(calls))
	for _, call := range calls {
		var argTypes []common.LType
		var argIndices []int
		if !call.Star {
			idx := columnIndex(names, call.Arg)
			if idx < 0 {
				return nil, invalidInputf("no column %q for %v", call.Arg, call)
			}
			argIndices = append(argIndices, idx)
			argTypes = append(argTypes, types[idx])
		}
		fun, err := GetAggregateFunction(call.Name, argTypes)
		if err != nil {
			return nil, err
		}
		obj := NewAggregateObject(fun, argIndices...)
		obj.Alias = call.Alias
		if obj.Alias == "" {
			obj.Alias = call.String()
		}
		ret = append(ret, obj)
	}
	return ret, nil
}

func BindGroupBy(groupBy []string, names []string, types []common.LType) ([]int, []common.LType, error) {
	indices := make([]int, 0, len(groupBy))
	groupTypes := make([]common.LType, 0, len(groupBy))
	for _, col := range groupBy {
		idx := columnIndex(names, col)
		if idx < 0 {
			return nil, nil, invalidInputf("no group column %q", col)
		}
		indices = append(indices, idx)
		groupTypes = append(groupTypes, types[idx])
	}
	return indices, groupTypes, nil
}

func BindQuery(query *parser.AggregateQuery, names []string, types []common.LType) (*AggregatePlan, error) {
	if len(names) != len(types) {
		return nil, invalidInputf("%d column names for %d types", len(names), len(types))
	}
	indices, groupTypes, err := BindGroupBy(query.GroupBy, names, types)
	if err != nil {
		return nil, err
	}
	aggrObjs, err := BindAggregates(query.Aggregates, names, types)
	if err != nil {
		return nil, err
	}
	return &AggregatePlan{
		GroupIndices: indices,
		GroupTypes:   groupTypes,
		Aggregates:   aggrObjs,
	}, nil
}

// Split divides an input batch into the group chunk and the argument
// chunks of every aggregate. Both reference the input columns.
func (plan *AggregatePlan) Split(input *chunk.Chunk) (*chunk.Chunk, []*chunk.Chunk) {
	groups := &chunk.Chunk{}
	groups.ReferenceColumns(input, plan.GroupIndices)
	return groups, SliceArgs(plan.Aggregates, input)
}

// OutputNames is the group column names followed by the aggregate names.
func (plan *AggregatePlan) OutputNames(names []string) []string {
	ret := make([]string, 0, len(plan.GroupIndices)+len(plan.Aggregates))
	for _, idx := range plan.GroupIndices {
		ret = append(ret, names[idx])
	}
	for _, obj := range plan.Aggregates {
		ret = append(ret, obj.String())
	}
	return ret
}
