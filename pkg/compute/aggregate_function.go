package compute

import (
	"fmt"
	"strings"

	"github.com/daviszhen/aggrht/pkg/chunk"
	"github.com/daviszhen/aggrht/pkg/common"
)

// AggregateFunction is the contract between the hash table and an
// aggregate. The table owns the state bytes. Each state is a fixed
// StateSize region inside a payload row.
//
// states[i] is the full row of input row i and offset is where this
// aggregate's state starts inside the row. A nil row in Finalize means
// the group does not exist and the result is NULL.
type AggregateFunction interface {
	Name() string
	ArgTypes() []common.LType
	ReturnType() common.LType
	StateSize() int
	InitState(state []byte)
	Accumulate(states [][]byte, offset int, args []*chunk.Vector, count int) error
	MergeStates(dst, src [][]byte, offset int, count int) error
	Finalize(states [][]byte, offset int, result *chunk.Vector, count int) error
}

// AggregateObject is one aggregate slot. ArgIndices picks the argument
// columns out of an input batch.
type AggregateObject struct {
	Func       AggregateFunction
	ArgIndices []int
	Alias      string
}

func NewAggregateObject(fun AggregateFunction, argIndices ...int) *AggregateObject {
	return &AggregateObject{
		Func:       fun,
		ArgIndices: argIndices,
	}
}

func (obj *AggregateObject) String() string {
	if obj.Alias != "" {
		return obj.Alias
	}
	args := make([]string, 0, len(obj.ArgIndices))
	for _, idx := range obj.ArgIndices {
		args = append(args, fmt.Sprintf("#%d", idx))
	}
	if len(args) == 0 {
		args = append(args, "*")
	}
	return fmt.Sprintf("%s(%s)", obj.Func.Name(), strings.Join(args, ","))
}

// SliceArgs builds the argument chunks of every slot from one input
// batch. The chunks reference the input columns.
func SliceArgs(aggrObjs []*AggregateObject, input *chunk.Chunk) []*chunk.Chunk {
	ret := make([]*chunk.Chunk, len(aggrObjs))
	for i, obj := range aggrObjs {
		args := &chunk.Chunk{}
		args.ReferenceColumns(input, obj.ArgIndices)
		ret[i] = args
	}
	return ret
}

func aggregateTypes(aggrObjs []*AggregateObject) []common.LType {
	ret := make([]common.LType, 0, len(aggrObjs))
	for _, obj := range aggrObjs {
		ret = append(ret, obj.Func.ReturnType())
	}
	return ret
}
