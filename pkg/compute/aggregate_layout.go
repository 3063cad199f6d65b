package compute

import (
	"fmt"

	"github.com/xlab/treeprint"

	"github.com/daviszhen/aggrht/pkg/common"
	"github.com/daviszhen/aggrht/pkg/util"
)

/*
RowLayout
format:

	validity | group columns | hash | aggr states |
	|--------|---------------|------|-------------|

validityWidth-----|               |      |             |
groupOffsets------------|         |      |             |
hashOffset------------------------|      |             |
stateOffset------------------------------|             |
rowWidth-----------------------------------------------|

every offset is 8-byte aligned. A set validity bit means not null.
*/
type RowLayout struct {
	_groupTypes []common.LType
	_aggregates []*AggregateObject

	_validityWidth int
	_groupOffsets  []int
	_hashOffset    int
	_stateOffset   int
	//offset of each aggregate state in the row
	_stateAddrOffsets []int
	_rowWidth         int
	_hasVarchar       bool
}

func NewRowLayout(groupTypes []common.LType, aggrObjs []*AggregateObject) *RowLayout {
	layout := &RowLayout{
		_groupTypes: common.CopyLTypes(groupTypes...),
		_aggregates: aggrObjs,
	}
	layout._validityWidth = util.AlignValue8(util.EntryCount(len(groupTypes)))
	layout._rowWidth = layout._validityWidth

	for _, typ := range groupTypes {
		layout._groupOffsets = append(layout._groupOffsets, layout._rowWidth)
		layout._rowWidth += typ.PTyp.Size()
		layout._rowWidth = util.AlignValue8(layout._rowWidth)
		if typ.PTyp.IsVarchar() {
			layout._hasVarchar = true
		}
	}

	layout._hashOffset = layout._rowWidth
	layout._rowWidth += HASH_WIDTH

	layout._stateOffset = layout._rowWidth
	for _, obj := range aggrObjs {
		layout._stateAddrOffsets = append(layout._stateAddrOffsets, layout._rowWidth)
		layout._rowWidth += obj.Func.StateSize()
		layout._rowWidth = util.AlignValue8(layout._rowWidth)
	}
	return layout
}

func (layout *RowLayout) groupCount() int {
	return len(layout._groupTypes)
}

func (layout *RowLayout) GroupTypes() []common.LType {
	return common.CopyLTypes(layout._groupTypes...)
}

func (layout *RowLayout) RowWidth() int {
	return layout._rowWidth
}

func (layout *RowLayout) HashOffset() int {
	return layout._hashOffset
}

func (layout *RowLayout) StateOffset() int {
	return layout._stateOffset
}

// Compatible reports whether rows of other can be merged into rows of
// layout.
func (layout *RowLayout) Compatible(other *RowLayout) bool {
	if layout._rowWidth != other._rowWidth ||
		len(layout._groupTypes) != len(other._groupTypes) ||
		len(layout._aggregates) != len(other._aggregates) {
		return false
	}
	for i, typ := range layout._groupTypes {
		if !typ.Equal(other._groupTypes[i]) {
			return false
		}
	}
	for i, obj := range layout._aggregates {
		oobj := other._aggregates[i]
		if obj.Func.Name() != oobj.Func.Name() ||
			obj.Func.StateSize() != oobj.Func.StateSize() ||
			!obj.Func.ReturnType().Equal(oobj.Func.ReturnType()) {
			return false
		}
	}
	return true
}

func (layout *RowLayout) tree(root treeprint.Tree) {
	root.AddNode(fmt.Sprintf("row width: %d", layout._rowWidth))
	root.AddNode(fmt.Sprintf("validity: [0, %d)", layout._validityWidth))
	groups := root.AddBranch("groups")
	for i, typ := range layout._groupTypes {
		groups.AddNode(fmt.Sprintf("#%d %v @%d", i, typ, layout._groupOffsets[i]))
	}
	root.AddNode(fmt.Sprintf("hash @%d", layout._hashOffset))
	aggrs := root.AddBranch("aggregates")
	for i, obj := range layout._aggregates {
		aggrs.AddNode(fmt.Sprintf("%v %v @%d size %d",
			obj, obj.Func.ReturnType(), layout._stateAddrOffsets[i], obj.Func.StateSize()))
	}
}

func (layout *RowLayout) String() string {
	tree := treeprint.NewWithRoot("RowLayout")
	layout.tree(tree)
	return tree.String()
}
