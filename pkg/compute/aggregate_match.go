package compute

import (
	"bytes"

	"github.com/daviszhen/aggrht/pkg/chunk"
	"github.com/daviszhen/aggrht/pkg/common"
	"github.com/daviszhen/aggrht/pkg/util"
)

// RowMatch compares input row idx of groups with a stored row. Keys are
// compared as bytes: validity first, then the encoded value.
func (payload *Payload) RowMatch(groups *chunk.Chunk, idx int, row []byte) bool {
	layout := payload._layout
	for colIdx, typ := range layout._groupTypes {
		vec := groups.Data[colIdx]
		lNull := vec.IsNull(idx)
		rNull := !rowIsValid(row, colIdx)
		if lNull || rNull {
			if lNull != rNull {
				return false
			}
			continue
		}
		off := layout._groupOffsets[colIdx]
		if typ.PTyp.IsVarchar() {
			if !payload.stringMatch(vec.Strs[idx], row[off:off+common.VarcharSize]) {
				return false
			}
		} else if !bytes.Equal(vec.ValueBytes(idx), row[off:off+typ.PTyp.Size()]) {
			return false
		}
	}
	return true
}

func (payload *Payload) stringMatch(s string, slot []byte) bool {
	if int(util.Load[uint32](slot, 0)) != len(s) {
		return false
	}
	sb := util.UnsafeStringToBytes(s)
	if len(s) <= VARCHAR_INLINE_LENGTH {
		return bytes.Equal(sb, slot[4:4+len(s)])
	}
	if !bytes.Equal(sb[:VARCHAR_PREFIX_LENGTH], slot[4:4+VARCHAR_PREFIX_LENGTH]) {
		return false
	}
	return bytes.Equal(sb, payload.stringBytes(slot))
}

// matchRows checks the rows sel[0:count] against their resolved rows.
// Mismatches are appended to noMatch starting at noMatchCount. It
// returns the new noMatchCount.
func (payload *Payload) matchRows(
	groups *chunk.Chunk,
	rows [][]byte,
	sel []int,
	count int,
	noMatch *chunk.SelectVector,
	noMatchCount int,
) int {
	for j := 0; j < count; j++ {
		idx := sel[j]
		if !payload.RowMatch(groups, idx, rows[idx]) {
			noMatch.SetIndex(noMatchCount, idx)
			noMatchCount++
		}
	}
	return noMatchCount
}
