package compute

import (
	"math"

	"github.com/daviszhen/aggrht/pkg/chunk"
	"github.com/daviszhen/aggrht/pkg/common"
	"github.com/daviszhen/aggrht/pkg/storage"
	"github.com/daviszhen/aggrht/pkg/util"
)

const (
	//strings up to this length live in the row
	VARCHAR_INLINE_LENGTH = common.VarcharSize - 4
	VARCHAR_PREFIX_LENGTH = 4
)

// Payload is the paged row store of the hash table. Rows are appended in
// order and addressed by (page number, row offset in page). Page numbers
// start at 1.
type Payload struct {
	_layout      *RowLayout
	_arena       *storage.Arena
	_pages       [][]byte
	_rowsPerPage int
	_count       int
	_heap        *stringHeap
	_bytes       int
}

func NewPayload(layout *RowLayout, arena *storage.Arena) (*Payload, error) {
	rowsPerPage := min(arena.PageSize()/layout.RowWidth(), math.MaxUint16)
	if rowsPerPage < 1 {
		return nil, invalidInputf("row width %d exceeds page size %d",
			layout.RowWidth(), arena.PageSize())
	}
	ret := &Payload{
		_layout:      layout,
		_arena:       arena,
		_rowsPerPage: rowsPerPage,
	}
	if layout._hasVarchar {
		ret._heap = &stringHeap{_arena: arena}
	}
	return ret, nil
}

func (payload *Payload) Count() int {
	return payload._count
}

func (payload *Payload) PageCount() int {
	return len(payload._pages)
}

func (payload *Payload) RowsPerPage() int {
	return payload._rowsPerPage
}

// Bytes is the arena memory held by pages and the string heap.
func (payload *Payload) Bytes() int {
	ret := payload._bytes
	if payload._heap != nil {
		ret += payload._heap._bytes
	}
	return ret
}

func (payload *Payload) PagePtr(pageNr uint32) []byte {
	util.AssertFunc(pageNr > 0 && int(pageNr) <= len(payload._pages))
	return payload._pages[pageNr-1]
}

// RowPtr is the view of one row. Its capacity ends at the row boundary.
func (payload *Payload) RowPtr(pageNr uint32, offset uint16) []byte {
	util.AssertFunc(int(offset) < payload._rowsPerPage)
	page := payload.PagePtr(pageNr)
	width := payload._layout.RowWidth()
	start := int(offset) * width
	return page[start : start+width : start+width]
}

// RowAt maps the logical row index to its address.
func (payload *Payload) RowAt(idx int) (uint32, uint16) {
	util.AssertFunc(idx >= 0 && idx < payload._count)
	return uint32(idx/payload._rowsPerPage + 1), uint16(idx % payload._rowsPerPage)
}

func (payload *Payload) tryExtendPage() error {
	page, err := payload._arena.AllocatePage()
	if err != nil {
		return allocationFailure(err, "payload page")
	}
	payload._pages = append(payload._pages, page)
	payload._bytes += len(page)
	return nil
}

// reserve makes room for count more rows and their strings before
// anything is written, so a failed allocation leaves the payload as it
// was.
func (payload *Payload) reserve(groups *chunk.Chunk, sel []int, count int) error {
	need := (payload._count + count + payload._rowsPerPage - 1) / payload._rowsPerPage
	for len(payload._pages) < need {
		if err := payload.tryExtendPage(); err != nil {
			return err
		}
	}
	if payload._heap == nil {
		return nil
	}
	heapSize := 0
	for colIdx, typ := range payload._layout._groupTypes {
		if !typ.PTyp.IsVarchar() {
			continue
		}
		vec := groups.Data[colIdx]
		for i := 0; i < count; i++ {
			idx := sel[i]
			if vec.IsNull(idx) || len(vec.Strs[idx]) <= VARCHAR_INLINE_LENGTH {
				continue
			}
			heapSize += len(vec.Strs[idx])
		}
	}
	return payload._heap.reserve(heapSize)
}

// AppendRows writes the group rows sel[0:count] of groups with their
// hashes and initializes the aggregate states. The address of the j-th
// new row is written to pageNrs[j] and offsets[j] and its view to
// rows[sel[j]].
func (payload *Payload) AppendRows(
	groups *chunk.Chunk,
	hashes []uint64,
	sel []int,
	count int,
	pageNrs []uint32,
	offsets []uint16,
	rows [][]byte,
) error {
	if count == 0 {
		return nil
	}
	if err := payload.reserve(groups, sel, count); err != nil {
		return err
	}
	layout := payload._layout
	for j := 0; j < count; j++ {
		idx := sel[j]
		payload._count++
		pageNr, offset := payload.RowAt(payload._count - 1)
		row := payload.RowPtr(pageNr, offset)
		payload.scatterRow(groups, idx, row)
		util.Store[uint64](hashes[idx], row, layout._hashOffset)
		for i, obj := range layout._aggregates {
			off := layout._stateAddrOffsets[i]
			obj.Func.InitState(row[off : off+obj.Func.StateSize()])
		}
		pageNrs[j] = pageNr
		offsets[j] = offset
		rows[idx] = row
	}
	return nil
}

func (payload *Payload) scatterRow(groups *chunk.Chunk, idx int, row []byte) {
	layout := payload._layout
	for colIdx, typ := range layout._groupTypes {
		vec := groups.Data[colIdx]
		off := layout._groupOffsets[colIdx]
		if vec.IsNull(idx) {
			//null slots stay zero
			continue
		}
		setRowValid(row, colIdx)
		if typ.PTyp.IsVarchar() {
			payload.scatterString(vec.Strs[idx], row[off:off+common.VarcharSize])
		} else {
			copy(row[off:off+typ.PTyp.Size()], vec.ValueBytes(idx))
		}
	}
}

/*
varchar slot:

	len <= 12: | len uint32 | inline bytes                      |
	len > 12 : | len uint32 | prefix 4B | heap page | heap offset |
*/
func (payload *Payload) scatterString(s string, slot []byte) {
	util.Store[uint32](uint32(len(s)), slot, 0)
	if len(s) <= VARCHAR_INLINE_LENGTH {
		copy(slot[4:], s)
		return
	}
	copy(slot[4:4+VARCHAR_PREFIX_LENGTH], s)
	pageIdx, pageOff := payload._heap.add(s)
	util.Store[uint32](pageIdx, slot, 8)
	util.Store[uint32](pageOff, slot, 12)
}

func (payload *Payload) stringBytes(slot []byte) []byte {
	l := int(util.Load[uint32](slot, 0))
	if l <= VARCHAR_INLINE_LENGTH {
		return slot[4 : 4+l]
	}
	pageIdx := util.Load[uint32](slot, 8)
	pageOff := util.Load[uint32](slot, 12)
	return payload._heap.get(pageIdx, pageOff, l)
}

// gatherRow decodes the group columns of row into output row outIdx.
func (payload *Payload) gatherRow(row []byte, output *chunk.Chunk, outIdx int) {
	layout := payload._layout
	for colIdx, typ := range layout._groupTypes {
		vec := output.Data[colIdx]
		if !rowIsValid(row, colIdx) {
			vec.SetNull(outIdx, true)
			continue
		}
		vec.SetNull(outIdx, false)
		off := layout._groupOffsets[colIdx]
		if typ.PTyp.IsVarchar() {
			vec.Strs[outIdx] = string(payload.stringBytes(row[off : off+common.VarcharSize]))
		} else {
			sz := typ.PTyp.Size()
			copy(vec.Data[outIdx*sz:(outIdx+1)*sz], row[off:off+sz])
		}
	}
}

// Scan produces the next batch of rows for the flush cursor. It returns
// 0 once every row has been produced.
func (payload *Payload) Scan(state *PayloadFlushState) int {
	state.bind(payload)
	if state._rowIdx >= payload._count {
		state._count = 0
		return 0
	}
	n := min(BATCH_SIZE, payload._count-state._rowIdx)
	state.prepare(payload._layout, n)
	for j := 0; j < n; j++ {
		pageNr, offset := payload.RowAt(state._rowIdx + j)
		row := payload.RowPtr(pageNr, offset)
		payload.gatherRow(row, state._groups, j)
		state._rows[j] = row
	}
	state._groups.SetCard(n)
	state._rowIdx += n
	state._count = n
	return n
}

// release returns every byte of the payload to the arena.
func (payload *Payload) release() {
	payload._arena.Free(payload.Bytes())
	payload._pages = nil
	payload._bytes = 0
	payload._count = 0
	if payload._heap != nil {
		payload._heap._pages = nil
		payload._heap._bytes = 0
	}
}

func setRowValid(row []byte, colIdx int) {
	row[colIdx/8] |= 1 << (colIdx % 8)
}

func rowIsValid(row []byte, colIdx int) bool {
	return util.EntryIsSet(row[colIdx/8], uint64(colIdx%8))
}

// stringHeap keeps the bytes of strings too long to be inlined.
type stringHeap struct {
	_arena *storage.Arena
	_pages [][]byte
	_used  int
	_bytes int
}

// reserve guarantees size contiguous bytes in the current page.
func (heap *stringHeap) reserve(size int) error {
	if size == 0 {
		return nil
	}
	if len(heap._pages) > 0 && len(heap._pages[len(heap._pages)-1])-heap._used >= size {
		return nil
	}
	page, err := heap._arena.Allocate(max(heap._arena.PageSize(), size))
	if err != nil {
		return allocationFailure(err, "string heap")
	}
	heap._pages = append(heap._pages, page)
	heap._used = 0
	heap._bytes += len(page)
	return nil
}

func (heap *stringHeap) add(s string) (uint32, uint32) {
	pageIdx := len(heap._pages) - 1
	page := heap._pages[pageIdx]
	util.AssertFunc(len(page)-heap._used >= len(s))
	off := heap._used
	copy(page[off:], s)
	heap._used += len(s)
	return uint32(pageIdx), uint32(off)
}

func (heap *stringHeap) get(pageIdx, off uint32, l int) []byte {
	page := heap._pages[pageIdx]
	return page[off : int(off)+l]
}
