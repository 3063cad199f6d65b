package compute

import (
	"github.com/daviszhen/aggrht/pkg/chunk"
	"github.com/daviszhen/aggrht/pkg/common"
	"github.com/daviszhen/aggrht/pkg/util"
)

// ProbeState is the scratch space of one AddGroups/FetchAggregates call.
// It is owned by the caller and reused across calls. Buffers grow and
// never shrink.
type ProbeState struct {
	_cap    int
	_hashes []uint64
	_salts  []uint16
	_slots  []uint64
	//resolved row of each input row
	_rows [][]byte

	_selVector     *chunk.SelectVector
	_emptyVector   *chunk.SelectVector
	_compareVector *chunk.SelectVector
	_noMatchVector *chunk.SelectVector
	_newGroups     *chunk.SelectVector
	_newGroupCount int

	//addresses of appended rows
	_pageNrs []uint32
	_offsets []uint16

	//slices of input batches larger than BATCH_SIZE
	_groupChunk *chunk.Chunk
	_argChunks  []*chunk.Chunk
}

func NewProbeState() *ProbeState {
	ret := &ProbeState{
		_selVector:     &chunk.SelectVector{},
		_emptyVector:   &chunk.SelectVector{},
		_compareVector: &chunk.SelectVector{},
		_noMatchVector: &chunk.SelectVector{},
		_newGroups:     &chunk.SelectVector{},
	}
	ret.Adjust(util.DefaultVectorSize)
	return ret
}

// Adjust grows every buffer to hold at least count rows.
func (state *ProbeState) Adjust(count int) {
	if count <= state._cap {
		return
	}
	state._hashes = util.Grow(state._hashes, count)
	state._salts = util.Grow(state._salts, count)
	state._slots = util.Grow(state._slots, count)
	state._rows = util.Grow(state._rows, count)
	state._pageNrs = util.Grow(state._pageNrs, count)
	state._offsets = util.Grow(state._offsets, count)
	state._selVector.Grow(count)
	state._emptyVector.Grow(count)
	state._compareVector.Grow(count)
	state._noMatchVector.Grow(count)
	state._newGroups.Grow(count)
	state._cap = count
}

func (state *ProbeState) Cap() int {
	return state._cap
}

// NewGroups lists the input rows of the last batch that created a group.
func (state *ProbeState) NewGroups() []int {
	return state._newGroups.Slice(state._newGroupCount)
}

// sliceInput copies rows [offset, offset+count) of the input into the
// state's scratch chunks.
func (state *ProbeState) sliceInput(
	groups *chunk.Chunk,
	args []*chunk.Chunk,
	offset, count int,
) (*chunk.Chunk, []*chunk.Chunk) {
	if state._groupChunk == nil || !sameTypes(state._groupChunk.Types(), groups.Types()) {
		state._groupChunk = chunk.NewChunk(groups.Types(), count)
	}
	state._groupChunk.CopyRange(groups, offset, count)

	if len(state._argChunks) != len(args) {
		state._argChunks = make([]*chunk.Chunk, len(args))
	}
	for i, arg := range args {
		if state._argChunks[i] == nil || !sameTypes(state._argChunks[i].Types(), arg.Types()) {
			state._argChunks[i] = chunk.NewChunk(arg.Types(), count)
		}
		state._argChunks[i].CopyRange(arg, offset, count)
	}
	return state._groupChunk, state._argChunks
}

func sameTypes(a, b []common.LType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// PayloadFlushState is the cursor over the rows of one payload. Each
// Scan produces the next batch of group columns and row views.
type PayloadFlushState struct {
	_payload *Payload
	_rowIdx  int
	_count   int
	_groups  *chunk.Chunk
	_rows    [][]byte
}

func NewPayloadFlushState() *PayloadFlushState {
	return &PayloadFlushState{}
}

// Reset rewinds the cursor and unbinds it from its payload.
func (state *PayloadFlushState) Reset() {
	state._payload = nil
	state._rowIdx = 0
	state._count = 0
}

func (state *PayloadFlushState) bound(payload *Payload) bool {
	return state._payload == nil || state._payload == payload
}

func (state *PayloadFlushState) bind(payload *Payload) {
	if state._payload != payload {
		state._payload = payload
		state._rowIdx = 0
		state._count = 0
	}
}

func (state *PayloadFlushState) prepare(layout *RowLayout, count int) {
	if state._groups == nil || !sameTypes(state._groups.Types(), layout._groupTypes) {
		state._groups = chunk.NewChunk(layout._groupTypes, max(count, BATCH_SIZE))
	}
	state._groups.Reset()
	state._groups.Reserve(count)
	state._rows = util.Grow(state._rows, count)
}

// Groups is the group columns of the last batch.
func (state *PayloadFlushState) Groups() *chunk.Chunk {
	return state._groups
}

func (state *PayloadFlushState) Count() int {
	return state._count
}
