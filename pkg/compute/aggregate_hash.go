package compute

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/daviszhen/aggrht/pkg/chunk"
	"github.com/daviszhen/aggrht/pkg/common"
	"github.com/daviszhen/aggrht/pkg/storage"
	"github.com/daviszhen/aggrht/pkg/util"
)

type aggrHTEntry struct {
	_salt       uint16
	_pageOffset uint16
	_pageNr     uint32
}

func (ent *aggrHTEntry) clean() {
	ent._salt = 0
	ent._pageOffset = 0
	ent._pageNr = 0
}

func (ent *aggrHTEntry) String() string {
	return fmt.Sprintf("salt:%d offset:%d nr:%d", ent._salt, ent._pageOffset, ent._pageNr)
}

var (
	aggrEntrySize = int(unsafe.Sizeof(aggrHTEntry{}))
)

const FaultAggrAccumulate = "aggr.accumulate"

// GroupHashFunc computes the hash of the first count rows of groups.
type GroupHashFunc func(groups *chunk.Chunk, count int, hashes []uint64)

func DefaultGroupHash(groups *chunk.Chunk, count int, hashes []uint64) {
	if groups.ColumnCount() == 0 {
		util.Fill(hashes, count, 0)
		return
	}
	groups.Hash(hashes[:count])
}

type AggrHTOptions struct {
	//power of two. INITIAL_CAPACITY when 0
	InitialCapacity int
	//DefaultGroupHash when nil
	HashFunc GroupHashFunc
	Metrics  *AggrMetrics
}

type aggrHTStatus int

const (
	AHT_ACCUMULATING aggrHTStatus = iota
	AHT_DRAINING
	AHT_CLOSED
)

func (s aggrHTStatus) String() string {
	switch s {
	case AHT_ACCUMULATING:
		return "accumulating"
	case AHT_DRAINING:
		return "draining"
	case AHT_CLOSED:
		return "closed"
	default:
		return "unknown"
	}
}

// AggregateHashTable maps group keys to aggregate states. It is used by
// one goroutine at a time. Handoff passes it to another goroutine.
type AggregateHashTable struct {
	_layout     *RowLayout
	_aggregates []*AggregateObject
	_payload    *Payload
	_arena      *storage.Arena

	_entries  []aggrHTEntry
	_capacity int
	_bitmask  uint64

	_hashFunc     GroupHashFunc
	_metrics      *AggrMetrics
	_owner        util.OwnerGuard
	_status       aggrHTStatus
	_combineState *ProbeState
}

func NewAggregateHashTable(
	arena *storage.Arena,
	groupTypes []common.LType,
	aggrObjs []*AggregateObject,
	opts AggrHTOptions,
) (*AggregateHashTable, error) {
	if arena == nil {
		return nil, invalidInputf("nil arena")
	}
	for i, obj := range aggrObjs {
		if obj == nil || obj.Func == nil {
			return nil, invalidInputf("aggregate %d has no function", i)
		}
	}
	initCap := opts.InitialCapacity
	if initCap == 0 {
		initCap = INITIAL_CAPACITY
	}
	if initCap < 0 || !util.IsPowerOfTwo(uint64(initCap)) {
		return nil, invalidInputf("initial capacity %d is not a power of two", initCap)
	}
	ret := &AggregateHashTable{
		_aggregates: aggrObjs,
		_arena:      arena.Retain(),
		_hashFunc:   opts.HashFunc,
		_metrics:    opts.Metrics,
	}
	if ret._hashFunc == nil {
		ret._hashFunc = DefaultGroupHash
	}
	ret._layout = NewRowLayout(groupTypes, aggrObjs)
	payload, err := NewPayload(ret._layout, arena)
	if err != nil {
		arena.Release()
		return nil, err
	}
	ret._payload = payload
	if err = ret.resize(initCap); err != nil {
		arena.Release()
		return nil, err
	}
	return ret, nil
}

func (aht *AggregateHashTable) Count() int {
	return aht._payload.Count()
}

func (aht *AggregateHashTable) Capacity() int {
	return aht._capacity
}

func (aht *AggregateHashTable) ResizeThreshold() int {
	return int(float64(aht._capacity) / LOAD_FACTOR)
}

func (aht *AggregateHashTable) Layout() *RowLayout {
	return aht._layout
}

func (aht *AggregateHashTable) Payload() *Payload {
	return aht._payload
}

func (aht *AggregateHashTable) Aggregates() []*AggregateObject {
	return aht._aggregates
}

// OutputTypes is the group types followed by the aggregate result types.
func (aht *AggregateHashTable) OutputTypes() []common.LType {
	return append(aht._layout.GroupTypes(), aggregateTypes(aht._aggregates)...)
}

func (aht *AggregateHashTable) Draining() bool {
	return aht._status != AHT_ACCUMULATING
}

// Handoff releases ownership. The next goroutine that uses the table
// becomes its owner.
func (aht *AggregateHashTable) Handoff() error {
	if !aht._owner.Release() {
		return errors.Wrapf(ErrNotOwner, "handoff by non owner, owner %d", aht._owner.Owner())
	}
	return nil
}

func (aht *AggregateHashTable) acquire() error {
	if !aht._owner.Acquire() {
		return errors.Wrapf(ErrNotOwner, "owner %d", aht._owner.Owner())
	}
	return nil
}

func (aht *AggregateHashTable) checkMutable() error {
	if err := aht.acquire(); err != nil {
		return err
	}
	if aht._status != AHT_ACCUMULATING {
		return invalidStatef("hash table is %v", aht._status)
	}
	return nil
}

func (aht *AggregateHashTable) validateGroups(groups *chunk.Chunk, rowCount int) error {
	if groups == nil {
		return invalidInputf("nil group chunk")
	}
	if groups.ColumnCount() != aht._layout.groupCount() {
		return invalidInputf("expect %d group columns, got %d",
			aht._layout.groupCount(), groups.ColumnCount())
	}
	for i, typ := range aht._layout._groupTypes {
		if !typ.Equal(groups.Data[i].Typ()) {
			return invalidInputf("group column %d: expect %v, got %v", i, typ, groups.Data[i].Typ())
		}
	}
	if rowCount < 0 || groups.Card() != rowCount {
		return invalidInputf("group columns have %d rows, row count %d", groups.Card(), rowCount)
	}
	return nil
}

func (aht *AggregateHashTable) validateArgs(args []*chunk.Chunk, rowCount int) error {
	if len(args) != len(aht._aggregates) {
		return invalidInputf("expect arguments of %d aggregates, got %d", len(aht._aggregates), len(args))
	}
	for i, obj := range aht._aggregates {
		argTypes := obj.Func.ArgTypes()
		arg := args[i]
		if arg == nil {
			return invalidInputf("aggregate %v has nil arguments", obj)
		}
		if arg.ColumnCount() != len(argTypes) {
			return invalidInputf("aggregate %v: expect %d arguments, got %d", obj, len(argTypes), arg.ColumnCount())
		}
		for j, typ := range argTypes {
			if !typ.Equal(arg.Data[j].Typ()) {
				return invalidInputf("aggregate %v argument %d: expect %v, got %v", obj, j, typ, arg.Data[j].Typ())
			}
		}
		if arg.Card() != rowCount {
			return invalidInputf("aggregate %v arguments have %d rows, row count %d", obj, arg.Card(), rowCount)
		}
	}
	return nil
}

// AddGroups finds or creates the group of every input row and updates
// the aggregate states with the arguments. args[i] holds the argument
// columns of aggregate i. It returns the number of new groups.
//
// Input is processed in batches of BATCH_SIZE. A failure leaves the
// batches before it applied.
func (aht *AggregateHashTable) AddGroups(
	state *ProbeState,
	groups *chunk.Chunk,
	args []*chunk.Chunk,
	rowCount int,
) (int, error) {
	if err := aht.checkMutable(); err != nil {
		return 0, err
	}
	if state == nil {
		return 0, invalidInputf("nil probe state")
	}
	if err := aht.validateGroups(groups, rowCount); err != nil {
		return 0, err
	}
	if err := aht.validateArgs(args, rowCount); err != nil {
		return 0, err
	}
	if rowCount == 0 {
		return 0, nil
	}

	newGroupCount := 0
	for offset := 0; offset < rowCount; offset += BATCH_SIZE {
		n := min(BATCH_SIZE, rowCount-offset)
		batchGroups, batchArgs := groups, args
		if rowCount > BATCH_SIZE {
			batchGroups, batchArgs = state.sliceInput(groups, args, offset, n)
		}
		cnt, err := aht.addBatch(state, batchGroups, batchArgs, n)
		newGroupCount += cnt
		if err != nil {
			return newGroupCount, err
		}
	}
	return newGroupCount, nil
}

func (aht *AggregateHashTable) addBatch(
	state *ProbeState,
	groups *chunk.Chunk,
	args []*chunk.Chunk,
	count int,
) (int, error) {
	state.Adjust(count)
	aht._hashFunc(groups, count, state._hashes)
	newGroupCount, err := aht.probeAndCreate(state, groups, state._hashes, count)
	if err != nil {
		return newGroupCount, err
	}
	if err = util.Check(util.FAULTS_SCOPE_AGGR, FaultAggrAccumulate).Run(); err != nil {
		return newGroupCount, aggregateFailure(err, "accumulate")
	}
	for i, obj := range aht._aggregates {
		err = obj.Func.Accumulate(
			state._rows[:count],
			aht._layout._stateAddrOffsets[i],
			args[i].Data,
			count)
		if err != nil {
			return newGroupCount, aggregateFailure(err, obj.String())
		}
	}
	return newGroupCount, nil
}

func (aht *AggregateHashTable) growFor(count int) error {
	need := aht.Count() + count
	if need <= aht.ResizeThreshold() {
		return nil
	}
	newCap := aht._capacity
	for float64(need) > float64(newCap)/LOAD_FACTOR {
		newCap *= 2
	}
	return aht.resize(newCap)
}

// probeAndCreate resolves the row of every input row, creating rows for
// unseen keys. On return state._rows[i] is the row of input row i.
func (aht *AggregateHashTable) probeAndCreate(
	state *ProbeState,
	groups *chunk.Chunk,
	hashes []uint64,
	count int,
) (int, error) {
	if err := aht.growFor(count); err != nil {
		return 0, err
	}
	util.AssertFunc(aht._capacity-aht.Count() > count)
	state.Adjust(count)
	for i := 0; i < count; i++ {
		state._slots[i] = hashes[i] & aht._bitmask
		state._salts[i] = saltOf(hashes[i])
		state._selVector.SetIndex(i, i)
	}

	selVec := state._selVector
	noMatchVec := state._noMatchVector
	newGroupCount := 0
	remaining := count
	for remaining > 0 {
		aht._metrics.incProbeRounds()
		newEntryCount := 0
		needCompareCount := 0
		noMatchCount := 0

		for i := 0; i < remaining; i++ {
			idx := selVec.GetIndex(i)
			htEntry := &aht._entries[state._slots[idx]]
			if htEntry._pageNr == 0 {
				//empty slot. claimed now, address filled after append
				htEntry._pageNr = 1
				htEntry._salt = state._salts[idx]
				state._emptyVector.SetIndex(newEntryCount, idx)
				newEntryCount++
			} else if htEntry._salt == state._salts[idx] {
				state._compareVector.SetIndex(needCompareCount, idx)
				needCompareCount++
			} else {
				noMatchVec.SetIndex(noMatchCount, idx)
				noMatchCount++
			}
		}

		if newEntryCount > 0 {
			err := aht._payload.AppendRows(
				groups,
				hashes,
				state._emptyVector.SelVec,
				newEntryCount,
				state._pageNrs,
				state._offsets,
				state._rows,
			)
			if err != nil {
				for j := 0; j < newEntryCount; j++ {
					idx := state._emptyVector.GetIndex(j)
					aht._entries[state._slots[idx]].clean()
				}
				state._newGroupCount = newGroupCount
				return newGroupCount, err
			}
			for j := 0; j < newEntryCount; j++ {
				idx := state._emptyVector.GetIndex(j)
				htEntry := &aht._entries[state._slots[idx]]
				htEntry._pageNr = state._pageNrs[j]
				htEntry._pageOffset = state._offsets[j]
				state._newGroups.SetIndex(newGroupCount, idx)
				newGroupCount++
			}
		}

		if needCompareCount > 0 {
			for j := 0; j < needCompareCount; j++ {
				idx := state._compareVector.GetIndex(j)
				htEntry := &aht._entries[state._slots[idx]]
				state._rows[idx] = aht._payload.RowPtr(htEntry._pageNr, htEntry._pageOffset)
			}
			noMatchCount = aht._payload.matchRows(
				groups,
				state._rows,
				state._compareVector.SelVec,
				needCompareCount,
				noMatchVec,
				noMatchCount,
			)
		}

		for i := 0; i < noMatchCount; i++ {
			idx := noMatchVec.GetIndex(i)
			state._slots[idx] = (state._slots[idx] + 1) & aht._bitmask
		}
		selVec, noMatchVec = noMatchVec, selVec
		remaining = noMatchCount
	}

	state._newGroupCount = newGroupCount
	aht._metrics.addGroups(newGroupCount)
	aht._metrics.setArenaBytes(aht._arena.Used())
	return newGroupCount, nil
}

// Resize rebuilds the directory with size slots. size must be a power of
// two that keeps the load under LOAD_FACTOR.
func (aht *AggregateHashTable) Resize(size int) error {
	if err := aht.checkMutable(); err != nil {
		return err
	}
	return aht.resize(size)
}

func (aht *AggregateHashTable) resize(size int) error {
	if size == aht._capacity {
		return nil
	}
	if size <= 0 || !util.IsPowerOfTwo(uint64(size)) {
		return invalidInputf("capacity %d is not a power of two", size)
	}
	if float64(aht.Count())*LOAD_FACTOR > float64(size) {
		return invalidInputf("capacity %d is too small for %d groups", size, aht.Count())
	}
	if err := aht._arena.Reserve(size * aggrEntrySize); err != nil {
		return allocationFailure(err, "hash directory")
	}
	oldCap := aht._capacity
	entries := make([]aggrHTEntry, size)
	bitmask := uint64(size - 1)

	payload := aht._payload
	for i := 0; i < payload.Count(); i++ {
		pageNr, offset := payload.RowAt(i)
		row := payload.RowPtr(pageNr, offset)
		hash := util.Load[uint64](row, aht._layout._hashOffset)
		entIdx := hash & bitmask
		for entries[entIdx]._pageNr > 0 {
			entIdx = (entIdx + 1) & bitmask
		}
		htEnt := &entries[entIdx]
		htEnt._salt = saltOf(hash)
		htEnt._pageNr = pageNr
		htEnt._pageOffset = offset
	}

	if oldCap > 0 {
		aht._arena.Free(oldCap * aggrEntrySize)
		aht._metrics.incResizes()
		util.Debug("aggregate hash table resized",
			zap.Int("from", oldCap),
			zap.Int("to", size),
			zap.Int("groups", payload.Count()))
	}
	aht._entries = entries
	aht._capacity = size
	aht._bitmask = bitmask
	return nil
}

// Combine moves every group of other into aht, merging the states of
// groups present in both. other is drained and closed.
func (aht *AggregateHashTable) Combine(other *AggregateHashTable, state *PayloadFlushState) error {
	if err := aht.checkMutable(); err != nil {
		return err
	}
	if other == nil || other == aht {
		return invalidInputf("combine needs another hash table")
	}
	if state == nil {
		return invalidInputf("nil flush state")
	}
	if err := other.acquire(); err != nil {
		return err
	}
	if other._status == AHT_CLOSED {
		return invalidStatef("combine a closed hash table")
	}
	if !aht._layout.Compatible(other._layout) {
		return invalidInputf("incompatible layout")
	}
	other._status = AHT_DRAINING
	state.Reset()

	if aht._combineState == nil {
		aht._combineState = NewProbeState()
	}
	probe := aht._combineState
	for {
		n := other._payload.Scan(state)
		if n == 0 {
			break
		}
		//other may hash with another function
		probe.Adjust(n)
		aht._hashFunc(state._groups, n, probe._hashes)
		_, err := aht.probeAndCreate(probe, state._groups, probe._hashes, n)
		if err != nil {
			return err
		}
		for i, obj := range aht._aggregates {
			err = obj.Func.MergeStates(
				probe._rows[:n],
				state._rows[:n],
				aht._layout._stateAddrOffsets[i],
				n)
			if err != nil {
				return aggregateFailure(err, obj.String())
			}
		}
	}
	aht._metrics.incCombines()
	other.Close()
	state.Reset()
	return nil
}

// MergeResult writes the next batch of finalized groups into output:
// group columns first, then one column per aggregate. It returns false
// once every group has been produced. The first call ends accumulation.
func (aht *AggregateHashTable) MergeResult(state *PayloadFlushState, output *chunk.Chunk) (bool, error) {
	if err := aht.acquire(); err != nil {
		return false, err
	}
	if aht._status == AHT_CLOSED {
		return false, invalidStatef("hash table is closed")
	}
	if state == nil || output == nil {
		return false, invalidInputf("nil flush state or output")
	}
	if !state.bound(aht._payload) {
		return false, invalidInputf("flush state is bound to another hash table")
	}
	outTypes := aht.OutputTypes()
	if !sameTypes(outTypes, output.Types()) {
		return false, invalidInputf("output types %v, expect %v", output.Types(), outTypes)
	}
	aht._status = AHT_DRAINING

	n := aht._payload.Scan(state)
	if n == 0 {
		output.SetCard(0)
		return false, nil
	}
	output.Reset()
	output.Reserve(n)
	groupCount := aht._layout.groupCount()
	for i := 0; i < groupCount; i++ {
		output.Data[i].Copy(state._groups.Data[i], 0, 0, n)
	}
	for i, obj := range aht._aggregates {
		err := obj.Func.Finalize(
			state._rows[:n],
			aht._layout._stateAddrOffsets[i],
			output.Data[groupCount+i],
			n)
		if err != nil {
			return false, aggregateFailure(err, obj.String())
		}
	}
	output.SetCard(n)
	return true, nil
}

// FetchAggregates looks up the groups of every row without creating any
// and finalizes their states into result. Missing groups give NULL.
func (aht *AggregateHashTable) FetchAggregates(state *ProbeState, groups, result *chunk.Chunk) error {
	if err := aht.acquire(); err != nil {
		return err
	}
	if aht._status == AHT_CLOSED {
		return invalidStatef("hash table is closed")
	}
	if state == nil || result == nil {
		return invalidInputf("nil probe state or result")
	}
	if groups == nil {
		return invalidInputf("nil group chunk")
	}
	if err := aht.validateGroups(groups, groups.Card()); err != nil {
		return err
	}
	if !sameTypes(aggregateTypes(aht._aggregates), result.Types()) {
		return invalidInputf("result types %v, expect %v", result.Types(), aggregateTypes(aht._aggregates))
	}
	result.Reset()
	result.SetCard(0)
	total := groups.Card()
	if total == 0 {
		return nil
	}
	result.Reserve(total)
	for offset := 0; offset < total; offset += BATCH_SIZE {
		n := min(BATCH_SIZE, total-offset)
		batch := groups
		if total > BATCH_SIZE {
			batch, _ = state.sliceInput(groups, nil, offset, n)
		}
		state.Adjust(n)
		aht._hashFunc(batch, n, state._hashes)
		aht.lookup(state, batch, n)
		for i, obj := range aht._aggregates {
			out := result.Data[i]
			if offset > 0 {
				out = chunk.NewFlatVector(obj.Func.ReturnType(), n)
			}
			err := obj.Func.Finalize(state._rows[:n], aht._layout._stateAddrOffsets[i], out, n)
			if err != nil {
				return aggregateFailure(err, obj.String())
			}
			if offset > 0 {
				result.Data[i].Copy(out, 0, offset, n)
			}
		}
	}
	result.SetCard(total)
	return nil
}

// lookup resolves state._rows for existing groups. Rows of missing
// groups are nil.
func (aht *AggregateHashTable) lookup(state *ProbeState, groups *chunk.Chunk, count int) {
	for i := 0; i < count; i++ {
		state._slots[i] = state._hashes[i] & aht._bitmask
		state._salts[i] = saltOf(state._hashes[i])
		state._selVector.SetIndex(i, i)
		state._rows[i] = nil
	}
	selVec := state._selVector
	noMatchVec := state._noMatchVector
	remaining := count
	for remaining > 0 {
		needCompareCount := 0
		noMatchCount := 0
		for i := 0; i < remaining; i++ {
			idx := selVec.GetIndex(i)
			htEntry := &aht._entries[state._slots[idx]]
			if htEntry._pageNr == 0 {
				continue
			}
			if htEntry._salt == state._salts[idx] {
				state._rows[idx] = aht._payload.RowPtr(htEntry._pageNr, htEntry._pageOffset)
				state._compareVector.SetIndex(needCompareCount, idx)
				needCompareCount++
			} else {
				noMatchVec.SetIndex(noMatchCount, idx)
				noMatchCount++
			}
		}
		start := noMatchCount
		noMatchCount = aht._payload.matchRows(
			groups,
			state._rows,
			state._compareVector.SelVec,
			needCompareCount,
			noMatchVec,
			noMatchCount,
		)
		for i := start; i < noMatchCount; i++ {
			state._rows[noMatchVec.GetIndex(i)] = nil
		}
		for i := 0; i < noMatchCount; i++ {
			idx := noMatchVec.GetIndex(i)
			state._slots[idx] = (state._slots[idx] + 1) & aht._bitmask
		}
		selVec, noMatchVec = noMatchVec, selVec
		remaining = noMatchCount
	}
}

// Verify checks that the directory and the payload agree.
func (aht *AggregateHashTable) Verify() error {
	count := 0
	for i := range aht._entries {
		ent := &aht._entries[i]
		if ent._pageNr == 0 {
			continue
		}
		if int(ent._pageNr) > aht._payload.PageCount() ||
			int(ent._pageOffset) >= aht._payload.RowsPerPage() {
			return errors.AssertionFailedf("entry %d points outside the payload: %v", i, ent)
		}
		rowIdx := (int(ent._pageNr)-1)*aht._payload.RowsPerPage() + int(ent._pageOffset)
		if rowIdx >= aht.Count() {
			return errors.AssertionFailedf("entry %d points to unused row %d", i, rowIdx)
		}
		row := aht._payload.RowPtr(ent._pageNr, ent._pageOffset)
		hash := util.Load[uint64](row, aht._layout._hashOffset)
		if ent._salt != saltOf(hash) {
			return errors.AssertionFailedf("entry %d salt %d, row hash %x", i, ent._salt, hash)
		}
		count++
	}
	if count != aht.Count() {
		return errors.AssertionFailedf("%d entries for %d rows", count, aht.Count())
	}
	return nil
}

// Close returns the memory of the table to the arena and drops the
// table's arena reference.
func (aht *AggregateHashTable) Close() {
	if aht._status == AHT_CLOSED {
		return
	}
	aht._status = AHT_CLOSED
	aht._payload.release()
	aht._arena.Free(aht._capacity * aggrEntrySize)
	aht._entries = nil
	aht._capacity = 0
	aht._arena.Release()
}

// Explain describes the layout and sizing of the table.
func (aht *AggregateHashTable) Explain() string {
	tree := treeprint.NewWithRoot("AggregateHashTable")
	tree.AddNode(fmt.Sprintf("status: %v", aht._status))
	tree.AddNode(fmt.Sprintf("groups: %d", aht.Count()))
	tree.AddNode(fmt.Sprintf("capacity: %d (resize at %d)", aht._capacity, aht.ResizeThreshold()))
	tree.AddNode(fmt.Sprintf("pages: %d x %d rows", aht._payload.PageCount(), aht._payload.RowsPerPage()))
	tree.AddNode(fmt.Sprintf("memory: %s", humanize.IBytes(uint64(aht._payload.Bytes()+aht._capacity*aggrEntrySize))))
	aht._layout.tree(tree.AddBranch("layout"))
	return tree.String()
}
