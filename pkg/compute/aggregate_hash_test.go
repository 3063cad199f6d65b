package compute

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/aggrht/pkg/chunk"
	"github.com/daviszhen/aggrht/pkg/common"
	"github.com/daviszhen/aggrht/pkg/storage"
	"github.com/daviszhen/aggrht/pkg/util"
)

func toValue(typ common.LType, v any) *chunk.Value {
	if v == nil {
		return chunk.NullValue(typ)
	}
	switch typ.Id {
	case common.LTID_BOOLEAN:
		return chunk.BooleanValue(v.(bool))
	case common.LTID_INTEGER:
		return chunk.IntegerValue(int32(v.(int)))
	case common.LTID_BIGINT:
		switch x := v.(type) {
		case int:
			return chunk.BigintValue(int64(x))
		case int64:
			return chunk.BigintValue(x)
		}
	case common.LTID_DECIMAL:
		return chunk.DecimalValue(v.(int64), typ.Width, typ.Scale)
	case common.LTID_DOUBLE:
		return chunk.DoubleValue(v.(float64))
	case common.LTID_VARCHAR:
		return chunk.VarcharValue(v.(string))
	}
	panic(fmt.Sprintf("usp %v %T", typ, v))
}

func makeChunk(types []common.LType, rows ...[]any) *chunk.Chunk {
	data := chunk.NewChunk(types, max(len(rows), 1))
	for i, row := range rows {
		for j, v := range row {
			data.SetValue(j, i, toValue(types[j], v))
		}
	}
	data.SetCard(len(rows))
	return data
}

func bigintChunk(cols ...[]int64) *chunk.Chunk {
	types := make([]common.LType, len(cols))
	for i := range types {
		types[i] = common.BigintType()
	}
	n := len(cols[0])
	data := chunk.NewChunk(types, max(n, 1))
	for j, col := range cols {
		for i, v := range col {
			data.SetValue(j, i, chunk.BigintValue(v))
		}
	}
	data.SetCard(n)
	return data
}

func mustAggr(t *testing.T, name string, input []common.LType, argIndices ...int) *AggregateObject {
	argTypes := make([]common.LType, 0, len(argIndices))
	for _, idx := range argIndices {
		argTypes = append(argTypes, input[idx])
	}
	fun, err := GetAggregateFunction(name, argTypes)
	require.NoError(t, err)
	return NewAggregateObject(fun, argIndices...)
}

func newTestTable(
	t *testing.T,
	arena *storage.Arena,
	input []common.LType,
	groupIdx []int,
	aggrObjs []*AggregateObject,
	opts AggrHTOptions,
) *AggregateHashTable {
	groupTypes := make([]common.LType, 0, len(groupIdx))
	for _, idx := range groupIdx {
		groupTypes = append(groupTypes, input[idx])
	}
	aht, err := NewAggregateHashTable(arena, groupTypes, aggrObjs, opts)
	require.NoError(t, err)
	return aht
}

func addInput(
	aht *AggregateHashTable,
	state *ProbeState,
	groupIdx []int,
	input *chunk.Chunk,
) (int, error) {
	groups := &chunk.Chunk{}
	groups.ReferenceColumns(input, groupIdx)
	return aht.AddGroups(state, groups, SliceArgs(aht.Aggregates(), input), input.Card())
}

// collect finalizes the table into group key -> aggregate values.
func collect(t *testing.T, aht *AggregateHashTable) map[string]string {
	ret := make(map[string]string)
	fs := NewPayloadFlushState()
	output := chunk.NewChunk(aht.OutputTypes(), BATCH_SIZE)
	groupCount := aht.Layout().groupCount()
	for {
		has, err := aht.MergeResult(fs, output)
		require.NoError(t, err)
		if !has {
			break
		}
		collectChunk(t, output, groupCount, ret)
	}
	return ret
}

func collectChunk(t *testing.T, output *chunk.Chunk, groupCount int, ret map[string]string) {
	for i := 0; i < output.Card(); i++ {
		var keys, vals []string
		for j := 0; j < output.ColumnCount(); j++ {
			s := output.GetValue(j, i).String()
			if j < groupCount {
				keys = append(keys, s)
			} else {
				vals = append(vals, s)
			}
		}
		key := strings.Join(keys, "|")
		_, dup := ret[key]
		require.False(t, dup, "duplicate group %s", key)
		ret[key] = strings.Join(vals, "|")
	}
}

func Test_scenarioCountSum(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	input := []common.LType{common.BigintType(), common.BigintType()}
	aht := newTestTable(t, arena, input, []int{0},
		[]*AggregateObject{
			mustAggr(t, "count", input),
			mustAggr(t, "sum", input, 1),
		}, AggrHTOptions{})
	defer aht.Close()
	assert.Equal(t, INITIAL_CAPACITY, aht.Capacity())

	state := NewProbeState()
	n, err := addInput(aht, state, []int{0}, bigintChunk([]int64{1, 2, 1}, []int64{10, 20, 5}))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{0, 1}, state.NewGroups())
	assert.Equal(t, 2, aht.Count())

	n, err = addInput(aht, state, []int{0}, bigintChunk([]int64{2, 1}, []int64{1, 1}))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, state.NewGroups())
	require.NoError(t, aht.Verify())

	assert.Equal(t, map[string]string{
		"1": "3|16",
		"2": "2|21",
	}, collect(t, aht))
}

func Test_nullKeys(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	input := []common.LType{common.IntegerType(), common.VarcharType(), common.DoubleType()}
	aht := newTestTable(t, arena, input, []int{0, 1},
		[]*AggregateObject{
			mustAggr(t, "count", input),
			mustAggr(t, "count", input, 2),
			mustAggr(t, "min", input, 2),
			mustAggr(t, "max", input, 2),
			mustAggr(t, "avg", input, 2),
		}, AggrHTOptions{})
	defer aht.Close()

	data := makeChunk(input,
		[]any{nil, "x", 1.5},
		[]any{nil, "x", nil},
		[]any{1, nil, 2.0},
		[]any{nil, nil, -1.0},
		[]any{1, nil, 4.0},
		[]any{0, "x", nil},
	)
	n, err := addInput(aht, NewProbeState(), []int{0, 1}, data)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, map[string]string{
		"NULL|x":    "2|1|1.5|1.5|1.5",
		"1|NULL":    "2|2|2|4|3",
		"NULL|NULL": "1|1|-1|-1|-1",
		"0|x":       "1|0|NULL|NULL|NULL",
	}, collect(t, aht))
}

func Test_varcharKeys(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	input := []common.LType{common.VarcharType(), common.BigintType()}
	aht := newTestTable(t, arena, input, []int{0},
		[]*AggregateObject{mustAggr(t, "sum", input, 1)}, AggrHTOptions{})
	defer aht.Close()

	long1 := "a string longer than twelve bytes"
	long2 := "a string longer than twelve bytez"
	data := makeChunk(input,
		[]any{"short", 1},
		[]any{long1, 2},
		[]any{long2, 3},
		[]any{"", 4},
		[]any{"twelve bytes", 5},
		[]any{long1, 6},
		[]any{"short", 7},
		[]any{"", 8},
	)
	state := NewProbeState()
	n, err := addInput(aht, state, []int{0}, data)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Positive(t, aht.Payload().Bytes())

	//keys compared against the heap after the input is gone
	n, err = addInput(aht, state, []int{0}, makeChunk(input, []any{strings.Clone(long2), 10}))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, aht.Verify())

	assert.Equal(t, map[string]string{
		"short":        "8",
		long1:          "8",
		long2:          "13",
		"":             "12",
		"twelve bytes": "5",
	}, collect(t, aht))
}

func Test_noGroupColumns(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	input := []common.LType{common.BigintType()}
	aht := newTestTable(t, arena, input, nil,
		[]*AggregateObject{
			mustAggr(t, "count", input),
			mustAggr(t, "max", input, 0),
		}, AggrHTOptions{})
	defer aht.Close()

	state := NewProbeState()
	n, err := addInput(aht, state, nil, bigintChunk([]int64{3, 9, 4}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = addInput(aht, state, nil, bigintChunk([]int64{1}))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, map[string]string{"": "4|9"}, collect(t, aht))
}

func Test_hashCollisions(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	input := []common.LType{common.BigintType()}
	constHash := func(groups *chunk.Chunk, count int, hashes []uint64) {
		util.Fill(hashes, count, uint64(0x1234)<<48|7)
	}
	aht := newTestTable(t, arena, input, []int{0},
		[]*AggregateObject{mustAggr(t, "count", input)},
		AggrHTOptions{HashFunc: constHash})
	defer aht.Close()

	keys := make([]int64, 0, 200)
	for i := 0; i < 100; i++ {
		keys = append(keys, int64(i))
	}
	keys = append(keys, keys...)
	state := NewProbeState()
	n, err := addInput(aht, state, []int{0}, bigintChunk(keys))
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	require.NoError(t, aht.Verify())

	lookup := bigintChunk([]int64{0, 99, 100, 50})
	result := chunk.NewChunk(aggregateTypes(aht.Aggregates()), 4)
	require.NoError(t, aht.FetchAggregates(state, lookup, result))
	assert.Equal(t, 4, result.Card())
	assert.Equal(t, int64(2), result.GetValue(0, 0).I64)
	assert.Equal(t, int64(2), result.GetValue(0, 1).I64)
	assert.True(t, result.GetValue(0, 2).IsNull)
	assert.Equal(t, int64(2), result.GetValue(0, 3).I64)

	res := collect(t, aht)
	assert.Len(t, res, 100)
	for i := 0; i < 100; i++ {
		assert.Equal(t, "2", res[fmt.Sprint(i)])
	}
}

func Test_resize(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	input := []common.LType{common.BigintType()}
	reg := prometheus.NewRegistry()
	metrics := NewAggrMetrics(reg)
	aht := newTestTable(t, arena, input, []int{0},
		[]*AggregateObject{mustAggr(t, "count", input)},
		AggrHTOptions{Metrics: metrics})
	defer aht.Close()

	state := NewProbeState()
	for b := 0; b < 10; b++ {
		keys := make([]int64, 1000)
		for i := range keys {
			keys[i] = int64(b*1000 + i)
		}
		_, err := addInput(aht, state, []int{0}, bigintChunk(keys))
		require.NoError(t, err)
		assert.LessOrEqual(t, aht.Count(), aht.ResizeThreshold())
	}
	assert.Equal(t, 10000, aht.Count())
	assert.Equal(t, 16384, aht.Capacity())
	require.NoError(t, aht.Verify())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Resizes))
	assert.Equal(t, 10000.0, testutil.ToFloat64(metrics.Groups))
	assert.Positive(t, testutil.ToFloat64(metrics.ProbeRounds))
	assert.Positive(t, testutil.ToFloat64(metrics.ArenaBytes))

	assert.True(t, errors.Is(aht.Resize(3), ErrInvalidInput))
	assert.True(t, errors.Is(aht.Resize(8192), ErrInvalidInput))
	require.NoError(t, aht.Resize(65536))
	assert.Equal(t, 65536, aht.Capacity())
	require.NoError(t, aht.Verify())

	n, err := addInput(aht, state, []int{0}, bigintChunk([]int64{0, 9999, 10000}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res := collect(t, aht)
	assert.Len(t, res, 10001)
	assert.Equal(t, "2", res["9999"])
	assert.Equal(t, "1", res["5000"])
}

func Test_largeBatch(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	input := []common.LType{common.BigintType(), common.BigintType()}
	aht := newTestTable(t, arena, input, []int{0},
		[]*AggregateObject{
			mustAggr(t, "count", input),
			mustAggr(t, "sum", input, 1),
		}, AggrHTOptions{})
	defer aht.Close()

	const rows = 5000
	keys := make([]int64, rows)
	vals := make([]int64, rows)
	expect := make(map[int64][2]int64)
	for i := 0; i < rows; i++ {
		keys[i] = int64(i % 300)
		vals[i] = int64(i)
		e := expect[keys[i]]
		expect[keys[i]] = [2]int64{e[0] + 1, e[1] + vals[i]}
	}
	n, err := addInput(aht, NewProbeState(), []int{0}, bigintChunk(keys, vals))
	require.NoError(t, err)
	assert.Equal(t, 300, n)

	res := collect(t, aht)
	require.Len(t, res, 300)
	for k, e := range expect {
		assert.Equal(t, fmt.Sprintf("%d|%d", e[0], e[1]), res[fmt.Sprint(k)])
	}
}

func Test_fetchAggregates(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	input := []common.LType{common.BigintType(), common.BigintType()}
	aht := newTestTable(t, arena, input, []int{0},
		[]*AggregateObject{
			mustAggr(t, "sum", input, 1),
			mustAggr(t, "count", input, 1),
		}, AggrHTOptions{})
	defer aht.Close()

	state := NewProbeState()
	_, err := addInput(aht, state, []int{0}, bigintChunk([]int64{1, 2, 3}, []int64{10, 20, 30}))
	require.NoError(t, err)

	lookupKeys := make([]int64, 3000)
	for i := range lookupKeys {
		lookupKeys[i] = int64(i % 5)
	}
	result := chunk.NewChunk(aggregateTypes(aht.Aggregates()), 16)
	require.NoError(t, aht.FetchAggregates(state, bigintChunk(lookupKeys), result))
	require.Equal(t, 3000, result.Card())
	for i := 0; i < 3000; i++ {
		k := int64(i % 5)
		if k >= 1 && k <= 3 {
			assert.Equal(t, k*10, result.GetValue(0, i).I64)
			assert.Equal(t, int64(1), result.GetValue(1, i).I64)
		} else {
			assert.True(t, result.GetValue(0, i).IsNull)
			assert.True(t, result.GetValue(1, i).IsNull)
		}
	}
	assert.Equal(t, 3, aht.Count())

	bad := chunk.NewChunk([]common.LType{common.DoubleType()}, 1)
	assert.True(t, errors.Is(aht.FetchAggregates(state, bigintChunk([]int64{1}), bad), ErrInvalidInput))
	err = aht.FetchAggregates(state, nil, result)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "nil group chunk")
}

func Test_invalidInput(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	input := []common.LType{common.BigintType(), common.BigintType()}
	aht := newTestTable(t, arena, input, []int{0},
		[]*AggregateObject{mustAggr(t, "sum", input, 1)}, AggrHTOptions{})
	defer aht.Close()

	state := NewProbeState()
	data := bigintChunk([]int64{1, 2}, []int64{3, 4})
	groups := &chunk.Chunk{}
	groups.ReferenceColumns(data, []int{0})
	args := SliceArgs(aht.Aggregates(), data)

	cases := []struct {
		name   string
		groups *chunk.Chunk
		args   []*chunk.Chunk
		count  int
	}{
		{"nil groups", nil, args, 2},
		{"group column count", data, args, 2},
		{"group type", makeChunk([]common.LType{common.IntegerType()}, []any{1}, []any{2}), args, 2},
		{"row count", groups, args, 3},
		{"negative row count", groups, args, -1},
		{"aggregate count", groups, nil, 2},
		{"argument count", groups, []*chunk.Chunk{data}, 2},
		{"argument type", groups, []*chunk.Chunk{makeChunk([]common.LType{common.DoubleType()}, []any{1.0}, []any{2.0})}, 2},
		{"argument rows", groups, []*chunk.Chunk{bigintChunk([]int64{1})}, 2},
	}
	for _, c := range cases {
		_, err := aht.AddGroups(state, c.groups, c.args, c.count)
		assert.True(t, errors.Is(err, ErrInvalidInput), c.name)
	}
	_, err := aht.AddGroups(nil, groups, args, 2)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Equal(t, 0, aht.Count())

	n, err := aht.AddGroups(state, makeChunk([]common.LType{common.BigintType()}), []*chunk.Chunk{makeChunk(input[1:])}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = NewAggregateHashTable(arena, input[:1], nil, AggrHTOptions{InitialCapacity: 1000})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = NewAggregateHashTable(nil, input[:1], nil, AggrHTOptions{})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = NewAggregateHashTable(arena, input[:1], []*AggregateObject{{}}, AggrHTOptions{})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Equal(t, 2, arena.Refs())
}

func Test_allocationLimit(t *testing.T) {
	//directory of 4096 entries and two pages
	arena := storage.NewArena(storage.MIN_PAGE_SIZE, INITIAL_CAPACITY*8+2*storage.MIN_PAGE_SIZE)
	defer arena.Release()
	input := []common.LType{common.BigintType(), common.BigintType()}
	aht := newTestTable(t, arena, input, []int{0},
		[]*AggregateObject{
			mustAggr(t, "count", input),
			mustAggr(t, "sum", input, 1),
		}, AggrHTOptions{})
	defer aht.Close()
	require.Equal(t, 48, aht.Layout().RowWidth())
	require.Equal(t, 85, aht.Payload().RowsPerPage())

	keys := make([]int64, 170)
	for i := range keys {
		keys[i] = int64(i)
	}
	state := NewProbeState()
	n, err := addInput(aht, state, []int{0}, bigintChunk(keys, keys))
	require.NoError(t, err)
	assert.Equal(t, 170, n)

	_, err = addInput(aht, state, []int{0}, bigintChunk([]int64{5, 170}, []int64{1, 1}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllocationFailure))
	assert.True(t, errors.Is(err, storage.ErrOutOfMemory))
	assert.Equal(t, 170, aht.Count())
	require.NoError(t, aht.Verify())

	result := chunk.NewChunk(aggregateTypes(aht.Aggregates()), 2)
	require.NoError(t, aht.FetchAggregates(state, bigintChunk([]int64{5, 170}), result))
	assert.Equal(t, int64(1), result.GetValue(0, 0).I64)
	assert.True(t, result.GetValue(0, 1).IsNull)
}

func Test_allocationFault(t *testing.T) {
	arena := storage.NewArena(storage.MIN_PAGE_SIZE, 0)
	defer arena.Release()
	input := []common.LType{common.BigintType(), common.BigintType()}
	aht := newTestTable(t, arena, input, []int{0},
		[]*AggregateObject{
			mustAggr(t, "count", input),
			mustAggr(t, "sum", input, 1),
		}, AggrHTOptions{})
	defer aht.Close()

	keys := make([]int64, aht.Payload().RowsPerPage())
	for i := range keys {
		keys[i] = int64(i)
	}
	state := NewProbeState()
	_, err := addInput(aht, state, []int{0}, bigintChunk(keys, keys))
	require.NoError(t, err)

	util.Open(util.FAULTS_SCOPE_ARENA)
	defer util.Close(util.FAULTS_SCOPE_ARENA)
	util.Register(util.FAULTS_SCOPE_ARENA, storage.FaultArenaAllocate, nil, func([]string) error {
		return errors.New("injected")
	})

	newKeys := bigintChunk([]int64{1, 1000, 1001, 1002}, []int64{1, 1, 1, 1})
	_, err = addInput(aht, state, []int{0}, newKeys)
	assert.True(t, errors.Is(err, ErrAllocationFailure))
	assert.Equal(t, len(keys), aht.Count())
	require.NoError(t, aht.Verify())

	util.Unregister(util.FAULTS_SCOPE_ARENA, storage.FaultArenaAllocate)
	n, err := addInput(aht, state, []int{0}, newKeys)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res := collect(t, aht)
	assert.Equal(t, "2|2", res["1"])
	assert.Equal(t, "1|1", res["1000"])
}

func Test_aggregateErrors(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()

	decTyp := common.DecimalType(18, 0)
	input := []common.LType{common.BigintType(), decTyp, common.BigintType()}
	aht := newTestTable(t, arena, input, []int{0},
		[]*AggregateObject{mustAggr(t, "sum", input, 1)}, AggrHTOptions{})
	defer aht.Close()
	state := NewProbeState()
	_, err := addInput(aht, state, []int{0}, makeChunk(input,
		[]any{1, int64(999999999999999999), 0},
		[]any{1, int64(999999999999999999), 0},
	))
	assert.True(t, errors.Is(err, ErrAggregateFunction))
	assert.True(t, errors.Is(err, common.ErrDecimalOverflow))

	sumAht := newTestTable(t, arena, input, []int{0},
		[]*AggregateObject{mustAggr(t, "sum", input, 2)}, AggrHTOptions{})
	defer sumAht.Close()
	_, err = addInput(sumAht, state, []int{0}, makeChunk(input,
		[]any{1, int64(0), int64(math.MaxInt64)},
		[]any{1, int64(0), 1},
	))
	assert.True(t, errors.Is(err, ErrAggregateFunction))
	assert.True(t, errors.Is(err, ErrSumOverflow))

	injected := errors.New("injected")
	util.Open(util.FAULTS_SCOPE_AGGR)
	defer util.Close(util.FAULTS_SCOPE_AGGR)
	util.Register(util.FAULTS_SCOPE_AGGR, FaultAggrAccumulate, nil, func([]string) error {
		return injected
	})
	_, err = addInput(sumAht, state, []int{0}, makeChunk(input, []any{2, int64(0), 1}))
	assert.True(t, errors.Is(err, ErrAggregateFunction))
	assert.True(t, errors.Is(err, injected))
}

func Test_decimalSum(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	decTyp := common.DecimalType(10, 2)
	input := []common.LType{common.VarcharType(), decTyp}
	aht := newTestTable(t, arena, input, []int{0},
		[]*AggregateObject{
			mustAggr(t, "sum", input, 1),
			mustAggr(t, "avg", input, 1),
			mustAggr(t, "max", input, 1),
		}, AggrHTOptions{})
	defer aht.Close()
	assert.True(t, aht.OutputTypes()[1].Equal(common.DecimalType(common.DecimalMaxWidth, 2)))

	_, err := addInput(aht, NewProbeState(), []int{0}, makeChunk(input,
		[]any{"a", int64(150)},
		[]any{"a", int64(225)},
		[]any{"b", nil},
	))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"a": "3.75|1.875|2.25",
		"b": "NULL|NULL|NULL",
	}, collect(t, aht))
}

func Test_drainingState(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	input := []common.LType{common.BigintType()}
	aggrs := []*AggregateObject{mustAggr(t, "count", input)}
	aht := newTestTable(t, arena, input, []int{0}, aggrs, AggrHTOptions{})
	defer aht.Close()
	other := newTestTable(t, arena, input, []int{0}, aggrs, AggrHTOptions{})
	defer other.Close()

	state := NewProbeState()
	_, err := addInput(aht, state, []int{0}, bigintChunk([]int64{1, 2}))
	require.NoError(t, err)
	assert.False(t, aht.Draining())

	fs := NewPayloadFlushState()
	output := chunk.NewChunk(aht.OutputTypes(), BATCH_SIZE)
	has, err := aht.MergeResult(fs, output)
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, 2, output.Card())
	assert.True(t, aht.Draining())

	_, err = addInput(aht, state, []int{0}, bigintChunk([]int64{3}))
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.True(t, errors.Is(aht.Resize(8192), ErrInvalidState))
	assert.True(t, errors.Is(aht.Combine(other, NewPayloadFlushState()), ErrInvalidState))
	assert.Equal(t, 2, aht.Count())

	//lookups still work while draining
	result := chunk.NewChunk(aggregateTypes(aggrs), 1)
	require.NoError(t, aht.FetchAggregates(state, bigintChunk([]int64{2}), result))
	assert.Equal(t, int64(1), result.GetValue(0, 0).I64)

	has, err = aht.MergeResult(fs, output)
	require.NoError(t, err)
	assert.False(t, has)
	assert.Equal(t, 0, output.Card())

	//a flush state follows one table
	_, err = other.MergeResult(fs, chunk.NewChunk(other.OutputTypes(), 1))
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = aht.MergeResult(fs, chunk.NewChunk(input, 1))
	assert.True(t, errors.Is(err, ErrInvalidInput))

	aht.Close()
	_, err = aht.MergeResult(NewPayloadFlushState(), output)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func Test_combine(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	input := []common.LType{common.VarcharType(), common.BigintType()}
	aggrs := []*AggregateObject{
		mustAggr(t, "count", input),
		mustAggr(t, "sum", input, 1),
		mustAggr(t, "min", input, 1),
		mustAggr(t, "avg", input, 1),
	}
	left := newTestTable(t, arena, input, []int{0}, aggrs, AggrHTOptions{})
	defer left.Close()
	right := newTestTable(t, arena, input, []int{0}, aggrs, AggrHTOptions{})
	whole := newTestTable(t, arena, input, []int{0}, aggrs, AggrHTOptions{})
	defer whole.Close()

	rows := [][]any{
		{"a", 1}, {"b", 2}, {"a long key that lives in the heap", 3},
		{"a", 4}, {"c", nil}, {"b", -6},
		{"a long key that lives in the heap", 7}, {"d", 8},
	}
	state := NewProbeState()
	_, err := addInput(left, state, []int{0}, makeChunk(input, rows[:4]...))
	require.NoError(t, err)
	_, err = addInput(right, state, []int{0}, makeChunk(input, rows[4:]...))
	require.NoError(t, err)
	_, err = addInput(whole, state, []int{0}, makeChunk(input, rows...))
	require.NoError(t, err)

	require.NoError(t, left.Combine(right, NewPayloadFlushState()))
	assert.Equal(t, 5, left.Count())
	require.NoError(t, left.Verify())
	assert.Equal(t, collect(t, whole), collect(t, left))

	//right is consumed
	_, err = addInput(right, state, []int{0}, makeChunk(input, rows[0]))
	assert.True(t, errors.Is(err, ErrInvalidState))

	otherLayout := newTestTable(t, arena, input, []int{1}, aggrs, AggrHTOptions{})
	defer otherLayout.Close()
	fresh := newTestTable(t, arena, input, []int{0}, aggrs, AggrHTOptions{})
	defer fresh.Close()
	assert.True(t, errors.Is(fresh.Combine(fresh, NewPayloadFlushState()), ErrInvalidInput))
	assert.True(t, errors.Is(fresh.Combine(otherLayout, NewPayloadFlushState()), ErrInvalidInput))
	assert.True(t, errors.Is(fresh.Combine(right, NewPayloadFlushState()), ErrInvalidState))
	assert.True(t, errors.Is(fresh.Combine(whole, nil), ErrInvalidInput))
}

func Test_combineRehashes(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	input := []common.LType{common.BigintType()}
	aggrs := []*AggregateObject{mustAggr(t, "count", input)}
	left := newTestTable(t, arena, input, []int{0}, aggrs, AggrHTOptions{})
	defer left.Close()
	right := newTestTable(t, arena, input, []int{0}, aggrs, AggrHTOptions{HashFunc: weakHash})

	state := NewProbeState()
	_, err := addInput(right, state, []int{0}, bigintChunk([]int64{7, 8}))
	require.NoError(t, err)
	require.NoError(t, left.Combine(right, NewPayloadFlushState()))
	require.NoError(t, left.Verify())

	//rows from right must land where left's own hash puts them
	n, err := addInput(left, state, []int{0}, bigintChunk([]int64{7, 9}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, left.Count())
	require.NoError(t, left.Verify())
	assert.Equal(t, map[string]string{"7": "2", "8": "1", "9": "1"}, collect(t, left))
}

func Test_ownership(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	input := []common.LType{common.BigintType()}
	aht := newTestTable(t, arena, input, []int{0},
		[]*AggregateObject{mustAggr(t, "count", input)}, AggrHTOptions{})
	defer aht.Close()

	state := NewProbeState()
	_, err := addInput(aht, state, []int{0}, bigintChunk([]int64{1}))
	require.NoError(t, err)

	g := errgroup.Group{}
	g.Go(func() error {
		_, err := addInput(aht, NewProbeState(), []int{0}, bigintChunk([]int64{2}))
		if !errors.Is(err, ErrNotOwner) {
			return errors.Newf("expect not owner, got %v", err)
		}
		if err = aht.Handoff(); !errors.Is(err, ErrNotOwner) {
			return errors.Newf("expect not owner on handoff, got %v", err)
		}
		return nil
	})
	require.NoError(t, g.Wait())

	require.NoError(t, aht.Handoff())
	g = errgroup.Group{}
	g.Go(func() error {
		if _, err := addInput(aht, NewProbeState(), []int{0}, bigintChunk([]int64{2})); err != nil {
			return err
		}
		return aht.Handoff()
	})
	require.NoError(t, g.Wait())

	_, err = addInput(aht, state, []int{0}, bigintChunk([]int64{3}))
	require.NoError(t, err)
	assert.Equal(t, 3, aht.Count())
}

func Test_closeReleasesMemory(t *testing.T) {
	arena := storage.NewArena(storage.MIN_PAGE_SIZE, 0)
	defer arena.Release()
	input := []common.LType{common.VarcharType()}
	aht := newTestTable(t, arena, input, []int{0},
		[]*AggregateObject{mustAggr(t, "count", input)}, AggrHTOptions{})
	assert.Equal(t, 2, arena.Refs())

	rows := make([][]any, 0, 500)
	for i := 0; i < 500; i++ {
		rows = append(rows, []any{fmt.Sprintf("key number %d with a long tail", i)})
	}
	_, err := addInput(aht, NewProbeState(), []int{0}, makeChunk(input, rows...))
	require.NoError(t, err)
	assert.Equal(t, int64(aht.Payload().Bytes()+aht.Capacity()*aggrEntrySize), arena.Used())

	explain := aht.Explain()
	assert.Contains(t, explain, "AggregateHashTable")
	assert.Contains(t, explain, "groups: 500")
	assert.Contains(t, explain, "row width")
	assert.Contains(t, aht.Layout().String(), "VARCHAR")

	aht.Close()
	aht.Close()
	assert.Equal(t, int64(0), arena.Used())
	assert.Equal(t, 1, arena.Refs())
}

func Test_capacityForCount(t *testing.T) {
	assert.Equal(t, 8192, CapacityForCount(0))
	assert.Equal(t, 8192, CapacityForCount(4096))
	assert.Equal(t, 16384, CapacityForCount(10000))
	assert.Equal(t, uint16(0xABCD), saltOf(0xABCD_0000_0000_0001))
}

func Test_scenarioCombineOverlap(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	input := []common.LType{common.VarcharType()}
	aggrs := []*AggregateObject{mustAggr(t, "count", input)}
	ab := newTestTable(t, arena, input, []int{0}, aggrs, AggrHTOptions{})
	defer ab.Close()
	bc := newTestTable(t, arena, input, []int{0}, aggrs, AggrHTOptions{})

	state := NewProbeState()
	_, err := addInput(ab, state, []int{0}, makeChunk(input, []any{"A"}, []any{"B"}))
	require.NoError(t, err)
	_, err = addInput(bc, state, []int{0}, makeChunk(input, []any{"B"}, []any{"C"}))
	require.NoError(t, err)
	require.NoError(t, ab.Combine(bc, NewPayloadFlushState()))
	assert.Equal(t, map[string]string{"A": "1", "B": "2", "C": "1"}, collect(t, ab))
}

func Test_scenarioEmptyTable(t *testing.T) {
	arena := storage.NewArena(0, 0)
	defer arena.Release()
	input := []common.LType{common.BigintType()}
	aht := newTestTable(t, arena, input, []int{0},
		[]*AggregateObject{mustAggr(t, "count", input)}, AggrHTOptions{})
	defer aht.Close()

	output := chunk.NewChunk(aht.OutputTypes(), BATCH_SIZE)
	has, err := aht.MergeResult(NewPayloadFlushState(), output)
	require.NoError(t, err)
	assert.False(t, has)
	assert.Equal(t, 0, output.Card())
}
