package compute

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/aggrht/pkg/chunk"
	"github.com/daviszhen/aggrht/pkg/common"
	"github.com/daviszhen/aggrht/pkg/storage"
	"github.com/daviszhen/aggrht/pkg/util"
)

// BatchReader yields input batches until io.EOF. Every batch must be a
// fresh chunk that the reader does not touch again.
type BatchReader interface {
	Read() (*chunk.Chunk, error)
}

type ParallelOptions struct {
	Workers int
	//0 means thread local tables combined at the end
	RadixBits       int
	InitialCapacity int
	HashFunc        GroupHashFunc
	Metrics         *AggrMetrics
}

// ParallelAggregator runs a GROUP BY over a BatchReader with a pool of
// workers. Without radix bits every worker builds its own table and the
// tables are combined at the end. With radix bits each partition is
// built by one worker and the partitions are disjoint.
type ParallelAggregator struct {
	_plan   *AggregatePlan
	_arena  *storage.Arena
	_opts   ParallelOptions
	_tables []*AggregateHashTable

	_scanIdx   int
	_scanState *PayloadFlushState
}

func NewParallelAggregator(plan *AggregatePlan, arena *storage.Arena, opts ParallelOptions) (*ParallelAggregator, error) {
	if plan == nil || arena == nil {
		return nil, invalidInputf("nil plan or arena")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.RadixBits < 0 || opts.RadixBits > MAX_RADIX_BITS {
		return nil, invalidInputf("radix bits %d out of [0, %d]", opts.RadixBits, MAX_RADIX_BITS)
	}
	if opts.HashFunc == nil {
		opts.HashFunc = DefaultGroupHash
	}
	return &ParallelAggregator{
		_plan:  plan,
		_arena: arena,
		_opts:  opts,
	}, nil
}

type parallelItem struct {
	partition int
	groups    *chunk.Chunk
	args      []*chunk.Chunk
	count     int
}

func (pa *ParallelAggregator) newTable() (*AggregateHashTable, error) {
	return NewAggregateHashTable(
		pa._arena,
		pa._plan.GroupTypes,
		pa._plan.Aggregates,
		AggrHTOptions{
			InitialCapacity: pa._opts.InitialCapacity,
			HashFunc:        pa._opts.HashFunc,
			Metrics:         pa._opts.Metrics,
		})
}

// Run consumes reader until io.EOF. It stops at the first error or when
// ctx is done.
func (pa *ParallelAggregator) Run(ctx context.Context, reader BatchReader) error {
	if pa._tables != nil {
		return invalidStatef("aggregator has already run")
	}
	workers := pa._opts.Workers
	partCount := 1 << pa._opts.RadixBits
	g, ctx := errgroup.WithContext(ctx)

	queues := make([]chan parallelItem, workers)
	for i := range queues {
		queues[i] = make(chan parallelItem, 4)
	}
	//worker w owns the tables of partitions p with p % workers == w
	local := make([]map[int]*AggregateHashTable, workers)

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		return pa.dispatch(ctx, reader, queues)
	})

	for w := 0; w < workers; w++ {
		w := w
		local[w] = make(map[int]*AggregateHashTable)
		g.Go(func() error {
			return pa.work(ctx, queues[w], local[w])
		})
	}

	err := g.Wait()
	if err != nil {
		for _, tables := range local {
			for _, table := range tables {
				table.Close()
			}
		}
		return err
	}

	if pa._opts.RadixBits > 0 {
		for p := 0; p < partCount; p++ {
			if table, has := local[p%workers][p]; has {
				pa._tables = append(pa._tables, table)
			}
		}
		return nil
	}
	return pa.fanIn(local)
}

func (pa *ParallelAggregator) dispatch(ctx context.Context, reader BatchReader, queues []chan parallelItem) error {
	partitioner, err := NewRadixPartitioner(pa._opts.RadixBits, pa._opts.HashFunc)
	if err != nil {
		return err
	}
	next := 0
	var input *chunk.Chunk
	for {
		if err = ctx.Err(); err != nil {
			return err
		}
		input, err = reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read input")
		}
		if input.Card() == 0 {
			continue
		}
		groups, args := pa._plan.Split(input)
		for _, batch := range partitioner.Partition(groups, args, input.Card()) {
			w := batch.Partition % len(queues)
			if partitioner.Bits() == 0 {
				w = next % len(queues)
				next++
			}
			item := parallelItem{
				partition: batch.Partition,
				groups:    batch.Groups,
				args:      batch.Args,
				count:     batch.Count,
			}
			select {
			case queues[w] <- item:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (pa *ParallelAggregator) work(ctx context.Context, queue chan parallelItem, tables map[int]*AggregateHashTable) error {
	state := NewProbeState()
	for {
		var item parallelItem
		var ok bool
		select {
		case item, ok = <-queue:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			break
		}
		table := tables[item.partition]
		if table == nil {
			var err error
			table, err = pa.newTable()
			if err != nil {
				return err
			}
			tables[item.partition] = table
		}
		if _, err := table.AddGroups(state, item.groups, item.args, item.count); err != nil {
			return err
		}
	}
	for _, table := range tables {
		if err := table.Handoff(); err != nil {
			return err
		}
	}
	return nil
}

func (pa *ParallelAggregator) fanIn(local []map[int]*AggregateHashTable) error {
	var dst *AggregateHashTable
	fs := NewPayloadFlushState()
	for i, tables := range local {
		table := tables[0]
		if table == nil {
			continue
		}
		if dst == nil {
			dst = table
			continue
		}
		if err := dst.Combine(table, fs); err != nil {
			dst.Close()
			for _, rest := range local[i:] {
				if rest[0] != nil {
					rest[0].Close()
				}
			}
			return err
		}
	}
	if dst != nil {
		pa._tables = append(pa._tables, dst)
		util.Debug("parallel aggregation combined",
			zap.Int("workers", len(local)),
			zap.Int("groups", dst.Count()))
	}
	return nil
}

func (pa *ParallelAggregator) Tables() []*AggregateHashTable {
	return pa._tables
}

func (pa *ParallelAggregator) Count() int {
	cnt := 0
	for _, table := range pa._tables {
		cnt += table.Count()
	}
	return cnt
}

// NewOutputChunk allocates a chunk that Scan can fill.
func (pa *ParallelAggregator) NewOutputChunk() *chunk.Chunk {
	types := append(common.CopyLTypes(pa._plan.GroupTypes...), aggregateTypes(pa._plan.Aggregates)...)
	return chunk.NewChunk(types, BATCH_SIZE)
}

// Scan writes the next batch of results into output. It returns false
// when every table has been produced.
func (pa *ParallelAggregator) Scan(output *chunk.Chunk) (bool, error) {
	if pa._scanState == nil {
		pa._scanState = NewPayloadFlushState()
	}
	for pa._scanIdx < len(pa._tables) {
		has, err := pa._tables[pa._scanIdx].MergeResult(pa._scanState, output)
		if err != nil {
			return false, err
		}
		if has {
			return true, nil
		}
		pa._scanIdx++
		pa._scanState.Reset()
	}
	output.SetCard(0)
	return false, nil
}

func (pa *ParallelAggregator) Close() {
	for _, table := range pa._tables {
		table.Close()
	}
	pa._tables = nil
}
