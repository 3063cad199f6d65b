package compute

import (
	"github.com/daviszhen/aggrht/pkg/chunk"
)

const (
	//partition bits sit below the salt and above the slot bits of any
	//realistic directory
	RADIX_SHIFT    = 40
	MAX_RADIX_BITS = 8
)

func PartitionOf(hash uint64, bits int) int {
	return int(hash>>RADIX_SHIFT) & (1<<bits - 1)
}

// PartitionBatch is the rows of one input batch that fall into one
// partition.
type PartitionBatch struct {
	Partition int
	Groups    *chunk.Chunk
	Args      []*chunk.Chunk
	Count     int
}

// RadixPartitioner splits batches into 2^bits partitions by group hash.
// Equal keys always land in the same partition, so partitions can be
// aggregated independently.
type RadixPartitioner struct {
	_bits     int
	_hashFunc GroupHashFunc
	_hashes   []uint64
	_sels     [][]int
}

func NewRadixPartitioner(bits int, hashFunc GroupHashFunc) (*RadixPartitioner, error) {
	if bits < 0 || bits > MAX_RADIX_BITS {
		return nil, invalidInputf("radix bits %d out of [0, %d]", bits, MAX_RADIX_BITS)
	}
	if hashFunc == nil {
		hashFunc = DefaultGroupHash
	}
	return &RadixPartitioner{
		_bits:     bits,
		_hashFunc: hashFunc,
		_sels:     make([][]int, 1<<bits),
	}, nil
}

func (rp *RadixPartitioner) Bits() int {
	return rp._bits
}

func (rp *RadixPartitioner) PartitionCount() int {
	return 1 << rp._bits
}

// Partition copies the rows of the batch into one batch per non-empty
// partition, in partition order.
func (rp *RadixPartitioner) Partition(groups *chunk.Chunk, args []*chunk.Chunk, count int) []PartitionBatch {
	if count == 0 {
		return nil
	}
	if rp._bits == 0 {
		return []PartitionBatch{{Groups: groups, Args: args, Count: count}}
	}
	if len(rp._hashes) < count {
		rp._hashes = make([]uint64, count)
	}
	rp._hashFunc(groups, count, rp._hashes)
	for p := range rp._sels {
		rp._sels[p] = rp._sels[p][:0]
	}
	for i := 0; i < count; i++ {
		p := PartitionOf(rp._hashes[i], rp._bits)
		rp._sels[p] = append(rp._sels[p], i)
	}

	var ret []PartitionBatch
	for p, sel := range rp._sels {
		n := len(sel)
		if n == 0 {
			continue
		}
		batch := PartitionBatch{
			Partition: p,
			Groups:    chunk.NewChunk(groups.Types(), n),
			Args:      make([]*chunk.Chunk, len(args)),
			Count:     n,
		}
		batch.Groups.Append(groups, sel, n)
		for i, arg := range args {
			batch.Args[i] = chunk.NewChunk(arg.Types(), n)
			batch.Args[i].Append(arg, sel, n)
		}
		ret = append(ret, batch)
	}
	return ret
}
