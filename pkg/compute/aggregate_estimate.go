package compute

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/aggrht/pkg/chunk"
	"github.com/daviszhen/aggrht/pkg/storage"
)

// GroupEstimator estimates the number of groups of a stream of batches.
// The estimate sizes the directory up front to skip resizes.
type GroupEstimator struct {
	_stats    *storage.DistinctStats
	_hashFunc GroupHashFunc
	_hashes   []uint64
	_sample   bool
}

func NewGroupEstimator(hashFunc GroupHashFunc, sample bool) *GroupEstimator {
	if hashFunc == nil {
		hashFunc = DefaultGroupHash
	}
	return &GroupEstimator{
		_stats:    storage.NewDistinctStats(),
		_hashFunc: hashFunc,
		_sample:   sample,
	}
}

func (est *GroupEstimator) Update(groups *chunk.Chunk, count int) {
	if count == 0 {
		return
	}
	if len(est._hashes) < count {
		est._hashes = make([]uint64, count)
	}
	est._hashFunc(groups, count, est._hashes)
	est._stats.Update(est._hashes, count, est._sample)
}

func (est *GroupEstimator) Estimate() int {
	return int(est._stats.Count())
}

// Capacity is the directory size for the estimated group count.
func (est *GroupEstimator) Capacity() int {
	return CapacityForCount(est.Estimate())
}

// Rows is the number of rows seen, sampled or not.
func (est *GroupEstimator) Rows() int {
	return int(est._stats.TotalCount())
}

// Merge folds the sketch of other into est. Both must hash the same way.
func (est *GroupEstimator) Merge(other *GroupEstimator) error {
	if other == nil || other == est {
		return invalidInputf("merge needs another estimator")
	}
	return est._stats.Merge(other._stats)
}

// EstimateGroups reads every batch of reader and estimates the group
// count with one estimator per worker. The per worker sketches are merged
// at the end.
func EstimateGroups(
	ctx context.Context,
	reader BatchReader,
	plan *AggregatePlan,
	workers int,
	sample bool) (*GroupEstimator, error) {
	if plan == nil {
		return nil, invalidInputf("nil aggregate plan")
	}
	workers = max(workers, 1)
	ests := make([]*GroupEstimator, workers)
	for i := range ests {
		ests[i] = NewGroupEstimator(nil, sample)
	}
	g, ctx := errgroup.WithContext(ctx)
	batches := make(chan *chunk.Chunk, workers)
	g.Go(func() error {
		defer close(batches)
		for {
			input, err := reader.Read()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return errors.Wrap(err, "read input")
			}
			select {
			case batches <- input:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	for w := 0; w < workers; w++ {
		est := ests[w]
		g.Go(func() error {
			for input := range batches {
				groups, _ := plan.Split(input)
				est.Update(groups, input.Card())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, other := range ests[1:] {
		if err := ests[0].Merge(other); err != nil {
			return nil, errors.Wrap(err, "merge estimators")
		}
	}
	return ests[0], nil
}
