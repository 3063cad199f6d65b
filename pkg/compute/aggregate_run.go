// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package compute

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/daviszhen/aggrht/pkg/parser"
	"github.com/daviszhen/aggrht/pkg/source"
	"github.com/daviszhen/aggrht/pkg/storage"
	"github.com/daviszhen/aggrht/pkg/util"
)

func buildQuery(cfg *util.Config) (*parser.AggregateQuery, error) {
	if cfg.Aggr.Query != "" {
		return parser.ParseQuery(cfg.Aggr.Query)
	}
	query := &parser.AggregateQuery{}
	for _, col := range strings.Split(cfg.Aggr.GroupBy, ",") {
		col = strings.TrimSpace(col)
		if col != "" {
			query.GroupBy = append(query.GroupBy, col)
		}
	}
	calls, err := parser.ParseAggregates(cfg.Aggr.Aggregates)
	if err != nil {
		return nil, err
	}
	query.Aggregates = calls
	return query, nil
}

func estimateCapacity(ctx context.Context, cfg *util.Config, plan *AggregatePlan) (int, error) {
	reader, err := source.Open(cfg.Input, cfg.Aggr.BatchSize)
	if err != nil {
		return 0, err
	}
	defer reader.Close()
	est, err := EstimateGroups(ctx, reader, plan, cfg.Aggr.Workers, true)
	if err != nil {
		return 0, err
	}
	util.Info("estimated groups",
		zap.Int("groups", est.Estimate()),
		zap.Int("rows", est.Rows()),
		zap.Int("capacity", est.Capacity()))
	return est.Capacity(), nil
}

// Run executes the GROUP BY described by cfg and prints the result to
// out.
func Run(ctx context.Context, cfg *util.Config, out io.Writer) error {
	if cfg.Debug.LogLevel != "" {
		if err := util.InitLogger(cfg.Debug.LogLevel); err != nil {
			return errors.Wrap(err, "init logger")
		}
	}
	query, err := buildQuery(cfg)
	if err != nil {
		return err
	}
	if len(query.Aggregates) == 0 && len(query.GroupBy) == 0 {
		return errors.New("nothing to aggregate")
	}

	reader, err := source.Open(cfg.Input, cfg.Aggr.BatchSize)
	if err != nil {
		return err
	}
	defer reader.Close()
	plan, err := BindQuery(query, reader.Names(), reader.Types())
	if err != nil {
		return err
	}

	initCap := cfg.Aggr.InitialCapacity
	if cfg.Aggr.Presize {
		initCap, err = estimateCapacity(ctx, cfg, plan)
		if err != nil {
			return err
		}
	}

	arena := storage.NewArena(cfg.Arena.PageSize, cfg.Arena.MemoryLimit)
	defer arena.Release()
	reg := prometheus.NewRegistry()
	metrics := NewAggrMetrics(reg)

	aggr, err := NewParallelAggregator(plan, arena, ParallelOptions{
		Workers:         cfg.Aggr.Workers,
		RadixBits:       cfg.Aggr.RadixBits,
		InitialCapacity: initCap,
		Metrics:         metrics,
	})
	if err != nil {
		return err
	}
	defer aggr.Close()

	start := time.Now()
	if err = aggr.Run(ctx, reader); err != nil {
		return err
	}
	util.Info("aggregation done",
		zap.Int("groups", aggr.Count()),
		zap.Int("tables", len(aggr.Tables())),
		zap.String("peak memory", humanize.IBytes(uint64(arena.Peak()))),
		zap.Duration("elapsed", time.Since(start)))

	if cfg.Debug.PrintLayout {
		for _, table := range aggr.Tables() {
			fmt.Fprintln(out, table.Explain())
		}
	}
	if !cfg.Debug.PrintResult {
		return nil
	}
	fmt.Fprintln(out, strings.Join(plan.OutputNames(reader.Names()), "\t"))
	output := aggr.NewOutputChunk()
	left := cfg.Debug.MaxOutputRowCount
	for left != 0 {
		has, err := aggr.Scan(output)
		if err != nil {
			return err
		}
		if !has {
			break
		}
		output.PrintTo(out, left)
		if left > 0 {
			left = max(left-output.Card(), 0)
		}
	}
	return nil
}
