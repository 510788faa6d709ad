/*
Copyright 2022 The l7mp/stunner team.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command difflow runs the transitive-closure demo: a cyclic dataflow
// computing the reachability relation of an edge set incrementally, with
// one edge retracted at the second logical timestamp.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l7mp/difflow/internal/testutils"
	"github.com/l7mp/difflow/pkg/change"
	"github.com/l7mp/difflow/pkg/observer"
	"github.com/l7mp/difflow/pkg/shard"
	"github.com/l7mp/difflow/pkg/timestamp"
	"github.com/l7mp/difflow/pkg/value"
)

// Populated via -ldflags at build time.
var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

func main() {
	var verbosity int
	var traceEvents bool

	flag.IntVar(&verbosity, "v", 0, "Log verbosity level.")
	flag.BoolVar(&traceEvents, "trace-events", false,
		"Log engine state transitions; per-batch and per-pointstamp events also need -v=1 (very verbose).")
	flag.Parse()

	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	zl, err := zc.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot set up logging: %s\n", err)
		os.Exit(1)
	}
	logger := zapr.NewLogger(zl).WithName("difflow")

	logger.Info(fmt.Sprintf("starting the difflow reach demo version %s (%s) built on %s",
		version, commitHash, buildDate))

	var obs observer.Observer
	if traceEvents {
		obs = observer.NewLogging(logger.WithName("engine"))
	}

	rg, err := testutils.BuildReachGraph()
	if err != nil {
		logger.Error(err, "cannot build the reach dataflow")
		os.Exit(1)
	}

	s := shard.New(rg.Graph, obs)

	edge := func(from, to string) value.Row {
		return value.Row{value.String(from), value.String(to)}
	}
	for _, c := range []change.Change{
		{Row: edge("a", "b"), Timestamp: timestamp.Timestamp{0}, Diff: 1},
		{Row: edge("b", "c"), Timestamp: timestamp.Timestamp{0}, Diff: 1},
		{Row: edge("b", "d"), Timestamp: timestamp.Timestamp{0}, Diff: 1},
		{Row: edge("c", "a"), Timestamp: timestamp.Timestamp{0}, Diff: 1},
		{Row: edge("b", "c"), Timestamp: timestamp.Timestamp{1}, Diff: -1},
	} {
		if err := s.PushInput(rg.Edges, c); err != nil {
			logger.Error(err, "cannot push input change")
			os.Exit(1)
		}
	}

	for round := uint64(1); round <= 2; round++ {
		if err := s.AdvanceInput(rg.Edges, timestamp.Timestamp{round}); err != nil {
			logger.Error(err, "cannot advance the input frontier")
			os.Exit(1)
		}

		steps := 0
		for s.HasWork() {
			s.DoWork()
			steps++
		}
		logger.Info("drained", "round", round, "steps", steps)

		for {
			batch, ok := s.PopOutput(rg.Output)
			if !ok {
				break
			}
			for _, c := range batch.Changes() {
				logger.Info("reach", "pair", c.Row.String(), "timestamp", c.Timestamp.String(), "diff", c.Diff)
			}
		}
	}
}
