// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package glmpen

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/curioloop/glmpen/objective"
)

// Mode selects how a grid of related problems is driven.
type Mode int

const (
	// Independent solves every grid point from the same initial state,
	// fanning the points out over a worker pool.
	Independent Mode = iota
	// WarmStart solves the points sequentially in grid order, feeding each
	// solution to the next point as its initial state. Points with distinct
	// flavor parameters form independent chains and run concurrently.
	WarmStart
)

// GridEntry is one point of a tuning path. A zero FlavorParam keeps the
// objective's own flavor parameter.
type GridEntry struct {
	Lambda      float64
	FlavorParam float64
}

// PathEntry pairs a grid point with its solve outcome. Entries that did not
// converge still carry a usable state and honest diagnostics.
type PathEntry struct {
	Entry GridEntry
	State *State
	Diag  Diagnostics
}

// Path is the outcome of SolvePath, ordered exactly as the input grid.
type Path struct {
	Entries []PathEntry
}

// Best returns the index of the entry with the lowest final objective among
// converged entries, or -1 when none converged.
func (p *Path) Best() int {
	best, f := -1, math.Inf(1)
	for i, e := range p.Entries {
		if e.Diag.Converged && e.Diag.Objective < f {
			best, f = i, e.Diag.Objective
		}
	}
	return best
}

// DefaultGrid builds a log-spaced λ grid of n points from the objective's
// critical value λmax down to minRatio·λmax. It is only available for penalty
// kinds with a known critical value.
func DefaultGrid(obj *objective.Objective, n int, minRatio float64) ([]GridEntry, error) {
	max, err := objective.LambdaMax(obj)
	if err != nil {
		return nil, err
	}
	lams, err := objective.LogSpacedGrid(max, minRatio, n)
	if err != nil {
		return nil, err
	}
	grid := make([]GridEntry, len(lams))
	for i, lam := range lams {
		grid[i] = GridEntry{Lambda: lam}
	}
	return grid, nil
}

// SolvePath solves the objective at every grid point. Independent mode runs
// the points concurrently from the shared initial state; WarmStart mode runs
// them in order, each started from the previous solution. Cancelling ctx
// stops issuing work; already-running solves finish and unstarted points are
// reported as cancelled, never as errors.
func SolvePath(ctx context.Context, obj *objective.Objective, grid []GridEntry, mode Mode, init *State, opts Options) (*Path, error) {
	opts = opts.withDefaults()
	if len(grid) == 0 {
		return nil, fmt.Errorf("%w: empty grid", ErrBadConfig)
	}
	for i, e := range grid {
		if !(e.Lambda >= 0) || math.IsInf(e.Lambda, 0) {
			return nil, fmt.Errorf("%w: grid[%d] lambda %v", ErrBadConfig, i, e.Lambda)
		}
	}
	if init == nil {
		init = NewState(obj)
	} else if init.tag != obj.Fingerprint() {
		return nil, fmt.Errorf("%w: state %q, objective %q",
			ErrStateMismatch, init.tag, obj.Fingerprint())
	}
	if ctx == nil {
		ctx = context.Background()
	}

	entries := make([]PathEntry, len(grid))
	for i := range entries {
		entries[i].Entry = grid[i]
	}

	var err error
	switch mode {
	case Independent:
		err = solveFanOut(ctx, obj, grid, init, opts, entries)
	case WarmStart:
		err = solveChained(ctx, obj, grid, init, opts, entries)
	default:
		return nil, fmt.Errorf("%w: unknown path mode %d", ErrBadConfig, mode)
	}
	if err != nil {
		return nil, err
	}
	return &Path{Entries: entries}, nil
}

// solveFanOut distributes independent grid points over a worker pool.
func solveFanOut(ctx context.Context, obj *objective.Objective, grid []GridEntry, init *State, opts Options, entries []PathEntry) error {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(grid) {
		workers = len(grid)
	}

	jobs := make(chan int)
	errs := make(chan error, workers)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Keep receiving until the channel closes even after a
			// failure, or the feeder blocks forever on dead workers.
			failed := false
			for i := range jobs {
				if failed {
					continue
				}
				if err := solvePoint(obj, grid[i], init, opts, &entries[i]); err != nil {
					select {
					case errs <- err:
					default:
					}
					failed = true
					continue
				}
				logPoint(opts, i, &entries[i])
			}
		}()
	}

feed:
	for i := range grid {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		return err
	}
	markUnsolved(entries, init)
	return nil
}

// solveChained warm-starts each point from the previous solution. Grid points
// sharing a flavor parameter form one chain, walked strictly in grid order;
// distinct flavor parameters yield independent chains that run concurrently,
// each owning its own state hand-off.
func solveChained(ctx context.Context, obj *objective.Objective, grid []GridEntry, init *State, opts Options, entries []PathEntry) error {
	chains := chainsByFlavor(grid)
	if len(chains) == 1 {
		if err := solveChain(ctx, obj, grid, chains[0], init, opts, entries); err != nil {
			return err
		}
		markUnsolved(entries, init)
		return nil
	}

	errs := make(chan error, len(chains))
	var wg sync.WaitGroup
	for _, chain := range chains {
		wg.Add(1)
		go func(chain []int) {
			defer wg.Done()
			if err := solveChain(ctx, obj, grid, chain, init, opts, entries); err != nil {
				select {
				case errs <- err:
				default:
				}
			}
		}(chain)
	}
	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		return err
	}
	markUnsolved(entries, init)
	return nil
}

// solveChain walks one chain's grid indices in order.
func solveChain(ctx context.Context, obj *objective.Objective, grid []GridEntry, chain []int, init *State, opts Options, entries []PathEntry) error {
	cur := init
	for _, i := range chain {
		if ctx.Err() != nil {
			break
		}
		if err := solvePoint(obj, grid[i], cur, opts, &entries[i]); err != nil {
			return err
		}
		logPoint(opts, i, &entries[i])
		cur = entries[i].State
	}
	return nil
}

// chainsByFlavor groups grid indices by flavor parameter, preserving grid
// order within each chain and first-appearance order across chains.
func chainsByFlavor(grid []GridEntry) [][]int {
	order := make([]float64, 0, 1)
	byParam := make(map[float64][]int)
	for i, e := range grid {
		if _, ok := byParam[e.FlavorParam]; !ok {
			order = append(order, e.FlavorParam)
		}
		byParam[e.FlavorParam] = append(byParam[e.FlavorParam], i)
	}
	chains := make([][]int, len(order))
	for c, p := range order {
		chains[c] = byParam[p]
	}
	return chains
}

// solvePoint retunes the objective to one grid point and solves it.
func solvePoint(obj *objective.Objective, e GridEntry, init *State, opts Options, out *PathEntry) error {
	tuned, err := obj.WithLambda(e.Lambda)
	if err != nil {
		return err
	}
	if e.FlavorParam != 0 {
		if tuned, err = tuned.WithFlavorParam(e.FlavorParam); err != nil {
			return err
		}
	}
	fit, err := Solve(tuned, init.clone(), opts)
	if err != nil {
		return err
	}
	out.State = fit.State
	out.Diag = fit.Diag
	return nil
}

// markUnsolved fills grid points skipped by cancellation with the initial
// state and a non-converged status.
func markUnsolved(entries []PathEntry, init *State) {
	for i := range entries {
		if entries[i].State == nil {
			entries[i].State = init.clone()
			entries[i].Diag = Diagnostics{Status: "cancelled"}
		}
	}
}

func logPoint(opts Options, i int, e *PathEntry) {
	if opts.Log == nil {
		return
	}
	opts.Log.Info("path point solved",
		"index", i,
		"lambda", e.Entry.Lambda,
		"status", e.Diag.Status,
		"iterations", e.Diag.Iterations,
		"objective", e.Diag.Objective)
}
