// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package glmpen

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioloop/glmpen/objective"
)

func pathObjective(t *testing.T) *objective.Objective {
	t.Helper()
	data, _ := orthoData()
	obj, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.Lasso, Lambda: 0.05},
		objective.Constraint{}, data)
	require.NoError(t, err)
	return obj
}

func pathOptions() Options {
	return Options{MaxIter: 5000, Tol: 1e-10, Patience: 3}
}

func TestDefaultGrid(t *testing.T) {

	obj := pathObjective(t)
	grid, err := DefaultGrid(obj, 6, 0.01)
	require.NoError(t, err)
	require.Len(t, grid, 6)

	max, err := objective.LambdaMax(obj)
	require.NoError(t, err)
	assert.InDelta(t, max, grid[0].Lambda, 1e-12)
	assert.InDelta(t, max*0.01, grid[5].Lambda, 1e-12)
	for i := 1; i < len(grid); i++ {
		assert.Less(t, grid[i].Lambda, grid[i-1].Lambda)
	}
}

func TestPathOrderAndAnchor(t *testing.T) {

	obj := pathObjective(t)
	grid, err := DefaultGrid(obj, 5, 0.01)
	require.NoError(t, err)

	path, err := SolvePath(context.Background(), obj, grid, WarmStart, nil, pathOptions())
	require.NoError(t, err)
	require.Len(t, path.Entries, 5)

	for i, e := range path.Entries {
		assert.Equal(t, grid[i].Lambda, e.Entry.Lambda, "output order must follow the grid")
		assert.True(t, e.Diag.Converged, e.Diag.Status)
	}

	// At the grid anchor the zero vector is already optimal.
	for _, v := range path.Entries[0].State.Values() {
		assert.InDelta(t, 0.0, v, 1e-8)
	}

	best := path.Best()
	require.GreaterOrEqual(t, best, 0)
}

func TestPathModesAgree(t *testing.T) {

	obj := pathObjective(t)
	grid, err := DefaultGrid(obj, 5, 0.05)
	require.NoError(t, err)

	warm, err := SolvePath(context.Background(), obj, grid, WarmStart, nil, pathOptions())
	require.NoError(t, err)
	cold, err := SolvePath(context.Background(), obj, grid, Independent, nil, pathOptions())
	require.NoError(t, err)

	for i := range grid {
		wv := warm.Entries[i].State.Values()
		cv := cold.Entries[i].State.Values()
		for j := range wv {
			assert.InDelta(t, cv[j], wv[j], 1e-5)
		}
	}
}

func TestPathWorkerFailure(t *testing.T) {

	// Every grid point fails solver selection. The pool must surface the
	// error instead of stalling the feeder once all workers have failed.
	data, _ := orthoData()
	obj, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.FusedLasso, Lambda: 0.1},
		objective.Constraint{}, data)
	require.NoError(t, err)

	grid := make([]GridEntry, 8)
	for i := range grid {
		grid[i] = GridEntry{Lambda: 0.1}
	}
	opts := pathOptions()
	opts.Solver = ProxGrad
	opts.Workers = 2

	done := make(chan error, 1)
	go func() {
		_, err := SolvePath(context.Background(), obj, grid, Independent, nil, opts)
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrUnsupported)
	case <-time.After(5 * time.Second):
		t.Fatal("path solve stalled on failing workers")
	}
}

func TestPathWorkers(t *testing.T) {

	obj := pathObjective(t)
	grid, err := DefaultGrid(obj, 8, 0.05)
	require.NoError(t, err)

	path, err := SolvePath(context.Background(), obj, grid, Independent, nil, Options{
		MaxIter: 5000, Tol: 1e-10, Patience: 3, Workers: 3,
	})
	require.NoError(t, err)
	for i, e := range path.Entries {
		assert.Equal(t, grid[i].Lambda, e.Entry.Lambda)
		assert.True(t, e.Diag.Converged)
	}
}

func TestPathCancellation(t *testing.T) {

	obj := pathObjective(t)
	grid, err := DefaultGrid(obj, 5, 0.05)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled context reports unsolved points honestly, not as errors.
	path, err := SolvePath(ctx, obj, grid, WarmStart, nil, pathOptions())
	require.NoError(t, err)
	require.Len(t, path.Entries, 5)
	for _, e := range path.Entries {
		assert.False(t, e.Diag.Converged)
		require.NotNil(t, e.State)
	}
	assert.Equal(t, -1, path.Best())
}

func TestPathValidation(t *testing.T) {

	obj := pathObjective(t)

	_, err := SolvePath(context.Background(), obj, nil, WarmStart, nil, pathOptions())
	assert.ErrorIs(t, err, ErrBadConfig)

	_, err = SolvePath(context.Background(), obj, []GridEntry{{Lambda: -1}}, WarmStart, nil, pathOptions())
	assert.ErrorIs(t, err, ErrBadConfig)

	_, err = SolvePath(context.Background(), obj, []GridEntry{{Lambda: 0.1}}, Mode(9), nil, pathOptions())
	assert.ErrorIs(t, err, ErrBadConfig)

	data, _ := orthoData()
	other, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.Ridge, Lambda: 0.1},
		objective.Constraint{}, data)
	require.NoError(t, err)
	_, err = SolvePath(context.Background(), obj, []GridEntry{{Lambda: 0.1}}, WarmStart, NewState(other), pathOptions())
	assert.ErrorIs(t, err, ErrStateMismatch)
}

func TestPathFlavorParam(t *testing.T) {

	data, _ := orthoData()
	obj, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.Lasso, Lambda: 0.05, Flavor: objective.NonConvex, Family: objective.MCP},
		objective.Constraint{}, data)
	require.NoError(t, err)

	grid := []GridEntry{
		{Lambda: 0.05, FlavorParam: 2.5},
		{Lambda: 0.02, FlavorParam: 3},
	}
	path, err := SolvePath(context.Background(), obj, grid, WarmStart, nil, pathOptions())
	require.NoError(t, err)
	for i, e := range path.Entries {
		assert.Equal(t, grid[i].FlavorParam, e.Entry.FlavorParam)
		assert.True(t, e.Diag.Converged, e.Diag.Status)
	}
}

func TestPathParallelChains(t *testing.T) {

	data, _ := orthoData()
	obj, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.Lasso, Lambda: 0.1, Flavor: objective.NonConvex, Family: objective.MCP},
		objective.Constraint{}, data)
	require.NoError(t, err)

	// Two interleaved warm-start chains, one per flavor parameter.
	grid := []GridEntry{
		{Lambda: 0.1, FlavorParam: 2.5},
		{Lambda: 0.1, FlavorParam: 4},
		{Lambda: 0.04, FlavorParam: 2.5},
		{Lambda: 0.04, FlavorParam: 4},
	}
	mixed, err := SolvePath(context.Background(), obj, grid, WarmStart, nil, pathOptions())
	require.NoError(t, err)

	// Each chain must match the same chain solved on its own.
	for _, param := range []float64{2.5, 4} {
		sub := make([]GridEntry, 0, 2)
		idx := make([]int, 0, 2)
		for i, e := range grid {
			if e.FlavorParam == param {
				sub = append(sub, e)
				idx = append(idx, i)
			}
		}
		alone, err := SolvePath(context.Background(), obj, sub, WarmStart, nil, pathOptions())
		require.NoError(t, err)
		for k, i := range idx {
			assert.True(t, mixed.Entries[i].Diag.Converged, mixed.Entries[i].Diag.Status)
			assert.InDeltaSlice(t, alone.Entries[k].State.Values(), mixed.Entries[i].State.Values(), 1e-8)
		}
	}
}
