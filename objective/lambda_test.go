// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objective

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLambdaMaxLasso(t *testing.T) {

	p := testProblem()
	o, err := p.New()
	require.NoError(t, err)

	// Without an intercept the critical value is max|𝐗ᵀ𝐲|/n.
	want := 0.0
	n, d := p.X.Dims()
	for j := 0; j < d; j++ {
		s := 0.0
		for i := 0; i < n; i++ {
			s += p.X.At(i, j) * p.Y[i]
		}
		want = math.Max(want, math.Abs(s)/float64(n))
	}

	got, err := LambdaMax(o)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-12)

	// At lambda max the zero vector is stationary: the prox of a gradient
	// step from zero stays at zero.
	o, err = o.WithLambda(got)
	require.NoError(t, err)
	x := make([]float64, 3)
	g := make([]float64, 3)
	o.Grad(x, g)
	step := 1 / o.Lipschitz()
	for i := range x {
		x[i] = -step * g[i]
	}
	out := make([]float64, 3)
	o.Prox(step, x, out)
	for _, v := range out {
		assert.InDelta(t, 0.0, v, 1e-12)
	}
}

func TestLambdaMaxElasticNet(t *testing.T) {

	p := testProblem()
	p.Penalty = Penalty{Kind: ElasticNet, Lambda: 0.1, L1Ratio: 0.5}
	o, err := p.New()
	require.NoError(t, err)

	en, err := LambdaMax(o)
	require.NoError(t, err)

	p.Penalty = Penalty{Kind: Lasso, Lambda: 0.1}
	o, err = p.New()
	require.NoError(t, err)
	la, err := LambdaMax(o)
	require.NoError(t, err)

	// The elastic net anchor scales the lasso anchor by 1/l1ratio.
	assert.InDelta(t, la/0.5, en, 1e-12)

	p.Penalty = Penalty{Kind: ElasticNet, Lambda: 0.1, L1Ratio: 0}
	o, err = p.New()
	require.NoError(t, err)
	_, err = LambdaMax(o)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestLambdaMaxGroup(t *testing.T) {

	p := testProblem()
	p.Penalty = Penalty{Kind: GroupLasso, Lambda: 0.1, Groups: [][]int{{0, 1}, {2}}}
	o, err := p.New()
	require.NoError(t, err)

	got, err := LambdaMax(o)
	require.NoError(t, err)
	require.Greater(t, got, 0.0)

	// The group anchor dominates the per-coordinate anchor.
	p.Penalty = Penalty{Kind: Lasso, Lambda: 0.1}
	o, err = p.New()
	require.NoError(t, err)
	la, err := LambdaMax(o)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got+1e-15, la)
}

func TestLambdaMaxMultinomial(t *testing.T) {

	p := testProblem()
	p.Loss = Loss{Kind: Multinomial}
	p.Y = nil
	p.YMulti = oneHot([]int{0, 0, 0, 1, 1, 2}, 3)
	p.Intercept = true
	o, err := p.New()
	require.NoError(t, err)

	// With an intercept the null model predicts the class proportions, so
	// the anchor is max|𝐗ᵀ(𝐏 - 𝐘)|/n with 𝐏 repeating the column means.
	n, d := p.X.Dims()
	want := 0.0
	for c := 0; c < 3; c++ {
		prob := 0.0
		for i := 0; i < n; i++ {
			prob += p.YMulti.At(i, c)
		}
		prob /= float64(n)
		for j := 0; j < d; j++ {
			s := 0.0
			for i := 0; i < n; i++ {
				s += p.X.At(i, j) * (prob - p.YMulti.At(i, c))
			}
			want = math.Max(want, math.Abs(s)/float64(n))
		}
	}

	got, err := LambdaMax(o)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-10)
}

func TestLambdaMaxUnsupported(t *testing.T) {

	p := testProblem()
	p.Penalty = Penalty{Kind: Ridge, Lambda: 0.1}
	o, err := p.New()
	require.NoError(t, err)
	_, err = LambdaMax(o)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestLogSpacedGrid(t *testing.T) {

	grid, err := LogSpacedGrid(2, 0.01, 5)
	require.NoError(t, err)
	require.Len(t, grid, 5)

	assert.InDelta(t, 2.0, grid[0], 1e-12)
	assert.InDelta(t, 0.02, grid[4], 1e-12)
	for i := 1; i < len(grid); i++ {
		assert.Less(t, grid[i], grid[i-1])
		// Geometric spacing: constant ratio.
		assert.InDelta(t, grid[1]/grid[0], grid[i]/grid[i-1], 1e-12)
	}

	for _, bad := range []struct {
		max, ratio float64
		n          int
	}{
		{0, 0.01, 5},
		{2, 0, 5},
		{2, 1.5, 5},
		{2, 0.01, 1},
	} {
		_, err := LogSpacedGrid(bad.max, bad.ratio, bad.n)
		assert.ErrorIs(t, err, ErrBadConfig)
	}
}
