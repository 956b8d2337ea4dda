// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package glmpen

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/glmpen/objective"
)

// orthoData builds an identity design, for which the lasso solution is the
// soft-threshold of y at level n𝛌.
func orthoData() (Data, []float64) {
	y := []float64{2.3, -1.1, 0.04, 0.7, -0.02, 1.9, -2.6, 0.3}
	n := len(y)
	x := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		x.Set(i, i, 1)
	}
	return Data{X: x, Y: y}, y
}

func softThresholdVec(y []float64, thr float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		switch {
		case v > thr:
			out[i] = v - thr
		case v < -thr:
			out[i] = v + thr
		}
	}
	return out
}

func TestSolveLasso(t *testing.T) {

	data, y := orthoData()
	const lam = 0.05
	obj, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.Lasso, Lambda: lam},
		objective.Constraint{}, data)
	require.NoError(t, err)

	fit, err := Solve(obj, nil, Options{MaxIter: 5000, Tol: 1e-12, Patience: 3})
	require.NoError(t, err)
	require.True(t, fit.Diag.Converged, fit.Diag.Status)

	want := softThresholdVec(y, lam*float64(len(y)))
	got := fit.State.Values()
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-6)
	}
}

func TestSparseRecovery(t *testing.T) {

	// Stacked identity blocks give a 100×10 design with orthogonal columns
	// of squared norm 10: the lasso solution is soft(βⱼ, n𝛌/10) coordinate
	// by coordinate.
	const (
		n, d = 100, 10
		lam  = 0.05
	)
	x := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		x.Set(i, i%d, 1)
	}
	truth := make([]float64, d)
	truth[2], truth[7] = 3, -2
	y := make([]float64, n)
	for i := range y {
		y[i] = truth[i%d]
	}
	data := Data{X: x, Y: y}

	obj, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.Lasso, Lambda: lam},
		objective.Constraint{}, data)
	require.NoError(t, err)

	fit, err := Solve(obj, nil, Options{MaxIter: 5000, Tol: 1e-12, Patience: 3})
	require.NoError(t, err)
	require.True(t, fit.Diag.Converged, fit.Diag.Status)

	want := softThresholdVec(truth, lam*n/10)
	got := fit.State.Values()
	zeros := 0
	for j := range want {
		assert.InDelta(t, want[j], got[j], 1e-6)
		if math.Abs(got[j]) <= 1e-6 {
			zeros++
		}
	}
	assert.Equal(t, d-2, zeros)

	// Without the penalty the least-squares minimizer is recovered exactly.
	plain, err := obj.WithLambda(0)
	require.NoError(t, err)
	fit, err = Solve(plain, nil, Options{MaxIter: 5000, Tol: 1e-12, Patience: 3})
	require.NoError(t, err)
	require.True(t, fit.Diag.Converged, fit.Diag.Status)
	assert.InDeltaSlice(t, truth, fit.State.Values(), 1e-8)
}

func TestSolverEquivalence(t *testing.T) {

	// The proximal-gradient and splitting backends agree on a proximable
	// problem.
	data, _ := orthoData()
	obj, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.Lasso, Lambda: 0.05},
		objective.Constraint{}, data)
	require.NoError(t, err)

	prox, err := Solve(obj, nil, Options{Solver: ProxGrad, MaxIter: 5000, Tol: 1e-12, Patience: 3})
	require.NoError(t, err)
	require.True(t, prox.Diag.Converged)

	split, err := Solve(obj, nil, Options{Solver: Splitting, MaxIter: 5000, Tol: 1e-10})
	require.NoError(t, err)
	require.True(t, split.Diag.Converged)

	pv, sv := prox.State.Values(), split.State.Values()
	for i := range pv {
		assert.InDelta(t, pv[i], sv[i], 1e-5)
	}
}

func TestSolveFused(t *testing.T) {

	// A total-variation penalty far above the signal range flattens the
	// fit to the signal mean.
	data, y := orthoData()
	obj, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.FusedLasso, Lambda: 10},
		objective.Constraint{}, data)
	require.NoError(t, err)
	require.False(t, obj.Caps().Proximable)

	fit, err := Solve(obj, nil, Options{MaxIter: 5000, Tol: 1e-10})
	require.NoError(t, err)
	require.True(t, fit.Diag.Converged, fit.Diag.Status)

	mean := 0.0
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))
	for _, v := range fit.State.Values() {
		assert.InDelta(t, mean, v, 1e-4)
	}
}

func TestSolveSCAD(t *testing.T) {

	// On an orthogonal design the folded-concave fit leaves strong signals
	// unshrunk and keeps weak ones at zero.
	data, y := orthoData()
	const lam = 0.05 // threshold n𝛌 = 0.4
	obj, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.Lasso, Lambda: lam, Flavor: objective.NonConvex, Family: objective.SCAD},
		objective.Constraint{}, data)
	require.NoError(t, err)
	require.False(t, obj.Caps().Convex)

	fit, err := Solve(obj, nil, Options{MaxIter: 5000, Tol: 1e-10, Patience: 3, OuterMaxIter: 3})
	require.NoError(t, err)
	require.True(t, fit.Diag.Converged, fit.Diag.Status)
	require.GreaterOrEqual(t, fit.Diag.Rounds, 2)

	thr := lam * float64(len(y))
	for i, v := range fit.State.Values() {
		if math.Abs(y[i]) > 2*thr {
			assert.InDelta(t, y[i], v, 1e-4, "strong signal must be unbiased")
		} else if math.Abs(y[i]) < thr {
			assert.InDelta(t, 0.0, v, 1e-6, "weak signal must stay at zero")
		}
	}
}

func TestSolveMultinomial(t *testing.T) {

	x := mat.NewDense(6, 3, []float64{
		1.2, -0.5, 0.3,
		-0.7, 1.1, 0.9,
		0.4, 0.2, -1.5,
		2.0, -1.3, 0.6,
		-0.9, 0.8, 1.4,
		0.1, -0.6, -0.2,
	})
	ym := mat.NewDense(6, 3, nil)
	for i, c := range []int{0, 0, 1, 1, 2, 2} {
		ym.Set(i, c, 1)
	}
	data := Data{X: x, YMulti: ym, Intercept: true}

	obj, err := Construct(
		objective.Loss{Kind: objective.Multinomial},
		objective.Penalty{Kind: objective.Lasso, Lambda: 1},
		objective.Constraint{}, data)
	require.NoError(t, err)

	// Above the critical strength the intercept-only model is optimal and
	// every coefficient is shrunk exactly to zero.
	max, err := objective.LambdaMax(obj)
	require.NoError(t, err)
	tuned, err := obj.WithLambda(1.05 * max)
	require.NoError(t, err)

	fit, err := Solve(tuned, nil, Options{MaxIter: 5000, Tol: 1e-10, Patience: 3})
	require.NoError(t, err)
	require.True(t, fit.Diag.Converged, fit.Diag.Status)

	coef, icept := fit.Coef(tuned)
	require.Len(t, icept, 3)
	for j, v := range coef {
		assert.InDelta(t, 0.0, v, 1e-6, "coefficient %d must vanish above lambda max", j)
	}
}

func TestFirstRoundMatchesLasso(t *testing.T) {

	// Starting from zero the concave penalty derivative is 𝛌 everywhere, so
	// the first reweighting round is exactly the plain lasso solve.
	data, y := orthoData()
	const lam = 0.05
	scad, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.Lasso, Lambda: lam, Flavor: objective.NonConvex, Family: objective.SCAD},
		objective.Constraint{}, data)
	require.NoError(t, err)

	fit, err := Solve(scad, nil, Options{MaxIter: 5000, Tol: 1e-12, Patience: 3, OuterMaxIter: 1})
	require.NoError(t, err)
	require.Equal(t, 1, fit.Diag.Rounds)

	want := softThresholdVec(y, lam*float64(len(y)))
	assert.InDeltaSlice(t, want, fit.State.Values(), 1e-6)
}

func TestSolveConstrained(t *testing.T) {

	// Lasso over the positive orthant: max(y - n𝛌, 0) on an orthogonal
	// design. Penalty plus constraint forces the splitting backend.
	data, y := orthoData()
	const lam = 0.05
	obj, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.Lasso, Lambda: lam},
		objective.Constraint{Kind: objective.Positive}, data)
	require.NoError(t, err)
	require.False(t, obj.Caps().Proximable)

	fit, err := Solve(obj, nil, Options{MaxIter: 8000, Tol: 1e-10})
	require.NoError(t, err)
	require.True(t, fit.Diag.Converged, fit.Diag.Status)

	thr := lam * float64(len(y))
	for i, v := range fit.State.Values() {
		assert.InDelta(t, math.Max(y[i]-thr, 0), v, 1e-5)
	}
}

func TestSolverStrategy(t *testing.T) {

	data, _ := orthoData()
	obj, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.FusedLasso, Lambda: 0.1},
		objective.Constraint{}, data)
	require.NoError(t, err)

	// A non-proximable penalty cannot run on the proximal-gradient solver.
	_, err = Solve(obj, nil, Options{Solver: ProxGrad, MaxIter: 10, Tol: 1e-6})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestStateMismatch(t *testing.T) {

	data, _ := orthoData()
	lasso, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.Lasso, Lambda: 0.05},
		objective.Constraint{}, data)
	require.NoError(t, err)

	ridge, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.Ridge, Lambda: 0.05},
		objective.Constraint{}, data)
	require.NoError(t, err)

	_, err = Solve(lasso, NewState(ridge), Options{MaxIter: 10, Tol: 1e-6})
	assert.ErrorIs(t, err, ErrStateMismatch)

	// Tuning changes keep states exchangeable.
	tuned, err := lasso.WithLambda(0.2)
	require.NoError(t, err)
	_, err = Solve(tuned, NewState(lasso), Options{MaxIter: 100, Tol: 1e-6})
	assert.NoError(t, err)

	_, err = StateOf(lasso, []float64{1, 2})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestCoefSplit(t *testing.T) {

	data, _ := orthoData()
	data.Intercept = true
	obj, err := Construct(
		objective.Loss{Kind: objective.LinReg},
		objective.Penalty{Kind: objective.Lasso, Lambda: 0.05},
		objective.Constraint{}, data)
	require.NoError(t, err)

	fit, err := Solve(obj, nil, Options{MaxIter: 5000, Tol: 1e-10, Patience: 3})
	require.NoError(t, err)

	coef, icept := fit.Coef(obj)
	assert.Len(t, coef, 8)
	assert.Len(t, icept, 1)
}
