// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package admm

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func softAt(lam float64) func(step float64, v, out []float64) {
	return func(step float64, v, out []float64) {
		thr := step * lam
		for i, x := range v {
			switch {
			case x > thr:
				out[i] = x - thr
			case x < -thr:
				out[i] = x + thr
			default:
				out[i] = zero
			}
		}
	}
}

func positivePart(step float64, v, out []float64) {
	for i, x := range v {
		out[i] = math.Max(x, zero)
	}
}

// prox of ½‖x-y‖² + 𝛌‖x‖₁ in closed form.
func softExact(y []float64, lam float64) []float64 {
	out := make([]float64, len(y))
	softAt(lam)(one, y, out)
	return out
}

func identityQuad(y []float64) *Quad {
	n := len(y)
	h := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		h.SetSym(i, i, one)
	}
	c := make([]float64, n)
	copy(c, y)
	return &Quad{H: h, C: c}
}

// quadLoss mirrors identityQuad through the Loss interface to exercise the
// inexact primal path.
type quadLoss struct{ y []float64 }

func (q quadLoss) Value(x []float64) float64 {
	sum := zero
	for i, v := range x {
		r := v - q.y[i]
		sum += half * r * r
	}
	return sum
}

func (q quadLoss) Grad(x, g []float64) {
	for i, v := range x {
		g[i] = v - q.y[i]
	}
}

func testSignal() []float64 {
	return []float64{2.1, -0.9, 0.05, 1.4, -2.2, 0.3, 0.8, -0.1}
}

func fitLasso(t *testing.T, p Problem) *Result {
	t.Helper()
	s, err := p.New()
	if err != nil {
		t.Fatal(err)
	}
	return s.Fit(make([]float64, p.Dim), s.Init())
}

func TestLassoExactPrimal(t *testing.T) {

	y := testSignal()
	const lam = 0.5
	r := fitLasso(t, Problem{
		Dim:    len(y),
		Quad:   identityQuad(y),
		Splits: []Split{{Prox: softAt(lam)}},
		Stop:   Termination{MaxIterations: 1000, AbsTol: 1e-10, RelTol: 1e-10},
	})

	if !r.OK {
		t.Fatal("TestLassoExactPrimal: Not Converge")
	}
	for i, want := range softExact(y, lam) {
		if math.Abs(r.X[i]-want) > 1e-6 {
			t.Fatalf("TestLassoExactPrimal: x[%d]=%v want %v", i, r.X[i], want)
		}
	}
}

func TestLassoInexactPrimal(t *testing.T) {

	y := testSignal()
	const lam = 0.5
	r := fitLasso(t, Problem{
		Dim:    len(y),
		Loss:   quadLoss{y},
		Splits: []Split{{Prox: softAt(lam)}},
		Stop:   Termination{MaxIterations: 2000, AbsTol: 1e-9, RelTol: 1e-9},
	})

	if !r.OK {
		t.Fatal("TestLassoInexactPrimal: Not Converge")
	}
	for i, want := range softExact(y, lam) {
		if math.Abs(r.X[i]-want) > 1e-5 {
			t.Fatalf("TestLassoInexactPrimal: x[%d]=%v want %v", i, r.X[i], want)
		}
	}
}

func TestPositiveLasso(t *testing.T) {

	// Two splits: shrinkage and the positive orthant. The solution of
	// ½‖x-y‖² + 𝛌‖x‖₁ over x ≥ 0 is max(y-𝛌, 0) coordinate-wise.
	y := testSignal()
	const lam = 0.3
	r := fitLasso(t, Problem{
		Dim:  len(y),
		Quad: identityQuad(y),
		Splits: []Split{
			{Prox: softAt(lam)},
			{Prox: positivePart},
		},
		Stop: Termination{MaxIterations: 3000, AbsTol: 1e-10, RelTol: 1e-10},
	})

	if !r.OK {
		t.Fatal("TestPositiveLasso: Not Converge")
	}
	for i, v := range y {
		want := math.Max(v-lam, zero)
		if math.Abs(r.X[i]-want) > 1e-5 {
			t.Fatalf("TestPositiveLasso: x[%d]=%v want %v", i, r.X[i], want)
		}
	}
}

func TestFusedStrongPenalty(t *testing.T) {

	// A total-variation penalty far above the signal range flattens the
	// fit to the signal mean.
	y := testSignal()
	n := len(y)
	d := mat.NewDense(n-1, n, nil)
	for i := 0; i < n-1; i++ {
		d.Set(i, i, -one)
		d.Set(i, i+1, one)
	}

	r := fitLasso(t, Problem{
		Dim:    n,
		Quad:   identityQuad(y),
		Splits: []Split{{D: d, Prox: softAt(100)}},
		Stop:   Termination{MaxIterations: 3000, AbsTol: 1e-10, RelTol: 1e-10},
	})

	if !r.OK {
		t.Fatal("TestFusedStrongPenalty: Not Converge")
	}
	mean := zero
	for _, v := range y {
		mean += v
	}
	mean /= float64(n)
	for i, v := range r.X {
		if math.Abs(v-mean) > 1e-4 {
			t.Fatalf("TestFusedStrongPenalty: x[%d]=%v want %v", i, v, mean)
		}
	}
}

func TestRhoAdaptation(t *testing.T) {

	y := testSignal()
	const lam = 0.5
	r := fitLasso(t, Problem{
		Dim:    len(y),
		Quad:   identityQuad(y),
		Splits: []Split{{Prox: softAt(lam)}},
		Stop:   Termination{MaxIterations: 1000, AbsTol: 1e-10, RelTol: 1e-10},
		Rho:    RhoSpec{Init: 50, Adapt: true},
	})

	switch {
	case !r.OK:
		t.Fatal("TestRhoAdaptation: Not Converge")
	case r.FinalRho >= 50:
		t.Fatal("TestRhoAdaptation: Rho Not Balanced", r.FinalRho)
	}
	for i, want := range softExact(y, lam) {
		if math.Abs(r.X[i]-want) > 1e-6 {
			t.Fatalf("TestRhoAdaptation: x[%d]=%v want %v", i, r.X[i], want)
		}
	}
}

func TestResidualDecrease(t *testing.T) {

	y := testSignal()
	prob := Problem{
		Dim:    len(y),
		Quad:   identityQuad(y),
		Splits: []Split{{Prox: softAt(0.5)}},
		Rho:    RhoSpec{Init: one},
		Stop:   Termination{MaxIterations: 3, AbsTol: 1e-12, RelTol: 1e-12},
	}
	early := fitLasso(t, prob)

	prob.Stop.MaxIterations = 500
	late := fitLasso(t, prob)

	switch {
	case !late.OK:
		t.Fatal("TestResidualDecrease: Not Converge", late.Status)
	case late.PrimalRes >= early.PrimalRes:
		t.Fatal("TestResidualDecrease: Primal Residual Not Reduced", early.PrimalRes, late.PrimalRes)
	case late.DualRes >= early.DualRes:
		t.Fatal("TestResidualDecrease: Dual Residual Not Reduced", early.DualRes, late.DualRes)
	case late.PrimalRes > 1e-10 || late.DualRes > 1e-10:
		t.Fatal("TestResidualDecrease: Residuals Not Near Zero", late.PrimalRes, late.DualRes)
	}
}

func TestMaxIterations(t *testing.T) {

	y := testSignal()
	r := fitLasso(t, Problem{
		Dim:    len(y),
		Quad:   identityQuad(y),
		Splits: []Split{{Prox: softAt(0.5)}},
		Stop:   Termination{MaxIterations: 2, AbsTol: 1e-14, RelTol: 1e-14},
	})

	switch {
	case r.OK:
		t.Fatal("TestMaxIterations: Unexpected Convergence")
	case r.Status != MaxIterReached:
		t.Fatal("TestMaxIterations: Unexpected Status", r.Status)
	}
}

func TestValidation(t *testing.T) {

	y := testSignal()
	ok := Problem{
		Dim:    len(y),
		Quad:   identityQuad(y),
		Splits: []Split{{Prox: softAt(0.5)}},
		Stop:   Termination{MaxIterations: 10, AbsTol: 1e-6, RelTol: 1e-6},
	}

	for _, mod := range []func(*Problem){
		func(p *Problem) { p.Dim = 0 },
		func(p *Problem) { p.Quad = nil },
		func(p *Problem) { p.Splits = nil },
		func(p *Problem) { p.Splits = []Split{{}} },
		func(p *Problem) { p.Splits = []Split{{D: mat.NewDense(2, 3, nil), Prox: softAt(1)}} },
		func(p *Problem) { p.Stop.MaxIterations = 0 },
		func(p *Problem) { p.Stop.AbsTol = -1 },
		func(p *Problem) { p.Rho = RhoSpec{Init: -1} },
		func(p *Problem) { p.Rho = RhoSpec{Factor: 0.5} },
		func(p *Problem) { p.Quad = &Quad{H: mat.NewSymDense(3, nil), C: make([]float64, 3)} },
	} {
		p := ok
		mod(&p)
		if _, err := p.New(); err == nil {
			t.Fatal("TestValidation: Expect Error")
		}
	}
}
