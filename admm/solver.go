// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package admm

import (
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Fit minimizes the split objective starting from x0 using workspace w.
func (o *Optimizer) Fit(x0 []float64, w *Workspace) *Result {

	if len(x0) != o.dim {
		panic("initial state dimension does not match spec")
	}
	if w.dim != o.dim {
		panic("workspace dimension does not match spec")
	}

	copy(w.x, x0)
	for i := range o.splits {
		o.applyD(i, w.x, w.z[i])
		clear(w.u[i])
	}

	rho := o.rho.Init
	w.cholRho = zero
	start := time.Now()

	res := &Result{Summary: Summary{Status: MaxIterReached}}
	defer func() {
		res.X = slices.Clone(w.x)
		res.F = o.objective(w.x)
		res.FinalRho = rho
		res.OK = res.Status == Converged
		if o.log.last() {
			o.log.log("admm: %s after %d iterations, f=%.6e rho=%.3e r=%.3e s=%.3e\n",
				res.Status, res.NumIter, res.F, rho, res.PrimalRes, res.DualRes)
		}
	}()

	for iter := 1; iter <= o.stop.MaxIterations; iter++ {
		res.NumIter = iter

		if o.stop.MaxTime > 0 && time.Since(start) >= o.stop.MaxTime {
			res.Status = OverTimeBudget
			return res
		}

		// (1) Primal update: argmin 𝑓(𝐱) + ∑ ½𝛒‖𝐃ᵢ𝐱 - 𝐳ᵢ + 𝐮ᵢ‖².
		if o.quad != nil {
			o.solveQuad(w, rho)
		} else {
			o.solveInexact(w, rho)
		}

		// (2) Auxiliary update: 𝐳ᵢ = 𝚙𝚛𝚘𝚡(𝐃ᵢ𝐱 + 𝐮ᵢ, 1/𝛒).
		for i := range o.splits {
			copy(w.zOld[i], w.z[i])
			o.applyD(i, w.x, w.dx[i])
			for j := range w.z[i] {
				w.z[i][j] = w.dx[i][j] + w.u[i][j]
			}
			o.splits[i].Prox(one/rho, w.z[i], w.z[i])
		}

		// (3) Dual ascent on the constraint residuals.
		for i := range o.splits {
			for j := range w.u[i] {
				w.u[i][j] += w.dx[i][j] - w.z[i][j]
			}
		}

		normR, normDx, normZ := zero, zero, zero
		for i := range o.splits {
			for j, dx := range w.dx[i] {
				r := dx - w.z[i][j]
				normR += r * r
				normDx += dx * dx
				normZ += w.z[i][j] * w.z[i][j]
			}
		}
		normR, normDx, normZ = math.Sqrt(normR), math.Sqrt(normDx), math.Sqrt(normZ)

		// Dual residual 𝐬 = 𝛒∑𝐃ᵢᵀ(𝐳ᵢ - 𝐳ᵢᵒˡᵈ) and dual magnitude 𝛒∑𝐃ᵢᵀ𝐮ᵢ.
		normS := rho * o.stackDT(w, w.zOld, w.z)
		normU := rho * o.stackDT(w, nil, w.u)

		res.PrimalRes, res.DualRes = normR, normS

		pDim := 0
		for i := range o.splits {
			pDim += len(w.z[i])
		}
		epsPri := math.Sqrt(float64(pDim))*o.stop.AbsTol + o.stop.RelTol*math.Max(normDx, normZ)
		epsDual := math.Sqrt(float64(o.dim))*o.stop.AbsTol + o.stop.RelTol*normU

		if o.log.every(iter) {
			o.log.log("admm: iter=%d r=%.3e s=%.3e rho=%.3e\n", iter, normR, normS, rho)
		}

		if normR <= epsPri && normS <= epsDual {
			res.Status = Converged
			return res
		}

		// Residual balancing keeps the two residuals within a decade of
		// each other; the scaled duals are rescaled to stay consistent.
		if o.rho.Adapt {
			switch {
			case normR > o.rho.Ratio*normS:
				rho *= o.rho.Factor
				scaleAll(w.u, one/o.rho.Factor)
			case normS > o.rho.Ratio*normR:
				rho /= o.rho.Factor
				scaleAll(w.u, o.rho.Factor)
			}
		}
	}

	return res
}

// solveQuad solves the primal normal equations (𝐇 + 𝛒∑𝐃ᵢᵀ𝐃ᵢ)𝐱 = 𝐜 + 𝛒∑𝐃ᵢᵀ(𝐳ᵢ-𝐮ᵢ)
// reusing the Cholesky factorization while 𝛒 is unchanged.
func (o *Optimizer) solveQuad(w *Workspace, rho float64) {
	if w.cholRho != rho {
		m := mat.NewSymDense(o.dim, nil)
		m.CopySym(o.quad.H)
		for _, s := range o.splits {
			if s.D == nil {
				for i := 0; i < o.dim; i++ {
					m.SetSym(i, i, m.At(i, i)+rho)
				}
				continue
			}
			r, _ := s.D.Dims()
			for a := 0; a < o.dim; a++ {
				for b := a; b < o.dim; b++ {
					acc := zero
					for k := 0; k < r; k++ {
						acc += s.D.At(k, a) * s.D.At(k, b)
					}
					m.SetSym(a, b, m.At(a, b)+rho*acc)
				}
			}
		}
		if ok := w.chol.Factorize(m); !ok {
			// The augmented system is positive definite for 𝛒 > 0 unless
			// the data is degenerate; fall back to the inexact path.
			o.solveInexact(w, rho)
			return
		}
		w.cholRho = rho
	}

	rhs := make([]float64, o.dim)
	copy(rhs, o.quad.C)
	t := make([]float64, o.dim)
	for i := range o.splits {
		diff := make([]float64, len(w.z[i]))
		for j := range diff {
			diff[j] = w.z[i][j] - w.u[i][j]
		}
		o.applyDT(i, diff, t)
		for j := range rhs {
			rhs[j] += rho * t[j]
		}
	}

	var sol mat.VecDense
	if err := w.chol.SolveVecTo(&sol, mat.NewVecDense(o.dim, rhs)); err != nil {
		o.solveInexact(w, rho)
		return
	}
	copy(w.x, sol.RawVector().Data)
}

// solveInexact minimizes the smooth augmented term by backtracking gradient
// descent warm-started at the current primal state. The update is inexact by
// design; the outer loop tolerates it.
func (o *Optimizer) solveInexact(w *Workspace, rho float64) {
	step := one
	for s := 0; s < o.inner.MaxSteps; s++ {
		phi := o.augValue(w, w.x, rho)
		o.augGrad(w, w.x, rho, w.g)

		gn := zero
		for _, g := range w.g {
			gn += g * g
		}
		if math.Sqrt(gn) <= o.inner.Tol {
			return
		}

		for {
			for i := range w.xc {
				w.xc[i] = w.x[i] - step*w.g[i]
			}
			if o.augValue(w, w.xc, rho) <= phi-1e-4*step*gn {
				break
			}
			step *= half
			if step < 1e-14 {
				return
			}
		}
		copy(w.x, w.xc)
		step *= 1.2
	}
}

// augValue evaluates 𝑓(𝐱) + ∑ ½𝛒‖𝐃ᵢ𝐱 - 𝐳ᵢ + 𝐮ᵢ‖².
func (o *Optimizer) augValue(w *Workspace, x []float64, rho float64) float64 {
	v := o.smoothValue(x)
	for i := range o.splits {
		o.applyD(i, x, w.dx[i])
		for j, dx := range w.dx[i] {
			r := dx - w.z[i][j] + w.u[i][j]
			v += half * rho * r * r
		}
	}
	return v
}

// augGrad writes 𝜵𝑓(𝐱) + 𝛒∑𝐃ᵢᵀ(𝐃ᵢ𝐱 - 𝐳ᵢ + 𝐮ᵢ) into g.
func (o *Optimizer) augGrad(w *Workspace, x []float64, rho float64, g []float64) {
	o.smoothGrad(x, g)
	t := make([]float64, o.dim)
	for i := range o.splits {
		o.applyD(i, x, w.dx[i])
		diff := make([]float64, len(w.dx[i]))
		for j, dx := range w.dx[i] {
			diff[j] = dx - w.z[i][j] + w.u[i][j]
		}
		o.applyDT(i, diff, t)
		for j := range g {
			g[j] += rho * t[j]
		}
	}
}

func (o *Optimizer) smoothValue(x []float64) float64 {
	if o.loss != nil {
		return o.loss.Value(x)
	}
	// ½𝐱ᵀ𝐇𝐱 - 𝐜ᵀ𝐱
	v := zero
	for i := 0; i < o.dim; i++ {
		acc := zero
		for j := 0; j < o.dim; j++ {
			acc += o.quad.H.At(i, j) * x[j]
		}
		v += half*x[i]*acc - o.quad.C[i]*x[i]
	}
	return v
}

func (o *Optimizer) smoothGrad(x, g []float64) {
	if o.loss != nil {
		o.loss.Grad(x, g)
		return
	}
	for i := 0; i < o.dim; i++ {
		acc := -o.quad.C[i]
		for j := 0; j < o.dim; j++ {
			acc += o.quad.H.At(i, j) * x[j]
		}
		g[i] = acc
	}
}

func (o *Optimizer) objective(x []float64) float64 {
	if o.value != nil {
		return o.value(x)
	}
	return o.smoothValue(x)
}

// applyD computes 𝐃ᵢ𝐱 (identity when the split has no transform).
func (o *Optimizer) applyD(i int, x, out []float64) {
	d := o.splits[i].D
	if d == nil {
		copy(out, x)
		return
	}
	r, c := d.Dims()
	for a := 0; a < r; a++ {
		acc := zero
		for b := 0; b < c; b++ {
			acc += d.At(a, b) * x[b]
		}
		out[a] = acc
	}
}

// applyDT computes 𝐃ᵢᵀ𝐯.
func (o *Optimizer) applyDT(i int, v, out []float64) {
	d := o.splits[i].D
	if d == nil {
		copy(out, v)
		return
	}
	r, c := d.Dims()
	for b := 0; b < c; b++ {
		acc := zero
		for a := 0; a < r; a++ {
			acc += d.At(a, b) * v[a]
		}
		out[b] = acc
	}
}

// stackDT returns ‖∑𝐃ᵢᵀ(𝐛ᵢ - 𝐚ᵢ)‖₂ (aᵢ nil means zero).
func (o *Optimizer) stackDT(w *Workspace, a, b [][]float64) float64 {
	sum := make([]float64, o.dim)
	t := make([]float64, o.dim)
	diff := make([]float64, 0)
	for i := range o.splits {
		n := len(b[i])
		if cap(diff) < n {
			diff = make([]float64, n)
		}
		diff = diff[:n]
		for j := 0; j < n; j++ {
			switch {
			case a == nil:
				diff[j] = b[i][j]
			default:
				diff[j] = b[i][j] - a[i][j]
			}
		}
		o.applyDT(i, diff, t)
		for j := range sum {
			sum[j] += t[j]
		}
	}
	nrm := zero
	for _, s := range sum {
		nrm += s * s
	}
	return math.Sqrt(nrm)
}

func scaleAll(vs [][]float64, f float64) {
	for _, v := range vs {
		for i := range v {
			v[i] *= f
		}
	}
}
