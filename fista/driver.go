// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fista

import (
	"math"
	"slices"
	"time"
)

// Fit minimizes the objective starting from x0 using workspace w.
//
// Each iteration evaluates the loss gradient at a momentum-extrapolated point
//
//	𝐲ᵏ = 𝐱ᵏ + (𝑡ₖ₋₁-1)/𝑡ₖ·(𝐱ᵏ - 𝐱ᵏ⁻¹)
//
// takes the proximal-gradient step 𝐱ᵏ⁺¹ = 𝚙𝚛𝚘𝚡(𝐲ᵏ - 𝐬𝜵𝑳(𝐲ᵏ), 𝐬), and tests
// the restart condition: when the objective value rises above the previous
// iterate's, the momentum sequence 𝑡 is reset to 1 so acceleration restarts
// from the current point without discarding progress. The step size 𝐬 is
// fixed or found by halving until the quadratic upper bound
//
//	𝑳(𝐱ᵏ⁺¹) ≤ 𝑳(𝐲ᵏ) + 𝜵𝑳(𝐲ᵏ)ᵀ(𝐱ᵏ⁺¹-𝐲ᵏ) + ‖𝐱ᵏ⁺¹-𝐲ᵏ‖²/2𝐬
//
// holds, bounded below by the minimum step before declaring divergence.
func (o *Optimizer) Fit(obj Objective, x0 []float64, w *Workspace) *Result {

	if len(x0) != obj.Dim() {
		panic("initial state dimension does not match objective")
	}
	if w.dim != obj.Dim() {
		panic("workspace dimension does not match objective")
	}

	copy(w.x, x0)
	copy(w.xp, x0)

	step := o.step.Initial
	if step == zero {
		if lip := obj.Lipschitz(); lip > zero {
			step = one / lip
		} else {
			step = one
		}
	}
	backtrack := !o.step.Fixed

	start := time.Now()
	fPrev := obj.LossValue(w.x) + obj.PenaltyValue(w.x)
	f := fPrev
	tPrev, t := one, one
	calm := 0

	res := &Result{Summary: Summary{Status: MaxIterReached}}
	defer func() {
		res.X = slices.Clone(w.x)
		res.F = f
		res.FinalStep = step
		res.OK = res.Status == Converged
		if o.log.last() {
			o.log.log("fista: %s after %d iterations, f=%.6e restarts=%d\n",
				res.Status, res.NumIter, res.F, res.Restarts)
		}
	}()

	for iter := 1; iter <= o.stop.MaxIterations; iter++ {
		res.NumIter = iter

		if o.stop.MaxTime > 0 && time.Since(start) >= o.stop.MaxTime {
			res.Status = OverTimeBudget
			return res
		}

		// Extrapolated point 𝐲 with momentum (𝑡ₖ₋₁-1)/𝑡ₖ.
		mom := (tPrev - one) / t
		for i := range w.ex {
			w.ex[i] = w.x[i] + mom*(w.x[i]-w.xp[i])
		}

		obj.Grad(w.ex, w.g)
		fy := obj.LossValue(w.ex)

		// Proximal-gradient step with sufficient-decrease backtracking.
		var fLoss float64
		for {
			for i := range w.cand {
				w.cand[i] = w.ex[i] - step*w.g[i]
			}
			obj.Prox(step, w.cand, w.cand)

			fLoss = obj.LossValue(w.cand)
			if !backtrack {
				break
			}
			quad := fy
			diff := zero
			for i := range w.cand {
				d := w.cand[i] - w.ex[i]
				quad += w.g[i] * d
				diff += d * d
			}
			quad += diff / (2 * step)
			if fLoss <= quad+absTol(quad) {
				break
			}
			step *= o.step.Shrink
			if step < o.step.Min {
				// Step underflow: keep the last stable iterate.
				res.Status = Diverged
				return res
			}
		}

		copy(w.xp, w.x)
		copy(w.x, w.cand)
		fPrev = f
		f = fLoss + obj.PenaltyValue(w.x)

		// Momentum update with adaptive restart on objective increase.
		if !o.noRestart && f > fPrev {
			tPrev, t = one, one
			res.Restarts++
		} else {
			tPrev = t
			t = half * (one + math.Sqrt(one+4*t*t))
		}

		if o.log.every(iter) {
			o.log.log("fista: iter=%d f=%.6e step=%.3e\n", iter, f, step)
		}

		// Converge when both the objective and the state settle.
		df := math.Abs(f-fPrev) / math.Max(math.Abs(fPrev), one)
		dx := zero
		for i := range w.x {
			dx = math.Max(dx, math.Abs(w.x[i]-w.xp[i]))
		}
		dx /= math.Max(maxAbs(w.x), one)
		if df <= o.stop.Tol && dx <= o.stop.Tol {
			if calm++; calm >= o.stop.Patience {
				res.Status = Converged
				return res
			}
		} else {
			calm = 0
		}
	}

	return res
}

// absTol guards the sufficient-decrease test against cancellation noise when
// the compared values are large.
func absTol(v float64) float64 {
	return 1e-12 * math.Max(math.Abs(v), one)
}

func maxAbs(v []float64) float64 {
	m := zero
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}
