// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lla implements the local linear approximation meta-solver for
// folded-concave (non-convex) penalty flavors.
//
// At each outer round the non-convex penalty 𝒑 is linearized at the current
// iterate, producing a convex surrogate: a weighted version of the base
// penalty with per-atom weights 𝒑′(|𝐱ᵗ|)/𝛌. The convex sub-solver minimizes
// loss plus surrogate to convergence, warm-started from the previous outer
// iterate. One round already attains the desired statistical guarantees for
// many folded-concave families, so the default round count is small.
package lla

import (
	"errors"
	"math"
	"slices"
)

const (
	zero = 0.0
	one  = 1.0
)

// Weigher writes the surrogate weights at the outer iterate x into w.
type Weigher func(x, w []float64)

// SubSolver runs one warm-started convex solve under the given surrogate
// weights and tolerance, returning the minimizer, whether the solve
// converged, and the number of inner iterations spent.
type SubSolver func(weights, x0 []float64, tol float64) (x []float64, ok bool, iters int)

// Status is the terminal state of a meta-solve.
type Status int

const (
	// Converged the outer iterate settled below the outer tolerance.
	Converged Status = iota + 1
	// MaxRoundsReached all outer rounds ran without settling.
	MaxRoundsReached
	// InnerNotConverged an inner convex solve failed to converge even
	// after a tolerance retry; the meta-solve must not mask this.
	InnerNotConverged
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case MaxRoundsReached:
		return "max-rounds"
	case InnerNotConverged:
		return "inner-not-converged"
	}
	return "unknown"
}

// Problem specifies a meta-solve.
type Problem struct {
	// Dim is the parameter state length; Atoms the surrogate weight count.
	Dim, Atoms int
	// MaxRounds caps the outer iterations (0 selects 2).
	MaxRounds int
	// Tol is the outer sup-norm tolerance on the iterate change.
	Tol float64
	// InnerTol is the tolerance handed to the sub-solver; on inner failure
	// one retry at InnerTol/10 is attempted before giving up.
	InnerTol float64
	// Weigh produces the surrogate weights; Solve runs the convex solve.
	Weigh Weigher
	Solve SubSolver
}

// New validates the problem spec and creates the meta-solver.
func (p *Problem) New() (*Solver, error) {
	rounds := p.MaxRounds
	if rounds == 0 {
		rounds = 2
	}

	var err error
	switch {
	case p.Dim <= 0 || p.Atoms <= 0:
		err = errors.New("dimensions must be greater than 0")
	case rounds < 1:
		err = errors.New("at least one outer round is required")
	case math.IsNaN(p.Tol) || p.Tol < zero:
		err = errors.New("outer tolerance must not be negative")
	case math.IsNaN(p.InnerTol) || p.InnerTol <= zero:
		err = errors.New("inner tolerance must be positive")
	case p.Weigh == nil || p.Solve == nil:
		err = errors.New("weigher and sub-solver are required")
	}
	if err != nil {
		return nil, err
	}
	return &Solver{
		dim: p.Dim, atoms: p.Atoms, rounds: rounds,
		tol: p.Tol, innerTol: p.InnerTol,
		weigh: p.Weigh, solve: p.Solve,
	}, nil
}

// Solver runs local-linear-approximation meta-solves.
type Solver struct {
	dim, atoms int
	rounds     int
	tol        float64
	innerTol   float64
	weigh      Weigher
	solve      SubSolver
}

// Result contains the outcome of a meta-solve.
type Result struct {
	OK bool      // Whether the outer loop converged.
	X  []float64 // Final parameter state (owned by the caller).
	Summary
}

// Summary describes how the meta-solve terminated.
type Summary struct {
	Status     Status
	Rounds     int
	InnerIters int // total inner iterations across rounds
}

// Fit runs the outer reweighting loop from x0.
func (s *Solver) Fit(x0 []float64) *Result {

	if len(x0) != s.dim {
		panic("initial state dimension does not match spec")
	}

	x := slices.Clone(x0)
	w := make([]float64, s.atoms)

	res := &Result{Summary: Summary{Status: MaxRoundsReached}}
	defer func() {
		res.X = x
		res.OK = res.Status == Converged
	}()

	for round := 1; round <= s.rounds; round++ {
		res.Rounds = round
		s.weigh(x, w)

		next, ok, iters := s.solve(w, x, s.innerTol)
		res.InnerIters += iters
		if !ok {
			// Retry once at a tighter tolerance; a still-failing inner
			// solve surfaces as outer non-convergence, never as success.
			next, ok, iters = s.solve(w, x, s.innerTol/10)
			res.InnerIters += iters
			if !ok {
				x = next
				res.Status = InnerNotConverged
				return res
			}
		}

		delta := zero
		for i := range next {
			delta = math.Max(delta, math.Abs(next[i]-x[i]))
		}
		x = next

		if delta <= s.tol {
			res.Status = Converged
			return res
		}
	}

	return res
}
