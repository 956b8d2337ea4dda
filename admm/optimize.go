// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package admm implements an augmented-Lagrangian splitting solver for
// objectives whose penalty has no direct proximal map (generalized/fused
// structures) or which carry both a penalty and a feasibility constraint.
//
// The problem is posed as
//
//	minimize 𝑓(𝐱) + ∑ᵢ 𝑔ᵢ(𝐳ᵢ)  subject to 𝐃ᵢ𝐱 = 𝐳ᵢ
//
// with a scaled dual 𝐮ᵢ per split. Each iteration minimizes the augmented
// Lagrangian over 𝐱, applies the proximal map of each 𝑔ᵢ to update 𝐳ᵢ, and
// ascends the duals on the constraint residuals. The method is
// unconditionally stable for convex problems at a fixed augmentation
// parameter, so there is no diverged terminal state.
package admm

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

const (
	zero = 0.0
	half = 0.5
	one  = 1.0
)

// Loss is the smooth term of the split objective.
type Loss interface {
	// Value evaluates the smooth term at x.
	Value(x []float64) float64
	// Grad writes the gradient of the smooth term at x into g.
	Grad(x, g []float64)
}

// Quad is the exact quadratic form ½𝐱ᵀ𝐇𝐱 - 𝐜ᵀ𝐱 of a least-squares loss.
// When available the primal update solves cached normal equations instead of
// running an inexact inner descent.
type Quad struct {
	H *mat.SymDense
	C []float64
}

// Split couples one non-smooth term to the primal state through a linear
// transform. A nil transform means the auxiliary variable equals the primal
// state itself.
type Split struct {
	// D is the transform (rows × dim); nil selects the identity.
	D *mat.Dense
	// Prox is the proximal operator of the split's non-smooth term,
	// evaluated on the transformed variable.
	Prox func(step float64, v, out []float64)
}

func (s *Split) rows(dim int) int {
	if s.D == nil {
		return dim
	}
	r, _ := s.D.Dims()
	return r
}

// Status is the terminal state of a solve.
type Status int

const (
	// Converged both residual norms fell below their tolerances.
	Converged Status = iota + 1
	// MaxIterReached the iteration budget ran out; diagnostic, not error.
	MaxIterReached
	// OverTimeBudget the wall-clock budget ran out.
	OverTimeBudget
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case MaxIterReached:
		return "max-iterations"
	case OverTimeBudget:
		return "over-time-budget"
	}
	return "unknown"
}

// Termination specifies the stopping criteria. Convergence is declared when
// the primal residual ‖𝐃𝐱-𝐳‖ and dual residual ‖𝛒𝐃ᵀ(𝐳-𝐳ᵒˡᵈ)‖ both satisfy
// the joint absolute/relative tolerances of Boyd et al. §3.3.
type Termination struct {
	MaxIterations int
	AbsTol        float64
	RelTol        float64
	MaxTime       time.Duration
}

// RhoSpec controls the augmentation parameter.
type RhoSpec struct {
	// Init is the starting 𝛒 (0 selects 1).
	Init float64
	// Adapt enables residual balancing: 𝛒 is multiplied (divided) by
	// Factor whenever the primal residual exceeds Ratio times the dual
	// residual (or vice versa), with the scaled duals rescaled to match.
	Adapt  bool
	Factor float64 // 0 selects 2
	Ratio  float64 // 0 selects 10
}

// InnerSpec bounds the inexact primal update used for non-quadratic losses.
type InnerSpec struct {
	MaxSteps int     // 0 selects 30
	Tol      float64 // gradient sup-norm target; 0 selects 1e-8
}

// Problem specifies a splitting solve.
type Problem struct {
	// Dim is the primal state length.
	Dim int
	// Loss is the smooth term; Quad optionally supplies its exact
	// quadratic form for cached direct primal solves.
	Loss Loss
	Quad *Quad
	// Value optionally evaluates the full objective (smooth + non-smooth)
	// for reporting; when nil the result reports the smooth term only.
	Value func(x []float64) float64
	// Splits couple the non-smooth terms; at least one is required.
	Splits []Split
	Stop   Termination
	Rho    RhoSpec
	Inner  InnerSpec
	Log    *Logger
}

// Logger handles iteration tracing, matching the proximal-gradient solver's
// conventions: nil or negative level is silent, 0 prints at termination,
// a positive level prints every that many iterations.
type Logger struct {
	Level int
	Msg   io.Writer
}

func (l *Logger) log(format string, a ...any) {
	if l != nil && l.Msg != nil {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	}
}

func (l *Logger) every(iter int) bool {
	return l != nil && l.Msg != nil && l.Level > 0 && iter%l.Level == 0
}

func (l *Logger) last() bool {
	return l != nil && l.Msg != nil && l.Level >= 0
}

// New validates the problem spec and creates an optimizer.
func (p *Problem) New() (*Optimizer, error) {
	stop, rho, inner := p.Stop, p.Rho, p.Inner
	if rho.Init == zero {
		rho.Init = one
	}
	if rho.Factor == zero {
		rho.Factor = 2
	}
	if rho.Ratio == zero {
		rho.Ratio = 10
	}
	if inner.MaxSteps == 0 {
		inner.MaxSteps = 30
	}
	if inner.Tol == zero {
		inner.Tol = 1e-8
	}

	var err error
	switch {
	case p.Dim <= 0:
		err = errors.New("problem dimension must be greater than 0")
	case p.Loss == nil && p.Quad == nil:
		err = errors.New("a loss term is required")
	case len(p.Splits) == 0:
		err = errors.New("at least one split is required")
	case stop.MaxIterations <= 0:
		err = errors.New("max iterations must be greater than 0")
	case math.IsNaN(stop.AbsTol) || stop.AbsTol < zero:
		err = errors.New("absolute tolerance must not be negative")
	case math.IsNaN(stop.RelTol) || stop.RelTol < zero:
		err = errors.New("relative tolerance must not be negative")
	case stop.MaxTime < 0:
		err = errors.New("time budget must not be negative")
	case math.IsNaN(rho.Init) || rho.Init <= zero:
		err = errors.New("augmentation parameter must be positive")
	case rho.Factor <= one:
		err = errors.New("adaptation factor must exceed 1")
	case rho.Ratio <= one:
		err = errors.New("adaptation ratio must exceed 1")
	case inner.MaxSteps < 1:
		err = errors.New("inner steps must be at least 1")
	}
	if err != nil {
		return nil, err
	}
	for i, s := range p.Splits {
		if s.Prox == nil {
			return nil, fmt.Errorf("split %d has no proximal operator", i)
		}
		if s.D != nil {
			if _, c := s.D.Dims(); c != p.Dim {
				return nil, fmt.Errorf("split %d transform columns do not match dimension", i)
			}
		}
	}
	if p.Quad != nil {
		if r := p.Quad.H.SymmetricDim(); r != p.Dim || len(p.Quad.C) != p.Dim {
			return nil, errors.New("quadratic form dimensions do not match")
		}
	}

	return &Optimizer{
		dim: p.Dim, loss: p.Loss, quad: p.Quad, value: p.Value,
		splits: p.Splits, stop: stop, rho: rho, inner: inner, log: p.Log,
	}, nil
}

// Optimizer runs splitting solves.
type Optimizer struct {
	dim    int
	loss   Loss
	quad   *Quad
	value  func(x []float64) float64
	splits []Split
	stop   Termination
	rho    RhoSpec
	inner  InnerSpec
	log    *Logger
}

// Workspace holds the mutable per-solve state: primal, auxiliary and dual
// vectors plus the cached factorization of the quadratic primal system.
// Separate workspaces must be used per goroutine.
type Workspace struct {
	dim  int
	x    []float64
	z    [][]float64
	zOld [][]float64
	u    [][]float64
	dx   [][]float64 // 𝐃ᵢ𝐱 buffers
	g    []float64   // inner gradient buffer
	xc   []float64   // inner candidate buffer

	chol    mat.Cholesky
	cholRho float64 // 𝛒 the factorization was built at; 0 when absent
}

// Init allocates a workspace for this optimizer's splits.
func (o *Optimizer) Init() *Workspace {
	w := &Workspace{
		dim:  o.dim,
		x:    make([]float64, o.dim),
		g:    make([]float64, o.dim),
		xc:   make([]float64, o.dim),
		z:    make([][]float64, len(o.splits)),
		zOld: make([][]float64, len(o.splits)),
		u:    make([][]float64, len(o.splits)),
		dx:   make([][]float64, len(o.splits)),
	}
	for i := range o.splits {
		r := o.splits[i].rows(o.dim)
		w.z[i] = make([]float64, r)
		w.zOld[i] = make([]float64, r)
		w.u[i] = make([]float64, r)
		w.dx[i] = make([]float64, r)
	}
	return w
}

// Result contains the outcome of a solve.
type Result struct {
	OK bool      // Whether the solve converged.
	X  []float64 // Final primal state (owned by the caller).
	F  float64   // Final objective value.
	Summary
}

// Summary describes how the solve terminated.
type Summary struct {
	Status    Status
	NumIter   int
	FinalRho  float64
	PrimalRes float64
	DualRes   float64
}
