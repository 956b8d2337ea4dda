// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fista implements an accelerated proximal-gradient solver with
// adaptive restart for objectives whose penalty admits a direct proximal map.
package fista

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

const (
	zero = 0.0
	half = 0.5
	one  = 1.0
)

// Objective is the minimization target: a smooth loss with gradient plus a
// possibly non-smooth penalty reached only through its proximal map.
// Implementations must be safe for concurrent read-only use; the solver never
// mutates the objective.
type Objective interface {
	// Dim returns the parameter state length.
	Dim() int
	// LossValue evaluates the smooth term at x.
	LossValue(x []float64) float64
	// Grad writes the gradient of the smooth term at x into g.
	Grad(x, g []float64)
	// PenaltyValue evaluates the non-smooth term at x.
	PenaltyValue(x []float64) float64
	// Prox applies the penalty's proximal operator at the given step size.
	Prox(step float64, v, out []float64)
	// Lipschitz returns an upper bound on the gradient Lipschitz constant,
	// or 0 when unknown (backtracking is then required).
	Lipschitz() float64
}

// Status is the terminal state of a solve.
type Status int

const (
	// Converged the relative change in objective and state stayed below
	// tolerance for the configured number of consecutive iterations.
	Converged Status = iota + 1
	// MaxIterReached the iteration budget ran out before convergence.
	// The last iterate is still returned; this is a diagnostic, not an error.
	MaxIterReached
	// OverTimeBudget the wall-clock budget ran out before convergence.
	OverTimeBudget
	// Diverged backtracking pushed the step size below its floor; the last
	// stable iterate is returned rather than the diverged one.
	Diverged
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case MaxIterReached:
		return "max-iterations"
	case OverTimeBudget:
		return "over-time-budget"
	case Diverged:
		return "diverged"
	}
	return "unknown"
}

// Termination specifies the stopping criteria.
type Termination struct {
	// The iteration stops when the number of iterations exceeds this limit.
	MaxIterations int
	// The iteration stops when the relative change of both the objective
	// value and the parameter state falls below Tol.
	Tol float64
	// Patience is the number of consecutive iterations the change must stay
	// below Tol before declaring convergence (0 selects 1).
	Patience int
	// MaxTime bounds the wall-clock time of a solve (0 means unlimited).
	MaxTime time.Duration
}

// StepSpec specifies the gradient step-size policy.
type StepSpec struct {
	// Initial step size; 0 selects 1/𝐿 from the objective's Lipschitz
	// bound, or 1 when no bound is known.
	Initial float64
	// Min is the backtracking floor below which the solve is declared
	// diverged (0 selects 1e-12).
	Min float64
	// Shrink is the backtracking contraction factor (0 selects ½).
	Shrink float64
	// Fixed disables backtracking. Only sound when the step satisfies the
	// descent condition globally (e.g. 1/𝐿 with a valid Lipschitz bound).
	Fixed bool
}

// Problem specifies an accelerated proximal-gradient solve.
type Problem struct {
	Stop Termination
	Step StepSpec
	// NoRestart disables the adaptive momentum restart.
	NoRestart bool
	// Log is optional iteration tracing.
	Log *Logger
}

// Logger handles iteration tracing. A nil logger or a negative level is
// silent; level 0 prints one line at termination; a positive level prints
// every that many iterations. The writer must be safe for the caller's use.
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

// New validates the problem spec and creates an optimizer. The optimizer is
// immutable and may be shared; per-solve state lives in a Workspace.
func (p *Problem) New() (*Optimizer, error) {
	stop, step := p.Stop, p.Step
	if stop.Patience == 0 {
		stop.Patience = 1
	}
	if step.Min == zero {
		step.Min = 1e-12
	}
	if step.Shrink == zero {
		step.Shrink = half
	}

	var err error
	switch {
	case stop.MaxIterations <= 0:
		err = errors.New("max iterations must be greater than 0")
	case math.IsNaN(stop.Tol) || stop.Tol < zero:
		err = errors.New("tolerance must not be negative")
	case stop.Patience < 0:
		err = errors.New("patience must not be negative")
	case stop.MaxTime < 0:
		err = errors.New("time budget must not be negative")
	case math.IsNaN(step.Initial) || step.Initial < zero:
		err = errors.New("initial step must not be negative")
	case step.Min <= zero:
		err = errors.New("minimum step must be greater than 0")
	case step.Shrink <= zero || step.Shrink >= one:
		err = errors.New("shrink factor must lie in (0,1)")
	}
	if err != nil {
		return nil, err
	}

	return &Optimizer{stop: stop, step: step, noRestart: p.NoRestart, log: p.Log}, nil
}

// Optimizer runs accelerated proximal-gradient solves.
type Optimizer struct {
	stop      Termination
	step      StepSpec
	noRestart bool
	log       *Logger
}

// Workspace holds the mutable per-solve state. To avoid race conditions,
// separate workspaces need to be created for each goroutine, but multiple
// workspaces may share one optimizer.
type Workspace struct {
	dim  int
	x    []float64 // current iterate
	xp   []float64 // previous iterate
	ex   []float64 // extrapolated point
	g    []float64 // gradient at the extrapolated point
	cand []float64 // prox-step candidate
}

// Init allocates a workspace for objectives of the given dimension.
func (o *Optimizer) Init(dim int) *Workspace {
	buf := make([]float64, 5*dim)
	return &Workspace{
		dim:  dim,
		x:    buf[:dim],
		xp:   buf[dim : 2*dim],
		ex:   buf[2*dim : 3*dim],
		g:    buf[3*dim : 4*dim],
		cand: buf[4*dim:],
	}
}

// Result contains the outcome of a solve.
type Result struct {
	OK bool      // Whether the solve converged.
	X  []float64 // Final parameter state (owned by the caller).
	F  float64   // Final objective value.
	Summary
}

// Summary describes how the solve terminated.
type Summary struct {
	Status    Status
	NumIter   int
	Restarts  int // momentum restarts triggered
	FinalStep float64
}
