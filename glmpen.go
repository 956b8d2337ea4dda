// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package glmpen fits penalized M-estimators (GLMs with structured, adaptive
// or folded-concave penalties and feasibility constraints) by composing the
// objective model with a family of interchangeable convex solvers.
//
// The entry points mirror the layering of the core: Construct builds an
// immutable objective and rejects unsupported combinations, Solve runs a
// single minimization with automatic solver selection, and SolvePath drives
// a grid of related problems with optional warm starts.
package glmpen

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/glmpen/admm"
	"github.com/curioloop/glmpen/fista"
	"github.com/curioloop/glmpen/lla"
	"github.com/curioloop/glmpen/objective"
)

// Configuration errors of the objective layer, re-exported for callers that
// only import the facade.
var (
	ErrBadConfig   = objective.ErrBadConfig
	ErrUnsupported = objective.ErrUnsupported
	ErrDimension   = objective.ErrDimension
	// ErrStateMismatch marks a parameter state used with an objective it
	// was not produced under.
	ErrStateMismatch = errors.New("glmpen: parameter state does not match objective")
)

// Data bundles the observations an objective is fitted against.
type Data struct {
	// X is the n×d design matrix.
	X *mat.Dense
	// Y is the single response; YMulti the n×q multi-response matrix.
	Y      []float64
	YMulti *mat.Dense
	// Intercept adds an unpenalized intercept per response.
	Intercept bool
}

// Construct validates the loss/penalty/constraint triple against the data and
// builds the immutable objective. Unsupported combinations fail here, never
// at solve time.
func Construct(loss objective.Loss, pen objective.Penalty, cons objective.Constraint, data Data) (*objective.Objective, error) {
	p := objective.Problem{
		X: data.X, Y: data.Y, YMulti: data.YMulti,
		Loss: loss, Penalty: pen, Constraint: cons,
		Intercept: data.Intercept,
	}
	return p.New()
}

// SolverChoice selects the convex solver backend.
type SolverChoice int

const (
	// AutoSolver picks the solver from the penalty's proximability.
	AutoSolver SolverChoice = iota
	// ProxGrad forces the accelerated proximal-gradient solver.
	ProxGrad
	// Splitting forces the augmented splitting solver.
	Splitting
)

// Options tunes a solve. The zero value selects sensible defaults.
type Options struct {
	Solver SolverChoice
	// MaxIter caps the (inner) iteration count (0 selects 1000).
	MaxIter int
	// Tol is the convergence tolerance (0 selects 1e-8).
	Tol float64
	// Patience is the consecutive-iteration requirement of the
	// proximal-gradient convergence test (0 selects 1).
	Patience int
	// NoRestart disables adaptive restart for the proximal-gradient solver.
	NoRestart bool
	// FixedStep disables backtracking (sound only with a Lipschitz bound).
	FixedStep bool
	// Rho is the initial augmentation parameter of the splitting solver
	// (0 selects 1); AdaptRho enables residual balancing.
	Rho      float64
	AdaptRho bool
	// OuterMaxIter caps the reweighting rounds of the non-convex
	// meta-solver (0 selects 2); InnerTol is the tolerance of its inner
	// convex solves (0 selects Tol).
	OuterMaxIter int
	InnerTol     float64
	// Budget bounds the wall clock of one solve (0 means unlimited).
	// An exhausted budget surfaces as non-convergence, not as an error.
	Budget time.Duration
	// Workers bounds the worker pool of independent-mode path solves
	// (0 selects the number of CPUs).
	Workers int
	// Log receives structured progress events (path points, solver
	// selection). Nil is silent.
	Log *slog.Logger
	// Trace receives iteration traces of the underlying solver; TraceEvery
	// sets the cadence (0 traces termination only). Nil is silent.
	Trace      io.Writer
	TraceEvery int
}

func (o Options) withDefaults() Options {
	if o.MaxIter == 0 {
		o.MaxIter = 1000
	}
	if o.Tol == zero {
		o.Tol = 1e-8
	}
	if o.OuterMaxIter == 0 {
		o.OuterMaxIter = 2
	}
	if o.InnerTol == zero {
		o.InnerTol = o.Tol
	}
	return o
}

const zero = 0.0

// State is a parameter state bound to the objective spec it was produced
// under. States from differing specs are rejected by Solve and SolvePath.
type State struct {
	x   []float64
	tag string
}

// NewState returns the all-zero state for the objective.
func NewState(obj *objective.Objective) *State {
	return &State{x: make([]float64, obj.Dim()), tag: obj.Fingerprint()}
}

// StateOf adopts an explicit parameter vector as a state for the objective.
func StateOf(obj *objective.Objective, x []float64) (*State, error) {
	if len(x) != obj.Dim() {
		return nil, fmt.Errorf("%w: state length %d, objective dimension %d",
			ErrDimension, len(x), obj.Dim())
	}
	s := &State{x: make([]float64, len(x)), tag: obj.Fingerprint()}
	copy(s.x, x)
	return s, nil
}

// Values returns a copy of the raw parameter vector.
func (s *State) Values() []float64 {
	v := make([]float64, len(s.x))
	copy(v, s.x)
	return v
}

func (s *State) clone() *State {
	c := &State{x: make([]float64, len(s.x)), tag: s.tag}
	copy(c.x, s.x)
	return c
}

// Diagnostics describes how a solve terminated. Non-convergence and
// divergence are reported here, never as errors: a usable iterate is still
// returned.
type Diagnostics struct {
	Converged  bool
	Status     string
	Iterations int
	// Rounds counts outer reweighting rounds (non-convex flavors only).
	Rounds int
	// Restarts counts momentum restarts (proximal-gradient only).
	Restarts int
	// PrimalRes/DualRes are the final residual norms (splitting only).
	PrimalRes, DualRes float64
	Objective          float64
	Elapsed            time.Duration
}

// Fit is the outcome of one solve.
type Fit struct {
	State *State
	Diag  Diagnostics
}

// Coef splits the fitted state into coefficient and intercept copies.
func (f *Fit) Coef(obj *objective.Objective) (coef, icept []float64) {
	c, ic := obj.SplitState(f.State.x)
	coef = append([]float64(nil), c...)
	if ic != nil {
		icept = append([]float64(nil), ic...)
	}
	return coef, icept
}

// solverKind is the resolved backend after strategy lookup.
type solverKind int

const (
	kindProx solverKind = iota
	kindSplit
)

// capKey indexes the strategy table: penalty proximability crossed with the
// caller's solver choice.
type capKey struct {
	proximable bool
	choice     SolverChoice
}

// strategy maps capabilities to an eligible solver. Missing entries are
// configuration errors (a non-proximable penalty cannot run on the
// proximal-gradient solver).
var strategy = map[capKey]solverKind{
	{true, AutoSolver}:  kindProx,
	{false, AutoSolver}: kindSplit,
	{true, ProxGrad}:    kindProx,
	{true, Splitting}:   kindSplit,
	{false, Splitting}:  kindSplit,
}

// Solve minimizes the objective from the given initial state (nil selects the
// zero state). The solver is chosen from the penalty's proximability unless
// forced by opts.Solver, and non-convex flavors are automatically wrapped in
// the reweighting meta-solver.
func Solve(obj *objective.Objective, init *State, opts Options) (*Fit, error) {
	opts = opts.withDefaults()

	if init == nil {
		init = NewState(obj)
	} else if init.tag != obj.Fingerprint() {
		return nil, fmt.Errorf("%w: state %q, objective %q",
			ErrStateMismatch, init.tag, obj.Fingerprint())
	}

	kind, ok := strategy[capKey{obj.Caps().Proximable, opts.Solver}]
	if !ok {
		return nil, fmt.Errorf("%w: proximal-gradient solver requires a proximable penalty", ErrUnsupported)
	}

	start := time.Now()
	var fit *Fit
	var err error
	if obj.Caps().Convex {
		fit, err = runConvex(obj, init.x, opts.Tol, kind, opts)
	} else {
		fit, err = runConcave(obj, init.x, kind, opts)
	}
	if err != nil {
		return nil, err
	}
	fit.Diag.Elapsed = time.Since(start)
	if opts.Log != nil {
		opts.Log.Debug("solve finished",
			"status", fit.Diag.Status,
			"iterations", fit.Diag.Iterations,
			"objective", fit.Diag.Objective,
			"elapsed", fit.Diag.Elapsed)
	}
	return fit, nil
}

// runConvex dispatches one convex solve to the resolved backend.
func runConvex(obj *objective.Objective, x0 []float64, tol float64, kind solverKind, opts Options) (*Fit, error) {
	switch kind {
	case kindProx:
		p := fista.Problem{
			Stop: fista.Termination{
				MaxIterations: opts.MaxIter,
				Tol:           tol,
				Patience:      opts.Patience,
				MaxTime:       opts.Budget,
			},
			Step:      fista.StepSpec{Fixed: opts.FixedStep},
			NoRestart: opts.NoRestart,
		}
		if opts.Trace != nil {
			p.Log = &fista.Logger{Level: opts.TraceEvery, Msg: opts.Trace}
		}
		solver, err := p.New()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
		}
		res := solver.Fit(obj, x0, solver.Init(obj.Dim()))
		return &Fit{
			State: &State{x: res.X, tag: obj.Fingerprint()},
			Diag: Diagnostics{
				Converged:  res.OK,
				Status:     res.Status.String(),
				Iterations: res.NumIter,
				Restarts:   res.Restarts,
				Objective:  res.F,
			},
		}, nil

	case kindSplit:
		p, err := splitProblem(obj, tol, opts)
		if err != nil {
			return nil, err
		}
		solver, err := p.New()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
		}
		res := solver.Fit(x0, solver.Init())
		return &Fit{
			State: &State{x: res.X, tag: obj.Fingerprint()},
			Diag: Diagnostics{
				Converged:  res.OK,
				Status:     res.Status.String(),
				Iterations: res.NumIter,
				PrimalRes:  res.PrimalRes,
				DualRes:    res.DualRes,
				Objective:  res.F,
			},
		}, nil
	}
	return nil, fmt.Errorf("%w: no solver for this objective", ErrUnsupported)
}

// runConcave wraps the convex backend in the reweighting meta-solver.
func runConcave(obj *objective.Objective, x0 []float64, kind solverKind, opts Options) (*Fit, error) {
	var last Diagnostics
	var subErr error

	sub := func(weights, start []float64, tol float64) ([]float64, bool, int) {
		surr, err := obj.Reweighted(weights)
		if err != nil {
			subErr = err
			return append([]float64(nil), start...), false, 0
		}
		fit, err := runConvex(surr, start, tol, kind, opts)
		if err != nil {
			subErr = err
			return append([]float64(nil), start...), false, 0
		}
		last = fit.Diag
		return fit.State.x, fit.Diag.Converged, fit.Diag.Iterations
	}

	p := lla.Problem{
		Dim:       obj.Dim(),
		Atoms:     obj.NumAtoms(),
		MaxRounds: opts.OuterMaxIter,
		Tol:       opts.Tol,
		InnerTol:  opts.InnerTol,
		Weigh:     obj.ConcaveWeights,
		Solve:     sub,
	}
	solver, err := p.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}

	res := solver.Fit(x0)
	if subErr != nil {
		return nil, subErr
	}
	diag := last
	diag.Converged = res.OK
	diag.Status = res.Status.String()
	diag.Rounds = res.Rounds
	diag.Iterations = res.InnerIters
	diag.Objective = obj.Value(res.X)
	return &Fit{State: &State{x: res.X, tag: obj.Fingerprint()}, Diag: diag}, nil
}

// splitProblem assembles the splitting formulation of the objective: one
// split for the penalty (through its transform when non-proximable) and one
// for the constraint projection when both are present.
func splitProblem(obj *objective.Objective, tol float64, opts Options) (*admm.Problem, error) {
	dim := obj.Dim()
	sel := coefSelector(obj)

	var splits []admm.Split
	switch {
	case obj.PenaltyTransform() != nil:
		splits = append(splits, admm.Split{D: extendTransform(obj), Prox: obj.SplitProx})
	case obj.Penalized():
		splits = append(splits, admm.Split{D: sel, Prox: obj.SplitProx})
	}
	if obj.HasConstraint() {
		splits = append(splits, admm.Split{D: sel, Prox: obj.ConstraintProject})
	}
	if len(splits) == 0 {
		// Unpenalized, unconstrained: the identity split keeps the solver
		// well-posed when splitting is forced.
		splits = append(splits, admm.Split{D: sel, Prox: obj.SplitProx})
	}

	p := &admm.Problem{
		Dim:    dim,
		Loss:   lossTerm{obj},
		Value:  obj.Value,
		Splits: splits,
		Stop: admm.Termination{
			MaxIterations: opts.MaxIter,
			AbsTol:        tol,
			RelTol:        tol,
			MaxTime:       opts.Budget,
		},
		Rho: admm.RhoSpec{Init: opts.Rho, Adapt: opts.AdaptRho},
	}
	if opts.Trace != nil {
		p.Log = &admm.Logger{Level: opts.TraceEvery, Msg: opts.Trace}
	}
	if h, c, ok := obj.QuadLoss(); ok {
		p.Quad = &admm.Quad{H: h, C: c}
	}
	return p, nil
}

// lossTerm adapts the objective's smooth term to the splitting solver.
type lossTerm struct{ obj *objective.Objective }

func (l lossTerm) Value(x []float64) float64 { return l.obj.LossValue(x) }
func (l lossTerm) Grad(x, g []float64)       { l.obj.Grad(x, g) }

// coefSelector returns the transform selecting the coefficient block out of
// the full state, or nil (identity) when there is no intercept.
func coefSelector(obj *objective.Objective) *mat.Dense {
	if !obj.HasIntercept() {
		return nil
	}
	dq, dim := obj.CoefLen(), obj.Dim()
	d := mat.NewDense(dq, dim, nil)
	for i := 0; i < dq; i++ {
		d.Set(i, i, 1)
	}
	return d
}

// extendTransform pads the penalty transform with zero intercept columns.
func extendTransform(obj *objective.Objective) *mat.Dense {
	t := obj.PenaltyTransform()
	if !obj.HasIntercept() {
		return t
	}
	rows, cols := t.Dims()
	d := mat.NewDense(rows, obj.Dim(), nil)
	d.Slice(0, rows, 0, cols).(*mat.Dense).Copy(t)
	return d
}
