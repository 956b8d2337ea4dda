// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objective

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/glmpen/prox"
)

// Problem specifies a penalized GLM objective to be constructed.
type Problem struct {
	// X is the n×d design matrix.
	X *mat.Dense
	// Y is the single response (all losses except LinRegMulti/Multinomial).
	Y []float64
	// YMulti is the n×q multi-response matrix (LinRegMulti and, as a one-hot
	// indicator, Multinomial).
	YMulti *mat.Dense
	// Loss, Penalty, Constraint form the objective triple.
	Loss       Loss
	Penalty    Penalty
	Constraint Constraint
	// Intercept adds an unpenalized, unconstrained intercept per response.
	Intercept bool
}

// Objective is an immutable penalized GLM minimization target.
//
// The parameter state it operates on is a flat vector holding the d×q
// coefficient matrix feature-major, followed by q intercept entries when the
// objective fits an intercept. The objective never mutates a parameter state
// and is safe to share read-only across concurrent solves.
type Objective struct {
	x    *mat.Dense
	y    []float64
	ym   *mat.Dense
	n    int // samples
	d    int // features
	q    int // responses
	loss Loss
	pen  Penalty
	cons Constraint

	intercept bool
	caps      Caps
	lip       float64 // gradient Lipschitz bound; 0 when unknown

	ops       penOps
	project   prox.Op    // constraint projection, nil when unconstrained
	transform *mat.Dense // splitting transform for non-proximable penalties
	tag       string
}

// New validates the problem and constructs the objective. Every unsupported
// combination is rejected here; a successful construction guarantees that at
// least one solver can handle the objective.
func (p *Problem) New() (*Objective, error) {
	if p.X == nil {
		return nil, fmt.Errorf("%w: design matrix is required", ErrBadConfig)
	}
	n, d := p.X.Dims()
	if n < 1 || d < 1 {
		return nil, fmt.Errorf("%w: empty design matrix", ErrBadConfig)
	}
	if err := p.Loss.check(); err != nil {
		return nil, err
	}

	q := 1
	if p.Loss.Kind == LinRegMulti || p.Loss.Kind == Multinomial {
		if p.YMulti == nil {
			return nil, fmt.Errorf("%w: multi-response loss requires YMulti", ErrBadConfig)
		}
		yn, yq := p.YMulti.Dims()
		if yn != n {
			return nil, fmt.Errorf("%w: response rows must match samples", ErrDimension)
		}
		if yq < 2 {
			return nil, fmt.Errorf("%w: multi-response loss needs at least two responses", ErrBadConfig)
		}
		if p.Loss.Kind == Multinomial {
			for i := 0; i < yn; i++ {
				row := zero
				for c := 0; c < yq; c++ {
					v := p.YMulti.At(i, c)
					if v != zero && v != one {
						return nil, fmt.Errorf("%w: multinomial responses must be one-hot", ErrBadConfig)
					}
					row += v
				}
				if row != one {
					return nil, fmt.Errorf("%w: multinomial responses must be one-hot", ErrBadConfig)
				}
			}
		}
		q = yq
	} else {
		if p.Y == nil {
			return nil, fmt.Errorf("%w: response vector is required", ErrBadConfig)
		}
		if len(p.Y) != n {
			return nil, fmt.Errorf("%w: response length must match samples", ErrDimension)
		}
		switch p.Loss.Kind {
		case LogReg:
			for _, v := range p.Y {
				if v != zero && v != one {
					return nil, fmt.Errorf("%w: logistic responses must be 0/1", ErrBadConfig)
				}
			}
		case Poisson:
			for _, v := range p.Y {
				if v < zero {
					return nil, fmt.Errorf("%w: poisson responses must be non-negative", ErrBadConfig)
				}
			}
		}
	}

	ops, transform, err := p.Penalty.resolve(d, q)
	if err != nil {
		return nil, err
	}
	project, err := p.Constraint.resolve(d * q)
	if err != nil {
		return nil, err
	}

	constrained := p.Constraint.Kind != NoConstraint
	penalized := p.Penalty.Kind != NoPenalty

	caps := Caps{
		Proximable: ops.prox != nil,
		Smooth:     ops.smoth && !constrained,
		Convex:     p.Penalty.Flavor != NonConvex,
	}
	if constrained && penalized {
		// Two non-smooth terms have no joint prox; the splitting solver
		// carries one in the auxiliary variable and one in the primal.
		caps.Proximable = false
		if ops.prox == nil && transform == nil {
			return nil, fmt.Errorf("%w: constraint with a non-proximable penalty", ErrUnsupported)
		}
	}
	if !caps.Proximable && transform == nil && !(constrained && penalized) {
		return nil, fmt.Errorf("%w: penalty has neither a proximal map nor a splitting path", ErrUnsupported)
	}
	if !caps.Convex && constrained {
		return nil, fmt.Errorf("%w: non-convex flavor under a constraint", ErrUnsupported)
	}

	o := &Objective{
		x: p.X, y: p.Y, ym: p.YMulti,
		n: n, d: d, q: q,
		loss: p.Loss, pen: p.Penalty, cons: p.Constraint,
		intercept: p.Intercept,
		caps:      caps,
		ops:       ops,
		project:   project,
		transform: transform,
	}
	o.lip = o.lipschitzBound()
	o.tag = o.fingerprint()
	return o, nil
}

// Dim returns the parameter state length.
func (o *Objective) Dim() int {
	dim := o.d * o.q
	if o.intercept {
		dim += o.q
	}
	return dim
}

// CoefLen returns the length of the coefficient block (d×q).
func (o *Objective) CoefLen() int { return o.d * o.q }

// Shape returns the sample, feature and response counts.
func (o *Objective) Shape() (n, d, q int) { return o.n, o.d, o.q }

// HasIntercept reports whether the state carries intercept entries.
func (o *Objective) HasIntercept() bool { return o.intercept }

// HasConstraint reports whether a feasibility constraint is attached.
func (o *Objective) HasConstraint() bool { return o.project != nil }

// Penalized reports whether a penalty term is attached.
func (o *Objective) Penalized() bool { return o.pen.Kind != NoPenalty }

// Caps returns the capabilities resolved at construction.
func (o *Objective) Caps() Caps { return o.caps }

// Lipschitz returns an upper bound on the loss-gradient Lipschitz constant,
// or 0 when no global bound exists (the solvers then rely on backtracking).
func (o *Objective) Lipschitz() float64 { return o.lip }

// Lambda returns the penalty strength.
func (o *Objective) Lambda() float64 { return o.pen.Lambda }

// Flavor returns the penalty flavor.
func (o *Objective) Flavor() FlavorKind { return o.pen.Flavor }

// Fingerprint identifies the objective spec a parameter state is valid for.
// It covers the data dimensions and the loss/penalty/constraint kinds but not
// tuning values, so states remain exchangeable along a tuning path.
func (o *Objective) Fingerprint() string { return o.tag }

func (o *Objective) fingerprint() string {
	return fmt.Sprintf("%dx%dx%d:L%d:P%d:C%d:i%t",
		o.n, o.d, o.q, o.loss.Kind, o.pen.Kind, o.cons.Kind, o.intercept)
}

// Value evaluates loss plus penalty at the parameter state xv.
func (o *Objective) Value(xv []float64) float64 {
	return o.LossValue(xv) + o.PenaltyValue(xv)
}

// PenaltyValue evaluates the penalty term at xv (the intercept entries do not
// contribute).
func (o *Objective) PenaltyValue(xv []float64) float64 {
	o.mustDim(xv)
	return o.ops.value(xv[:o.d*o.q])
}

// Prox applies the penalty's proximal operator at the given step size to the
// coefficient block of v, copying intercept entries through unchanged. For an
// unpenalized constrained objective the constraint projection takes the
// penalty's place. Calling Prox on a non-proximable objective is a
// programming error: solver selection must route such objectives to the
// splitting solver.
func (o *Objective) Prox(step float64, v, out []float64) {
	o.mustDim(v)
	o.mustDim(out)
	dq := o.d * o.q
	switch {
	case o.pen.Kind == NoPenalty && o.project != nil:
		o.project(step, v[:dq], out[:dq])
	case o.caps.Proximable:
		o.ops.prox(step, v[:dq], out[:dq])
	default:
		panic("objective: proximal map requested for a non-proximable objective")
	}
	copy(out[dq:], v[dq:])
}

// Project applies the constraint projection to the coefficient block of v.
func (o *Objective) Project(v, out []float64) {
	if o.project == nil {
		copy(out, v)
		return
	}
	dq := o.d * o.q
	o.project(zero, v[:dq], out[:dq])
	copy(out[dq:], v[dq:])
}

// PenaltyTransform returns the linear transform 𝐃 of a non-proximable
// penalty, or nil when the penalty acts on the coefficients directly.
func (o *Objective) PenaltyTransform() *mat.Dense { return o.transform }

// SplitProx is the proximal operator of the penalty as seen by the splitting
// solver's auxiliary variable: for transformed penalties it is the weighted
// ℓ₁ shrinkage on the transformed variable, otherwise the plain penalty prox.
func (o *Objective) SplitProx(step float64, v, out []float64) {
	switch o.pen.Kind {
	case FusedLasso, GeneralizedLasso:
		if o.pen.Weights == nil {
			prox.SoftThreshold(out, v, step*o.pen.Lambda)
		} else {
			prox.SoftThresholdWeighted(out, v, o.pen.Weights, step*o.pen.Lambda)
		}
	default:
		o.ops.prox(step, v, out)
	}
}

// ConstraintProject exposes the constraint projection as a proximal operator
// over the coefficient block, for use as a splitting term.
func (o *Objective) ConstraintProject(step float64, v, out []float64) {
	if o.project == nil {
		copy(out, v)
		return
	}
	o.project(step, v, out)
}

// QuadLoss returns the exact quadratic form of the loss, ½𝐱ᵀ𝐇𝐱 - 𝐜ᵀ𝐱 + 𝚌𝚘𝚗𝚜𝚝,
// when the loss is least squares over a single response. The splitting solver
// uses it for exact primal updates; other losses report ok=false and are
// handled inexactly.
func (o *Objective) QuadLoss() (h *mat.SymDense, c []float64, ok bool) {
	if o.loss.Kind != LinReg {
		return nil, nil, false
	}
	dim := o.Dim()
	inv := one / float64(o.n)

	h = mat.NewSymDense(dim, nil)
	c = make([]float64, dim)
	col := func(i, j int) float64 {
		if j < o.d {
			return o.x.At(i, j)
		}
		return one // intercept column
	}
	for a := 0; a < dim; a++ {
		for b := a; b < dim; b++ {
			s := zero
			for i := 0; i < o.n; i++ {
				s += col(i, a) * col(i, b)
			}
			h.SetSym(a, b, s*inv)
		}
		s := zero
		for i := 0; i < o.n; i++ {
			s += col(i, a) * o.y[i]
		}
		c[a] = s * inv
	}
	return h, c, true
}

// NumAtoms returns the number of weighted atoms of the penalty (coordinates,
// groups, singular values or transform rows), 0 for unweightable kinds.
func (o *Objective) NumAtoms() int { return o.ops.atoms }

// ConcaveWeights writes the folded-concave reweighting factors 𝒑′(|𝐱|)/𝛌 at
// the current iterate into w (length NumAtoms).
func (o *Objective) ConcaveWeights(xv, w []float64) {
	if o.pen.Flavor != NonConvex || o.ops.mags == nil {
		panic("objective: concave weights requested for a convex flavor")
	}
	if len(w) != o.ops.atoms {
		panic("objective: weight buffer length mismatch")
	}
	m := make([]float64, o.ops.atoms)
	o.ops.mags(xv[:o.d*o.q], m)
	for i, mi := range m {
		w[i] = o.pen.concaveDeriv(mi)
	}
}

// Reweighted returns the convex surrogate objective with the penalty flavor
// downgraded to adaptive under the given weights. Data is shared read-only.
func (o *Objective) Reweighted(w []float64) (*Objective, error) {
	pen := o.pen
	pen.Flavor = Adaptive
	pen.Weights = w
	pen.FamilyParam = zero
	return o.rebuild(pen)
}

// WithLambda returns a copy of the objective at a different penalty strength.
func (o *Objective) WithLambda(lam float64) (*Objective, error) {
	pen := o.pen
	pen.Lambda = lam
	return o.rebuild(pen)
}

// WithFlavorParam returns a copy with a different folded-concave family
// parameter (SCAD a or MCP 𝛄).
func (o *Objective) WithFlavorParam(p float64) (*Objective, error) {
	pen := o.pen
	pen.FamilyParam = p
	return o.rebuild(pen)
}

// rebuild re-resolves the penalty against the shared data, keeping the cached
// Lipschitz bound and constraint projection.
func (o *Objective) rebuild(pen Penalty) (*Objective, error) {
	ops, transform, err := pen.resolve(o.d, o.q)
	if err != nil {
		return nil, err
	}
	c := *o
	c.pen = pen
	c.ops = ops
	c.transform = transform
	c.caps.Proximable = ops.prox != nil && !(o.project != nil && pen.Kind != NoPenalty)
	c.caps.Smooth = ops.smoth && o.project == nil
	c.caps.Convex = pen.Flavor != NonConvex
	c.tag = c.fingerprint()
	return &c, nil
}

// lipschitzBound computes 𝑐·𝛔max(𝐙)²/𝚗 where 𝐙 is the design extended by the
// intercept column and 𝑐 bounds the per-sample loss curvature.
func (o *Objective) lipschitzBound() float64 {
	curv := o.loss.curvature()
	if curv == zero {
		return zero
	}
	cols := o.d
	if o.intercept {
		cols++
	}
	z := mat.NewDense(o.n, cols, nil)
	z.Slice(0, o.n, 0, o.d).(*mat.Dense).Copy(o.x)
	if o.intercept {
		for i := 0; i < o.n; i++ {
			z.Set(i, o.d, one)
		}
	}
	var svd mat.SVD
	if ok := svd.Factorize(z, mat.SVDNone); !ok {
		return zero
	}
	smax := svd.Values(nil)[0]
	return curv * smax * smax / float64(o.n)
}

func (o *Objective) mustDim(v []float64) {
	if len(v) != o.Dim() {
		panic("objective: parameter state dimension mismatch")
	}
}

// SplitState splits a parameter state into its coefficient and intercept
// views (the intercept view is nil without an intercept). The views alias xv.
func (o *Objective) SplitState(xv []float64) (coef, icept []float64) {
	o.mustDim(xv)
	dq := o.d * o.q
	if !o.intercept {
		return xv[:dq], nil
	}
	return xv[:dq], xv[dq:]
}

// check for interface conformity happens in the solver packages; the small
// helper below keeps NaN propagation out of convergence tests.
func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
