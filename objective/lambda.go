// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objective

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// LambdaMax returns the smallest penalty strength for which the all-zero
// coefficient vector (with a loss-optimal intercept) already minimizes the
// objective. It is a pure function of the objective spec and data, used as
// the upper anchor of default tuning grids.
//
// The value follows from the loss gradient at zero coefficients, reduced
// according to the penalty structure: the max absolute entry for element-wise
// sparsity, the max group norm for group sparsity, the leading singular value
// for the nuclear norm. Penalties whose zero point is never stationary
// (ridge, exclusive lasso) or with no closed reduction (fused/generalized)
// report ErrUnsupported.
func LambdaMax(o *Objective) (float64, error) {
	g, err := o.gradAtZero()
	if err != nil {
		return zero, err
	}
	w := o.pen.Weights

	switch o.pen.Kind {
	case Lasso, ElasticNet:
		m := zero
		for i, gi := range g {
			a := math.Abs(gi)
			if w != nil {
				if w[i] <= machEps {
					continue // unpenalized coordinate
				}
				a /= w[i]
			}
			m = math.Max(m, a)
		}
		if o.pen.Kind == ElasticNet {
			if o.pen.L1Ratio == zero {
				return zero, fmt.Errorf("%w: pure ridge has no finite lambda max", ErrUnsupported)
			}
			m /= o.pen.L1Ratio
		}
		if !finite(m) {
			return zero, fmt.Errorf("%w: gradient at zero is not finite", ErrBadConfig)
		}
		return m, nil

	case GroupLasso:
		m := zero
		for gi, idx := range o.pen.Groups {
			nrm := zero
			for _, j := range idx {
				nrm += g[j] * g[j]
			}
			nrm = math.Sqrt(nrm)
			if w != nil {
				if w[gi] <= machEps {
					continue
				}
				nrm /= w[gi]
			}
			m = math.Max(m, nrm)
		}
		return m, nil

	case NuclearNorm:
		sv := singularValues(g, o.d, o.q)
		m := sv[0]
		if w != nil {
			// Conservative when weights are not aligned with the
			// decreasing singular values.
			mw := math.Inf(1)
			for _, wi := range w {
				if wi > machEps {
					mw = math.Min(mw, wi)
				}
			}
			if !math.IsInf(mw, 1) {
				m /= mw
			}
		}
		return m, nil
	}
	return zero, fmt.Errorf("%w: no lambda max for penalty kind %d", ErrUnsupported, o.pen.Kind)
}

const machEps = 2.2e-16

// gradAtZero computes the loss gradient over the coefficient block at zero
// coefficients, with the intercept fixed at its loss-optimal value when the
// objective fits one.
func (o *Objective) gradAtZero() ([]float64, error) {
	xv := make([]float64, o.Dim())
	if o.intercept {
		for c := 0; c < o.q; c++ {
			b0, err := o.nullIntercept(c)
			if err != nil {
				return nil, err
			}
			xv[o.d*o.q+c] = b0
		}
	}
	g := make([]float64, o.Dim())
	o.Grad(xv, g)
	return g[:o.d*o.q], nil
}

// nullIntercept returns the loss-minimizing intercept for response column c
// when all coefficients are zero.
func (o *Objective) nullIntercept(c int) (float64, error) {
	ys := make([]float64, o.n)
	for i := 0; i < o.n; i++ {
		ys[i] = o.response(i, c)
	}
	mean := floats.Sum(ys) / float64(o.n)

	switch o.loss.Kind {
	case LinReg, LinRegMulti, HuberReg:
		return mean, nil
	case LogReg:
		p := math.Min(math.Max(mean, machEps), one-machEps)
		return math.Log(p / (one - p)), nil
	case Multinomial:
		// Class log-proportion; the softmax maps these back to the column
		// means since the one-hot rows make them sum to one.
		p := math.Min(math.Max(mean, machEps), one-machEps)
		return math.Log(p), nil
	case Poisson:
		if mean <= zero {
			return zero, fmt.Errorf("%w: poisson responses sum to zero", ErrBadConfig)
		}
		return math.Log(mean), nil
	case QuantileReg:
		sort.Float64s(ys)
		pos := o.loss.Quantile * float64(o.n-1)
		lo := int(math.Floor(pos))
		hi := int(math.Ceil(pos))
		frac := pos - float64(lo)
		return ys[lo]*(one-frac) + ys[hi]*frac, nil
	}
	return zero, fmt.Errorf("%w: unknown loss kind %d", ErrBadConfig, o.loss.Kind)
}

// LogSpacedGrid returns n penalty strengths decreasing geometrically from max
// to max·minRatio, the conventional default tuning grid.
func LogSpacedGrid(max, minRatio float64, n int) ([]float64, error) {
	switch {
	case !finite(max) || max <= zero:
		return nil, fmt.Errorf("%w: grid anchor must be positive", ErrBadConfig)
	case minRatio <= zero || minRatio >= one:
		return nil, fmt.Errorf("%w: grid ratio must lie in (0,1)", ErrBadConfig)
	case n < 2:
		return nil, fmt.Errorf("%w: grid needs at least two points", ErrBadConfig)
	}
	grid := make([]float64, n)
	step := math.Log(minRatio) / float64(n-1)
	for i := range grid {
		grid[i] = max * math.Exp(float64(i)*step)
	}
	return grid, nil
}
