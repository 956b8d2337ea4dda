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

// ConstraintKind enumerates the supported feasibility constraints on the
// coefficient block. All constraints here admit an exact projection, so they
// act through the same proximal interface as penalties.
type ConstraintKind int

const (
	NoConstraint ConstraintKind = iota
	// Positive restricts coefficients to the non-negative orthant.
	Positive
	// Simplex restricts coefficients to {𝛃 ≥ 0, ∑𝛃ⱼ = 𝚛𝚊𝚍𝚒𝚞𝚜}.
	Simplex
	// L1Ball restricts ‖𝛃‖₁ ≤ 𝚖𝚞𝚕𝚝.
	L1Ball
	// L2Ball restricts ‖𝛃‖₂ ≤ 𝚖𝚞𝚕𝚝.
	L2Ball
	// LinearEquality restricts 𝐀𝛃 = 𝐛.
	LinearEquality
	// Isotonic restricts 𝛃₁ ≤ ··· ≤ 𝛃𝚍 (or the reversed ordering).
	Isotonic
)

// Constraint specifies the feasibility term of a penalized GLM.
type Constraint struct {
	Kind ConstraintKind
	// Radius is the simplex total (Simplex only); zero selects 1.
	Radius float64
	// Mult is the ball radius (L1Ball/L2Ball only); zero selects 1.
	Mult float64
	// A, B define the affine set 𝐀𝛃 = 𝐛 (LinearEquality only).
	A *mat.Dense
	B []float64
	// Decreasing flips the isotonic ordering (Isotonic only).
	Decreasing bool
}

// resolve validates the constraint against the coefficient length and binds
// its projection. The linear-equality pseudo-inverse is computed here, once.
func (c Constraint) resolve(dq int) (prox.Op, error) {
	switch c.Kind {
	case NoConstraint:
		return nil, nil

	case Positive:
		return func(step float64, v, out []float64) { prox.ProjectPositive(out, v) }, nil

	case Simplex:
		r := c.Radius
		if r == zero {
			r = one
		}
		if math.IsNaN(r) || r <= zero {
			return nil, fmt.Errorf("%w: simplex radius must be positive", ErrBadConfig)
		}
		return func(step float64, v, out []float64) { prox.ProjectSimplex(out, v, r) }, nil

	case L1Ball, L2Ball:
		m := c.Mult
		if m == zero {
			m = one
		}
		if math.IsNaN(m) || m <= zero {
			return nil, fmt.Errorf("%w: ball radius must be positive", ErrBadConfig)
		}
		if c.Kind == L1Ball {
			return func(step float64, v, out []float64) { prox.ProjectL1Ball(out, v, m) }, nil
		}
		return func(step float64, v, out []float64) { prox.ProjectL2Ball(out, v, m) }, nil

	case LinearEquality:
		if c.A == nil || c.B == nil {
			return nil, fmt.Errorf("%w: linear equality requires A and b", ErrBadConfig)
		}
		m, n := c.A.Dims()
		if n != dq {
			return nil, fmt.Errorf("%w: equality columns must match coefficients", ErrDimension)
		}
		if len(c.B) != m {
			return nil, fmt.Errorf("%w: equality rows must match b", ErrDimension)
		}
		pinv, err := pseudoInverse(c.A)
		if err != nil {
			return nil, err
		}
		a, b := c.A, c.B
		return func(step float64, v, out []float64) { prox.ProjectEquality(out, v, a, pinv, b) }, nil

	case Isotonic:
		inc := !c.Decreasing
		return func(step float64, v, out []float64) { prox.Isotonic(out, v, inc) }, nil
	}
	return nil, fmt.Errorf("%w: unknown constraint kind %d", ErrBadConfig, c.Kind)
}

// pseudoInverse computes the Moore-Penrose inverse 𝐀⁺ = 𝐕𝚺⁺𝐔ᵀ.
func pseudoInverse(a *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: equality matrix factorization failed", ErrBadConfig)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)

	tol := float64(max(aRows(a), aCols(a))) * s[0] * 2.2e-16
	k := 0
	for _, sv := range s {
		if sv > tol {
			k++
		}
	}
	if k == 0 {
		return nil, fmt.Errorf("%w: equality matrix has no numerical rank", ErrBadConfig)
	}

	_, n := a.Dims()
	vs := mat.NewDense(n, k, nil)
	for j := 0; j < k; j++ {
		for i := 0; i < n; i++ {
			vs.Set(i, j, v.At(i, j)/s[j])
		}
	}
	m, _ := a.Dims()
	pinv := mat.NewDense(n, m, nil)
	uk := u.Slice(0, m, 0, k)
	pinv.Mul(vs, uk.T())
	return pinv, nil
}

func aRows(a *mat.Dense) int { r, _ := a.Dims(); return r }
func aCols(a *mat.Dense) int { _, c := a.Dims(); return c }
