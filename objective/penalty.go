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

// PenaltyKind enumerates the supported penalty families.
type PenaltyKind int

const (
	NoPenalty PenaltyKind = iota
	// Lasso element-wise sparsity 𝛌∑𝐰ⱼ|𝛃ⱼ|
	Lasso
	// Ridge smooth shrinkage ½𝛌‖𝛃‖₂²
	Ridge
	// ElasticNet 𝛌[𝛂‖𝛃‖₁ + ½(1-𝛂)‖𝛃‖₂²]
	ElasticNet
	// GroupLasso block sparsity 𝛌∑𝓰 𝐰𝓰‖𝛃𝓰‖₂ over a disjoint partition
	GroupLasso
	// ExclusiveLasso within-group competition ½𝛌∑𝓰‖𝛃𝓰‖₁²
	ExclusiveLasso
	// NuclearNorm singular-value sparsity 𝛌∑𝐰ᵢ𝛔ᵢ(𝐁) on the d×q coefficient matrix
	NuclearNorm
	// FusedLasso chain differences 𝛌∑|𝛃ⱼ₊₁ - 𝛃ⱼ|; non-proximable, solved by splitting
	FusedLasso
	// GeneralizedLasso 𝛌∑𝐰ᵣ|(𝐃𝛃)ᵣ| for a caller transform 𝐃; non-proximable
	GeneralizedLasso
	// SeparableSum children over disjoint coordinate groups
	SeparableSum
	// OverlappingSum children over possibly overlapping groups
	OverlappingSum
)

// FlavorKind modifies a base penalty.
type FlavorKind int

const (
	// Plain is the unmodified convex penalty.
	Plain FlavorKind = iota
	// Adaptive applies fixed per-atom weights (per coordinate, group,
	// singular value or transform row depending on the kind).
	Adaptive
	// NonConvex replaces the convex penalty by a folded-concave family;
	// such objectives are fitted through the reweighting meta-solver.
	NonConvex
)

// Family enumerates the folded-concave penalty families.
type Family int

const (
	// SCAD smoothly clipped absolute deviation (Fan-Li), parameter a > 2.
	SCAD Family = iota
	// MCP minimax concave penalty (Zhang), parameter 𝛄 > 1.
	MCP
)

const (
	// DefaultSCAD is the conventional SCAD a parameter.
	DefaultSCAD = 3.7
	// DefaultMCP is the conventional MCP 𝛄 parameter.
	DefaultMCP = 2.0
)

// Penalty specifies the penalty term of a penalized GLM.
type Penalty struct {
	Kind PenaltyKind
	// Lambda is the penalty strength; for composite kinds it multiplies
	// every child's own Lambda.
	Lambda float64
	// L1Ratio is the elastic net mixing 𝛂 ∈ [0,1] (ElasticNet only).
	L1Ratio float64
	// Groups lists coordinate index groups over the flat d×q coefficient
	// block (group kinds and composite kinds).
	Groups [][]int
	// Transform is the generalized lasso matrix 𝐃 (GeneralizedLasso only).
	Transform *mat.Dense
	// Children are the member penalties of a composite kind, one per group.
	Children []Penalty
	// Weights are the adaptive per-atom weights (Adaptive flavor only);
	// a zero weight leaves the corresponding atom unpenalized.
	Weights []float64
	// Flavor selects plain, adaptive or folded-concave behavior.
	Flavor FlavorKind
	// Family is the folded-concave family (NonConvex flavor only).
	Family Family
	// FamilyParam is the family hyperparameter (SCAD a, MCP 𝛄); zero
	// selects the conventional default.
	FamilyParam float64
}

// penOps is the penalty resolved against concrete dimensions: value, proximal
// map and concave-atom accessors bound once at construction.
type penOps struct {
	value func(v []float64) float64 // over the d×q coefficient block
	prox  prox.Op                   // nil when not directly proximable
	atoms int                       // weighted-atom count (adaptive/non-convex)
	mags  func(v, m []float64)      // atom magnitudes at v
	smoth bool                      // penalty term is differentiable
}

// weightedFor reports whether the kind supports adaptive weights and
// folded-concave reweighting, and the atom count for given dimensions.
func (p Penalty) weightedFor(d, q, rows int) (int, bool) {
	switch p.Kind {
	case Lasso:
		return d * q, true
	case GroupLasso:
		return len(p.Groups), true
	case NuclearNorm:
		return min(d, q), true
	case FusedLasso, GeneralizedLasso:
		return rows, true
	}
	return 0, false
}

func (p Penalty) familyParam() float64 {
	if p.FamilyParam != zero {
		return p.FamilyParam
	}
	if p.Family == SCAD {
		return DefaultSCAD
	}
	return DefaultMCP
}

// concaveDeriv returns 𝒑′(m)/𝛌 ∈ [0,1], the reweighting factor of the
// folded-concave family at magnitude m.
func (p Penalty) concaveDeriv(m float64) float64 {
	lam, a := p.Lambda, p.familyParam()
	if lam <= zero {
		return one
	}
	switch p.Family {
	case SCAD:
		switch {
		case m <= lam:
			return one
		case m < a*lam:
			return (a*lam - m) / ((a - one) * lam)
		}
		return zero
	case MCP:
		return math.Max(zero, one-m/(a*lam))
	}
	return one
}

// resolve validates the penalty against the coefficient shape d×q and binds
// its value/prox/atom closures. transform is the (possibly built-in) linear
// map for non-proximable kinds.
func (p Penalty) resolve(d, q int) (ops penOps, transform *mat.Dense, err error) {
	if math.IsNaN(p.Lambda) || p.Lambda < zero {
		return ops, nil, fmt.Errorf("%w: penalty strength must be non-negative", ErrBadConfig)
	}

	dq := d * q
	lam := p.Lambda

	switch p.Kind {
	case FusedLasso:
		if q != 1 {
			return ops, nil, fmt.Errorf("%w: fused lasso requires a single response", ErrUnsupported)
		}
		if d < 2 {
			return ops, nil, fmt.Errorf("%w: fused lasso needs at least two coefficients", ErrBadConfig)
		}
		transform = chainDiff(d)
	case GeneralizedLasso:
		if q != 1 {
			return ops, nil, fmt.Errorf("%w: generalized lasso requires a single response", ErrUnsupported)
		}
		if p.Transform == nil {
			return ops, nil, fmt.Errorf("%w: generalized lasso requires a transform", ErrBadConfig)
		}
		if _, c := p.Transform.Dims(); c != d {
			return ops, nil, fmt.Errorf("%w: transform columns must match coefficients", ErrDimension)
		}
		transform = p.Transform
	}

	rows := 0
	if transform != nil {
		rows, _ = transform.Dims()
	}

	atoms, weightable := p.weightedFor(d, q, rows)
	switch p.Flavor {
	case Plain:
		if p.Weights != nil {
			return ops, nil, fmt.Errorf("%w: weights require the adaptive flavor", ErrBadConfig)
		}
	case Adaptive:
		if !weightable {
			return ops, nil, fmt.Errorf("%w: adaptive flavor for penalty kind %d", ErrUnsupported, p.Kind)
		}
		if len(p.Weights) != atoms {
			return ops, nil, fmt.Errorf("%w: expected %d adaptive weights", ErrDimension, atoms)
		}
		for _, w := range p.Weights {
			if math.IsNaN(w) || w < zero {
				return ops, nil, fmt.Errorf("%w: adaptive weights must be non-negative", ErrBadConfig)
			}
		}
	case NonConvex:
		if !weightable {
			return ops, nil, fmt.Errorf("%w: non-convex flavor for penalty kind %d", ErrUnsupported, p.Kind)
		}
		if p.Weights != nil {
			return ops, nil, fmt.Errorf("%w: non-convex flavor derives its own weights", ErrBadConfig)
		}
		a := p.familyParam()
		switch p.Family {
		case SCAD:
			if a <= two {
				return ops, nil, fmt.Errorf("%w: SCAD parameter must exceed 2", ErrBadConfig)
			}
		case MCP:
			if a <= one {
				return ops, nil, fmt.Errorf("%w: MCP parameter must exceed 1", ErrBadConfig)
			}
		default:
			return ops, nil, fmt.Errorf("%w: unknown non-convex family %d", ErrBadConfig, p.Family)
		}
	default:
		return ops, nil, fmt.Errorf("%w: unknown flavor %d", ErrBadConfig, p.Flavor)
	}

	ops.atoms = atoms
	w := p.Weights

	switch p.Kind {
	case NoPenalty:
		ops.value = func(v []float64) float64 { return zero }
		ops.prox = func(step float64, v, out []float64) { copy(out, v) }
		ops.smoth = true

	case Lasso:
		ops.value = func(v []float64) float64 { return lam * wnorm1(v, w) }
		ops.prox = func(step float64, v, out []float64) {
			if w == nil {
				prox.SoftThreshold(out, v, step*lam)
			} else {
				prox.SoftThresholdWeighted(out, v, w, step*lam)
			}
		}
		ops.mags = func(v, m []float64) {
			for i, x := range v {
				m[i] = math.Abs(x)
			}
		}

	case Ridge:
		ops.value = func(v []float64) float64 { return half * lam * sqNorm(v) }
		ops.prox = func(step float64, v, out []float64) { prox.RidgeShrink(out, v, lam, step) }
		ops.smoth = true

	case ElasticNet:
		if math.IsNaN(p.L1Ratio) || p.L1Ratio < zero || p.L1Ratio > one {
			return ops, nil, fmt.Errorf("%w: elastic net mixing must lie in [0,1]", ErrBadConfig)
		}
		l1 := p.L1Ratio
		ops.value = func(v []float64) float64 {
			return lam * (l1*wnorm1(v, nil) + half*(one-l1)*sqNorm(v))
		}
		ops.prox = func(step float64, v, out []float64) {
			prox.ElasticNetShrink(out, v, lam, l1, step)
		}
		ops.smoth = l1 == zero

	case GroupLasso, ExclusiveLasso:
		if err := checkGroups(p.Groups, dq, true); err != nil {
			return ops, nil, err
		}
		groups := p.Groups
		if p.Kind == GroupLasso {
			ops.value = func(v []float64) float64 {
				sum := zero
				for g, idx := range groups {
					nrm := zero
					for _, j := range idx {
						nrm += v[j] * v[j]
					}
					nrm = math.Sqrt(nrm)
					if w != nil {
						nrm *= w[g]
					}
					sum += nrm
				}
				return lam * sum
			}
			ops.prox = func(step float64, v, out []float64) {
				prox.GroupShrink(out, v, groups, w, step*lam)
			}
			ops.mags = func(v, m []float64) {
				for g, idx := range groups {
					nrm := zero
					for _, j := range idx {
						nrm += v[j] * v[j]
					}
					m[g] = math.Sqrt(nrm)
				}
			}
		} else {
			ops.value = func(v []float64) float64 {
				sum := zero
				for _, idx := range groups {
					n1 := zero
					for _, j := range idx {
						n1 += math.Abs(v[j])
					}
					sum += n1 * n1
				}
				return half * lam * sum
			}
			ops.prox = func(step float64, v, out []float64) {
				prox.ExclusiveShrink(out, v, groups, lam, step)
			}
		}

	case NuclearNorm:
		if q < 2 {
			return ops, nil, fmt.Errorf("%w: nuclear norm requires a multi-response objective", ErrUnsupported)
		}
		ops.value = func(v []float64) float64 { return lam * prox.NuclearNorm(v, d, q, w) }
		ops.prox = func(step float64, v, out []float64) {
			prox.SingularShrink(out, v, d, q, w, step*lam)
		}
		ops.mags = func(v, m []float64) {
			sv := singularValues(v, d, q)
			copy(m, sv)
		}

	case FusedLasso, GeneralizedLasso:
		dm := transform
		ops.value = func(v []float64) float64 {
			sum := zero
			for r := 0; r < rows; r++ {
				dv := zero
				for j := 0; j < d; j++ {
					dv += dm.At(r, j) * v[j]
				}
				dv = math.Abs(dv)
				if w != nil {
					dv *= w[r]
				}
				sum += dv
			}
			return lam * sum
		}
		// No direct prox: the splitting solver applies the base ℓ₁ prox to
		// the transformed variable instead.
		ops.mags = func(v, m []float64) {
			for r := 0; r < rows; r++ {
				dv := zero
				for j := 0; j < d; j++ {
					dv += dm.At(r, j) * v[j]
				}
				m[r] = math.Abs(dv)
			}
		}

	case SeparableSum, OverlappingSum:
		overlap := p.Kind == OverlappingSum
		if len(p.Children) == 0 || len(p.Children) != len(p.Groups) {
			return ops, nil, fmt.Errorf("%w: composite penalty needs one child per group", ErrBadConfig)
		}
		if err := checkGroups(p.Groups, dq, !overlap); err != nil {
			return ops, nil, err
		}
		vals := make([]func(v []float64) float64, len(p.Children))
		cops := make([]prox.Op, len(p.Children))
		for i, child := range p.Children {
			switch child.Kind {
			case SeparableSum, OverlappingSum, FusedLasso, GeneralizedLasso:
				return ops, nil, fmt.Errorf("%w: composite child kind %d", ErrUnsupported, child.Kind)
			case NoPenalty:
				return ops, nil, fmt.Errorf("%w: composite child must penalize", ErrBadConfig)
			}
			if child.Flavor == NonConvex {
				return ops, nil, fmt.Errorf("%w: non-convex composite children", ErrUnsupported)
			}
			scaled := child
			scaled.Lambda *= lam
			sub, _, err := scaled.resolve(len(p.Groups[i]), 1)
			if err != nil {
				return ops, nil, err
			}
			vals[i], cops[i] = sub.value, onIndices(p.Groups[i], sub.prox)
		}
		groups := p.Groups
		ops.value = func(v []float64) float64 {
			sum := zero
			for i, idx := range groups {
				sub := make([]float64, len(idx))
				for k, j := range idx {
					sub[k] = v[j]
				}
				sum += vals[i](sub)
			}
			return sum
		}
		if overlap {
			ops.prox = func(step float64, v, out []float64) {
				prox.Dykstra(step, v, out, cops, 1e-10, 200)
			}
		} else {
			ops.prox = func(step float64, v, out []float64) {
				copy(out, v)
				for _, op := range cops {
					op(step, out, out)
				}
			}
		}

	default:
		return ops, nil, fmt.Errorf("%w: unknown penalty kind %d", ErrBadConfig, p.Kind)
	}

	return ops, transform, nil
}

// onIndices lifts a subvector prox to the full coefficient vector, leaving
// coordinates outside idx untouched.
func onIndices(idx []int, op prox.Op) prox.Op {
	return func(step float64, v, out []float64) {
		sub := make([]float64, len(idx))
		for k, j := range idx {
			sub[k] = v[j]
		}
		op(step, sub, sub)
		if &out[0] != &v[0] {
			copy(out, v)
		}
		for k, j := range idx {
			out[j] = sub[k]
		}
	}
}

func checkGroups(groups [][]int, dim int, disjoint bool) error {
	if len(groups) == 0 {
		return fmt.Errorf("%w: at least one group is required", ErrBadConfig)
	}
	seen := make([]bool, dim)
	for _, idx := range groups {
		if len(idx) == 0 {
			return fmt.Errorf("%w: empty group", ErrBadConfig)
		}
		for _, j := range idx {
			if j < 0 || j >= dim {
				return fmt.Errorf("%w: group index %d out of range", ErrDimension, j)
			}
			if disjoint && seen[j] {
				return fmt.Errorf("%w: groups must be disjoint", ErrBadConfig)
			}
			seen[j] = true
		}
	}
	return nil
}

// chainDiff builds the (d-1)×d first-difference matrix of the fused lasso.
func chainDiff(d int) *mat.Dense {
	dm := mat.NewDense(d-1, d, nil)
	for r := 0; r < d-1; r++ {
		dm.Set(r, r, -one)
		dm.Set(r, r+1, one)
	}
	return dm
}

func singularValues(v []float64, d, q int) []float64 {
	var svd mat.SVD
	if ok := svd.Factorize(mat.NewDense(d, q, v), mat.SVDNone); !ok {
		panic("objective: SVD factorization failed")
	}
	return svd.Values(nil)
}

func wnorm1(v, w []float64) float64 {
	sum := zero
	for i, x := range v {
		a := math.Abs(x)
		if w != nil {
			a *= w[i]
		}
		sum += a
	}
	return sum
}

func sqNorm(v []float64) float64 {
	sum := zero
	for _, x := range v {
		sum += x * x
	}
	return sum
}
