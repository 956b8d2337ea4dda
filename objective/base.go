// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package objective models a penalized GLM as a single minimization target
//
//	𝒇(𝛃) = 𝑳(𝛃 ; 𝐗,𝐲) + 𝒑(𝛃)  subject to 𝛃 ∈ 𝑪
//
// combining a smooth convex loss 𝑳, a possibly non-smooth penalty 𝒑 and an
// optional feasibility set 𝑪. The objective is immutable once constructed and
// safe to share across concurrent solves; every capability the solvers depend
// on (proximability, smoothness, convexity) is resolved exactly once at
// construction time, and unsupported combinations fail there rather than
// during a solve.
package objective

import (
	"errors"
)

const (
	zero = 0.0
	half = 0.5
	one  = 1.0
	two  = 2.0
)

// Configuration errors reported by Problem.New. Expected numerical outcomes
// (non-convergence, divergence) are never errors; they surface as solver
// diagnostics instead.
var (
	// ErrBadConfig marks an invalid hyperparameter or malformed spec.
	ErrBadConfig = errors.New("glmpen: invalid configuration")
	// ErrUnsupported marks a loss/penalty/constraint/flavor combination with
	// no registered solution path.
	ErrUnsupported = errors.New("glmpen: unsupported combination")
	// ErrDimension marks inconsistent data or parameter dimensions.
	ErrDimension = errors.New("glmpen: dimension mismatch")
)

// Caps describes the capabilities of a constructed objective, resolved once
// by Problem.New and queried by solver selection.
type Caps struct {
	// Proximable reports whether the penalty (jointly with the constraint,
	// if any) admits a directly computable proximal map. Non-proximable
	// objectives require the splitting solver.
	Proximable bool
	// Smooth reports whether the penalty term is differentiable.
	Smooth bool
	// Convex reports whether the whole objective is convex. Non-convex
	// flavors require the reweighting meta-solver.
	Convex bool
}
