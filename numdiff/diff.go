// Package numdiff estimates derivatives of real functions by finite
// differences. It backs the gradient checks of the objective layer.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
package numdiff

import (
	"errors"
	"math"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use the second order accuracy central difference.
	Central
)

// GradSpec estimates the gradient of a scalar function ℝⁿ → ℝ.
type GradSpec struct {
	N int
	// Function of which to estimate the gradient.
	// The argument x passed to this function is an n-vector.
	Object func(x []float64) float64
	// Finite difference method to use.
	Method Method
	// Relative step size used to compute absolute step size as
	// h = RelStep * sign(x0) * abs(x0). Selected automatically when zero.
	RelStep float64
	// Absolute step size to use. RelStep is used when AbsStep is zero.
	// For Central method the sign of AbsStep is ignored.
	AbsStep float64
	step    []float64
}

// Check the parameters and initialize the step buffer.
func (gs *GradSpec) Check(x0, grad []float64) (err error) {
	switch {
	case gs.N <= 0:
		err = errors.New("negative dimensions")
	case gs.Method != Forward && gs.Method != Central:
		err = errors.New("unknown method")
	case gs.Object == nil:
		err = errors.New("object function is required")
	case gs.N != len(x0):
		err = errors.New("invalid x0 dimensions")
	case gs.N != len(grad):
		err = errors.New("invalid grad dimensions")
	}
	if len(gs.step) != gs.N {
		gs.step = make([]float64, gs.N)
	}
	return
}

// Diff calculates an approximation of the gradient at x0 into grad.
// The entries of x0 are perturbed in place and restored.
func (gs *GradSpec) Diff(x0, grad []float64) error {
	if err := gs.Check(x0, grad); err != nil {
		return err
	}
	gs.absoluteStep(x0)
	if gs.Method == Central {
		gs.approxCentral(x0, grad)
	} else {
		gs.approxForward(x0, grad)
	}
	return nil
}

func (gs *GradSpec) absoluteStep(x0 []float64) {
	h := gs.step

	var eps float64
	switch gs.Method {
	case Forward:
		eps = sqrtEps
	case Central:
		eps = cubeEps
	default:
		panic("unknown method")
	}

	abs, rel := gs.AbsStep, gs.RelStep
	if abs == 0 && rel == 0 {
		for i, v := range x0 {
			h[i] = math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
		}
		return
	}
	for i, v := range x0 {
		s := abs
		if s == 0 {
			s = math.Copysign(rel, v) * math.Abs(v)
		}
		// Guard against steps lost to rounding.
		if d := (v + s) - v; d == 0 {
			s = math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
		}
		h[i] = s
	}
}

func (gs *GradSpec) approxForward(x0, grad []float64) {
	fun := gs.Object
	f0 := fun(x0)
	for i, s := range gs.step {
		t := x0[i]
		x0[i] = t + s
		grad[i] = (fun(x0) - f0) / s
		x0[i] = t
	}
}

func (gs *GradSpec) approxCentral(x0, grad []float64) {
	fun := gs.Object
	for i, s := range gs.step {
		s = math.Abs(s)
		t := x0[i]
		x0[i] = t - s
		f1 := fun(x0)
		x0[i] = t + s
		f2 := fun(x0)
		grad[i] = (f2 - f1) / (2 * s)
		x0[i] = t
	}
}
