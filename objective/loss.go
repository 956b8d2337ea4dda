// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objective

import (
	"fmt"
	"math"
)

// LossKind enumerates the supported smooth convex losses.
type LossKind int

const (
	// LinReg least squares: 𝑳 = ½𝚗⁻¹‖𝐲 - 𝐮‖²
	LinReg LossKind = iota
	// LinRegMulti least squares over a multi-response matrix 𝐘 (n×q).
	LinRegMulti
	// LogReg binary logistic: 𝑳 = 𝚗⁻¹∑[𝚕𝚘𝚐(1+𝚎ᵘ) - 𝐲𝐮], 𝐲 ∈ {0,1}
	LogReg
	// HuberReg huber regression with knot 𝛅.
	HuberReg
	// QuantileReg smoothed quantile (pinball) regression at level 𝛕.
	// Only the logistic-smoothed form is accepted: the raw pinball loss is
	// not differentiable and breaks the smooth-loss contract of the solvers.
	QuantileReg
	// Poisson log-linear counts: 𝑳 = 𝚗⁻¹∑[𝚎ᵘ - 𝐲𝐮], 𝐲 ≥ 0
	Poisson
	// Multinomial softmax regression over a one-hot response matrix 𝐘 (n×q):
	// 𝑳 = 𝚗⁻¹∑ᵢ[𝚕𝚘𝚐∑𝚌 𝚎𝚡𝚙(𝐮ᵢ𝚌) - ∑𝚌 𝐘ᵢ𝚌𝐮ᵢ𝚌]
	Multinomial
)

// Loss specifies the loss term of a penalized GLM.
type Loss struct {
	Kind LossKind
	// Knot is the huber transition point 𝛅 > 0 (HuberReg only).
	Knot float64
	// Quantile is the pinball level 𝛕 ∈ (0,1) (QuantileReg only).
	Quantile float64
	// Smoothing is the logistic smoothing width of the pinball loss
	// (QuantileReg only); smaller tracks the exact quantile loss closer
	// at the price of a larger gradient Lipschitz constant.
	Smoothing float64
}

func (l Loss) check() error {
	switch l.Kind {
	case LinReg, LinRegMulti, LogReg, Poisson, Multinomial:
	case HuberReg:
		if l.Knot <= zero {
			return fmt.Errorf("%w: huber knot must be positive", ErrBadConfig)
		}
	case QuantileReg:
		if l.Quantile <= zero || l.Quantile >= one {
			return fmt.Errorf("%w: quantile level must lie in (0,1)", ErrBadConfig)
		}
		if l.Smoothing <= zero {
			return fmt.Errorf("%w: quantile smoothing must be positive", ErrBadConfig)
		}
	default:
		return fmt.Errorf("%w: unknown loss kind %d", ErrBadConfig, l.Kind)
	}
	return nil
}

// curvature returns an upper bound on the second derivative of the per-sample
// loss 𝑙(u,y) with respect to u, or 0 when no global bound exists (Poisson).
func (l Loss) curvature() float64 {
	switch l.Kind {
	case LinReg, LinRegMulti, HuberReg:
		return one
	case LogReg:
		return one / 4
	case QuantileReg:
		return one / (4 * l.Smoothing)
	case Multinomial:
		// Spectral bound on the softmax Hessian diag(p) - ppᵀ.
		return half
	}
	return zero
}

// value returns the per-sample loss 𝑙(u,y). The multinomial loss couples the
// q predictors of a sample and is evaluated at the objective level instead.
func (l Loss) value(u, y float64) float64 {
	switch l.Kind {
	case LinReg, LinRegMulti:
		r := u - y
		return half * r * r
	case LogReg:
		// log(1+eᵘ) - yu computed stably for large |u|
		return math.Max(u, zero) + math.Log1p(math.Exp(-math.Abs(u))) - y*u
	case HuberReg:
		r, d := u-y, l.Knot
		if a := math.Abs(r); a <= d {
			return half * r * r
		} else {
			return d*a - half*d*d
		}
	case QuantileReg:
		// Logistic-smoothed pinball: 𝛕r + h·log(1+exp(-r/h))
		r, h := u-y, l.Smoothing
		return l.Quantile*r + h*(math.Max(-r/h, zero)+math.Log1p(math.Exp(-math.Abs(r/h))))
	case Poisson:
		return math.Exp(u) - y*u
	}
	return zero
}

// deriv returns ∂𝑙/∂u.
func (l Loss) deriv(u, y float64) float64 {
	switch l.Kind {
	case LinReg, LinRegMulti:
		return u - y
	case LogReg:
		return sigmoid(u) - y
	case HuberReg:
		r, d := u-y, l.Knot
		return math.Max(-d, math.Min(d, r))
	case QuantileReg:
		r, h := u-y, l.Smoothing
		return l.Quantile - sigmoid(-r/h)
	case Poisson:
		return math.Exp(u) - y
	}
	return zero
}

func sigmoid(u float64) float64 {
	if u >= zero {
		return one / (one + math.Exp(-u))
	}
	e := math.Exp(u)
	return e / (one + e)
}

// LossValue evaluates the loss term at the parameter state xv.
func (o *Objective) LossValue(xv []float64) float64 {
	o.mustDim(xv)
	if o.loss.Kind == Multinomial {
		return o.softmaxLoss(xv, nil)
	}
	sum := zero
	for i := 0; i < o.n; i++ {
		for c := 0; c < o.q; c++ {
			u := o.linPredict(xv, i, c)
			sum += o.loss.value(u, o.response(i, c))
		}
	}
	return sum / float64(o.n)
}

// Grad writes the gradient of the loss term at xv into g.
// The layout matches the parameter state: d×q coefficients feature-major,
// followed by q intercept entries when the objective fits an intercept.
func (o *Objective) Grad(xv, g []float64) {
	o.mustDim(xv)
	o.mustDim(g)
	if o.loss.Kind == Multinomial {
		o.softmaxLoss(xv, g)
		return
	}
	clear(g)
	inv := one / float64(o.n)
	for i := 0; i < o.n; i++ {
		for c := 0; c < o.q; c++ {
			u := o.linPredict(xv, i, c)
			psi := o.loss.deriv(u, o.response(i, c)) * inv
			if psi == zero {
				continue
			}
			for j := 0; j < o.d; j++ {
				g[j*o.q+c] += psi * o.x.At(i, j)
			}
			if o.intercept {
				g[o.d*o.q+c] += psi
			}
		}
	}
}

// softmaxLoss evaluates the multinomial loss at xv and, when g is non-nil,
// writes its gradient. The log-sum-exp ties a sample's q predictors together,
// so the per-sample scalar dispatch of the other losses does not apply; the
// max-shifted form keeps large predictors from overflowing.
func (o *Objective) softmaxLoss(xv, g []float64) float64 {
	if g != nil {
		clear(g)
	}
	inv := one / float64(o.n)
	u := make([]float64, o.q)
	sum := zero
	for i := 0; i < o.n; i++ {
		m := math.Inf(-1)
		for c := 0; c < o.q; c++ {
			u[c] = o.linPredict(xv, i, c)
			m = math.Max(m, u[c])
		}
		den := zero
		for c := 0; c < o.q; c++ {
			den += math.Exp(u[c] - m)
		}
		sum += m + math.Log(den)
		for c := 0; c < o.q; c++ {
			y := o.ym.At(i, c)
			sum -= y * u[c]
			if g == nil {
				continue
			}
			psi := (math.Exp(u[c]-m)/den - y) * inv
			for j := 0; j < o.d; j++ {
				g[j*o.q+c] += psi * o.x.At(i, j)
			}
			if o.intercept {
				g[o.d*o.q+c] += psi
			}
		}
	}
	return sum * inv
}

// linPredict computes the linear predictor uᵢ𝚌 = ∑ⱼ Xᵢⱼ𝛃ⱼ𝚌 + b𝚌.
func (o *Objective) linPredict(xv []float64, i, c int) float64 {
	u := zero
	for j := 0; j < o.d; j++ {
		u += o.x.At(i, j) * xv[j*o.q+c]
	}
	if o.intercept {
		u += xv[o.d*o.q+c]
	}
	return u
}

func (o *Objective) response(i, c int) float64 {
	if o.q == 1 {
		return o.y[i]
	}
	return o.ym.At(i, c)
}
