// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package prox provides proximal operators for the penalty families supported
// by the optimization core.
//
// For a penalty 𝒑 and step 𝐬, the proximal operator maps a point 𝐯 to
//
//	𝚙𝚛𝚘𝚡(𝐯,𝐬) = 𝚊𝚛𝚐𝚖𝚒𝚗 𝐬·𝒑(𝐰) + ½‖𝐰 - 𝐯‖²
//
// Every operator writes its result into an out slice owned by the caller and
// never retains references to its inputs. All operators are pure functions and
// safe for concurrent use.
package prox

import (
	"math"
	"slices"
	"sort"
)

const (
	zero = 0.0
	one  = 1.0
)

// SoftThreshold applies the element-wise soft-thresholding operator
//
//	𝐰ᵢ = 𝚜𝚐𝚗(𝐯ᵢ)·𝚖𝚊𝚡(|𝐯ᵢ| - 𝛉, 0)
//
// which is the proximal map of 𝛉‖𝐯‖₁.
func SoftThreshold(out, v []float64, thr float64) {
	for i, x := range v {
		out[i] = softThreshold(x, thr)
	}
}

// SoftThresholdWeighted soft-thresholds each element with its own threshold 𝛉·𝐰ᵢ.
// A zero weight leaves the corresponding element untouched.
func SoftThresholdWeighted(out, v, w []float64, thr float64) {
	for i, x := range v {
		out[i] = softThreshold(x, thr*w[i])
	}
}

func softThreshold(x, thr float64) float64 {
	switch {
	case x > thr:
		return x - thr
	case x < -thr:
		return x + thr
	}
	return zero
}

// BlockShrink applies the group soft-thresholding operator to the whole slice:
//
//	𝐰 = 𝚖𝚊𝚡(1 - 𝛉/‖𝐯‖₂, 0)·𝐯
//
// which is the proximal map of 𝛉‖𝐯‖₂.
func BlockShrink(out, v []float64, thr float64) {
	nrm := norm2(v)
	if nrm <= thr {
		clear(out)
		return
	}
	scale := one - thr/nrm
	for i, x := range v {
		out[i] = scale * x
	}
}

// GroupShrink applies BlockShrink independently to each index group.
// The groups must form a partition of the coordinates: indices outside every
// group are copied through unshrunk (they are unpenalized).
// w holds one weight per group; nil means unit weights.
func GroupShrink(out, v []float64, groups [][]int, w []float64, thr float64) {
	copy(out, v)
	for g, idx := range groups {
		t := thr
		if w != nil {
			t *= w[g]
		}
		nrm := zero
		for _, j := range idx {
			nrm += v[j] * v[j]
		}
		nrm = math.Sqrt(nrm)
		if nrm <= t {
			for _, j := range idx {
				out[j] = zero
			}
			continue
		}
		scale := one - t/nrm
		for _, j := range idx {
			out[j] = scale * v[j]
		}
	}
}

// ExclusiveShrink computes the proximal map of the exclusive lasso penalty
//
//	𝒑(𝐰) = ½𝛌·∑𝓰 ‖𝐰𝓰‖₁²
//
// per group. Within a group the solution is a soft-threshold whose level
// depends on the ℓ₁ norm of the solution itself; it is found exactly by
// sorting the magnitudes and locating the active set, the same device used to
// project onto a simplex.
func ExclusiveShrink(out, v []float64, groups [][]int, lam, step float64) {
	copy(out, v)
	sl := step * lam
	if sl <= zero {
		return
	}
	for _, idx := range groups {
		mag := make([]float64, len(idx))
		for i, j := range idx {
			mag[i] = math.Abs(v[j])
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(mag)))

		// Largest k with |v|₍ₖ₎ > 𝛉ₖ where 𝛉ₖ = s𝛌·(∑ᵢ≤ₖ|v|ᵢ)/(1 + k·s𝛌)
		csum, thr := zero, zero
		for k, m := range mag {
			c := csum + m
			t := sl * c / (one + float64(k+1)*sl)
			if m <= t {
				break
			}
			csum, thr = c, t
		}
		for _, j := range idx {
			out[j] = softThreshold(v[j], thr)
		}
	}
}

// RidgeShrink computes the proximal map of ½𝛌‖𝐰‖₂², a uniform rescale.
func RidgeShrink(out, v []float64, lam, step float64) {
	scale := one / (one + step*lam)
	for i, x := range v {
		out[i] = scale * x
	}
}

// ElasticNetShrink computes the proximal map of the elastic net penalty
// 𝛌[𝛂‖𝐰‖₁ + ½(1-𝛂)‖𝐰‖₂²]: a soft-threshold followed by a ridge rescale.
func ElasticNetShrink(out, v []float64, lam, l1Ratio, step float64) {
	thr := step * lam * l1Ratio
	scale := one / (one + step*lam*(one-l1Ratio))
	for i, x := range v {
		out[i] = scale * softThreshold(x, thr)
	}
}

// Op is a proximal operator acting at a given step size.
type Op func(step float64, v, out []float64)

// SeparableSum dispatches one proximal operator per disjoint coordinate block.
// Block b of the input is sliced out by offsets[b]:offsets[b+1].
func SeparableSum(step float64, v, out []float64, offsets []int, ops []Op) {
	for b, op := range ops {
		lo, hi := offsets[b], offsets[b+1]
		op(step, v[lo:hi], out[lo:hi])
	}
}

// Dykstra approximates the proximal map of a sum ∑𝒑ᵢ whose terms have no joint
// closed form (e.g. overlapping group penalties) by cyclic Dykstra iterations:
//
//	𝐲 = 𝚙𝚛𝚘𝚡ᵢ(𝐱 + 𝐪ᵢ) ; 𝐪ᵢ += 𝐱 - 𝐲 ; 𝐱 = 𝐲
//
// sweeping over the operators until the sweep displacement falls below tol.
// Converges for convex terms. Returns the number of sweeps performed.
func Dykstra(step float64, v, out []float64, ops []Op, tol float64, maxSweep int) int {
	n := len(v)
	x := slices.Clone(v)
	y := make([]float64, n)
	t := make([]float64, n)
	q := make([]float64, n*len(ops))

	sweep := 0
	for ; sweep < maxSweep; sweep++ {
		delta := zero
		for i, op := range ops {
			qi := q[i*n : (i+1)*n]
			for j := range t {
				t[j] = x[j] + qi[j]
			}
			op(step, t, y)
			for j := range qi {
				qi[j] = t[j] - y[j]
				d := math.Abs(y[j] - x[j])
				if d > delta {
					delta = d
				}
			}
			copy(x, y)
		}
		if delta < tol {
			sweep++
			break
		}
	}
	copy(out, x)
	return sweep
}

func norm2(v []float64) float64 {
	s := zero
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}
