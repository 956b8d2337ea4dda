// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prox

import (
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Projections onto feasible sets. A projection is the proximal map of the
// set indicator, so these compose with the solvers exactly like penalties.

// ProjectPositive projects onto the non-negative orthant.
func ProjectPositive(out, v []float64) {
	for i, x := range v {
		out[i] = math.Max(x, zero)
	}
}

// ProjectSimplex projects onto the scaled simplex {𝐰 ≥ 0, ∑𝐰ᵢ = z}.
// The active set is found by sorting, following the classic O(d·log d) scheme.
func ProjectSimplex(out, v []float64, z float64) {
	u := slices.Clone(v)
	sort.Sort(sort.Reverse(sort.Float64Slice(u)))

	csum, theta := zero, zero
	for k, x := range u {
		c := csum + x
		t := (c - z) / float64(k+1)
		if x-t <= zero {
			break
		}
		csum, theta = c, t
	}
	for i, x := range v {
		out[i] = math.Max(x-theta, zero)
	}
}

// ProjectL1Ball projects onto the ℓ₁ ball of radius z by projecting the
// magnitudes onto the simplex and restoring signs.
func ProjectL1Ball(out, v []float64, z float64) {
	nrm := zero
	for _, x := range v {
		nrm += math.Abs(x)
	}
	if nrm <= z {
		copy(out, v)
		return
	}
	abs := make([]float64, len(v))
	neg := make([]bool, len(v))
	for i, x := range v {
		abs[i] = math.Abs(x)
		neg[i] = x < zero
	}
	ProjectSimplex(out, abs, z)
	for i := range out {
		if neg[i] {
			out[i] = -out[i]
		}
	}
}

// ProjectL2Ball projects onto the ℓ₂ ball of radius r by radial rescaling.
func ProjectL2Ball(out, v []float64, r float64) {
	scale := math.Max(norm2(v)/r, one)
	for i, x := range v {
		out[i] = x / scale
	}
}

// ProjectEquality projects onto the affine set {𝐀𝐰 = 𝐛} given the
// pseudo-inverse of 𝐀 (computed once at objective construction):
//
//	𝐰 = 𝐯 - 𝐀⁺(𝐀𝐯 - 𝐛)
func ProjectEquality(out, v []float64, a, pinv *mat.Dense, b []float64) {
	m, _ := a.Dims()
	res := mat.NewVecDense(m, nil)
	res.MulVec(a, mat.NewVecDense(len(v), slices.Clone(v)))
	for i := 0; i < m; i++ {
		res.SetVec(i, res.AtVec(i)-b[i])
	}
	corr := mat.NewVecDense(len(v), nil)
	corr.MulVec(pinv, res)
	for i, x := range v {
		out[i] = x - corr.AtVec(i)
	}
}

// Isotonic projects onto the monotone cone {𝐰₁ ≤ ··· ≤ 𝐰ₙ} (or the reversed
// ordering) using the pool-adjacent-violators algorithm.
func Isotonic(out, v []float64, increasing bool) {
	n := len(v)
	if n == 0 {
		return
	}

	val := make([]float64, 0, n)
	cnt := make([]int, 0, n)
	for i := 0; i < n; i++ {
		x := v[i]
		if !increasing {
			x = v[n-1-i]
		}
		val = append(val, x)
		cnt = append(cnt, 1)
		// Pool backwards while the last two blocks violate the ordering.
		for len(val) > 1 && val[len(val)-2] > val[len(val)-1] {
			a, b := len(val)-2, len(val)-1
			tot := float64(cnt[a] + cnt[b])
			val[a] = (val[a]*float64(cnt[a]) + val[b]*float64(cnt[b])) / tot
			cnt[a] += cnt[b]
			val, cnt = val[:b], cnt[:b]
		}
	}

	k := 0
	for b, m := range val {
		for j := 0; j < cnt[b]; j++ {
			if increasing {
				out[k] = m
			} else {
				out[n-1-k] = m
			}
			k++
		}
	}
}
