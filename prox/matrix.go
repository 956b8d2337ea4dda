// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prox

import (
	"gonum.org/v1/gonum/mat"
)

// SingularShrink computes the proximal map of the nuclear norm 𝛉‖𝐁‖₊ for a
// coefficient matrix stored row-major in v with shape d×q: the singular values
// are soft-thresholded and the matrix reassembled.
//
// w optionally holds one weight per singular value (ordered to match the
// decreasing singular values); nil means unit weights.
func SingularShrink(out, v []float64, d, q int, w []float64, thr float64) {
	b := mat.NewDense(d, q, v)

	var svd mat.SVD
	if ok := svd.Factorize(b, mat.SVDThin); !ok {
		// SVD of a finite matrix cannot fail; a non-finite input is a
		// programming error upstream.
		panic("prox: SVD factorization failed")
	}

	var u, rsv mat.Dense
	svd.UTo(&u)
	svd.VTo(&rsv)
	s := svd.Values(nil)

	for i := range s {
		t := thr
		if w != nil {
			t *= w[i]
		}
		s[i] = softThreshold(s[i], t)
	}

	k := len(s)
	us := mat.NewDense(d, k, nil)
	for j := 0; j < k; j++ {
		for i := 0; i < d; i++ {
			us.Set(i, j, u.At(i, j)*s[j])
		}
	}

	res := mat.NewDense(d, q, out)
	res.Mul(us, rsv.T())
}

// NuclearNorm returns the (weighted) sum of singular values of the d×q matrix
// stored row-major in v.
func NuclearNorm(v []float64, d, q int, w []float64) float64 {
	b := mat.NewDense(d, q, v)
	var svd mat.SVD
	if ok := svd.Factorize(b, mat.SVDNone); !ok {
		panic("prox: SVD factorization failed")
	}
	s := svd.Values(nil)
	sum := zero
	for i, sv := range s {
		if w != nil {
			sv *= w[i]
		}
		sum += sv
	}
	return sum
}
