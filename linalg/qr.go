package linalg

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// QR computes the thin QR decomposition a = q @ r of an m by n matrix with m >= n.
// The diagonal of r is real and non-negative, which makes the decomposition unique for full rank a.
// Columns of q are orthogonalized with modified Gram-Schmidt followed by one reorthogonalization pass.
// If a is rank deficient, q is completed to orthonormal columns and the corresponding diagonal of r is zero.
func QR(a *mat.CDense) (q, r *mat.CDense) {
	m, n := a.Dims()
	if m < n {
		panic(fmt.Sprintf("%d %d", m, n))
	}

	q = Clone(a)
	qd := Data(q)
	r = mat.NewCDense(n, n, nil)
	rd := Data(r)
	done := make([]bool, n)
	for j := range n {
		var scale float64
		for i := range m {
			scale = max(scale, cmplx.Abs(qd[i*n+j]))
		}

		for range 2 {
			for k := range j {
				if !done[k] {
					continue
				}
				var c complex128
				for i := range m {
					c += cmplx.Conj(qd[i*n+k]) * qd[i*n+j]
				}
				for i := range m {
					qd[i*n+j] -= c * qd[i*n+k]
				}
				rd[k*n+j] += c
			}
		}

		var nrm float64
		for i := range m {
			x := qd[i*n+j]
			nrm += real(x)*real(x) + imag(x)*imag(x)
		}
		nrm = math.Sqrt(nrm)
		if nrm == 0 || nrm <= scale*float64(m)*epsilon {
			continue
		}
		for i := range m {
			qd[i*n+j] /= complex(nrm, 0)
		}
		rd[j*n+j] = complex(nrm, 0)
		done[j] = true
	}
	completeColumns(q, done)
	return q, r
}
