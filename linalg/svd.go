package linalg

import (
	"cmp"
	"math"
	"math/cmplx"
	"slices"

	"gonum.org/v1/gonum/mat"
)

const (
	maxJacobiSweeps = 64
)

// SVD computes the thin singular value decomposition a = u @ diag(s) @ v^H.
// For a of shape m by n, u is m by k, v is n by k, with k = min(m, n).
// The singular values s are sorted in descending order.
// Left singular vectors belonging to vanishing singular values are completed to an orthonormal set.
//
// The decomposition uses one-sided Jacobi rotations, see
// Jacobi's method is more accurate than QR, James Demmel and Kresimir Veselic.
func SVD(a *mat.CDense) (u *mat.CDense, s []float64, v *mat.CDense) {
	m, n := a.Dims()
	if m < n {
		vh, sh, uh := SVD(H(a))
		return uh, sh, vh
	}

	w := Clone(a)
	wd := Data(w)
	v = Identity(n, n)
	vd := Data(v)
	tol := float64(m) * epsilon
	for range maxJacobiSweeps {
		rotated := false
		for p := 0; p < n-1; p++ {
			for q := p + 1; q < n; q++ {
				var alpha, beta float64
				var gamma complex128
				for i := range m {
					wp, wq := wd[i*n+p], wd[i*n+q]
					alpha += real(wp)*real(wp) + imag(wp)*imag(wp)
					beta += real(wq)*real(wq) + imag(wq)*imag(wq)
					gamma += cmplx.Conj(wp) * wq
				}
				g := cmplx.Abs(gamma)
				if g == 0 || g <= tol*math.Sqrt(alpha*beta) {
					continue
				}
				rotated = true

				zeta := (beta - alpha) / (2 * g)
				t := 1 / (math.Abs(zeta) + math.Sqrt(1+zeta*zeta))
				if zeta < 0 {
					t = -t
				}
				c := 1 / math.Sqrt(1+t*t)
				sn := c * t
				phase := cmplx.Conj(gamma) / complex(g, 0)
				rotate(wd, m, n, p, q, c, sn, phase)
				rotate(vd, n, n, p, q, c, sn, phase)
			}
		}
		if !rotated {
			break
		}
	}

	// Singular values are the column norms of w.
	norms := make([]float64, n)
	for j := range n {
		var nrm float64
		for i := range m {
			x := wd[i*n+j]
			nrm += real(x)*real(x) + imag(x)*imag(x)
		}
		norms[j] = math.Sqrt(nrm)
	}
	order := make([]int, n)
	for j := range order {
		order[j] = j
	}
	slices.SortStableFunc(order, func(x, y int) int { return cmp.Compare(norms[y], norms[x]) })

	u = mat.NewCDense(m, n, nil)
	ud := Data(u)
	vs := mat.NewCDense(n, n, nil)
	vsd := Data(vs)
	s = make([]float64, n)
	done := make([]bool, n)
	smax := norms[order[0]]
	for k, j := range order {
		s[k] = norms[j]
		for i := range n {
			vsd[i*n+k] = vd[i*n+j]
		}
		if s[k] == 0 || s[k] <= smax*tol {
			continue
		}
		for i := range m {
			ud[i*n+k] = wd[i*n+j] / complex(s[k], 0)
		}
		done[k] = true
	}
	completeColumns(u, done)
	return u, s, vs
}

// rotate applies the complex Jacobi rotation
//
//	x_p <- c x_p - s phase x_q
//	x_q <- s x_p + c phase x_q
//
// to the columns p and q of the rows by cols matrix x.
func rotate(x []complex128, rows, cols, p, q int, c, s float64, phase complex128) {
	cc, ss := complex(c, 0), complex(s, 0)
	for i := range rows {
		xp, xq := x[i*cols+p], x[i*cols+q]
		x[i*cols+p] = cc*xp - ss*phase*xq
		x[i*cols+q] = ss*xp + cc*phase*xq
	}
}

// completeColumns replaces the columns of u that are not done by unit vectors orthogonal to all other columns.
func completeColumns(u *mat.CDense, done []bool) {
	m, n := u.Dims()
	ud := Data(u)
	cand := make([]complex128, m)
	best := make([]complex128, m)
	for j := range n {
		if done[j] {
			continue
		}

		// Among the standard basis vectors, pick the one with the largest component outside of the done columns.
		var bestNorm float64 = -1
		for e := range m {
			clear(cand)
			cand[e] = 1
			for range 2 {
				for k := range n {
					if !done[k] {
						continue
					}
					var c complex128
					for i := range m {
						c += cmplx.Conj(ud[i*n+k]) * cand[i]
					}
					for i := range m {
						cand[i] -= c * ud[i*n+k]
					}
				}
			}
			var nrm float64
			for _, x := range cand {
				nrm += real(x)*real(x) + imag(x)*imag(x)
			}
			if nrm > bestNorm {
				bestNorm = nrm
				copy(best, cand)
			}
		}

		nrm := complex(math.Sqrt(bestNorm), 0)
		for i := range m {
			ud[i*n+j] = best[i] / nrm
		}
		done[j] = true
	}
}
