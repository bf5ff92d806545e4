package linalg

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// SplitIterateQR approximates the k largest singular triples of a, a ≈ u @ diag(s) @ v^H.
//
// Starting from a fixed pseudo-random subspace, the method alternates the QR decompositions of a @ v and a^H @ q
// for at most nIters iterations.
// Iteration stops early once no singular value estimate, read off the diagonal of the second QR factor,
// changes by more than eps.
// The returned triples are the exact singular triples of q^H @ a, where q spans the final left subspace.
//
// If init is a right subspace of matching shape, the iterations are additionally run from init,
// and the triples are extracted from the combined left subspaces of both runs.
// For every j <= k the sum of the j largest squared singular values is then at least that of the cold start.
// The effective rank is min(k, m, n).
func SplitIterateQR(a *mat.CDense, k, nIters int, eps float64, init *mat.CDense) (u *mat.CDense, s []float64, v *mat.CDense) {
	m, n := a.Dims()
	k = min(k, m, n)

	cold, _ := QR(HM(a, startBlock(m, k)))
	q := splitIterate(a, cold, nIters, eps)
	if init != nil && initOK(init, n, k) {
		warm, _ := QR(Cols(init, 0, k))
		qw := splitIterate(a, warm, nIters, eps)
		q = span(mat.NewCDense(m, 2*k, nil), q, qw)
	}

	b := HM(q, a)
	ub, s, v := SVD(b)
	return MM(q, Cols(ub, 0, k)), s[:k], Cols(v, 0, k)
}

// splitIterate runs the alternating QR iterations from the right subspace vk and returns the final left subspace.
func splitIterate(a, vk *mat.CDense, nIters int, eps float64) *mat.CDense {
	_, k := vk.Dims()
	var prev []float64
	for range nIters {
		q, _ := QR(MM(a, vk))
		var r *mat.CDense
		vk, r = QR(HM(a, q))

		est := make([]float64, k)
		for j := range k {
			est[j] = real(r.At(j, j))
		}
		if prev != nil && maxAbsDiff(est, prev) < eps {
			break
		}
		prev = est
	}
	q, _ := QR(MM(a, vk))
	return q
}

// span returns an orthonormal basis of the joint column span of the orthonormal x and y, stored side by side in buf.
func span(buf, x, y *mat.CDense) *mat.CDense {
	m, kx := x.Dims()
	_, ky := y.Dims()
	bd, xd, yd := Data(buf), Data(x), Data(y)
	for i := range m {
		copy(bd[i*(kx+ky):], xd[i*kx:(i+1)*kx])
		copy(bd[i*(kx+ky)+kx:], yd[i*ky:(i+1)*ky])
	}

	w, s, _ := SVD(buf)
	r := 0
	for _, si := range s {
		if si > float64(kx+ky)*epsilon*s[0] {
			r++
		}
	}
	return Cols(w, 0, r)
}

func initOK(init *mat.CDense, n, k int) bool {
	r, c := init.Dims()
	return r == n && c >= k
}

// startBlock returns a deterministic pseudo-random m by k matrix.
func startBlock(m, k int) *mat.CDense {
	rng := rand.New(rand.NewPCG(1, 2))
	g := mat.NewCDense(m, k, nil)
	gd := Data(g)
	for i := range gd {
		gd[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	return g
}

func maxAbsDiff(x, y []float64) float64 {
	var d float64
	for i, xi := range x {
		d = max(d, math.Abs(xi-y[i]))
	}
	return d
}
