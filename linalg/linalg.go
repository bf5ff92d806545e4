// Package linalg implements the complex matrix and tensor primitives used by the disentangler.
//
// All matrices are dense gonum CDense values with contiguous row-major storage.
// Functions never modify their arguments unless documented otherwise.
package linalg

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/cblas128"
	"gonum.org/v1/gonum/cmplxs"
	"gonum.org/v1/gonum/mat"
)

const (
	// Machine precision.
	epsilon = 0x1p-52
)

// Mul returns op(a) @ op(b), where op is determined by tA and tB.
func Mul(tA blas.Transpose, a *mat.CDense, tB blas.Transpose, b *mat.CDense) *mat.CDense {
	ar, ac := a.Dims()
	if tA != blas.NoTrans {
		ar, ac = ac, ar
	}
	br, bc := b.Dims()
	if tB != blas.NoTrans {
		br, bc = bc, br
	}
	if ac != br {
		panic(fmt.Sprintf("%d %d %d %d", ar, ac, br, bc))
	}

	c := mat.NewCDense(ar, bc, nil)
	cblas128.Gemm(tA, tB, 1, a.RawCMatrix(), b.RawCMatrix(), 0, c.RawCMatrix())
	return c
}

// MM returns a @ b.
func MM(a, b *mat.CDense) *mat.CDense {
	return Mul(blas.NoTrans, a, blas.NoTrans, b)
}

// HM returns a^H @ b.
func HM(a, b *mat.CDense) *mat.CDense {
	return Mul(blas.ConjTrans, a, blas.NoTrans, b)
}

// MH returns a @ b^H.
func MH(a, b *mat.CDense) *mat.CDense {
	return Mul(blas.NoTrans, a, blas.ConjTrans, b)
}

// Identity returns the n by p matrix whose leading diagonal is one.
func Identity(n, p int) *mat.CDense {
	m := mat.NewCDense(n, p, nil)
	for i := range min(n, p) {
		m.Set(i, i, 1)
	}
	return m
}

// Clone returns a copy of a.
func Clone(a *mat.CDense) *mat.CDense {
	r, c := a.Dims()
	b := mat.NewCDense(r, c, nil)
	copy(Data(b), Data(a))
	return b
}

// H returns an explicit conjugate transpose of a.
func H(a *mat.CDense) *mat.CDense {
	r, c := a.Dims()
	b := mat.NewCDense(c, r, nil)
	ad, bd := Data(a), Data(b)
	for i := range r {
		for j := range c {
			bd[j*r+i] = cmplx.Conj(ad[i*c+j])
		}
	}
	return b
}

// Herm returns (a + a^H) / 2.
func Herm(a *mat.CDense) *mat.CDense {
	r, c := a.Dims()
	if r != c {
		panic(fmt.Sprintf("%d %d", r, c))
	}
	b := mat.NewCDense(r, c, nil)
	ad, bd := Data(a), Data(b)
	for i := range r {
		for j := range c {
			bd[i*c+j] = (ad[i*c+j] + cmplx.Conj(ad[j*c+i])) / 2
		}
	}
	return b
}

// Add returns a + alpha*b.
func Add(a *mat.CDense, alpha complex128, b *mat.CDense) *mat.CDense {
	checkSameDims(a, b)
	c := Clone(a)
	cmplxs.AddScaled(Data(c), alpha, Data(b))
	return c
}

// AddScaled performs dst = dst + alpha*b in place.
func AddScaled(dst *mat.CDense, alpha complex128, b *mat.CDense) {
	checkSameDims(dst, b)
	cmplxs.AddScaled(Data(dst), alpha, Data(b))
}

// Scale returns alpha*a.
func Scale(alpha complex128, a *mat.CDense) *mat.CDense {
	b := Clone(a)
	cmplxs.Scale(alpha, Data(b))
	return b
}

// Dot returns the Frobenius inner product tr(a^H @ b).
func Dot(a, b *mat.CDense) complex128 {
	checkSameDims(a, b)
	return cmplxs.Dot(Data(a), Data(b))
}

// Norm returns the Frobenius norm of a.
func Norm(a *mat.CDense) float64 {
	return cmplxs.Norm(Data(a), 2)
}

// Cols returns a copy of the columns [from, to) of a.
func Cols(a *mat.CDense, from, to int) *mat.CDense {
	r, c := a.Dims()
	if from < 0 || to > c || from >= to {
		panic(fmt.Sprintf("%d %d %d", from, to, c))
	}
	b := mat.NewCDense(r, to-from, nil)
	ad, bd := Data(a), Data(b)
	for i := range r {
		copy(bd[i*(to-from):(i+1)*(to-from)], ad[i*c+from:i*c+to])
	}
	return b
}

// ScaleCols multiplies column j of a by f[j] in place.
func ScaleCols(a *mat.CDense, f []float64) {
	r, c := a.Dims()
	if len(f) != c {
		panic(fmt.Sprintf("%d %d", len(f), c))
	}
	ad := Data(a)
	for i := range r {
		for j, fj := range f {
			ad[i*c+j] *= complex(fj, 0)
		}
	}
}

// Data returns the backing slice of a, which must be stored contiguously.
func Data(a *mat.CDense) []complex128 {
	raw := a.RawCMatrix()
	if raw.Stride != raw.Cols {
		panic(fmt.Sprintf("non-contiguous %#v %#v", raw.Stride, raw.Cols))
	}
	return raw.Data[:raw.Rows*raw.Cols]
}

// EqualApprox reports whether a and b have the same shape and all their elements are within tol.
func EqualApprox(a, b *mat.CDense, tol float64) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return false
	}
	return cmplxs.EqualApprox(Data(a), Data(b), tol)
}

// UnitaryError returns the largest absolute element of a^H @ a - 1.
func UnitaryError(a *mat.CDense) float64 {
	_, p := a.Dims()
	aa := HM(a, a)
	var e float64
	for i := range p {
		for j := range p {
			v := aa.At(i, j)
			if i == j {
				v -= 1
			}
			e = max(e, cmplx.Abs(v))
		}
	}
	return e
}

func checkSameDims(a, b *mat.CDense) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		panic(fmt.Sprintf("%d %d %d %d", ar, ac, br, bc))
	}
}
