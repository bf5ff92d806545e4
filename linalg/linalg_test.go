package linalg

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/fumin/tensor"
	"gonum.org/v1/gonum/mat"
)

func TestSVD(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a *mat.CDense
	}{
		{a: randMatrix(rand.New(rand.NewPCG(0, 1)), 4, 4)},
		{a: randMatrix(rand.New(rand.NewPCG(0, 2)), 6, 3)},
		{a: randMatrix(rand.New(rand.NewPCG(0, 3)), 2, 5)},
		{a: rankOne(3, 4)},
		{a: mat.NewCDense(3, 2, nil)},
	}
	for _, test := range tests {
		m, n := test.a.Dims()
		t.Run(fmt.Sprintf("%dx%d", m, n), func(t *testing.T) {
			t.Parallel()
			u, s, v := SVD(test.a)
			k := min(m, n)
			if len(s) != k {
				t.Fatalf("%d %d", len(s), k)
			}
			for i := 1; i < k; i++ {
				if s[i] > s[i-1] {
					t.Fatalf("%v", s)
				}
			}
			if e := UnitaryError(u); e > 1e-12 {
				t.Fatalf("%g", e)
			}
			if e := UnitaryError(v); e > 1e-12 {
				t.Fatalf("%g", e)
			}

			us := Clone(u)
			ScaleCols(us, s)
			if a := MH(us, v); !EqualApprox(a, test.a, 1e-12) {
				t.Fatalf("%v, expected %v", a, test.a)
			}
		})
	}
}

func TestSVDValues(t *testing.T) {
	t.Parallel()
	a := mat.NewCDense(2, 2, []complex128{
		3, 0,
		0, -4i,
	})
	_, s, _ := SVD(a)
	if math.Abs(s[0]-4) > 1e-14 || math.Abs(s[1]-3) > 1e-14 {
		t.Fatalf("%v", s)
	}
}

func TestQR(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a *mat.CDense
	}{
		{a: randMatrix(rand.New(rand.NewPCG(1, 1)), 4, 4)},
		{a: randMatrix(rand.New(rand.NewPCG(1, 2)), 7, 3)},
		{a: rankOne(4, 3)},
	}
	for _, test := range tests {
		m, n := test.a.Dims()
		t.Run(fmt.Sprintf("%dx%d", m, n), func(t *testing.T) {
			t.Parallel()
			q, r := QR(test.a)
			if e := UnitaryError(q); e > 1e-12 {
				t.Fatalf("%g", e)
			}
			for i := range n {
				d := r.At(i, i)
				if imag(d) != 0 || real(d) < 0 {
					t.Fatalf("%d %v", i, d)
				}
				for j := range i {
					if r.At(i, j) != 0 {
						t.Fatalf("%d %d %v", i, j, r.At(i, j))
					}
				}
			}
			if a := MM(q, r); !EqualApprox(a, test.a, 1e-12) {
				t.Fatalf("%v, expected %v", a, test.a)
			}
		})
	}
}

func TestSplitIterateQR(t *testing.T) {
	t.Parallel()
	a := randMatrix(rand.New(rand.NewPCG(2, 1)), 8, 6)
	_, sExact, _ := SVD(a)
	tests := []struct {
		k      int
		nIters int
		eps    float64
		tol    float64
	}{
		{k: 2, nIters: 200, eps: 0, tol: 1e-8},
		{k: 6, nIters: 1, eps: 0, tol: 1e-12},
		{k: 3, nIters: 500, eps: 1e-14, tol: 1e-6},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d %d", test.k, test.nIters), func(t *testing.T) {
			t.Parallel()
			u, s, v := SplitIterateQR(a, test.k, test.nIters, test.eps, nil)
			if len(s) != test.k {
				t.Fatalf("%d", len(s))
			}
			for i, si := range s {
				if math.Abs(si-sExact[i]) > test.tol {
					t.Fatalf("%d %f %f", i, si, sExact[i])
				}
			}
			if e := UnitaryError(u); e > 1e-12 {
				t.Fatalf("%g", e)
			}
			if e := UnitaryError(v); e > 1e-12 {
				t.Fatalf("%g", e)
			}
		})
	}
}

func TestSplitIterateQRWarmStart(t *testing.T) {
	t.Parallel()
	const k = 3
	tests := []struct {
		nIters int
		init   func(a *mat.CDense, rng *rand.Rand) *mat.CDense
	}{
		{nIters: 1, init: func(a *mat.CDense, rng *rand.Rand) *mat.CDense {
			_, _, v := SplitIterateQR(a, k, 1, 0, nil)
			return v
		}},
		{nIters: 2, init: func(a *mat.CDense, rng *rand.Rand) *mat.CDense {
			q, _ := QR(randMatrix(rng, 6, k))
			return q
		}},
		{nIters: 0, init: func(a *mat.CDense, rng *rand.Rand) *mat.CDense {
			q, _ := QR(randMatrix(rng, 6, k+1))
			return q
		}},
	}
	for i, test := range tests {
		for seed := range uint64(20) {
			t.Run(fmt.Sprintf("%d %d", i, seed), func(t *testing.T) {
				t.Parallel()
				rng := rand.New(rand.NewPCG(seed, 3))
				a := randMatrix(rng, 7, 6)
				init := test.init(a, rng)
				u, sWarm, v := SplitIterateQR(a, k, test.nIters, 0, init)
				_, sCold, _ := SplitIterateQR(a, k, test.nIters, 0, nil)
				if len(sWarm) != k {
					t.Fatalf("%d", len(sWarm))
				}
				// Every leading partial sum of squared singular values is at least the cold one.
				var cold, warm float64
				for j := range k {
					cold += sCold[j] * sCold[j]
					warm += sWarm[j] * sWarm[j]
					if warm < cold-1e-12 {
						t.Fatalf("%d %f %f", j, warm, cold)
					}
				}
				if e := UnitaryError(u); e > 1e-12 {
					t.Fatalf("%g", e)
				}
				if e := UnitaryError(v); e > 1e-12 {
					t.Fatalf("%g", e)
				}
			})
		}
	}
}

func TestSplitIterateQREarlyStop(t *testing.T) {
	t.Parallel()
	a := randMatrix(rand.New(rand.NewPCG(4, 1)), 8, 6)
	const k = 2
	// A huge eps stops right after the second iteration, which compares its estimate with the first.
	_, sEps, vEps := SplitIterateQR(a, k, 500, 1e6, nil)
	_, sTwo, vTwo := SplitIterateQR(a, k, 2, 0, nil)
	_, sLong, _ := SplitIterateQR(a, k, 500, 0, nil)
	if !slices.Equal(sEps, sTwo) {
		t.Fatalf("%v %v", sEps, sTwo)
	}
	if !mat.CEqual(vEps, vTwo) {
		t.Fatalf("%v %v", vEps, vTwo)
	}
	if slices.Equal(sEps, sLong) {
		t.Fatalf("%v %v", sEps, sLong)
	}
}

func TestTensor4Matrix(t *testing.T) {
	t.Parallel()
	x := NewTensor4([4]int{2, 3, 2, 1}, nil)
	for i := range x.Data {
		x.Data[i] = complex(float64(i), -float64(i))
	}
	m := x.Matrix(6, 2)
	if m.At(5, 1) != x.At(1, 2, 1, 0) {
		t.Fatalf("%v %v", m.At(5, 1), x.At(1, 2, 1, 0))
	}
	y := FromMatrix(m, x.Shape)
	for i, v := range y.Data {
		if v != x.Data[i] {
			t.Fatalf("%d %v %v", i, v, x.Data[i])
		}
	}
}

func TestFromDense(t *testing.T) {
	t.Parallel()
	d := tensor.Zeros(2, 3, 1, 2)
	var n float32
	for ijk := range d.All() {
		d.SetAt(ijk, complex(n, -n))
		n++
	}

	x, err := FromDense(d)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if x.Shape != [4]int{2, 3, 1, 2} {
		t.Fatalf("%#v", x.Shape)
	}
	for a := range 2 {
		for b := range 3 {
			for c := range 2 {
				if x.At(a, b, 0, c) != complex128(d.At(a, b, 0, c)) {
					t.Fatalf("%d %d %d %v %v", a, b, c, x.At(a, b, 0, c), d.At(a, b, 0, c))
				}
			}
		}
	}

	if _, err := FromDense(tensor.Zeros(2, 2)); err == nil {
		t.Fatalf("expected error")
	}
}

func randMatrix(rng *rand.Rand, m, n int) *mat.CDense {
	a := mat.NewCDense(m, n, nil)
	ad := Data(a)
	for i := range ad {
		ad[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	return a
}

func rankOne(m, n int) *mat.CDense {
	a := mat.NewCDense(m, n, nil)
	for i := range m {
		for j := range n {
			a.Set(i, j, complex(float64(i+1), 0)*complex(1, float64(j)))
		}
	}
	return a
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	m.Run()
}
