package linalg

import (
	"fmt"
	"math"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/cmplxs"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrShape = errors.New("shape mismatch")
)

// Tensor4 is a dense row-major complex tensor with four axes.
type Tensor4 struct {
	Shape [4]int
	Data  []complex128
}

// NewTensor4 creates a tensor of the given shape.
// If data is nil, a zero tensor is allocated, otherwise data is used as the backing slice.
func NewTensor4(shape [4]int, data []complex128) *Tensor4 {
	n := shape[0] * shape[1] * shape[2] * shape[3]
	if n <= 0 {
		panic(fmt.Sprintf("%#v", shape))
	}
	if data == nil {
		data = make([]complex128, n)
	}
	if len(data) != n {
		panic(fmt.Sprintf("%#v %d", shape, len(data)))
	}
	return &Tensor4{Shape: shape, Data: data}
}

// FromDense converts a four axes tensor of github.com/fumin/tensor into a Tensor4.
func FromDense(t *tensor.Dense) (*Tensor4, error) {
	s := t.Shape()
	if len(s) != 4 {
		return nil, errors.Wrap(ErrShape, fmt.Sprintf("%#v", s))
	}
	shape := [4]int{s[0], s[1], s[2], s[3]}
	x := NewTensor4(shape, nil)
	for a := range shape[0] {
		for b := range shape[1] {
			for c := range shape[2] {
				for d := range shape[3] {
					x.Set(a, b, c, d, complex128(t.At(a, b, c, d)))
				}
			}
		}
	}
	return x, nil
}

func (t *Tensor4) index(a, b, c, d int) int {
	s := t.Shape
	return ((a*s[1]+b)*s[2]+c)*s[3] + d
}

func (t *Tensor4) At(a, b, c, d int) complex128 {
	return t.Data[t.index(a, b, c, d)]
}

func (t *Tensor4) Set(a, b, c, d int, v complex128) {
	t.Data[t.index(a, b, c, d)] = v
}

// Norm returns the Frobenius norm of t.
func (t *Tensor4) Norm() float64 {
	return cmplxs.Norm(t.Data, 2)
}

// Normalize scales t to unit norm in place.
func (t *Tensor4) Normalize() {
	n := t.Norm()
	if n == 0 || math.IsNaN(n) {
		panic(fmt.Sprintf("%f", n))
	}
	cmplxs.ScaleReal(1/n, t.Data)
}

// Matrix returns a copy of t reshaped to a rows by cols matrix.
func (t *Tensor4) Matrix(rows, cols int) *mat.CDense {
	if rows*cols != len(t.Data) {
		panic(fmt.Sprintf("%#v %d %d", t.Shape, rows, cols))
	}
	data := make([]complex128, len(t.Data))
	copy(data, t.Data)
	return mat.NewCDense(rows, cols, data)
}

// FromMatrix returns a copy of m reshaped to a tensor of the given shape.
func FromMatrix(m *mat.CDense, shape [4]int) *Tensor4 {
	t := NewTensor4(shape, nil)
	src := Data(m)
	if len(src) != len(t.Data) {
		panic(fmt.Sprintf("%#v %d", shape, len(src)))
	}
	copy(t.Data, src)
	return t
}
