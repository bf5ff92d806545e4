package disentangle

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/SnackerBit/disoTPS/linalg"
	"github.com/SnackerBit/disoTPS/riemannian"
	"github.com/SnackerBit/disoTPS/stiefel"
)

// Method selects the iterate variant built by an IterateConfig.
type Method int

const (
	// MethodCG is the exact truncation error for conjugate gradients.
	MethodCG Method = iota
	// MethodTRM is the exact truncation error for the trust region method.
	MethodTRM
	// MethodApproxCG approximates the singular value decomposition by QR split iterations.
	MethodApproxCG
	// MethodApproxTRM approximates the singular value decomposition by QR split iterations
	// warm started from the previous iterate, and restricts the Hessian to ChiMax singular triples.
	MethodApproxTRM
)

func (m Method) String() string {
	switch m {
	case MethodCG:
		return "cg"
	case MethodTRM:
		return "trm"
	case MethodApproxCG:
		return "approx cg"
	case MethodApproxTRM:
		return "approx trm"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// IterateConfig describes how iterates of a disentangling run are built.
type IterateConfig struct {
	Method Method
	// Theta is the wavefunction of shape (l, D1, D2, r).
	Theta *linalg.Tensor4
	// Chi is the bond dimension of the truncation.
	Chi int
	// ChiMax is the number of singular triples kept by the approximate methods, raised to Chi if smaller.
	ChiMax int
	// NItersSVD is the number of QR split iterations of the approximate methods, nil for the exact decomposition.
	NItersSVD *int
	// EpsSVD stops the QR split iterations early once the singular values change by less than EpsSVD.
	EpsSVD float64
	// Manifold is the unitary group of (D1 D2) by (D1 D2) matrices.
	Manifold stiefel.Manifold
}

// NewIterateConfig returns the configuration of the given method for theta,
// with the manifold sized to the physical legs of theta.
func NewIterateConfig(method Method, theta *linalg.Tensor4, chi int) (IterateConfig, error) {
	if theta == nil {
		return IterateConfig{}, errors.Errorf("nil theta")
	}
	for _, d := range theta.Shape {
		if d <= 0 {
			return IterateConfig{}, errors.Wrap(linalg.ErrShape, fmt.Sprintf("%#v", theta.Shape))
		}
	}
	d1, d2 := theta.Shape[1], theta.Shape[2]
	cfg := IterateConfig{
		Method:   method,
		Theta:    theta,
		Chi:      chi,
		ChiMax:   chi,
		Manifold: stiefel.New(d1*d2, d1*d2, [4]int{d1, d2, d1, d2}),
	}
	return cfg, nil
}

func (c IterateConfig) validate() error {
	switch c.Method {
	case MethodCG, MethodTRM, MethodApproxCG, MethodApproxTRM:
	default:
		return errors.Wrap(ErrUnsupportedMethod, c.Method.String())
	}
	if c.Theta == nil {
		return errors.Errorf("nil theta")
	}
	if c.Chi < 1 {
		return errors.Errorf("chi %d", c.Chi)
	}
	if c.NItersSVD != nil && *c.NItersSVD < 0 {
		return errors.Errorf("N_iters_svd %d", *c.NItersSVD)
	}
	d1, d2 := c.Theta.Shape[1], c.Theta.Shape[2]
	if n, p := c.Manifold.Dims(); n != d1*d2 || p != d1*d2 {
		return errors.Wrap(linalg.ErrShape, fmt.Sprintf("manifold %d %d, theta %#v", n, p, c.Theta.Shape))
	}
	return nil
}

// Factory returns the function that builds the iterate at a point.
// The previous iterate passed to it warm starts MethodApproxTRM and is ignored by the other methods.
func (c IterateConfig) Factory() (riemannian.ConstructIterate, error) {
	if err := c.validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	p := newBipartition(c.Theta)
	chiMax := max(c.ChiMax, c.Chi)

	construct := func(u *mat.CDense, old riemannian.Iterate) (riemannian.Iterate, error) {
		var sp svdParams
		switch c.Method {
		case MethodApproxCG:
			sp = svdParams{approx: true, rank: chiMax, nIters: c.NItersSVD, eps: c.EpsSVD}
		case MethodApproxTRM:
			sp = svdParams{approx: true, rank: chiMax, nIters: c.NItersSVD, eps: c.EpsSVD}
			if o, ok := old.(*truncIterate); ok {
				sp.init = o.vk
			}
		}
		it, err := newTruncIterate(c.Manifold, p, u, c.Chi, sp)
		if err != nil {
			return nil, errors.Wrap(err, c.Method.String())
		}
		return it, nil
	}
	return construct, nil
}
