package disentangle

import (
	"fmt"
	"math/cmplx"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/SnackerBit/disoTPS/linalg"
	"github.com/SnackerBit/disoTPS/stiefel"
)

const (
	// degenerateGap is the relative gap s_{chi-1}^2 - s_chi^2 below which the truncation cut is degenerate.
	degenerateGap = 1e-12
	// negligible is the relative size below which a singular value is treated as zero.
	negligible = 1e-10
)

var (
	// ErrDegenerate is returned when a kept and a discarded singular value coincide at the truncation cut.
	// The gradient and the Hessian are not defined there.
	ErrDegenerate = errors.New("degenerate singular values at truncation")
)

// bipartition holds the wavefunction theta of shape (l, D1, D2, r) as the (D1 D2) by (l r) matrix T,
// so that U @ T is the transformed wavefunction Utheta.
type bipartition struct {
	shape [4]int
	t     *mat.CDense
}

func newBipartition(theta *linalg.Tensor4) *bipartition {
	l, d1, d2, r := theta.Shape[0], theta.Shape[1], theta.Shape[2], theta.Shape[3]
	t := mat.NewCDense(d1*d2, l*r, nil)
	td := linalg.Data(t)
	for a := range l {
		for i := range d1 {
			for j := range d2 {
				for b := range r {
					td[(i*d2+j)*l*r+a*r+b] = theta.At(a, i, j, b)
				}
			}
		}
	}
	return &bipartition{shape: theta.Shape, t: t}
}

// split reshapes y, indexed by ((i, j), (l, r)), to the matrix indexed by ((l, i), (j, r)).
func (p *bipartition) split(y *mat.CDense) *mat.CDense {
	l, d1, d2, r := p.shape[0], p.shape[1], p.shape[2], p.shape[3]
	x := mat.NewCDense(l*d1, d2*r, nil)
	yd, xd := linalg.Data(y), linalg.Data(x)
	for a := range l {
		for i := range d1 {
			for j := range d2 {
				for b := range r {
					xd[(a*d1+i)*d2*r+j*r+b] = yd[(i*d2+j)*l*r+a*r+b]
				}
			}
		}
	}
	return x
}

// merge is the inverse of split.
func (p *bipartition) merge(x *mat.CDense) *mat.CDense {
	l, d1, d2, r := p.shape[0], p.shape[1], p.shape[2], p.shape[3]
	y := mat.NewCDense(d1*d2, l*r, nil)
	yd, xd := linalg.Data(y), linalg.Data(x)
	for a := range l {
		for i := range d1 {
			for j := range d2 {
				for b := range r {
					yd[(i*d2+j)*l*r+a*r+b] = xd[(a*d1+i)*d2*r+j*r+b]
				}
			}
		}
	}
	return y
}

// svdParams selects how the singular value decomposition of an iterate is computed.
type svdParams struct {
	// approx restricts the Hessian to the leading rank triples.
	approx bool
	rank   int
	// nIters is the number of QR split iterations, nil for the exact decomposition.
	nIters *int
	eps    float64
	// init warm starts the QR split iterations.
	init *mat.CDense
}

// truncIterate is the truncation error of U @ theta at bond dimension chi.
type truncIterate struct {
	manifold stiefel.Manifold
	p        *bipartition
	point    *mat.CDense
	chi      int

	x *mat.CDense
	// uk, s and vk are the singular triples of x used by the gradient and the Hessian.
	uk         *mat.CDense
	s          []float64
	vk         *mat.CDense
	cost       float64
	degenerate error

	gradOnce sync.Once
	egrad    *mat.CDense
	grad     *mat.CDense
}

func newTruncIterate(manifold stiefel.Manifold, p *bipartition, u *mat.CDense, chi int, sp svdParams) (*truncIterate, error) {
	n, _ := manifold.Dims()
	if r, c := u.Dims(); r != n || c != n {
		return nil, errors.Wrap(linalg.ErrShape, fmt.Sprintf("%d %d %d", r, c, n))
	}

	it := &truncIterate{manifold: manifold, p: p, point: u, chi: chi}
	it.x = p.split(linalg.MM(u, p.t))
	norm2 := linalg.Norm(it.x)
	norm2 *= norm2

	switch {
	case sp.nIters == nil:
		uk, s, vk := linalg.SVD(it.x)
		if chi < len(s) {
			it.cost = floats.Dot(s[chi:], s[chi:])
		}
		it.degenerate = checkDegenerate(s, chi)
		k := len(s)
		if sp.approx {
			k = min(sp.rank, k)
		}
		it.uk, it.s, it.vk = linalg.Cols(uk, 0, k), s[:k], linalg.Cols(vk, 0, k)
	default:
		it.uk, it.s, it.vk = linalg.SplitIterateQR(it.x, sp.rank, *sp.nIters, sp.eps, sp.init)
		c := min(chi, len(it.s))
		it.cost = max(0, norm2-floats.Dot(it.s[:c], it.s[:c]))
		it.degenerate = checkDegenerate(it.s, chi)
	}
	return it, nil
}

// checkDegenerate checks the gap between the kept and the discarded singular values s at the cut chi.
// s must hold at least the first dropped value for the check to apply.
func checkDegenerate(s []float64, chi int) error {
	k := len(s)
	c := min(chi, k)
	if c >= k {
		return nil
	}
	s0 := s[0]
	kept, dropped := s[c-1], s[c]
	if kept <= negligible*s0 {
		return nil
	}
	if kept*kept-dropped*dropped > degenerateGap*s0*s0 {
		return nil
	}
	return errors.Wrap(ErrDegenerate, fmt.Sprintf("chi %d, %g %g", chi, kept, dropped))
}

// Point returns the disentangling unitary as a matrix.
func (it *truncIterate) Point() *mat.CDense { return it.point }

// Cost returns the truncation error, the squared norm discarded when keeping chi singular values.
func (it *truncIterate) Cost() float64 { return it.cost }

// Gradient returns the Riemannian gradient of the truncation error.
func (it *truncIterate) Gradient() (*mat.CDense, error) {
	if it.degenerate != nil {
		return nil, it.degenerate
	}
	it.gradOnce.Do(func() {
		it.egrad = it.euclideanGradient()
		it.grad = it.manifold.EuclideanToRiemannianGradient(it.point, it.egrad)
	})
	return it.grad, nil
}

// euclideanGradient returns -2 P X T^H reshaped back to the shape of U,
// where P projects onto the leading chi left singular vectors.
func (it *truncIterate) euclideanGradient() *mat.CDense {
	c := min(it.chi, len(it.s))
	us := linalg.Cols(it.uk, 0, c)
	linalg.ScaleCols(us, it.s[:c])
	px := linalg.MH(us, linalg.Cols(it.vk, 0, c))
	return linalg.Scale(-2, linalg.MH(it.p.merge(px), it.p.t))
}

// HessianVectorProduct returns the Riemannian Hessian of the truncation error applied to xi.
// The derivative of the projector P is obtained from first order perturbation theory of the singular vectors,
// using the cached singular triples only.
// When the cached triples do not exhaust the spectrum, the result is the Hessian of the rank restricted problem,
// which is symmetric but not exact.
func (it *truncIterate) HessianVectorProduct(xi *mat.CDense) (*mat.CDense, error) {
	if _, err := it.Gradient(); err != nil {
		return nil, err
	}

	dx := it.p.split(linalg.MM(xi, it.p.t))
	k := len(it.s)
	c := min(it.chi, k)
	tiny := negligible * it.s[0]
	a := linalg.HM(it.uk, linalg.MM(dx, it.vk))

	// Mixing of kept and dropped left singular vectors.
	f := mat.NewCDense(k, k, nil)
	for kk := range c {
		sk := it.s[kk]
		if sk <= tiny {
			continue
		}
		for m := c; m < k; m++ {
			sm := it.s[m]
			den := sk*sk - sm*sm
			if den <= 0 {
				continue
			}
			v := (complex(sk, 0)*a.At(m, kk) + complex(sm, 0)*cmplx.Conj(a.At(kk, m))) / complex(den, 0)
			f.Set(m, kk, v)
			f.Set(kk, m, cmplx.Conj(v))
		}
	}
	dp := linalg.MH(linalg.MM(it.uk, f), it.uk)

	// Rotation of the kept vectors out of the span of the cached ones.
	uc, vc := linalg.Cols(it.uk, 0, c), linalg.Cols(it.vk, 0, c)
	w := linalg.Add(linalg.MM(dx, vc), -1, linalg.MM(it.uk, linalg.Cols(a, 0, c)))
	inv := make([]float64, c)
	for kk := range c {
		if it.s[kk] > tiny {
			inv[kk] = 1 / it.s[kk]
		}
	}
	linalg.ScaleCols(w, inv)
	linalg.AddScaled(dp, 1, linalg.MH(w, uc))
	linalg.AddScaled(dp, 1, linalg.MH(uc, w))

	// d(P X) = dP X + P dX, with X restricted to the cached triples so that weight outside them is treated as zero.
	xk := linalg.Clone(it.uk)
	linalg.ScaleCols(xk, it.s)
	dpx := linalg.MM(dp, linalg.MH(xk, it.vk))
	linalg.AddScaled(dpx, 1, linalg.MM(uc, linalg.HM(uc, dx)))
	ehess := linalg.Scale(-2, linalg.MH(it.p.merge(dpx), it.p.t))
	return it.manifold.EuclideanToRiemannianHessian(it.point, it.egrad, ehess, xi), nil
}
