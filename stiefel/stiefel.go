// Package stiefel implements the geometry of the complex Stiefel manifold
// St(n, p) = {X in C^{n×p} : X^H X = 1}.
//
// For n = p the manifold is the unitary group, which is the case used by the disentangler.
//
// References:
//   - Optimization Algorithms on Matrix Manifolds, P.-A. Absil, R. Mahony and R. Sepulchre
//   - The geometry of algorithms with orthogonality constraints, Alan Edelman, Tomas Arias and Steven Smith
package stiefel

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/SnackerBit/disoTPS/linalg"
)

// Metric selects the Riemannian metric.
type Metric int

const (
	// Euclidean is the metric Re tr(xi^H eta) inherited from the embedding space.
	Euclidean Metric = iota
	// Canonical is the metric Re tr(xi^H (1 - U U^H / 2) eta), see Section 2.4 of Edelman, Arias and Smith.
	Canonical
)

// Retraction selects the map from tangent vectors back to the manifold.
type Retraction int

const (
	// QR retracts to the Q factor of U + t xi.
	QR Retraction = iota
	// Polar retracts to the unitary polar factor of U + t xi.
	Polar
)

// Manifold is the complex Stiefel manifold of n by p matrices.
// Points are additionally viewed as four axes tensors of a fixed shape, see Flatten and Unflatten.
type Manifold struct {
	n          int
	p          int
	shape      [4]int
	metric     Metric
	retraction Retraction
}

// New returns the manifold St(n, p) whose points reshape to tensors of the given shape.
func New(n, p int, shape [4]int) Manifold {
	if p > n || p <= 0 {
		panic(fmt.Sprintf("%d %d", n, p))
	}
	if shape[0]*shape[1]*shape[2]*shape[3] != n*p {
		panic(fmt.Sprintf("%d %d %#v", n, p, shape))
	}
	return Manifold{n: n, p: p, shape: shape, metric: Euclidean, retraction: QR}
}

// Metric sets the Riemannian metric.
func (m Manifold) Metric(metric Metric) Manifold {
	if metric == Canonical && m.n != m.p {
		panic(fmt.Sprintf("canonical metric requires a square manifold %d %d", m.n, m.p))
	}
	m.metric = metric
	return m
}

// Retraction sets the retraction.
func (m Manifold) Retraction(r Retraction) Manifold {
	m.retraction = r
	return m
}

// Dims returns n and p.
func (m Manifold) Dims() (n, p int) {
	return m.n, m.p
}

// Shape returns the tensor shape of points.
func (m Manifold) Shape() [4]int {
	return m.shape
}

// Dim returns the real dimension of the manifold.
func (m Manifold) Dim() int {
	return 2*m.n*m.p - m.p*m.p
}

// Inner returns the Riemannian inner product of the tangent vectors xi and eta at u.
func (m Manifold) Inner(u, xi, eta *mat.CDense) float64 {
	e := real(linalg.Dot(xi, eta))
	if m.metric == Canonical {
		e -= real(linalg.Dot(linalg.HM(u, xi), linalg.HM(u, eta))) / 2
	}
	return e
}

// Norm returns the norm of the tangent vector xi at u.
func (m Manifold) Norm(u, xi *mat.CDense) float64 {
	return math.Sqrt(m.Inner(u, xi, xi))
}

// Project orthogonally projects the ambient matrix z onto the tangent space at u,
// z - u herm(u^H z).
func (m Manifold) Project(u, z *mat.CDense) *mat.CDense {
	m.checkPoint(u)
	return linalg.Add(z, -1, linalg.MM(u, linalg.Herm(linalg.HM(u, z))))
}

// Retract maps the tangent vector t*xi at u back onto the manifold.
// At t = 0 a copy of u is returned.
func (m Manifold) Retract(u, xi *mat.CDense, t float64) *mat.CDense {
	m.checkPoint(u)
	if t == 0 {
		return linalg.Clone(u)
	}

	y := linalg.Add(u, complex(t, 0), xi)
	switch m.retraction {
	case Polar:
		w, _, v := linalg.SVD(y)
		return linalg.MH(w, v)
	default:
		q, _ := linalg.QR(y)
		return q
	}
}

// Transport moves the tangent vector xi at from to the tangent space at to, by projection.
func (m Manifold) Transport(from, to, xi *mat.CDense) *mat.CDense {
	return m.Project(to, xi)
}

// EuclideanToRiemannianGradient converts the Euclidean gradient egrad at u to the Riemannian gradient.
func (m Manifold) EuclideanToRiemannianGradient(u, egrad *mat.CDense) *mat.CDense {
	if m.metric == Canonical {
		return linalg.Add(egrad, -1, linalg.MM(u, linalg.HM(egrad, u)))
	}
	return m.Project(u, egrad)
}

// EuclideanToRiemannianHessian converts the Euclidean Hessian ehess applied to the tangent vector xi at u
// to the Riemannian Hessian applied to xi.
// egrad is the Euclidean gradient at u.
// See Section 5.5 of Absil, Mahony and Sepulchre for the Weingarten map term.
func (m Manifold) EuclideanToRiemannianHessian(u, egrad, ehess, xi *mat.CDense) *mat.CDense {
	h := linalg.Add(ehess, -1, linalg.MM(xi, linalg.Herm(linalg.HM(u, egrad))))
	h = m.Project(u, h)
	if m.metric == Canonical {
		// On the unitary group the canonical metric is half the Euclidean metric.
		h = linalg.Scale(2, h)
	}
	return h
}

// Flatten reshapes a tensor point to its n by p matrix view.
func (m Manifold) Flatten(t *linalg.Tensor4) *mat.CDense {
	if t.Shape != m.shape {
		panic(fmt.Sprintf("%#v %#v", t.Shape, m.shape))
	}
	return t.Matrix(m.n, m.p)
}

// Unflatten reshapes an n by p matrix to its tensor view.
func (m Manifold) Unflatten(u *mat.CDense) *linalg.Tensor4 {
	m.checkPoint(u)
	return linalg.FromMatrix(u, m.shape)
}

// Identity returns the point whose leading diagonal is one.
func (m Manifold) Identity() *mat.CDense {
	return linalg.Identity(m.n, m.p)
}

// Random returns a random point.
func (m Manifold) Random(rng *rand.Rand) *mat.CDense {
	q, _ := linalg.QR(gaussian(rng, m.n, m.p))
	return q
}

// RandomTangent returns a random unit tangent vector at u.
func (m Manifold) RandomTangent(u *mat.CDense, rng *rand.Rand) *mat.CDense {
	xi := m.Project(u, gaussian(rng, m.n, m.p))
	return linalg.Scale(complex(1/m.Norm(u, xi), 0), xi)
}

func (m Manifold) checkPoint(u *mat.CDense) {
	r, c := u.Dims()
	if r != m.n || c != m.p {
		panic(fmt.Sprintf("%d %d %d %d", r, c, m.n, m.p))
	}
}

func gaussian(rng *rand.Rand, r, c int) *mat.CDense {
	g := mat.NewCDense(r, c, nil)
	gd := linalg.Data(g)
	for i := range gd {
		gd[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	return g
}
