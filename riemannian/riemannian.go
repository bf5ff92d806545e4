// Package riemannian implements optimization algorithms on Riemannian matrix manifolds.
//
// References:
//   - Optimization Algorithms on Matrix Manifolds, P.-A. Absil, R. Mahony and R. Sepulchre
//   - Trust-region methods on Riemannian manifolds, P.-A. Absil, C. G. Baker and K. A. Gallivan
package riemannian

import (
	"gonum.org/v1/gonum/mat"
)

// A Manifold is a Riemannian manifold whose points and tangent vectors are matrices.
// Implementations must not modify their arguments.
type Manifold interface {
	// Inner returns the inner product of the tangent vectors xi and eta at x.
	Inner(x, xi, eta *mat.CDense) float64
	// Norm returns the norm of the tangent vector xi at x.
	Norm(x, xi *mat.CDense) float64
	// Project projects the ambient matrix z onto the tangent space at x.
	Project(x, z *mat.CDense) *mat.CDense
	// Retract returns the point reached from x along the tangent vector t*xi.
	Retract(x, xi *mat.CDense, t float64) *mat.CDense
	// Transport moves the tangent vector xi at from to the tangent space at to.
	Transport(from, to, xi *mat.CDense) *mat.CDense
	// Dim returns the real dimension of the manifold.
	Dim() int
}

// An Iterate is a point on a manifold together with the cost function evaluated there.
// Iterates are never modified after construction.
type Iterate interface {
	// Point returns the point on the manifold.
	Point() *mat.CDense
	// Cost returns the cost at the point.
	Cost() float64
	// Gradient returns the Riemannian gradient at the point.
	Gradient() (*mat.CDense, error)
	// HessianVectorProduct returns the Riemannian Hessian at the point applied to the tangent vector xi.
	HessianVectorProduct(xi *mat.CDense) (*mat.CDense, error)
}

// ConstructIterate builds the iterate at the point x.
// old is the iterate the optimizer is moving away from, or nil for the initial iterate.
type ConstructIterate func(x *mat.CDense, old Iterate) (Iterate, error)

// Info holds the per iteration history of an optimization run.
type Info struct {
	// Iterates are the accepted points, starting with the initial point.
	Iterates []*mat.CDense
	// Costs are the costs after each iteration, starting with the initial cost.
	Costs []float64
	// StepSizes are the step lengths of the conjugate gradients line search.
	StepSizes []float64
	// Deltas are the trust region radii used in each trust region iteration.
	Deltas []float64
	// TCGIterations are the inner iterations of truncated conjugate gradients.
	TCGIterations []int
}

// Result is the outcome of an optimization run.
type Result struct {
	Iterate    Iterate
	Iterations int

	// RestartsNotDescent counts the conjugate gradients restarts due to a search direction that is not a descent direction.
	RestartsNotDescent int
	// RestartsPowell counts the conjugate gradients restarts due to Powell's criterion.
	RestartsPowell int

	Info Info
}
