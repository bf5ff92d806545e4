package riemannian

import (
	"fmt"
	"log"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/SnackerBit/disoTPS/linalg"
)

const (
	tcgKappa = 0.1
	tcgTheta = 1.0
)

// TRMOptions are options for the trust region optimizer.
type TRMOptions struct {
	maxIterations int
	maxInner      int
	gradTol       float64
	deltaMax      float64
	deltaInit     float64
	minDelta      float64
	rhoPrime      float64
	printWarnings bool
}

// NewTRMOptions returns the default trust region options.
func NewTRMOptions() TRMOptions {
	opt := TRMOptions{}
	opt.maxIterations = 100
	opt.gradTol = 1e-8
	opt.deltaMax = math.Pi
	opt.minDelta = 1e-12
	opt.rhoPrime = 0.1
	return opt
}

// MaxIterations sets the maximum number of outer iterations.
func (opt TRMOptions) MaxIterations(i int) TRMOptions {
	opt.maxIterations = i
	return opt
}

// MaxInner sets the maximum number of truncated conjugate gradients iterations.
// Zero means the dimension of the manifold.
func (opt TRMOptions) MaxInner(i int) TRMOptions {
	opt.maxInner = i
	return opt
}

// GradTol sets the gradient norm below which the optimization stops.
func (opt TRMOptions) GradTol(tol float64) TRMOptions {
	opt.gradTol = tol
	return opt
}

// DeltaMax sets the maximum trust region radius.
func (opt TRMOptions) DeltaMax(d float64) TRMOptions {
	opt.deltaMax = d
	return opt
}

// DeltaInit sets the initial trust region radius.
// Zero means an eighth of the maximum radius.
func (opt TRMOptions) DeltaInit(d float64) TRMOptions {
	opt.deltaInit = d
	return opt
}

// MinDelta sets the trust region radius below which the optimization stops.
func (opt TRMOptions) MinDelta(d float64) TRMOptions {
	opt.minDelta = d
	return opt
}

// RhoPrime sets the acceptance threshold of the ratio of actual to predicted decrease.
func (opt TRMOptions) RhoPrime(r float64) TRMOptions {
	opt.rhoPrime = r
	return opt
}

// PrintWarnings logs negative curvature and rejected steps.
func (opt TRMOptions) PrintWarnings(p bool) TRMOptions {
	opt.printWarnings = p
	return opt
}

// TRM is the Riemannian trust region optimizer with a truncated conjugate gradients inner solver.
// See Algorithms 10 and 11 of Absil, Mahony and Sepulchre.
type TRM struct {
	manifold  Manifold
	construct ConstructIterate
	opt       TRMOptions
}

// NewTRM returns a trust region optimizer.
func NewTRM(manifold Manifold, construct ConstructIterate, options ...TRMOptions) *TRM {
	opt := NewTRMOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if opt.deltaInit <= 0 {
		opt.deltaInit = opt.deltaMax / 8
	}
	if opt.maxInner <= 0 {
		opt.maxInner = manifold.Dim()
	}
	return &TRM{manifold: manifold, construct: construct, opt: opt}
}

// Optimize minimizes the cost starting from x.
func (o *TRM) Optimize(x Iterate, logDebugInfo bool) (Result, error) {
	m := o.manifold
	res := Result{Iterate: x}
	if logDebugInfo {
		res.Info.Iterates = append(res.Info.Iterates, x.Point())
		res.Info.Costs = append(res.Info.Costs, x.Cost())
	}

	grad, err := x.Gradient()
	if err != nil {
		return Result{}, errors.Wrap(err, "")
	}
	delta := o.opt.deltaInit
	for range o.opt.maxIterations {
		if m.Norm(x.Point(), grad) <= o.opt.gradTol {
			break
		}

		sub, err := o.tcg(x, grad, delta)
		if err != nil {
			return Result{}, errors.Wrap(err, fmt.Sprintf("%d", res.Iterations))
		}
		y, err := o.construct(m.Retract(x.Point(), sub.eta, 1), x)
		if err != nil {
			return Result{}, errors.Wrap(err, fmt.Sprintf("%d", res.Iterations))
		}
		res.Iterations++

		modelDecrease := -m.Inner(x.Point(), grad, sub.eta) - m.Inner(x.Point(), sub.heta, sub.eta)/2
		rho := (x.Cost() - y.Cost()) / modelDecrease
		if logDebugInfo {
			res.Info.Deltas = append(res.Info.Deltas, delta)
			res.Info.TCGIterations = append(res.Info.TCGIterations, sub.iterations)
		}

		switch {
		case rho < 0.25 || math.IsNaN(rho):
			delta /= 4
		case rho > 0.75 && sub.boundary:
			delta = min(2*delta, o.opt.deltaMax)
		}

		if modelDecrease > 0 && rho > o.opt.rhoPrime {
			newGrad, err := y.Gradient()
			if err != nil {
				return Result{}, errors.Wrap(err, fmt.Sprintf("%d", res.Iterations))
			}
			x, grad = y, newGrad
			res.Iterate = x
		} else if o.opt.printWarnings {
			log.Printf("rejected step at iteration %d, rho %g, model decrease %g", res.Iterations, rho, modelDecrease)
		}
		if logDebugInfo {
			res.Info.Iterates = append(res.Info.Iterates, x.Point())
			res.Info.Costs = append(res.Info.Costs, x.Cost())
		}

		if delta < o.opt.minDelta {
			break
		}
	}
	return res, nil
}

type subproblem struct {
	eta        *mat.CDense
	heta       *mat.CDense
	iterations int
	boundary   bool
}

// tcg approximately minimizes the quadratic model
// m(eta) = f + <grad, eta> + <eta, H eta>/2 within the trust region |eta| <= delta,
// stopping at the boundary or on negative curvature.
func (o *TRM) tcg(x Iterate, grad *mat.CDense, delta float64) (subproblem, error) {
	m := o.manifold
	u := x.Point()
	n, p := u.Dims()
	sub := subproblem{eta: mat.NewCDense(n, p, nil), heta: mat.NewCDense(n, p, nil)}

	r := linalg.Clone(grad)
	rr := m.Inner(u, r, r)
	r0 := math.Sqrt(rr)
	if r0 == 0 {
		return sub, nil
	}
	d := linalg.Scale(-1, r)
	var ee, ed float64
	dd := rr
	delta2 := delta * delta
	for j := range o.opt.maxInner {
		sub.iterations = j + 1
		hd, err := x.HessianVectorProduct(d)
		if err != nil {
			return subproblem{}, errors.Wrap(err, "")
		}
		dhd := m.Inner(u, d, hd)
		alpha := rr / dhd
		eeNew := ee + 2*alpha*ed + alpha*alpha*dd

		if dhd <= 0 || eeNew >= delta2 {
			if dhd <= 0 && o.opt.printWarnings {
				log.Printf("negative curvature %g in truncated conjugate gradients", dhd)
			}
			tau := (-ed + math.Sqrt(ed*ed+dd*(delta2-ee))) / dd
			linalg.AddScaled(sub.eta, complex(tau, 0), d)
			linalg.AddScaled(sub.heta, complex(tau, 0), hd)
			sub.boundary = true
			return sub, nil
		}

		ee = eeNew
		linalg.AddScaled(sub.eta, complex(alpha, 0), d)
		linalg.AddScaled(sub.heta, complex(alpha, 0), hd)
		linalg.AddScaled(r, complex(alpha, 0), hd)
		r = m.Project(u, r)

		rrOld := rr
		rr = m.Inner(u, r, r)
		if math.Sqrt(rr) <= r0*min(math.Pow(r0, tcgTheta), tcgKappa) {
			return sub, nil
		}

		beta := rr / rrOld
		d = linalg.Add(linalg.Scale(-1, r), complex(beta, 0), d)
		ed = beta * (ed + alpha*dd)
		dd = rr + beta*beta*dd
	}
	return sub, nil
}
