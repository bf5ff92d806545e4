package riemannian

import (
	"fmt"
	"log"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/SnackerBit/disoTPS/linalg"
)

// Beta selects the conjugate gradients update parameter.
type Beta int

const (
	// PolakRibiere is the Polak-Ribiere parameter clamped at zero.
	PolakRibiere Beta = iota
	// FletcherReeves is the Fletcher-Reeves parameter.
	FletcherReeves
	// HestenesStiefel is the Hestenes-Stiefel parameter clamped at zero.
	HestenesStiefel
)

const (
	armijoC1          = 1e-4
	armijoContraction = 0.5
	powellThreshold   = 0.2
)

// CGOptions are options for the conjugate gradients optimizer.
type CGOptions struct {
	maxIterations int
	gradTol       float64
	costTol       float64
	minStepSize   float64
	initialStep   float64
	maxLineSearch int
	beta          Beta
	printWarnings bool
}

// NewCGOptions returns the default conjugate gradients options.
func NewCGOptions() CGOptions {
	opt := CGOptions{}
	opt.maxIterations = 1000
	opt.gradTol = 1e-8
	opt.costTol = 1e-12
	opt.minStepSize = 1e-12
	opt.initialStep = 1
	opt.maxLineSearch = 25
	opt.beta = PolakRibiere
	return opt
}

// MaxIterations sets the maximum number of iterations.
func (opt CGOptions) MaxIterations(i int) CGOptions {
	opt.maxIterations = i
	return opt
}

// GradTol sets the gradient norm below which the optimization stops.
func (opt CGOptions) GradTol(tol float64) CGOptions {
	opt.gradTol = tol
	return opt
}

// CostTol sets the relative cost decrease below which the optimization stops.
func (opt CGOptions) CostTol(tol float64) CGOptions {
	opt.costTol = tol
	return opt
}

// MinStepSize sets the step length below which the optimization stops.
func (opt CGOptions) MinStepSize(s float64) CGOptions {
	opt.minStepSize = s
	return opt
}

// InitialStep sets the first trial step of the line search.
func (opt CGOptions) InitialStep(s float64) CGOptions {
	opt.initialStep = s
	return opt
}

// MaxLineSearch sets the maximum number of backtracking steps per line search.
func (opt CGOptions) MaxLineSearch(n int) CGOptions {
	opt.maxLineSearch = n
	return opt
}

// Beta sets the update parameter.
func (opt CGOptions) Beta(b Beta) CGOptions {
	opt.beta = b
	return opt
}

// PrintWarnings logs failed line searches.
func (opt CGOptions) PrintWarnings(p bool) CGOptions {
	opt.printWarnings = p
	return opt
}

// CG is the Riemannian nonlinear conjugate gradients optimizer with an Armijo backtracking line search.
// See Section 8.3 of Absil, Mahony and Sepulchre.
type CG struct {
	manifold  Manifold
	construct ConstructIterate
	opt       CGOptions
}

// NewCG returns a conjugate gradients optimizer.
func NewCG(manifold Manifold, construct ConstructIterate, options ...CGOptions) *CG {
	opt := NewCGOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	return &CG{manifold: manifold, construct: construct, opt: opt}
}

// Optimize minimizes the cost starting from x.
// Running out of iterations is not an error, callers inspect the returned counts instead.
func (o *CG) Optimize(x Iterate, logDebugInfo bool) (Result, error) {
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
	gradNorm2 := m.Inner(x.Point(), grad, grad)
	eta := linalg.Scale(-1, grad)
	step := o.opt.initialStep
	for range o.opt.maxIterations {
		if math.Sqrt(gradNorm2) <= o.opt.gradTol {
			break
		}

		df0 := m.Inner(x.Point(), grad, eta)
		if df0 >= 0 {
			res.RestartsNotDescent++
			eta = linalg.Scale(-1, grad)
			df0 = -gradNorm2
		}

		y, alpha, err := o.lineSearch(x, eta, df0, step)
		if err != nil {
			return Result{}, errors.Wrap(err, fmt.Sprintf("%d", res.Iterations))
		}
		if y == nil {
			if o.opt.printWarnings {
				log.Printf("line search failed at iteration %d, cost %g", res.Iterations, x.Cost())
			}
			break
		}
		res.Iterations++
		if logDebugInfo {
			res.Info.Iterates = append(res.Info.Iterates, y.Point())
			res.Info.Costs = append(res.Info.Costs, y.Cost())
			res.Info.StepSizes = append(res.Info.StepSizes, alpha)
		}

		newGrad, err := y.Gradient()
		if err != nil {
			return Result{}, errors.Wrap(err, fmt.Sprintf("%d", res.Iterations))
		}
		decrease := x.Cost() - y.Cost()
		stepLen := alpha * m.Norm(x.Point(), eta)

		newGradNorm2 := m.Inner(y.Point(), newGrad, newGrad)
		oldGrad := m.Transport(x.Point(), y.Point(), grad)
		oldEta := m.Transport(x.Point(), y.Point(), eta)
		var beta float64
		if math.Abs(m.Inner(y.Point(), newGrad, oldGrad)) >= powellThreshold*newGradNorm2 {
			res.RestartsPowell++
		} else {
			beta = o.beta(y.Point(), newGrad, oldGrad, oldEta, newGradNorm2, gradNorm2)
		}
		eta = linalg.Add(linalg.Scale(-1, newGrad), complex(beta, 0), oldEta)

		x, grad, gradNorm2 = y, newGrad, newGradNorm2
		res.Iterate = x
		step = 2 * alpha

		if decrease <= o.opt.costTol*math.Abs(x.Cost()+decrease) {
			break
		}
		if stepLen < o.opt.minStepSize {
			break
		}
	}
	return res, nil
}

// lineSearch backtracks from the trial step until the Armijo condition holds.
// It returns a nil iterate if no step satisfies the condition.
func (o *CG) lineSearch(x Iterate, eta *mat.CDense, df0, step float64) (Iterate, float64, error) {
	alpha := step
	for range o.opt.maxLineSearch {
		y, err := o.construct(o.manifold.Retract(x.Point(), eta, alpha), x)
		if err != nil {
			return nil, 0, errors.Wrap(err, "")
		}
		if y.Cost() <= x.Cost()+armijoC1*alpha*df0 {
			return y, alpha, nil
		}
		alpha *= armijoContraction
	}
	return nil, 0, nil
}

func (o *CG) beta(y, grad, oldGrad, oldEta *mat.CDense, gradNorm2, oldGradNorm2 float64) float64 {
	switch o.opt.beta {
	case FletcherReeves:
		return gradNorm2 / oldGradNorm2
	case HestenesStiefel:
		diff := linalg.Add(grad, -1, oldGrad)
		den := o.manifold.Inner(y, oldEta, diff)
		if den == 0 {
			return 0
		}
		return max(0, o.manifold.Inner(y, grad, diff)/den)
	default:
		diff := linalg.Add(grad, -1, oldGrad)
		return max(0, o.manifold.Inner(y, grad, diff)/oldGradNorm2)
	}
}
