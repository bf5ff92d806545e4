// Package disentangle finds the unitary acting on the two physical legs of a wavefunction
// that minimizes the truncation error of splitting it at a fixed bond dimension.
//
// The unitary is optimized over the unitary group with the Riemannian conjugate gradients
// or trust region methods, starting from the identity.
package disentangle

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/SnackerBit/disoTPS/linalg"
	"github.com/SnackerBit/disoTPS/riemannian"
	"github.com/SnackerBit/disoTPS/stiefel"
)

// Method names accepted by Disentangle and DisentangleApprox.
const (
	NameTRM = "trm"
	NameCG  = "cg"
)

var (
	// ErrUnsupportedMethod is returned for an unknown method.
	ErrUnsupportedMethod = errors.New("unsupported disentangling method")
)

// ApproxCGOptions are options for DisentangleApproxCG.
type ApproxCGOptions struct {
	nItersSVD        *int
	epsSVD           float64
	nItersSVDInitial *int
	metric           stiefel.Metric
	cg               riemannian.CGOptions
}

// NewApproxCGOptions returns the default options of DisentangleApproxCG.
func NewApproxCGOptions() ApproxCGOptions {
	opt := ApproxCGOptions{}
	opt.nItersSVD = intPtr(5)
	opt.nItersSVDInitial = intPtr(50)
	opt.cg = riemannian.NewCGOptions()
	return opt
}

// NItersSVD sets the number of QR split iterations per iterate.
func (opt ApproxCGOptions) NItersSVD(n int) ApproxCGOptions {
	opt.nItersSVD = intPtr(n)
	return opt
}

// NItersSVDInitial sets the number of QR split iterations of the initial iterate.
func (opt ApproxCGOptions) NItersSVDInitial(n int) ApproxCGOptions {
	opt.nItersSVDInitial = intPtr(n)
	return opt
}

// ExactSVD replaces the QR split iterations by the exact singular value decomposition, for all iterates.
func (opt ApproxCGOptions) ExactSVD() ApproxCGOptions {
	opt.nItersSVD = nil
	opt.nItersSVDInitial = nil
	return opt
}

// EpsSVD sets the early stopping tolerance of the QR split iterations.
func (opt ApproxCGOptions) EpsSVD(eps float64) ApproxCGOptions {
	opt.epsSVD = eps
	return opt
}

// Metric sets the metric of the unitary group.
func (opt ApproxCGOptions) Metric(metric stiefel.Metric) ApproxCGOptions {
	opt.metric = metric
	return opt
}

// CG sets the optimizer options.
func (opt ApproxCGOptions) CG(cg riemannian.CGOptions) ApproxCGOptions {
	opt.cg = cg
	return opt
}

// ApproxTRMOptions are options for DisentangleApproxTRM.
type ApproxTRMOptions struct {
	chiMax           int
	nItersSVD        *int
	epsSVD           float64
	nItersSVDInitial *int
	metric           stiefel.Metric
	trm              riemannian.TRMOptions
}

// NewApproxTRMOptions returns the default options of DisentangleApproxTRM.
// A zero chiMax means chi.
func NewApproxTRMOptions() ApproxTRMOptions {
	opt := ApproxTRMOptions{}
	opt.nItersSVD = intPtr(2)
	opt.nItersSVDInitial = intPtr(50)
	opt.trm = riemannian.NewTRMOptions()
	return opt
}

// ChiMax sets the number of singular triples used for the Hessian.
func (opt ApproxTRMOptions) ChiMax(chiMax int) ApproxTRMOptions {
	opt.chiMax = chiMax
	return opt
}

// NItersSVD sets the number of QR split iterations per iterate.
func (opt ApproxTRMOptions) NItersSVD(n int) ApproxTRMOptions {
	opt.nItersSVD = intPtr(n)
	return opt
}

// NItersSVDInitial sets the number of QR split iterations of the initial iterate.
func (opt ApproxTRMOptions) NItersSVDInitial(n int) ApproxTRMOptions {
	opt.nItersSVDInitial = intPtr(n)
	return opt
}

// ExactSVD replaces the QR split iterations by the exact singular value decomposition, for all iterates.
func (opt ApproxTRMOptions) ExactSVD() ApproxTRMOptions {
	opt.nItersSVD = nil
	opt.nItersSVDInitial = nil
	return opt
}

// EpsSVD sets the early stopping tolerance of the QR split iterations.
func (opt ApproxTRMOptions) EpsSVD(eps float64) ApproxTRMOptions {
	opt.epsSVD = eps
	return opt
}

// Metric sets the metric of the unitary group.
func (opt ApproxTRMOptions) Metric(metric stiefel.Metric) ApproxTRMOptions {
	opt.metric = metric
	return opt
}

// TRM sets the optimizer options.
func (opt ApproxTRMOptions) TRM(trm riemannian.TRMOptions) ApproxTRMOptions {
	opt.trm = trm
	return opt
}

// Options are the options of Disentangle and DisentangleApprox.
// Each dispatcher forwards only the options of the method it runs.
type Options struct {
	// metric, if set, overrides the metric of every method.
	metric    *stiefel.Metric
	cg        riemannian.CGOptions
	trm       riemannian.TRMOptions
	approxCG  ApproxCGOptions
	approxTRM ApproxTRMOptions
}

// NewOptions returns the default options.
func NewOptions() Options {
	opt := Options{}
	opt.cg = riemannian.NewCGOptions()
	opt.trm = riemannian.NewTRMOptions()
	opt.approxCG = NewApproxCGOptions()
	opt.approxTRM = NewApproxTRMOptions()
	return opt
}

// Metric sets the metric of the unitary group for all methods.
// The exact methods default to the Euclidean metric.
func (opt Options) Metric(metric stiefel.Metric) Options {
	opt.metric = &metric
	return opt
}

// CG sets the options of DisentangleCG.
func (opt Options) CG(cg riemannian.CGOptions) Options {
	opt.cg = cg
	return opt
}

// TRM sets the options of DisentangleTRM.
func (opt Options) TRM(trm riemannian.TRMOptions) Options {
	opt.trm = trm
	return opt
}

// ApproxCG sets the options of DisentangleApproxCG.
func (opt Options) ApproxCG(a ApproxCGOptions) Options {
	opt.approxCG = a
	return opt
}

// ApproxTRM sets the options of DisentangleApproxTRM.
func (opt Options) ApproxTRM(a ApproxTRMOptions) Options {
	opt.approxTRM = a
	return opt
}

// Disentangle minimizes the truncation error of theta at bond dimension chi.
// method is "trm", the default if empty, or "cg".
// The returned unitary has shape (i, j, i*, j*).
func Disentangle(theta *linalg.Tensor4, chi int, method string, record Record, options ...Options) (*linalg.Tensor4, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}

	metric := stiefel.Euclidean
	if opt.metric != nil {
		metric = *opt.metric
	}
	switch method {
	case "", NameTRM:
		return disentangleTRM(theta, chi, metric, record, opt.trm)
	case NameCG:
		return disentangleCG(theta, chi, metric, record, opt.cg)
	default:
		return nil, errors.Wrap(ErrUnsupportedMethod, fmt.Sprintf("%q", method))
	}
}

// DisentangleApprox minimizes an approximation of the truncation error of theta at bond dimension chi.
// method is "cg", the default if empty, or "trm".
func DisentangleApprox(theta *linalg.Tensor4, chi int, method string, record Record, options ...Options) (*linalg.Tensor4, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}

	approxCG, approxTRM := opt.approxCG, opt.approxTRM
	if opt.metric != nil {
		approxCG.metric, approxTRM.metric = *opt.metric, *opt.metric
	}
	switch method {
	case "", NameCG:
		return DisentangleApproxCG(theta, chi, record, approxCG)
	case NameTRM:
		return DisentangleApproxTRM(theta, chi, record, approxTRM)
	default:
		return nil, errors.Wrap(ErrUnsupportedMethod, fmt.Sprintf("%q", method))
	}
}

// DisentangleCG minimizes the truncation error with conjugate gradients, starting from the identity.
func DisentangleCG(theta *linalg.Tensor4, chi int, record Record, options ...riemannian.CGOptions) (*linalg.Tensor4, error) {
	return disentangleCG(theta, chi, stiefel.Euclidean, record, options...)
}

func disentangleCG(theta *linalg.Tensor4, chi int, metric stiefel.Metric, record Record, options ...riemannian.CGOptions) (*linalg.Tensor4, error) {
	cfg, err := NewIterateConfig(MethodCG, theta, chi)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	cfg.Manifold = cfg.Manifold.Metric(metric)
	construct, err := cfg.Factory()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return runCG(cfg, construct, construct, record, options...)
}

// DisentangleApproxCG minimizes the truncation error with conjugate gradients,
// approximating the singular value decomposition of each iterate by QR split iterations.
func DisentangleApproxCG(theta *linalg.Tensor4, chi int, record Record, options ...ApproxCGOptions) (*linalg.Tensor4, error) {
	opt := NewApproxCGOptions()
	if len(options) > 0 {
		opt = options[0]
	}

	cfg, err := NewIterateConfig(MethodApproxCG, theta, chi)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	cfg.Manifold = cfg.Manifold.Metric(opt.metric)
	cfg.NItersSVD, cfg.EpsSVD = opt.nItersSVD, opt.epsSVD
	construct, err := cfg.Factory()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	cfg.NItersSVD = opt.nItersSVDInitial
	initial, err := cfg.Factory()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return runCG(cfg, construct, initial, record, opt.cg)
}

// DisentangleTRM minimizes the truncation error with the trust region method, starting from the identity.
func DisentangleTRM(theta *linalg.Tensor4, chi int, record Record, options ...riemannian.TRMOptions) (*linalg.Tensor4, error) {
	return disentangleTRM(theta, chi, stiefel.Euclidean, record, options...)
}

func disentangleTRM(theta *linalg.Tensor4, chi int, metric stiefel.Metric, record Record, options ...riemannian.TRMOptions) (*linalg.Tensor4, error) {
	cfg, err := NewIterateConfig(MethodTRM, theta, chi)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	cfg.Manifold = cfg.Manifold.Metric(metric)
	construct, err := cfg.Factory()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return runTRM(cfg, construct, construct, record, options...)
}

// DisentangleApproxTRM minimizes the truncation error with the trust region method,
// approximating the singular value decomposition of each iterate by QR split iterations
// warm started from the previous iterate.
func DisentangleApproxTRM(theta *linalg.Tensor4, chi int, record Record, options ...ApproxTRMOptions) (*linalg.Tensor4, error) {
	opt := NewApproxTRMOptions()
	if len(options) > 0 {
		opt = options[0]
	}

	cfg, err := NewIterateConfig(MethodApproxTRM, theta, chi)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	cfg.Manifold = cfg.Manifold.Metric(opt.metric)
	cfg.ChiMax = max(opt.chiMax, chi)
	cfg.NItersSVD, cfg.EpsSVD = opt.nItersSVD, opt.epsSVD
	construct, err := cfg.Factory()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	cfg.NItersSVD = opt.nItersSVDInitial
	initial, err := cfg.Factory()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return runTRM(cfg, construct, initial, record, opt.trm)
}

func runCG(cfg IterateConfig, construct, initial riemannian.ConstructIterate, record Record, options ...riemannian.CGOptions) (*linalg.Tensor4, error) {
	x0, err := initial(cfg.Manifold.Identity(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	logDebugInfo := CheckLevel(record, LevelPerIteration)
	res, err := riemannian.NewCG(cfg.Manifold, construct, options...).Optimize(x0, logDebugInfo)
	if err != nil {
		return nil, errors.Wrap(err, cfg.Method.String())
	}

	if CheckLevel(record, LevelSummary) {
		record.Append(KeyIterations, float64(res.Iterations))
		record.Append(KeyRestartsNotDescent, float64(res.RestartsNotDescent))
		record.Append(KeyRestartsPowell, float64(res.RestartsPowell))
	}
	if logDebugInfo {
		record.SetMatrices(KeyIterates, res.Info.Iterates)
		record.Set(KeyCosts, res.Info.Costs)
		record.Set(KeyStepSizes, res.Info.StepSizes)
	}
	return cfg.Manifold.Unflatten(res.Iterate.Point()), nil
}

func runTRM(cfg IterateConfig, construct, initial riemannian.ConstructIterate, record Record, options ...riemannian.TRMOptions) (*linalg.Tensor4, error) {
	x0, err := initial(cfg.Manifold.Identity(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	logDebugInfo := CheckLevel(record, LevelPerIteration)
	res, err := riemannian.NewTRM(cfg.Manifold, construct, options...).Optimize(x0, logDebugInfo)
	if err != nil {
		return nil, errors.Wrap(err, cfg.Method.String())
	}

	if CheckLevel(record, LevelSummary) {
		record.Append(KeyIterations, float64(res.Iterations))
	}
	if logDebugInfo {
		record.SetMatrices(KeyIterates, res.Info.Iterates)
		record.Set(KeyCosts, res.Info.Costs)
		record.Set(KeyDeltas, res.Info.Deltas)
		tcg := make([]float64, len(res.Info.TCGIterations))
		for i, n := range res.Info.TCGIterations {
			tcg[i] = float64(n)
		}
		record.Set(KeyTCGIterations, tcg)
	}
	return cfg.Manifold.Unflatten(res.Iterate.Point()), nil
}

func intPtr(n int) *int {
	return &n
}
