package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/SnackerBit/disoTPS/disentangle"
	"github.com/SnackerBit/disoTPS/linalg"
	"github.com/SnackerBit/disoTPS/riemannian"
	"github.com/SnackerBit/disoTPS/stiefel"
	"github.com/SnackerBit/disoTPS/store"
)

var (
	configPath = flag.String("config", "", "yaml run configuration, overriding the flags below")
	flagL      = flag.Int("l", 2, "left bond dimension")
	flagD1     = flag.Int("d1", 2, "first physical dimension")
	flagD2     = flag.Int("d2", 2, "second physical dimension")
	flagR      = flag.Int("r", 2, "right bond dimension")
	flagBond   = flag.Int("bond", 4, "inner bond dimension of the random two site wavefunction")
	flagChi    = flag.Int("chi", 2, "truncated bond dimension")
	flagMethod = flag.String("method", "", "trm or cg, empty for the default of the chosen variant")
	flagMetric = flag.String("metric", "euclidean", "metric of the unitary group, euclidean or canonical")
	flagApprox = flag.Bool("approx", false, "use the approximate truncation error")
	flagSeed   = flag.Uint64("seed", 0, "random seed")
	flagRuns   = flag.Int("runs", 1, "number of random wavefunctions")
	flagDB     = flag.String("db", "", "sqlite database for diagnostics and unitaries, empty to disable")
)

// Config is a disentangling run configuration.
type Config struct {
	L      int    `yaml:"l"`
	D1     int    `yaml:"d1"`
	D2     int    `yaml:"d2"`
	R      int    `yaml:"r"`
	Bond   int    `yaml:"bond"`
	Chi    int    `yaml:"chi"`
	Method string `yaml:"method"`
	Metric string `yaml:"metric"`
	Approx bool   `yaml:"approx"`
	Seed   uint64 `yaml:"seed"`
	Runs   int    `yaml:"runs"`
	DB     string `yaml:"db"`

	// Optional tuning, zero means the library default.
	MaxIterations int `yaml:"max_iterations"`
	ChiMax        int `yaml:"chi_max"`
	NItersSVD     int `yaml:"n_iters_svd"`
}

func newConfig() (Config, error) {
	cfg := Config{
		L:      *flagL,
		D1:     *flagD1,
		D2:     *flagD2,
		R:      *flagR,
		Bond:   *flagBond,
		Chi:    *flagChi,
		Method: *flagMethod,
		Approx: *flagApprox,
		Metric: *flagMetric,
		Seed:   *flagSeed,
		Runs:   *flagRuns,
		DB:     *flagDB,
	}
	if *configPath == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(*configPath)
	if err != nil {
		return Config{}, errors.Wrap(err, "")
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrap(err, *configPath)
	}
	return cfg, nil
}

func (cfg Config) options() (disentangle.Options, error) {
	metric := stiefel.Euclidean
	switch cfg.Metric {
	case "", "euclidean":
	case "canonical":
		metric = stiefel.Canonical
	default:
		return disentangle.Options{}, errors.Errorf("unknown metric %q", cfg.Metric)
	}

	cg := riemannian.NewCGOptions()
	trm := riemannian.NewTRMOptions()
	if cfg.MaxIterations > 0 {
		cg = cg.MaxIterations(cfg.MaxIterations)
		trm = trm.MaxIterations(cfg.MaxIterations)
	}
	approxCG := disentangle.NewApproxCGOptions().CG(cg)
	approxTRM := disentangle.NewApproxTRMOptions().TRM(trm).ChiMax(cfg.ChiMax)
	if cfg.NItersSVD > 0 {
		approxCG = approxCG.NItersSVD(cfg.NItersSVD)
		approxTRM = approxTRM.NItersSVD(cfg.NItersSVD)
	}
	return disentangle.NewOptions().CG(cg).TRM(trm).ApproxCG(approxCG).ApproxTRM(approxTRM).Metric(metric), nil
}

// randomTheta contracts two random matrix product state sites of shapes (l, d1, bond) and (bond, d2, r).
func randomTheta(rng *rand.Rand, cfg Config) (*linalg.Tensor4, error) {
	a := randTensor(rng, cfg.L, cfg.D1, cfg.Bond)
	b := randTensor(rng, cfg.Bond, cfg.D2, cfg.R)
	ab := tensor.Contract(tensor.Zeros(1), a, b, [][2]int{{2, 0}})

	theta, err := linalg.FromDense(ab)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	theta.Normalize()
	return theta, nil
}

func randTensor(rng *rand.Rand, shape ...int) *tensor.Dense {
	t := tensor.Zeros(shape...)
	for ijk := range t.All() {
		v := complex(rng.Float32()*2-1, rng.Float32()*2-1)
		t.SetAt(ijk, v)
	}
	return t
}

type Statistics struct {
	seed       uint64
	cost0      float64
	cost       float64
	iterations float64
}

func truncationError(theta *linalg.Tensor4, u *linalg.Tensor4, chi int) (float64, error) {
	cfg, err := disentangle.NewIterateConfig(disentangle.MethodCG, theta, chi)
	if err != nil {
		return -1, errors.Wrap(err, "")
	}
	construct, err := cfg.Factory()
	if err != nil {
		return -1, errors.Wrap(err, "")
	}
	x, err := construct(cfg.Manifold.Flatten(u), nil)
	if err != nil {
		return -1, errors.Wrap(err, "")
	}
	return x.Cost(), nil
}

func solve(cfg Config, seed uint64, db *store.DB) (Statistics, error) {
	rng := rand.New(rand.NewPCG(seed, 0))
	theta, err := randomTheta(rng, cfg)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}

	var record disentangle.Record = disentangle.NewDict(disentangle.LevelSummary)
	var run int64
	if db != nil {
		run, err = db.NewRun(fmt.Sprintf("%#v seed %d", cfg, seed))
		if err != nil {
			return Statistics{}, errors.Wrap(err, "")
		}
		record = db.Record(run, disentangle.LevelPerIteration)
	}

	opt, err := cfg.options()
	if err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}
	disentangleFn := disentangle.Disentangle
	if cfg.Approx {
		disentangleFn = disentangle.DisentangleApprox
	}
	u, err := disentangleFn(theta, cfg.Chi, cfg.Method, record, opt)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}

	stat := Statistics{seed: seed}
	id := linalg.NewTensor4(u.Shape, nil)
	n := cfg.D1 * cfg.D2
	for i := range n {
		id.Data[i*n+i] = 1
	}
	if stat.cost0, err = truncationError(theta, id, cfg.Chi); err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}
	if stat.cost, err = truncationError(theta, u, cfg.Chi); err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}

	switch r := record.(type) {
	case *disentangle.Dict:
		stat.iterations = r.Values[disentangle.KeyIterations][0]
	case *store.Record:
		if err := db.SaveUnitary(run, u); err != nil {
			return Statistics{}, errors.Wrap(err, "")
		}
		iters, err := db.Values(run, disentangle.KeyIterations)
		if err != nil {
			return Statistics{}, errors.Wrap(err, "")
		}
		stat.iterations = iters[0]
	}
	return stat, nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	cfg, err := newConfig()
	if err != nil {
		return errors.Wrap(err, "")
	}

	var db *store.DB
	if cfg.DB != "" {
		db, err = store.Open(cfg.DB)
		if err != nil {
			return errors.Wrap(err, "")
		}
		defer db.Close()
	}

	statistics := make([]Statistics, 0, cfg.Runs)
	for i := range cfg.Runs {
		seed := cfg.Seed + uint64(i)
		stat, err := solve(cfg, seed, db)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("%#v %d", cfg, seed))
		}
		statistics = append(statistics, stat)
		log.Printf("%#v", stat)
	}

	fmt.Printf("seed,cost0,cost,iterations\n")
	for _, s := range statistics {
		fmt.Printf("%d,%g,%g,%d\n", s.seed, s.cost0, s.cost, int(s.iterations))
	}
	return nil
}
