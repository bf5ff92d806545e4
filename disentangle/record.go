package disentangle

import (
	"gonum.org/v1/gonum/mat"
)

// Level is the amount of diagnostics written to a Record.
type Level int

const (
	// LevelNone records nothing.
	LevelNone Level = iota
	// LevelSummary records the iteration and restart counts of each run.
	LevelSummary
	// LevelPerIteration additionally records the history of each run.
	LevelPerIteration
)

// Diagnostics keys.
const (
	KeyIterations         = "N_iters_disentangler"
	KeyRestartsNotDescent = "disentangler_num_restarts_not_descent"
	KeyRestartsPowell     = "disentangler_num_restarts_powell"
	KeyIterates           = "disentangler_iterates"
	KeyCosts              = "disentangler_costs"
	KeyStepSizes          = "disentangler_step_sizes"
	KeyDeltas             = "disentangler_deltas"
	KeyTCGIterations      = "disentangler_tCG_iters"
)

// A Record is a write-only sink for diagnostics.
// Disentangling never reads a Record back, and a Record must not be shared between concurrent runs.
type Record interface {
	Level() Level
	// Append appends v to the values under key.
	Append(key string, v float64)
	// Set replaces the values under key.
	Set(key string, values []float64)
	// SetMatrices replaces the matrices under key.
	SetMatrices(key string, ms []*mat.CDense)
}

// CheckLevel reports whether r is non-nil and records at least level l.
func CheckLevel(r Record, l Level) bool {
	if r == nil {
		return false
	}
	return r.Level() >= l
}

// Dict is an in-memory Record.
type Dict struct {
	level    Level
	Values   map[string][]float64
	Matrices map[string][]*mat.CDense
}

// NewDict returns an empty Dict that records at the given level.
func NewDict(level Level) *Dict {
	return &Dict{level: level, Values: make(map[string][]float64), Matrices: make(map[string][]*mat.CDense)}
}

// Level returns the level of d, LevelNone for a nil Dict.
func (d *Dict) Level() Level {
	if d == nil {
		return LevelNone
	}
	return d.level
}

func (d *Dict) Append(key string, v float64) {
	d.Values[key] = append(d.Values[key], v)
}

func (d *Dict) Set(key string, values []float64) {
	d.Values[key] = append([]float64(nil), values...)
}

func (d *Dict) SetMatrices(key string, ms []*mat.CDense) {
	d.Matrices[key] = append([]*mat.CDense(nil), ms...)
}
