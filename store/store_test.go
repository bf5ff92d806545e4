package store

import (
	"flag"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/SnackerBit/disoTPS/disentangle"
	"github.com/SnackerBit/disoTPS/linalg"
)

func TestRecord(t *testing.T) {
	t.Parallel()
	db := openTemp(t)
	run, err := db.NewRun("record")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	other, err := db.NewRun("other")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if run == other {
		t.Fatalf("%d %d", run, other)
	}

	var r disentangle.Record = db.Record(run, disentangle.LevelSummary)
	if r.Level() != disentangle.LevelSummary {
		t.Fatalf("%d", r.Level())
	}
	r.Append("n", 3)
	r.Append("n", 5)
	db.Record(other, disentangle.LevelSummary).Append("n", 7)
	r.Set("costs", []float64{1, 0.5})
	r.Set("costs", []float64{0.25, 0.125, 0})

	tests := []struct {
		run    int64
		key    string
		values []float64
	}{
		{run: run, key: "n", values: []float64{3, 5}},
		{run: other, key: "n", values: []float64{7}},
		{run: run, key: "costs", values: []float64{0.25, 0.125, 0}},
		{run: other, key: "costs", values: []float64{}},
	}
	for _, test := range tests {
		values, err := db.Values(test.run, test.key)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if !slices.Equal(values, test.values) {
			t.Fatalf("%d %s %v, expected %v", test.run, test.key, values, test.values)
		}
	}
}

func TestMatrices(t *testing.T) {
	t.Parallel()
	db := openTemp(t)
	run, err := db.NewRun("matrices")
	if err != nil {
		t.Fatalf("%+v", err)
	}

	ms := []*mat.CDense{
		mat.NewCDense(2, 2, []complex128{1, 2i, -3, 4 - 1i}),
		mat.NewCDense(1, 3, []complex128{0, 0.5, -0.5i}),
	}
	r := db.Record(run, disentangle.LevelPerIteration)
	r.SetMatrices("iterates", ms)

	got, err := db.Matrices(run, "iterates")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(got) != len(ms) {
		t.Fatalf("%d", len(got))
	}
	for i, m := range ms {
		if !mat.CEqual(got[i], m) {
			t.Fatalf("%d %v, expected %v", i, got[i], m)
		}
	}
}

func TestUnitary(t *testing.T) {
	t.Parallel()
	db := openTemp(t)
	run, err := db.NewRun("unitary")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := db.Unitary(run); err == nil {
		t.Fatalf("expected error")
	}

	rng := rand.New(rand.NewPCG(1, 1))
	u := linalg.NewTensor4([4]int{2, 3, 2, 3}, nil)
	for i := range u.Data {
		u.Data[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	u.Data[0] = 0
	if err := db.SaveUnitary(run, u); err != nil {
		t.Fatalf("%+v", err)
	}
	got, err := db.Unitary(run)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got.Shape != u.Shape || !slices.Equal(got.Data, u.Data) {
		t.Fatalf("%v, expected %v", got, u)
	}
}

func TestDisentangleRecord(t *testing.T) {
	t.Parallel()
	db := openTemp(t)
	run, err := db.NewRun("disentangle")
	if err != nil {
		t.Fatalf("%+v", err)
	}

	rng := rand.New(rand.NewPCG(2, 2))
	theta := linalg.NewTensor4([4]int{2, 2, 2, 2}, nil)
	for i := range theta.Data {
		theta.Data[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	theta.Normalize()

	record := db.Record(run, disentangle.LevelPerIteration)
	if _, err := disentangle.Disentangle(theta, 2, "cg", record); err != nil {
		t.Fatalf("%+v", err)
	}
	n, err := db.Values(run, disentangle.KeyIterations)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	costs, err := db.Values(run, disentangle.KeyCosts)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	steps, err := db.Values(run, disentangle.KeyStepSizes)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(n) != 1 || len(costs) != int(n[0])+1 || len(steps) != int(n[0]) {
		t.Fatalf("%v %d %d", n, len(costs), len(steps))
	}
	iterates, err := db.Matrices(run, disentangle.KeyIterates)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(iterates) != len(costs) {
		t.Fatalf("%d %d", len(iterates), len(costs))
	}
}

func openTemp(t *testing.T) *DB {
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := Open(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	m.Run()
}
