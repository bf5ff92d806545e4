package disentangle_test

import (
	"fmt"
	"log"
	"math/rand/v2"

	"github.com/SnackerBit/disoTPS/disentangle"
	"github.com/SnackerBit/disoTPS/linalg"
)

func ExampleDisentangle() {
	rng := rand.New(rand.NewPCG(0, 0))
	theta := linalg.NewTensor4([4]int{2, 2, 2, 2}, nil)
	for i := range theta.Data {
		theta.Data[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	theta.Normalize()

	record := disentangle.NewDict(disentangle.LevelPerIteration)
	u, err := disentangle.Disentangle(theta, 2, "trm", record)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	costs := record.Values[disentangle.KeyCosts]
	fmt.Println(u.Shape)
	fmt.Println(linalg.UnitaryError(u.Matrix(4, 4)) < 1e-10)
	fmt.Println(costs[len(costs)-1] <= costs[0])
	// Output:
	// [2 2 2 2]
	// true
	// true
}
