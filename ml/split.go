package ml

import (
	"math"
	"math/rand"
)

// TrainTestSplit shuffles row indices with a fixed seed and holds out
// testRatio of them. The held-out count rounds up, so at least one row is
// held out whenever there are two or more.
func TrainTestSplit(n int, testRatio float64, seed int64) (train []int, test []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(n)

	testCount := int(math.Ceil(float64(n) * testRatio))
	if testCount >= n {
		testCount = n - 1
	}
	if testCount < 0 {
		testCount = 0
	}
	split := n - testCount
	return indices[:split], indices[split:]
}

func selectRows[T any](values []T, idx []int) []T {
	result := make([]T, len(idx))
	for i, j := range idx {
		result[i] = values[j]
	}
	return result
}
