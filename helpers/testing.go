package helpers

import (
	"math/rand"
	"time"
)

func RandUnix() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// ShuffleCases permutes table test cases in place, n = len(cases).
func ShuffleCases(n int, swap func(i, j int)) {
	RandUnix().Shuffle(n, swap)
}
