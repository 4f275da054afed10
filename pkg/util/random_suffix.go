package utils

import (
	"math/rand"
	"sync"
)

// SuffixGenerator produces short random suffixes, used to derive an
// alternate nickname when the configured one is taken.
type SuffixGenerator struct {
	mut sync.Mutex
	gen *rand.Rand
}

func CreateSuffixGenerator(seed int64) *SuffixGenerator {
	return &SuffixGenerator{
		mut: sync.Mutex{},
		gen: rand.New(rand.NewSource(seed)),
	}
}

// Ambiguous characters (0/O, 1/l/I) are left out.
var letters = []rune("23456789abcdefghijkmnopqrstuvwxyz")

func (g *SuffixGenerator) GetRandomSuffix(n int) string {
	g.mut.Lock()
	defer g.mut.Unlock()

	b := make([]rune, n)
	for i := range b {
		b[i] = letters[g.gen.Intn(len(letters))]
	}
	return string(b)
}
