package random

import (
	"crypto/rand"
	"math/big"
)

const digits = "0123456789"
const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func Numeric(length int) string {
	return pickFromSet(digits, length)
}

// Code returns a join code without ambiguous characters (no I, O, 0, 1).
func Code(length int) string {
	return pickFromSet(letters, length)
}

func pickFromSet(set string, length int) string {
	if length <= 0 {
		return ""
	}
	max := big.NewInt(int64(len(set)))
	runes := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			runes[i] = set[0]
			continue
		}
		runes[i] = set[n.Int64()]
	}
	return string(runes)
}

// Source produces the randomness games consume: draw orders, winners.
type Source interface {
	// Intn returns a uniform value in [0, n). n must be > 0.
	Intn(n int) int
	// Perm returns a uniform permutation of [0, n).
	Perm(n int) []int
}

// Crypto is the production Source.
var Crypto Source = cryptoSource{}

type cryptoSource struct{}

func (cryptoSource) Intn(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

func (s cryptoSource) Perm(n int) []int {
	return shuffle(s, n)
}

// shuffle is a Fisher-Yates permutation driven by src.
func shuffle(src Source, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := src.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Fixed is a deterministic Source for tests. Intn cycles through Values
// (modulo n); Perm returns the identity permutation.
type Fixed struct {
	Values []int
	next   int
}

func (f *Fixed) Intn(n int) int {
	if n <= 0 || len(f.Values) == 0 {
		return 0
	}
	v := f.Values[f.next%len(f.Values)]
	f.next++
	if v < 0 {
		v = -v
	}
	return v % n
}

func (f *Fixed) Perm(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
