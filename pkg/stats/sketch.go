package stats

import (
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/spaolacci/murmur3"
)

// sketchBits is the size of a distinct-count sketch. Estimates stay within a few
// percent until a column holds several times this many distinct values.
const sketchBits = 1 << 14

// sketch estimates the number of distinct values added to it by linear counting:
// every value sets one bit chosen by its hash, and the fraction of bits still clear
// gives the estimate.
type sketch struct {
	bits *bitset.BitSet
}

func newSketch() *sketch {
	return &sketch{bits: bitset.New(sketchBits)}
}

func (s *sketch) add(value []byte) {
	s.bits.Set(uint(murmur3.Sum64(value) % sketchBits))
}

func (s *sketch) estimate() uint64 {
	zeros := sketchBits - s.bits.Count()
	if zeros == 0 {
		return sketchBits
	}
	m := float64(sketchBits)
	return uint64(math.Round(-m * math.Log(float64(zeros)/m)))
}
