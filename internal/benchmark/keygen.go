package benchmark

import (
	"encoding/binary"
	"fmt"
	"math"
	mrand "math/rand"
	"sync/atomic"
)

// KeyDistribution selects how NextKey samples the key space.
type KeyDistribution string

const (
	DistUniform    KeyDistribution = "uniform"
	DistZipfian    KeyDistribution = "zipfian"
	DistSequential KeyDistribution = "sequential"
	DistLatest     KeyDistribution = "latest"
)

// KeyGenerator produces fixed-width keys according to a distribution,
// for driving synthetic workloads against an Engine.
type KeyGenerator struct {
	numKeys      int
	keySize      int
	distribution KeyDistribution
	rng          *mrand.Rand

	zipf *mrand.Zipf

	seqCounter atomic.Int64
}

func NewKeyGenerator(numKeys, keySize int, distribution KeyDistribution, seed int64) *KeyGenerator {
	rng := mrand.New(mrand.NewSource(seed))

	kg := &KeyGenerator{
		numKeys:      numKeys,
		keySize:      keySize,
		distribution: distribution,
		rng:          rng,
	}
	if distribution == DistZipfian {
		kg.zipf = mrand.NewZipf(rng, 1.1, 1, uint64(numKeys))
	}
	return kg
}

// NextKey samples one key according to the configured distribution.
func (kg *KeyGenerator) NextKey() []byte {
	var keyNum int

	switch kg.distribution {
	case DistUniform:
		keyNum = kg.rng.Intn(kg.numKeys)
	case DistZipfian:
		keyNum = int(kg.zipf.Uint64())
	case DistSequential:
		keyNum = int(kg.seqCounter.Add(1) % int64(kg.numKeys))
	case DistLatest:
		rangeSize := kg.numKeys / 10
		if rangeSize < 100 {
			rangeSize = 100
		}
		offset := int(math.Abs(kg.rng.NormFloat64()) * float64(rangeSize))
		keyNum = kg.numKeys - 1 - offset
		if keyNum < 0 {
			keyNum = 0
		}
	default:
		keyNum = kg.rng.Intn(kg.numKeys)
	}

	return kg.formatKey(keyNum)
}

// GenerateSequential returns the key for index n, bypassing the
// distribution — used during preload to populate the dataset.
func (kg *KeyGenerator) GenerateSequential(n int) []byte {
	return kg.formatKey(n)
}

func (kg *KeyGenerator) formatKey(n int) []byte {
	key := fmt.Sprintf("user%010d", n)
	if len(key) >= kg.keySize {
		return []byte(key)[:kg.keySize]
	}

	padding := make([]byte, kg.keySize-len(key))
	if len(padding) >= 8 {
		binary.LittleEndian.PutUint64(padding, uint64(n))
	} else {
		for i := range padding {
			padding[i] = byte(n + i)
		}
	}
	return append([]byte(key), padding...)
}
