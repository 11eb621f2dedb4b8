// Package benchmark drives synthetic write/read workloads against an
// Engine and measures throughput, latency, and amplification, adapted
// from the teacher's multi-engine comparison harness down to this
// spec's single Engine type.
package benchmark

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvforge/lsmkv/engine"
)

// WorkloadType is the read/write mix a Benchmark drives.
type WorkloadType string

const (
	WorkloadWriteHeavy WorkloadType = "write-heavy"
	WorkloadReadHeavy  WorkloadType = "read-heavy"
	WorkloadBalanced   WorkloadType = "balanced"
	WorkloadReadOnly   WorkloadType = "read-only"
	WorkloadWriteOnly  WorkloadType = "write-only"
)

// Config defines one benchmark scenario.
type Config struct {
	Name string

	WorkloadType    WorkloadType
	KeyDistribution KeyDistribution

	NumKeys   int
	KeySize   int
	ValueSize int

	Duration    time.Duration
	Concurrency int

	PreloadKeys int

	Seed int64
}

// Result reports everything measured during one Benchmark.Run.
type Result struct {
	Config Config

	TotalOps, WriteOps, ReadOps int64
	Duration                    time.Duration
	OpsPerSec                   float64

	WriteLatency LatencyStats
	ReadLatency  LatencyStats

	WriteAmplification float64
	SpaceAmplification float64

	EngineStats engine.Stats
}

// Benchmark drives Config's workload against an Engine.
type Benchmark struct {
	eng    *engine.Engine
	config Config

	writeLatencies *LatencyHistogram
	readLatencies  *LatencyHistogram

	writeCount atomic.Int64
	readCount  atomic.Int64
	errorCount atomic.Int64

	keyGen *KeyGenerator

	randSeed atomic.Int64
}

func NewBenchmark(eng *engine.Engine, config Config) *Benchmark {
	return &Benchmark{
		eng:            eng,
		config:         config,
		writeLatencies: NewLatencyHistogram(),
		readLatencies:  NewLatencyHistogram(),
		keyGen:         NewKeyGenerator(config.NumKeys, config.KeySize, config.KeyDistribution, config.Seed),
	}
}

// Run preloads data, warms up, then measures the workload for
// Config.Duration, returning a Result.
func (b *Benchmark) Run() (*Result, error) {
	ctx := context.Background()

	if b.config.PreloadKeys > 0 {
		fmt.Printf("preloading %d keys...\n", b.config.PreloadKeys)
		if err := b.preload(ctx); err != nil {
			return nil, err
		}
	}

	fmt.Println("warming up...")
	b.runWorkload(ctx, 2*time.Second)

	b.writeLatencies = NewLatencyHistogram()
	b.readLatencies = NewLatencyHistogram()
	b.writeCount.Store(0)
	b.readCount.Store(0)
	b.errorCount.Store(0)

	fmt.Printf("running benchmark for %v...\n", b.config.Duration)
	startTime := time.Now()
	b.runWorkload(ctx, b.config.Duration)
	duration := time.Since(startTime)

	return b.calculateResults(duration), nil
}

func (b *Benchmark) preload(ctx context.Context) error {
	value := make([]byte, b.config.ValueSize)
	rand.Read(value)

	for i := 0; i < b.config.PreloadKeys; i++ {
		key := b.keyGen.GenerateSequential(i)
		if err := b.eng.Put(ctx, key, value); err != nil {
			return fmt.Errorf("benchmark: preload: %w", err)
		}
	}
	return nil
}

func (b *Benchmark) runWorkload(ctx context.Context, duration time.Duration) {
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < b.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.worker(ctx, stop)
		}()
	}

	time.Sleep(duration)
	close(stop)
	wg.Wait()
}

func (b *Benchmark) worker(ctx context.Context, stop <-chan struct{}) {
	value := make([]byte, b.config.ValueSize)
	rand.Read(value)

	for {
		select {
		case <-stop:
			return
		default:
			if b.shouldWrite() {
				b.doWrite(ctx, value)
			} else {
				b.doRead(ctx)
			}
		}
	}
}

func (b *Benchmark) shouldWrite() bool {
	switch b.config.WorkloadType {
	case WorkloadWriteOnly:
		return true
	case WorkloadReadOnly:
		return false
	case WorkloadWriteHeavy:
		return b.randFloat() < 0.95
	case WorkloadReadHeavy:
		return b.randFloat() < 0.05
	default:
		return b.randFloat() < 0.50
	}
}

func (b *Benchmark) doWrite(ctx context.Context, value []byte) {
	key := b.keyGen.NextKey()

	start := time.Now()
	err := b.eng.Put(ctx, key, value)
	latency := time.Since(start)
	if err != nil {
		b.errorCount.Add(1)
		return
	}
	b.writeLatencies.Record(latency)
	b.writeCount.Add(1)
}

func (b *Benchmark) doRead(ctx context.Context) {
	key := b.keyGen.NextKey()

	start := time.Now()
	_, err := b.eng.Get(ctx, key)
	latency := time.Since(start)
	if err != nil && !errors.Is(err, engine.ErrKeyNotFound) {
		b.errorCount.Add(1)
		return
	}
	b.readLatencies.Record(latency)
	b.readCount.Add(1)
}

func (b *Benchmark) calculateResults(duration time.Duration) *Result {
	writeOps := b.writeCount.Load()
	readOps := b.readCount.Load()
	totalOps := writeOps + readOps

	stats := b.eng.Stats()

	return &Result{
		Config:    b.config,
		TotalOps:  totalOps,
		WriteOps:  writeOps,
		ReadOps:   readOps,
		Duration:  duration,
		OpsPerSec: float64(totalOps) / duration.Seconds(),

		WriteLatency: b.writeLatencies.Stats(),
		ReadLatency:  b.readLatencies.Stats(),

		WriteAmplification: stats.WriteAmplification,
		SpaceAmplification: stats.SpaceAmplification,

		EngineStats: stats,
	}
}

func (b *Benchmark) randFloat() float64 {
	return float64(b.randSeed.Add(1)%10000) / 10000.0
}
