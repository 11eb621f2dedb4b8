package benchmark

import "time"

// StandardWorkloads returns a small fixed set of representative
// scenarios, adapted from the teacher's comparison suite but scaled
// down to defaults suitable for a single local run rather than a
// multi-minute, multi-engine comparison.
func StandardWorkloads() []Config {
	return []Config{
		{
			Name:            "write-heavy-uniform",
			WorkloadType:    WorkloadWriteHeavy,
			KeyDistribution: DistUniform,
			NumKeys:         100000,
			KeySize:         16,
			ValueSize:       100,
			Duration:        5 * time.Second,
			Concurrency:     4,
			PreloadKeys:     10000,
			Seed:            12345,
		},
		{
			Name:            "read-heavy-zipfian",
			WorkloadType:    WorkloadReadHeavy,
			KeyDistribution: DistZipfian,
			NumKeys:         100000,
			KeySize:         16,
			ValueSize:       100,
			Duration:        5 * time.Second,
			Concurrency:     4,
			PreloadKeys:     50000,
			Seed:            12345,
		},
		{
			Name:            "balanced-uniform",
			WorkloadType:    WorkloadBalanced,
			KeyDistribution: DistUniform,
			NumKeys:         100000,
			KeySize:         16,
			ValueSize:       100,
			Duration:        5 * time.Second,
			Concurrency:     4,
			PreloadKeys:     20000,
			Seed:            12345,
		},
	}
}
