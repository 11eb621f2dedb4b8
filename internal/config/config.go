// Package config holds the engine's tunable knobs, enumerated in
// spec §6, with the teacher's Config/DefaultConfig shape generalized
// to the spec's names and defaults.
package config

// Options configures an Engine. The zero value is not valid on its own;
// use DefaultOptions and override individual fields.
type Options struct {
	// MemTableFlushBytes is the size, in accounted bytes, at which the
	// active MemTable is frozen and handed off to a flush.
	MemTableFlushBytes int

	// SparseIndexStride is the K in "every Kth key" kept in an
	// SSTable's in-memory sparse index.
	SparseIndexStride int

	// LevelFileThreshold is the per-level SSTable count a level must
	// exceed before it is compacted into the next.
	LevelFileThreshold int

	// MaxLevels bounds how many levels the engine will create; the
	// deepest level never triggers a further compaction. Tombstones are
	// dropped when compacting into the deepest level that holds tables.
	MaxLevels int
}

// DefaultOptions returns the spec's default knob values.
func DefaultOptions() Options {
	return Options{
		MemTableFlushBytes: 64 * 1024 * 1024,
		SparseIndexStride:  100,
		LevelFileThreshold: 10,
		MaxLevels:          3,
	}
}

// WithDefaults fills any zero-valued field of o with the corresponding
// default, so callers can supply a partial Options.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.MemTableFlushBytes <= 0 {
		o.MemTableFlushBytes = d.MemTableFlushBytes
	}
	if o.SparseIndexStride <= 0 {
		o.SparseIndexStride = d.SparseIndexStride
	}
	if o.LevelFileThreshold <= 0 {
		o.LevelFileThreshold = d.LevelFileThreshold
	}
	if o.MaxLevels <= 0 {
		o.MaxLevels = d.MaxLevels
	}
	return o
}

// Option mutates an Options being built up by Apply. Engine.Open takes
// a variadic list of these so callers only name the knobs they want to
// change.
type Option func(*Options)

// WithMemTableFlushBytes overrides MemTableFlushBytes.
func WithMemTableFlushBytes(n int) Option {
	return func(o *Options) { o.MemTableFlushBytes = n }
}

// WithSparseIndexStride overrides SparseIndexStride.
func WithSparseIndexStride(n int) Option {
	return func(o *Options) { o.SparseIndexStride = n }
}

// WithLevelFileThreshold overrides LevelFileThreshold.
func WithLevelFileThreshold(n int) Option {
	return func(o *Options) { o.LevelFileThreshold = n }
}

// WithMaxLevels overrides MaxLevels.
func WithMaxLevels(n int) Option {
	return func(o *Options) { o.MaxLevels = n }
}

// Apply builds an Options from DefaultOptions, applying opts in order,
// then fills in any knob an Option left at its zero value.
func Apply(opts ...Option) Options {
	o := DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return o.WithDefaults()
}
