package permutation

// Option applies a configuration option to the Tester.
type Option func(*Tester)

// WithIterations sets the number of shuffles. Zero is allowed and yields p = 1.
func WithIterations(n int) Option {
	return func(t *Tester) {
		if n >= 0 {
			t.iterations = n
		}
	}
}

// WithWorkers sets the number of goroutines shuffling in parallel. 1 runs serially.
func WithWorkers(n int) Option {
	return func(t *Tester) {
		if n > 0 {
			t.workers = n
		}
	}
}

// WithSeed sets the base seed every iteration derives its generator from.
func WithSeed(seed uint64) Option {
	return func(t *Tester) {
		t.seed = seed
	}
}

// WithCompare replaces the "at least as extreme" predicate.
func WithCompare(c Compare) Option {
	return func(t *Tester) {
		if c != nil {
			t.compare = c
		}
	}
}
