// Package filterset provides an in-memory probabilistic filter used to
// short-circuit negative lookups: a Fetch for a key that was never
// stored can skip taking the bucket lock and walking the chain
// entirely. It never affects correctness — a false positive simply
// falls through to the real chain walk — and it never touches the
// on-disk format.
//
// Deletes do not clear bits: bloom filters cannot remove a member
// without risking false negatives for other keys sharing a bit, so a
// deleted key's bit pattern lingers until the filter is rebuilt (on
// the next Open). This is a deliberate, documented drift toward more
// false positives over time, never false negatives.
package filterset

import "github.com/bits-and-blooms/bloom/v3"

// Filter is a negative-lookup filter sized for an expected key count
// and false-positive rate.
type Filter struct {
	bf *bloom.BloomFilter
}

// New builds a filter sized for expectedKeys entries at the given
// false-positive rate.
func New(expectedKeys uint, falsePositiveRate float64) *Filter {
	if expectedKeys == 0 {
		expectedKeys = 1024
	}
	if falsePositiveRate <= 0 {
		falsePositiveRate = 0.01
	}
	return &Filter{bf: bloom.NewWithEstimates(expectedKeys, falsePositiveRate)}
}

// Add records that key has been stored.
func (f *Filter) Add(key string) {
	f.bf.Add([]byte(key))
}

// MightContain reports whether key could be present. false is a
// definitive answer — the key was never added. true requires
// confirmation via the real index.
func (f *Filter) MightContain(key string) bool {
	return f.bf.Test([]byte(key))
}
