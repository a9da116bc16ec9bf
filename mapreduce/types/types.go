package types

import (
	"cmp"
	"slices"
)

// CountPair is the mapper output and the unit the aggregator folds.
type CountPair struct {
	Key   string
	Count int64
}

// Combiner merges two counts for the same key. It must be commutative and
// associative: partial results are merged in whatever order executors finish.
type Combiner func(a, b int64) int64

// Sum is the default Combiner.
func Sum(a, b int64) int64 {
	return a + b
}

// ResultSet maps a distinct key to its total count.
type ResultSet map[string]int64

// NewResultSet creates an empty ResultSet
func NewResultSet() ResultSet {
	return make(ResultSet)
}

// AddWith folds a pair into the set using combine.
func (rs ResultSet) AddWith(pair CountPair, combine Combiner) {
	if cur, ok := rs[pair.Key]; ok {
		rs[pair.Key] = combine(cur, pair.Count)
		return
	}
	rs[pair.Key] = pair.Count
}

// Add folds a pair into the set by summing.
func (rs ResultSet) Add(pair CountPair) {
	rs.AddWith(pair, Sum)
}

// MergeWith folds every entry of other into rs.
func (rs ResultSet) MergeWith(other ResultSet, combine Combiner) {
	for k, v := range other {
		rs.AddWith(CountPair{Key: k, Count: v}, combine)
	}
}

// Merge folds every entry of other into rs by summing.
func (rs ResultSet) Merge(other ResultSet) {
	rs.MergeWith(other, Sum)
}

// Total returns the sum of all counts.
func (rs ResultSet) Total() int64 {
	var total int64
	for _, v := range rs {
		total += v
	}
	return total
}

// Equal reports whether both sets hold the same keys with the same counts.
func (rs ResultSet) Equal(other ResultSet) bool {
	if len(rs) != len(other) {
		return false
	}
	for k, v := range rs {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Sorted returns the entries ordered by count descending, then key ascending.
func (rs ResultSet) Sorted() []CountPair {
	pairs := make([]CountPair, 0, len(rs))
	for k, v := range rs {
		pairs = append(pairs, CountPair{Key: k, Count: v})
	}
	slices.SortFunc(pairs, func(a, b CountPair) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return pairs
}

// Partial is what an executor returns for one chunk of lines.
type Partial struct {
	Counts ResultSet
	// Emitted holds, per operator after the source, how many records it
	// produced for the chunk.
	Emitted []int64
}
