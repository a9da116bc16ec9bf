package types

import (
	"slices"
	"testing"
)

func TestResultSetAddAndMerge(t *testing.T) {
	a := NewResultSet()
	a.Add(CountPair{Key: "cat", Count: 1})
	a.Add(CountPair{Key: "cat", Count: 1})
	a.Add(CountPair{Key: "mat", Count: 1})

	b := ResultSet{"cat": 3, "sat": 2}
	a.Merge(b)

	want := ResultSet{"cat": 5, "mat": 1, "sat": 2}
	if !a.Equal(want) {
		t.Fatalf("got %v, want %v", a, want)
	}
	if a.Total() != 8 {
		t.Errorf("Total = %d, want 8", a.Total())
	}
}

func TestResultSetMergeWithCustomCombiner(t *testing.T) {
	maxOf := func(x, y int64) int64 { return max(x, y) }
	a := ResultSet{"x": 4, "y": 1}
	a.MergeWith(ResultSet{"x": 2, "y": 7, "z": 3}, maxOf)
	if !a.Equal(ResultSet{"x": 4, "y": 7, "z": 3}) {
		t.Fatalf("got %v", a)
	}
}

func TestResultSetEqual(t *testing.T) {
	if (ResultSet{"a": 1}).Equal(ResultSet{"a": 2}) {
		t.Error("different counts compared equal")
	}
	if (ResultSet{"a": 1}).Equal(ResultSet{"b": 1}) {
		t.Error("different keys compared equal")
	}
	if !NewResultSet().Equal(ResultSet{}) {
		t.Error("empty sets differ")
	}
}

func TestSortedOrder(t *testing.T) {
	rs := ResultSet{"the": 2, "cat": 2, "sat": 1, "on": 1, "mat": 1}
	got := rs.Sorted()
	want := []CountPair{
		{"cat", 2}, {"the", 2}, {"mat", 1}, {"on", 1}, {"sat", 1},
	}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
