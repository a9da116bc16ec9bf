package utils

import (
	"slices"
	"strings"
)

// UniqueList keeps the first occurrence of every item in insertion order.
type UniqueList[T comparable] struct {
	list []T
}

func NewUniqueList[T comparable]() *UniqueList[T] {
	return &UniqueList[T]{
		list: make([]T, 0),
	}
}

// Add appends item unless it is already present.
func (o *UniqueList[T]) Add(item T) *UniqueList[T] {
	if slices.Contains(o.list, item) {
		return o
	}
	o.list = append(o.list, item)
	return o
}

// Items returns a copy of the list
func (o *UniqueList[T]) Items() []T {
	return slices.Clone(o.list)
}

// SplitList splits a comma separated flag value, trimming blanks and
// dropping empty and repeated entries.
func SplitList(value string) []string {
	l := NewUniqueList[string]()
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			l.Add(item)
		}
	}
	return l.Items()
}
