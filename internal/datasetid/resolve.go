// Package datasetid resolves dataset ids against configuration tables and
// names the reverse-strand companions of scored datasets.
package datasetid

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ReverseSuffix marks the reverse-complement pass of a dataset.
const ReverseSuffix = "_rc"

var (
	ErrNotFound  = errors.New("dataset id not found")
	ErrAmbiguous = errors.New("dataset id is ambiguous")
)

// Reverse returns the key of the reverse-strand brick for id.
func Reverse(id string) string {
	return id + ReverseSuffix
}

// IsReverse reports whether key names a reverse-strand brick.
func IsReverse(key string) bool {
	return strings.HasSuffix(key, ReverseSuffix)
}

// Resolve looks id up in table. An exact key wins; otherwise the keys that
// contain id as a substring are collected and exactly one must exist.
func Resolve[V any](table map[string]V, id string) (V, string, error) {
	if v, ok := table[id]; ok {
		return v, id, nil
	}

	var zero V
	candidates := Candidates(table, id)
	switch len(candidates) {
	case 0:
		return zero, "", fmt.Errorf("%w: %q", ErrNotFound, id)
	case 1:
		return table[candidates[0]], candidates[0], nil
	default:
		return zero, "", fmt.Errorf("%w: %q matches %s", ErrAmbiguous, id, strings.Join(candidates, ", "))
	}
}

// Candidates returns the sorted keys of table that contain id.
func Candidates[V any](table map[string]V, id string) []string {
	if id == "" {
		return nil
	}
	var out []string
	for key := range table {
		if strings.Contains(key, id) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
