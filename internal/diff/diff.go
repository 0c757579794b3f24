// Package diff compares two flat key/value sets and classifies every
// key as added, removed, changed, or unchanged. It is used to preview
// imports and to compare a vault against a local env file; values may
// be plaintext or ciphertext, the comparison is plain string equality.
package diff

import "sort"

// Status classifies one key across the two sides of a comparison.
type Status int

const (
	Unchanged Status = iota
	Added
	Removed
	Changed
)

// String returns the lowercase status label used in command output.
func (s Status) String() string {
	switch s {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Changed:
		return "changed"
	}
	return "unchanged"
}

// Entry is the comparison result for one key. Old is empty for added
// keys and New is empty for removed ones.
type Entry struct {
	Key    string
	Status Status
	Old    string
	New    string
}

// Result is the full comparison, entries sorted by key.
type Result struct {
	Entries []Entry
}

// Compute compares old against new. Keys only in new are Added, keys
// only in old are Removed, keys in both with differing values are
// Changed.
func Compute(old, new map[string]string) Result {
	keys := make(map[string]struct{}, len(old)+len(new))
	for k := range old {
		keys[k] = struct{}{}
	}
	for k := range new {
		keys[k] = struct{}{}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	entries := make([]Entry, 0, len(sorted))
	for _, k := range sorted {
		oldV, inOld := old[k]
		newV, inNew := new[k]

		e := Entry{Key: k, Old: oldV, New: newV}
		switch {
		case !inOld:
			e.Status = Added
		case !inNew:
			e.Status = Removed
		case oldV != newV:
			e.Status = Changed
		default:
			e.Status = Unchanged
		}
		entries = append(entries, e)
	}

	return Result{Entries: entries}
}

// Changed reports whether the result contains anything other than
// unchanged keys.
func (r Result) Changed() bool {
	for _, e := range r.Entries {
		if e.Status != Unchanged {
			return true
		}
	}
	return false
}

// Counts returns the number of added, removed, and changed keys.
func (r Result) Counts() (added, removed, changed int) {
	for _, e := range r.Entries {
		switch e.Status {
		case Added:
			added++
		case Removed:
			removed++
		case Changed:
			changed++
		}
	}
	return
}
