// Package rowmatch joins the previous and current tables on their resolved
// keys. The join is a single hash-map pass, linear in the row counts, and
// one-to-one by construction since duplicate keys are rejected upstream.
package rowmatch

import "github.com/bcgov/geodiff/diff/keyresolve"

// Match pairs a key with its row index in each table version.
type Match struct {
	Key  keyresolve.Key
	Prev int
	Cur  int
}

// Entry is a key present in only one table version, with its row index
// there.
type Entry struct {
	Key keyresolve.Key
	Row int
}

// Result partitions all keys from both tables into three disjoint sets:
// matched (present in both), inserted (current only), deleted (previous
// only). Each list preserves the owning table's row order.
type Result struct {
	Matched  []Match
	Inserted []Entry
	Deleted  []Entry
}

// Join performs the equi-join of the two key sequences.
func Join(prevKeys, curKeys []keyresolve.Key) Result {
	prevIdx := make(map[keyresolve.Key]int, len(prevKeys))
	for i, k := range prevKeys {
		prevIdx[k] = i
	}
	ret := Result{}
	matched := make(map[keyresolve.Key]struct{}, len(curKeys))
	for i, k := range curKeys {
		if pi, ok := prevIdx[k]; ok {
			ret.Matched = append(ret.Matched, Match{Key: k, Prev: pi, Cur: i})
			matched[k] = struct{}{}
		} else {
			ret.Inserted = append(ret.Inserted, Entry{Key: k, Row: i})
		}
	}
	for i, k := range prevKeys {
		if _, ok := matched[k]; !ok {
			ret.Deleted = append(ret.Deleted, Entry{Key: k, Row: i})
		}
	}
	return ret
}
