// Package keyresolve determines the identity of every row in a table:
// either the declared primary-key tuple, or a synthesized content hash over
// the canonical geometry plus designated hash fields when no stable
// identifier exists. Duplicate keys within one table are a fatal input
// error carrying every duplicate group, never silently resolved.
package keyresolve

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/bcgov/geodiff/geomcmp"
	"github.com/bcgov/geodiff/geotable"
)

// Mode is the key-resolution strategy. It is carried through the match and
// report stages so later stages never re-branch on configuration.
type Mode int

const (
	ModePrimaryKey Mode = iota + 1
	ModeHash
)

func (m Mode) String() string {
	switch m {
	case ModePrimaryKey:
		return "primary_key"
	case ModeHash:
		return "hash"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Key is the canonical string identity of a row within one table snapshot.
type Key string

// Spec declares how keys are resolved. With PrimaryKey set, keys are the
// declared columns' values. Otherwise keys are synthesized by hashing; an
// empty HashFields means all non-geometry columns participate. Precision
// is the geometry rounding used in hash synthesis (0 means
// geomcmp.DefaultPrecision).
type Spec struct {
	PrimaryKey []string
	HashFields []string
	Precision  float64
}

// Result carries one key per row, parallel to the table's rows.
type Result struct {
	Mode Mode
	Keys []Key
}

// ColumnError indicates a declared primary-key or hash column that is not
// part of the table schema.
type ColumnError struct {
	Table  string
	Column string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("key column %q is not part of table %s", e.Column, e.Table)
}

// DuplicateGroup is one duplicated key value and the number of rows
// sharing it.
type DuplicateGroup struct {
	Key   Key
	Count int
}

// UniquenessError reports every duplicated key group found in one table,
// ordered by key, so the caller can act on the full list in one pass.
type UniquenessError struct {
	Table  string
	Groups []DuplicateGroup
}

func (e *UniquenessError) Error() string {
	parts := make([]string, len(e.Groups))
	for i, g := range e.Groups {
		parts[i] = fmt.Sprintf("%q (%d rows)", g.Key, g.Count)
	}
	return fmt.Sprintf(
		"duplicate keys in table %s: %s", e.Table, strings.Join(parts, ", "),
	)
}

// Resolve computes the key for every row of tbl under spec and verifies
// uniqueness within the table.
func Resolve(tbl *geotable.Table, spec Spec) (Result, error) {
	var res Result
	var err error
	if len(spec.PrimaryKey) > 0 {
		res, err = resolvePrimaryKey(tbl, spec.PrimaryKey)
	} else {
		res, err = resolveHash(tbl, spec)
	}
	if err != nil {
		return Result{}, err
	}
	if err := checkUnique(tbl.Name, res.Keys); err != nil {
		return Result{}, err
	}
	return res, nil
}

func resolvePrimaryKey(tbl *geotable.Table, pk []string) (Result, error) {
	idxs := make([]int, len(pk))
	for i, name := range pk {
		idx, ok := tbl.ColumnIndex(name)
		if !ok {
			return Result{}, &ColumnError{Table: tbl.Name, Column: name}
		}
		idxs[i] = idx
	}
	keys := make([]Key, len(tbl.Rows))
	parts := make([]string, len(idxs))
	for ri, row := range tbl.Rows {
		for pi, idx := range idxs {
			parts[pi] = geotable.FormatValue(row.Values[idx])
		}
		keys[ri] = Key(strings.Join(parts, "|"))
	}
	return Result{Mode: ModePrimaryKey, Keys: keys}, nil
}

func resolveHash(tbl *geotable.Table, spec Spec) (Result, error) {
	fields := spec.HashFields
	if len(fields) == 0 {
		fields = tbl.ColumnNames()
	}
	idxs := make([]int, len(fields))
	for i, name := range fields {
		idx, ok := tbl.ColumnIndex(name)
		if !ok {
			return Result{}, &ColumnError{Table: tbl.Name, Column: name}
		}
		idxs[i] = idx
	}
	precision := spec.Precision
	if precision == 0 {
		precision = geomcmp.DefaultPrecision
	}
	keys := make([]Key, len(tbl.Rows))
	for ri, row := range tbl.Rows {
		wkbData, err := geomcmp.CanonicalWKB(row.Geometry, precision)
		if err != nil {
			return Result{}, err
		}
		h := sha1.New()
		h.Write(wkbData)
		for _, idx := range idxs {
			h.Write([]byte("|"))
			h.Write([]byte(geotable.FormatValue(row.Values[idx])))
		}
		keys[ri] = Key(hex.EncodeToString(h.Sum(nil)))
	}
	return Result{Mode: ModeHash, Keys: keys}, nil
}

func checkUnique(table string, keys []Key) error {
	counts := make(map[Key]int, len(keys))
	for _, k := range keys {
		counts[k]++
	}
	var groups []DuplicateGroup
	for k, n := range counts {
		if n > 1 {
			groups = append(groups, DuplicateGroup{Key: k, Count: n})
		}
	}
	if len(groups) == 0 {
		return nil
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Key < groups[j].Key
	})
	return &UniquenessError{Table: table, Groups: groups}
}
