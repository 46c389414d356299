// Package schemadiff compares the column sets of two table versions. It is
// purely structural: row values are never inspected, and column order alone
// is never a change.
package schemadiff

import (
	"sort"

	"github.com/bcgov/geodiff/geotable"
)

// TypeChange is a column present in both versions whose normalized semantic
// type differs.
type TypeChange struct {
	Name string
	Old  geotable.Type
	New  geotable.Type
}

// Diff holds the structural changes between two column sets. Each column
// name appears in at most one of the three lists; all lists are ordered
// lexicographically by column name.
type Diff struct {
	Added       []geotable.Column
	Removed     []geotable.Column
	TypeChanged []TypeChange
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.TypeChanged) == 0
}

type columnIterator struct {
	columns []geotable.Column
	currIdx int
}

func (it *columnIterator) done() bool {
	return it.currIdx >= len(it.columns)
}

func (it *columnIterator) next() {
	it.currIdx++
}

func (it *columnIterator) curr() geotable.Column {
	return it.columns[it.currIdx]
}

// Compare returns the schema diff between the previous and current tables.
func Compare(prev, cur *geotable.Table) Diff {
	var iterators [2]columnIterator
	for i, tbl := range []*geotable.Table{prev, cur} {
		sorted := make([]geotable.Column, len(tbl.Columns))
		copy(sorted, tbl.Columns)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Name < sorted[j].Name
		})
		iterators[i] = columnIterator{columns: sorted}
	}
	return compare(iterators)
}

// compare walks two column lists sorted by name, classifying each column as
// removed (previous only), added (current only), or type-changed.
func compare(iterators [2]columnIterator) Diff {
	ret := Diff{}
	prevIterator := &iterators[0]
	curIterator := &iterators[1]
	for !prevIterator.done() {
		compareVal := 1
		if !curIterator.done() {
			switch {
			case curIterator.curr().Name < prevIterator.curr().Name:
				compareVal = -1
			case curIterator.curr().Name == prevIterator.curr().Name:
				compareVal = 0
			}
		}
		switch compareVal {
		case -1:
			// Present only in current.
			ret.Added = append(ret.Added, curIterator.curr())
			curIterator.next()
		case 0:
			if prevIterator.curr().Type != curIterator.curr().Type {
				ret.TypeChanged = append(ret.TypeChanged, TypeChange{
					Name: prevIterator.curr().Name,
					Old:  prevIterator.curr().Type,
					New:  curIterator.curr().Type,
				})
			}
			prevIterator.next()
			curIterator.next()
		case 1:
			// Present only in previous.
			ret.Removed = append(ret.Removed, prevIterator.curr())
			prevIterator.next()
		}
	}
	for !curIterator.done() {
		ret.Added = append(ret.Added, curIterator.curr())
		curIterator.next()
	}
	return ret
}
