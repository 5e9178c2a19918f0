package oeplatform

import (
	"github.com/zyedidia/generic"
	"github.com/zyedidia/generic/btree"
)

// Mirror is the key-ordered record store handed to the grid renderer so
// it can route cell edits back to the right record. It replaces the
// process-wide row maps of older dataedit pages: each view rebuilds its
// own mirror on render and passes it along explicitly.
type Mirror struct {
	records *btree.Tree[string, *RowRecord]
}

func NewMirror() *Mirror {
	return &Mirror{
		records: btree.New[string, *RowRecord](generic.Less[string]),
	}
}

func (m *Mirror) Put(row *RowRecord) {
	m.records.Put(row.Key(), row)
}

func (m *Mirror) Lookup(key string) (*RowRecord, bool) {
	return m.records.Get(key)
}

func (m *Mirror) Each(fn func(key string, row *RowRecord)) {
	m.records.Each(fn)
}

func (m *Mirror) Size() int {
	return m.records.Size()
}
