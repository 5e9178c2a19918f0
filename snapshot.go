package oeplatform

import (
	"context"
	"fmt"
)

// DefaultPageSize matches the window the backend serves when no limit is
// given.
const DefaultPageSize = 100

// Snapshot is the in-memory page of rows fetched for one table. Row order
// is fetch order and is preserved for display determinism. A snapshot is
// owned by exactly one view and never shared.
type Snapshot struct {
	ref            TableRef
	page           Page
	total          int
	hasRowComments bool
	rows           []*RowRecord
	byKey          map[string]*RowRecord
}

func NewSnapshot(ref TableRef) *Snapshot {
	return &Snapshot{
		ref:   ref,
		byKey: map[string]*RowRecord{},
	}
}

func (s *Snapshot) Ref() TableRef { return s.ref }
func (s *Snapshot) Page() Page    { return s.page }
func (s *Snapshot) Total() int    { return s.total }
func (s *Snapshot) Len() int      { return len(s.rows) }

func (s *Snapshot) HasRowComments() bool       { return s.hasRowComments }
func (s *Snapshot) SetHasRowComments(has bool) { s.hasRowComments = has }

// Fetch replaces the snapshot's sequence with one page from the source.
// All-or-nothing: on any transport or consistency failure the previous
// sequence is left untouched and a *FetchError is returned.
func (s *Snapshot) Fetch(ctx context.Context, src DataSource, page Page) error {
	if page.Limit <= 0 {
		page.Limit = DefaultPageSize
	}
	result, err := src.Fetch(ctx, s.ref, page)
	if err != nil {
		return asFetchError(err)
	}
	return s.apply(result, page)
}

func (s *Snapshot) apply(result *RowPage, page Page) error {
	rows := make([]*RowRecord, 0, len(result.Rows))
	byKey := make(map[string]*RowRecord, len(result.Rows))
	for _, data := range result.Rows {
		if _, dup := byKey[data.Key]; dup {
			return &FetchError{Message: fmt.Sprintf("duplicate row key %q in %s", data.Key, s.ref)}
		}
		row := newFetchedRow(data.Key, data.Values)
		rows = append(rows, row)
		byKey[data.Key] = row
	}
	s.rows = rows
	s.byKey = byKey
	s.page = page
	s.total = result.Total
	return nil
}

// AddRow appends a new record with a locally unique placeholder key and
// returns it so the caller can bind it to the grid.
func (s *Snapshot) AddRow() *RowRecord {
	row := newPendingRow()
	s.rows = append(s.rows, row)
	s.byKey[row.key] = row
	return row
}

// Rows returns a fresh ordered slice of the current sequence. Rows marked
// deleted are included, flagged, so the renderer can style them before
// the delete is committed.
func (s *Snapshot) Rows() []*RowRecord {
	out := make([]*RowRecord, len(s.rows))
	copy(out, s.rows)
	return out
}

func (s *Snapshot) Row(key string) (*RowRecord, bool) {
	row, ok := s.byKey[key]
	return row, ok
}

// DeleteRow soft-deletes the row with the given key. A row that was never
// saved is discarded from the sequence outright.
func (s *Snapshot) DeleteRow(key string) bool {
	row, ok := s.byKey[key]
	if !ok {
		return false
	}
	if row.MarkDeleted() {
		s.remove(key)
	}
	return true
}

func (s *Snapshot) remove(key string) {
	row, ok := s.byKey[key]
	if !ok {
		return
	}
	delete(s.byKey, key)
	for i, r := range s.rows {
		if r == row {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			return
		}
	}
}

func (s *Snapshot) rekey(oldKey, newKey string) {
	row, ok := s.byKey[oldKey]
	if !ok {
		return
	}
	delete(s.byKey, oldKey)
	row.key = newKey
	s.byKey[newKey] = row
}

func asFetchError(err error) error {
	if fe, ok := err.(*FetchError); ok {
		return fe
	}
	return &FetchError{Message: err.Error()}
}
