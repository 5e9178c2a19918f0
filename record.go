package oeplatform

import (
	"reflect"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Keys of rows created locally carry this prefix until the backend
// assigns a permanent key during reconcile.
const pendingKeyPrefix = "pending:"

type RowRecord struct {
	key      string
	original map[string]any
	current  map[string]any
	isNew    bool
	deleted  bool
}

func newFetchedRow(key string, values map[string]any) *RowRecord {
	return &RowRecord{
		key:      key,
		original: cloneValues(values),
		current:  cloneValues(values),
	}
}

func newPendingRow() *RowRecord {
	return &RowRecord{
		key:     pendingKeyPrefix + ulid.Make().String(),
		current: map[string]any{},
		isNew:   true,
	}
}

func IsPendingKey(key string) bool {
	return strings.HasPrefix(key, pendingKeyPrefix)
}

func (r *RowRecord) Key() string     { return r.key }
func (r *RowRecord) IsNew() bool     { return r.isNew }
func (r *RowRecord) IsDeleted() bool { return r.deleted }

func (r *RowRecord) Field(name string) (any, bool) {
	v, ok := r.current[name]
	return v, ok
}

// Values returns a copy of the row's current cell values.
func (r *RowRecord) Values() map[string]any {
	return cloneValues(r.current)
}

// SetField stages a new cell value. Edits against a row already marked
// deleted are dropped.
func (r *RowRecord) SetField(name string, value any) {
	if r.deleted {
		return
	}
	r.current[name] = value
}

// MarkDeleted flags the row for deletion on the next submit. Deleting a
// row that was never saved cancels it outright: MarkDeleted reports
// discard=true and the caller must drop the record from its sequence.
func (r *RowRecord) MarkDeleted() (discard bool) {
	if r.isNew {
		return true
	}
	r.deleted = true
	return false
}

// Diff returns the fields whose current value differs from the fetched
// original. Values are compared structurally, so geometry and other
// nested representations are treated as opaque cell values.
func (r *RowRecord) Diff() map[string]any {
	diff := map[string]any{}
	for name, value := range r.current {
		orig, ok := r.original[name]
		if !ok || !reflect.DeepEqual(orig, value) {
			diff[name] = value
		}
	}
	return diff
}

func (r *RowRecord) isDirty() bool {
	if r.isNew || r.deleted {
		return true
	}
	return len(r.Diff()) > 0
}

func cloneValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
