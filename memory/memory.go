// Package memory provides an in-memory DataSource used by tests and the
// dev server.
package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/zyedidia/generic"
	"github.com/zyedidia/generic/btree"

	"github.com/suhitaghosh10/oeplatform"
)

var ErrNotFound = fmt.Errorf("not found")

var _ oeplatform.DataSource = (*Backend)(nil)

type (
	Backend struct {
		rows *btree.Tree[string, *Row]
		seq  uint64
	}

	Row struct {
		Ref    oeplatform.TableRef
		Key    string
		Values map[string]any
		Seq    uint64
	}
)

func New() *Backend {
	return &Backend{
		rows: btree.New[string, *Row](generic.Less[string]),
	}
}

// Seed inserts rows with caller-chosen keys, preserving slice order as
// fetch order.
func (b *Backend) Seed(ref oeplatform.TableRef, rows []oeplatform.RowData) {
	for _, data := range rows {
		b.put(ref, data.Key, data.Values)
	}
}

// Insert stores one row under a freshly assigned key and returns it.
func (b *Backend) Insert(ref oeplatform.TableRef, values map[string]any) string {
	key := uuid.NewString()
	b.put(ref, key, values)
	return key
}

func (b *Backend) put(ref oeplatform.TableRef, key string, values map[string]any) {
	b.seq++
	b.rows.Put(makeKey(ref, key), &Row{
		Ref:    ref,
		Key:    key,
		Values: cloneValues(values),
		Seq:    b.seq,
	})
}

func (b *Backend) Get(ref oeplatform.TableRef, key string) (map[string]any, error) {
	row, ok := b.rows.Get(makeKey(ref, key))
	if !ok {
		return nil, ErrNotFound
	}
	return cloneValues(row.Values), nil
}

func (b *Backend) Size() int {
	return b.rows.Size()
}

// Fetch returns one window of the table's rows in insertion order plus
// the total row count.
func (b *Backend) Fetch(ctx context.Context, ref oeplatform.TableRef, page oeplatform.Page) (*oeplatform.RowPage, error) {
	rows := b.tableRows(ref)

	total := len(rows)
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if page.Limit > 0 && offset+page.Limit < end {
		end = offset + page.Limit
	}

	result := &oeplatform.RowPage{Total: total, Rows: make([]oeplatform.RowData, 0, end-offset)}
	for _, row := range rows[offset:end] {
		result.Rows = append(result.Rows, oeplatform.RowData{
			Key:    row.Key,
			Values: cloneValues(row.Values),
		})
	}
	return result, nil
}

// Save applies one change-set. The whole set is validated first; any
// unknown row is reported per-row in SaveResult.Failed and nothing is
// applied.
func (b *Backend) Save(ctx context.Context, ref oeplatform.TableRef, cs oeplatform.ChangeSet) (*oeplatform.SaveResult, error) {
	var failed []oeplatform.RowError
	for _, update := range cs.Updates {
		if _, ok := b.rows.Get(makeKey(ref, update.Key)); !ok {
			failed = append(failed, oeplatform.RowError{Key: update.Key, Message: "row does not exist"})
		}
	}
	for _, key := range cs.Deletes {
		if _, ok := b.rows.Get(makeKey(ref, key)); !ok {
			failed = append(failed, oeplatform.RowError{Key: key, Message: "row does not exist"})
		}
	}
	if len(failed) > 0 {
		return &oeplatform.SaveResult{Failed: failed}, nil
	}

	result := &oeplatform.SaveResult{Assigned: map[string]string{}}
	for _, create := range cs.Creates {
		result.Assigned[create.Key] = b.Insert(ref, create.Values)
	}
	for _, update := range cs.Updates {
		row, _ := b.rows.Get(makeKey(ref, update.Key))
		for name, value := range update.Changed {
			row.Values[name] = value
		}
	}
	for _, key := range cs.Deletes {
		b.rows.Remove(makeKey(ref, key))
	}
	return result, nil
}

func (b *Backend) tableRows(ref oeplatform.TableRef) []*Row {
	rows := make([]*Row, 0)
	b.rows.Each(func(key string, row *Row) {
		if row.Ref == ref {
			rows = append(rows, row)
		}
	})
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Seq < rows[j].Seq
	})
	return rows
}

func makeKey(ref oeplatform.TableRef, key string) string {
	return ref.Schema + "." + ref.Table + "/" + key
}

func cloneValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
