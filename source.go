// Package oeplatform implements the dataedit client core: fetched table
// snapshots, staged row edits and the change-set protocol used to push
// them back to a backend.
package oeplatform

import "context"

type (
	TableRef struct {
		Schema string `json:"schema"`
		Table  string `json:"table"`
	}

	Page struct {
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	}

	RowData struct {
		Key    string         `json:"key"`
		Values map[string]any `json:"values"`
	}

	RowPage struct {
		Rows  []RowData `json:"rows"`
		Total int       `json:"total"`
	}

	// DataSource is one concrete backend a view reads from and submits
	// to. Variants are selected at construction, never by inspecting a
	// backend-kind string at the call site.
	DataSource interface {
		Fetch(ctx context.Context, table TableRef, page Page) (*RowPage, error)
		Save(ctx context.Context, table TableRef, changes ChangeSet) (*SaveResult, error)
	}

	// SaveResult reports the outcome of one submitted change-set.
	// Assigned maps placeholder keys of created rows to their permanent
	// backend keys. Failed carries per-row rejections; a non-empty list
	// means the backend applied nothing.
	SaveResult struct {
		Assigned map[string]string `json:"assigned,omitempty"`
		Failed   []RowError        `json:"failed,omitempty"`
	}
)

func (r *SaveResult) OK() bool { return len(r.Failed) == 0 }

func (t TableRef) String() string { return t.Schema + "." + t.Table }
