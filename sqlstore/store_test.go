package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhitaghosh10/oeplatform"
)

var ref = oeplatform.TableRef{Schema: "model_draft", Table: "power_plants"}

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "dataedit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.EnsureTable(context.Background(), ref, []string{"name", "energy_source"}))
	return store
}

func create(name, source string) oeplatform.RowCreate {
	return oeplatform.RowCreate{
		Key:    "pending:" + name,
		Values: map[string]any{"name": name, "energy_source": source},
	}
}

func TestSaveAndFetchRoundtrip(t *testing.T) {
	a := assert.New(t)
	store := openStore(t)
	ctx := context.Background()

	result, err := store.Save(ctx, ref, oeplatform.ChangeSet{
		Creates: []oeplatform.RowCreate{create("alpha", "wind"), create("beta", "solar")},
	})
	a.NoError(err)
	a.True(result.OK())
	a.Len(result.Assigned, 2)

	page, err := store.Fetch(ctx, ref, oeplatform.Page{Limit: 10})
	a.NoError(err)
	a.Equal(2, page.Total)
	a.Len(page.Rows, 2)
	for _, row := range page.Rows {
		a.NotEmpty(row.Key)
		a.Equal(row.Key, row.Values[DefaultKeyColumn])
	}
}

func TestFetchWindow(t *testing.T) {
	a := assert.New(t)
	store := openStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, ref, oeplatform.ChangeSet{
		Creates: []oeplatform.RowCreate{create("a", "wind"), create("b", "wind"), create("c", "wind")},
	})
	a.NoError(err)

	page, err := store.Fetch(ctx, ref, oeplatform.Page{Offset: 1, Limit: 1})
	a.NoError(err)
	a.Equal(3, page.Total)
	a.Len(page.Rows, 1)
}

func TestUpdateAndDelete(t *testing.T) {
	a := assert.New(t)
	store := openStore(t)
	ctx := context.Background()

	seeded, err := store.Save(ctx, ref, oeplatform.ChangeSet{
		Creates: []oeplatform.RowCreate{create("alpha", "wind"), create("beta", "solar")},
	})
	a.NoError(err)
	alpha := seeded.Assigned["pending:alpha"]
	beta := seeded.Assigned["pending:beta"]

	result, err := store.Save(ctx, ref, oeplatform.ChangeSet{
		Updates: []oeplatform.RowUpdate{{Key: alpha, Changed: map[string]any{"name": "gamma"}}},
		Deletes: []string{beta},
	})
	a.NoError(err)
	a.True(result.OK())

	page, err := store.Fetch(ctx, ref, oeplatform.Page{Limit: 10})
	a.NoError(err)
	a.Equal(1, page.Total)
	a.Equal("gamma", page.Rows[0].Values["name"])
}

func TestUnknownRowRollsBackWholeSet(t *testing.T) {
	a := assert.New(t)
	store := openStore(t)
	ctx := context.Background()

	seeded, err := store.Save(ctx, ref, oeplatform.ChangeSet{
		Creates: []oeplatform.RowCreate{create("alpha", "wind")},
	})
	a.NoError(err)
	alpha := seeded.Assigned["pending:alpha"]

	result, err := store.Save(ctx, ref, oeplatform.ChangeSet{
		Updates: []oeplatform.RowUpdate{{Key: alpha, Changed: map[string]any{"name": "gamma"}}},
		Deletes: []string{"404"},
	})
	a.NoError(err)
	a.False(result.OK())
	a.Equal("404", result.Failed[0].Key)

	// The valid update in the same set was rolled back with it.
	page, err := store.Fetch(ctx, ref, oeplatform.Page{Limit: 10})
	a.NoError(err)
	a.Equal("alpha", page.Rows[0].Values["name"])
}

func TestSQLiteQualifiesSchemalessTables(t *testing.T) {
	a := assert.New(t)
	store := openStore(t)
	ctx := context.Background()

	twin := oeplatform.UncheckedRef(ref)
	a.NoError(store.EnsureTable(ctx, twin, []string{"name"}))

	_, err := store.Save(ctx, twin, oeplatform.ChangeSet{
		Creates: []oeplatform.RowCreate{{Key: "pending:x", Values: map[string]any{"name": "twin"}}},
	})
	a.NoError(err)

	page, err := store.Fetch(ctx, ref, oeplatform.Page{Limit: 10})
	a.NoError(err)
	a.Zero(page.Total, "twin rows stay out of the published table")
}
