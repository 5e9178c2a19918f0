package oeplatform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
)

type renderCall struct {
	rows       int
	editable   bool
	target     string
	mirrorSize int
}

type recordingRenderer struct {
	calls []renderCall
}

func (r *recordingRenderer) Render(rows []*RowRecord, editable bool, target string, mirror *Mirror) error {
	r.calls = append(r.calls, renderCall{
		rows:       len(rows),
		editable:   editable,
		target:     target,
		mirrorSize: mirror.Size(),
	})
	return nil
}

type ViewSuite struct {
	suite.Suite

	src      *stubSource
	renderer *recordingRenderer
	view     *View
}

func TestViewSuite(t *testing.T) {
	suite.Run(t, new(ViewSuite))
}

func (s *ViewSuite) SetupTest() {
	s.src = &stubSource{pages: map[TableRef]*RowPage{testRef: testPage(twoRows()...)}}
	s.renderer = &recordingRenderer{}
	s.view = NewView(s.src, testRef,
		WithRenderer(s.renderer),
		WithTarget("grid-test"),
		WithPageSize(10),
	)
}

func (s *ViewSuite) load() {
	s.Require().NoError(s.view.Load(context.Background(), 0))
}

func (s *ViewSuite) TestLoadRendersRows() {
	s.Equal(StateUnloaded, s.view.State())
	s.load()

	s.Equal(StateLoaded, s.view.State())
	s.Require().Len(s.renderer.calls, 1)
	call := s.renderer.calls[0]
	s.Equal(2, call.rows)
	s.True(call.editable)
	s.Equal("grid-test", call.target)
	s.Equal(2, call.mirrorSize)
}

func (s *ViewSuite) TestFetchFailureIsRetryable() {
	s.src.fetchErr = &FetchError{Status: 500, Message: "boom"}
	err := s.view.Load(context.Background(), 0)
	s.Error(err)
	s.Equal(StateFetchFailed, s.view.State())
	s.Equal(err, s.view.Err())

	s.src.fetchErr = nil
	s.load()
	s.Equal(StateLoaded, s.view.State())
	s.NoError(s.view.Err())
}

func (s *ViewSuite) TestEditsMoveViewToDirty() {
	s.load()
	s.NoError(s.view.SetField("1", "name", "x"))
	s.Equal(StateDirty, s.view.State())

	// Reverting the edit makes the view clean again.
	s.NoError(s.view.SetField("1", "name", "a"))
	s.Equal(StateLoaded, s.view.State())
}

func (s *ViewSuite) TestEmptySubmitSkipsGateway() {
	s.load()
	s.NoError(s.view.Submit(context.Background()))
	s.Zero(s.src.saveCalls, "empty change-set must not reach the gateway")
	s.Equal(StateLoaded, s.view.State())
}

func (s *ViewSuite) TestSubmitReconcilesAndRerenders() {
	s.load()
	row := s.view.AddRow()
	row.SetField("name", "z")
	s.NoError(s.view.SetField("1", "name", "x"))

	s.Require().NoError(s.view.Submit(context.Background()))

	s.Equal(1, s.src.saveCalls)
	s.Equal(StateLoaded, s.view.State())
	s.True(s.view.Tracker().IsEmpty())
	s.False(row.IsNew())
	s.False(IsPendingKey(row.Key()))
	s.Len(s.renderer.calls, 2, "submit refreshes the grid")
}

func (s *ViewSuite) TestSubmitFailureRetainsChanges() {
	s.load()
	s.NoError(s.view.SetField("1", "name", "x"))
	before := s.view.Tracker().ChangeSet()

	s.src.saveErr = &SubmitError{Status: 500, Message: "db down"}
	err := s.view.Submit(context.Background())

	var se *SubmitError
	s.ErrorAs(err, &se)
	s.Equal(StateSubmitFailed, s.view.State())
	s.Equal(before, s.view.Tracker().ChangeSet())

	// A retry after the backend recovers goes through.
	s.src.saveErr = nil
	s.NoError(s.view.Submit(context.Background()))
	s.Equal(StateLoaded, s.view.State())
}

func (s *ViewSuite) TestPartialFailureKeepsChangeSet() {
	s.load()
	s.NoError(s.view.SetField("1", "name", "x"))
	before := s.view.Tracker().ChangeSet()

	s.src.saveResult = &SaveResult{Failed: []RowError{{Key: "1", Message: "value out of range"}}}
	err := s.view.Submit(context.Background())

	var se *SubmitError
	s.Require().ErrorAs(err, &se)
	s.Equal([]RowError{{Key: "1", Message: "value out of range"}}, se.Rows)
	s.Equal(before, s.view.Tracker().ChangeSet())
}

func (s *ViewSuite) TestReentrantSubmitForbidden() {
	s.load()
	s.NoError(s.view.SetField("1", "name", "x"))

	var reentrant error
	s.src.onSave = func() {
		reentrant = s.view.Submit(context.Background())
	}
	s.NoError(s.view.Submit(context.Background()))
	s.ErrorIs(reentrant, ErrViewBusy)
}

func (s *ViewSuite) TestLoadForbiddenWhileSubmitting() {
	s.load()
	s.NoError(s.view.SetField("1", "name", "x"))

	var reentrant error
	s.src.onSave = func() {
		reentrant = s.view.Load(context.Background(), 0)
	}
	s.NoError(s.view.Submit(context.Background()))
	s.ErrorIs(reentrant, ErrViewBusy)
}

func (s *ViewSuite) TestCloseAbandonsInFlightSubmit() {
	s.load()
	s.NoError(s.view.SetField("1", "name", "x"))
	before := s.view.Tracker().ChangeSet()

	s.src.onSave = func() { s.view.Close() }
	err := s.view.Submit(context.Background())

	s.ErrorIs(err, ErrViewClosed)
	s.Equal(before, s.view.Tracker().ChangeSet(), "late completion must not mutate a torn-down view")
	s.Nil(s.view.AddRow())
	s.ErrorIs(s.view.SetField("1", "name", "y"), ErrViewClosed)
}

func (s *ViewSuite) TestDeleteRowThenSubmit() {
	s.load()
	s.NoError(s.view.DeleteRow("2"))
	s.Equal(StateDirty, s.view.State())

	s.Require().NoError(s.view.Submit(context.Background()))
	s.Equal([]string{"2"}, s.src.lastSave.Deletes)
	s.Equal(1, s.view.Snapshot().Len())
}

type DualViewSuite struct {
	suite.Suite
}

func TestDualViewSuite(t *testing.T) {
	suite.Run(t, new(DualViewSuite))
}

func (s *DualViewSuite) TestUncheckedRefNaming() {
	ref := UncheckedRef(TableRef{Schema: "model_draft", Table: "power_plants"})
	s.Equal(TableRef{Schema: "_model_draft", Table: "_unchecked_power_plants"}, ref)
}

func (s *DualViewSuite) TestTwinOnlyBuiltWhenFlagged() {
	src := &stubSource{}
	d := NewDualView(Config{Schema: "model_draft", Table: "power_plants"}, src, nil)
	s.Nil(d.Unchecked)
	s.Len(d.Views(), 1)

	d = NewDualView(Config{Schema: "model_draft", Table: "power_plants", HasUncheckedTwin: true}, src, nil)
	s.Require().NotNil(d.Unchecked)
	s.Equal("_model_draft", d.Unchecked.Snapshot().Ref().Schema)
	s.Equal(DefaultMainTarget, d.Main.Target())
	s.Equal(DefaultUncheckedTarget, d.Unchecked.Target())
}

func (s *DualViewSuite) TestExplicitTwinMappingWins() {
	src := &stubSource{}
	twin := &TableRef{Schema: "review", Table: "power_plants_pending"}
	d := NewDualView(Config{
		Schema:           "model_draft",
		Table:            "power_plants",
		HasUncheckedTwin: true,
		Unchecked:        twin,
	}, src, nil)
	s.Equal(*twin, d.Unchecked.Snapshot().Ref())
}

func (s *DualViewSuite) TestViewsAreIndependent() {
	mainRef := TableRef{Schema: "model_draft", Table: "power_plants"}
	twinRef := UncheckedRef(mainRef)
	src := &stubSource{pages: map[TableRef]*RowPage{
		mainRef: testPage(twoRows()...),
		twinRef: testPage(twoRows()...),
	}}

	d := NewDualView(Config{
		Schema:           "model_draft",
		Table:            "power_plants",
		HasUncheckedTwin: true,
		PageSize:         10,
	}, src, nil)
	s.Require().NoError(d.LoadAll(context.Background()))

	mainRow, _ := d.Main.Snapshot().Row("1")
	twinRow, _ := d.Unchecked.Snapshot().Row("1")
	s.NotSame(mainRow, twinRow, "views never share row record instances")

	s.NoError(d.Main.SetField("1", "name", "x"))
	s.NoError(d.Unchecked.SetField("1", "name", "y"))

	mainCS := d.Main.Tracker().ChangeSet()
	twinCS := d.Unchecked.Tracker().ChangeSet()
	s.Equal(map[string]any{"name": "x"}, mainCS.Updates[0].Changed)
	s.Equal(map[string]any{"name": "y"}, twinCS.Updates[0].Changed)

	// Submitting one view leaves the other dirty.
	s.Require().NoError(d.Unchecked.Submit(context.Background()))
	s.Equal(StateDirty, d.Main.State())
	s.Equal(StateLoaded, d.Unchecked.State())
	s.Equal(mainCS, d.Main.Tracker().ChangeSet())
}

func (s *DualViewSuite) TestCloseTearsDownBothViews() {
	mainRef := TableRef{Schema: "model_draft", Table: "power_plants"}
	src := &stubSource{pages: map[TableRef]*RowPage{mainRef: testPage(twoRows()...)}}
	d := NewDualView(Config{Schema: "model_draft", Table: "power_plants", HasUncheckedTwin: true}, src, nil)
	d.Close()
	s.ErrorIs(d.Main.Load(context.Background(), 0), ErrViewClosed)
	s.ErrorIs(d.Unchecked.Load(context.Background(), 0), ErrViewClosed)
}
