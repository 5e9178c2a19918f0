package oeplatform

import (
	"context"
	"log"
)

type ViewState int

const (
	StateUnloaded ViewState = iota
	StateLoading
	StateLoaded
	StateDirty
	StateSubmitting
	StateFetchFailed
	StateSubmitFailed
)

func (s ViewState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateDirty:
		return "dirty"
	case StateSubmitting:
		return "submitting"
	case StateFetchFailed:
		return "fetch-failed"
	case StateSubmitFailed:
		return "submit-failed"
	}
	return "unknown"
}

// Renderer is the external grid. It draws the rows into the target
// container and calls back into the owning view (SetField, AddRow,
// DeleteRow) on user interaction, resolving rows through the mirror.
type Renderer interface {
	Render(rows []*RowRecord, editable bool, target string, mirror *Mirror) error
}

type (
	// View owns one snapshot, its tracker and its render target. All
	// mutation happens on grid-edit or network-completion callbacks, so
	// the view is single-threaded by discipline: one in-flight network
	// operation at a time, enforced by the busy flag rather than a lock.
	View struct {
		snap     *Snapshot
		tracker  *Tracker
		src      DataSource
		renderer Renderer
		target   string
		editable bool
		pageSize int
		mirror   *Mirror

		state   ViewState
		busy    bool
		closed  bool
		lastErr error
	}

	ViewOptions struct {
		Renderer    Renderer
		Target      string
		Editable    bool
		PageSize    int
		RowComments bool
	}

	ViewOption func(*ViewOptions)
)

func WithRenderer(r Renderer) ViewOption {
	return func(o *ViewOptions) { o.Renderer = r }
}

func WithTarget(target string) ViewOption {
	return func(o *ViewOptions) { o.Target = target }
}

func WithEditable(editable bool) ViewOption {
	return func(o *ViewOptions) { o.Editable = editable }
}

func WithPageSize(size int) ViewOption {
	return func(o *ViewOptions) { o.PageSize = size }
}

func WithRowComments(has bool) ViewOption {
	return func(o *ViewOptions) { o.RowComments = has }
}

func NewView(src DataSource, ref TableRef, options ...ViewOption) *View {
	opts := &ViewOptions{
		Editable: true,
		PageSize: DefaultPageSize,
	}
	for _, option := range options {
		option(opts)
	}

	snap := NewSnapshot(ref)
	snap.SetHasRowComments(opts.RowComments)
	return &View{
		snap:     snap,
		tracker:  NewTracker(snap),
		src:      src,
		renderer: opts.Renderer,
		target:   opts.Target,
		editable: opts.Editable,
		pageSize: opts.PageSize,
		mirror:   NewMirror(),
		state:    StateUnloaded,
	}
}

func (v *View) State() ViewState    { return v.state }
func (v *View) Err() error          { return v.lastErr }
func (v *View) Snapshot() *Snapshot { return v.snap }
func (v *View) Tracker() *Tracker   { return v.tracker }
func (v *View) Editable() bool      { return v.editable }
func (v *View) Target() string      { return v.target }

// Close tears the view down. Completions of in-flight fetches or submits
// check this flag and become no-ops instead of mutating a dead view.
func (v *View) Close() {
	v.closed = true
}

// Load fetches one page into the snapshot and renders it. A load failure
// leaves the previous rows untouched and the view retryable.
func (v *View) Load(ctx context.Context, offset int) error {
	if v.closed {
		return ErrViewClosed
	}
	if v.busy {
		return ErrViewBusy
	}
	v.busy = true
	v.state = StateLoading

	page := Page{Offset: offset, Limit: v.pageSize}
	result, err := v.src.Fetch(ctx, v.snap.Ref(), page)
	v.busy = false
	if v.closed {
		return ErrViewClosed
	}
	if err == nil {
		err = v.snap.apply(result, page)
	} else {
		err = asFetchError(err)
	}
	if err != nil {
		v.state = StateFetchFailed
		v.lastErr = err
		return err
	}
	v.state = StateLoaded
	v.lastErr = nil
	return v.Render()
}

// SetField routes one grid edit to the row with the given key.
func (v *View) SetField(key, name string, value any) error {
	if v.closed {
		return ErrViewClosed
	}
	row, ok := v.snap.Row(key)
	if !ok {
		return &ConsistencyError{Op: "edit", Key: key, Reason: "unknown row"}
	}
	row.SetField(name, value)
	v.refreshDirty()
	return nil
}

// AddRow appends a new pending row and returns it, or nil once the view
// is closed.
func (v *View) AddRow() *RowRecord {
	if v.closed {
		return nil
	}
	row := v.snap.AddRow()
	v.refreshDirty()
	return row
}

// DeleteRow soft-deletes a fetched row, or cancels a pending one.
func (v *View) DeleteRow(key string) error {
	if v.closed {
		return ErrViewClosed
	}
	if !v.snap.DeleteRow(key) {
		return &ConsistencyError{Op: "delete", Key: key, Reason: "unknown row"}
	}
	v.refreshDirty()
	return nil
}

// Render hands the current rows to the renderer. Idempotent; called
// again after every load and reconcile to refresh the visual state.
func (v *View) Render() error {
	if v.renderer == nil {
		return nil
	}
	v.mirror = NewMirror()
	rows := v.snap.Rows()
	for _, row := range rows {
		v.mirror.Put(row)
	}
	return v.renderer.Render(rows, v.editable, v.target, v.mirror)
}

// Submit pushes the pending change-set to the source. An empty change-set
// short-circuits without a network call. On success the result is
// reconciled onto the snapshot and the grid re-rendered; on any failure
// the pending changes are retained for retry.
func (v *View) Submit(ctx context.Context) error {
	if v.closed {
		return ErrViewClosed
	}
	if v.busy {
		return ErrViewBusy
	}
	cs := v.tracker.ChangeSet()
	if cs.Empty() {
		return nil
	}
	v.busy = true
	v.state = StateSubmitting

	result, err := v.src.Save(ctx, v.snap.Ref(), cs)
	v.busy = false
	if v.closed {
		return ErrViewClosed
	}
	if err != nil {
		return v.submitFailed(asSubmitError(err))
	}
	if !result.OK() {
		return v.submitFailed(&SubmitError{Rows: result.Failed})
	}
	if err := v.tracker.Reconcile(cs, *result); err != nil {
		log.Printf("dataedit: reconcile %s: %v", v.snap.Ref(), err)
		return v.submitFailed(err)
	}
	v.state = StateLoaded
	v.lastErr = nil
	return v.Render()
}

func (v *View) submitFailed(err error) error {
	v.state = StateSubmitFailed
	v.lastErr = err
	return err
}

func (v *View) refreshDirty() {
	switch v.state {
	case StateLoaded, StateDirty, StateSubmitFailed:
		if v.tracker.IsEmpty() {
			v.state = StateLoaded
		} else {
			v.state = StateDirty
		}
	}
}

func asSubmitError(err error) error {
	if se, ok := err.(*SubmitError); ok {
		return se
	}
	return &SubmitError{Message: err.Error()}
}
