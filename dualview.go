package oeplatform

import (
	"context"

	multierror "github.com/hashicorp/go-multierror"
)

// Backend naming contract for the pending-review twin of a published
// table: the twin lives in the `_`-prefixed meta schema under an
// `_unchecked_`-prefixed name.
const (
	metaSchemaPrefix     = "_"
	uncheckedTablePrefix = "_unchecked_"
)

const (
	DefaultMainTarget      = "grid-main"
	DefaultUncheckedTarget = "grid-unchecked"
)

// UncheckedRef derives the default unchecked-twin reference for a
// published table per the backend naming contract.
func UncheckedRef(ref TableRef) TableRef {
	return TableRef{
		Schema: metaSchemaPrefix + ref.Schema,
		Table:  uncheckedTablePrefix + ref.Table,
	}
}

type (
	// Config describes one table page. Whether a table has an unchecked
	// twin is decided by the caller; the twin's name is resolved exactly
	// once here, not re-derived at call sites.
	Config struct {
		Schema           string
		Table            string
		HasUncheckedTwin bool
		// Unchecked overrides the default twin naming when set.
		Unchecked       *TableRef
		HasRowComments  bool
		PageSize        int
		MainTarget      string
		UncheckedTarget string
	}

	// DualView manages the published ("main") and pending-review
	// ("unchecked") views of one table. The two views never share row
	// records; each has its own snapshot, tracker and render target, and
	// each may fetch or submit independently of the other.
	DualView struct {
		Main      *View
		Unchecked *View
	}
)

func NewDualView(cfg Config, src DataSource, renderer Renderer) *DualView {
	mainRef := TableRef{Schema: cfg.Schema, Table: cfg.Table}
	mainTarget := cfg.MainTarget
	if mainTarget == "" {
		mainTarget = DefaultMainTarget
	}

	d := &DualView{
		Main: NewView(src, mainRef,
			WithRenderer(renderer),
			WithTarget(mainTarget),
			WithPageSize(cfg.PageSize),
			WithRowComments(cfg.HasRowComments),
		),
	}

	if !cfg.HasUncheckedTwin {
		return d
	}

	uncheckedRef := UncheckedRef(mainRef)
	if cfg.Unchecked != nil {
		uncheckedRef = *cfg.Unchecked
	}
	uncheckedTarget := cfg.UncheckedTarget
	if uncheckedTarget == "" {
		uncheckedTarget = DefaultUncheckedTarget
	}
	d.Unchecked = NewView(src, uncheckedRef,
		WithRenderer(renderer),
		WithTarget(uncheckedTarget),
		WithPageSize(cfg.PageSize),
		WithRowComments(cfg.HasRowComments),
	)
	return d
}

func (d *DualView) Views() []*View {
	views := []*View{d.Main}
	if d.Unchecked != nil {
		views = append(views, d.Unchecked)
	}
	return views
}

// LoadAll fetches the first page of every view. Failures are aggregated;
// a failed view stays usable for retry and does not block the other.
func (d *DualView) LoadAll(ctx context.Context) error {
	var errs error
	for _, view := range d.Views() {
		if err := view.Load(ctx, 0); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

func (d *DualView) Close() {
	for _, view := range d.Views() {
		view.Close()
	}
}
