package oeplatform

import (
	multierror "github.com/hashicorp/go-multierror"
)

type (
	// ChangeSet is the wire form of one submission: full values for
	// created rows (keyed by placeholder), changed fields for edited
	// rows, keys for deleted rows. Each list preserves snapshot row
	// order.
	ChangeSet struct {
		Creates []RowCreate `json:"creates"`
		Updates []RowUpdate `json:"updates"`
		Deletes []string    `json:"deletes"`
	}

	RowCreate struct {
		Key    string         `json:"key"`
		Values map[string]any `json:"values"`
	}

	RowUpdate struct {
		Key     string         `json:"key"`
		Changed map[string]any `json:"changed"`
	}

	// Tracker derives creates, updates and deletes from one snapshot's
	// current versus original state. It holds no state of its own, so a
	// change-set is never stale.
	Tracker struct {
		snap *Snapshot
	}
)

func NewTracker(snap *Snapshot) *Tracker {
	return &Tracker{snap: snap}
}

func (cs ChangeSet) Empty() bool {
	return len(cs.Creates) == 0 && len(cs.Updates) == 0 && len(cs.Deletes) == 0
}

// ChangeSet classifies every row into at most one of creates, updates or
// deletes. Computed fresh on each call.
func (t *Tracker) ChangeSet() ChangeSet {
	var cs ChangeSet
	for _, row := range t.snap.rows {
		switch {
		case row.isNew:
			cs.Creates = append(cs.Creates, RowCreate{Key: row.key, Values: row.Values()})
		case row.deleted:
			cs.Deletes = append(cs.Deletes, row.key)
		default:
			if diff := row.Diff(); len(diff) > 0 {
				cs.Updates = append(cs.Updates, RowUpdate{Key: row.key, Changed: diff})
			}
		}
	}
	return cs
}

func (t *Tracker) IsEmpty() bool {
	return t.ChangeSet().Empty()
}

// Reconcile applies a successful submission result back onto the
// snapshot: created rows take their backend-assigned key and stop being
// new, updated rows fold current values into originals, deleted rows
// leave the sequence. The whole result is validated up front; on any
// unknown or misclassified row nothing is applied and the aggregated
// consistency errors are returned, leaving every row in its
// pre-submission dirty state.
func (t *Tracker) Reconcile(cs ChangeSet, result SaveResult) error {
	var errs error
	for _, create := range cs.Creates {
		row, ok := t.snap.Row(create.Key)
		switch {
		case !ok || !row.isNew:
			errs = multierror.Append(errs, &ConsistencyError{Op: "create", Key: create.Key, Reason: "no pending row"})
		default:
			if _, assigned := result.Assigned[create.Key]; !assigned {
				errs = multierror.Append(errs, &ConsistencyError{Op: "create", Key: create.Key, Reason: "no assigned key"})
			}
		}
	}
	for _, update := range cs.Updates {
		row, ok := t.snap.Row(update.Key)
		if !ok || row.isNew || row.deleted {
			errs = multierror.Append(errs, &ConsistencyError{Op: "update", Key: update.Key, Reason: "no editable row"})
		}
	}
	for _, key := range cs.Deletes {
		row, ok := t.snap.Row(key)
		if !ok || !row.deleted {
			errs = multierror.Append(errs, &ConsistencyError{Op: "delete", Key: key, Reason: "no deleted row"})
		}
	}
	if errs != nil {
		return errs
	}

	for _, create := range cs.Creates {
		row, _ := t.snap.Row(create.Key)
		row.isNew = false
		row.original = cloneValues(row.current)
		t.snap.rekey(create.Key, result.Assigned[create.Key])
	}
	for _, update := range cs.Updates {
		row, _ := t.snap.Row(update.Key)
		row.original = cloneValues(row.current)
	}
	for _, key := range cs.Deletes {
		t.snap.remove(key)
	}
	return nil
}
