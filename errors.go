package oeplatform

import (
	"errors"
	"fmt"
)

var (
	ErrViewBusy   = errors.New("view has an operation in flight")
	ErrViewClosed = errors.New("view has been torn down")
)

type (
	// FetchError is a failed page load. Non-fatal: the previous snapshot
	// contents stay untouched and the view remains retryable.
	FetchError struct {
		Status  int
		Message string
	}

	// SubmitError is a failed change-set submission. Pending changes are
	// retained. Rows carries per-row rejections when the backend reported
	// a partial failure.
	SubmitError struct {
		Status  int
		Message string
		Rows    []RowError
	}

	RowError struct {
		Key     string `json:"key"`
		Message string `json:"message"`
	}

	// ConsistencyError reports a reconcile result referencing a row the
	// tracker does not know about. The affected rows keep their dirty
	// state instead of being silently dropped.
	ConsistencyError struct {
		Op     string
		Key    string
		Reason string
	}
)

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch failed (status %d): %s", e.Status, e.Message)
	}
	return "fetch failed: " + e.Message
}

func (e *SubmitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("%d row(s) rejected", len(e.Rows))
	}
	if e.Status != 0 {
		return fmt.Sprintf("submit failed (status %d): %s", e.Status, msg)
	}
	return "submit failed: " + msg
}

func (e *ConsistencyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("inconsistent %s result for row %q: %s", e.Op, e.Key, e.Reason)
	}
	return fmt.Sprintf("inconsistent %s result for row %q", e.Op, e.Key)
}
