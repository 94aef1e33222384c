// Package opclass classifies errors produced while applying an Operation
// as retriable or non-retriable, without the Executor's callers needing to
// import concrete sentinel errors from whatever package raised them. The
// pattern mirrors a behavioral-interface style of error tagging: a
// producer wraps an error to mark its class, and a consumer asks the
// error itself rather than switching on concrete types.
package opclass

import (
	"errors"
	"io/fs"
	"syscall"
)

type classified struct {
	err       error
	retriable bool
}

func (c *classified) Error() string   { return c.err.Error() }
func (c *classified) Unwrap() error   { return c.err }
func (c *classified) Retriable() bool { return c.retriable }

// Retriable wraps err, marking it as transient: the Executor will retry
// the operation with backoff.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, retriable: true}
}

// NonRetriable wraps err, marking it as permanent: the Executor gives up
// on the operation immediately.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, retriable: false}
}

// IsRetriable reports whether err (or anything it wraps) was classified as
// retriable. An unclassified error is treated as retriable unless it
// matches one of the well-known permanent OS error classes below, which
// mirrors the spec's "permission denied / path too long / disk full fail
// immediately" rule even for errors callers forgot to classify explicitly.
func IsRetriable(err error) bool {
	var c *classified
	if errors.As(err, &c) {
		return c.retriable
	}
	return !isKnownPermanent(err)
}

func isKnownPermanent(err error) bool {
	if errors.Is(err, fs.ErrPermission) {
		return true
	}
	if errors.Is(err, syscall.ENOSPC) {
		return true
	}
	if errors.Is(err, syscall.ENAMETOOLONG) {
		return true
	}
	return false
}
