package store

import (
	"github.com/tphakala/farmdash/internal/errors"
)

var (
	// ErrNotFound is returned by update operations when no item has the given id.
	ErrNotFound = errors.Newf("entity not found in store").
			Component("store").
			Category(errors.CategoryNotFound).
			Build()

	// ErrStaleResponse is returned when a fetch result arrives after a newer one was committed.
	ErrStaleResponse = errors.Newf("fetch response superseded by a newer request").
				Component("store").
				Category(errors.CategoryConflict).
				Build()

	// ErrClosed is returned by Flush after Close.
	ErrClosed = errors.Newf("store is closed").
			Component("store").
			Category(errors.CategoryState).
			Build()
)
