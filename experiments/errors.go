package experiments

import "errors"

var (
	// ErrNotFound means no such experiment, sample or timepoint exists.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the record belongs to another user.
	ErrForbidden = errors.New("forbidden")
	// ErrNoNextTimepoint means the experiment is already at its last
	// timepoint.
	ErrNoNextTimepoint = errors.New("no next timepoint")
)
