package tree

import "errors"

var (
	ErrNotContained        = errors.New("path is not contained in parent")
	ErrInvalidValue        = errors.New("value cannot be converted to a node")
	ErrInvalidPriority     = errors.New("priority must be a string, a number or empty")
	ErrPriorityPathTooLong = errors.New("priority path must not have additional segments")
)
