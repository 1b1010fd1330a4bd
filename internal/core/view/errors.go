package view

import "errors"

var (
	ErrUnknownOperation       = errors.New("unknown operation")
	ErrUnknownSource          = errors.New("operation has neither a user nor a server source")
	ErrIncompleteServerCache  = errors.New("server cache is not complete")
	ErrInvalidPriorityPath    = errors.New("priority path has extra segments")
	ErrCancelWithRegistration = errors.New("a cancel removes every registration")
)
