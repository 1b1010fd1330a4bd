package synctree

import "errors"

var (
	ErrUnknownQuery     = errors.New("tagged operation for a query without a view")
	ErrMissingSyncPoint = errors.New("no sync point for a tagged query")
	ErrDuplicateTag     = errors.New("query already has a tag")
	ErrShadowedListen   = errors.New("tagged listen under a complete view")
)
