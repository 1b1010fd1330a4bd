package writetree

import "errors"

var (
	ErrWriteOutOfOrder = errors.New("write id is not greater than the last write id")
	ErrUnknownWrite    = errors.New("write id is not pending")
	ErrMalformedRecord = errors.New("write record has neither a snapshot nor children")
	ErrNoBaseSnapshot  = errors.New("either an event or a server snapshot is required")
)
