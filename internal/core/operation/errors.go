package operation

import "errors"

var ErrOverlappingAffectedPaths = errors.New("affected tree should not have overlapping affected paths")
