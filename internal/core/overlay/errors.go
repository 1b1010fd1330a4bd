package overlay

import "errors"

var ErrPriorityWriteNotLeaf = errors.New("priority writes must always be leaf nodes")
