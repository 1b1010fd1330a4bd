package change

import "errors"

var ErrIllegalChange = errors.New("illegal combination of changes")
