package patch

import "errors"

var ErrUnknownKind = errors.New("unknown patch op")
var ErrInvalidPointer = errors.New("invalid json pointer")
