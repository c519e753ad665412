package crdt

import "fmt"

var ErrSequenceMismatch = fmt.Errorf("sequence mismatch")
var ErrMissingDependency = fmt.Errorf("missing dependency")
var ErrObjectNotFound = fmt.Errorf("object not found")
var ErrMalformedChange = fmt.Errorf("malformed change")
