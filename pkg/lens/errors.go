package lens

import "fmt"

var ErrPathNotFound = fmt.Errorf("no lens path between schemas")
var ErrSchemaNotFound = fmt.Errorf("schema not found")
var ErrSchemaConflict = fmt.Errorf("schema already registered")
var ErrInvalidLens = fmt.Errorf("invalid lens")
