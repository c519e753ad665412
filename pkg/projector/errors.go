package projector

import "fmt"

var (
	ErrBlockNotFound = fmt.Errorf("block not found in history")
	ErrDiverged      = fmt.Errorf("states have diverged")
)
