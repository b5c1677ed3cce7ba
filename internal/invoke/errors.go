package invoke

import "fmt"

// InfrastructureError means no verdict can be produced: the compiler is
// missing, could not be started or the configured version is unacceptable.
// It aborts the whole run rather than failing one case.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure failure during %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}
