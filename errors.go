package greenlight

import "fmt"

const remediation = "check that the installed bridge and asyncdb versions still provide this entry point, " +
	"and that the test runner passes the invocation context to the test unchanged"

// EnvironmentError reports that the context-establishing primitive could not
// be located. Interception is disabled for the whole run when it occurs.
type EnvironmentError struct {
	Primitive string
	Err       error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("greenlight: context-establishing primitive %q is unavailable: %v (%s)",
		e.Primitive, e.Err, remediation)
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

// EstablishmentError annotates a failure of the primitive itself. It is only
// produced in debug mode; otherwise the primitive's error is returned as-is.
type EstablishmentError struct {
	Primitive string
	Test      string
	Err       error
}

func (e *EstablishmentError) Error() string {
	return fmt.Sprintf("greenlight: establishing context via %q for %s failed: %v (%s)",
		e.Primitive, e.Test, e.Err, remediation)
}

func (e *EstablishmentError) Unwrap() error { return e.Err }
