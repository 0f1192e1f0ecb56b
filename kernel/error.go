// Package kernel holds the types shared by every kernel sub-system.
package kernel

// Error describes a kernel error. Kernel errors are declared as package-level
// pointers to Error and compared by identity; the Go allocator may not be
// available when they are returned so errors.New and fmt.Errorf are off limits.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
