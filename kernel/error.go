package kernel

// Error describes a kernel error. Kernel errors are declared once as global
// pointers to Error values and compared by identity; this keeps error paths
// usable before the heap is initialized, when errors.New is not an option.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
