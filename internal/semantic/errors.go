package semantic

import "errors"

// Error kinds, matched with errors.Is at call sites. Detail is attached
// with fmt.Errorf("...: %w", ErrX) at the point of detection.
var (
	ErrDescriptor = errors.New("descriptor error")
	ErrMacro      = errors.New("macro expansion error")
	ErrJoin       = errors.New("join planning error")
)
