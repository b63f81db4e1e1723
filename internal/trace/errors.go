package trace

import "errors"

var (
	// ErrFormat marks a structurally unusable file: missing or malformed
	// root attributes or primary datasets. Always fatal.
	ErrFormat = errors.New("invalid trace format")

	// ErrIntegrity marks data-quality findings (length mismatch,
	// non-monotonic time). Fatal only when the handle was opened Strict.
	ErrIntegrity = errors.New("trace integrity")

	// ErrRange marks a read request outside the file's extent under Strict;
	// without Strict such requests yield an empty iterator.
	ErrRange = errors.New("range outside file extent")

	// ErrLengthMismatch marks append or convert calls whose column slices
	// differ in length. Nothing is written when it is returned.
	ErrLengthMismatch = errors.New("column lengths differ")

	// ErrSealed marks attribute mutations that would change the meaning of
	// samples already appended.
	ErrSealed = errors.New("attribute is sealed after first append")

	// ErrClosed marks use of a closed handle.
	ErrClosed = errors.New("handle is closed")
)
