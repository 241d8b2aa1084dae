package memutils

import "github.com/cockroachdb/errors"

var (
	// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
	PowerOfTwoError error = errors.New("number must be a power of two")

	// ErrOutOfMemory is returned when no free chunk in the arena is large enough to satisfy a request.
	// The arena is left unchanged when this is returned.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrInvalidArgument is returned for malformed sizes, such as negative sizes or element counts whose
	// product overflows int. It is always detected before the arena is touched.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidHandle is returned when a handle does not identify a live allocation in the arena: it is
	// out of bounds, misaligned, or its chunk header fails the in-use tag check.
	ErrInvalidHandle = errors.New("invalid allocation handle")

	// ErrAlreadyFree is returned by metadata when a handle refers to a chunk that is already free.
	ErrAlreadyFree = errors.New("allocation is already free")

	// ErrCorrupted is returned when arena bookkeeping fails an internal consistency check
	ErrCorrupted = errors.New("arena metadata is corrupted")
)
