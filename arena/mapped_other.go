//go:build !unix

package arena

// NewMapped falls back to a Go byte slice on platforms without mmap
func NewMapped(size int) (*Arena, error) {
	return New(size)
}
