// Package chunk is the single authority over how chunk metadata is laid out inside an arena.
//
// Every chunk begins with a header and ends with a footer:
//
//	offset+0   size word: total chunk size, bit 0 set while the chunk is in use
//	offset+8   free: previous free chunk offset    in use: tag (TagMagic ^ offset)
//	offset+16  free: next free chunk offset        in use: requested payload bytes
//	offset+24  payload ...
//	end-8      footer: copy of the raw size word
//
// Chunk sizes are always multiples of Granularity, so bit 0 of the size word is never a real size bit.
// All values are little-endian. Nothing outside this package should read or write metadata words
// directly; callers work with offsets and sizes.
package chunk

import (
	"encoding/binary"
	"math"

	"github.com/vkngwrapper/arena/memutils"
)

const (
	WordSize   = 8
	HeaderSize = 3 * WordSize
	FooterSize = WordSize
	// Overhead is the number of bytes in every chunk that are not payload
	Overhead = HeaderSize + FooterSize
	// MinChunkSize is the smallest chunk that can exist: a header and footer around an empty payload
	MinChunkSize = Overhead
	// Granularity is the unit every chunk size is rounded up to
	Granularity = 8

	// NoLink is the null value for free list links
	NoLink = -1

	// TagMagic is mixed with a chunk's offset and stored in the header of in-use chunks so that
	// stray handles can be rejected instead of corrupting the arena
	TagMagic uint64 = 0x7F84E666A110C8ED

	stateMask uint64 = 1
)

var byteOrder = binary.LittleEndian

// State is the allocation state carried in bit 0 of a size word
type State uint8

const (
	Free State = iota
	InUse
)

var stateMapping = map[State]string{
	Free:  "Free",
	InUse: "InUse",
}

func (s State) String() string {
	return stateMapping[s]
}

// Encode packs a chunk size and state into a single size word
func Encode(size int, state State) uint64 {
	word := uint64(size) &^ stateMask
	if state == InUse {
		word |= stateMask
	}
	return word
}

// ReadSize strips the state bit from a size word
func ReadSize(word uint64) int {
	return int(word &^ stateMask)
}

// StateOf reads the state bit from a size word
func StateOf(word uint64) State {
	if word&stateMask != 0 {
		return InUse
	}
	return Free
}

// Geometry returns the total chunk size needed to hold payloadBytes, including header and footer,
// rounded up to Granularity. It returns false if the size cannot be represented.
func Geometry(payloadBytes int) (int, bool) {
	if payloadBytes < 0 || payloadBytes > math.MaxInt-Overhead-Granularity {
		return 0, false
	}
	return memutils.AlignUp(payloadBytes+Overhead, Granularity), true
}

// Capacity is the number of payload bytes a chunk of the given total size can hold
func Capacity(size int) int {
	return size - Overhead
}

// Tag is the value written into the header of an in-use chunk at the given offset
func Tag(offset int) uint64 {
	return TagMagic ^ uint64(offset)
}

// FooterBefore reads the footer word that ends at end, which is the raw size word of the chunk
// immediately before end. It is used to walk the arena backward.
func FooterBefore(buf []byte, end int) uint64 {
	return byteOrder.Uint64(buf[end-FooterSize : end])
}

func readWord(buf []byte, offset int) uint64 {
	return byteOrder.Uint64(buf[offset : offset+WordSize])
}

func writeWord(buf []byte, offset int, value uint64) {
	byteOrder.PutUint64(buf[offset:offset+WordSize], value)
}

func encodeLink(link int) uint64 {
	return uint64(int64(link))
}

func decodeLink(word uint64) int {
	return int(int64(word))
}
