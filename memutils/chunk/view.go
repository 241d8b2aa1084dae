package chunk

// View addresses the chunk that starts at Offset within an arena buffer. It holds no state of its
// own; every accessor reads or writes the arena bytes. Callers are responsible for making sure
// Offset and the chunk's size are within the buffer before using a View.
type View struct {
	buf    []byte
	Offset int
}

// At returns a View of the chunk starting at offset
func At(buf []byte, offset int) View {
	return View{buf: buf, Offset: offset}
}

// Word returns the raw size word in the chunk's header
func (v View) Word() uint64 {
	return readWord(v.buf, v.Offset)
}

func (v View) Size() int {
	return ReadSize(v.Word())
}

func (v View) State() State {
	return StateOf(v.Word())
}

func (v View) IsFree() bool {
	return v.State() == Free
}

// End returns the offset one past the last byte of the chunk
func (v View) End() int {
	return v.Offset + v.Size()
}

// FooterWord returns the raw size word stored in the chunk's footer
func (v View) FooterWord() uint64 {
	return FooterBefore(v.buf, v.End())
}

// PayloadOffset is the offset of the first payload byte, which doubles as the allocation handle
func (v View) PayloadOffset() int {
	return v.Offset + HeaderSize
}

// Payload returns the chunk's full usable payload
func (v View) Payload() []byte {
	start := v.PayloadOffset()
	end := v.End() - FooterSize
	return v.buf[start:end:end]
}

// WriteHeader writes the chunk's size word. The footer is left untouched.
func (v View) WriteHeader(size int, state State) {
	writeWord(v.buf, v.Offset, Encode(size, state))
}

// WriteFooter copies the current header word to the footer position implied by size
func (v View) WriteFooter(size int) {
	writeWord(v.buf, v.Offset+size-FooterSize, v.Word())
}

// WriteTags writes both boundary tags for a chunk of the given size and state
func (v View) WriteTags(size int, state State) {
	v.WriteHeader(size, state)
	v.WriteFooter(size)
}

// PrevFree returns the offset of the previous chunk in the free list, or NoLink.
// Only meaningful while the chunk is free.
func (v View) PrevFree() int {
	return decodeLink(readWord(v.buf, v.Offset+WordSize))
}

// NextFree returns the offset of the next chunk in the free list, or NoLink.
// Only meaningful while the chunk is free.
func (v View) NextFree() int {
	return decodeLink(readWord(v.buf, v.Offset+2*WordSize))
}

func (v View) SetPrevFree(link int) {
	writeWord(v.buf, v.Offset+WordSize, encodeLink(link))
}

func (v View) SetNextFree(link int) {
	writeWord(v.buf, v.Offset+2*WordSize, encodeLink(link))
}

func (v View) SetLinks(prev, next int) {
	v.SetPrevFree(prev)
	v.SetNextFree(next)
}

// MarkInUse overwrites the link fields with the in-use tag and the requested payload size
func (v View) MarkInUse(requested int) {
	writeWord(v.buf, v.Offset+WordSize, Tag(v.Offset))
	v.SetRequested(requested)
}

// TagValid reports whether the chunk carries the in-use tag for its own offset
func (v View) TagValid() bool {
	return readWord(v.buf, v.Offset+WordSize) == Tag(v.Offset)
}

// Requested returns the payload size recorded when the chunk was allocated
func (v View) Requested() int {
	return int(readWord(v.buf, v.Offset+2*WordSize))
}

func (v View) SetRequested(requested int) {
	writeWord(v.buf, v.Offset+2*WordSize, uint64(requested))
}

// ClearHeader zeroes the chunk's header so that it no longer reads as a chunk
func (v View) ClearHeader() {
	clear(v.buf[v.Offset : v.Offset+HeaderSize])
}

// ClearFooter zeroes the footer of a chunk of the given size
func (v View) ClearFooter(size int) {
	clear(v.buf[v.Offset+size-FooterSize : v.Offset+size])
}
