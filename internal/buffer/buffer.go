// Package buffer provides the append-only byte sinks packaged segments are
// written into. Buffers are owned by the caller of the packager; the
// packager only appends.
package buffer

// SegmentBuffer is a growable, append-only byte sink.
type SegmentBuffer struct {
	buf []byte
}

// NewSegmentBuffer creates an empty SegmentBuffer.
func NewSegmentBuffer() *SegmentBuffer {
	return &SegmentBuffer{}
}

// Write implements io.Writer.
func (b *SegmentBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// AppendData appends raw bytes to the buffer.
func (b *SegmentBuffer) AppendData(p []byte) {
	b.buf = append(b.buf, p...)
}

// Data returns the accumulated bytes. The slice aliases internal storage
// and is only valid until the next append.
func (b *SegmentBuffer) Data() []byte {
	return b.buf
}

// Size returns the number of accumulated bytes.
func (b *SegmentBuffer) Size() int {
	return len(b.buf)
}

// Reset discards all accumulated bytes but keeps capacity.
func (b *SegmentBuffer) Reset() {
	b.buf = b.buf[:0]
}

// FullSegmentBuffer records the boundary between init-segment bytes and
// media bytes so callers can address either region. The layout matches the
// concatenation (ftyp+moov)+(styp+sidx+moof+mdat).
type FullSegmentBuffer struct {
	buf      []byte
	initSize int
}

// NewFullSegmentBuffer creates an empty FullSegmentBuffer.
func NewFullSegmentBuffer() *FullSegmentBuffer {
	return &FullSegmentBuffer{}
}

// SetInitSegment replaces the buffer contents with the given init segment.
func (b *FullSegmentBuffer) SetInitSegment(p []byte) {
	b.buf = append(b.buf[:0], p...)
	b.initSize = len(p)
}

// AppendData appends media bytes after the init region.
func (b *FullSegmentBuffer) AppendData(p []byte) {
	b.buf = append(b.buf, p...)
}

// Write implements io.Writer, appending to the media region.
func (b *FullSegmentBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// InitSegmentData returns the init-segment region.
func (b *FullSegmentBuffer) InitSegmentData() []byte {
	return b.buf[:b.initSize]
}

// InitSegmentSize returns the size of the init-segment region.
func (b *FullSegmentBuffer) InitSegmentSize() int {
	return b.initSize
}

// SegmentData returns the media region that follows the init segment.
func (b *FullSegmentBuffer) SegmentData() []byte {
	return b.buf[b.initSize:]
}

// SegmentSize returns the size of the media region.
func (b *FullSegmentBuffer) SegmentSize() int {
	return len(b.buf) - b.initSize
}

// Data returns the full contents, init region first.
func (b *FullSegmentBuffer) Data() []byte {
	return b.buf
}

// Size returns the total number of bytes held.
func (b *FullSegmentBuffer) Size() int {
	return len(b.buf)
}

// Reset discards both regions.
func (b *FullSegmentBuffer) Reset() {
	b.buf = b.buf[:0]
	b.initSize = 0
}
