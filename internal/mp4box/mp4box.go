// Package mp4box provides the low-level ISO-BMFF primitives the packager
// uses: a nested box writer with deferred size patching, and a tolerant
// box scanner for walking existing files.
package mp4box

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated indicates a box header or payload extends past the end of
// the input.
var ErrTruncated = errors.New("truncated box")

// Writer builds a tree of boxes into a flat byte slice. Sizes are patched
// when each box is closed, so nesting is expressed with StartBox/EndBox
// pairs and box contents can be written without knowing their length up
// front.
type Writer struct {
	buf   []byte
	stack []int
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// StartBox opens a box of the given type. The 32-bit size field is patched
// by the matching EndBox.
func (w *Writer) StartBox(boxType string) {
	w.stack = append(w.stack, len(w.buf))
	w.buf = append(w.buf, 0, 0, 0, 0)
	w.buf = append(w.buf, boxType...)
}

// StartFullBox opens a full box with the given version and 24-bit flags.
func (w *Writer) StartFullBox(boxType string, version uint8, flags uint32) {
	w.StartBox(boxType)
	w.WriteUint8(version)
	w.buf = append(w.buf, byte(flags>>16), byte(flags>>8), byte(flags))
}

// EndBox closes the most recently opened box and patches its size.
func (w *Writer) EndBox() {
	n := len(w.stack) - 1
	start := w.stack[n]
	w.stack = w.stack[:n]
	binary.BigEndian.PutUint32(w.buf[start:], uint32(len(w.buf)-start))
}

// WriteUint8 appends one byte.
func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

// WriteUint16 appends a big-endian uint16.
func (w *Writer) WriteUint16(v uint16) {
	w.buf = append(w.buf, byte(v>>8), byte(v))
}

// WriteUint24 appends a big-endian 24-bit value.
func (w *Writer) WriteUint24(v uint32) {
	w.buf = append(w.buf, byte(v>>16), byte(v>>8), byte(v))
}

// WriteUint32 appends a big-endian uint32.
func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// WriteInt32 appends a big-endian int32.
func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// WriteUint64 appends a big-endian uint64.
func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

// WriteBytes appends raw bytes.
func (w *Writer) WriteBytes(p []byte) {
	w.buf = append(w.buf, p...)
}

// WriteFourCC appends a four-character code.
func (w *Writer) WriteFourCC(code string) {
	w.buf = append(w.buf, code...)
}

// WriteZero appends n zero bytes.
func (w *Writer) WriteZero(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

// Len returns the number of bytes written so far, including any
// still-open boxes.
func (w *Writer) Len() int {
	return len(w.buf)
}

// PatchUint32 overwrites a big-endian uint32 at an absolute offset. Used
// for fields whose value is only known after layout, such as
// trun.data_offset and saio offsets.
func (w *Writer) PatchUint32(offset int, v uint32) {
	binary.BigEndian.PutUint32(w.buf[offset:], v)
}

// Bytes returns the accumulated output. All boxes must be closed.
func (w *Writer) Bytes() []byte {
	if len(w.stack) != 0 {
		panic(fmt.Sprintf("mp4box: %d unclosed boxes", len(w.stack)))
	}
	return w.buf
}

// Box is one parsed box header plus its payload (including any child
// boxes).
type Box struct {
	Type string
	// Offset is the absolute position of the box header in the scanned
	// slice.
	Offset int
	// Size is the total box size including the header.
	Size uint64
	// HeaderSize is 8, or 16 for 64-bit large-size boxes.
	HeaderSize int
	// Payload is the box body, excluding the header.
	Payload []byte
}

// Scan walks the top-level boxes of data in order, invoking fn for each.
// Both 32-bit and 64-bit (largesize) headers are handled. A size of zero
// is only legal for the final box (box extends to end of input);
// anywhere else it is an error, as are truncated headers and payloads.
func Scan(data []byte, fn func(Box) error) error {
	offset := 0
	for offset < len(data) {
		if len(data)-offset < 8 {
			return fmt.Errorf("%w: %d trailing bytes at offset %d", ErrTruncated, len(data)-offset, offset)
		}
		size := uint64(binary.BigEndian.Uint32(data[offset:]))
		boxType := string(data[offset+4 : offset+8])
		headerSize := 8
		switch size {
		case 0:
			// Box extends to the end of the input; only valid in terminal
			// position, which this is by construction.
			size = uint64(len(data) - offset)
		case 1:
			if len(data)-offset < 16 {
				return fmt.Errorf("%w: largesize header at offset %d", ErrTruncated, offset)
			}
			size = binary.BigEndian.Uint64(data[offset+8:])
			headerSize = 16
		}
		if size < uint64(headerSize) {
			return fmt.Errorf("invalid box size %d for %q at offset %d", size, boxType, offset)
		}
		if uint64(len(data)-offset) < size {
			return fmt.Errorf("%w: box %q at offset %d claims %d bytes, %d available",
				ErrTruncated, boxType, offset, size, len(data)-offset)
		}
		box := Box{
			Type:       boxType,
			Offset:     offset,
			Size:       size,
			HeaderSize: headerSize,
			Payload:    data[offset+headerSize : offset+int(size)],
		}
		if err := fn(box); err != nil {
			return err
		}
		offset += int(size)
	}
	return nil
}

// Find returns the first box of the given type among the top-level boxes
// of data, or false if absent.
func Find(data []byte, boxType string) (Box, bool) {
	var found Box
	ok := false
	_ = Scan(data, func(b Box) error {
		if !ok && b.Type == boxType {
			found = b
			ok = true
		}
		return nil
	})
	return found, ok
}

// FindPath descends through nested container boxes, returning the box at
// the end of the path.
func FindPath(data []byte, path ...string) (Box, bool) {
	cur := data
	var box Box
	for i, boxType := range path {
		b, ok := Find(cur, boxType)
		if !ok {
			return Box{}, false
		}
		box = b
		if i < len(path)-1 {
			cur = b.Payload
		}
	}
	return box, true
}
