package mp4box

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterNestedSizes(t *testing.T) {
	w := NewWriter()
	w.StartBox("moov")
	w.StartFullBox("mvhd", 1, 0x123456)
	w.WriteUint32(0xDEADBEEF)
	w.EndBox()
	w.StartBox("trak")
	w.EndBox()
	w.EndBox()

	out := w.Bytes()
	require.Len(t, out, 8+12+4+8)

	assert.Equal(t, uint32(len(out)), binary.BigEndian.Uint32(out[:4]))
	assert.Equal(t, "moov", string(out[4:8]))

	assert.Equal(t, uint32(16), binary.BigEndian.Uint32(out[8:12]))
	assert.Equal(t, "mvhd", string(out[12:16]))
	assert.Equal(t, byte(1), out[16], "fullbox version")
	assert.Equal(t, []byte{0x12, 0x34, 0x56}, out[17:20], "fullbox flags")

	assert.Equal(t, uint32(8), binary.BigEndian.Uint32(out[24:28]))
	assert.Equal(t, "trak", string(out[28:32]))
}

func TestWriterPatch(t *testing.T) {
	w := NewWriter()
	w.StartBox("free")
	pos := w.Len()
	w.WriteUint32(0)
	w.EndBox()
	w.PatchUint32(pos, 42)

	out := w.Bytes()
	assert.Equal(t, uint32(42), binary.BigEndian.Uint32(out[8:]))
}

func TestScanWalksSiblings(t *testing.T) {
	w := NewWriter()
	w.StartBox("ftyp")
	w.WriteFourCC("mp41")
	w.EndBox()
	w.StartBox("moov")
	w.WriteUint32(7)
	w.EndBox()

	var types []string
	err := Scan(w.Bytes(), func(b Box) error {
		types = append(types, b.Type)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ftyp", "moov"}, types)
}

func TestScanLargeSize(t *testing.T) {
	// largesize box: size field 1, 64-bit size follows the type.
	payload := []byte{0xAA, 0xBB}
	box := make([]byte, 16+len(payload))
	binary.BigEndian.PutUint32(box[:4], 1)
	copy(box[4:8], "mdat")
	binary.BigEndian.PutUint64(box[8:16], uint64(len(box)))
	copy(box[16:], payload)

	b, ok := Find(box, "mdat")
	require.True(t, ok)
	assert.Equal(t, 16, b.HeaderSize)
	assert.Equal(t, payload, b.Payload)
}

func TestScanTruncated(t *testing.T) {
	w := NewWriter()
	w.StartBox("moov")
	w.WriteBytes(make([]byte, 32))
	w.EndBox()
	data := w.Bytes()

	err := Scan(data[:20], func(Box) error { return nil })
	assert.ErrorIs(t, err, ErrTruncated)

	err = Scan(data[:5], func(Box) error { return nil })
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestScanInvalidSize(t *testing.T) {
	bad := []byte{0, 0, 0, 4, 'f', 'r', 'e', 'e'}
	err := Scan(bad, func(Box) error { return nil })
	assert.Error(t, err)
}

func TestFindPath(t *testing.T) {
	w := NewWriter()
	w.StartBox("moov")
	w.StartBox("trak")
	w.StartBox("mdia")
	w.WriteUint32(0x1234)
	w.EndBox()
	w.EndBox()
	w.EndBox()

	moov, ok := Find(w.Bytes(), "moov")
	require.True(t, ok)
	mdia, ok := FindPath(moov.Payload, "trak", "mdia")
	require.True(t, ok)
	assert.Equal(t, []byte{0, 0, 0x12, 0x34}, mdia.Payload)

	_, ok = FindPath(moov.Payload, "trak", "minf")
	assert.False(t, ok)
}
