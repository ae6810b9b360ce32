// Package testutil provides test utilities including fMP4 segment
// fixture generation. Fixtures are synthesized with the same mediacommon
// marshaling path real encoder output takes, so reader tests exercise
// production box layouts.
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/stretchr/testify/require"
)

// TestSPS is a known-good 1280x720 high-profile H.264 SPS.
var TestSPS = []byte{
	0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
	0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
	0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
	0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
}

// TestPPS is an opaque PPS blob paired with TestSPS.
var TestPPS = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}

// Fixture track constants.
const (
	TestTrackID   = 1
	TestTimescale = 10000000
	TestWidth     = 1280
	TestHeight    = 720
)

// TestAACConfig is the fixture AudioSpecificConfig: AAC-LC 48 kHz stereo.
var TestAACConfig = mpeg4audio.Config{
	Type:         mpeg4audio.ObjectTypeAACLC,
	SampleRate:   48000,
	ChannelCount: 2,
}

// Key material mirroring the values the upstream packager pins in its
// test suite.
var (
	TestKey   = counterBytes(16)
	TestIV    = counterBytes(16)
	TestKeyID = counterBytes(16)
)

func counterBytes(n int) []byte {
	// 0x00 0x01 .. 0x09 0x10 0x11 .. (decimal-looking hex runs)
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i/10<<4 | i%10)
	}
	return out
}

// SeekableBuffer adapts an in-memory buffer to the io.WriteSeeker the
// mediacommon marshalers require.
type SeekableBuffer struct {
	buf []byte
	pos int64
}

// Write implements io.Writer at the current position.
func (s *SeekableBuffer) Write(p []byte) (int, error) {
	if int(s.pos) > len(s.buf) {
		s.buf = append(s.buf, make([]byte, int(s.pos)-len(s.buf))...)
	}
	n := copy(s.buf[s.pos:], p)
	if n < len(p) {
		s.buf = append(s.buf, p[n:]...)
	}
	s.pos += int64(len(p))
	return len(p), nil
}

// Seek implements io.Seeker.
func (s *SeekableBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.pos = offset
	case io.SeekCurrent:
		s.pos += offset
	case io.SeekEnd:
		s.pos = int64(len(s.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence")
	}
	return s.pos, nil
}

// Bytes returns the written content.
func (s *SeekableBuffer) Bytes() []byte {
	return s.buf
}

// VideoInitSegment builds an H.264 init segment (ftyp+moov).
func VideoInitSegment(t *testing.T) []byte {
	t.Helper()
	init := fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        TestTrackID,
			TimeScale: TestTimescale,
			Codec:     &mp4.CodecH264{SPS: TestSPS, PPS: TestPPS},
		}},
	}
	var sb SeekableBuffer
	require.NoError(t, init.Marshal(&sb))
	return sb.buf
}

// AudioInitSegment builds an AAC init segment.
func AudioInitSegment(t *testing.T) []byte {
	t.Helper()
	init := fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        TestTrackID,
			TimeScale: uint32(TestAACConfig.SampleRate),
			Codec:     &mp4.CodecMPEG4Audio{Config: TestAACConfig},
		}},
	}
	var sb SeekableBuffer
	require.NoError(t, init.Marshal(&sb))
	return sb.buf
}

// VideoSampleSpec describes one fixture video sample.
type VideoSampleSpec struct {
	Duration  uint32
	PTSOffset int32
	Key       bool
	SliceLen  int
}

// DefaultVideoSpecs is a keyframe-led GOP with a negative composition
// offset in the middle, as B-frame encoders produce.
func DefaultVideoSpecs() []VideoSampleSpec {
	return []VideoSampleSpec{
		{Duration: 900000, PTSOffset: 900000, Key: true, SliceLen: 420},
		{Duration: 900000, PTSOffset: -300000, Key: false, SliceLen: 260},
		{Duration: 900000, PTSOffset: 300000, Key: false, SliceLen: 190},
		{Duration: 900000, PTSOffset: 0, Key: false, SliceLen: 233},
	}
}

// TSVideoSpecs is a GOP whose composition offsets keep presentation at
// or after decode, the shape the TS pipeline requires.
func TSVideoSpecs() []VideoSampleSpec {
	return []VideoSampleSpec{
		{Duration: 900000, PTSOffset: 900000, Key: true, SliceLen: 420},
		{Duration: 900000, PTSOffset: 1800000, Key: false, SliceLen: 260},
		{Duration: 900000, PTSOffset: 0, Key: false, SliceLen: 190},
		{Duration: 900000, PTSOffset: 900000, Key: false, SliceLen: 233},
	}
}

// AVCCSample builds an AVCC payload with a single slice NAL of the given
// length carrying a deterministic byte pattern.
func AVCCSample(t *testing.T, key bool, sliceLen int, seed byte) []byte {
	t.Helper()
	nal := make([]byte, sliceLen)
	if key {
		nal[0] = byte(h264.NALUTypeIDR) | 0x60
	} else {
		nal[0] = byte(h264.NALUTypeNonIDR) | 0x60
	}
	for i := 1; i < sliceLen; i++ {
		nal[i] = seed + byte(i)
	}
	payload, err := h264.AVCC([][]byte{nal}).Marshal()
	require.NoError(t, err)
	return payload
}

// VideoMediaSegment builds a moof+mdat fragment with the given samples
// starting at baseTime.
func VideoMediaSegment(t *testing.T, baseTime uint64, specs []VideoSampleSpec) []byte {
	t.Helper()
	samples := make([]*fmp4.Sample, len(specs))
	for i, spec := range specs {
		samples[i] = &fmp4.Sample{
			Duration:        spec.Duration,
			PTSOffset:       spec.PTSOffset,
			IsNonSyncSample: !spec.Key,
			Payload:         AVCCSample(t, spec.Key, spec.SliceLen, byte(i*17+1)),
		}
	}
	part := fmp4.Part{
		SequenceNumber: 1,
		Tracks: []*fmp4.PartTrack{{
			ID:       TestTrackID,
			BaseTime: baseTime,
			Samples:  samples,
		}},
	}
	var sb SeekableBuffer
	require.NoError(t, part.Marshal(&sb))
	return sb.buf
}

// AudioMediaSegment builds an AAC fragment of raw AUs.
func AudioMediaSegment(t *testing.T, baseTime uint64, frames int) []byte {
	t.Helper()
	samples := make([]*fmp4.Sample, frames)
	for i := range samples {
		au := bytes.Repeat([]byte{byte(0x21 + i)}, 160+i*7)
		samples[i] = &fmp4.Sample{Duration: 1024, Payload: au}
	}
	part := fmp4.Part{
		SequenceNumber: 1,
		Tracks: []*fmp4.PartTrack{{
			ID:       TestTrackID,
			BaseTime: baseTime,
			Samples:  samples,
		}},
	}
	var sb SeekableBuffer
	require.NoError(t, part.Marshal(&sb))
	return sb.buf
}
