// Package fmp4 parses fragmented-MP4 init+media segment pairs into
// elementary samples and writes them back out as CMAF init segments and
// media fragments, including the encryption boxes the protected schemes
// require.
package fmp4

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// Codec names used across the packager.
const (
	CodecH264 = "h264"
	CodecAAC  = "aac"
	CodecWVTT = "wvtt"
	CodecTTML = "ttml"
)

// TTMLMimeFormat is the mime_format written into mett sample entries.
const TTMLMimeFormat = "application/ttml+xml"

// SubsampleEntry describes one (clear, protected) byte range inside an
// encrypted sample.
type SubsampleEntry struct {
	ClearBytes     uint16
	ProtectedBytes uint32
}

// Sample is one elementary media sample recovered from a fragment.
// Timestamps are in track timescale ticks. Data holds the mdat payload
// slice for the sample; for video this is length-prefixed (AVCC) NAL
// units as stored in the container.
type Sample struct {
	TrackID  int
	DTS      int64
	PTS      int64
	Duration uint32
	IsKey    bool

	Data []byte

	// Encryption state, populated by the encryption engine before the
	// sample reaches the writer.
	IsEncrypted bool
	IV          []byte
	Subsamples  []SubsampleEntry
}

// TrackInfo describes the track extracted from the init segment.
type TrackInfo struct {
	TrackID   int
	Handler   string // "vide", "soun" or "subt"
	Codec     string // CodecH264, CodecAAC, CodecWVTT or CodecTTML
	TimeScale uint32
	Language  string

	// Video parameters.
	SPS    []byte
	PPS    []byte
	Width  int
	Height int

	// Audio parameters.
	AudioConfig *mpeg4audio.Config

	// Encrypted reports that the source sample entries were already
	// protected (encv/enca).
	Encrypted bool
}
