package livepackager

// OutputFormat selects the container the packager emits.
type OutputFormat int

const (
	// FormatFMP4 emits a CMAF fragment (styp/sidx/moof/mdat).
	FormatFMP4 OutputFormat = iota
	// FormatTS emits an MPEG-2 transport stream segment.
	FormatTS
	// FormatVTTMP4 emits WebVTT cues packed into an MP4 fragment.
	FormatVTTMP4
	// FormatTTMLMP4 emits a TTML document packed into an MP4 fragment.
	FormatTTMLMP4
	// FormatTTML passes the TTML document through unchanged.
	FormatTTML
)

// String returns the lowercase format name.
func (f OutputFormat) String() string {
	switch f {
	case FormatFMP4:
		return "fmp4"
	case FormatTS:
		return "ts"
	case FormatVTTMP4:
		return "vttmp4"
	case FormatTTMLMP4:
		return "ttmlmp4"
	case FormatTTML:
		return "ttml"
	default:
		return "unknown"
	}
}

// TrackType identifies the kind of elementary stream being packaged.
type TrackType int

const (
	// TrackAudio is an audio track.
	TrackAudio TrackType = iota
	// TrackVideo is a video track.
	TrackVideo
	// TrackText is a timed-text track.
	TrackText
)

// String returns the lowercase track type name.
func (t TrackType) String() string {
	switch t {
	case TrackAudio:
		return "audio"
	case TrackVideo:
		return "video"
	case TrackText:
		return "text"
	default:
		return "unknown"
	}
}

// ProtectionScheme selects the content encryption applied to output.
type ProtectionScheme int

const (
	// ProtectionNone leaves output in the clear.
	ProtectionNone ProtectionScheme = iota
	// ProtectionSampleAES applies HLS SAMPLE-AES sample encryption.
	ProtectionSampleAES
	// ProtectionAES128 applies whole-segment AES-128-CBC (TS only).
	ProtectionAES128
	// ProtectionCBCS applies the 'cbcs' pattern scheme (CBC, constant IV).
	ProtectionCBCS
	// ProtectionCENC applies the 'cenc' scheme (CTR, per-sample IV).
	ProtectionCENC
)

// String returns the lowercase scheme name.
func (p ProtectionScheme) String() string {
	switch p {
	case ProtectionNone:
		return "none"
	case ProtectionSampleAES:
		return "sample-aes"
	case ProtectionAES128:
		return "aes-128"
	case ProtectionCBCS:
		return "cbcs"
	case ProtectionCENC:
		return "cenc"
	default:
		return "unknown"
	}
}

// ProtectionSystemFlags selects which PSSH boxes are embedded in fMP4 init
// output. Flags combine with bitwise OR.
type ProtectionSystemFlags uint32

const (
	// ProtectionSystemCommon embeds the common (CENC) PSSH box.
	ProtectionSystemCommon ProtectionSystemFlags = 1 << iota
	// ProtectionSystemWidevine embeds the Widevine PSSH box.
	ProtectionSystemWidevine
	// ProtectionSystemPlayReady embeds the PlayReady PSSH box.
	ProtectionSystemPlayReady
)

const protectionSystemKnownMask = ProtectionSystemCommon |
	ProtectionSystemWidevine |
	ProtectionSystemPlayReady

// KeyIVLen is the required byte length for keys and key IDs, and the long
// form of IVs.
const KeyIVLen = 16

// LiveConfig is the immutable input to each packager instance.
type LiveConfig struct {
	Format           OutputFormat
	TrackType        TrackType
	ProtectionScheme ProtectionScheme

	// IV must be 8 or 16 bytes when ProtectionScheme is not NONE.
	IV []byte
	// Key and KeyID must be exactly 16 bytes when ProtectionScheme is not
	// NONE.
	Key   []byte
	KeyID []byte

	// SegmentNumber is written as mfhd.sequence_number (clamped to >= 1)
	// for fMP4 output and seeds the PAT/PMT continuity counters (mod 16)
	// for TS output.
	SegmentNumber uint32

	// M2TSOffsetMS is added to every PTS/DTS written into TS output, in
	// milliseconds, to lift negative composition offsets above zero.
	M2TSOffsetMS int32

	// TimedTextDecodeTime is the tfdt base decode time for VTTMP4 and
	// TTMLMP4 output.
	TimedTextDecodeTime int64

	// ProtectionSystems selects the PSSH boxes embedded in fMP4 init
	// output. Bits set while ProtectionScheme is NONE are rejected.
	ProtectionSystems ProtectionSystemFlags

	// SegmentDurationSec is the timed-text segment length in seconds: it
	// bounds the trailing empty-cue pad for VTTMP4 output and sets the
	// sample duration for TTMLMP4 output. Audio/video packaging, including
	// sidx, does not use it.
	SegmentDurationSec float64

	// DecryptionKey and DecryptionKeyID carry key material for
	// re-encrypting pre-encrypted input. Re-encryption is not implemented;
	// the fields exist for configuration compatibility.
	DecryptionKey   []byte
	DecryptionKeyID []byte
}

// Validate checks the configuration, returning a Status on the first
// violation found: INVALID_ARGUMENT for malformed or unknown values, and
// UNSUPPORTED for AES-128 with a non-TS output format.
func (c *LiveConfig) Validate() error {
	switch c.Format {
	case FormatFMP4, FormatTS, FormatVTTMP4, FormatTTMLMP4, FormatTTML:
	default:
		return Statusf(KindInvalidArgument, "unknown output format %d", int(c.Format))
	}
	switch c.TrackType {
	case TrackAudio, TrackVideo, TrackText:
	default:
		return Statusf(KindInvalidArgument, "unknown track type %d", int(c.TrackType))
	}

	switch c.ProtectionScheme {
	case ProtectionNone:
		if c.ProtectionSystems != 0 {
			return NewStatus(KindInvalidArgument,
				"protection systems requested without an encryption scheme")
		}
	case ProtectionSampleAES, ProtectionAES128, ProtectionCBCS, ProtectionCENC:
		if len(c.Key) != KeyIVLen || (len(c.IV) != 8 && len(c.IV) != KeyIVLen) {
			return NewStatus(KindInvalidArgument,
				"invalid key and IV supplied to encryptor")
		}
		if len(c.KeyID) != KeyIVLen {
			return Statusf(KindInvalidArgument,
				"key id must be %d bytes, got %d", KeyIVLen, len(c.KeyID))
		}
	default:
		return Statusf(KindInvalidArgument, "unknown protection scheme %d", int(c.ProtectionScheme))
	}

	if c.ProtectionSystems&^protectionSystemKnownMask != 0 {
		return Statusf(KindInvalidArgument,
			"unknown protection system bits 0x%x", uint32(c.ProtectionSystems&^protectionSystemKnownMask))
	}

	if c.ProtectionScheme == ProtectionAES128 && c.Format != FormatTS {
		return NewStatus(KindUnsupported,
			"AES-128 full-segment encryption is only supported for TS output")
	}
	return nil
}
