// Package encryption implements the content protection schemes applied to
// packaged segments: whole-segment AES-128, HLS SAMPLE-AES, CENC (CTR)
// and CBCS (pattern CBC), plus PSSH generation for the common, Widevine
// and PlayReady systems.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/jmylchreest/livepackager/internal/fmp4"
	"github.com/jmylchreest/livepackager/internal/status"
)

// Scheme identifies a protection scheme.
type Scheme int

// Supported schemes.
const (
	SchemeNone Scheme = iota
	SchemeSampleAES
	SchemeAES128
	SchemeCBCS
	SchemeCENC
)

// String returns the lowercase scheme name.
func (s Scheme) String() string {
	switch s {
	case SchemeNone:
		return "none"
	case SchemeSampleAES:
		return "sample-aes"
	case SchemeAES128:
		return "aes-128"
	case SchemeCBCS:
		return "cbcs"
	case SchemeCENC:
		return "cenc"
	default:
		return "unknown"
	}
}

// SignalingFourCC returns the sinf/schm scheme code carried in fMP4
// output. SAMPLE-AES over CMAF is signaled as cbcs.
func (s Scheme) SignalingFourCC() string {
	switch s {
	case SchemeCENC:
		return "cenc"
	case SchemeCBCS, SchemeSampleAES:
		return "cbcs"
	default:
		return ""
	}
}

// Config carries the key material for a packager instance.
type Config struct {
	Scheme Scheme
	Key    []byte
	IV     []byte // 8 or 16 bytes
	KeyID  []byte
}

// Pattern constants for cbcs/SAMPLE-AES video: encrypt 1 of every 10
// 16-byte blocks.
const (
	cryptByteBlock = 1
	skipByteBlock  = 9
)

// Clear leads preserved for parsers, per the HLS SAMPLE-AES rules.
const (
	videoClearLead = 32
	audioClearLead = 16
)

const blockSize = 16

var errBadKeyIV = status.New(status.KindInvalidArgument,
	"invalid key and IV supplied to encryptor")

// validateKeyIV checks the lengths the schemes accept.
func validateKeyIV(key, iv []byte) error {
	if len(key) != 16 || (len(iv) != 8 && len(iv) != 16) {
		return errBadKeyIV
	}
	return nil
}

// SampleEncryptor applies CENC, CBCS or SAMPLE-AES protection to fMP4
// samples, producing the per-sample IVs and subsample maps the writer
// needs for senc/saiz/saio.
type SampleEncryptor struct {
	cfg   Config
	block cipher.Block

	// counterIV is the running CENC IV, advanced block-wise per sample.
	counterIV []byte
}

// NewSampleEncryptor creates an encryptor for one of the sample-level
// schemes.
func NewSampleEncryptor(cfg Config) (*SampleEncryptor, error) {
	if err := validateKeyIV(cfg.Key, cfg.IV); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(cfg.Key)
	if err != nil {
		return nil, status.Wrap(status.KindEncryptionError, err, "initializing AES cipher")
	}
	return &SampleEncryptor{
		cfg:       cfg,
		block:     block,
		counterIV: append([]byte(nil), cfg.IV...),
	}, nil
}

// PerSampleIVSize returns the senc IV size for the scheme: the configured
// IV length for CENC, zero for the constant-IV schemes.
func (e *SampleEncryptor) PerSampleIVSize() int {
	if e.cfg.Scheme == SchemeCENC {
		return len(e.cfg.IV)
	}
	return 0
}

// ConstantIV returns the 16-byte constant IV for cbcs signaling, padding
// short configured IVs with trailing zeros.
func (e *SampleEncryptor) ConstantIV() []byte {
	iv := make([]byte, blockSize)
	copy(iv, e.cfg.IV)
	return iv
}

// Pattern returns the crypt:skip block pattern for video tracks, or (0,0)
// for schemes without one.
func (e *SampleEncryptor) Pattern(isVideo bool) (crypt, skip uint8) {
	if isVideo && (e.cfg.Scheme == SchemeCBCS || e.cfg.Scheme == SchemeSampleAES) {
		return cryptByteBlock, skipByteBlock
	}
	return 0, 0
}

// EncryptSamples protects samples in place, filling IsEncrypted, IV and
// Subsamples. Sample boundaries, durations and decode order are
// unchanged.
func (e *SampleEncryptor) EncryptSamples(info *fmp4.TrackInfo, samples []fmp4.Sample) error {
	isVideo := info.Handler == "vide"
	for i := range samples {
		if err := e.encryptSample(&samples[i], isVideo); err != nil {
			return err
		}
	}
	return nil
}

func (e *SampleEncryptor) encryptSample(s *fmp4.Sample, isVideo bool) error {
	switch e.cfg.Scheme {
	case SchemeCENC:
		return e.encryptCENC(s, isVideo)
	case SchemeCBCS, SchemeSampleAES:
		return e.encryptCBCS(s, isVideo)
	default:
		return status.Newf(status.KindEncryptionError,
			"scheme %s is not a sample-level scheme", e.cfg.Scheme)
	}
}

// encryptCENC applies AES-CTR over the protected ranges of a sample. The
// CTR keystream runs continuously across the sample's subsamples.
func (e *SampleEncryptor) encryptCENC(s *fmp4.Sample, isVideo bool) error {
	data := append([]byte(nil), s.Data...)

	var subsamples []fmp4.SubsampleEntry
	if isVideo {
		// Only the NAL header byte stays clear beyond the length prefix.
		var err error
		subsamples, err = buildAVCCSubsamples(data, 1)
		if err != nil {
			return err
		}
		if err := checkSubsampleSum(subsamples, len(data)); err != nil {
			return err
		}
	}

	iv := append([]byte(nil), e.counterIV...)
	counter := make([]byte, blockSize)
	copy(counter, iv)
	stream := cipher.NewCTR(e.block, counter)

	protected := 0
	if len(subsamples) == 0 {
		stream.XORKeyStream(data, data)
		protected = len(data)
	} else {
		pos := 0
		for _, ss := range subsamples {
			pos += int(ss.ClearBytes)
			if ss.ProtectedBytes > 0 {
				end := pos + int(ss.ProtectedBytes)
				stream.XORKeyStream(data[pos:end], data[pos:end])
				pos = end
				protected += int(ss.ProtectedBytes)
			}
		}
	}

	s.Data = data
	s.IsEncrypted = true
	s.IV = iv
	s.Subsamples = subsamples

	advanceIV(e.counterIV, (protected+blockSize-1)/blockSize)
	return nil
}

// encryptCBCS applies pattern CBC with the constant IV. The IV is reset
// at the start of each subsample's protected range.
func (e *SampleEncryptor) encryptCBCS(s *fmp4.Sample, isVideo bool) error {
	data := append([]byte(nil), s.Data...)
	iv := e.ConstantIV()

	if isVideo {
		subsamples, err := buildAVCCSubsamples(data, videoClearLead)
		if err != nil {
			return err
		}
		if err := checkSubsampleSum(subsamples, len(data)); err != nil {
			return err
		}
		pos := 0
		for _, ss := range subsamples {
			pos += int(ss.ClearBytes)
			if ss.ProtectedBytes > 0 {
				end := pos + int(ss.ProtectedBytes)
				cbcEncryptPattern(e.block, iv, data[pos:end], cryptByteBlock, skipByteBlock)
				pos = end
			}
		}
		s.Subsamples = subsamples
	} else {
		// Audio: whole-block CBC over the frame, trailing partial block
		// clear, no pattern, no subsamples.
		cbcEncryptPattern(e.block, iv, data, 1, 0)
	}

	s.Data = data
	s.IsEncrypted = true
	s.IV = nil
	return nil
}

// buildAVCCSubsamples walks length-prefixed NAL units and maps VCL
// payloads to protected ranges. clearLead is the number of NAL bytes
// (including the one-byte header) left clear at the start of each VCL
// unit; non-VCL units stay clear entirely.
func buildAVCCSubsamples(data []byte, clearLead int) ([]fmp4.SubsampleEntry, error) {
	var entries []fmp4.SubsampleEntry
	clear := 0

	flushClear := func(protected uint32) {
		for clear > 0xFFFF {
			entries = append(entries, fmp4.SubsampleEntry{ClearBytes: 0xFFFF})
			clear -= 0xFFFF
		}
		entries = append(entries, fmp4.SubsampleEntry{
			ClearBytes:     uint16(clear),
			ProtectedBytes: protected,
		})
		clear = 0
	}

	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			return nil, status.New(status.KindEncryptionError,
				"truncated NAL length prefix in sample")
		}
		nalLen := int(uint32(data[offset])<<24 | uint32(data[offset+1])<<16 |
			uint32(data[offset+2])<<8 | uint32(data[offset+3]))
		offset += 4
		if nalLen <= 0 || offset+nalLen > len(data) {
			return nil, status.New(status.KindEncryptionError,
				"NAL unit extends past sample end")
		}

		naluType := h264.NALUType(data[offset] & 0x1F)
		isVCL := naluType >= h264.NALUTypeNonIDR && naluType <= h264.NALUTypeIDR

		if !isVCL || nalLen <= clearLead {
			clear += 4 + nalLen
		} else {
			clear += 4 + clearLead
			flushClear(uint32(nalLen - clearLead))
		}
		offset += nalLen
	}
	if clear > 0 {
		flushClear(0)
	}
	return entries, nil
}

// checkSubsampleSum verifies the subsample map covers the sample exactly.
func checkSubsampleSum(entries []fmp4.SubsampleEntry, size int) error {
	total := 0
	for _, e := range entries {
		total += int(e.ClearBytes) + int(e.ProtectedBytes)
	}
	if total != size {
		return status.Newf(status.KindEncryptionError,
			"subsample map covers %d bytes of a %d byte sample", total, size)
	}
	return nil
}

// cbcEncryptPattern runs CBC over data in a crypt:skip block pattern.
// Only whole 16-byte blocks are touched; the trailing partial block stays
// clear. skip == 0 degenerates to plain whole-block CBC. The chain runs
// across encrypted blocks; iv is not modified.
func cbcEncryptPattern(block cipher.Block, iv, data []byte, crypt, skip int) {
	prev := make([]byte, blockSize)
	copy(prev, iv)

	pos := 0
	for {
		for i := 0; i < crypt; i++ {
			if pos+blockSize > len(data) {
				return
			}
			b := data[pos : pos+blockSize]
			for j := 0; j < blockSize; j++ {
				b[j] ^= prev[j]
			}
			block.Encrypt(b, b)
			copy(prev, b)
			pos += blockSize
		}
		if skip == 0 {
			continue
		}
		pos += skip * blockSize
		if pos >= len(data) {
			return
		}
	}
}

// cbcDecryptPattern is the inverse of cbcEncryptPattern. Tests reach it
// through the package's decryption helpers.
func cbcDecryptPattern(block cipher.Block, iv, data []byte, crypt, skip int) {
	prev := make([]byte, blockSize)
	copy(prev, iv)
	scratch := make([]byte, blockSize)

	pos := 0
	for {
		for i := 0; i < crypt; i++ {
			if pos+blockSize > len(data) {
				return
			}
			b := data[pos : pos+blockSize]
			copy(scratch, b)
			block.Decrypt(b, b)
			for j := 0; j < blockSize; j++ {
				b[j] ^= prev[j]
			}
			copy(prev, scratch)
			pos += blockSize
		}
		if skip == 0 {
			continue
		}
		pos += skip * blockSize
		if pos >= len(data) {
			return
		}
	}
}

// advanceIV adds n to the big-endian integer held in iv.
func advanceIV(iv []byte, n int) {
	carry := uint64(n)
	for i := len(iv) - 1; i >= 0 && carry > 0; i-- {
		carry += uint64(iv[i])
		iv[i] = byte(carry)
		carry >>= 8
	}
}
