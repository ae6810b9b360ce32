package encryption

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/jmylchreest/livepackager/internal/status"
)

// SegmentEncryptor encrypts a whole TS segment with AES-128-CBC and
// PKCS#5/7 padding, the HLS AES-128 method.
type SegmentEncryptor struct {
	block cipher.Block
	iv    []byte
}

// NewSegmentEncryptor creates a whole-segment encryptor. The IV is
// constant across calls; each segment is padded and encrypted
// independently.
func NewSegmentEncryptor(key, iv []byte) (*SegmentEncryptor, error) {
	if err := validateKeyIV(key, iv); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, status.Wrap(status.KindEncryptionError, err, "initializing AES cipher")
	}
	full := make([]byte, blockSize)
	copy(full, iv)
	return &SegmentEncryptor{block: block, iv: full}, nil
}

// Encrypt returns the padded ciphertext of data.
func (e *SegmentEncryptor) Encrypt(data []byte) []byte {
	pad := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+pad)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	cipher.NewCBCEncrypter(e.block, e.iv).CryptBlocks(padded, padded)
	return padded
}

// Decrypt reverses Encrypt, validating and stripping the padding. Used by
// the round-trip test suite and by hosts verifying output.
func (e *SegmentEncryptor) Decrypt(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, status.Newf(status.KindEncryptionError,
			"ciphertext length %d is not a positive multiple of %d", len(data), blockSize)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(e.block, e.iv).CryptBlocks(out, data)
	pad := int(out[len(out)-1])
	if pad == 0 || pad > blockSize || pad > len(out) {
		return nil, status.New(status.KindEncryptionError, "invalid PKCS#5 padding")
	}
	for _, b := range out[len(out)-pad:] {
		if int(b) != pad {
			return nil, status.New(status.KindEncryptionError, "invalid PKCS#5 padding")
		}
	}
	return out[:len(out)-pad], nil
}

// SampleAESEncryptor applies the Apple HLS SAMPLE-AES rules to elementary
// stream access units headed for TS output.
type SampleAESEncryptor struct {
	block cipher.Block
	iv    []byte
}

// NewSampleAESEncryptor creates a SAMPLE-AES encryptor for TS output.
func NewSampleAESEncryptor(key, iv []byte) (*SampleAESEncryptor, error) {
	if err := validateKeyIV(key, iv); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, status.Wrap(status.KindEncryptionError, err, "initializing AES cipher")
	}
	full := make([]byte, blockSize)
	copy(full, iv)
	return &SampleAESEncryptor{block: block, iv: full}, nil
}

// EncryptVideoAccessUnit protects the VCL NAL units of one access unit in
// place. Each qualifying NAL keeps a 32-byte clear lead, then a 1-of-10
// block pattern is encrypted with the chain reset per NAL.
func (e *SampleAESEncryptor) EncryptVideoAccessUnit(au [][]byte) {
	for _, nal := range au {
		if len(nal) == 0 {
			continue
		}
		naluType := h264.NALUType(nal[0] & 0x1F)
		if naluType < h264.NALUTypeNonIDR || naluType > h264.NALUTypeIDR {
			continue
		}
		if len(nal) <= videoClearLead+blockSize {
			continue
		}
		cbcEncryptPattern(e.block, e.iv, nal[videoClearLead:], cryptByteBlock, skipByteBlock)
	}
}

// DecryptVideoAccessUnit reverses EncryptVideoAccessUnit.
func (e *SampleAESEncryptor) DecryptVideoAccessUnit(au [][]byte) {
	for _, nal := range au {
		if len(nal) == 0 {
			continue
		}
		naluType := h264.NALUType(nal[0] & 0x1F)
		if naluType < h264.NALUTypeNonIDR || naluType > h264.NALUTypeIDR {
			continue
		}
		if len(nal) <= videoClearLead+blockSize {
			continue
		}
		cbcDecryptPattern(e.block, e.iv, nal[videoClearLead:], cryptByteBlock, skipByteBlock)
	}
}

// EncryptAudioFrame protects one audio frame in place: 16-byte clear
// lead, remaining whole blocks CBC, trailing partial block clear.
func (e *SampleAESEncryptor) EncryptAudioFrame(frame []byte) {
	if len(frame) <= audioClearLead+blockSize {
		return
	}
	cbcEncryptPattern(e.block, e.iv, frame[audioClearLead:], 1, 0)
}

// DecryptAudioFrame reverses EncryptAudioFrame.
func (e *SampleAESEncryptor) DecryptAudioFrame(frame []byte) {
	if len(frame) <= audioClearLead+blockSize {
		return
	}
	cbcDecryptPattern(e.block, e.iv, frame[audioClearLead:], 1, 0)
}
