package livepackager_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/livepackager/internal/encryption"
	"github.com/jmylchreest/livepackager/internal/fmp4"
	"github.com/jmylchreest/livepackager/internal/mp4box"
	"github.com/jmylchreest/livepackager/internal/testutil"
	"github.com/jmylchreest/livepackager/pkg/livepackager"
)

const numSegments = 10

func keyedConfig(cfg livepackager.LiveConfig) livepackager.LiveConfig {
	if cfg.ProtectionScheme != livepackager.ProtectionNone {
		cfg.Key = testutil.TestKey
		cfg.IV = testutil.TestIV
		cfg.KeyID = testutil.TestKeyID
	}
	cfg.M2TSOffsetMS = 9000
	return cfg
}

func newPackager(t *testing.T, cfg livepackager.LiveConfig) *livepackager.Packager {
	t.Helper()
	p, err := livepackager.New(keyedConfig(cfg))
	require.NoError(t, err)
	return p
}

func TestInitSegmentOnly(t *testing.T) {
	p := newPackager(t, livepackager.LiveConfig{
		Format:    livepackager.FormatFMP4,
		TrackType: livepackager.TrackVideo,
	})

	out := livepackager.NewFullSegmentBuffer()
	require.NoError(t, p.PackageInit(testutil.VideoInitSegment(t), out))
	assert.Greater(t, out.InitSegmentSize(), 0)
	assert.Zero(t, out.SegmentSize())

	initSeg := out.InitSegmentData()
	ftyp, ok := mp4box.Find(initSeg, "ftyp")
	require.True(t, ok)
	assert.Equal(t, 0, ftyp.Offset)
	assert.Equal(t, "mp41", string(ftyp.Payload[:4]))

	moov, ok := mp4box.Find(initSeg, "moov")
	require.True(t, ok)
	stsd, ok := mp4box.FindPath(moov.Payload, "trak", "mdia", "minf", "stbl", "stsd")
	require.True(t, ok)
	assert.Equal(t, "avc1", string(stsd.Payload[12:16]))

	info, err := fmp4.ParseInit(initSeg)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestWidth, info.Width)
	assert.Equal(t, testutil.TestHeight, info.Height)
}

func TestInitSegmentOnlyWithCBCS(t *testing.T) {
	p := newPackager(t, livepackager.LiveConfig{
		Format:           livepackager.FormatFMP4,
		TrackType:        livepackager.TrackVideo,
		ProtectionScheme: livepackager.ProtectionCBCS,
	})

	out := livepackager.NewFullSegmentBuffer()
	require.NoError(t, p.PackageInit(testutil.VideoInitSegment(t), out))
	assert.Greater(t, out.InitSegmentSize(), 0)
	assert.Zero(t, out.SegmentSize())

	moov, ok := mp4box.Find(out.InitSegmentData(), "moov")
	require.True(t, ok)
	stsd, ok := mp4box.FindPath(moov.Payload, "trak", "mdia", "minf", "stbl", "stsd")
	require.True(t, ok)
	assert.Equal(t, "encv", string(stsd.Payload[12:16]))

	entry := stsd.Payload[8:]
	entryBox, ok := mp4box.Find(entry, "encv")
	require.True(t, ok)
	tenc, ok := mp4box.FindPath(entryBox.Payload[78:], "sinf", "schi", "tenc")
	require.True(t, ok)
	assert.Equal(t, byte(0), tenc.Payload[7], "default_Per_Sample_IV_Size")
	assert.Equal(t, byte(16), tenc.Payload[24], "constant IV length")
	wantIV := make([]byte, 16)
	copy(wantIV, testutil.TestIV)
	assert.Equal(t, wantIV, tenc.Payload[25:41])
}

func TestInitSegmentOnlyWithCENC(t *testing.T) {
	p := newPackager(t, livepackager.LiveConfig{
		Format:           livepackager.FormatFMP4,
		TrackType:        livepackager.TrackVideo,
		ProtectionScheme: livepackager.ProtectionCENC,
	})

	out := livepackager.NewFullSegmentBuffer()
	require.NoError(t, p.PackageInit(testutil.VideoInitSegment(t), out))

	moov, _ := mp4box.Find(out.InitSegmentData(), "moov")
	stsd, ok := mp4box.FindPath(moov.Payload, "trak", "mdia", "minf", "stbl", "stsd")
	require.True(t, ok)
	assert.Equal(t, "encv", string(stsd.Payload[12:16]))
}

func TestInitSegmentWithPSSHBoxes(t *testing.T) {
	cfg := livepackager.LiveConfig{
		Format:           livepackager.FormatFMP4,
		TrackType:        livepackager.TrackVideo,
		ProtectionScheme: livepackager.ProtectionCENC,
		ProtectionSystems: livepackager.ProtectionSystemCommon |
			livepackager.ProtectionSystemWidevine |
			livepackager.ProtectionSystemPlayReady,
	}
	p := newPackager(t, cfg)

	out := livepackager.NewFullSegmentBuffer()
	require.NoError(t, p.PackageInit(testutil.VideoInitSegment(t), out))

	moov, _ := mp4box.Find(out.InitSegmentData(), "moov")
	count := 0
	require.NoError(t, mp4box.Scan(moov.Payload, func(b mp4box.Box) error {
		if b.Type == "pssh" {
			count++
		}
		return nil
	}))
	assert.Equal(t, 3, count)
}

func TestVerifyAes128WithDecryption(t *testing.T) {
	init := testutil.VideoInitSegment(t)
	decryptor, err := encryption.NewSegmentEncryptor(testutil.TestKey, testutil.TestIV)
	require.NoError(t, err)

	for i := uint32(0); i < numSegments; i++ {
		p := newPackager(t, livepackager.LiveConfig{
			Format:           livepackager.FormatTS,
			TrackType:        livepackager.TrackVideo,
			ProtectionScheme: livepackager.ProtectionAES128,
			SegmentNumber:    i,
		})

		media := testutil.VideoMediaSegment(t, uint64(i)*3600000, testutil.TSVideoSpecs())
		out := livepackager.NewFullSegmentBuffer()
		require.NoError(t, p.Package(init, media, out))
		require.Greater(t, out.SegmentSize(), 0)

		decrypted, err := decryptor.Decrypt(out.SegmentData())
		require.NoError(t, err, "segment %d decrypts without padding errors", i)
		assert.Zero(t, len(decrypted)%188, "segment %d is whole TS packets", i)
	}
}

func TestEncryptionFailure(t *testing.T) {
	cfg := livepackager.LiveConfig{
		Format:           livepackager.FormatTS,
		TrackType:        livepackager.TrackVideo,
		ProtectionScheme: livepackager.ProtectionAES128,
		Key:              make([]byte, 15),
		IV:               make([]byte, 14),
		KeyID:            make([]byte, 16),
	}
	_, err := livepackager.New(cfg)
	require.Error(t, err)
	assert.Equal(t, livepackager.KindInvalidArgument, livepackager.KindOf(err))
	assert.Contains(t, err.Error(), "invalid key and IV supplied to encryptor")
}

func TestCheckContinuityCounter(t *testing.T) {
	init := testutil.VideoInitSegment(t)

	for i := uint32(0); i < numSegments; i++ {
		p := newPackager(t, livepackager.LiveConfig{
			Format:        livepackager.FormatTS,
			TrackType:     livepackager.TrackVideo,
			SegmentNumber: i,
		})

		media := testutil.VideoMediaSegment(t, uint64(i)*3600000, testutil.TSVideoSpecs())
		out := livepackager.NewFullSegmentBuffer()
		require.NoError(t, p.Package(init, media, out))
		require.Greater(t, out.SegmentSize(), 0)

		data := out.SegmentData()
		require.Zero(t, len(data)%188)
		pesCC := 0
		for off := 0; off < len(data); off += 188 {
			pkt := data[off : off+188]
			require.Equal(t, byte(0x47), pkt[0])
			pid := uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2])
			cc := int(pkt[3] & 0x0F)
			pusi := pkt[1]&0x40 != 0

			if pusi && (pid == 0x0000 || pid == 0x0020) {
				assert.Equal(t, int(i%16), cc, "PAT/PMT counter, segment %d", i)
			} else if pid == 0x0080 {
				assert.Equal(t, pesCC%16, cc, "PES counter, segment %d", i)
				pesCC++
			}
		}
		assert.NotZero(t, pesCC)
	}
}

func TestCustomMoofSequenceNumber(t *testing.T) {
	init := testutil.VideoInitSegment(t)

	for i := uint32(0); i < numSegments; i++ {
		p := newPackager(t, livepackager.LiveConfig{
			Format:        livepackager.FormatFMP4,
			TrackType:     livepackager.TrackVideo,
			SegmentNumber: i + 1,
		})

		media := testutil.VideoMediaSegment(t, uint64(i)*3600000, testutil.DefaultVideoSpecs())
		out := livepackager.NewFullSegmentBuffer()
		require.NoError(t, p.Package(init, media, out))
		require.Greater(t, out.SegmentSize(), 0)

		body := out.SegmentData()
		styp, ok := mp4box.Find(body, "styp")
		require.True(t, ok)
		assert.Equal(t, 0, styp.Offset)
		assert.Equal(t, "mp41", string(styp.Payload[:4]))

		sidx, ok := mp4box.Find(body, "sidx")
		require.True(t, ok)
		assert.Equal(t, uint32(testutil.TestTimescale), binary.BigEndian.Uint32(sidx.Payload[8:]))

		moof, ok := mp4box.Find(body, "moof")
		require.True(t, ok)
		mfhd, ok := mp4box.Find(moof.Payload, "mfhd")
		require.True(t, ok)
		assert.Equal(t, i+1, binary.BigEndian.Uint32(mfhd.Payload[4:]))
	}
}

func TestPackageEmptyMediaSegment(t *testing.T) {
	p := newPackager(t, livepackager.LiveConfig{
		Format:    livepackager.FormatFMP4,
		TrackType: livepackager.TrackVideo,
	})

	out := livepackager.NewFullSegmentBuffer()
	require.NoError(t, p.Package(testutil.VideoInitSegment(t), nil, out))
	assert.Greater(t, out.InitSegmentSize(), 0)
	assert.Zero(t, out.SegmentSize())
}

func TestTrackTypeMismatch(t *testing.T) {
	p := newPackager(t, livepackager.LiveConfig{
		Format:    livepackager.FormatFMP4,
		TrackType: livepackager.TrackAudio,
	})

	out := livepackager.NewFullSegmentBuffer()
	err := p.PackageInit(testutil.VideoInitSegment(t), out)
	require.Error(t, err)
	assert.Equal(t, livepackager.KindInvalidArgument, livepackager.KindOf(err))
}

func TestConfigValidation(t *testing.T) {
	cases := map[string]struct {
		cfg  livepackager.LiveConfig
		kind livepackager.ErrorKind
	}{
		"unknown format": {
			cfg:  livepackager.LiveConfig{Format: livepackager.OutputFormat(99)},
			kind: livepackager.KindInvalidArgument,
		},
		"unknown scheme": {
			cfg: livepackager.LiveConfig{
				ProtectionScheme: livepackager.ProtectionScheme(42),
			},
			kind: livepackager.KindInvalidArgument,
		},
		"protection systems without scheme": {
			cfg: livepackager.LiveConfig{
				ProtectionSystems: livepackager.ProtectionSystemWidevine,
			},
			kind: livepackager.KindInvalidArgument,
		},
		"unknown protection system bit": {
			cfg: livepackager.LiveConfig{
				ProtectionScheme:  livepackager.ProtectionCENC,
				Key:               testutil.TestKey,
				IV:                testutil.TestIV,
				KeyID:             testutil.TestKeyID,
				ProtectionSystems: livepackager.ProtectionSystemFlags(1 << 10),
			},
			kind: livepackager.KindInvalidArgument,
		},
		"aes-128 with fmp4": {
			cfg: livepackager.LiveConfig{
				Format:           livepackager.FormatFMP4,
				ProtectionScheme: livepackager.ProtectionAES128,
				Key:              testutil.TestKey,
				IV:               testutil.TestIV,
				KeyID:            testutil.TestKeyID,
			},
			kind: livepackager.KindUnsupported,
		},
		"bad key id": {
			cfg: livepackager.LiveConfig{
				Format:           livepackager.FormatTS,
				ProtectionScheme: livepackager.ProtectionCENC,
				Key:              testutil.TestKey,
				IV:               testutil.TestIV,
				KeyID:            testutil.TestKeyID[:8],
			},
			kind: livepackager.KindInvalidArgument,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := livepackager.New(tc.cfg)
			require.Error(t, err)
			assert.Equal(t, tc.kind, livepackager.KindOf(err))
		})
	}
}

func TestEightByteIVAccepted(t *testing.T) {
	cfg := livepackager.LiveConfig{
		Format:           livepackager.FormatFMP4,
		TrackType:        livepackager.TrackVideo,
		ProtectionScheme: livepackager.ProtectionCENC,
		Key:              testutil.TestKey,
		IV:               testutil.TestIV[:8],
		KeyID:            testutil.TestKeyID,
	}
	_, err := livepackager.New(cfg)
	assert.NoError(t, err)
}

func TestPackageTimedTextTTMLPassthrough(t *testing.T) {
	doc := []byte(`<tt xmlns="http://www.w3.org/ns/ttml"><body/></tt>`)
	p := newPackager(t, livepackager.LiveConfig{
		Format:    livepackager.FormatTTML,
		TrackType: livepackager.TrackText,
	})

	out := livepackager.NewFullSegmentBuffer()
	require.NoError(t, p.PackageTimedText(doc, out))
	assert.Zero(t, out.InitSegmentSize())
	assert.Equal(t, doc, out.SegmentData())
}

func TestPackageTimedTextVTT(t *testing.T) {
	doc := []byte("WEBVTT\n\n00:00:00.000 --> 00:00:02.000\nhello\n")
	p := newPackager(t, livepackager.LiveConfig{
		Format:              livepackager.FormatVTTMP4,
		TrackType:           livepackager.TrackText,
		TimedTextDecodeTime: 900000,
	})

	out := livepackager.NewFullSegmentBuffer()
	require.NoError(t, p.PackageTimedText(doc, out))
	assert.Greater(t, out.InitSegmentSize(), 0)
	assert.Greater(t, out.SegmentSize(), 0)

	moof, ok := mp4box.Find(out.SegmentData(), "moof")
	require.True(t, ok)
	tfdt, ok := mp4box.FindPath(moof.Payload, "traf", "tfdt")
	require.True(t, ok)
	assert.Equal(t, uint64(900000), binary.BigEndian.Uint64(tfdt.Payload[4:]))
}

func TestPackageRejectsTextFormat(t *testing.T) {
	p := newPackager(t, livepackager.LiveConfig{
		Format:    livepackager.FormatVTTMP4,
		TrackType: livepackager.TrackText,
	})
	out := livepackager.NewFullSegmentBuffer()
	err := p.Package(nil, nil, out)
	require.Error(t, err)
	assert.Equal(t, livepackager.KindUnsupported, livepackager.KindOf(err))
}

func TestNilOutputBuffer(t *testing.T) {
	p := newPackager(t, livepackager.LiveConfig{
		Format:    livepackager.FormatFMP4,
		TrackType: livepackager.TrackVideo,
	})
	err := p.PackageInit(testutil.VideoInitSegment(t), nil)
	require.Error(t, err)
	assert.Equal(t, livepackager.KindInvalidArgument, livepackager.KindOf(err))
}
