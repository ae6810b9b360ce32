package livepackager

import (
	"log/slog"

	"github.com/jmylchreest/livepackager/internal/buffer"
	"github.com/jmylchreest/livepackager/internal/encryption"
	"github.com/jmylchreest/livepackager/internal/fmp4"
	"github.com/jmylchreest/livepackager/internal/mpegts"
	"github.com/jmylchreest/livepackager/internal/status"
	"github.com/jmylchreest/livepackager/internal/timedtext"
)

// SegmentBuffer is an append-only byte sink for packaged output.
type SegmentBuffer = buffer.SegmentBuffer

// FullSegmentBuffer is a SegmentBuffer that tracks the boundary between
// init-segment bytes and media bytes.
type FullSegmentBuffer = buffer.FullSegmentBuffer

// NewSegmentBuffer creates an empty SegmentBuffer.
func NewSegmentBuffer() *SegmentBuffer {
	return buffer.NewSegmentBuffer()
}

// NewFullSegmentBuffer creates an empty FullSegmentBuffer.
func NewFullSegmentBuffer() *FullSegmentBuffer {
	return buffer.NewFullSegmentBuffer()
}

// Packager converts fMP4 init+media segment pairs into packaged output
// segments according to its LiveConfig. A Packager may be reused for any
// number of segments but must not be called concurrently.
type Packager struct {
	cfg    LiveConfig
	logger *slog.Logger
}

// New creates a Packager after validating the configuration.
func New(cfg LiveConfig) (*Packager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Packager{
		cfg: cfg,
		logger: slog.Default().With(
			slog.String("component", "livepackager"),
			slog.String("format", cfg.Format.String())),
	}, nil
}

// Config returns a copy of the packager's configuration.
func (p *Packager) Config() LiveConfig {
	return p.cfg
}

// PackageInit re-emits a normalized init segment into the output's init
// region, adding encryption signaling and PSSH boxes when configured. TS
// output has no init segment; the call succeeds with an empty buffer.
func (p *Packager) PackageInit(initSeg []byte, out *FullSegmentBuffer) error {
	if out == nil {
		return status.New(status.KindInvalidArgument, "output buffer cannot be null")
	}
	if p.cfg.Format != FormatFMP4 {
		return nil
	}

	info, err := fmp4.ParseInit(initSeg)
	if err != nil {
		return err
	}
	if err := p.checkTrackType(info); err != nil {
		return err
	}

	prot, err := p.protectionInfo()
	if err != nil {
		return err
	}

	initBytes, err := fmp4.WriteInit(info, prot)
	if err != nil {
		return err
	}
	out.SetInitSegment(initBytes)

	p.logger.Debug("packaged init segment",
		slog.Int("size", len(initBytes)),
		slog.String("codec", info.Codec))
	return nil
}

// Package converts one media segment. The init region of the output is
// populated for fMP4 output; TS output fills only the media region.
func (p *Packager) Package(initSeg, mediaSeg []byte, out *FullSegmentBuffer) error {
	if out == nil {
		return status.New(status.KindInvalidArgument, "output buffer cannot be null")
	}

	switch p.cfg.Format {
	case FormatFMP4:
		return p.packageFMP4(initSeg, mediaSeg, out)
	case FormatTS:
		return p.packageTS(initSeg, mediaSeg, out)
	default:
		return status.Newf(status.KindUnsupported,
			"Package does not handle %s output; use PackageTimedText", p.cfg.Format)
	}
}

// PackageTimedText wraps a WebVTT or TTML payload. For MP4-wrapped
// formats the init region receives a matching init segment; raw TTML
// passes through into the media region.
func (p *Packager) PackageTimedText(seg []byte, out *FullSegmentBuffer) error {
	if out == nil {
		return status.New(status.KindInvalidArgument, "output buffer cannot be null")
	}

	durationMS := int64(p.cfg.SegmentDurationSec * 1000)

	switch p.cfg.Format {
	case FormatVTTMP4:
		packaged, err := timedtext.PackageWebVTT(seg, p.cfg.SegmentNumber,
			p.cfg.TimedTextDecodeTime, durationMS)
		if err != nil {
			return err
		}
		out.SetInitSegment(packaged.Init)
		out.AppendData(packaged.Fragment)
		return nil
	case FormatTTMLMP4:
		packaged, err := timedtext.PackageTTML(seg, p.cfg.SegmentNumber,
			p.cfg.TimedTextDecodeTime, durationMS)
		if err != nil {
			return err
		}
		out.SetInitSegment(packaged.Init)
		out.AppendData(packaged.Fragment)
		return nil
	case FormatTTML:
		out.AppendData(seg)
		return nil
	default:
		return status.Newf(status.KindUnsupported,
			"PackageTimedText does not handle %s output", p.cfg.Format)
	}
}

func (p *Packager) packageFMP4(initSeg, mediaSeg []byte, out *FullSegmentBuffer) error {
	info, samples, err := fmp4.ParseSegment(initSeg, mediaSeg)
	if err != nil {
		return err
	}
	if err := p.checkTrackType(info); err != nil {
		return err
	}

	prot, err := p.protectionInfo()
	if err != nil {
		return err
	}

	if enc := p.sampleScheme(); enc != encryption.SchemeNone {
		encryptor, err := encryption.NewSampleEncryptor(encryption.Config{
			Scheme: enc,
			Key:    p.cfg.Key,
			IV:     p.cfg.IV,
			KeyID:  p.cfg.KeyID,
		})
		if err != nil {
			return err
		}
		if err := encryptor.EncryptSamples(info, samples); err != nil {
			return err
		}
	}

	initBytes, err := fmp4.WriteInit(info, prot)
	if err != nil {
		return err
	}
	frag, err := fmp4.WriteSegment(info, samples, p.cfg.SegmentNumber, prot)
	if err != nil {
		return err
	}

	out.SetInitSegment(initBytes)
	out.AppendData(frag)

	p.logger.Debug("packaged fmp4 segment",
		slog.Uint64("segment_number", uint64(p.cfg.SegmentNumber)),
		slog.Int("samples", len(samples)),
		slog.Int("size", len(frag)))
	return nil
}

func (p *Packager) packageTS(initSeg, mediaSeg []byte, out *FullSegmentBuffer) error {
	info, samples, err := fmp4.ParseSegment(initSeg, mediaSeg)
	if err != nil {
		return err
	}
	if err := p.checkTrackType(info); err != nil {
		return err
	}

	var sampleAES *encryption.SampleAESEncryptor
	if p.cfg.ProtectionScheme == ProtectionSampleAES {
		sampleAES, err = encryption.NewSampleAESEncryptor(p.cfg.Key, p.cfg.IV)
		if err != nil {
			return err
		}
	}

	muxer, err := mpegts.NewMuxer(info, p.cfg.SegmentNumber, p.cfg.M2TSOffsetMS, sampleAES)
	if err != nil {
		return err
	}
	ts, err := muxer.WriteSegment(samples)
	if err != nil {
		return err
	}

	if p.cfg.ProtectionScheme == ProtectionAES128 {
		encryptor, err := encryption.NewSegmentEncryptor(p.cfg.Key, p.cfg.IV)
		if err != nil {
			return err
		}
		ts = encryptor.Encrypt(ts)
	}

	out.AppendData(ts)

	p.logger.Debug("packaged ts segment",
		slog.Uint64("segment_number", uint64(p.cfg.SegmentNumber)),
		slog.Int("samples", len(samples)),
		slog.Int("size", len(ts)))
	return nil
}

// sampleScheme maps the configured scheme to the sample-level encryption
// engine, or SchemeNone for clear and whole-segment modes.
func (p *Packager) sampleScheme() encryption.Scheme {
	switch p.cfg.ProtectionScheme {
	case ProtectionSampleAES:
		return encryption.SchemeSampleAES
	case ProtectionCBCS:
		return encryption.SchemeCBCS
	case ProtectionCENC:
		return encryption.SchemeCENC
	default:
		return encryption.SchemeNone
	}
}

// protectionInfo builds the writer-side encryption signaling, including
// any requested PSSH boxes. Returns nil for clear output.
func (p *Packager) protectionInfo() (*fmp4.ProtectionInfo, error) {
	scheme := p.sampleScheme()
	if scheme == encryption.SchemeNone {
		return nil, nil
	}

	prot := &fmp4.ProtectionInfo{
		SchemeFourCC: scheme.SignalingFourCC(),
		KeyID:        p.cfg.KeyID,
	}
	switch scheme {
	case encryption.SchemeCENC:
		prot.PerSampleIVSize = uint8(len(p.cfg.IV))
	default:
		constantIV := make([]byte, KeyIVLen)
		copy(constantIV, p.cfg.IV)
		prot.ConstantIV = constantIV
		if p.cfg.TrackType == TrackVideo {
			prot.CryptByteBlock, prot.SkipByteBlock = 1, 9
		} else {
			prot.CryptByteBlock, prot.SkipByteBlock = 1, 0
		}
	}

	if p.cfg.ProtectionSystems != 0 {
		psshScheme := encryption.PSSHSchemeCENC
		if scheme != encryption.SchemeCENC {
			psshScheme = encryption.PSSHSchemeCBCS
		}
		var data encryption.PSSHData
		err := encryption.GeneratePSSH(encryption.PSSHInput{
			ProtectionScheme: psshScheme,
			Key:              p.cfg.Key,
			KeyID:            p.cfg.KeyID,
			KeyIDs:           [][]byte{p.cfg.KeyID},
		}, &data)
		if err != nil {
			return nil, err
		}
		if p.cfg.ProtectionSystems&ProtectionSystemCommon != 0 {
			prot.PSSHBoxes = append(prot.PSSHBoxes, data.CencBox)
		}
		if p.cfg.ProtectionSystems&ProtectionSystemWidevine != 0 {
			prot.PSSHBoxes = append(prot.PSSHBoxes, data.WidevineBox)
		}
		if p.cfg.ProtectionSystems&ProtectionSystemPlayReady != 0 {
			prot.PSSHBoxes = append(prot.PSSHBoxes, data.PlayReadyBox)
		}
	}
	return prot, nil
}

// checkTrackType rejects segments whose handler does not match the
// configured track type.
func (p *Packager) checkTrackType(info *fmp4.TrackInfo) error {
	want := ""
	switch p.cfg.TrackType {
	case TrackVideo:
		want = "vide"
	case TrackAudio:
		want = "soun"
	default:
		return status.New(status.KindInvalidArgument,
			"text tracks are packaged with PackageTimedText")
	}
	if info.Handler != want {
		return status.Newf(status.KindInvalidArgument,
			"segment carries a %q track but the packager is configured for %s",
			info.Handler, p.cfg.TrackType)
	}
	return nil
}
