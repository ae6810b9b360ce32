package fmp4

import (
	"bytes"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/jmylchreest/livepackager/internal/mp4box"
	"github.com/jmylchreest/livepackager/internal/status"
)

// ParseInit extracts the track description from an init segment
// (ftyp+moov, ftyp optional).
func ParseInit(initData []byte) (*TrackInfo, error) {
	moov, ok := mp4box.Find(initData, "moov")
	if !ok {
		if err := mp4box.Scan(initData, func(mp4box.Box) error { return nil }); err != nil {
			return nil, status.Wrap(status.KindParseError, err, "scanning init segment")
		}
		return nil, status.New(status.KindParseError, "init segment has no moov box")
	}

	var init fmp4.Init
	raw := initData[moov.Offset : moov.Offset+int(moov.Size)]
	if err := init.Unmarshal(bytes.NewReader(raw)); err != nil {
		return nil, status.Wrap(status.KindParseError, err, "parsing moov")
	}
	if len(init.Tracks) == 0 {
		return nil, status.New(status.KindParseError, "init segment declares no tracks")
	}

	// Single-track segments only; the live pipeline feeds one rendition
	// per packager instance.
	track := init.Tracks[0]

	info := &TrackInfo{
		TrackID:   track.ID,
		TimeScale: track.TimeScale,
		Encrypted: initHasEncryptedEntry(moov.Payload),
	}

	switch codec := track.Codec.(type) {
	case *mp4.CodecH264:
		info.Handler = "vide"
		info.Codec = CodecH264
		info.SPS = codec.SPS
		info.PPS = codec.PPS
		var sps h264.SPS
		if err := sps.Unmarshal(codec.SPS); err != nil {
			return nil, status.Wrap(status.KindParseError, err, "parsing SPS")
		}
		info.Width = sps.Width()
		info.Height = sps.Height()
	case *mp4.CodecMPEG4Audio:
		info.Handler = "soun"
		info.Codec = CodecAAC
		cfg := codec.Config
		info.AudioConfig = &cfg
	default:
		return nil, status.Newf(status.KindUnsupported, "unsupported codec %T in init segment", track.Codec)
	}

	if info.Encrypted {
		return nil, status.New(status.KindUnsupported,
			"input sample entries are already encrypted; re-encryption is not supported")
	}
	return info, nil
}

// ParseSegment parses an init segment plus one media segment into the
// track description and its elementary samples in decode order. styp and
// sidx boxes in the media segment are tolerated and skipped.
func ParseSegment(initData, mediaData []byte) (*TrackInfo, []Sample, error) {
	info, err := ParseInit(initData)
	if err != nil {
		return nil, nil, err
	}

	fragments, err := extractFragments(mediaData)
	if err != nil {
		return nil, nil, err
	}
	if len(fragments) == 0 {
		return info, nil, nil
	}

	var parts fmp4.Parts
	if err := parts.Unmarshal(fragments); err != nil {
		return nil, nil, status.Wrap(status.KindParseError, err, "parsing media fragment")
	}

	var samples []Sample
	for _, part := range parts {
		for _, pt := range part.Tracks {
			if pt.ID != info.TrackID {
				continue
			}
			samples = appendTrackSamples(samples, info, pt)
		}
	}
	return info, samples, nil
}

// extractFragments returns the concatenated moof+mdat pairs from a media
// segment, dropping styp/sidx/prft and validating box framing.
func extractFragments(mediaData []byte) ([]byte, error) {
	var out []byte
	sawMoof := false
	err := mp4box.Scan(mediaData, func(b mp4box.Box) error {
		switch b.Type {
		case "styp", "sidx", "prft", "free", "skip":
			return nil
		case "moof":
			sawMoof = true
		case "mdat":
			if !sawMoof {
				return fmt.Errorf("mdat before moof at offset %d", b.Offset)
			}
		default:
			return fmt.Errorf("unexpected box %q at offset %d in media segment", b.Type, b.Offset)
		}
		out = append(out, mediaData[b.Offset:b.Offset+int(b.Size)]...)
		return nil
	})
	if err != nil {
		return nil, status.Wrap(status.KindParseError, err, "scanning media segment")
	}
	return out, nil
}

// appendTrackSamples converts one fragment track run into Samples,
// accumulating decode time from the tfdt base.
func appendTrackSamples(samples []Sample, info *TrackInfo, pt *fmp4.PartTrack) []Sample {
	dts := int64(pt.BaseTime)
	for i, s := range pt.Samples {
		isKey := !s.IsNonSyncSample
		if !isKey && i == 0 && info.Handler == "vide" && len(samples) == 0 {
			// Fragment-aligned streams start each fragment on a sync
			// sample even when the flag is missing.
			isKey = firstSampleIsIDR(s.Payload)
		}
		samples = append(samples, Sample{
			TrackID:  pt.ID,
			DTS:      dts,
			PTS:      dts + int64(s.PTSOffset),
			Duration: s.Duration,
			IsKey:    isKey || info.Handler == "soun",
			Data:     s.Payload,
		})
		dts += int64(s.Duration)
	}
	return samples
}

// firstSampleIsIDR reports whether an AVCC payload starts with (or
// contains) an IDR NAL unit.
func firstSampleIsIDR(payload []byte) bool {
	var au h264.AVCC
	if err := au.Unmarshal(payload); err != nil {
		return false
	}
	for _, nal := range au {
		if len(nal) == 0 {
			continue
		}
		if h264.NALUType(nal[0]&0x1F) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// initHasEncryptedEntry walks moov for an encv/enca sample description.
func initHasEncryptedEntry(moovPayload []byte) bool {
	stsd, ok := mp4box.FindPath(moovPayload, "trak", "mdia", "minf", "stbl", "stsd")
	if !ok || len(stsd.Payload) < 16 {
		return false
	}
	// stsd payload: fullbox header (4) + entry_count (4) + first entry
	// header (size 4, fourcc 4).
	fourcc := string(stsd.Payload[12:16])
	return fourcc == "encv" || fourcc == "enca"
}
