package timedtext

import (
	"bytes"
	"encoding/xml"
	"io"

	"github.com/jmylchreest/livepackager/internal/fmp4"
	"github.com/jmylchreest/livepackager/internal/status"
)

// The text track uses a millisecond timescale; cue times map directly.
const textTimescale = 1000

const textTrackID = 1

// PackagedText is the result of wrapping a text payload: a matching init
// segment plus the media fragment.
type PackagedText struct {
	Init     []byte
	Fragment []byte
}

// PackageWebVTT parses a WebVTT document and packs its cues as vttc
// samples in a single MP4 fragment with the given base decode time.
// durationMS, when positive, pads trailing silence with a vtte sample.
func PackageWebVTT(seg []byte, segmentNumber uint32, decodeTime int64, durationMS int64) (*PackagedText, error) {
	cues, err := ParseWebVTT(seg)
	if err != nil {
		return nil, err
	}

	info := textTrackInfo(fmp4.CodecWVTT)
	samples := CuesToSamples(cues, decodeTime, durationMS)

	return packageSamples(info, samples, segmentNumber)
}

// PackageTTML wraps a TTML document as a single mett sample. The
// document must be well-formed XML.
func PackageTTML(seg []byte, segmentNumber uint32, decodeTime int64, durationMS int64) (*PackagedText, error) {
	if err := checkXML(seg); err != nil {
		return nil, err
	}

	if durationMS <= 0 {
		durationMS = textTimescale // 1s floor so the trun duration is sane
	}
	info := textTrackInfo(fmp4.CodecTTML)
	samples := []fmp4.Sample{{
		TrackID:  textTrackID,
		DTS:      decodeTime,
		PTS:      decodeTime,
		Duration: uint32(durationMS),
		IsKey:    true,
		Data:     seg,
	}}

	return packageSamples(info, samples, segmentNumber)
}

func packageSamples(info *fmp4.TrackInfo, samples []fmp4.Sample, segmentNumber uint32) (*PackagedText, error) {
	initSeg, err := fmp4.WriteInit(info, nil)
	if err != nil {
		return nil, err
	}
	frag, err := fmp4.WriteSegment(info, samples, segmentNumber, nil)
	if err != nil {
		return nil, err
	}
	return &PackagedText{Init: initSeg, Fragment: frag}, nil
}

func textTrackInfo(codec string) *fmp4.TrackInfo {
	return &fmp4.TrackInfo{
		TrackID:   textTrackID,
		Handler:   "subt",
		Codec:     codec,
		TimeScale: textTimescale,
	}
}

// checkXML validates that data is a well-formed XML document.
func checkXML(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	sawElement := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return status.Wrap(status.KindParseError, err, "parsing TTML document")
		}
		if _, ok := tok.(xml.StartElement); ok {
			sawElement = true
		}
	}
	if !sawElement {
		return status.New(status.KindParseError, "TTML document has no root element")
	}
	return nil
}
