// Package timedtext wraps WebVTT and TTML payloads as MP4 fragments for
// segmented text delivery.
package timedtext

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jmylchreest/livepackager/internal/fmp4"
	"github.com/jmylchreest/livepackager/internal/status"
)

// Cue is one parsed WebVTT cue. Times are milliseconds from segment
// start.
type Cue struct {
	ID       string
	StartMS  int64
	EndMS    int64
	Settings string
	Text     string
}

// ParseWebVTT parses a WebVTT document into cues. Only the constructs a
// segmenter produces are understood: the WEBVTT header, NOTE/STYLE/REGION
// blocks (skipped) and cue blocks.
func ParseWebVTT(data []byte) ([]Cue, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimPrefix(text, "\ufeff")
	if !strings.HasPrefix(text, "WEBVTT") {
		return nil, status.New(status.KindParseError, "missing WEBVTT header")
	}

	var cues []Cue
	blocks := strings.Split(text, "\n\n")
	for _, block := range blocks[1:] {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if strings.HasPrefix(block, "NOTE") || strings.HasPrefix(block, "STYLE") ||
			strings.HasPrefix(block, "REGION") {
			continue
		}

		lines := strings.Split(block, "\n")
		var cue Cue
		timingIdx := 0
		if !strings.Contains(lines[0], "-->") {
			cue.ID = lines[0]
			timingIdx = 1
			if len(lines) < 2 {
				return nil, status.Newf(status.KindParseError, "cue %q has no timing line", cue.ID)
			}
		}
		if !strings.Contains(lines[timingIdx], "-->") {
			return nil, status.Newf(status.KindParseError, "malformed cue timing line %q", lines[timingIdx])
		}

		timing := strings.SplitN(lines[timingIdx], "-->", 2)
		startPart := strings.TrimSpace(timing[0])
		endFields := strings.Fields(strings.TrimSpace(timing[1]))
		if len(endFields) == 0 {
			return nil, status.Newf(status.KindParseError, "malformed cue timing line %q", lines[timingIdx])
		}

		var err error
		cue.StartMS, err = parseTimestampMS(startPart)
		if err != nil {
			return nil, err
		}
		cue.EndMS, err = parseTimestampMS(endFields[0])
		if err != nil {
			return nil, err
		}
		if cue.EndMS <= cue.StartMS {
			return nil, status.Newf(status.KindParseError,
				"cue end %dms is not after start %dms", cue.EndMS, cue.StartMS)
		}
		cue.Settings = strings.Join(endFields[1:], " ")
		cue.Text = strings.Join(lines[timingIdx+1:], "\n")
		cues = append(cues, cue)
	}
	return cues, nil
}

// parseTimestampMS parses HH:MM:SS.mmm or MM:SS.mmm.
func parseTimestampMS(s string) (int64, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, status.Newf(status.KindParseError, "malformed cue timestamp %q", s)
	}

	secPart := parts[len(parts)-1]
	secFields := strings.SplitN(secPart, ".", 2)
	if len(secFields) != 2 || len(secFields[1]) != 3 {
		return 0, status.Newf(status.KindParseError, "malformed cue timestamp %q", s)
	}

	var hours, minutes int64
	var err error
	if len(parts) == 3 {
		hours, err = parseUnsigned(parts[0])
		if err != nil {
			return 0, status.Newf(status.KindParseError, "malformed cue timestamp %q", s)
		}
	}
	minutes, err = parseUnsigned(parts[len(parts)-2])
	if err != nil || minutes > 59 {
		return 0, status.Newf(status.KindParseError, "malformed cue timestamp %q", s)
	}
	seconds, err := parseUnsigned(secFields[0])
	if err != nil || seconds > 59 {
		return 0, status.Newf(status.KindParseError, "malformed cue timestamp %q", s)
	}
	millis, err := parseUnsigned(secFields[1])
	if err != nil {
		return 0, status.Newf(status.KindParseError, "malformed cue timestamp %q", s)
	}

	return ((hours*60+minutes)*60+seconds)*1000 + millis, nil
}

func parseUnsigned(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty field")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("bad field %q", s)
	}
	return v, nil
}

// CuesToSamples converts cues into vttc/vtte samples on a 1 kHz
// timescale. Gaps between cues become vtte samples, so the first
// sample's decode time always equals decodeTime. durationMS, when
// positive, pads the tail with a final vtte up to the segment duration.
func CuesToSamples(cues []Cue, decodeTime int64, durationMS int64) []fmp4.Sample {
	var samples []fmp4.Sample
	cursor := int64(0)

	appendSample := func(data []byte, durMS int64) {
		samples = append(samples, fmp4.Sample{
			DTS:      decodeTime + cursor,
			PTS:      decodeTime + cursor,
			Duration: uint32(durMS),
			IsKey:    true,
			Data:     data,
		})
		cursor += durMS
	}

	for _, cue := range cues {
		if cue.StartMS > cursor {
			appendSample(emptyCueSample(), cue.StartMS-cursor)
		}
		appendSample(cueSample(cue), cue.EndMS-cue.StartMS)
	}
	if durationMS > cursor {
		appendSample(emptyCueSample(), durationMS-cursor)
	}
	return samples
}

// cueSample serializes one cue as a vttc box per ISO/IEC 14496-30.
func cueSample(cue Cue) []byte {
	payl := wrapTextBox("payl", cue.Text)

	inner := make([]byte, 0, len(payl)+64)
	if cue.ID != "" {
		inner = append(inner, wrapTextBox("iden", cue.ID)...)
	}
	if cue.Settings != "" {
		inner = append(inner, wrapTextBox("sttg", cue.Settings)...)
	}
	inner = append(inner, payl...)

	return wrapBox("vttc", inner)
}

// emptyCueSample serializes the "no cue active" vtte box.
func emptyCueSample() []byte {
	return wrapBox("vtte", nil)
}

func wrapBox(boxType string, payload []byte) []byte {
	size := 8 + len(payload)
	out := make([]byte, 0, size)
	out = append(out, byte(size>>24), byte(size>>16), byte(size>>8), byte(size))
	out = append(out, boxType...)
	return append(out, payload...)
}

func wrapTextBox(boxType, text string) []byte {
	return wrapBox(boxType, []byte(text))
}
