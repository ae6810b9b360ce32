// Package mpegts packetizes elementary samples into single-program
// MPEG-2 transport stream segments. The packetizer is hand-rolled
// because segment addressing requires seeding the PAT/PMT continuity
// counters from the segment number, which general-purpose TS writers do
// not expose.
package mpegts

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/jmylchreest/livepackager/internal/encryption"
	"github.com/jmylchreest/livepackager/internal/fmp4"
	"github.com/jmylchreest/livepackager/internal/status"
)

// Transport stream constants.
const (
	// PacketSize is the fixed TS packet size.
	PacketSize = 188
	// SyncByte starts every TS packet.
	SyncByte = 0x47

	// PIDPAT is the program association table PID.
	PIDPAT = 0x0000
	// PIDPMT is the program map table PID.
	PIDPMT = 0x0020
	// PIDVideo carries the video PES.
	PIDVideo = 0x0080
	// PIDAudio carries the audio PES.
	PIDAudio = 0x0081

	streamTypeH264 = 0x1B
	streamTypeADTS = 0x0F

	streamIDVideo = 0xE0
	streamIDAudio = 0xC0

	programNumber = 0x0001

	// pes timestamps run at 90 kHz.
	pcrClock = 90000
)

// Muxer packetizes one track's samples into a TS segment. A Muxer is
// constructed per call; continuity state never spans segments except
// through the seeded PAT/PMT counters.
type Muxer struct {
	info          *fmp4.TrackInfo
	segmentNumber uint32
	offsetMS      int32

	// sampleAES, when set, applies SAMPLE-AES to the elementary stream
	// before packetization.
	sampleAES *encryption.SampleAESEncryptor

	out []byte
	cc  map[uint16]*uint8
}

// NewMuxer creates a muxer for the given track. offsetMS is added to
// every PTS/DTS after rescaling to 90 kHz.
func NewMuxer(info *fmp4.TrackInfo, segmentNumber uint32, offsetMS int32, sampleAES *encryption.SampleAESEncryptor) (*Muxer, error) {
	switch info.Codec {
	case fmp4.CodecH264, fmp4.CodecAAC:
	default:
		return nil, status.Newf(status.KindUnsupported, "codec %q is not supported for TS output", info.Codec)
	}
	if info.TimeScale == 0 {
		return nil, status.New(status.KindParseError, "track timescale is zero")
	}

	m := &Muxer{
		info:          info,
		segmentNumber: segmentNumber,
		offsetMS:      offsetMS,
		sampleAES:     sampleAES,
		cc:            make(map[uint16]*uint8),
	}
	seed := uint8(segmentNumber % 16)
	m.cc[PIDPAT] = &seed
	seedPMT := seed
	m.cc[PIDPMT] = &seedPMT
	var zero uint8
	if info.Codec == fmp4.CodecH264 {
		m.cc[PIDVideo] = &zero
	} else {
		m.cc[PIDAudio] = &zero
	}
	return m, nil
}

// WriteSegment emits the full TS segment for the samples: PAT, PMT, then
// one PES per access unit.
func (m *Muxer) WriteSegment(samples []fmp4.Sample) ([]byte, error) {
	m.writePAT()
	m.writePMT()

	for i := range samples {
		if err := m.writeSample(&samples[i]); err != nil {
			return nil, err
		}
	}
	return m.out, nil
}

func (m *Muxer) writeSample(s *fmp4.Sample) error {
	pts := m.to90kHz(s.PTS)
	dts := m.to90kHz(s.DTS)

	switch m.info.Codec {
	case fmp4.CodecH264:
		payload, err := m.buildVideoPayload(s)
		if err != nil {
			return err
		}
		m.writePES(PIDVideo, streamIDVideo, pts, dts, payload, s.IsKey)
	case fmp4.CodecAAC:
		payload, err := m.buildAudioPayload(s)
		if err != nil {
			return err
		}
		m.writePES(PIDAudio, streamIDAudio, pts, pts, payload, true)
	}
	return nil
}

// to90kHz rescales a track-timescale tick to the PES clock and applies
// the configured offset.
func (m *Muxer) to90kHz(ticks int64) int64 {
	return ticks*pcrClock/int64(m.info.TimeScale) + int64(m.offsetMS)*(pcrClock/1000)
}

// buildVideoPayload converts an AVCC sample to an Annex-B access unit
// with AUD first and parameter sets prepended to keyframes, applying
// SAMPLE-AES when configured.
func (m *Muxer) buildVideoPayload(s *fmp4.Sample) ([]byte, error) {
	var avcc h264.AVCC
	if err := avcc.Unmarshal(s.Data); err != nil {
		return nil, status.Wrap(status.KindParseError, err, "parsing AVCC sample")
	}

	au := make([][]byte, 0, len(avcc)+3)
	au = append(au, []byte{byte(h264.NALUTypeAccessUnitDelimiter), 0xF0})
	if s.IsKey {
		hasSPS := false
		for _, nal := range avcc {
			if len(nal) > 0 && h264.NALUType(nal[0]&0x1F) == h264.NALUTypeSPS {
				hasSPS = true
				break
			}
		}
		if !hasSPS {
			au = append(au, m.info.SPS, m.info.PPS)
		}
	}
	for _, nal := range avcc {
		if len(nal) == 0 {
			continue
		}
		// Filter container-level AUDs; a fresh one already leads the AU.
		if h264.NALUType(nal[0]&0x1F) == h264.NALUTypeAccessUnitDelimiter {
			continue
		}
		au = append(au, nal)
	}

	if m.sampleAES != nil {
		// Encrypt slice payloads in place on copies so the caller's
		// sample data stays clear.
		for i, nal := range au {
			au[i] = append([]byte(nil), nal...)
		}
		m.sampleAES.EncryptVideoAccessUnit(au)
	}

	payload, err := h264.AnnexB(au).Marshal()
	if err != nil {
		return nil, status.Wrap(status.KindMuxError, err, "marshaling Annex-B access unit")
	}
	return payload, nil
}

// buildAudioPayload wraps a raw AAC frame in an ADTS header, applying
// SAMPLE-AES to the frame body when configured.
func (m *Muxer) buildAudioPayload(s *fmp4.Sample) ([]byte, error) {
	if m.info.AudioConfig == nil {
		return nil, status.New(status.KindParseError, "audio track has no AudioSpecificConfig")
	}

	frame := s.Data
	if m.sampleAES != nil {
		frame = append([]byte(nil), frame...)
		m.sampleAES.EncryptAudioFrame(frame)
	}

	pkts := mpeg4audio.ADTSPackets{{
		Type:         m.info.AudioConfig.Type,
		SampleRate:   m.info.AudioConfig.SampleRate,
		ChannelCount: m.info.AudioConfig.ChannelCount,
		AU:           frame,
	}}
	payload, err := pkts.Marshal()
	if err != nil {
		return nil, status.Wrap(status.KindMuxError, err, "marshaling ADTS frame")
	}
	return payload, nil
}

// nextCC returns the current continuity counter for the PID and advances
// it.
func (m *Muxer) nextCC(pid uint16) uint8 {
	c := m.cc[pid]
	v := *c
	*c = (v + 1) % 16
	return v
}

// writePSI emits one section packet with pointer field, stuffed with
// 0xFF to the packet boundary.
func (m *Muxer) writePSI(pid uint16, section []byte) {
	pkt := make([]byte, 0, PacketSize)
	pkt = append(pkt,
		SyncByte,
		0x40|byte(pid>>8), // payload_unit_start_indicator
		byte(pid),
		0x10|m.nextCC(pid), // payload only
		0x00,               // pointer field
	)
	pkt = append(pkt, section...)
	for len(pkt) < PacketSize {
		pkt = append(pkt, 0xFF)
	}
	m.out = append(m.out, pkt...)
}

func (m *Muxer) writePAT() {
	section := []byte{
		0x00,       // table_id
		0xB0, 0x0D, // section_syntax_indicator, section_length 13
		0x00, 0x01, // transport_stream_id
		0xC1,       // version 0, current_next 1
		0x00, 0x00, // section_number, last_section_number
		byte(programNumber >> 8), byte(programNumber),
		0xE0 | byte(PIDPMT>>8), byte(PIDPMT),
	}
	crc := crc32MPEG(section)
	section = append(section, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
	m.writePSI(PIDPAT, section)
}

func (m *Muxer) writePMT() {
	var esPID uint16
	var streamType byte
	if m.info.Codec == fmp4.CodecH264 {
		esPID, streamType = PIDVideo, streamTypeH264
	} else {
		esPID, streamType = PIDAudio, streamTypeADTS
	}

	section := []byte{
		0x02,       // table_id
		0xB0, 0x12, // section_length 18
		byte(programNumber >> 8), byte(programNumber),
		0xC1,       // version 0, current_next 1
		0x00, 0x00, // section_number, last_section_number
		0xE0 | byte(esPID>>8), byte(esPID), // PCR PID = elementary PID
		0xF0, 0x00, // program_info_length 0
		streamType,
		0xE0 | byte(esPID>>8), byte(esPID),
		0xF0, 0x00, // ES_info_length 0
	}
	crc := crc32MPEG(section)
	section = append(section, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
	m.writePSI(PIDPMT, section)
}

// writePES packetizes one PES across as many TS packets as needed. The
// first packet carries PUSI and, for keyframes, a PCR and the random
// access indicator; the final packet stuffs to the boundary with an
// adaptation field.
func (m *Muxer) writePES(pid uint16, streamID byte, pts, dts int64, payload []byte, keyframe bool) {
	pes := buildPESHeader(streamID, pts, dts, len(payload))
	pes = append(pes, payload...)

	first := true
	for len(pes) > 0 {
		header := make([]byte, 4, 8)
		header[0] = SyncByte
		header[1] = byte(pid >> 8)
		if first {
			header[1] |= 0x40
		}
		header[2] = byte(pid)
		header[3] = 0x10 | m.nextCC(pid)

		var adaptation []byte
		if first && keyframe {
			// random access + PCR on the elementary (PCR) PID.
			adaptation = buildAdaptationField(dts, true)
		}

		// Stuff via the adaptation field so the packet reaches exactly
		// 188 bytes.
		capacity := PacketSize - 4 - len(adaptation)
		if len(pes) < capacity {
			need := capacity - len(pes)
			adaptation = growAdaptation(adaptation, need)
			capacity = len(pes)
		}

		if len(adaptation) > 0 {
			header[3] |= 0x20
		}

		pkt := make([]byte, 0, PacketSize)
		pkt = append(pkt, header...)
		pkt = append(pkt, adaptation...)
		pkt = append(pkt, pes[:capacity]...)
		pes = pes[capacity:]
		m.out = append(m.out, pkt...)
		first = false
	}
}

// buildPESHeader writes the PES start code, stream id, length and the
// PTS/DTS fields. A DTS is only written when it differs from the PTS.
func buildPESHeader(streamID byte, pts, dts int64, payloadLen int) []byte {
	withDTS := dts != pts
	headerDataLen := 5
	flags := byte(0x80) // PTS only
	if withDTS {
		headerDataLen = 10
		flags = 0xC0
	}

	// PES_packet_length counts everything after the length field; zero
	// (unbounded) when it would overflow, which video commonly does.
	pesLen := 3 + headerDataLen + payloadLen
	if pesLen > 0xFFFF {
		pesLen = 0
	}

	h := []byte{
		0x00, 0x00, 0x01, streamID,
		byte(pesLen >> 8), byte(pesLen),
		0x80, // marker bits
		flags,
		byte(headerDataLen),
	}
	if withDTS {
		h = appendTimestamp(h, 0x31, pts)
		h = appendTimestamp(h, 0x11, dts)
	} else {
		h = appendTimestamp(h, 0x21, pts)
	}
	return h
}

// appendTimestamp encodes a 33-bit timestamp in the 5-byte PES format.
func appendTimestamp(b []byte, prefix byte, ts int64) []byte {
	v := uint64(ts) & 0x1FFFFFFFF
	return append(b,
		prefix&0xF0|byte(v>>29)&0x0E|0x01,
		byte(v>>22),
		byte(v>>14)|0x01,
		byte(v>>7),
		byte(v<<1)|0x01,
	)
}

// buildAdaptationField creates an adaptation field with the random access
// indicator and optionally a PCR derived from the DTS.
func buildAdaptationField(dts int64, withPCR bool) []byte {
	if !withPCR {
		return []byte{1, 0x40}
	}
	base := uint64(dts) & 0x1FFFFFFFF
	af := []byte{7, 0x50} // length 7, random_access + PCR flag
	af = append(af,
		byte(base>>25),
		byte(base>>17),
		byte(base>>9),
		byte(base>>1),
		byte(base<<7)|0x7E, // low bit of base, 6 reserved bits
		0x00,               // 9-bit extension = 0
	)
	return af
}

// growAdaptation extends (or creates) an adaptation field by need bytes
// of 0xFF stuffing.
func growAdaptation(af []byte, need int) []byte {
	if len(af) == 0 {
		if need == 1 {
			return []byte{0}
		}
		af = []byte{1, 0x00}
		need -= 2
	}
	for i := 0; i < need; i++ {
		af = append(af, 0xFF)
	}
	af[0] = byte(len(af) - 1)
	return af
}
