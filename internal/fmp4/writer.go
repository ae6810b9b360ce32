package fmp4

import (
	"github.com/jmylchreest/livepackager/internal/mp4box"
	"github.com/jmylchreest/livepackager/internal/status"
)

// ProtectionInfo describes the encryption signaling the writer embeds in
// its output. A nil ProtectionInfo writes clear segments.
type ProtectionInfo struct {
	// SchemeFourCC is the schm scheme code, "cenc" or "cbcs".
	SchemeFourCC string
	// KeyID is the 16-byte default key id for tenc.
	KeyID []byte
	// PerSampleIVSize is the senc IV size; zero for constant-IV schemes.
	PerSampleIVSize uint8
	// ConstantIV is the tenc constant IV for cbcs-family schemes.
	ConstantIV []byte
	// CryptByteBlock and SkipByteBlock describe the cbcs pattern.
	CryptByteBlock uint8
	SkipByteBlock  uint8
	// PSSHBoxes are fully-formed pssh boxes appended inside moov.
	PSSHBoxes [][]byte
}

// Sample flag words written into trun entries.
const (
	sampleFlagsSync    = 0x02000000 // depends_on = 2 (I-frame)
	sampleFlagsNonSync = 0x01010000 // depends_on = 1, non-sync
)

// traf box flag constants.
const (
	tfhdDefaultBaseIsMoof = 0x020000
	trunDataOffsetPresent = 0x000001
	trunSampleDuration    = 0x000100
	trunSampleSize        = 0x000200
	trunSampleFlags       = 0x000400
	trunSampleCTSOffset   = 0x000800
	sencSubsamplePresent  = 0x000002
)

// WriteInit emits a normalized init segment (ftyp + moov) for the track.
func WriteInit(info *TrackInfo, prot *ProtectionInfo) ([]byte, error) {
	w := mp4box.NewWriter()

	w.StartBox("ftyp")
	w.WriteFourCC("mp41")
	w.WriteUint32(0)
	w.WriteFourCC("isom")
	w.WriteFourCC("iso6")
	w.WriteFourCC("mp41")
	w.EndBox()

	w.StartBox("moov")
	writeMvhd(w, info)
	if err := writeTrak(w, info, prot); err != nil {
		return nil, err
	}
	writeMvex(w, info)
	if prot != nil {
		for _, box := range prot.PSSHBoxes {
			w.WriteBytes(box)
		}
	}
	w.EndBox()

	return w.Bytes(), nil
}

// WriteSegment emits one CMAF media fragment: styp, sidx, moof, mdat. An
// empty sample set produces no output.
func WriteSegment(info *TrackInfo, samples []Sample, segmentNumber uint32, prot *ProtectionInfo) ([]byte, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	w := mp4box.NewWriter()

	w.StartBox("styp")
	w.WriteFourCC("mp41")
	w.WriteUint32(0)
	w.WriteFourCC("msdh")
	w.WriteFourCC("mp41")
	w.EndBox()

	sidxStart := w.Len()
	writeSidx(w, info, samples, 0) // reference size patched below

	moofStart := w.Len()
	trunOffsetPos, err := writeMoof(w, info, samples, segmentNumber, prot, moofStart)
	if err != nil {
		return nil, err
	}

	// trun data offset points at the first mdat payload byte, relative to
	// the moof start (default-base-is-moof).
	mdatStart := w.Len()
	w.PatchUint32(trunOffsetPos, uint32(mdatStart-moofStart+8))

	w.StartBox("mdat")
	for i := range samples {
		w.WriteBytes(samples[i].Data)
	}
	w.EndBox()

	// sidx single reference covers moof+mdat.
	patchSidxReferenceSize(w, sidxStart, uint32(w.Len()-moofStart))

	return w.Bytes(), nil
}

func writeMvhd(w *mp4box.Writer, info *TrackInfo) {
	w.StartFullBox("mvhd", 0, 0)
	w.WriteUint32(0) // creation time
	w.WriteUint32(0) // modification time
	w.WriteUint32(1000)
	w.WriteUint32(0)          // duration
	w.WriteUint32(0x00010000) // rate
	w.WriteUint16(0x0100)     // volume
	w.WriteZero(10)           // reserved
	writeUnityMatrix(w)
	w.WriteZero(24) // pre_defined
	w.WriteUint32(uint32(info.TrackID) + 1)
	w.EndBox()
}

func writeUnityMatrix(w *mp4box.Writer) {
	w.WriteUint32(0x00010000)
	w.WriteZero(12)
	w.WriteUint32(0x00010000)
	w.WriteZero(12)
	w.WriteUint32(0x40000000)
}

func writeTrak(w *mp4box.Writer, info *TrackInfo, prot *ProtectionInfo) error {
	w.StartBox("trak")

	w.StartFullBox("tkhd", 0, 0x7)
	w.WriteUint32(0) // creation time
	w.WriteUint32(0) // modification time
	w.WriteUint32(uint32(info.TrackID))
	w.WriteUint32(0) // reserved
	w.WriteUint32(0) // duration
	w.WriteZero(8)   // reserved
	w.WriteUint16(0) // layer
	w.WriteUint16(0) // alternate group
	if info.Handler == "soun" {
		w.WriteUint16(0x0100)
	} else {
		w.WriteUint16(0)
	}
	w.WriteUint16(0) // reserved
	writeUnityMatrix(w)
	w.WriteUint32(uint32(info.Width) << 16)
	w.WriteUint32(uint32(info.Height) << 16)
	w.EndBox()

	w.StartBox("mdia")

	w.StartFullBox("mdhd", 0, 0)
	w.WriteUint32(0)
	w.WriteUint32(0)
	w.WriteUint32(info.TimeScale)
	w.WriteUint32(0)
	w.WriteUint16(packLanguage(info.Language))
	w.WriteUint16(0)
	w.EndBox()

	writeHdlr(w, info.Handler)

	w.StartBox("minf")
	switch info.Handler {
	case "vide":
		w.StartFullBox("vmhd", 0, 1)
		w.WriteZero(8)
		w.EndBox()
	case "soun":
		w.StartFullBox("smhd", 0, 0)
		w.WriteZero(4)
		w.EndBox()
	default:
		w.StartFullBox("sthd", 0, 0)
		w.EndBox()
	}

	w.StartBox("dinf")
	w.StartFullBox("dref", 0, 0)
	w.WriteUint32(1)
	w.StartFullBox("url ", 0, 1)
	w.EndBox()
	w.EndBox()
	w.EndBox()

	w.StartBox("stbl")
	if err := writeStsd(w, info, prot); err != nil {
		return err
	}
	w.StartFullBox("stts", 0, 0)
	w.WriteUint32(0)
	w.EndBox()
	w.StartFullBox("stsc", 0, 0)
	w.WriteUint32(0)
	w.EndBox()
	w.StartFullBox("stsz", 0, 0)
	w.WriteUint32(0)
	w.WriteUint32(0)
	w.EndBox()
	w.StartFullBox("stco", 0, 0)
	w.WriteUint32(0)
	w.EndBox()
	w.EndBox() // stbl

	w.EndBox() // minf
	w.EndBox() // mdia
	w.EndBox() // trak
	return nil
}

func writeHdlr(w *mp4box.Writer, handler string) {
	var name string
	switch handler {
	case "vide":
		name = "VideoHandler"
	case "soun":
		name = "SoundHandler"
	default:
		name = "TextHandler"
	}
	w.StartFullBox("hdlr", 0, 0)
	w.WriteUint32(0)
	w.WriteFourCC(handler)
	w.WriteZero(12)
	w.WriteBytes([]byte(name))
	w.WriteUint8(0)
	w.EndBox()
}

// packLanguage packs a three-letter ISO-639-2 code into mdhd's 15-bit
// field, defaulting to "und".
func packLanguage(lang string) uint16 {
	if len(lang) != 3 {
		lang = "und"
	}
	return uint16(lang[0]-0x60)<<10 | uint16(lang[1]-0x60)<<5 | uint16(lang[2]-0x60)
}

func writeStsd(w *mp4box.Writer, info *TrackInfo, prot *ProtectionInfo) error {
	w.StartFullBox("stsd", 0, 0)
	w.WriteUint32(1)

	switch info.Codec {
	case CodecH264:
		writeVideoEntry(w, info, prot)
	case CodecAAC:
		if err := writeAudioEntry(w, info, prot); err != nil {
			return err
		}
	case CodecWVTT:
		w.StartBox("wvtt")
		w.WriteZero(6)
		w.WriteUint16(1)
		w.StartBox("vttC")
		w.WriteBytes([]byte("WEBVTT"))
		w.EndBox()
		w.EndBox()
	case CodecTTML:
		w.StartBox("mett")
		w.WriteZero(6)
		w.WriteUint16(1)
		w.WriteUint8(0) // content_encoding: none
		w.WriteBytes([]byte(TTMLMimeFormat))
		w.WriteUint8(0)
		w.EndBox()
	default:
		return status.Newf(status.KindUnsupported, "cannot write sample entry for codec %q", info.Codec)
	}

	w.EndBox()
	return nil
}

func writeVideoEntry(w *mp4box.Writer, info *TrackInfo, prot *ProtectionInfo) {
	entryType := "avc1"
	if prot != nil {
		entryType = "encv"
	}
	w.StartBox(entryType)
	w.WriteZero(6)
	w.WriteUint16(1) // data reference index
	w.WriteZero(16)  // pre_defined / reserved
	w.WriteUint16(uint16(info.Width))
	w.WriteUint16(uint16(info.Height))
	w.WriteUint32(0x00480000) // horizresolution 72dpi
	w.WriteUint32(0x00480000)
	w.WriteUint32(0)
	w.WriteUint16(1) // frame count
	w.WriteZero(32)  // compressorname
	w.WriteUint16(0x0018)
	w.WriteUint16(0xFFFF) // pre_defined -1

	w.StartBox("avcC")
	w.WriteUint8(1)
	w.WriteUint8(info.SPS[1])
	w.WriteUint8(info.SPS[2])
	w.WriteUint8(info.SPS[3])
	w.WriteUint8(0xFF) // 4-byte NAL lengths
	w.WriteUint8(0xE1)
	w.WriteUint16(uint16(len(info.SPS)))
	w.WriteBytes(info.SPS)
	w.WriteUint8(1)
	w.WriteUint16(uint16(len(info.PPS)))
	w.WriteBytes(info.PPS)
	w.EndBox()

	if prot != nil {
		writeSinf(w, "avc1", prot)
	}
	w.EndBox()
}

func writeAudioEntry(w *mp4box.Writer, info *TrackInfo, prot *ProtectionInfo) error {
	entryType := "mp4a"
	if prot != nil {
		entryType = "enca"
	}
	asc, err := info.AudioConfig.Marshal()
	if err != nil {
		return status.Wrap(status.KindMuxError, err, "marshaling AudioSpecificConfig")
	}

	w.StartBox(entryType)
	w.WriteZero(6)
	w.WriteUint16(1) // data reference index
	w.WriteZero(8)   // version/revision/vendor
	w.WriteUint16(uint16(info.AudioConfig.ChannelCount))
	w.WriteUint16(16) // sample size
	w.WriteUint32(0)  // pre_defined / reserved
	w.WriteUint32(uint32(info.AudioConfig.SampleRate) << 16)

	writeEsds(w, asc)

	if prot != nil {
		writeSinf(w, "mp4a", prot)
	}
	w.EndBox()
	return nil
}

// writeEsds emits the MPEG-4 elementary stream descriptor chain wrapping
// the AudioSpecificConfig.
func writeEsds(w *mp4box.Writer, asc []byte) {
	dsi := append([]byte{0x05, byte(len(asc))}, asc...)

	dcd := []byte{
		0x04, byte(13 + len(dsi)),
		0x40,             // object type: MPEG-4 audio
		0x15,             // stream type: audio, upStream 0, reserved 1
		0x00, 0x00, 0x00, // buffer size
		0x00, 0x00, 0x00, 0x00, // max bitrate
		0x00, 0x00, 0x00, 0x00, // avg bitrate
	}
	dcd = append(dcd, dsi...)

	sl := []byte{0x06, 0x01, 0x02}

	es := []byte{0x03, byte(3 + len(dcd) + len(sl)), 0x00, 0x01, 0x00}
	es = append(es, dcd...)
	es = append(es, sl...)

	w.StartFullBox("esds", 0, 0)
	w.WriteBytes(es)
	w.EndBox()
}

func writeSinf(w *mp4box.Writer, originalFormat string, prot *ProtectionInfo) {
	w.StartBox("sinf")

	w.StartBox("frma")
	w.WriteFourCC(originalFormat)
	w.EndBox()

	w.StartFullBox("schm", 0, 0)
	w.WriteFourCC(prot.SchemeFourCC)
	w.WriteUint32(0x00010000)
	w.EndBox()

	w.StartBox("schi")
	// Constant IVs and crypt/skip patterns both need the version 1 tenc
	// layout.
	tencVersion := uint8(0)
	if prot.PerSampleIVSize == 0 || prot.CryptByteBlock > 0 {
		tencVersion = 1
	}
	w.StartFullBox("tenc", tencVersion, 0)
	w.WriteUint8(0) // reserved
	if tencVersion == 1 {
		w.WriteUint8(prot.CryptByteBlock<<4 | prot.SkipByteBlock)
	} else {
		w.WriteUint8(0)
	}
	w.WriteUint8(1) // default_isProtected
	w.WriteUint8(prot.PerSampleIVSize)
	w.WriteBytes(prot.KeyID)
	if prot.PerSampleIVSize == 0 {
		w.WriteUint8(uint8(len(prot.ConstantIV)))
		w.WriteBytes(prot.ConstantIV)
	}
	w.EndBox()
	w.EndBox() // schi

	w.EndBox() // sinf
}

func writeMvex(w *mp4box.Writer, info *TrackInfo) {
	w.StartBox("mvex")
	w.StartFullBox("trex", 0, 0)
	w.WriteUint32(uint32(info.TrackID))
	w.WriteUint32(1) // default sample description index
	w.WriteUint32(0)
	w.WriteUint32(0)
	w.WriteUint32(0)
	w.EndBox()
	w.EndBox()
}

// sidxReferenceOffset is the distance from the sidx box start to its
// first reference entry: full-box header (12), reference ID (4),
// timescale (4), earliest presentation time (8), first offset (8),
// reserved (2), reference count (2).
const sidxReferenceOffset = 12 + 4 + 4 + 8 + 8 + 2 + 2

func writeSidx(w *mp4box.Writer, info *TrackInfo, samples []Sample, referencedSize uint32) {
	var duration uint64
	for i := range samples {
		duration += uint64(samples[i].Duration)
	}

	w.StartFullBox("sidx", 1, 0)
	w.WriteUint32(1) // reference ID
	w.WriteUint32(info.TimeScale)
	w.WriteUint64(uint64(samples[0].PTS)) // earliest presentation time
	w.WriteUint64(0)                      // first offset
	w.WriteUint16(0)                      // reserved
	w.WriteUint16(1)                      // reference count
	w.WriteUint32(referencedSize)         // reference_type 0 | size
	w.WriteUint32(uint32(duration))
	w.WriteUint32(0x90000000) // starts_with_SAP, SAP type 1
	w.EndBox()
}

func patchSidxReferenceSize(w *mp4box.Writer, sidxStart int, size uint32) {
	w.PatchUint32(sidxStart+sidxReferenceOffset, size&0x7FFFFFFF)
}

// writeMoof emits the movie fragment box and returns the absolute
// position of the trun data_offset field for later patching.
func writeMoof(w *mp4box.Writer, info *TrackInfo, samples []Sample, segmentNumber uint32, prot *ProtectionInfo, moofStart int) (int, error) {
	if segmentNumber == 0 {
		segmentNumber = 1
	}

	w.StartBox("moof")

	w.StartFullBox("mfhd", 0, 0)
	w.WriteUint32(segmentNumber)
	w.EndBox()

	w.StartBox("traf")

	w.StartFullBox("tfhd", 0, tfhdDefaultBaseIsMoof)
	w.WriteUint32(uint32(info.TrackID))
	w.EndBox()

	w.StartFullBox("tfdt", 1, 0)
	w.WriteUint64(uint64(samples[0].DTS))
	w.EndBox()

	trunFlags := uint32(trunDataOffsetPresent | trunSampleDuration |
		trunSampleSize | trunSampleFlags | trunSampleCTSOffset)
	w.StartFullBox("trun", 1, trunFlags)
	w.WriteUint32(uint32(len(samples)))
	trunOffsetPos := w.Len()
	w.WriteUint32(0) // data offset, patched
	for i := range samples {
		s := &samples[i]
		w.WriteUint32(s.Duration)
		w.WriteUint32(uint32(len(s.Data)))
		if s.IsKey {
			w.WriteUint32(sampleFlagsSync)
		} else {
			w.WriteUint32(sampleFlagsNonSync)
		}
		w.WriteInt32(int32(s.PTS - s.DTS))
	}
	w.EndBox()

	// Constant-IV whole-sample schemes (cbcs audio) carry no per-sample
	// auxiliary data, so senc/saiz/saio are omitted entirely.
	if prot != nil && samplesEncrypted(samples) &&
		(prot.PerSampleIVSize > 0 || samplesHaveSubsamples(samples)) {
		if err := writeSampleEncryption(w, samples, prot, moofStart); err != nil {
			return 0, err
		}
	}

	w.EndBox() // traf
	w.EndBox() // moof
	return trunOffsetPos, nil
}

func samplesEncrypted(samples []Sample) bool {
	for i := range samples {
		if samples[i].IsEncrypted {
			return true
		}
	}
	return false
}

func samplesHaveSubsamples(samples []Sample) bool {
	for i := range samples {
		if len(samples[i].Subsamples) > 0 {
			return true
		}
	}
	return false
}

// writeSampleEncryption emits senc, saiz and saio. senc precedes saio so
// the aux-info offset is known when saio is written; offsets are relative
// to the moof start per default-base-is-moof addressing.
func writeSampleEncryption(w *mp4box.Writer, samples []Sample, prot *ProtectionInfo, moofStart int) error {
	hasSubsamples := false
	for i := range samples {
		if len(samples[i].Subsamples) > 0 {
			hasSubsamples = true
			break
		}
	}

	var sencFlags uint32
	if hasSubsamples {
		sencFlags = sencSubsamplePresent
	}

	w.StartFullBox("senc", 0, sencFlags)
	w.WriteUint32(uint32(len(samples)))
	sencDataStart := w.Len()
	sizes := make([]uint16, len(samples))
	for i := range samples {
		s := &samples[i]
		entryStart := w.Len()
		if int(prot.PerSampleIVSize) != len(s.IV) {
			return status.Newf(status.KindMuxError,
				"sample IV size %d does not match signaled size %d", len(s.IV), prot.PerSampleIVSize)
		}
		w.WriteBytes(s.IV)
		if hasSubsamples {
			w.WriteUint16(uint16(len(s.Subsamples)))
			for _, ss := range s.Subsamples {
				w.WriteUint16(ss.ClearBytes)
				w.WriteUint32(ss.ProtectedBytes)
			}
		}
		sizes[i] = uint16(w.Len() - entryStart)
	}
	w.EndBox()

	// saiz: constant entry size collapses to the default field.
	constant := true
	for _, s := range sizes[1:] {
		if s != sizes[0] {
			constant = false
			break
		}
	}
	w.StartFullBox("saiz", 0, 0)
	if constant {
		w.WriteUint8(uint8(sizes[0]))
		w.WriteUint32(uint32(len(sizes)))
	} else {
		w.WriteUint8(0)
		w.WriteUint32(uint32(len(sizes)))
		for _, s := range sizes {
			w.WriteUint8(uint8(s))
		}
	}
	w.EndBox()

	w.StartFullBox("saio", 0, 0)
	w.WriteUint32(1)
	w.WriteUint32(uint32(sencDataStart - moofStart))
	w.EndBox()
	return nil
}
