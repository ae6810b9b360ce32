package timedtext_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/livepackager/internal/mp4box"
	"github.com/jmylchreest/livepackager/internal/status"
	"github.com/jmylchreest/livepackager/internal/timedtext"
)

const vttDoc = "WEBVTT\n\n00:00:00.000 --> 00:00:02.000\nfirst\n\n00:00:02.000 --> 00:00:04.000\nsecond\n"

const ttmlDoc = `<?xml version="1.0" encoding="utf-8"?>
<tt xmlns="http://www.w3.org/ns/ttml"><body><div>
<p begin="0s" end="2s">first</p>
</div></body></tt>`

func TestPackageWebVTT(t *testing.T) {
	out, err := timedtext.PackageWebVTT([]byte(vttDoc), 4, 123456, 0)
	require.NoError(t, err)

	// Init region describes a wvtt track.
	moov, ok := mp4box.Find(out.Init, "moov")
	require.True(t, ok)
	stsd, ok := mp4box.FindPath(moov.Payload, "trak", "mdia", "minf", "stbl", "stsd")
	require.True(t, ok)
	assert.Equal(t, "wvtt", string(stsd.Payload[12:16]))

	// Fragment carries the configured base decode time.
	moof, ok := mp4box.Find(out.Fragment, "moof")
	require.True(t, ok)
	tfdt, ok := mp4box.FindPath(moof.Payload, "traf", "tfdt")
	require.True(t, ok)
	assert.Equal(t, uint64(123456), binary.BigEndian.Uint64(tfdt.Payload[4:]))

	mfhd, ok := mp4box.Find(moof.Payload, "mfhd")
	require.True(t, ok)
	assert.Equal(t, uint32(4), binary.BigEndian.Uint32(mfhd.Payload[4:]))

	mdat, ok := mp4box.Find(out.Fragment, "mdat")
	require.True(t, ok)
	assert.Contains(t, string(mdat.Payload), "first")
	assert.Contains(t, string(mdat.Payload), "second")
	assert.Contains(t, string(mdat.Payload), "vttc")
}

func TestPackageWebVTTMalformed(t *testing.T) {
	_, err := timedtext.PackageWebVTT([]byte("WEBVTT\n\nbroken --> cue\nx\n"), 1, 0, 0)
	require.Error(t, err)
	assert.Equal(t, status.KindParseError, status.KindOf(err))
}

func TestPackageTTML(t *testing.T) {
	out, err := timedtext.PackageTTML([]byte(ttmlDoc), 1, 5000, 4000)
	require.NoError(t, err)

	moov, ok := mp4box.Find(out.Init, "moov")
	require.True(t, ok)
	stsd, ok := mp4box.FindPath(moov.Payload, "trak", "mdia", "minf", "stbl", "stsd")
	require.True(t, ok)
	assert.Equal(t, "mett", string(stsd.Payload[12:16]))
	assert.Contains(t, string(stsd.Payload), "application/ttml+xml")

	moof, ok := mp4box.Find(out.Fragment, "moof")
	require.True(t, ok)
	tfdt, ok := mp4box.FindPath(moof.Payload, "traf", "tfdt")
	require.True(t, ok)
	assert.Equal(t, uint64(5000), binary.BigEndian.Uint64(tfdt.Payload[4:]))

	// The document passes through as the single sample payload.
	mdat, ok := mp4box.Find(out.Fragment, "mdat")
	require.True(t, ok)
	assert.Equal(t, ttmlDoc, string(mdat.Payload))
}

func TestPackageTTMLMalformed(t *testing.T) {
	_, err := timedtext.PackageTTML([]byte("<tt><unclosed></tt>"), 1, 0, 0)
	require.Error(t, err)
	assert.Equal(t, status.KindParseError, status.KindOf(err))

	_, err = timedtext.PackageTTML([]byte("   "), 1, 0, 0)
	require.Error(t, err)
	assert.Equal(t, status.KindParseError, status.KindOf(err))
}
