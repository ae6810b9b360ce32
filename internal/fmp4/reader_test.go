package fmp4_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/livepackager/internal/fmp4"
	"github.com/jmylchreest/livepackager/internal/status"
	"github.com/jmylchreest/livepackager/internal/testutil"
)

func TestParseInitVideo(t *testing.T) {
	info, err := fmp4.ParseInit(testutil.VideoInitSegment(t))
	require.NoError(t, err)

	assert.Equal(t, testutil.TestTrackID, info.TrackID)
	assert.Equal(t, "vide", info.Handler)
	assert.Equal(t, fmp4.CodecH264, info.Codec)
	assert.Equal(t, uint32(testutil.TestTimescale), info.TimeScale)
	assert.Equal(t, testutil.TestWidth, info.Width)
	assert.Equal(t, testutil.TestHeight, info.Height)
	assert.Equal(t, testutil.TestSPS, info.SPS)
	assert.Equal(t, testutil.TestPPS, info.PPS)
	assert.False(t, info.Encrypted)
}

func TestParseInitAudio(t *testing.T) {
	info, err := fmp4.ParseInit(testutil.AudioInitSegment(t))
	require.NoError(t, err)

	assert.Equal(t, "soun", info.Handler)
	assert.Equal(t, fmp4.CodecAAC, info.Codec)
	require.NotNil(t, info.AudioConfig)
	assert.Equal(t, 48000, info.AudioConfig.SampleRate)
	assert.Equal(t, 2, info.AudioConfig.ChannelCount)
}

func TestParseInitErrors(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		_, err := fmp4.ParseInit(nil)
		require.Error(t, err)
		assert.Equal(t, status.KindParseError, status.KindOf(err))
	})

	t.Run("truncated box", func(t *testing.T) {
		init := testutil.VideoInitSegment(t)
		_, err := fmp4.ParseInit(init[:len(init)-20])
		require.Error(t, err)
		assert.Equal(t, status.KindParseError, status.KindOf(err))
	})

	t.Run("no moov", func(t *testing.T) {
		// A bare ftyp box.
		ftyp := []byte{0, 0, 0, 16, 'f', 't', 'y', 'p', 'm', 'p', '4', '1', 0, 0, 0, 0}
		_, err := fmp4.ParseInit(ftyp)
		require.Error(t, err)
		assert.Equal(t, status.KindParseError, status.KindOf(err))
	})
}

func TestParseSegmentTimestamps(t *testing.T) {
	const baseTime = 72000000
	specs := testutil.DefaultVideoSpecs()
	init := testutil.VideoInitSegment(t)
	media := testutil.VideoMediaSegment(t, baseTime, specs)

	info, samples, err := fmp4.ParseSegment(init, media)
	require.NoError(t, err)
	require.Len(t, samples, len(specs))
	assert.Equal(t, fmp4.CodecH264, info.Codec)

	dts := int64(baseTime)
	for i, s := range samples {
		assert.Equal(t, dts, s.DTS, "sample %d dts", i)
		assert.Equal(t, dts+int64(specs[i].PTSOffset), s.PTS, "sample %d pts", i)
		assert.Equal(t, specs[i].Duration, s.Duration, "sample %d duration", i)
		assert.Equal(t, specs[i].Key, s.IsKey, "sample %d key flag", i)
		dts += int64(specs[i].Duration)
	}

	// The first sample slice carries an IDR NAL; payloads round-trip
	// byte for byte.
	assert.Equal(t, testutil.AVCCSample(t, true, specs[0].SliceLen, 1), samples[0].Data)
}

func TestParseSegmentSkipsStypSidx(t *testing.T) {
	init := testutil.VideoInitSegment(t)
	media := testutil.VideoMediaSegment(t, 0, testutil.DefaultVideoSpecs())

	// Prepend a styp box; the reader must tolerate it.
	styp := []byte{0, 0, 0, 16, 's', 't', 'y', 'p', 'm', 'p', '4', '1', 0, 0, 0, 0}
	_, samples, err := fmp4.ParseSegment(init, append(styp, media...))
	require.NoError(t, err)
	assert.Len(t, samples, 4)
}

func TestParseSegmentEmptyMedia(t *testing.T) {
	init := testutil.VideoInitSegment(t)
	info, samples, err := fmp4.ParseSegment(init, nil)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Empty(t, samples)
}

func TestParseSegmentRejectsGarbage(t *testing.T) {
	init := testutil.VideoInitSegment(t)
	_, _, err := fmp4.ParseSegment(init, []byte{0x47, 0x00, 0x01})
	require.Error(t, err)
	assert.Equal(t, status.KindParseError, status.KindOf(err))

	var st *status.Status
	require.True(t, errors.As(err, &st))
	assert.NotEmpty(t, st.Message)
}

func TestParseSegmentAudio(t *testing.T) {
	init := testutil.AudioInitSegment(t)
	media := testutil.AudioMediaSegment(t, 48000, 3)

	info, samples, err := fmp4.ParseSegment(init, media)
	require.NoError(t, err)
	assert.Equal(t, fmp4.CodecAAC, info.Codec)
	require.Len(t, samples, 3)
	for i, s := range samples {
		assert.True(t, s.IsKey, "audio sample %d", i)
		assert.Equal(t, uint32(1024), s.Duration)
	}
	assert.Equal(t, int64(48000), samples[0].DTS)
}
