/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package source

import (
	"bytes"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-bridge-go/internal/audio"
)

func writeTestWAV(t *testing.T, path string, rate, channels int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func readAll(t *testing.T, src audio.Source, chunk int) []float32 {
	t.Helper()
	var out []float32
	dst := make([]float32, chunk)
	for i := 0; i < 1000; i++ {
		n, err := src.ReadSamples(dst)
		out = append(out, dst[:n]...)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
	}
	t.Fatal("source never reached EOF")
	return nil
}

func TestTone(t *testing.T) {
	tone := NewTone(8000, 2, 1000, 0.5)
	assert.Equal(t, 8000, tone.SampleRate())
	assert.Equal(t, 2, tone.Channels())

	dst := make([]float32, 17)
	n, err := tone.ReadSamples(dst)
	require.NoError(t, err)
	assert.Equal(t, 16, n, "only whole frames are written")

	for i := 0; i < 8; i++ {
		assert.Equal(t, dst[2*i], dst[2*i+1], "channels carry the same signal")
		want := 0.5 * math.Sin(2*math.Pi*1000*float64(i)/8000)
		assert.InDelta(t, want, dst[2*i], 1e-6)
	}

	// phase carries across reads
	n, err = tone.ReadSamples(dst[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.InDelta(t, 0.5*math.Sin(2*math.Pi*1000*8/8000), dst[0], 1e-6)
	assert.NoError(t, tone.Close())
}

func TestIntToFloat(t *testing.T) {
	assert.Equal(t, float32(0), intToFloat(128, 8))
	assert.Equal(t, float32(-1), intToFloat(0, 8))
	assert.Equal(t, float32(-1), intToFloat(-32768, 16))
	assert.Equal(t, float32(0.5), intToFloat(16384, 16))
	assert.Equal(t, float32(0.5), intToFloat(1<<22, 24))
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	for _, ext := range []string{"wav", ".WAV", "wave", "mp3", ".ogg", "oga"} {
		t.Run(ext, func(t *testing.T) {
			_, ok := r.Get(ext)
			assert.True(t, ok)
		})
	}

	_, ok := r.Get("flac")
	assert.False(t, ok)

	_, err := r.Open("track.flac")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = r.Open(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ramp.wav")
	data := []int{0, 0, 16384, -16384, -32768, 8192}
	writeTestWAV(t, path, 8000, 2, data)

	src, err := DefaultRegistry().Open(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 8000, src.SampleRate())
	assert.Equal(t, 2, src.Channels())

	got := readAll(t, src, 4)
	require.Len(t, got, len(data))
	for i, v := range data {
		assert.InDelta(t, float64(v)/32768, got[i], 1e-6)
	}
}

func TestWAVRejectsGarbage(t *testing.T) {
	_, err := WAVDecoder{}.Decode(bytes.NewReader([]byte("definitely not RIFF data")))
	assert.Error(t, err)
}

func TestMP3RejectsGarbage(t *testing.T) {
	_, err := MP3Decoder{}.Decode(bytes.NewReader(make([]byte, 64)))
	assert.Error(t, err)
}

func TestVorbisRejectsGarbage(t *testing.T) {
	_, err := VorbisDecoder{}.Decode(bytes.NewReader([]byte("OggS but not really")))
	assert.Error(t, err)
}

func TestOpenLooping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "click.wav")
	writeTestWAV(t, path, 8000, 1, []int{16384, 0})

	src, err := DefaultRegistry().OpenLooping(path)
	require.NoError(t, err)
	defer src.Close()

	dst := make([]float32, 2)
	for i := 0; i < 3; i++ {
		n, err := src.ReadSamples(dst)
		require.NoError(t, err, "pass %d", i)
		require.Equal(t, 2, n)
		assert.Equal(t, []float32{0.5, 0}, dst)
	}
}

func TestToneFeedsRing(t *testing.T) {
	cfg := audio.DefaultConfig()
	cfg.SampleRate = 8000
	cfg.BlockSize = 16
	state, err := audio.NewState(cfg)
	require.NoError(t, err)

	f, err := audio.NewFeeder(state, NewTone(8000, 1, 500, 1))
	require.NoError(t, err)

	ok, err := f.Fill()
	require.NoError(t, err)
	require.True(t, ok)

	block := state.Ring().Read()
	require.Len(t, block, 32)
	assert.Equal(t, block[2], block[3], "mono source is copied to both outputs")
	assert.NotZero(t, block[2])
}
