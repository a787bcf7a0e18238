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
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-bridge-go/internal/audio"
)

const wavFormatPCM = 1

// WAVDecoder decodes integer PCM WAV files through go-audio/wav.
type WAVDecoder struct{}

func (WAVDecoder) Decode(r io.ReadSeeker) (audio.Source, error) {
	d := wav.NewDecoder(r)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if d.SampleRate == 0 || d.NumChans == 0 {
		return nil, fmt.Errorf("%w: not a WAV file", ErrUnsupportedFormat)
	}
	if d.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: WAV format tag %d", ErrUnsupportedFormat, d.WavAudioFormat)
	}
	switch d.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBits, d.BitDepth)
	}

	return &wavSource{
		dec:      d,
		rate:     int(d.SampleRate),
		channels: int(d.NumChans),
		bits:     int(d.BitDepth),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: int(d.NumChans), SampleRate: int(d.SampleRate)},
			SourceBitDepth: int(d.BitDepth),
		},
	}, nil
}

type wavSource struct {
	dec      *wav.Decoder
	rate     int
	channels int
	bits     int
	buf      *goaudio.IntBuffer
}

func (s *wavSource) SampleRate() int { return s.rate }
func (s *wavSource) Channels() int   { return s.channels }
func (s *wavSource) Close() error    { return nil }

func (s *wavSource) ReadSamples(dst []float32) (int, error) {
	want := len(dst) - len(dst)%s.channels
	if want == 0 {
		return 0, nil
	}
	if cap(s.buf.Data) < want {
		s.buf.Data = make([]int, want)
	}
	s.buf.Data = s.buf.Data[:want]

	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("failed to decode WAV: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}

	for i := 0; i < n; i++ {
		dst[i] = intToFloat(s.buf.Data[i], s.bits)
	}
	return n, nil
}

// intToFloat scales a PCM integer to [-1,1). 8-bit WAV is unsigned.
func intToFloat(v, bits int) float32 {
	if bits == 8 {
		return float32(v-128) / 128
	}
	return float32(float64(v) / float64(int64(1)<<(bits-1)))
}
