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

import "math"

// Tone is an endless sine test tone, the same on every channel.
type Tone struct {
	rate      int
	channels  int
	frequency float64
	amplitude float64
	phase     float64
}

// NewTone returns a sine at frequency Hz and the given amplitude.
func NewTone(rate, channels int, frequency, amplitude float64) *Tone {
	return &Tone{
		rate:      rate,
		channels:  channels,
		frequency: frequency,
		amplitude: amplitude,
	}
}

func (t *Tone) SampleRate() int { return t.rate }
func (t *Tone) Channels() int   { return t.channels }
func (t *Tone) Close() error    { return nil }

// ReadSamples fills whole frames of dst.
func (t *Tone) ReadSamples(dst []float32) (int, error) {
	frames := len(dst) / t.channels
	step := 2 * math.Pi * t.frequency / float64(t.rate)
	for i := 0; i < frames; i++ {
		v := float32(t.amplitude * math.Sin(t.phase))
		for ch := 0; ch < t.channels; ch++ {
			dst[i*t.channels+ch] = v
		}
		t.phase += step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return frames * t.channels, nil
}
