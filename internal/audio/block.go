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

package audio

import "sync/atomic"

// Block is a borrowed, non-owning view of one callback's interleaved samples.
// It is only valid while the callback that produced it is running; once the
// callback returns Valid reports false and Samples returns nil.
type Block struct {
	samples  []float32
	channels int
	epoch    uint64
	live     *atomic.Uint64
}

func newBlock(samples []float32, channels int, epoch uint64, live *atomic.Uint64) Block {
	return Block{samples: samples, channels: channels, epoch: epoch, live: live}
}

// Valid reports whether the callback this view was handed to is still running.
func (b Block) Valid() bool {
	return b.live != nil && b.live.Load() == b.epoch
}

// Channels returns the number of interleaved channels.
func (b Block) Channels() int { return b.channels }

// Len returns the number of samples across all channels.
func (b Block) Len() int {
	if !b.Valid() {
		return 0
	}
	return len(b.samples)
}

// Frames returns the number of frames in the view.
func (b Block) Frames() int {
	if b.channels == 0 {
		return 0
	}
	return b.Len() / b.channels
}

// Samples exposes the underlying samples. Do not retain the slice.
func (b Block) Samples() []float32 {
	if !b.Valid() {
		return nil
	}
	return b.samples
}

// At returns the sample of channel ch in frame.
func (b Block) At(frame, ch int) float32 {
	return b.Samples()[frame*b.channels+ch]
}

// Set writes the sample of channel ch in frame.
func (b Block) Set(frame, ch int, v float32) {
	b.Samples()[frame*b.channels+ch] = v
}

// CopyTo copies the view into dst and returns the number of samples copied.
func (b Block) CopyTo(dst []float32) int {
	return copy(dst, b.Samples())
}
