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

import (
	"errors"
	"sync/atomic"
)

// ErrRingFull is returned when a write would overwrite a block that has not been played yet
var ErrRingFull = errors.New("ring buffer full")

// RingBuffer is a fixed-capacity circular store of interleaved sample blocks.
//
// It is a single-producer, single-consumer structure: the producer goroutine
// (or hook) writes blocks and commits them, the real-time callback reads them.
// There are no locks. Positions are monotonically increasing block counters;
// the cursors are those counters modulo the block count.
//
// Thread assignment:
//   - WriteRegion, Commit, WriteBlock: producer only
//   - Read, AdvanceRead: consumer (audio callback) only
type RingBuffer struct {
	// Separate cache lines so producer and consumer do not false-share.
	written atomic.Uint64
	_pad1   [56]byte
	read    atomic.Uint64
	_pad2   [56]byte

	overruns  atomic.Uint64
	underruns atomic.Uint64

	samples []float32
	blocks  uint64
	step    int
}

// NewRingBuffer allocates a zero-filled ring of blocks blocks, each step samples long.
func NewRingBuffer(blocks, step int) *RingBuffer {
	if blocks < 1 {
		blocks = 1
	}
	if step < 0 {
		step = 0
	}
	return &RingBuffer{
		samples: make([]float32, blocks*step),
		blocks:  uint64(blocks),
		step:    step,
	}
}

// Blocks returns the ring capacity in blocks.
func (rb *RingBuffer) Blocks() int { return int(rb.blocks) }

// Step returns the stride between blocks in samples.
func (rb *RingBuffer) Step() int { return rb.step }

// Len returns the length of the backing store in samples.
func (rb *RingBuffer) Len() int { return len(rb.samples) }

// Block returns the region of logical block index, wrapped modulo the block count.
// No lookahead check is made; the caller must not write ahead of the reader.
func (rb *RingBuffer) Block(index int) []float32 {
	i := index % int(rb.blocks)
	if i < 0 {
		i += int(rb.blocks)
	}
	off := i * rb.step
	return rb.samples[off : off+rb.step : off+rb.step]
}

// ReadCursor is the block the next callback will play.
func (rb *RingBuffer) ReadCursor() int {
	return int(rb.read.Load() % rb.blocks)
}

// WriteCursor is the block the producer fills next.
func (rb *RingBuffer) WriteCursor() int {
	return int(rb.written.Load() % rb.blocks)
}

// Read returns the block at the read cursor.
func (rb *RingBuffer) Read() []float32 {
	return rb.Block(rb.ReadCursor())
}

// AdvanceRead moves the read cursor one block forward, wrapping at the block count.
// Advancing past the last committed block is counted as an underrun.
func (rb *RingBuffer) AdvanceRead() {
	r := rb.read.Load()
	if r >= rb.written.Load() {
		rb.underruns.Add(1)
	}
	rb.read.Store(r + 1)
}

// Lookahead is the number of committed blocks not yet played.
// It is negative after underruns until the producer catches up.
func (rb *RingBuffer) Lookahead() int {
	r := rb.read.Load()
	return int(int64(rb.written.Load()) - int64(r))
}

// Free is the number of blocks the producer may write without overrunning the reader.
func (rb *RingBuffer) Free() int {
	ahead := rb.Lookahead()
	if ahead < 0 {
		ahead = 0
	}
	return int(rb.blocks) - ahead
}

// WriteRegion returns the next block the producer may fill, or ErrRingFull
// when that block has not been played yet. The block becomes visible to the
// reader only after Commit.
func (rb *RingBuffer) WriteRegion() ([]float32, error) {
	r := rb.read.Load()
	w := rb.resync(r)
	if w-r >= rb.blocks {
		rb.overruns.Add(1)
		return nil, ErrRingFull
	}
	return rb.Block(int(w % rb.blocks)), nil
}

// Commit publishes the block returned by WriteRegion.
func (rb *RingBuffer) Commit() {
	w := rb.written.Load() + 1
	checkLookahead(w, rb.read.Load(), rb.blocks)
	rb.written.Store(w)
}

// WriteBlock copies src into the next free block and commits it.
// Samples beyond the block length are ignored; a short src leaves the tail zeroed.
func (rb *RingBuffer) WriteBlock(src []float32) error {
	dst, err := rb.WriteRegion()
	if err != nil {
		return err
	}
	n := copy(dst, src)
	clear(dst[n:])
	rb.Commit()
	return nil
}

// resync moves the write position up to the reader after an underrun so the
// next block written is the next one played. r is the reader position the
// caller checks fullness against; the returned position is never below it.
func (rb *RingBuffer) resync(r uint64) uint64 {
	w := rb.written.Load()
	if w < r {
		w = r
		rb.written.Store(w)
	}
	return w
}

// Overruns counts writes refused because the ring was full.
func (rb *RingBuffer) Overruns() uint64 { return rb.overruns.Load() }

// Underruns counts blocks played that the producer had not committed.
func (rb *RingBuffer) Underruns() uint64 { return rb.underruns.Load() }
