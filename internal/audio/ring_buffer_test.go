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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockCount(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate float64
		blockSize  int
		expected   int
	}{
		{"default 44.1k/256", 44100, 256, 173},
		{"48k/512", 48000, 512, 94},
		{"block larger than a second", 8000, 16384, 1},
		{"16k/160", 16000, 160, 101},
		{"one frame blocks", 100, 1, 101},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BlockCount(tt.sampleRate, tt.blockSize))
		})
	}
}

func TestNewRingBuffer(t *testing.T) {
	rb := NewRingBuffer(173, 512)
	assert.Equal(t, 173, rb.Blocks())
	assert.Equal(t, 512, rb.Step())
	assert.Equal(t, 173*512, rb.Len())
	assert.Equal(t, 0, rb.ReadCursor())
	assert.Equal(t, 0, rb.WriteCursor())

	for i := 0; i < rb.Blocks(); i++ {
		for _, v := range rb.Block(i) {
			require.Zero(t, v, "ring must start zero-filled")
		}
	}

	t.Run("clamps capacity to one block", func(t *testing.T) {
		rb := NewRingBuffer(0, 4)
		assert.Equal(t, 1, rb.Blocks())
	})
}

func TestRingBufferBlockAddressing(t *testing.T) {
	rb := NewRingBuffer(4, 3)

	rb.Block(1)[0] = 1
	rb.Block(5)[1] = 2 // wraps onto block 1
	rb.Block(-3)[2] = 3

	assert.Equal(t, []float32{1, 2, 3}, rb.Block(1))
	assert.Len(t, rb.Block(2), 3)
	assert.Equal(t, 3, cap(rb.Block(3)), "block slices must not reach into the next block")
}

func TestRingBufferReadCursorSequence(t *testing.T) {
	const blocks = 7
	rb := NewRingBuffer(blocks, 2)

	for i := 0; i < 3*blocks; i++ {
		require.Equal(t, i%blocks, rb.ReadCursor(), "advance %d", i)
		rb.AdvanceRead()
	}
	assert.Equal(t, 0, rb.ReadCursor(), "cursor returns to start after a multiple of the capacity")
}

func TestRingBufferRoundTrip(t *testing.T) {
	rb := NewRingBuffer(5, 4)

	pattern := [][]float32{
		{0.1, 0.2, 0.3, 0.4},
		{-0.1, -0.2, -0.3, -0.4},
		{1, -1, 1, -1},
	}
	for _, block := range pattern {
		require.NoError(t, rb.WriteBlock(block))
	}
	assert.Equal(t, 3, rb.Lookahead())

	for i, want := range pattern {
		assert.Equal(t, want, rb.Read(), "block %d", i)
		rb.AdvanceRead()
	}
	assert.Zero(t, rb.Underruns())
}

func TestRingBufferOverrun(t *testing.T) {
	rb := NewRingBuffer(3, 1)

	for i := 0; i < 3; i++ {
		require.NoError(t, rb.WriteBlock([]float32{float32(i)}))
	}
	assert.Equal(t, 0, rb.Free())

	err := rb.WriteBlock([]float32{9})
	require.ErrorIs(t, err, ErrRingFull)
	assert.Equal(t, uint64(1), rb.Overruns())
	assert.Equal(t, []float32{0}, rb.Read(), "unplayed block must not be overwritten")

	rb.AdvanceRead()
	require.NoError(t, rb.WriteBlock([]float32{9}))
	assert.Equal(t, []float32{9}, rb.Block(0))
}

func TestRingBufferUnderrunResync(t *testing.T) {
	rb := NewRingBuffer(4, 1)

	require.NoError(t, rb.WriteBlock([]float32{1}))
	rb.AdvanceRead()
	rb.AdvanceRead()
	rb.AdvanceRead()

	assert.Equal(t, uint64(2), rb.Underruns())
	assert.Equal(t, -2, rb.Lookahead())
	assert.Equal(t, 4, rb.Free())

	// the next block written is the next one played
	require.NoError(t, rb.WriteBlock([]float32{7}))
	assert.Equal(t, 3, rb.ReadCursor())
	assert.Equal(t, []float32{7}, rb.Read())
	assert.Equal(t, 1, rb.Lookahead())
}

func TestRingBufferWriteBlockPadsShortInput(t *testing.T) {
	rb := NewRingBuffer(2, 4)
	copy(rb.Block(0), []float32{5, 5, 5, 5})

	require.NoError(t, rb.WriteBlock([]float32{1, 2}))
	assert.Equal(t, []float32{1, 2, 0, 0}, rb.Block(0))
}

func TestRingBufferConcurrentProducerConsumer(t *testing.T) {
	const (
		blocks = 8
		step   = 16
		total  = 2000
	)
	rb := NewRingBuffer(blocks, step)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			dst, err := rb.WriteRegion()
			if err != nil {
				continue
			}
			for j := range dst {
				dst[j] = float32(i)
			}
			rb.Commit()
			i++
		}
	}()

	got := 0
	for got < total {
		if rb.Lookahead() <= 0 {
			continue
		}
		block := rb.Read()
		for _, v := range block {
			require.Equal(t, float32(got), v, "block %d torn or out of order", got)
		}
		rb.AdvanceRead()
		got++
	}
	wg.Wait()
	assert.Zero(t, rb.Underruns())
}

func TestRingBufferStarvedReaderNeverReportsFull(t *testing.T) {
	const blocks = 8
	rb := NewRingBuffer(blocks, 4)

	// the reader runs ahead of a producer that never commits
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				rb.AdvanceRead()
			}
		}
	}()

	var full int
	for i := 0; i < 200000; i++ {
		if _, err := rb.WriteRegion(); err != nil {
			full++
		}
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, full, "an empty ring must always accept a write")
	assert.Zero(t, rb.Overruns())
	assert.LessOrEqual(t, rb.Lookahead(), 0)
	assert.Equal(t, blocks, rb.Free())
}
