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

package tap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-bridge-go/internal/audio"
)

type memorySink struct {
	clocks []float64
	blocks [][]float32
	err    error
	closed bool
}

func (m *memorySink) WriteBlock(clock float64, samples []float32) error {
	m.clocks = append(m.clocks, clock)
	m.blocks = append(m.blocks, append([]float32(nil), samples...))
	return m.err
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

func newTapState(t *testing.T) *audio.State {
	t.Helper()
	cfg := audio.DefaultConfig()
	cfg.SampleRate = 16
	cfg.BlockSize = 4
	cfg.InChannels = 1
	cfg.OutChannels = 1
	state, err := audio.NewState(cfg)
	require.NoError(t, err)
	return state
}

func runPeriods(state *audio.State, count int) {
	d := audio.NewDispatcher(state)
	out := make([]float32, 4)
	for i := 0; i < count; i++ {
		v := float32(i + 1)
		d.Process([]float32{v, v, v, v}, out, 4, 0, 0)
	}
}

func TestTapCapturesInput(t *testing.T) {
	state := newTapState(t)
	sink := &memorySink{}
	tp, err := New(state, 4, sink)
	require.NoError(t, err)
	state.SetHook(tp.Hook())

	runPeriods(state, 3)
	assert.Equal(t, uint64(3), tp.Captured())

	n, err := tp.Drain()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, sink.blocks, 3)
	assert.Equal(t, []float32{2, 2, 2, 2}, sink.blocks[1])
	assert.Equal(t, []float64{0.25, 0.5, 0.75}, sink.clocks)
}

func TestTapDropsWhenFull(t *testing.T) {
	state := newTapState(t)
	sink := &memorySink{}
	tp, err := New(state, 2, sink)
	require.NoError(t, err)
	state.SetHook(tp.Hook())

	runPeriods(state, 5)
	assert.Equal(t, uint64(2), tp.Captured())
	assert.Equal(t, uint64(3), tp.Dropped())

	_, err = tp.Drain()
	require.NoError(t, err)
	require.Len(t, sink.blocks, 2)
	assert.Equal(t, float32(1), sink.blocks[0][0], "oldest blocks are kept")
}

func TestTapRequiresInput(t *testing.T) {
	cfg := audio.DefaultConfig()
	cfg.InChannels = 0
	state, err := audio.NewState(cfg)
	require.NoError(t, err)

	_, err = New(state, 0)
	assert.Error(t, err)
}

func TestTapSinkError(t *testing.T) {
	state := newTapState(t)
	sink := &memorySink{err: errors.New("disk full")}
	tp, err := New(state, 4, sink)
	require.NoError(t, err)
	state.SetHook(tp.Hook())

	runPeriods(state, 2)
	n, err := tp.Drain()
	assert.Error(t, err)
	assert.Equal(t, 1, n, "drain stops at the failing block")
}

func TestTapRunFlushesAndCloses(t *testing.T) {
	state := newTapState(t)
	sink := &memorySink{}
	tp, err := New(state, 8, sink)
	require.NoError(t, err)
	state.SetHook(tp.Hook())
	runPeriods(state, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, tp.Run(ctx))

	assert.Len(t, sink.blocks, 4)
	assert.True(t, sink.closed)
}

func TestWAVSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	sink, err := NewWAVSink(path, 8000, 2)
	require.NoError(t, err)

	require.NoError(t, sink.WriteBlock(0, []float32{0, 0.5, -0.5, 1}))
	require.NoError(t, sink.WriteBlock(0.0005, []float32{2, -2}))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, 2, buf.Format.NumChannels)
	assert.Equal(t, 8000, buf.Format.SampleRate)
	assert.Equal(t, []int{0, 16384, -16384, 32767, 32767, -32768}, buf.Data)
}

func TestFloatToInt16(t *testing.T) {
	tests := []struct {
		in   float32
		want int
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{1.5, 32767},
		{-1.5, -32768},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, floatToInt16(tt.in), "%v", tt.in)
	}
}

func TestTapRunDrainsPeriodically(t *testing.T) {
	state := newTapState(t)
	sink := &memorySink{}
	tp, err := New(state, 8, sink)
	require.NoError(t, err)
	state.SetHook(tp.Hook())
	runPeriods(state, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, tp.Run(ctx))
	assert.Len(t, sink.blocks, 2)
}
