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

// Package tap captures input blocks on the real-time thread and hands them to
// sinks on an ordinary goroutine.
package tap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-bridge-go/internal/audio"
)

// DefaultBlocks is the tap ring depth when none is given.
const DefaultBlocks = 32

// Sink receives captured input blocks in order.
type Sink interface {
	WriteBlock(clock float64, samples []float32) error
	Close() error
}

// Tap stages input blocks in its own ring so the callback never waits on a sink.
type Tap struct {
	ring     *audio.RingBuffer
	clocks   []float64
	channels int
	period   time.Duration
	sinks    []Sink

	captured atomic.Uint64
	drained  uint64
}

// New sizes a tap for state's input layout. blocks <= 0 uses DefaultBlocks.
func New(state *audio.State, blocks int, sinks ...Sink) (*Tap, error) {
	cfg := state.Config()
	if cfg.InChannels <= 0 {
		return nil, fmt.Errorf("stream has no input channels")
	}
	if blocks <= 0 {
		blocks = DefaultBlocks
	}
	return &Tap{
		ring:     audio.NewRingBuffer(blocks, cfg.BlockSize*cfg.InChannels),
		clocks:   make([]float64, blocks),
		channels: cfg.InChannels,
		period:   time.Duration(float64(cfg.BlockSize) / cfg.SampleRate * float64(time.Second)),
		sinks:    sinks,
	}, nil
}

// Hook returns the block hook to install on the stream. Chain it with other
// hooks through audio.ChainHooks.
func (t *Tap) Hook() audio.BlockHook {
	return func(s *audio.State, now float64, in, out audio.Block, frames int) {
		samples := in.Samples()
		if len(samples) == 0 {
			return
		}
		dst, err := t.ring.WriteRegion()
		if err != nil {
			// dropped, counted as a tap overrun
			return
		}
		t.clocks[t.ring.WriteCursor()] = now
		n := copy(dst, samples)
		clear(dst[n:])
		t.ring.Commit()
		t.captured.Add(1)
	}
}

// Captured counts blocks staged by the hook.
func (t *Tap) Captured() uint64 { return t.captured.Load() }

// Dropped counts input blocks lost because the sinks fell behind.
func (t *Tap) Dropped() uint64 { return t.ring.Overruns() }

// Drain hands every staged block to the sinks and returns how many it moved.
func (t *Tap) Drain() (int, error) {
	n := 0
	for t.ring.Lookahead() > 0 {
		clock := t.clocks[t.ring.ReadCursor()]
		block := t.ring.Read()
		var errs []error
		for _, sink := range t.sinks {
			if err := sink.WriteBlock(clock, block); err != nil {
				errs = append(errs, err)
			}
		}
		t.ring.AdvanceRead()
		t.drained++
		n++
		if len(errs) > 0 {
			return n, errors.Join(errs...)
		}
	}
	return n, nil
}

// Run drains the tap until ctx is cancelled, then flushes what is left and
// closes the sinks.
func (t *Tap) Run(ctx context.Context) error {
	wait := t.period / 2
	if wait <= 0 {
		wait = time.Millisecond
	}
	ticker := time.NewTicker(wait)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_, err := t.Drain()
			return errors.Join(err, t.Close())
		case <-ticker.C:
			if _, err := t.Drain(); err != nil {
				log.Printf("⚠️  Input tap sink error: %v", err)
			}
		}
	}
}

// Close closes every sink.
func (t *Tap) Close() error {
	var errs []error
	for _, sink := range t.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.drained > 0 || t.Dropped() > 0 {
		log.Printf("🎙️  Input tap closed: %d blocks written, %d dropped", t.drained, t.Dropped())
	}
	return errors.Join(errs...)
}
