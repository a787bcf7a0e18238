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
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"
)

// ErrSampleRateMismatch is returned when a source does not run at the stream's rate
var ErrSampleRateMismatch = errors.New("source sample rate does not match stream")

// Source produces interleaved float32 samples for the Feeder.
type Source interface {
	// SampleRate of the PCM stream in Hz.
	SampleRate() int
	// Channels count (e.g., 1=mono, 2=stereo).
	Channels() int
	// ReadSamples fills dst with interleaved samples in [-1,1] and returns how
	// many values it wrote. 0 with a nil error means nothing is available yet;
	// io.EOF means the source is finished.
	ReadSamples(dst []float32) (int, error)
	// Close releases any resources.
	Close() error
}

// Feeder is the producer side of the ring. It keeps the ring filled from a
// Source, one block at a time, never writing over blocks not yet played.
// Create it after the stream has been started so it sees the negotiated layout.
type Feeder struct {
	ring        *RingBuffer
	src         Source
	blockSize   int
	outChannels int
	period      time.Duration
	scratch     []float32
	blocks      uint64
}

// NewFeeder binds src to state's ring.
func NewFeeder(state *State, src Source) (*Feeder, error) {
	cfg := state.Config()
	if src.SampleRate() != int(cfg.SampleRate) {
		return nil, fmt.Errorf("%w: %d Hz vs %.0f Hz", ErrSampleRateMismatch, src.SampleRate(), cfg.SampleRate)
	}
	if src.Channels() <= 0 {
		return nil, fmt.Errorf("source has no channels")
	}
	return &Feeder{
		ring:        state.Ring(),
		src:         src,
		blockSize:   cfg.BlockSize,
		outChannels: cfg.OutChannels,
		period:      time.Duration(float64(cfg.BlockSize) / cfg.SampleRate * float64(time.Second)),
		scratch:     make([]float32, cfg.BlockSize*src.Channels()),
	}, nil
}

// Blocks returns how many blocks have been committed so far.
func (f *Feeder) Blocks() uint64 { return f.blocks }

// Run fills the ring until ctx is cancelled or the source ends.
// It sleeps half a block period whenever the ring is full or the source has
// nothing to give.
func (f *Feeder) Run(ctx context.Context) error {
	wait := f.period / 2
	if wait <= 0 {
		wait = time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if f.ring.Free() == 0 {
			if !sleepCtx(ctx, wait) {
				return nil
			}
			continue
		}

		ok, err := f.Fill()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Printf("🏁 Source finished after %d blocks", f.blocks)
				return nil
			}
			return err
		}
		if !ok && !sleepCtx(ctx, wait) {
			return nil
		}
	}
}

// Fill reads one block from the source and commits it. It reports false when
// the ring is full or the source had nothing yet.
func (f *Feeder) Fill() (bool, error) {
	dst, err := f.ring.WriteRegion()
	if err != nil {
		return false, nil
	}

	var n int
	for n < len(f.scratch) {
		got, rerr := f.src.ReadSamples(f.scratch[n:])
		n += got
		if rerr != nil {
			err = rerr
			break
		}
		if got == 0 {
			break
		}
	}
	if n == 0 {
		return false, err
	}

	srcCh := f.src.Channels()
	frames := n / srcCh
	for i := 0; i < f.blockSize; i++ {
		for ch := 0; ch < f.outChannels; ch++ {
			var v float32
			if i < frames {
				v = f.scratch[i*srcCh+ch%srcCh]
			}
			dst[i*f.outChannels+ch] = v
		}
	}
	f.ring.Commit()
	f.blocks++
	// a partial last block is still played before EOF is reported
	return true, err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
