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
	"fmt"
	"math"
	"sync/atomic"
)

const (
	DefaultSampleRate  = 44100.0
	DefaultBlockSize   = 256
	DefaultInChannels  = 2
	DefaultOutChannels = 2

	// DefaultDevice selects the driver's default device
	DefaultDevice = -1
)

// Config holds the stream configuration
type Config struct {
	SampleRate  float64
	BlockSize   int
	InChannels  int
	OutChannels int
	InDevice    int
	OutDevice   int

	// ClearConsumed zero-fills a ring block once it has been played, so an
	// underrun plays silence instead of the block from one ring earlier.
	ClearConsumed bool
}

// DefaultConfig returns the default stream configuration
func DefaultConfig() Config {
	return Config{
		SampleRate:  DefaultSampleRate,
		BlockSize:   DefaultBlockSize,
		InChannels:  DefaultInChannels,
		OutChannels: DefaultOutChannels,
		InDevice:    DefaultDevice,
		OutDevice:   DefaultDevice,
	}
}

// Validate checks the configuration can size a ring
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %v", c.SampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("invalid block size: %d", c.BlockSize)
	}
	if c.BlockSize > int(c.SampleRate) {
		// the ring needs at least two blocks
		return fmt.Errorf("block size %d exceeds one second at %v Hz", c.BlockSize, c.SampleRate)
	}
	if c.InChannels < 0 || c.OutChannels < 0 {
		return fmt.Errorf("invalid channel counts: %d/%d", c.InChannels, c.OutChannels)
	}
	return nil
}

// BlockCount is the number of ring blocks holding about one second of audio.
func BlockCount(sampleRate float64, blockSize int) int {
	if blockSize <= 0 {
		return 1
	}
	return int(sampleRate)/blockSize + 1
}

// BlockHook is the external per-block processing hook. It runs on the
// real-time thread and must not block. in and out are borrowed for the call.
type BlockHook func(s *State, now float64, in, out Block, frames int)

// ChainHooks runs hooks in order. nil entries are skipped.
func ChainHooks(hooks ...BlockHook) BlockHook {
	var live []BlockHook
	for _, h := range hooks {
		if h != nil {
			live = append(live, h)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return func(s *State, now float64, in, out Block, frames int) {
		for _, h := range live {
			h(s, now, in, out, frames)
		}
	}
}

// State is the record shared between the stream controller and the callback.
// Configuration and the ring are only replaced while no stream is open.
type State struct {
	cfg       Config
	ring      *RingBuffer
	blockStep int

	clock atomic.Uint64 // float64 bits
	epoch atomic.Uint64
	hook  atomic.Pointer[BlockHook]

	driverUnderflows atomic.Uint64
	callbacks        atomic.Uint64

	// transient, valid for one callback only
	input  Block
	output Block
	frames int
}

// NewState sizes and allocates a zero-filled ring for cfg.
func NewState(cfg Config) (*State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &State{}
	s.configure(cfg)
	return s, nil
}

func (s *State) configure(cfg Config) {
	s.cfg = cfg
	s.blockStep = cfg.BlockSize * cfg.OutChannels
	s.ring = NewRingBuffer(BlockCount(cfg.SampleRate, cfg.BlockSize), s.blockStep)
}

// Config returns the current stream configuration.
func (s *State) Config() Config { return s.cfg }

func (s *State) SampleRate() float64 { return s.cfg.SampleRate }
func (s *State) BlockSize() int      { return s.cfg.BlockSize }
func (s *State) InChannels() int     { return s.cfg.InChannels }
func (s *State) OutChannels() int    { return s.cfg.OutChannels }
func (s *State) BlockStep() int      { return s.blockStep }

// Ring returns the output staging ring.
func (s *State) Ring() *RingBuffer { return s.ring }

// BlockCount returns the ring capacity in blocks.
func (s *State) BlockCount() int { return s.ring.Blocks() }

// Time is the logical clock in seconds, advanced once per callback.
func (s *State) Time() float64 {
	return math.Float64frombits(s.clock.Load())
}

func (s *State) setTime(t float64) {
	s.clock.Store(math.Float64bits(t))
}

// SetHook registers the per-block hook; nil removes it.
func (s *State) SetHook(h BlockHook) {
	if h == nil {
		s.hook.Store(nil)
		return
	}
	s.hook.Store(&h)
}

func (s *State) loadHook() BlockHook {
	if p := s.hook.Load(); p != nil {
		return *p
	}
	return nil
}

// Input is the current callback's input region. Only meaningful inside a hook.
func (s *State) Input() Block { return s.input }

// Output is the current callback's output region. Only meaningful inside a hook.
func (s *State) Output() Block { return s.output }

// Frames is the current callback's frame count. Only meaningful inside a hook.
func (s *State) Frames() int { return s.frames }

// Stats is a snapshot of counters for diagnostics.
type Stats struct {
	ClockTime        float64 `json:"clock_time"`
	Callbacks        uint64  `json:"callbacks"`
	ReadCursor       int     `json:"read_cursor"`
	WriteCursor      int     `json:"write_cursor"`
	Lookahead        int     `json:"lookahead"`
	Overruns         uint64  `json:"overruns"`
	Underruns        uint64  `json:"underruns"`
	DriverUnderflows uint64  `json:"driver_underflows"`
}

// Stats returns a snapshot of the counters. Safe from any goroutine.
func (s *State) Stats() Stats {
	return Stats{
		ClockTime:        s.Time(),
		Callbacks:        s.callbacks.Load(),
		ReadCursor:       s.ring.ReadCursor(),
		WriteCursor:      s.ring.WriteCursor(),
		Lookahead:        s.ring.Lookahead(),
		Overruns:         s.ring.Overruns(),
		Underruns:        s.ring.Underruns(),
		DriverUnderflows: s.driverUnderflows.Load(),
	}
}
