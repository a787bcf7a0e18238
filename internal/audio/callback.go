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

// Dispatcher is the hard real-time stream callback. It plays the ring's
// current block, advances the read cursor, runs the hook and advances the
// logical clock. It never blocks, allocates or fails.
type Dispatcher struct {
	state *State
}

// NewDispatcher binds a dispatcher to state.
func NewDispatcher(state *State) *Dispatcher {
	return &Dispatcher{state: state}
}

// Process handles one driver period. frames is expected to equal the configured block size.
func (d *Dispatcher) Process(in, out []float32, frames int, streamTime float64, status StatusFlags) CallbackResult {
	s := d.state
	cfg := &s.cfg

	epoch := s.epoch.Add(1)
	s.input = newBlock(in, cfg.InChannels, epoch, &s.epoch)
	s.output = newBlock(out, cfg.OutChannels, epoch, &s.epoch)
	s.frames = frames

	if status&OutputUnderflow != 0 {
		s.driverUnderflows.Add(1)
	}

	now := s.Time() + float64(frames)/cfg.SampleRate

	src := s.ring.Read()
	n := frames * cfg.OutChannels
	if n > len(src) {
		n = len(src)
	}
	copy(out[:min(n, len(out))], src[:n])
	if cfg.ClearConsumed {
		clear(src)
	}
	s.ring.AdvanceRead()

	if hook := s.loadHook(); hook != nil {
		hook(s, now, s.input, s.output, frames)
	}

	s.setTime(now)
	s.callbacks.Add(1)

	// views handed out above are dead from here on
	s.epoch.Add(1)
	return Continue
}
