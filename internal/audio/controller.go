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
	"fmt"
	"log"
	"sync"
)

var (
	ErrNoDevices      = errors.New("no audio devices found")
	ErrNotInitialized = errors.New("stream controller not initialized")
	ErrStreamOpen     = errors.New("stream is open")
	ErrNoStream       = errors.New("no stream open")
)

// Phase is the lifecycle state of a StreamController
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitialized
	PhaseOpen
	PhaseRunning
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitialized:
		return "initialized"
	case PhaseOpen:
		return "open"
	case PhaseRunning:
		return "running"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// StreamController negotiates hardware resources and manages the stream lifecycle.
// Its methods are meant for the control goroutine; they are serialized but not
// atomic against the driver thread.
type StreamController struct {
	mu         sync.Mutex
	backend    AudioBackend
	cfg        Config
	state      *State
	dispatcher *Dispatcher
	stream     StreamInterface
	phase      Phase

	initOnce sync.Once
	initErr  error
}

// NewStreamController creates a controller for backend. Nothing touches the
// driver until Initialize or Start.
func NewStreamController(backend AudioBackend, cfg Config) *StreamController {
	return &StreamController{
		backend: backend,
		cfg:     cfg,
	}
}

// Initialize performs one-time setup: brings up the driver, resolves default
// devices and allocates the ring. Only the first call has any effect.
func (c *StreamController) Initialize() error {
	c.initOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.initErr = c.initialize()
	})
	return c.initErr
}

func (c *StreamController) initialize() error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if err := c.backend.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize audio backend: %w", err)
	}

	if c.cfg.InDevice == DefaultDevice {
		if idx, err := c.backend.DefaultInputDevice(); err != nil {
			log.Printf("⚠️  No default input device: %v", err)
		} else {
			c.cfg.InDevice = idx
		}
	}
	if c.cfg.OutDevice == DefaultDevice {
		if idx, err := c.backend.DefaultOutputDevice(); err != nil {
			log.Printf("⚠️  No default output device: %v", err)
		} else {
			c.cfg.OutDevice = idx
		}
	}

	state, err := NewState(c.cfg)
	if err != nil {
		return err
	}
	c.state = state
	c.dispatcher = NewDispatcher(state)
	c.phase = PhaseInitialized

	log.Printf("✅ Audio initialized: %.0f Hz, %d frames/block, %d blocks in ring",
		c.cfg.SampleRate, c.cfg.BlockSize, state.BlockCount())
	return nil
}

// State returns the shared state record, initializing on first use.
func (c *StreamController) State() *State {
	if err := c.Initialize(); err != nil {
		log.Printf("❌ Failed to initialize audio: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetHook registers the per-block hook. It can be swapped while running.
func (c *StreamController) SetHook(h BlockHook) error {
	if err := c.Initialize(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SetHook(h)
	return nil
}

// Phase returns the current lifecycle phase.
func (c *StreamController) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Devices lists what the driver reports.
func (c *StreamController) Devices() ([]DeviceInfo, error) {
	if err := c.Initialize(); err != nil {
		return nil, err
	}
	return listDevices(c.backend)
}

func listDevices(backend AudioBackend) ([]DeviceInfo, error) {
	count, err := backend.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}
	devices := make([]DeviceInfo, 0, count)
	for i := 0; i < count; i++ {
		info, err := backend.DeviceInfo(i)
		if err != nil {
			return nil, fmt.Errorf("failed to query device %d: %w", i, err)
		}
		devices = append(devices, info)
	}
	return devices, nil
}

// Start (re)opens the duplex stream with negotiated parameters and starts it.
// Any running stream is stopped and closed first; if it cannot be closed,
// Start returns ErrStreamOpen without opening another. Failures are logged and
// returned; the stream is then left closed and nothing is retried.
func (c *StreamController) Start() error {
	if err := c.Initialize(); err != nil {
		log.Printf("❌ Failed to initialize audio: %v", err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		if c.phase == PhaseRunning {
			if err := c.stopLocked(); err != nil {
				log.Printf("⚠️  Failed to stop running stream: %v", err)
			}
		}
		// a second stream would be a second reader of the ring
		if err := c.closeLocked(); err != nil {
			log.Printf("❌ Failed to close previous stream: %v", err)
			return fmt.Errorf("%w: %v", ErrStreamOpen, err)
		}
	}

	count, err := c.backend.DeviceCount()
	if err != nil {
		log.Printf("❌ Failed to count audio devices: %v", err)
		return fmt.Errorf("failed to count devices: %w", err)
	}
	if count < 1 {
		log.Println("❌ No audio devices found")
		return ErrNoDevices
	}

	log.Printf("🎛️  Available audio devices (%d):", count)
	for i := 0; i < count; i++ {
		info, err := c.backend.DeviceInfo(i)
		if err != nil {
			log.Printf("⚠️  Device %d: %v", i, err)
			continue
		}
		log.Printf("   Device %d: %dx%d (%d) %s", i, info.InputChannels, info.OutputChannels, info.DuplexChannels, info.Name)
	}

	inInfo, err := c.backend.DeviceInfo(c.cfg.InDevice)
	if err != nil {
		log.Printf("❌ Failed to query input device %d: %v", c.cfg.InDevice, err)
		return fmt.Errorf("failed to query input device %d: %w", c.cfg.InDevice, err)
	}
	log.Printf("🎙️  Using audio input %d: %dx%d (%d) %s", c.cfg.InDevice, inInfo.InputChannels, inInfo.OutputChannels, inInfo.DuplexChannels, inInfo.Name)

	outInfo, err := c.backend.DeviceInfo(c.cfg.OutDevice)
	if err != nil {
		log.Printf("❌ Failed to query output device %d: %v", c.cfg.OutDevice, err)
		return fmt.Errorf("failed to query output device %d: %w", c.cfg.OutDevice, err)
	}
	log.Printf("🔊 Using audio output %d: %dx%d (%d) %s", c.cfg.OutDevice, outInfo.InputChannels, outInfo.OutputChannels, outInfo.DuplexChannels, outInfo.Name)

	c.cfg.InChannels = inInfo.InputChannels
	c.cfg.OutChannels = outInfo.OutputChannels
	c.renegotiate()

	params := StreamParams{
		InputDevice:    c.cfg.InDevice,
		InputChannels:  c.cfg.InChannels,
		OutputDevice:   c.cfg.OutDevice,
		OutputChannels: c.cfg.OutChannels,
		SampleRate:     c.cfg.SampleRate,
		BlockSize:      c.cfg.BlockSize,
		Name:           "loqa-bridge",
	}

	stream, err := c.backend.OpenStream(params, c.dispatcher.Process)
	if err != nil {
		log.Printf("❌ Failed to open stream: %v", err)
		return fmt.Errorf("failed to open stream: %w", err)
	}
	c.stream = stream
	c.phase = PhaseOpen

	if err := stream.Start(); err != nil {
		log.Printf("❌ Failed to start stream: %v", err)
		if cerr := c.closeLocked(); cerr != nil {
			log.Printf("⚠️  %v", cerr)
		}
		return fmt.Errorf("failed to start stream: %w", err)
	}
	c.phase = PhaseRunning

	log.Println("🔊 Audio started")
	return nil
}

// renegotiate carries negotiated channel counts into the state. The ring is
// re-sized when the output stride changed; no stream is open at this point.
func (c *StreamController) renegotiate() {
	old := c.state.cfg
	c.state.cfg.InChannels = c.cfg.InChannels
	c.state.cfg.OutChannels = c.cfg.OutChannels
	if old.OutChannels == c.cfg.OutChannels {
		return
	}
	log.Printf("⚠️  Output channels negotiated %d -> %d, resizing ring", old.OutChannels, c.cfg.OutChannels)
	c.state.configure(c.state.cfg)
}

// Stop halts a running stream, leaving it open. Blocks until the driver confirms.
func (c *StreamController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseRunning {
		return nil
	}
	return c.stopLocked()
}

func (c *StreamController) stopLocked() error {
	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	c.phase = PhaseOpen
	log.Println("⏹️  Audio stopped")
	return nil
}

// Close stops the stream if needed and releases it.
func (c *StreamController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseRunning {
		if err := c.stopLocked(); err != nil {
			return err
		}
	}
	if c.phase != PhaseOpen {
		return nil
	}
	return c.closeLocked()
}

// closeLocked keeps the handle when the driver refuses, so the stream is
// never forgotten while it may still be running.
func (c *StreamController) closeLocked() error {
	if err := c.stream.Close(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	c.stream = nil
	c.phase = PhaseInitialized
	log.Println("🔌 Audio stream closed")
	return nil
}

// Reconfigure replaces the stream configuration and re-allocates the ring.
// Only allowed while no stream is open; the clock keeps running.
func (c *StreamController) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := c.Initialize(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseOpen || c.phase == PhaseRunning {
		return ErrStreamOpen
	}
	if cfg.InDevice == DefaultDevice {
		cfg.InDevice = c.cfg.InDevice
	}
	if cfg.OutDevice == DefaultDevice {
		cfg.OutDevice = c.cfg.OutDevice
	}
	c.cfg = cfg
	c.state.configure(cfg)
	return nil
}

// Shutdown closes any stream and terminates the backend.
func (c *StreamController) Shutdown() error {
	closeErr := c.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseUninitialized {
		return closeErr
	}
	if err := c.backend.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate audio backend: %w", err)
	}
	return closeErr
}
