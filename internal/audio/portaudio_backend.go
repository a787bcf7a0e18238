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
	"os"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PortAudioBackend implements AudioBackend using the real PortAudio library
type PortAudioBackend struct {
	initialized bool
	devices     []*portaudio.DeviceInfo
}

// NewPortAudioBackend creates a new PortAudio backend
func NewPortAudioBackend() *PortAudioBackend {
	return &PortAudioBackend{}
}

// Initialize initializes the PortAudio subsystem
func (p *PortAudioBackend) Initialize() error {
	if p.initialized {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	p.initialized = true
	return nil
}

// Terminate terminates the PortAudio subsystem
func (p *PortAudioBackend) Terminate() error {
	if !p.initialized {
		return nil
	}

	err := portaudio.Terminate()
	p.initialized = false
	p.devices = nil
	return err
}

func (p *PortAudioBackend) refreshDevices() error {
	if !p.initialized {
		return fmt.Errorf("PortAudio not initialized")
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	p.devices = devices
	return nil
}

func (p *PortAudioBackend) device(index int) (*portaudio.DeviceInfo, error) {
	if p.devices == nil {
		if err := p.refreshDevices(); err != nil {
			return nil, err
		}
	}
	if index < 0 || index >= len(p.devices) {
		return nil, fmt.Errorf("invalid device index: %d", index)
	}
	return p.devices[index], nil
}

// DeviceCount re-enumerates devices and returns how many there are
func (p *PortAudioBackend) DeviceCount() (int, error) {
	if err := p.refreshDevices(); err != nil {
		return 0, err
	}
	return len(p.devices), nil
}

// DeviceInfo describes the device at index
func (p *PortAudioBackend) DeviceInfo(index int) (DeviceInfo, error) {
	dev, err := p.device(index)
	if err != nil {
		return DeviceInfo{}, err
	}
	return DeviceInfo{
		Index:             index,
		Name:              dev.Name,
		InputChannels:     dev.MaxInputChannels,
		OutputChannels:    dev.MaxOutputChannels,
		DuplexChannels:    min(dev.MaxInputChannels, dev.MaxOutputChannels),
		DefaultSampleRate: dev.DefaultSampleRate,
	}, nil
}

// DefaultInputDevice returns the index of the default input device
func (p *PortAudioBackend) DefaultInputDevice() (int, error) {
	def, err := portaudio.DefaultInputDevice()
	if err != nil {
		return DefaultDevice, fmt.Errorf("failed to get default input device: %w", err)
	}
	return p.indexOf(def)
}

// DefaultOutputDevice returns the index of the default output device
func (p *PortAudioBackend) DefaultOutputDevice() (int, error) {
	def, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return DefaultDevice, fmt.Errorf("failed to get default output device: %w", err)
	}
	return p.indexOf(def)
}

func (p *PortAudioBackend) indexOf(dev *portaudio.DeviceInfo) (int, error) {
	if err := p.refreshDevices(); err != nil {
		return DefaultDevice, err
	}
	for i, d := range p.devices {
		if d == dev || (d.Name == dev.Name && d.HostApi == dev.HostApi) {
			return i, nil
		}
	}
	return DefaultDevice, fmt.Errorf("device %q not found", dev.Name)
}

// OpenStream opens a duplex float32 callback stream
func (p *PortAudioBackend) OpenStream(params StreamParams, callback DriverCallback) (StreamInterface, error) {
	if !p.initialized {
		return nil, fmt.Errorf("PortAudio not initialized")
	}

	sp := portaudio.StreamParameters{
		SampleRate:      params.SampleRate,
		FramesPerBuffer: params.BlockSize,
	}
	if params.InputChannels > 0 {
		dev, err := p.device(params.InputDevice)
		if err != nil {
			return nil, err
		}
		sp.Input = portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: params.InputChannels,
			Latency:  dev.DefaultLowInputLatency,
		}
	}
	if params.OutputChannels > 0 {
		dev, err := p.device(params.OutputDevice)
		if err != nil {
			return nil, err
		}
		sp.Output = portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: params.OutputChannels,
			Latency:  dev.DefaultLowOutputLatency,
		}
	}

	ps := &PortAudioStream{
		callback:       callback,
		inputChannels:  params.InputChannels,
		outputChannels: params.OutputChannels,
	}

	stream, err := portaudio.OpenStream(sp, ps.process)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	ps.stream = stream
	return ps, nil
}

// PortAudioStream implements StreamInterface using PortAudio streams
type PortAudioStream struct {
	stream         *portaudio.Stream
	callback       DriverCallback
	inputChannels  int
	outputChannels int
	active         atomic.Bool
	aborted        atomic.Bool
}

// process bridges PortAudio's callback to the DriverCallback.
func (p *PortAudioStream) process(in, out []float32, timeInfo portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "PANIC in audio callback: %v\n", r)
			p.aborted.Store(true)
			clear(out)
		}
	}()

	if p.aborted.Load() {
		clear(out)
		return
	}

	frames := 0
	switch {
	case p.outputChannels > 0:
		frames = len(out) / p.outputChannels
	case p.inputChannels > 0:
		frames = len(in) / p.inputChannels
	}

	// gordonklaus/portaudio callbacks cannot end the stream, so an Abort
	// result silences the output until the stream is restarted
	if p.callback(in, out, frames, timeInfo.CurrentTime.Seconds(), StatusFlags(flags)) == Abort {
		p.aborted.Store(true)
	}
}

// Start starts the audio stream
func (p *PortAudioStream) Start() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	p.aborted.Store(false)
	if err := p.stream.Start(); err != nil {
		return err
	}
	p.active.Store(true)
	return nil
}

// Stop stops the audio stream
func (p *PortAudioStream) Stop() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	if err := p.stream.Stop(); err != nil {
		return err
	}
	p.active.Store(false)
	return nil
}

// Close closes the audio stream
func (p *PortAudioStream) Close() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	p.active.Store(false)
	return p.stream.Close()
}

// IsActive returns true while the stream is started
func (p *PortAudioStream) IsActive() bool {
	return p.active.Load()
}
