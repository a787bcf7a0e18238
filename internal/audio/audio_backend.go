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

// AudioBackend provides an abstraction layer over the audio driver.
// This enables dependency injection and makes testing hardware-independent
type AudioBackend interface {
	// Initialize the audio subsystem
	Initialize() error

	// Terminate the audio subsystem
	Terminate() error

	// DeviceCount returns the number of devices the driver can see
	DeviceCount() (int, error)

	// DeviceInfo describes the device at index
	DeviceInfo(index int) (DeviceInfo, error)

	// DefaultInputDevice returns the index of the default capture device
	DefaultInputDevice() (int, error)

	// DefaultOutputDevice returns the index of the default playback device
	DefaultOutputDevice() (int, error)

	// OpenStream opens a duplex float32 stream that invokes callback once per block
	OpenStream(params StreamParams, callback DriverCallback) (StreamInterface, error)
}

// StreamInterface abstracts audio stream operations
type StreamInterface interface {
	// Start the audio stream
	Start() error

	// Stop the audio stream. Blocks until the driver has halted it.
	Stop() error

	// Close the audio stream and release resources
	Close() error

	// IsActive returns true if the stream is currently running
	IsActive() bool
}

// DeviceInfo is what the driver reports about one device.
type DeviceInfo struct {
	Index             int
	Name              string
	InputChannels     int
	OutputChannels    int
	DuplexChannels    int
	DefaultSampleRate float64
}

// StatusFlags carries driver-reported stream conditions for one callback.
type StatusFlags uint

const (
	InputUnderflow  StatusFlags = 0x01
	InputOverflow   StatusFlags = 0x02
	OutputUnderflow StatusFlags = 0x04
	OutputOverflow  StatusFlags = 0x08
	PrimingOutput   StatusFlags = 0x10
)

// CallbackResult tells the driver whether to keep the stream running.
type CallbackResult int

const (
	// Continue keeps the callback firing
	Continue CallbackResult = 0
	// Abort is reserved for fatal stream termination
	Abort CallbackResult = 2
)

// DriverCallback is invoked on the driver's real-time thread once per period.
// in and out are only valid for the duration of the call.
type DriverCallback func(in, out []float32, frames int, streamTime float64, status StatusFlags) CallbackResult

// StreamParams holds parameters for stream creation
type StreamParams struct {
	InputDevice    int
	InputChannels  int
	OutputDevice   int
	OutputChannels int
	SampleRate     float64
	BlockSize      int
	Name           string
}
