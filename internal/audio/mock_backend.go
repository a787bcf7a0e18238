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
	"sync"
	"time"
)

// MockAudioBackend implements AudioBackend for testing without hardware dependencies
type MockAudioBackend struct {
	mu                 sync.Mutex
	initialized        bool
	devices            []DeviceInfo
	defaultInput       int
	defaultOutput      int
	streams            map[string]*MockStream
	streamCounter      int
	initError          error
	terminateError     error
	deviceCountError   error
	createStreamError  error
	streamStartError   error
	simulateRealTiming bool
	playbackAudioData  [][]float32
	lastParams         StreamParams
}

// NewMockAudioBackend creates a mock backend with a single stereo duplex device
func NewMockAudioBackend() *MockAudioBackend {
	return &MockAudioBackend{
		devices: []DeviceInfo{
			{Index: 0, Name: "Mock Duplex", InputChannels: 2, OutputChannels: 2, DuplexChannels: 2, DefaultSampleRate: DefaultSampleRate},
		},
		streams:           make(map[string]*MockStream),
		playbackAudioData: make([][]float32, 0),
	}
}

// SetDevices replaces the simulated devices
func (m *MockAudioBackend) SetDevices(devices []DeviceInfo, defaultInput, defaultOutput int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = devices
	m.defaultInput = defaultInput
	m.defaultOutput = defaultOutput
}

// SetInitError configures the backend to return an error on Initialize()
func (m *MockAudioBackend) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = err
}

// SetDeviceCountError configures the backend to fail device enumeration
func (m *MockAudioBackend) SetDeviceCountError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceCountError = err
}

// SetCreateStreamError configures the backend to return an error on stream creation
func (m *MockAudioBackend) SetCreateStreamError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createStreamError = err
}

// SetStreamStartError makes streams opened from now on fail Start()
func (m *MockAudioBackend) SetStreamStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamStartError = err
}

// SetSimulateRealTiming makes started streams fire their callback from a
// goroutine at the block period, like a driver thread
func (m *MockAudioBackend) SetSimulateRealTiming(simulate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simulateRealTiming = simulate
}

// GetPlaybackAudioData returns every output block the callback produced
func (m *MockAudioBackend) GetPlaybackAudioData() [][]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]float32, len(m.playbackAudioData))
	copy(result, m.playbackAudioData)
	return result
}

// LastStreamParams returns the parameters of the most recent OpenStream call
func (m *MockAudioBackend) LastStreamParams() StreamParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastParams
}

// OpenStreams returns how many streams are currently open
func (m *MockAudioBackend) OpenStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// IsInitialized reports whether Initialize succeeded and Terminate has not run
func (m *MockAudioBackend) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Initialize initializes the mock audio subsystem
func (m *MockAudioBackend) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initError != nil {
		return m.initError
	}

	m.initialized = true
	return nil
}

// Terminate terminates the mock audio subsystem
func (m *MockAudioBackend) Terminate() error {
	m.mu.Lock()
	if m.terminateError != nil {
		m.mu.Unlock()
		return m.terminateError
	}

	var streams []*MockStream
	for _, stream := range m.streams {
		streams = append(streams, stream)
	}

	// Release the lock before calling Stop/Close to avoid deadlocks
	m.mu.Unlock()

	for _, stream := range streams {
		_ = stream.Stop()  // Ignore errors during cleanup
		_ = stream.Close() // Ignore errors during cleanup
	}

	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()
	return nil
}

// DeviceCount returns the number of simulated devices
func (m *MockAudioBackend) DeviceCount() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deviceCountError != nil {
		return 0, m.deviceCountError
	}
	return len(m.devices), nil
}

// DeviceInfo returns the simulated device at index
func (m *MockAudioBackend) DeviceInfo(index int) (DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.devices) {
		return DeviceInfo{}, fmt.Errorf("invalid device index: %d", index)
	}
	return m.devices[index], nil
}

// DefaultInputDevice returns the simulated default input
func (m *MockAudioBackend) DefaultInputDevice() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.devices) == 0 {
		return DefaultDevice, fmt.Errorf("no default input device")
	}
	return m.defaultInput, nil
}

// DefaultOutputDevice returns the simulated default output
func (m *MockAudioBackend) DefaultOutputDevice() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.devices) == 0 {
		return DefaultDevice, fmt.Errorf("no default output device")
	}
	return m.defaultOutput, nil
}

// OpenStream creates a mock duplex stream
func (m *MockAudioBackend) OpenStream(params StreamParams, callback DriverCallback) (StreamInterface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("mock audio backend not initialized")
	}

	if m.createStreamError != nil {
		return nil, m.createStreamError
	}

	if params.SampleRate <= 0 || params.BlockSize <= 0 {
		return nil, fmt.Errorf("invalid stream parameters: %v Hz, %d frames", params.SampleRate, params.BlockSize)
	}

	streamID := fmt.Sprintf("duplex_%d", m.streamCounter)
	m.streamCounter++
	m.lastParams = params

	stream := &MockStream{
		id:                 streamID,
		backend:            m,
		params:             params,
		callback:           callback,
		isOpen:             true,
		simulateRealTiming: m.simulateRealTiming,
		startError:         m.streamStartError,
		input:              make([]float32, params.BlockSize*params.InputChannels),
		output:             make([]float32, params.BlockSize*params.OutputChannels),
		stopChannel:        make(chan struct{}),
	}

	m.streams[streamID] = stream
	return stream, nil
}

// MockStream implements StreamInterface for testing
type MockStream struct {
	mu                 sync.Mutex
	id                 string
	backend            *MockAudioBackend
	params             StreamParams
	callback           DriverCallback
	isOpen             bool
	isActive           bool
	simulateRealTiming bool
	input              []float32
	output             []float32
	streamTime         float64
	status             StatusFlags
	stopChannel        chan struct{}
	done               sync.WaitGroup
	startError         error
	stopError          error
	closeError         error
	audioDataGenerator func([]float32) // For generating mock audio input
}

// SetStartError configures the stream to return an error on Start()
func (m *MockStream) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startError = err
}

// SetStopError configures the stream to return an error on Stop()
func (m *MockStream) SetStopError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopError = err
}

// SetCloseError configures the stream to return an error on Close()
func (m *MockStream) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeError = err
}

// SetStatus sets the status flags passed to the next callbacks
func (m *MockStream) SetStatus(status StatusFlags) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// SetAudioDataGenerator sets a function to generate mock audio input data
func (m *MockStream) SetAudioDataGenerator(generator func([]float32)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioDataGenerator = generator
}

// Start starts the mock stream
func (m *MockStream) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startError != nil {
		return m.startError
	}

	if !m.isOpen {
		return fmt.Errorf("stream not open")
	}

	if m.isActive {
		return fmt.Errorf("stream already active")
	}

	m.isActive = true

	if m.simulateRealTiming {
		m.stopChannel = make(chan struct{})
		m.done.Add(1)
		go m.simulateDriverThread(m.stopChannel)
	}

	return nil
}

// Stop stops the mock stream and waits for the simulated driver thread to exit
func (m *MockStream) Stop() error {
	m.mu.Lock()

	if m.stopError != nil {
		m.mu.Unlock()
		return m.stopError
	}

	if !m.isActive {
		m.mu.Unlock()
		return nil
	}

	m.isActive = false
	if m.simulateRealTiming {
		close(m.stopChannel)
	}
	m.mu.Unlock()

	m.done.Wait()
	return nil
}

// Close closes the mock stream
func (m *MockStream) Close() error {
	if err := m.Stop(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closeError != nil {
		return m.closeError
	}

	if !m.isOpen {
		return nil // Already closed
	}

	m.isOpen = false

	m.backend.mu.Lock()
	delete(m.backend.streams, m.id)
	m.backend.mu.Unlock()

	return nil
}

// IsActive returns true if the mock stream is active
func (m *MockStream) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isActive
}

// Pump fires the callback n times synchronously, as the driver thread would.
// It returns how many periods ran before the callback asked to abort.
func (m *MockStream) Pump(n int) int {
	for i := 0; i < n; i++ {
		if !m.tick() {
			return i
		}
	}
	return n
}

func (m *MockStream) tick() bool {
	m.mu.Lock()
	if !m.isActive {
		m.mu.Unlock()
		return false
	}
	if m.audioDataGenerator != nil {
		m.audioDataGenerator(m.input)
	} else {
		for i := range m.input {
			// 440 Hz sine wave
			t := m.streamTime + float64(i/max(m.params.InputChannels, 1))/m.params.SampleRate
			m.input[i] = float32(0.1 * math.Sin(2*math.Pi*440*t))
		}
	}
	status := m.status
	streamTime := m.streamTime
	m.mu.Unlock()

	result := m.callback(m.input, m.output, m.params.BlockSize, streamTime, status)

	played := make([]float32, len(m.output))
	copy(played, m.output)
	m.backend.mu.Lock()
	m.backend.playbackAudioData = append(m.backend.playbackAudioData, played)
	m.backend.mu.Unlock()

	m.mu.Lock()
	m.streamTime += float64(m.params.BlockSize) / m.params.SampleRate
	if result == Abort {
		m.isActive = false
	}
	m.mu.Unlock()
	return result != Abort
}

// simulateDriverThread fires the callback at the block period until stopped
func (m *MockStream) simulateDriverThread(stop <-chan struct{}) {
	defer m.done.Done()

	period := time.Duration(float64(m.params.BlockSize) / m.params.SampleRate * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !m.tick() {
				return
			}
		}
	}
}

// Streams returns the backend's currently open mock streams
func (m *MockAudioBackend) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	streams := make([]*MockStream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	return streams
}
