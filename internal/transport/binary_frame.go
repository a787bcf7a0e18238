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

package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Binary frame protocol for PCM blocks exchanged over NATS.
// Header is big-endian; PCM payloads are interleaved little-endian float32.

// FrameType represents the type of frame being transmitted
type FrameType uint8

const (
	// Audio frame types
	FrameTypeAudioData FrameType = 0x01
	FrameTypeAudioEnd  FrameType = 0x02

	// Control frame types
	FrameTypeHeartbeat FrameType = 0x10
	FrameTypeError     FrameType = 0x12

	// Status frame types
	FrameTypeStatus FrameType = 0x21
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeAudioData:
		return "audio_data"
	case FrameTypeAudioEnd:
		return "audio_end"
	case FrameTypeHeartbeat:
		return "heartbeat"
	case FrameTypeError:
		return "error"
	case FrameTypeStatus:
		return "status"
	default:
		return fmt.Sprintf("frame_type(0x%02X)", uint8(t))
	}
}

// Frame represents a binary frame in the protocol
type Frame struct {
	Type      FrameType
	SessionID uint32
	Sequence  uint32
	Timestamp uint64
	Data      []byte
}

// FrameHeader represents the fixed-size frame header (24 bytes)
type FrameHeader struct {
	Magic     uint32    // 0x4C514142 ("LQAB")
	Type      FrameType // Frame type (1 byte)
	Reserved  uint8     // Reserved for future use (1 byte)
	Length    uint16    // Data payload length (2 bytes)
	SessionID uint32    // Session identifier (4 bytes)
	Sequence  uint32    // Sequence number (4 bytes)
	Timestamp uint64    // Stream clock in microseconds (8 bytes)
}

const (
	// Magic number for frame validation
	FrameMagic = 0x4C514142 // "LQAB" in big-endian

	HeaderSize   = 24
	MaxDataSize  = math.MaxUint16
	MaxFrameSize = HeaderSize + MaxDataSize

	// SampleSize is the wire size of one float32 sample
	SampleSize = 4
)

var ErrInvalidPayload = errors.New("payload is not a whole number of samples")

// Serialize converts a frame to binary format
func (f *Frame) Serialize() ([]byte, error) {
	if len(f.Data) > MaxDataSize {
		return nil, fmt.Errorf("frame data too large: %d bytes (max %d)", len(f.Data), MaxDataSize)
	}

	header := FrameHeader{
		Magic:     FrameMagic,
		Type:      f.Type,
		Reserved:  0,
		Length:    uint16(len(f.Data)), //nolint:gosec // G115: bounded by MaxDataSize above
		SessionID: f.SessionID,
		Sequence:  f.Sequence,
		Timestamp: f.Timestamp,
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(f.Data)))

	if err := binary.Write(buf, binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write frame header: %w", err)
	}

	if len(f.Data) > 0 {
		if _, err := buf.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write frame data: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// DeserializeFrame converts binary data to a frame
func DeserializeFrame(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("frame too small: %d bytes (min %d)", len(data), HeaderSize)
	}

	header, err := parseFrameHeader(data[:HeaderSize])
	if err != nil {
		return nil, err
	}

	expectedSize := HeaderSize + int(header.Length)
	if len(data) != expectedSize {
		return nil, fmt.Errorf("frame size mismatch: got %d bytes, expected %d", len(data), expectedSize)
	}

	frame := &Frame{
		Type:      header.Type,
		SessionID: header.SessionID,
		Sequence:  header.Sequence,
		Timestamp: header.Timestamp,
	}

	if header.Length > 0 {
		frame.Data = make([]byte, header.Length)
		copy(frame.Data, data[HeaderSize:])
	}

	return frame, nil
}

// ReadFrame reads one frame from r, header first, then payload.
func ReadFrame(r io.Reader) (*Frame, error) {
	headerData := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerData); err != nil {
		return nil, err
	}

	header, err := parseFrameHeader(headerData)
	if err != nil {
		return nil, err
	}

	frame := &Frame{
		Type:      header.Type,
		SessionID: header.SessionID,
		Sequence:  header.Sequence,
		Timestamp: header.Timestamp,
	}
	if header.Length > 0 {
		frame.Data = make([]byte, header.Length)
		if _, err := io.ReadFull(r, frame.Data); err != nil {
			return nil, fmt.Errorf("failed to read frame data: %w", err)
		}
	}
	return frame, nil
}

// parseFrameHeader parses just the header portion of frame data
func parseFrameHeader(headerData []byte) (*FrameHeader, error) {
	if len(headerData) != HeaderSize {
		return nil, fmt.Errorf("invalid header size: %d bytes (expected %d)", len(headerData), HeaderSize)
	}

	var header FrameHeader
	if err := binary.Read(bytes.NewReader(headerData), binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	if header.Magic != FrameMagic {
		return nil, fmt.Errorf("invalid frame magic: 0x%08X (expected 0x%08X)", header.Magic, FrameMagic)
	}

	return &header, nil
}

// NewFrame creates a new frame with the specified parameters
func NewFrame(frameType FrameType, sessionID, sequence uint32, timestamp uint64, data []byte) *Frame {
	return &Frame{
		Type:      frameType,
		SessionID: sessionID,
		Sequence:  sequence,
		Timestamp: timestamp,
		Data:      data,
	}
}

// NewBlockFrame packs one block of interleaved samples taken at clock seconds.
func NewBlockFrame(sessionID, sequence uint32, clock float64, samples []float32) *Frame {
	return NewFrame(FrameTypeAudioData, sessionID, sequence, ClockToMicros(clock), EncodeSamples(samples))
}

// IsValid checks if the frame is structurally valid
func (f *Frame) IsValid() bool {
	return len(f.Data) <= MaxDataSize
}

// Size returns the total serialized size of the frame
func (f *Frame) Size() int {
	return HeaderSize + len(f.Data)
}

// Samples decodes the payload of an audio frame.
func (f *Frame) Samples() ([]float32, error) {
	return DecodeSamples(f.Data)
}

// EncodeSamples packs samples as little-endian float32.
func EncodeSamples(samples []float32) []byte {
	out := make([]byte, len(samples)*SampleSize)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(out[i*SampleSize:], math.Float32bits(v))
	}
	return out
}

// DecodeSamples unpacks little-endian float32 samples.
func DecodeSamples(data []byte) ([]float32, error) {
	if len(data)%SampleSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPayload, len(data))
	}
	out := make([]float32, len(data)/SampleSize)
	DecodeSamplesInto(out, data)
	return out, nil
}

// DecodeSamplesInto unpacks as many whole samples as fit into dst and returns the count.
func DecodeSamplesInto(dst []float32, data []byte) int {
	n := min(len(dst), len(data)/SampleSize)
	for i := 0; i < n; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*SampleSize:]))
	}
	return n
}

// MaxSamplesPerFrame is how many float32 samples fit in one frame.
const MaxSamplesPerFrame = MaxDataSize / SampleSize

// ClockToMicros converts stream seconds to the header timestamp.
func ClockToMicros(clock float64) uint64 {
	if clock <= 0 {
		return 0
	}
	return uint64(math.Round(clock * 1e6))
}

// MicrosToClock converts a header timestamp back to stream seconds.
func MicrosToClock(us uint64) float64 {
	return float64(us) / 1e6
}
