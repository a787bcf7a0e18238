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

package nats

import (
	"fmt"

	"github.com/loqalabs/loqa-bridge-go/internal/transport"
)

// AudioPublisher sends captured input blocks as binary frames. It is a sink
// for the input tap.
type AudioPublisher struct {
	natsConn  BridgeNATSConnection
	subject   string
	sessionID uint32
	sequence  uint32
	lastClock float64
}

func NewAudioPublisher(natsConn BridgeNATSConnection, bridgeID string, sessionID uint32) *AudioPublisher {
	return &AudioPublisher{
		natsConn:  natsConn,
		subject:   InputSubject(bridgeID),
		sessionID: sessionID,
	}
}

// WriteBlock publishes samples, split across frames when a block exceeds the
// frame payload limit.
func (p *AudioPublisher) WriteBlock(clock float64, samples []float32) error {
	for len(samples) > 0 {
		n := min(len(samples), transport.MaxSamplesPerFrame)
		if err := p.publish(transport.NewBlockFrame(p.sessionID, p.sequence, clock, samples[:n])); err != nil {
			return err
		}
		samples = samples[n:]
	}
	p.lastClock = clock
	return nil
}

// Close announces the end of the stream. The connection is left open.
func (p *AudioPublisher) Close() error {
	end := transport.NewFrame(transport.FrameTypeAudioEnd, p.sessionID, p.sequence, transport.ClockToMicros(p.lastClock), nil)
	return p.publish(end)
}

func (p *AudioPublisher) publish(frame *transport.Frame) error {
	data, err := frame.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize frame %d: %w", frame.Sequence, err)
	}
	if err := p.natsConn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.subject, err)
	}
	p.sequence++
	return nil
}
