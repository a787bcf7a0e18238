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
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-bridge-go/internal/audio"
)

// DefaultStatusInterval is how often status is published when no interval is configured.
const DefaultStatusInterval = 5 * time.Second

// StreamStatus is the JSON body published on the status subject.
type StreamStatus struct {
	SessionID  string      `json:"session_id"`
	BridgeID   string      `json:"bridge_id"`
	Phase      string      `json:"phase"`
	SampleRate float64     `json:"sample_rate"`
	BlockSize  int         `json:"block_size"`
	Channels   [2]int      `json:"channels"`
	Stats      audio.Stats `json:"stats"`
	Timestamp  time.Time   `json:"timestamp"`
}

// StreamReporter is what the status publisher reads. *audio.StreamController satisfies it.
type StreamReporter interface {
	Phase() audio.Phase
	State() *audio.State
}

// StatusPublisher periodically reports stream health.
type StatusPublisher struct {
	natsConn  BridgeNATSConnection
	bridgeID  string
	sessionID uuid.UUID
	stream    StreamReporter
	now       func() time.Time
}

func NewStatusPublisher(natsConn BridgeNATSConnection, bridgeID string, sessionID uuid.UUID, stream StreamReporter) *StatusPublisher {
	return &StatusPublisher{
		natsConn:  natsConn,
		bridgeID:  bridgeID,
		sessionID: sessionID,
		stream:    stream,
		now:       time.Now,
	}
}

// Snapshot builds the current status without publishing it.
func (sp *StatusPublisher) Snapshot() StreamStatus {
	state := sp.stream.State()
	return StreamStatus{
		SessionID:  sp.sessionID.String(),
		BridgeID:   sp.bridgeID,
		Phase:      sp.stream.Phase().String(),
		SampleRate: state.SampleRate(),
		BlockSize:  state.BlockSize(),
		Channels:   [2]int{state.InChannels(), state.OutChannels()},
		Stats:      state.Stats(),
		Timestamp:  sp.now().UTC(),
	}
}

// Publish sends one status message.
func (sp *StatusPublisher) Publish() error {
	data, err := json.Marshal(sp.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	subject := StatusSubject(sp.bridgeID)
	if err := sp.natsConn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Run publishes every interval until ctx is done, and once more on the way out.
func (sp *StatusPublisher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := sp.Publish(); err != nil {
				log.Printf("⚠️  Final status publish failed: %v", err)
			}
			return
		case <-ticker.C:
			if err := sp.Publish(); err != nil {
				log.Printf("⚠️  Status publish failed: %v", err)
			}
		}
	}
}
