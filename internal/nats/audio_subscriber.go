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
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/smallnest/ringbuffer"

	"github.com/loqalabs/loqa-bridge-go/internal/transport"
)

// AudioSubscriber is a network block source: it receives PCM frames on the
// bridge's audio subjects and stages them for the Feeder.
type AudioSubscriber struct {
	natsConn   BridgeNATSConnection
	bridgeID   string
	sampleRate int
	channels   int

	mu      sync.Mutex // serialises writers across subscriptions
	staging *ringbuffer.RingBuffer
	scratch []byte
	subs    []*nats.Subscription

	received atomic.Uint64
	dropped  atomic.Uint64
	closed   atomic.Bool
}

// NewAudioSubscriber stages up to capacity samples of sampleRate/channels PCM.
func NewAudioSubscriber(natsConn BridgeNATSConnection, bridgeID string, sampleRate, channels, capacity int) *AudioSubscriber {
	return &AudioSubscriber{
		natsConn:   natsConn,
		bridgeID:   bridgeID,
		sampleRate: sampleRate,
		channels:   channels,
		staging:    ringbuffer.New(capacity * transport.SampleSize),
	}
}

// Start begins listening for audio frames
func (as *AudioSubscriber) Start() error {
	bridgeTopic := AudioSubject(as.bridgeID)
	sub, err := as.natsConn.Subscribe(bridgeTopic, as.handleAudioMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", bridgeTopic, err)
	}
	as.subs = append(as.subs, sub)

	sub, err = as.natsConn.Subscribe(BroadcastSubject, as.handleAudioMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", BroadcastSubject, err)
	}
	as.subs = append(as.subs, sub)

	log.Printf("🎧 Subscribed to audio topics: %s, %s", bridgeTopic, BroadcastSubject)
	return nil
}

// handleAudioMessage stages the PCM payload of one frame, or drops the whole
// frame if it does not fit.
func (as *AudioSubscriber) handleAudioMessage(msg *nats.Msg) {
	frame, err := transport.DeserializeFrame(msg.Data)
	if err != nil {
		log.Printf("❌ Failed to decode audio frame on %s: %v", msg.Subject, err)
		return
	}

	switch frame.Type {
	case transport.FrameTypeAudioData:
	case transport.FrameTypeAudioEnd:
		log.Printf("🏁 Audio stream %08x ended after frame %d", frame.SessionID, frame.Sequence)
		return
	default:
		log.Printf("⚠️  Ignoring %s frame on %s", frame.Type, msg.Subject)
		return
	}

	if len(frame.Data)%(transport.SampleSize*as.channels) != 0 {
		log.Printf("❌ Audio frame %d is not whole %d-channel frames (%d bytes)", frame.Sequence, as.channels, len(frame.Data))
		return
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	if as.staging.Free() < len(frame.Data) {
		as.dropped.Add(1)
		log.Printf("⚠️  Audio staging buffer full, dropping frame %d", frame.Sequence)
		return
	}
	if _, err := as.staging.Write(frame.Data); err != nil {
		as.dropped.Add(1)
		log.Printf("⚠️  Failed to stage audio frame %d: %v", frame.Sequence, err)
		return
	}
	as.received.Add(1)
}

func (as *AudioSubscriber) SampleRate() int { return as.sampleRate }
func (as *AudioSubscriber) Channels() int   { return as.channels }

// ReadSamples fills dst only when a whole request is staged; otherwise it
// reports nothing available so the gap is not padded mid-stream.
func (as *AudioSubscriber) ReadSamples(dst []float32) (int, error) {
	if as.closed.Load() {
		return 0, io.EOF
	}
	want := len(dst) - len(dst)%as.channels
	need := want * transport.SampleSize
	if need == 0 || as.staging.Length() < need {
		return 0, nil
	}

	if cap(as.scratch) < need {
		as.scratch = make([]byte, need)
	}
	as.scratch = as.scratch[:need]

	n, err := io.ReadFull(as.staging, as.scratch)
	if err != nil {
		return 0, fmt.Errorf("failed to read staged audio: %w", err)
	}
	return transport.DecodeSamplesInto(dst, as.scratch[:n]), nil
}

// Buffered is the number of samples waiting to be played.
func (as *AudioSubscriber) Buffered() int {
	return as.staging.Length() / transport.SampleSize
}

// Received counts staged frames.
func (as *AudioSubscriber) Received() uint64 { return as.received.Load() }

// Dropped counts frames discarded because the staging buffer was full.
func (as *AudioSubscriber) Dropped() uint64 { return as.dropped.Load() }

// Close unsubscribes. The connection itself belongs to the caller.
func (as *AudioSubscriber) Close() error {
	if as.closed.Swap(true) {
		return nil
	}
	for _, sub := range as.subs {
		_ = sub.Unsubscribe()
	}
	log.Printf("🎧 Audio subscriber closed: %d frames received, %d dropped", as.Received(), as.Dropped())
	return nil
}
