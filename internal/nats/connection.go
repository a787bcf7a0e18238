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
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// BridgeNATSConnection interface for dependency injection
type BridgeNATSConnection interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
	Close()
}

// BridgeNATSConnectionAdapter adapts *nats.Conn to BridgeNATSConnection interface
type BridgeNATSConnectionAdapter struct {
	conn *nats.Conn
}

func NewBridgeNATSConnectionAdapter(conn *nats.Conn) *BridgeNATSConnectionAdapter {
	return &BridgeNATSConnectionAdapter{conn: conn}
}

func (a *BridgeNATSConnectionAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return a.conn.Subscribe(subject, cb)
}

func (a *BridgeNATSConnectionAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

func (a *BridgeNATSConnectionAdapter) Close() {
	if err := a.conn.Flush(); err != nil {
		log.Printf("⚠️  Failed to flush NATS connection: %v", err)
	}
	a.conn.Close()
	log.Println("🔌 NATS connection closed")
}

// Connect dials natsURL, retrying a few times before giving up.
func Connect(natsURL, bridgeID string) (*BridgeNATSConnectionAdapter, error) {
	var nc *nats.Conn
	var err error

	for i := 0; i < connectAttempts; i++ {
		nc, err = nats.Connect(natsURL,
			nats.Name(bridgeID),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, derr error) {
				if derr != nil {
					log.Printf("⚠️  NATS disconnected: %v", derr)
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.Printf("✅ Reconnected to NATS at %s", c.ConnectedUrl())
			}),
		)
		if err == nil {
			break
		}
		log.Printf("⚠️  Failed to connect to NATS (attempt %d/%d): %v", i+1, connectAttempts, err)
		time.Sleep(connectBackoff)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", connectAttempts, err)
	}

	log.Printf("✅ Connected to NATS at %s", natsURL)
	return NewBridgeNATSConnectionAdapter(nc), nil
}

// Subject names used by the bridge.
func AudioSubject(bridgeID string) string  { return "audio." + bridgeID }
func InputSubject(bridgeID string) string  { return "audio." + bridgeID + ".input" }
func StatusSubject(bridgeID string) string { return "bridge.status." + bridgeID }

const BroadcastSubject = "audio.broadcast"
