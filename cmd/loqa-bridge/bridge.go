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

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-bridge-go/internal/audio"
	"github.com/loqalabs/loqa-bridge-go/internal/config"
	"github.com/loqalabs/loqa-bridge-go/internal/nats"
	"github.com/loqalabs/loqa-bridge-go/internal/source"
	"github.com/loqalabs/loqa-bridge-go/internal/tap"
)

const toneAmplitude = 0.2

var errNeedsNATS = errors.New("source requires a NATS connection")

// openSource builds the output source named by cfg for the negotiated stream.
// A nil source means the bridge only plays what the hook writes.
func openSource(cfg config.Config, state *audio.State, conn nats.BridgeNATSConnection) (audio.Source, error) {
	rate := int(state.SampleRate())
	switch cfg.Source {
	case "", "none":
		return nil, nil
	case "sine":
		return source.NewTone(rate, 1, cfg.ToneHz, toneAmplitude), nil
	case "nats":
		if conn == nil {
			return nil, errNeedsNATS
		}
		channels := state.OutChannels()
		sub := nats.NewAudioSubscriber(conn, cfg.BridgeID, rate, channels,
			cfg.NATS.StagingBlocks*state.BlockSize()*channels)
		if err := sub.Start(); err != nil {
			return nil, err
		}
		return sub, nil
	}

	registry := source.DefaultRegistry()
	if cfg.Loop {
		return registry.OpenLooping(cfg.Source)
	}
	return registry.Open(cfg.Source)
}

// openTap returns nil when nothing consumes the input.
func openTap(cfg config.Config, state *audio.State, conn nats.BridgeNATSConnection, session uuid.UUID) (*tap.Tap, error) {
	if state.InChannels() == 0 {
		if cfg.Record != "" || cfg.NATS.PublishInput {
			log.Printf("⚠️  Input capture requested but the stream has no input channels")
		}
		return nil, nil
	}

	var sinks []tap.Sink
	if cfg.Record != "" {
		sink, err := tap.NewWAVSink(cfg.Record, int(state.SampleRate()), state.InChannels())
		if err != nil {
			return nil, err
		}
		log.Printf("🎙️  Recording input to %s", cfg.Record)
		sinks = append(sinks, sink)
	}
	if cfg.NATS.PublishInput && conn != nil {
		sinks = append(sinks, nats.NewAudioPublisher(conn, cfg.BridgeID, session.ID()))
		log.Printf("📡 Publishing input on %s", nats.InputSubject(cfg.BridgeID))
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return tap.New(state, cfg.TapBlocks, sinks...)
}

// runBridge starts the stream, keeps it fed and tears everything down when
// ctx ends or a finite source has been played out.
func runBridge(ctx context.Context, cfg config.Config, backend audio.AudioBackend, conn nats.BridgeNATSConnection) error {
	controller := audio.NewStreamController(backend, cfg.ToAudio())
	defer func() {
		if err := controller.Shutdown(); err != nil {
			log.Printf("⚠️  Audio shutdown: %v", err)
		}
	}()

	if err := controller.Start(); err != nil {
		return fmt.Errorf("failed to start audio: %w", err)
	}
	state := controller.State()
	session := uuid.New()

	src, err := openSource(cfg, state, conn)
	if err != nil {
		return fmt.Errorf("failed to open source %q: %w", cfg.Source, err)
	}
	if src != nil {
		defer src.Close()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	var played chan struct{}
	if src != nil {
		feeder, err := audio.NewFeeder(state, src)
		if err != nil {
			return err
		}
		played = make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(played)
			if err := feeder.Run(runCtx); err != nil {
				log.Printf("❌ Feeder stopped: %v", err)
			}
		}()
	}

	inputTap, err := openTap(cfg, state, conn, session)
	if err != nil {
		return err
	}
	if inputTap != nil {
		if err := controller.SetHook(inputTap.Hook()); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := inputTap.Run(runCtx); err != nil {
				log.Printf("⚠️  Input tap: %v", err)
			}
		}()
	}

	if cfg.NATS.PublishStatus && conn != nil {
		status := nats.NewStatusPublisher(conn, cfg.BridgeID, session, controller)
		wg.Add(1)
		go func() {
			defer wg.Done()
			status.Run(runCtx, cfg.NATS.StatusInterval)
		}()
	}

	log.Printf("🔊 Bridge running, session %s", session)

	select {
	case <-ctx.Done():
		log.Println("🛑 Shutting down bridge...")
	case <-played:
		waitPlayedOut(ctx, state)
		log.Println("🏁 Playback finished")
	}

	if err := controller.Stop(); err != nil {
		log.Printf("⚠️  %v", err)
	}
	cancel()
	wg.Wait()
	return nil
}

// waitPlayedOut blocks until the ring holds no unplayed blocks.
func waitPlayedOut(ctx context.Context, state *audio.State) {
	period := time.Duration(float64(state.BlockSize()) / state.SampleRate() * float64(time.Second))
	ticker := time.NewTicker(max(period, time.Millisecond))
	defer ticker.Stop()
	for state.Ring().Lookahead() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
