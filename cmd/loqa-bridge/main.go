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
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-bridge-go/internal/audio"
	"github.com/loqalabs/loqa-bridge-go/internal/config"
	"github.com/loqalabs/loqa-bridge-go/internal/nats"
)

type options struct {
	configPath string
	list       bool
	// only flags the user actually passed override the config
	set map[string]string
}

func parseFlags(args []string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("loqa-bridge", flag.ContinueOnError)
	fs.SetOutput(output)

	opts := options{set: make(map[string]string)}
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.BoolVar(&opts.list, "list", false, "List audio devices and exit")
	fs.String("source", "sine", "Output source: sine, nats, none or an audio file (wav, mp3, ogg)")
	fs.String("record", "", "Record the input stream to this WAV file")
	fs.String("nats", "nats://localhost:4222", "NATS server URL")
	fs.String("id", "loqa-bridge-001", "Bridge identifier")
	fs.Bool("loop", false, "Restart file sources when they end")
	fs.Bool("status", false, "Publish stream status on NATS")
	fs.Bool("publish-input", false, "Publish captured input on NATS")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	fs.Visit(func(f *flag.Flag) {
		opts.set[f.Name] = f.Value.String()
	})
	return opts, nil
}

// buildConfig layers defaults, file, environment and explicit flags.
func buildConfig(opts options, lookup func(string) (string, bool)) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}

	for name, value := range opts.set {
		switch name {
		case "source":
			cfg.Source = value
		case "record":
			cfg.Record = value
		case "nats":
			cfg.NATS.URL = value
		case "id":
			cfg.BridgeID = value
		case "loop":
			cfg.Loop = value == "true"
		case "status":
			cfg.NATS.PublishStatus = value == "true"
		case "publish-input":
			cfg.NATS.PublishInput = value == "true"
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func listDevices(backend audio.AudioBackend) error {
	if err := backend.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize audio: %w", err)
	}
	defer backend.Terminate()

	count, err := backend.DeviceCount()
	if err != nil {
		return err
	}
	if count == 0 {
		fmt.Println("No audio devices found")
		return nil
	}
	in, _ := backend.DefaultInputDevice()
	out, _ := backend.DefaultOutputDevice()
	for i := 0; i < count; i++ {
		info, err := backend.DeviceInfo(i)
		if err != nil {
			return err
		}
		fmt.Println(formatDevice(info, i == in, i == out))
	}
	return nil
}

func formatDevice(info audio.DeviceInfo, defaultIn, defaultOut bool) string {
	marks := ""
	if defaultIn {
		marks += " [default input]"
	}
	if defaultOut {
		marks += " [default output]"
	}
	return fmt.Sprintf("%3d: %s (in %d, out %d, %.0f Hz)%s",
		info.Index, info.Name, info.InputChannels, info.OutputChannels, info.DefaultSampleRate, marks)
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	backend := audio.NewPortAudioBackend()
	if opts.list {
		if err := listDevices(backend); err != nil {
			log.Fatalf("❌ %v", err)
		}
		return
	}

	cfg, err := buildConfig(opts, os.LookupEnv)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	log.Printf("🚀 Starting Loqa Bridge")
	log.Printf("📋 Bridge ID: %s", cfg.BridgeID)
	log.Printf("🎵 Source: %s", cfg.Source)
	log.Printf("🎛️  Stream: %.0f Hz, %d frames, %d in / %d out",
		cfg.Audio.SampleRate, cfg.Audio.BlockSize, cfg.Audio.InChannels, cfg.Audio.OutChannels)

	var conn nats.BridgeNATSConnection
	if cfg.NeedsNATS() {
		log.Printf("🎯 NATS: %s", cfg.NATS.URL)
		adapter, err := nats.Connect(cfg.NATS.URL, cfg.BridgeID)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		conn = adapter
		defer conn.Close()
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runBridge(ctx, cfg, backend, conn); err != nil {
		log.Printf("❌ %v", err)
		stop()
		if conn != nil {
			conn.Close()
		}
		os.Exit(1)
	}
	log.Println("👋 Bridge stopped")
}
