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

// Package config loads bridge settings from defaults, an optional YAML file
// and LOQA_BRIDGE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loqalabs/loqa-bridge-go/internal/audio"
)

const envPrefix = "LOQA_BRIDGE_"

// AudioConfig mirrors audio.Config for the file format.
type AudioConfig struct {
	SampleRate    float64 `yaml:"sample_rate"`
	BlockSize     int     `yaml:"block_size"`
	InChannels    int     `yaml:"in_channels"`
	OutChannels   int     `yaml:"out_channels"`
	InDevice      int     `yaml:"in_device"`
	OutDevice     int     `yaml:"out_device"`
	ClearConsumed bool    `yaml:"clear_consumed"`
}

type NATSConfig struct {
	URL            string        `yaml:"url"`
	PublishStatus  bool          `yaml:"publish_status"`
	StatusInterval time.Duration `yaml:"status_interval"`
	// PublishInput sends captured input blocks on audio.<bridge_id>.input.
	PublishInput bool `yaml:"publish_input"`
	// StagingBlocks is the network jitter buffer depth in blocks.
	StagingBlocks int `yaml:"staging_blocks"`
}

type Config struct {
	BridgeID string      `yaml:"bridge_id"`
	Audio    AudioConfig `yaml:"audio"`
	NATS     NATSConfig  `yaml:"nats"`
	// Source is "sine", "nats", "none" or a file path.
	Source    string  `yaml:"source"`
	Loop      bool    `yaml:"loop"`
	ToneHz    float64 `yaml:"tone_hz"`
	Record    string  `yaml:"record"`
	TapBlocks int     `yaml:"tap_blocks"`
}

func DefaultConfig() Config {
	return Config{
		BridgeID: "loqa-bridge-001",
		Audio: AudioConfig{
			SampleRate:  audio.DefaultSampleRate,
			BlockSize:   audio.DefaultBlockSize,
			InChannels:  audio.DefaultInChannels,
			OutChannels: audio.DefaultOutChannels,
			InDevice:    audio.DefaultDevice,
			OutDevice:   audio.DefaultDevice,
		},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			StatusInterval: 5 * time.Second,
			StagingBlocks:  64,
		},
		Source:    "sine",
		ToneHz:    440,
		TapBlocks: 32,
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from LOQA_BRIDGE_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	setInt := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(name string, dst *float64) {
		if v, ok := get(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	setBool := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	setString := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	setString("ID", &c.BridgeID)
	setString("NATS_URL", &c.NATS.URL)
	setString("SOURCE", &c.Source)
	setString("RECORD", &c.Record)
	setFloat("SAMPLE_RATE", &c.Audio.SampleRate)
	setInt("BLOCK_SIZE", &c.Audio.BlockSize)
	setInt("IN_CHANNELS", &c.Audio.InChannels)
	setInt("OUT_CHANNELS", &c.Audio.OutChannels)
	setInt("IN_DEVICE", &c.Audio.InDevice)
	setInt("OUT_DEVICE", &c.Audio.OutDevice)
	setBool("CLEAR_CONSUMED", &c.Audio.ClearConsumed)
	setBool("LOOP", &c.Loop)
	setBool("PUBLISH_INPUT", &c.NATS.PublishInput)
	setBool("PUBLISH_STATUS", &c.NATS.PublishStatus)

	if v, ok := get("STATUS_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSTATUS_INTERVAL: %w", envPrefix, err))
		} else {
			c.NATS.StatusInterval = d
		}
	}
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	if c.BridgeID == "" {
		return errors.New("bridge_id must not be empty")
	}
	if strings.ContainsAny(c.BridgeID, " .*>") {
		return fmt.Errorf("bridge_id %q is not a valid NATS subject token", c.BridgeID)
	}
	if c.NATS.StagingBlocks <= 0 {
		return fmt.Errorf("nats.staging_blocks must be positive, got %d", c.NATS.StagingBlocks)
	}
	if c.TapBlocks < 0 {
		return fmt.Errorf("tap_blocks must not be negative, got %d", c.TapBlocks)
	}
	if c.ToneHz <= 0 {
		return fmt.Errorf("tone_hz must be positive, got %v", c.ToneHz)
	}
	return c.ToAudio().Validate()
}

// ToAudio converts the file section to the stream configuration.
func (c Config) ToAudio() audio.Config {
	return audio.Config{
		SampleRate:    c.Audio.SampleRate,
		BlockSize:     c.Audio.BlockSize,
		InChannels:    c.Audio.InChannels,
		OutChannels:   c.Audio.OutChannels,
		InDevice:      c.Audio.InDevice,
		OutDevice:     c.Audio.OutDevice,
		ClearConsumed: c.Audio.ClearConsumed,
	}
}

// NeedsNATS reports whether any configured component talks to NATS.
func (c Config) NeedsNATS() bool {
	return c.Source == "nats" || c.NATS.PublishInput || c.NATS.PublishStatus
}
