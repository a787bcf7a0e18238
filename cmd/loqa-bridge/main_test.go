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
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-bridge-go/internal/audio"
	"github.com/loqalabs/loqa-bridge-go/internal/config"
	"github.com/loqalabs/loqa-bridge-go/internal/source"
)

func quietLog(t *testing.T) {
	t.Helper()
	log.SetOutput(io.Discard)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
}

func noEnv(string) (string, bool) { return "", false }

func smallStreamConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Audio.SampleRate = 8000
	cfg.Audio.BlockSize = 80
	return cfg
}

func writeWAV(t *testing.T, path string, rate int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func TestParseFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		opts, err := parseFlags(nil, io.Discard)
		require.NoError(t, err)
		assert.Empty(t, opts.configPath)
		assert.False(t, opts.list)
		assert.Empty(t, opts.set, "no flag was passed")
	})

	t.Run("explicit", func(t *testing.T) {
		opts, err := parseFlags([]string{"-config", "b.yaml", "-source", "nats", "-id", "kitchen", "-loop", "-list"}, io.Discard)
		require.NoError(t, err)
		assert.Equal(t, "b.yaml", opts.configPath)
		assert.True(t, opts.list)
		assert.Equal(t, map[string]string{"config": "b.yaml", "source": "nats", "id": "kitchen", "loop": "true", "list": "true"}, opts.set)
	})

	t.Run("help", func(t *testing.T) {
		var out bytes.Buffer
		_, err := parseFlags([]string{"-h"}, &out)
		assert.True(t, errors.Is(err, flag.ErrHelp))
		for _, name := range []string{"-config", "-source", "-record", "-nats", "-id", "-list", "-loop"} {
			assert.Contains(t, out.String(), name, "should document flag %s", name)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := parseFlags([]string{"-hub", "x"}, io.Discard)
		assert.Error(t, err)
	})
}

func TestBuildConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bridge_id: from-file\nsource: none\nnats:\n  url: nats://file:4222\n"), 0o644))

	env := func(key string) (string, bool) {
		if key == "LOQA_BRIDGE_ID" {
			return "from-env", true
		}
		return "", false
	}

	opts, err := parseFlags([]string{"-config", path, "-nats", "nats://flag:4222"}, io.Discard)
	require.NoError(t, err)

	cfg, err := buildConfig(opts, env)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.BridgeID, "environment beats file")
	assert.Equal(t, "nats://flag:4222", cfg.NATS.URL, "flags beat file")
	assert.Equal(t, "none", cfg.Source, "unset flags keep file values")
}

func TestBuildConfigInvalid(t *testing.T) {
	opts, err := parseFlags([]string{"-id", "bad.id"}, io.Discard)
	require.NoError(t, err)
	_, err = buildConfig(opts, noEnv)
	assert.Error(t, err)
}

func TestFormatDevice(t *testing.T) {
	info := audio.DeviceInfo{Index: 3, Name: "USB Interface", InputChannels: 2, OutputChannels: 4, DefaultSampleRate: 48000}
	assert.Equal(t, "  3: USB Interface (in 2, out 4, 48000 Hz) [default output]", formatDevice(info, false, true))
}

func TestListDevices(t *testing.T) {
	backend := audio.NewMockAudioBackend()
	require.NoError(t, listDevices(backend))
	assert.False(t, backend.IsInitialized(), "backend is terminated afterwards")

	backend.SetInitError(errors.New("no driver"))
	assert.Error(t, listDevices(backend))
}

func TestOpenSource(t *testing.T) {
	state, err := audio.NewState(smallStreamConfig().ToAudio())
	require.NoError(t, err)

	t.Run("none", func(t *testing.T) {
		cfg := smallStreamConfig()
		cfg.Source = "none"
		src, err := openSource(cfg, state, nil)
		require.NoError(t, err)
		assert.Nil(t, src)
	})

	t.Run("sine", func(t *testing.T) {
		src, err := openSource(smallStreamConfig(), state, nil)
		require.NoError(t, err)
		assert.IsType(t, &source.Tone{}, src)
		assert.Equal(t, 8000, src.SampleRate())
	})

	t.Run("nats_without_connection", func(t *testing.T) {
		cfg := smallStreamConfig()
		cfg.Source = "nats"
		_, err := openSource(cfg, state, nil)
		assert.ErrorIs(t, err, errNeedsNATS)
	})

	t.Run("unknown_extension", func(t *testing.T) {
		cfg := smallStreamConfig()
		cfg.Source = "song.flac"
		_, err := openSource(cfg, state, nil)
		assert.ErrorIs(t, err, source.ErrUnsupportedFormat)
	})
}

func TestOpenTapWithoutSinks(t *testing.T) {
	state, err := audio.NewState(smallStreamConfig().ToAudio())
	require.NoError(t, err)

	tp, err := openTap(smallStreamConfig(), state, nil, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, tp)
}

func TestRunBridgeTone(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping real-time simulation in short mode")
	}
	quietLog(t)
	backend := audio.NewMockAudioBackend()
	backend.SetSimulateRealTiming(true)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, runBridge(ctx, smallStreamConfig(), backend, nil))

	var peak float32
	for _, block := range backend.GetPlaybackAudioData() {
		for _, v := range block {
			peak = max(peak, v)
		}
	}
	assert.InDelta(t, toneAmplitude, peak, 0.01, "the tone reached the output")
	assert.False(t, backend.IsInitialized(), "backend terminated on exit")
}

func TestRunBridgeFilePlaysOutAndRecords(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping real-time simulation in short mode")
	}
	quietLog(t)
	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.wav")
	data := make([]int, 400)
	for i := range data {
		data[i] = 16384
	}
	writeWAV(t, clip, 8000, data)

	cfg := smallStreamConfig()
	cfg.Source = clip
	cfg.Record = filepath.Join(dir, "input.wav")

	backend := audio.NewMockAudioBackend()
	backend.SetSimulateRealTiming(true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, runBridge(ctx, cfg, backend, nil))
	assert.Less(t, time.Since(start), 4*time.Second, "a finite source ends the run")

	var halves int
	for _, block := range backend.GetPlaybackAudioData() {
		for _, v := range block {
			if v == 0.5 {
				halves++
			}
		}
	}
	// the first block can race the callback's underrun recovery
	assert.LessOrEqual(t, halves, 800)
	assert.GreaterOrEqual(t, halves, 640, "the clip reached both outputs")

	f, err := os.Open(cfg.Record)
	require.NoError(t, err)
	defer f.Close()
	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 2, buf.Format.NumChannels)
	assert.NotEmpty(t, buf.Data)
}

func TestRunBridgeStartFailure(t *testing.T) {
	quietLog(t)
	backend := audio.NewMockAudioBackend()
	backend.SetDevices(nil, -1, -1)

	err := runBridge(context.Background(), smallStreamConfig(), backend, nil)
	assert.ErrorIs(t, err, audio.ErrNoDevices)
}
