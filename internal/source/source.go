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

// Package source provides block sources that feed the output ring: a test
// tone and decoded audio files.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-bridge-go/internal/audio"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrUnsupportedBits   = errors.New("unsupported bit depth")
)

// Decoder builds a Source from an open file.
type Decoder interface {
	Decode(r io.ReadSeeker) (audio.Source, error)
}

// Registry maps file extensions to decoders.
type Registry struct {
	mu     sync.Mutex
	codecs map[string]Decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Decoder)}
}

// DefaultRegistry knows WAV, MP3 and Ogg Vorbis.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("wav", WAVDecoder{})
	r.Register("wave", WAVDecoder{})
	r.Register("mp3", MP3Decoder{})
	r.Register("ogg", VorbisDecoder{})
	r.Register("oga", VorbisDecoder{})
	return r
}

func (r *Registry) Register(ext string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[strings.ToLower(strings.TrimPrefix(ext, "."))] = d
}

func (r *Registry) Get(ext string) (Decoder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.codecs[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return d, ok
}

// Open decodes path with the decoder registered for its extension. The
// returned Source owns the file and closes it on Close.
func (r *Registry) Open(path string) (audio.Source, error) {
	ext := filepath.Ext(path)
	dec, ok := r.Get(ext)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	src, err := dec.Decode(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &fileSource{Source: src, file: f}, nil
}

type fileSource struct {
	audio.Source
	file *os.File
}

func (s *fileSource) Close() error {
	err := s.Source.Close()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Loop restarts a seekable source at EOF. Rewind must reposition the
// underlying decoder at its first sample.
type Loop struct {
	audio.Source
	Rewind func() (audio.Source, error)
}

func (l *Loop) ReadSamples(dst []float32) (int, error) {
	n, err := l.Source.ReadSamples(dst)
	if n == 0 && errors.Is(err, io.EOF) {
		_ = l.Source.Close()
		next, rerr := l.Rewind()
		if rerr != nil {
			return 0, rerr
		}
		l.Source = next
		return l.Source.ReadSamples(dst)
	}
	return n, err
}

// OpenLooping opens path and reopens it every time it ends.
func (r *Registry) OpenLooping(path string) (audio.Source, error) {
	src, err := r.Open(path)
	if err != nil {
		return nil, err
	}
	return &Loop{Source: src, Rewind: func() (audio.Source, error) { return r.Open(path) }}, nil
}
