// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package memstore is an in-memory objectstore.Store used by this module's
own tests in place of a real flash/SD backend. It deliberately does not
implement objectstore.SpaceReporter, so tests also exercise the
skip-the-check path callers take against a backend with no free-space
reporting.
*/
package memstore

import (
	"bytes"
	"fmt"
	"io"

	"github.com/viettran-edgeAI/mcu-forest/objectstore"
)

type file struct {
	store *Store
	path  string
	buf   *bytes.Buffer
	pos   int64
}

func (f *file) Read(p []byte) (int, error) {
	data := f.buf.Bytes()
	if f.pos >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *file) Write(p []byte) (int, error) {
	data := f.buf.Bytes()
	end := f.pos + int64(len(p))
	if end > int64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[f.pos:end], p)
	f.buf = bytes.NewBuffer(data)
	f.pos = end
	f.store.files[f.path] = append([]byte(nil), data...)
	return len(p), nil
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.pos = offset
	case io.SeekCurrent:
		f.pos += offset
	case io.SeekEnd:
		f.pos = int64(f.buf.Len()) + offset
	default:
		return 0, fmt.Errorf("memstore: bad whence %d", whence)
	}
	return f.pos, nil
}

func (f *file) Close() error {
	f.store.files[f.path] = append([]byte(nil), f.buf.Bytes()...)
	return nil
}

// Store is an in-memory objectstore.Store.
type Store struct {
	files map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{files: make(map[string][]byte)}
}

// Open opens an existing path for read/write.
func (s *Store) Open(path string) (objectstore.File, error) {
	data, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("memstore: %s: not found", path)
	}
	return &file{store: s, path: path, buf: bytes.NewBuffer(append([]byte(nil), data...))}, nil
}

// Create truncates (or creates) path for writing.
func (s *Store) Create(path string) (objectstore.File, error) {
	s.files[path] = nil
	return &file{store: s, path: path, buf: bytes.NewBuffer(nil)}, nil
}

// Rename moves content from oldPath to newPath.
func (s *Store) Rename(oldPath, newPath string) error {
	data, ok := s.files[oldPath]
	if !ok {
		return fmt.Errorf("memstore: rename: %s: not found", oldPath)
	}
	s.files[newPath] = data
	delete(s.files, oldPath)
	return nil
}

// Remove deletes path.
func (s *Store) Remove(path string) error {
	delete(s.files, path)
	return nil
}

// Exists reports whether path has content.
func (s *Store) Exists(path string) bool {
	_, ok := s.files[path]
	return ok
}

// Size returns the byte length of path.
func (s *Store) Size(path string) (int64, error) {
	data, ok := s.files[path]
	if !ok {
		return 0, fmt.Errorf("memstore: %s: not found", path)
	}
	return int64(len(data)), nil
}
