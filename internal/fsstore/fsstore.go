// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package fsstore is a plain-filesystem objectstore.Store rooted at one
directory, used by cmd/forestctl for off-target smoke testing in place
of the flash/SD-backed Store a real deployment supplies.
*/
package fsstore

import (
	"os"
	"path/filepath"

	"github.com/viettran-edgeAI/mcu-forest/objectstore"
)

// Store roots every path passed to it under dir.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating it if it does not exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) resolve(path string) string {
	return filepath.Join(s.dir, filepath.FromSlash(path))
}

// Open opens an existing path for read/write.
func (s *Store) Open(path string) (objectstore.File, error) {
	return os.OpenFile(s.resolve(path), os.O_RDWR, 0o644)
}

// Create truncates (or creates) path for writing.
func (s *Store) Create(path string) (objectstore.File, error) {
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(full, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

// Rename moves oldPath to newPath.
func (s *Store) Rename(oldPath, newPath string) error {
	return os.Rename(s.resolve(oldPath), s.resolve(newPath))
}

// Remove deletes path.
func (s *Store) Remove(path string) error {
	return os.Remove(s.resolve(path))
}

// Exists reports whether path is present on disk.
func (s *Store) Exists(path string) bool {
	_, err := os.Stat(s.resolve(path))
	return err == nil
}

// Size returns the byte length of path.
func (s *Store) Size(path string) (int64, error) {
	info, err := os.Stat(s.resolve(path))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
