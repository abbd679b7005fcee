//
// Copyright 2024 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package epochstore is the host-side persistence the CLI shell uses to
// back sign.EpochStore: a flat JSON file of name -> max-epoch-seen,
// read through an afero.Fs so tests never touch the real filesystem.
package epochstore

import (
	"encoding/json"
	"sync"

	"github.com/spf13/afero"

	"github.com/nestybox/kpkg/kpkgerr"
)

// FileStore is a sign.EpochStore backed by a single JSON file.
type FileStore struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewFileStore opens (without requiring it to exist yet) a JSON epoch
// record at path.
func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

func (s *FileStore) load() (map[string]uint64, error) {
	exists, err := afero.Exists(s.fs, s.path)
	if err != nil {
		return nil, kpkgerr.IO("failed to stat epoch store", err)
	}
	if !exists {
		return map[string]uint64{}, nil
	}
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, kpkgerr.IO("failed to read epoch store", err)
	}
	if len(data) == 0 {
		return map[string]uint64{}, nil
	}
	var m map[string]uint64
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, kpkgerr.IO("failed to parse epoch store", err)
	}
	return m, nil
}

func (s *FileStore) save(m map[string]uint64) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return kpkgerr.IO("failed to marshal epoch store", err)
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0600); err != nil {
		return kpkgerr.IO("failed to write epoch store", err)
	}
	return nil
}

// Lookup returns the highest epoch previously recorded for name. A store
// file that cannot be read or parsed also reports (0, false).
func (s *FileStore) Lookup(name string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return 0, false
	}
	e, ok := m[name]
	return e, ok
}

// Record stores epoch for name if it is higher than any previously seen.
func (s *FileStore) Record(name string, epoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	if cur, ok := m[name]; ok && epoch <= cur {
		return nil
	}
	m[name] = epoch
	return s.save(m)
}
