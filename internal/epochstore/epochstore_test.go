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

package epochstore

import (
	"testing"

	"github.com/spf13/afero"
)

func TestFileStoreRecordAndLookup(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFileStore(fs, "/var/lib/kpkg/epochs.json")

	if _, ok := s.Lookup("myapp"); ok {
		t.Fatal("expected no epoch recorded yet")
	}

	if err := s.Record("myapp", 3); err != nil {
		t.Fatalf("Record: %v", err)
	}
	e, ok := s.Lookup("myapp")
	if !ok || e != 3 {
		t.Fatalf("Lookup = %d, %v, want 3, true", e, ok)
	}

	if err := s.Record("myapp", 1); err != nil {
		t.Fatalf("Record: %v", err)
	}
	e, _ = s.Lookup("myapp")
	if e != 3 {
		t.Fatalf("Record regressed the stored epoch: got %d, want 3", e)
	}

	if err := s.Record("myapp", 5); err != nil {
		t.Fatalf("Record: %v", err)
	}
	e, _ = s.Lookup("myapp")
	if e != 5 {
		t.Fatalf("Record did not advance: got %d, want 5", e)
	}
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	fs := afero.NewMemMapFs()
	s1 := NewFileStore(fs, "/epochs.json")
	if err := s1.Record("a", 2); err != nil {
		t.Fatal(err)
	}

	s2 := NewFileStore(fs, "/epochs.json")
	e, ok := s2.Lookup("a")
	if !ok || e != 2 {
		t.Fatalf("Lookup on fresh instance = %d, %v, want 2, true", e, ok)
	}
}
