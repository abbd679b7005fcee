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

package elfaudit

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/nestybox/kpkg/kpkgerr"
)

// buildMinimalELF64 returns a syntactically valid, section-less, segment-
// less little-endian ELF64 file: just enough for debug/elf.NewFile to
// accept it without error. It carries no dynamic section, so it is the
// static-binary case.
func buildMinimalELF64() []byte {
	const headerSize = 64
	b := make([]byte, headerSize)

	copy(b[0:4], []byte{0x7f, 'E', 'L', 'F'})
	b[4] = 2 // ELFCLASS64
	b[5] = 1 // ELFDATA2LSB
	b[6] = 1 // EV_CURRENT
	b[7] = 0 // ELFOSABI_NONE

	le := binary.LittleEndian
	le.PutUint16(b[16:18], uint16(elf.ET_EXEC))
	le.PutUint16(b[18:20], uint16(elf.EM_X86_64))
	le.PutUint32(b[20:24], 1) // e_version
	le.PutUint64(b[24:32], 0) // e_entry
	le.PutUint64(b[32:40], 0) // e_phoff
	le.PutUint64(b[40:48], 0) // e_shoff
	le.PutUint32(b[48:52], 0) // e_flags
	le.PutUint16(b[52:54], headerSize)
	le.PutUint16(b[54:56], 56) // e_phentsize
	le.PutUint16(b[56:58], 0)  // e_phnum
	le.PutUint16(b[58:60], 64) // e_shentsize
	le.PutUint16(b[60:62], 0)  // e_shnum
	le.PutUint16(b[62:64], 0)  // e_shstrndx

	return b
}

func TestAnalyzeRejectsGarbage(t *testing.T) {
	_, err := Analyze([]byte("not an elf file at all"), Options{})
	if err == nil {
		t.Fatal("expected an error for non-ELF input")
	}
	if !kpkgerr.Is(err, kpkgerr.KindAnalysis) {
		t.Fatalf("expected an AnalysisError, got %v", err)
	}
}

func TestAnalyzeStaticBinaryInfersNothing(t *testing.T) {
	p, err := Analyze(buildMinimalELF64(), Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if p.Manifest.Capabilities.Exec != nil {
		t.Fatalf("expected no exec capability inferred for a static binary, got %+v", p.Manifest.Capabilities.Exec)
	}
	if len(p.Warnings) != 0 {
		t.Fatalf("expected no warnings for a static binary, got %v", p.Warnings)
	}
}

func TestAnalyzeRejectsMismatchedTargetMachine(t *testing.T) {
	_, err := Analyze(buildMinimalELF64(), Options{TargetMachine: elf.EM_AARCH64})
	if err == nil {
		t.Fatal("expected an error for a machine mismatch")
	}
	if !kpkgerr.Is(err, kpkgerr.KindAnalysis) {
		t.Fatalf("expected an AnalysisError, got %v", err)
	}
}

func TestAnalyzeAcceptsMatchingTargetMachine(t *testing.T) {
	_, err := Analyze(buildMinimalELF64(), Options{TargetMachine: elf.EM_X86_64})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
}
