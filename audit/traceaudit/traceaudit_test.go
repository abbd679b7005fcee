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

package traceaudit

import (
	"strings"
	"testing"
)

func TestAnalyzeClassifiesOpenReadVsWrite(t *testing.T) {
	log := `openat(AT_FDCWD, "/etc/resolv.conf", O_RDONLY) = 3
openat(AT_FDCWD, "/var/log/app.log", O_WRONLY|O_CREAT|O_APPEND) = 4
`
	p, err := Analyze(strings.NewReader(log), Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got := p.Manifest.Capabilities.Files.Read.Paths; len(got) != 1 || got[0] != "/etc/resolv.conf" {
		t.Fatalf("read paths = %v", got)
	}
	if got := p.Manifest.Capabilities.Files.Write.Paths; len(got) != 1 || got[0] != "/var/log/app.log" {
		t.Fatalf("write paths = %v", got)
	}
}

func TestAnalyzeResolvesPathsAgainstRoot(t *testing.T) {
	log := `openat(AT_FDCWD, "/etc/resolv.conf", O_RDONLY) = 3
`
	p, err := Analyze(strings.NewReader(log), Options{Root: "/mnt/rootfs"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got := p.Manifest.Capabilities.Files.Read.Paths; len(got) != 1 || got[0] != "/mnt/rootfs/etc/resolv.conf" {
		t.Fatalf("read paths = %v, want [/mnt/rootfs/etc/resolv.conf]", got)
	}
}

func TestCanonicalizeCannotEscapeRoot(t *testing.T) {
	if got := canonicalize("/../../etc/passwd", "/mnt/rootfs"); got != "/mnt/rootfs/etc/passwd" {
		t.Fatalf("canonicalize = %q, want /mnt/rootfs/etc/passwd", got)
	}
}

func TestAnalyzeConnectProducesStubWithWarning(t *testing.T) {
	log := `connect(4, "93.184.216.34:443", SOCK_STREAM) = 0
`
	p, err := Analyze(strings.NewReader(log), Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if p.Manifest.Capabilities.Network.Connect == nil {
		t.Fatal("expected non-nil empty Connect stub")
	}
	if len(p.Manifest.Capabilities.Network.Connect) != 0 {
		t.Fatalf("expected empty Connect stub, got %v", p.Manifest.Capabilities.Network.Connect)
	}
	if len(p.Warnings) == 0 {
		t.Fatal("expected a warning about the unresolvable connect endpoint")
	}
}

func TestAnalyzeExecveSetsAllowSpawn(t *testing.T) {
	log := `execve("/bin/sh", ["sh", "-c", "true"], []) = 0
`
	p, err := Analyze(strings.NewReader(log), Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if p.Manifest.Capabilities.Exec == nil || !p.Manifest.Capabilities.Exec.AllowSpawn {
		t.Fatal("expected allow_spawn to be inferred")
	}
}

func TestAnalyzeCloneVforkSetsAllowSpawn(t *testing.T) {
	log := `clone(CLONE_VM|CLONE_VFORK|CLONE_THREAD) = 123
`
	p, err := Analyze(strings.NewReader(log), Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if p.Manifest.Capabilities.Exec == nil || !p.Manifest.Capabilities.Exec.AllowSpawn {
		t.Fatal("expected clone(CLONE_VFORK) to set allow_spawn")
	}
}

func TestAnalyzeCountsUnparseableLinesByDefault(t *testing.T) {
	log := "this is not a syscall line\nclock_gettime(CLOCK_MONOTONIC, &ts) = 0\n"
	p, err := Analyze(strings.NewReader(log), Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if p.UnparseableLines != 1 {
		t.Fatalf("UnparseableLines = %d, want 1", p.UnparseableLines)
	}
	if p.Manifest.Capabilities.Time == nil || !p.Manifest.Capabilities.Time.RDTSC {
		t.Fatal("expected time capability to be inferred from clock_gettime")
	}
}

func TestAnalyzeStrictModeAbortsOnUnparseableLine(t *testing.T) {
	log := "garbage line\n"
	_, err := Analyze(strings.NewReader(log), Options{Strict: true})
	if err == nil {
		t.Fatal("expected an error in strict mode")
	}
}

func TestAnalyzeFailedOpenIsIgnored(t *testing.T) {
	log := `openat(AT_FDCWD, "/root/secret", O_RDONLY) = -13
`
	p, err := Analyze(strings.NewReader(log), Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(p.Manifest.Capabilities.Files.Read.Paths) != 0 {
		t.Fatalf("expected failed open (negative retval) to be ignored, got %v", p.Manifest.Capabilities.Files.Read.Paths)
	}
}

func TestSplitArgsRespectsQuotesAndArrays(t *testing.T) {
	got := splitArgs(`"/bin/sh", ["sh", "-c", "true"], []`)
	want := []string{`"/bin/sh"`, `["sh", "-c", "true"]`, `[]`}
	if len(got) != len(want) {
		t.Fatalf("splitArgs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitArgs[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
