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

// Package elfaudit infers a candidate capability manifest from the
// dynamic section and imported symbol table of an ELF payload. It never
// guesses: a binary it cannot parse fails closed with an AnalysisError
// rather than proposing an empty manifest.
package elfaudit

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/kpkg/audit"
	"github.com/nestybox/kpkg/kpkgerr"
	"github.com/nestybox/kpkg/manifest"
)

var log = logrus.WithField("pkg", "elfaudit")

// networkSymbols are imported-symbol names that indicate the payload may
// open network connections.
var networkSymbols = map[string]bool{
	"connect": true, "socket": true, "getaddrinfo": true,
	"SSL_connect": true, "SSL_read": true, "SSL_write": true,
}

// execSymbols indicate the payload may spawn or replace a process.
var execSymbols = map[string]bool{
	"execve": true, "execv": true, "execvp": true,
	"posix_spawn": true, "posix_spawnp": true, "fork": true, "vfork": true,
}

// fileOpenSymbols indicate the payload opens files, but the path is not
// statically knowable from the symbol table alone.
var fileOpenSymbols = map[string]bool{
	"open": true, "openat": true, "fopen": true, "creat": true,
}

// Options configures the analysis.
type Options struct {
	// TargetMachine, if non-zero, rejects a binary built for a different
	// architecture instead of proposing a manifest for it.
	TargetMachine elf.Machine
}

// Analyze reads an ELF payload and returns a candidate manifest annotated
// with the heuristics that produced each inferred field.
func Analyze(payload []byte, opts Options) (*audit.Proposed, error) {
	f, err := elf.NewFile(bytes.NewReader(payload))
	if err != nil {
		return nil, kpkgerr.Analysis(0, "not a parsable ELF file", err)
	}
	defer f.Close()

	if opts.TargetMachine != 0 && f.Machine != opts.TargetMachine {
		return nil, kpkgerr.Analysis(0, fmt.Sprintf("ELF machine %s does not match target %s", f.Machine, opts.TargetMachine), nil)
	}

	proposed := &audit.Proposed{
		Manifest:    &manifest.Manifest{Name: "audited-binary", Version: "0.0.0-audit"},
		Annotations: map[string]string{},
	}

	interp, hasInterp := readInterp(f)
	needed, rpath, runpath, err := readDynamic(f)
	if err != nil {
		return nil, err
	}
	symbols, err := readImportedSymbols(f)
	if err != nil {
		return nil, err
	}

	log.Debugf("elf analysis: interp=%q needed=%v rpath=%q runpath=%q symbols=%d", interp, needed, rpath, runpath, len(symbols))

	if hasInterp || len(needed) > 0 {
		proposed.Manifest.Capabilities.Exec = &manifest.ExecCaps{AllowDlopen: true}
		proposed.Annotations["capabilities.exec.allow_dlopen"] = "inferred: dynamic interpreter or NEEDED entries present"
	}

	for _, name := range symbols {
		if networkSymbols[name] {
			if len(proposed.Manifest.Capabilities.Network.Connect) == 0 {
				proposed.Manifest.Capabilities.Network.Connect = []manifest.NetworkEndpoint{}
				proposed.Warnings = append(proposed.Warnings, "imports a networking symbol ("+name+"); endpoints must be declared by the author, not inferred")
			}
		}
		if execSymbols[name] {
			if proposed.Manifest.Capabilities.Exec == nil {
				proposed.Manifest.Capabilities.Exec = &manifest.ExecCaps{}
			}
			proposed.Manifest.Capabilities.Exec.AllowSpawn = true
			proposed.Annotations["capabilities.exec.allow_spawn"] = "inferred: imports " + name
		}
		if fileOpenSymbols[name] {
			if proposed.Manifest.Capabilities.Files.Read.Paths == nil {
				proposed.Manifest.Capabilities.Files.Read.Paths = []string{}
				proposed.Warnings = append(proposed.Warnings, "imports a file-opening symbol ("+name+") with no statically knowable path")
			}
		}
	}

	return proposed, nil
}

func readInterp(f *elf.File) (string, bool) {
	for _, p := range f.Progs {
		if p.Type == elf.PT_INTERP {
			data := make([]byte, p.Filesz)
			if _, err := p.ReadAt(data, 0); err != nil {
				return "", true
			}
			return string(bytes.TrimRight(data, "\x00")), true
		}
	}
	return "", false
}

func readDynamic(f *elf.File) (needed []string, rpath, runpath string, err error) {
	// A missing dynamic section yields (nil, nil): static binaries have
	// none. A present but malformed one is a real analysis failure.
	needed, dynErr := f.DynString(elf.DT_NEEDED)
	if dynErr != nil {
		return nil, "", "", kpkgerr.Analysis(0, "malformed dynamic section", dynErr)
	}

	if rpaths, e := f.DynString(elf.DT_RPATH); e == nil && len(rpaths) > 0 {
		rpath = rpaths[0]
	}
	if runpaths, e := f.DynString(elf.DT_RUNPATH); e == nil && len(runpaths) > 0 {
		runpath = runpaths[0]
	}

	return needed, rpath, runpath, nil
}

func readImportedSymbols(f *elf.File) ([]string, error) {
	syms, err := f.ImportedSymbols()
	if err != nil {
		// Statically linked binaries have no imported symbol table; that
		// is not malformed, just empty.
		return nil, nil
	}
	names := make([]string, 0, len(syms))
	for _, s := range syms {
		names = append(names, s.Name)
	}
	return names, nil
}
