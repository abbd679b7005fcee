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

// Package traceaudit infers a candidate capability manifest from a
// line-oriented syscall trace log. Each line describes one syscall
// invocation as:
//
//	<name>(<arg>, <arg>, ...) = <retval>
//
// with string arguments double-quoted and flag arguments given as a
// bar-joined list of symbolic constant names, e.g.:
//
//	openat(AT_FDCWD, "/etc/resolv.conf", O_RDONLY) = 3
//	connect(4, "93.184.216.34:443", SOCK_STREAM) = 0
//	execve("/bin/sh", ["sh", "-c", "true"], []) = 0
//
// Lines that do not match this grammar are either counted (default) or,
// in strict mode, abort the analysis.
package traceaudit

import (
	"bufio"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/nestybox/kpkg/audit"
	"github.com/nestybox/kpkg/kpkgerr"
	"github.com/nestybox/kpkg/manifest"
)

var log = logrus.WithField("pkg", "traceaudit")

var lineRe = regexp.MustCompile(`^\s*([a-zA-Z_][a-zA-Z0-9_]*)\((.*)\)\s*=\s*(-?\d+)\s*$`)

// Options configures the analysis.
type Options struct {
	// Strict aborts on the first unparseable line instead of counting it.
	Strict bool
	// Root, if set, canonicalizes observed paths relative to it before
	// they are recorded in the proposed manifest.
	Root string
}

// openFlags are O_* flag names this analyzer recognizes in an openat/open
// argument list, mapped to the golang.org/x/sys/unix values the real
// syscall would have carried.
var openFlags = map[string]int{
	"O_RDONLY": unix.O_RDONLY,
	"O_WRONLY": unix.O_WRONLY,
	"O_RDWR":   unix.O_RDWR,
	"O_CREAT":  unix.O_CREAT,
	"O_TRUNC":  unix.O_TRUNC,
	"O_APPEND": unix.O_APPEND,
}

var cloneFlags = map[string]bool{
	"CLONE_VM": true, "CLONE_THREAD": true, "CLONE_VFORK": true,
}

// Analyze parses a syscall trace log and returns a candidate manifest.
func Analyze(r io.Reader, opts Options) (*audit.Proposed, error) {
	proposed := &audit.Proposed{
		Manifest:    &manifest.Manifest{Name: "audited-trace", Version: "0.0.0-audit"},
		Annotations: map[string]string{},
	}

	readPaths := map[string]bool{}
	writePaths := map[string]bool{}
	connectSeen := false
	spawnSeen := false
	timeSeen := false

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			if opts.Strict {
				return nil, kpkgerr.Analysis(lineNo, "unparseable trace line", nil)
			}
			proposed.UnparseableLines++
			continue
		}

		name := m[1]
		args := splitArgs(m[2])
		retval, _ := strconv.Atoi(m[3])

		switch name {
		case "open", "openat":
			p, flags := parseOpenArgs(args)
			if p == "" {
				proposed.Warnings = append(proposed.Warnings, lineWarning(lineNo, name+" observed with no literal path argument"))
				continue
			}
			if retval < 0 {
				continue
			}
			p = canonicalize(p, opts.Root)
			if isWriteOpen(flags) {
				writePaths[p] = true
			} else {
				readPaths[p] = true
			}

		case "connect":
			if !connectSeen {
				connectSeen = true
				proposed.Warnings = append(proposed.Warnings, "observed a connect() call; endpoints must be declared by the author, not inferred from a trace")
			}

		case "execve", "posix_spawn":
			spawnSeen = true

		case "clone":
			for _, a := range args {
				if cloneFlags[strings.TrimSpace(a)] {
					spawnSeen = true
				}
			}

		case "clock_gettime", "rdtsc":
			timeSeen = true

		default:
			log.Debugf("trace line %d: unrecognized syscall %q, ignored", lineNo, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, kpkgerr.IO("failed to read trace log", err)
	}

	if len(readPaths) > 0 {
		proposed.Manifest.Capabilities.Files.Read.Paths = sortedKeys(readPaths)
		proposed.Annotations["capabilities.files.read.paths"] = "inferred from observed open/openat calls"
	}
	if len(writePaths) > 0 {
		proposed.Manifest.Capabilities.Files.Write.Paths = sortedKeys(writePaths)
		proposed.Annotations["capabilities.files.write.paths"] = "inferred from observed open/openat calls with a write flag"
	}
	if connectSeen {
		proposed.Manifest.Capabilities.Network.Connect = []manifest.NetworkEndpoint{}
		proposed.Annotations["capabilities.network.connect"] = "a connect() call was observed but no endpoint could be inferred"
	}
	if spawnSeen {
		proposed.Manifest.Capabilities.Exec = &manifest.ExecCaps{AllowSpawn: true}
		proposed.Annotations["capabilities.exec.allow_spawn"] = "inferred from observed execve/posix_spawn/clone(CLONE_*)"
	}
	if timeSeen {
		proposed.Manifest.Capabilities.Time = &manifest.TimeCaps{RDTSC: true}
		proposed.Annotations["capabilities.time"] = "inferred from observed clock_gettime/rdtsc"
	}

	log.Debugf("trace analysis: %d read paths, %d write paths, connect=%v spawn=%v unparseable=%d",
		len(readPaths), len(writePaths), connectSeen, spawnSeen, proposed.UnparseableLines)

	return proposed, nil
}

func lineWarning(line int, msg string) string {
	return "line " + strconv.Itoa(line) + ": " + msg
}

func isWriteOpen(flags []string) bool {
	for _, f := range flags {
		switch f {
		case "O_WRONLY", "O_RDWR", "O_CREAT", "O_TRUNC", "O_APPEND":
			return true
		}
	}
	return false
}

func parseOpenArgs(args []string) (path string, flags []string) {
	for _, a := range args {
		a = strings.TrimSpace(a)
		if strings.HasPrefix(a, `"`) && strings.HasSuffix(a, `"`) && len(a) >= 2 {
			path = a[1 : len(a)-1]
			continue
		}
		for _, f := range strings.Split(a, "|") {
			f = strings.TrimSpace(f)
			if _, ok := openFlags[f]; ok {
				flags = append(flags, f)
			}
		}
	}
	return path, flags
}

// splitArgs splits a syscall argument list on top-level commas, respecting
// double-quoted strings and bracketed sub-lists so a quoted comma or an
// argv array does not get split.
func splitArgs(s string) []string {
	var out []string
	depth := 0
	inQuote := false
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			inQuote = !inQuote
		case '[', '(':
			if !inQuote {
				depth++
			}
		case ']', ')':
			if !inQuote {
				depth--
			}
		case ',':
			if !inQuote && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}

// canonicalize cleans an observed absolute path and, if root is set,
// resolves it underneath root. path.Clean on an already-absolute path
// never leaves a leading ".." component, so the join cannot escape root.
func canonicalize(p, root string) string {
	if !strings.HasPrefix(p, "/") {
		return p
	}
	p = path.Clean(p)
	if root == "" {
		return p
	}
	return path.Join(path.Clean(root), p)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
