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

package manifest

import (
	"net"
	"path"
	"regexp"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set"
	"github.com/coreos/go-semver/semver"

	"github.com/nestybox/kpkg/kpkgerr"
)

// dnsLabelRe matches one RFC 1123 DNS label: letters, digits, and
// internal hyphens, never leading or trailing with a hyphen.
var dnsLabelRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

// Validate enforces the semantic rules of section 4.2: name/version shape,
// path canonicality, network endpoint shape, and cross-field constraints.
// It assumes m was produced by Parse (structurally well-formed) and layers
// semantic checks on top.
func Validate(m *Manifest) error {
	if err := validateName(m.Name); err != nil {
		return err
	}
	if err := validateVersion(m.Version); err != nil {
		return err
	}
	if err := validateMemory(m.Capabilities.Memory); err != nil {
		return err
	}
	if err := validateCPU(m.Capabilities.CPU); err != nil {
		return err
	}
	if err := validateFiles(m.Capabilities.Files); err != nil {
		return err
	}
	if err := validateNetwork(m.Capabilities.Network); err != nil {
		return err
	}
	return nil
}

func validateName(name string) error {
	if name == "" || len(name) > 64 {
		return kpkgerr.Validation("name", "must be 1..64 characters", nil)
	}
	for _, r := range name {
		ok := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
			r == '_' || r == '.' || r == '-'
		if !ok {
			return kpkgerr.Validation("name", "must match [A-Za-z0-9_.-]{1,64}", nil)
		}
	}
	return nil
}

func validateVersion(v string) error {
	if v == "" {
		return kpkgerr.Validation("version", "must be a semantic version", nil)
	}
	if _, err := semver.NewVersion(v); err != nil {
		return kpkgerr.Validation("version", "must be a semantic version", err)
	}
	return nil
}

func validateMemory(mem *MemoryCaps) error {
	if mem == nil {
		return nil
	}
	if mem.RSSMax != nil && *mem.RSSMax > mem.MaxBytes {
		return kpkgerr.Validation("capabilities.memory.rss_max", "must be <= max_bytes", nil)
	}
	return nil
}

func validateCPU(cpu *CPUCaps) error {
	if cpu == nil {
		return nil
	}
	if cpu.QuotaMsPerS != nil && *cpu.QuotaMsPerS > 1000 {
		return kpkgerr.Validation("capabilities.cpu.quota_ms_per_s", "must be <= 1000", nil)
	}
	return nil
}

// CanonicalPath reports whether p is absolute, free of "." and ".."
// components, free of redundant separators, and does not end in "/"
// unless it is the root. It does not consult the filesystem: "canonical"
// here is purely syntactic, as the spec requires the declared paths to
// already be canonical before they reach the manifest.
func CanonicalPath(p string) bool {
	if p == "" || p[0] != '/' {
		return false
	}
	if p != "/" && strings.HasSuffix(p, "/") {
		return false
	}
	if strings.Contains(p, "//") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == "." || part == ".." {
			return false
		}
	}
	return path.Clean(p) == p || p == "/"
}

// HasGlobMeta reports whether p contains an unresolved glob metacharacter.
// Per the open question in the design, wildcard grammar is unpinned;
// implementations default to rejecting '*'/'?' until it is.
func HasGlobMeta(p string) bool {
	return strings.ContainsAny(p, "*?")
}

func validatePathSet(group string, ps PathSet) error {
	seen := mapset.NewSet()
	for i, p := range ps.Paths {
		fieldPath := group + ".paths[" + strconv.Itoa(i) + "]"
		if HasGlobMeta(p) {
			if !ps.WildcardsAllowed {
				return kpkgerr.Validation(fieldPath, "glob metacharacters require wildcards_allowed=true", nil)
			}
			// Prefix matching only: a wildcard path must still canonicalize
			// once its trailing glob suffix is stripped.
			prefix := p[:strings.IndexAny(p, "*?")]
			if prefix != "/" {
				prefix = strings.TrimSuffix(prefix, "/")
			}
			if !CanonicalPath(prefix) {
				return kpkgerr.Validation(fieldPath, "must be an absolute, canonical path before its glob suffix", nil)
			}
			continue
		}
		if !CanonicalPath(p) {
			return kpkgerr.Validation(fieldPath, "must be an absolute, canonical path", nil)
		}
		if seen.Contains(p) {
			return kpkgerr.Validation(fieldPath, "duplicate path in group", nil)
		}
		seen.Add(p)
	}
	return nil
}

func validateFiles(files FilesCaps) error {
	if err := validatePathSet("capabilities.files.read", files.Read); err != nil {
		return err
	}
	if err := validatePathSet("capabilities.files.write", files.Write); err != nil {
		return err
	}

	writeSet := mapset.NewSet()
	for _, p := range files.Write.Paths {
		writeSet.Add(p)
	}
	for i, p := range files.Read.Paths {
		if writeSet.Contains(p) {
			// The more permissive write entry subsumes the read entry; the
			// read-only duplicate is redundant and rejected.
			return kpkgerr.Validation("capabilities.files.read.paths["+strconv.Itoa(i)+"]", "path also granted write access; remove the redundant read entry", nil)
		}
	}
	return nil
}

func validateNetwork(net_ NetworkCaps) error {
	for i, ep := range net_.Connect {
		fieldPath := "capabilities.network.connect[" + strconv.Itoa(i) + "]"
		if err := validateHost(ep.Host); err != nil {
			return kpkgerr.Validation(fieldPath+".host", "invalid host", err)
		}
		if ep.Port == 0 {
			return kpkgerr.Validation(fieldPath+".port", "must be 1..65535", nil)
		}
		for j, pin := range ep.SPKIPins {
			if !isBase64(pin) {
				return kpkgerr.Validation(fieldPath+".spki_pins["+strconv.Itoa(j)+"]", "not base64", nil)
			}
		}
		if net_.RequireTLS {
			if ep.Plaintext {
				return kpkgerr.Validation(fieldPath+".plaintext", "must be false when require_tls is set", nil)
			}
			if !ep.HostnameVerify {
				return kpkgerr.Validation(fieldPath+".hostname_verify", "must be true when require_tls is set", nil)
			}
		}
	}
	return nil
}

func validateHost(host string) error {
	if host == "" {
		return kpkgerr.Validation("", "empty host", nil)
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}
	labels := strings.Split(host, ".")
	for _, l := range labels {
		if !dnsLabelRe.MatchString(l) {
			return kpkgerr.Validation("", "invalid DNS label", nil)
		}
	}
	return nil
}

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="

func isBase64(s string) bool {
	if s == "" || len(s)%4 != 0 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(base64Alphabet, r) {
			return false
		}
	}
	return true
}
