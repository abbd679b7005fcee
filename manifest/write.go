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
	"fmt"
	"sort"
	"strings"
)

// WriteOptions controls annotation of the written manifest text. Annotate
// maps a field path (as used in ValidationError) to a human note appended
// as a trailing comment; the static auditor uses this to mark items it
// inferred rather than the author declared.
type WriteOptions struct {
	Annotate map[string]string
}

// Write renders m back to the manifest text format of section 6.2. It is
// used by the static auditor to emit a merged/annotated manifest and by
// tests to exercise parse(write(m)) == m.
func Write(m *Manifest, opts WriteOptions) []byte {
	var b strings.Builder

	writeKV(&b, "name", quote(m.Name), "")
	writeKV(&b, "version", quote(m.Version), "")
	if m.Epoch != nil {
		writeKV(&b, "epoch", fmt.Sprintf("%d", *m.Epoch), "")
	}

	if mem := m.Capabilities.Memory; mem != nil {
		b.WriteString("\n[capabilities.memory]\n")
		writeKV(&b, "max_bytes", fmt.Sprintf("%d", mem.MaxBytes), opts.Annotate["capabilities.memory.max_bytes"])
		if mem.RSSMax != nil {
			writeKV(&b, "rss_max", fmt.Sprintf("%d", *mem.RSSMax), "")
		}
	}

	if cpu := m.Capabilities.CPU; cpu != nil {
		b.WriteString("\n[capabilities.cpu]\n")
		writeKV(&b, "schedule", quote(string(cpu.Schedule)), "")
		if cpu.QuotaMsPerS != nil {
			writeKV(&b, "quota_ms_per_s", fmt.Sprintf("%d", *cpu.QuotaMsPerS), "")
		}
		if cpu.Core != nil {
			writeKV(&b, "core", fmt.Sprintf("%d", *cpu.Core), "")
		}
		writeKV(&b, "jitter_ms", fmt.Sprintf("%d", cpu.JitterMs), "")
	}

	writePathSet(&b, "capabilities.files.read", m.Capabilities.Files.Read, opts)
	writePathSet(&b, "capabilities.files.write", m.Capabilities.Files.Write, opts)

	if len(m.Capabilities.Network.Connect) > 0 || !m.Capabilities.Network.RequireTLS {
		b.WriteString("\n[capabilities.network]\n")
		writeKV(&b, "require_tls", fmt.Sprintf("%t", m.Capabilities.Network.RequireTLS), "")
	}
	for i, ep := range m.Capabilities.Network.Connect {
		note := opts.Annotate[fmt.Sprintf("capabilities.network.connect[%d]", i)]
		b.WriteString("\n[[capabilities.network.connect]]")
		if note != "" {
			b.WriteString("  # " + note)
		}
		b.WriteString("\n")
		writeKV(&b, "host", quote(ep.Host), "")
		writeKV(&b, "port", fmt.Sprintf("%d", ep.Port), "")
		writeKV(&b, "hostname_verify", fmt.Sprintf("%t", ep.HostnameVerify), "")
		if len(ep.SPKIPins) > 0 {
			writeKV(&b, "spki_pins", quoteArray(ep.SPKIPins), "")
		}
		writeKV(&b, "udp", fmt.Sprintf("%t", ep.UDP), "")
		writeKV(&b, "plaintext", fmt.Sprintf("%t", ep.Plaintext), "")
	}

	if ex := m.Capabilities.Exec; ex != nil {
		b.WriteString("\n[capabilities.exec]\n")
		writeKV(&b, "allow_spawn", fmt.Sprintf("%t", ex.AllowSpawn), opts.Annotate["capabilities.exec.allow_spawn"])
		writeKV(&b, "allow_dlopen", fmt.Sprintf("%t", ex.AllowDlopen), opts.Annotate["capabilities.exec.allow_dlopen"])
	}

	for _, ep := range m.Capabilities.IPC {
		b.WriteString("\n[[capabilities.ipc]]\n")
		writeKV(&b, "name", quote(ep.Name), "")
		writeKV(&b, "mode", quote(string(ep.Mode)), "")
	}

	if tc := m.Capabilities.Time; tc != nil {
		b.WriteString("\n[capabilities.time]\n")
		writeKV(&b, "resolution_ms", fmt.Sprintf("%d", tc.ResolutionMs), "")
		writeKV(&b, "rdtsc", fmt.Sprintf("%t", tc.RDTSC), "")
	}

	if rc := m.Capabilities.RNG; rc != nil {
		b.WriteString("\n[capabilities.rng]\n")
		writeKV(&b, "provider", quote(string(rc.Provider)), "")
	}

	if len(m.Labels) > 0 {
		b.WriteString("\n[metadata]\n")
		keys := make([]string, 0, len(m.Labels))
		for k := range m.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeKV(&b, k, quote(m.Labels[k]), "")
		}
	}

	return []byte(b.String())
}

func writePathSet(b *strings.Builder, path string, ps PathSet, opts WriteOptions) {
	if len(ps.Paths) == 0 && !ps.WildcardsAllowed {
		return
	}
	b.WriteString("\n[" + path + "]\n")
	if ps.WildcardsAllowed {
		writeKV(b, "wildcards_allowed", "true", "")
	}
	if len(ps.Paths) > 0 {
		writeKV(b, "paths", quoteArray(ps.Paths), opts.Annotate[path+".paths"])
	}
}

func writeKV(b *strings.Builder, key, value, note string) {
	b.WriteString(key)
	b.WriteString("=")
	b.WriteString(value)
	if note != "" {
		b.WriteString("  # " + note)
	}
	b.WriteString("\n")
}

func quote(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return "\"" + s + "\""
}

func quoteArray(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = quote(it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
