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

	"github.com/nestybox/kpkg/kpkgerr"
)

// knownSections is the exhaustive set of section paths the parser
// recognizes. Any [section] or [[section]] header outside this set fails
// the whole load, per the deny-unknown-fields rule.
var knownSections = map[string]bool{
	"capabilities.memory":         true,
	"capabilities.cpu":            true,
	"capabilities.files.read":     true,
	"capabilities.files.write":    true,
	"capabilities.network":        true,
	"capabilities.network.connect": true,
	"capabilities.exec":           true,
	"capabilities.ipc":            true,
	"capabilities.time":           true,
	"capabilities.rng":            true,
	"metadata":                    true,
}

var knownArraySections = map[string]bool{
	"capabilities.network.connect": true,
	"capabilities.ipc":             true,
}

// Parse decodes manifest text into a validated Manifest. It is deny-
// unknown-fields at every nesting level: a single stray key or section
// fails the whole load before any semantic validation runs.
func Parse(text []byte) (*Manifest, error) {
	doc, err := parseRaw(text)
	if err != nil {
		return nil, err
	}

	for path := range doc.sections {
		if !knownSections[path] || knownArraySections[path] {
			return nil, kpkgerr.Validation(path, "unknown section", nil)
		}
	}
	for path := range doc.arrays {
		if !knownArraySections[path] {
			return nil, kpkgerr.Validation(path, "unknown section", nil)
		}
	}

	m := &Manifest{}

	if err := parseRoot(doc, m); err != nil {
		return nil, err
	}
	if err := parseMemory(doc, m); err != nil {
		return nil, err
	}
	if err := parseCPU(doc, m); err != nil {
		return nil, err
	}
	if err := parseFiles(doc, m); err != nil {
		return nil, err
	}
	if err := parseNetwork(doc, m); err != nil {
		return nil, err
	}
	if err := parseExec(doc, m); err != nil {
		return nil, err
	}
	if err := parseIPC(doc, m); err != nil {
		return nil, err
	}
	if err := parseTime(doc, m); err != nil {
		return nil, err
	}
	if err := parseRNG(doc, m); err != nil {
		return nil, err
	}
	if err := parseMetadata(doc, m); err != nil {
		return nil, err
	}

	if err := Validate(m); err != nil {
		return nil, err
	}

	return m, nil
}

// fieldExtractor pops known keys off a section's kv map one at a time so
// that, once every recognized key of a section has been consumed,
// anything left in the map is by definition unknown.
type fieldExtractor struct {
	path string
	kv   map[string]rawValue
}

func newExtractor(path string, sec *rawSection) *fieldExtractor {
	if sec == nil {
		return &fieldExtractor{path: path, kv: map[string]rawValue{}}
	}
	return &fieldExtractor{path: path, kv: sec.kv}
}

func (e *fieldExtractor) take(key string) (rawValue, bool) {
	v, ok := e.kv[key]
	if ok {
		delete(e.kv, key)
	}
	return v, ok
}

func (e *fieldExtractor) done() error {
	for key := range e.kv {
		return kpkgerr.Validation(e.path+"."+key, "unknown field", nil)
	}
	return nil
}

func parseRoot(doc *rawDoc, m *Manifest) error {
	root := map[string]rawValue{}
	for k, v := range doc.root {
		root[k] = v
	}

	if v, ok := root["name"]; ok {
		if v.kind != rawString {
			return kpkgerr.Validation("name", "must be a string", nil)
		}
		m.Name = v.str
		delete(root, "name")
	}
	if v, ok := root["version"]; ok {
		if v.kind != rawString {
			return kpkgerr.Validation("version", "must be a string", nil)
		}
		m.Version = v.str
		delete(root, "version")
	}
	if v, ok := root["epoch"]; ok {
		if v.kind != rawInt || v.i < 0 {
			return kpkgerr.Validation("epoch", "must be a non-negative integer", nil)
		}
		epoch := uint64(v.i)
		m.Epoch = &epoch
		delete(root, "epoch")
	}

	for k := range root {
		return kpkgerr.Validation(k, "unknown field", nil)
	}
	return nil
}

func parseMemory(doc *rawDoc, m *Manifest) error {
	sec, ok := doc.sections["capabilities.memory"]
	if !ok {
		return nil
	}
	e := newExtractor("capabilities.memory", sec)
	mem := &MemoryCaps{}

	v, ok := e.take("max_bytes")
	if !ok || v.kind != rawInt || v.i < 0 {
		return kpkgerr.Validation("capabilities.memory.max_bytes", "required non-negative integer", nil)
	}
	mem.MaxBytes = uint64(v.i)

	if v, ok := e.take("rss_max"); ok {
		if v.kind != rawInt || v.i < 0 {
			return kpkgerr.Validation("capabilities.memory.rss_max", "must be a non-negative integer", nil)
		}
		rss := uint64(v.i)
		mem.RSSMax = &rss
	}

	if err := e.done(); err != nil {
		return err
	}
	m.Capabilities.Memory = mem
	return nil
}

func parseCPU(doc *rawDoc, m *Manifest) error {
	sec, ok := doc.sections["capabilities.cpu"]
	if !ok {
		return nil
	}
	e := newExtractor("capabilities.cpu", sec)
	cpu := &CPUCaps{Schedule: ScheduleBestEffort}

	if v, ok := e.take("schedule"); ok {
		if v.kind != rawString {
			return kpkgerr.Validation("capabilities.cpu.schedule", "must be a string", nil)
		}
		switch Schedule(v.str) {
		case ScheduleFixed, ScheduleBestEffort:
			cpu.Schedule = Schedule(v.str)
		default:
			return kpkgerr.Validation("capabilities.cpu.schedule", fmt.Sprintf("unrecognized schedule %q", v.str), nil)
		}
	}
	if v, ok := e.take("quota_ms_per_s"); ok {
		if v.kind != rawInt || v.i < 0 {
			return kpkgerr.Validation("capabilities.cpu.quota_ms_per_s", "must be a non-negative integer", nil)
		}
		q := uint32(v.i)
		cpu.QuotaMsPerS = &q
	}
	if v, ok := e.take("core"); ok {
		if v.kind != rawInt || v.i < 0 {
			return kpkgerr.Validation("capabilities.cpu.core", "must be a non-negative integer", nil)
		}
		c := uint32(v.i)
		cpu.Core = &c
	}
	if v, ok := e.take("jitter_ms"); ok {
		if v.kind != rawInt || v.i < 0 {
			return kpkgerr.Validation("capabilities.cpu.jitter_ms", "must be a non-negative integer", nil)
		}
		cpu.JitterMs = uint32(v.i)
	}

	if err := e.done(); err != nil {
		return err
	}
	m.Capabilities.CPU = cpu
	return nil
}

func parsePathSet(doc *rawDoc, path string) (PathSet, error) {
	sec, ok := doc.sections[path]
	if !ok {
		return PathSet{}, nil
	}
	e := newExtractor(path, sec)
	ps := PathSet{}

	if v, ok := e.take("wildcards_allowed"); ok {
		if v.kind != rawBool {
			return PathSet{}, kpkgerr.Validation(path+".wildcards_allowed", "must be a boolean", nil)
		}
		ps.WildcardsAllowed = v.b
	}
	if v, ok := e.take("paths"); ok {
		if v.kind != rawArray {
			return PathSet{}, kpkgerr.Validation(path+".paths", "must be an array of strings", nil)
		}
		for i, el := range v.arr {
			if el.kind != rawString {
				return PathSet{}, kpkgerr.Validation(fmt.Sprintf("%s.paths[%d]", path, i), "must be a string", nil)
			}
			ps.Paths = append(ps.Paths, el.str)
		}
	}

	if err := e.done(); err != nil {
		return PathSet{}, err
	}
	return ps, nil
}

func parseFiles(doc *rawDoc, m *Manifest) error {
	read, err := parsePathSet(doc, "capabilities.files.read")
	if err != nil {
		return err
	}
	write, err := parsePathSet(doc, "capabilities.files.write")
	if err != nil {
		return err
	}
	m.Capabilities.Files = FilesCaps{Read: read, Write: write}
	return nil
}

func parseNetwork(doc *rawDoc, m *Manifest) error {
	net := NetworkCaps{RequireTLS: true}

	if sec, ok := doc.sections["capabilities.network"]; ok {
		e := newExtractor("capabilities.network", sec)
		if v, ok := e.take("require_tls"); ok {
			if v.kind != rawBool {
				return kpkgerr.Validation("capabilities.network.require_tls", "must be a boolean", nil)
			}
			net.RequireTLS = v.b
		}
		if err := e.done(); err != nil {
			return err
		}
	}

	for i, sec := range doc.arrays["capabilities.network.connect"] {
		path := fmt.Sprintf("capabilities.network.connect[%d]", i)
		e := newExtractor(path, sec)
		ep := NetworkEndpoint{HostnameVerify: true}

		v, ok := e.take("host")
		if !ok || v.kind != rawString {
			return kpkgerr.Validation(path+".host", "required string", nil)
		}
		ep.Host = v.str

		v, ok = e.take("port")
		if !ok || v.kind != rawInt || v.i < 1 || v.i > 65535 {
			return kpkgerr.Validation(path+".port", "required integer in 1..65535", nil)
		}
		ep.Port = uint16(v.i)

		if v, ok := e.take("hostname_verify"); ok {
			if v.kind != rawBool {
				return kpkgerr.Validation(path+".hostname_verify", "must be a boolean", nil)
			}
			ep.HostnameVerify = v.b
		}
		if v, ok := e.take("spki_pins"); ok {
			if v.kind != rawArray {
				return kpkgerr.Validation(path+".spki_pins", "must be an array of strings", nil)
			}
			for j, el := range v.arr {
				if el.kind != rawString {
					return kpkgerr.Validation(fmt.Sprintf("%s.spki_pins[%d]", path, j), "must be a string", nil)
				}
				ep.SPKIPins = append(ep.SPKIPins, el.str)
			}
		}
		if v, ok := e.take("udp"); ok {
			if v.kind != rawBool {
				return kpkgerr.Validation(path+".udp", "must be a boolean", nil)
			}
			ep.UDP = v.b
		}
		if v, ok := e.take("plaintext"); ok {
			if v.kind != rawBool {
				return kpkgerr.Validation(path+".plaintext", "must be a boolean", nil)
			}
			ep.Plaintext = v.b
		}

		if err := e.done(); err != nil {
			return err
		}
		net.Connect = append(net.Connect, ep)
	}

	m.Capabilities.Network = net
	return nil
}

func parseExec(doc *rawDoc, m *Manifest) error {
	sec, ok := doc.sections["capabilities.exec"]
	if !ok {
		return nil
	}
	e := newExtractor("capabilities.exec", sec)
	ex := &ExecCaps{}

	if v, ok := e.take("allow_spawn"); ok {
		if v.kind != rawBool {
			return kpkgerr.Validation("capabilities.exec.allow_spawn", "must be a boolean", nil)
		}
		ex.AllowSpawn = v.b
	}
	if v, ok := e.take("allow_dlopen"); ok {
		if v.kind != rawBool {
			return kpkgerr.Validation("capabilities.exec.allow_dlopen", "must be a boolean", nil)
		}
		ex.AllowDlopen = v.b
	}

	if err := e.done(); err != nil {
		return err
	}
	m.Capabilities.Exec = ex
	return nil
}

func parseIPC(doc *rawDoc, m *Manifest) error {
	for i, sec := range doc.arrays["capabilities.ipc"] {
		path := fmt.Sprintf("capabilities.ipc[%d]", i)
		e := newExtractor(path, sec)
		ep := IPCEndpoint{Mode: IPCModeHold}

		v, ok := e.take("name")
		if !ok || v.kind != rawString || v.str == "" {
			return kpkgerr.Validation(path+".name", "required non-empty string", nil)
		}
		ep.Name = v.str

		if v, ok := e.take("mode"); ok {
			if v.kind != rawString {
				return kpkgerr.Validation(path+".mode", "must be a string", nil)
			}
			switch IPCMode(v.str) {
			case IPCModeHold, IPCModeHoldAndNotify:
				ep.Mode = IPCMode(v.str)
			default:
				return kpkgerr.Validation(path+".mode", fmt.Sprintf("unrecognized mode %q", v.str), nil)
			}
		}

		if err := e.done(); err != nil {
			return err
		}
		m.Capabilities.IPC = append(m.Capabilities.IPC, ep)
	}
	return nil
}

func parseTime(doc *rawDoc, m *Manifest) error {
	sec, ok := doc.sections["capabilities.time"]
	if !ok {
		return nil
	}
	e := newExtractor("capabilities.time", sec)
	tc := &TimeCaps{}

	v, ok := e.take("resolution_ms")
	if !ok || v.kind != rawInt || v.i < 1 {
		return kpkgerr.Validation("capabilities.time.resolution_ms", "required integer >= 1", nil)
	}
	tc.ResolutionMs = uint32(v.i)

	if v, ok := e.take("rdtsc"); ok {
		if v.kind != rawBool {
			return kpkgerr.Validation("capabilities.time.rdtsc", "must be a boolean", nil)
		}
		tc.RDTSC = v.b
	}

	if err := e.done(); err != nil {
		return err
	}
	m.Capabilities.Time = tc
	return nil
}

func parseRNG(doc *rawDoc, m *Manifest) error {
	sec, ok := doc.sections["capabilities.rng"]
	if !ok {
		return nil
	}
	e := newExtractor("capabilities.rng", sec)
	rc := &RNGCaps{}

	v, ok := e.take("provider")
	if !ok || v.kind != rawString {
		return kpkgerr.Validation("capabilities.rng.provider", "required string", nil)
	}
	switch RNGProvider(v.str) {
	case RNGProviderOSCSPRNG, RNGProviderDeterministicTesting:
		rc.Provider = RNGProvider(v.str)
	default:
		return kpkgerr.Validation("capabilities.rng.provider", fmt.Sprintf("unrecognized provider %q", v.str), nil)
	}

	if err := e.done(); err != nil {
		return err
	}
	m.Capabilities.RNG = rc
	return nil
}

func parseMetadata(doc *rawDoc, m *Manifest) error {
	sec, ok := doc.sections["metadata"]
	if !ok {
		return nil
	}
	labels := map[string]string{}
	for k, v := range sec.kv {
		if v.kind != rawString {
			return kpkgerr.Validation("metadata."+k, "label values must be strings", nil)
		}
		labels[k] = v.str
	}
	m.Labels = labels
	return nil
}
