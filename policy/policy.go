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

// Package policy compiles a validated manifest into a CapabilityPlan, the
// value-typed tree the out-of-scope loader consumes. Compile is a pure
// function except for the DNS lookups it optionally performs; it never
// reads the manifest's source bytes and the plan holds no reference back
// to them.
package policy

import (
	"net"

	"github.com/nestybox/kpkg/kpkgerr"
	"github.com/nestybox/kpkg/manifest"
)

// AccessMode is the mode a plan entry grants over a file or IPC namespace.
type AccessMode string

const (
	AccessRead      AccessMode = "read"
	AccessWrite     AccessMode = "write"
	AccessHold      AccessMode = "hold"
	AccessHoldNotify AccessMode = "hold_and_notify"
)

// MemoryQuota is the compiled memory budget.
type MemoryQuota struct {
	MaxBytes uint64
	RSSMax   uint64 // 0 means unset
}

// FileNamespace is one compiled files.* entry.
type FileNamespace struct {
	Path   string
	Access AccessMode
}

// NetworkTarget is one compiled network.connect entry. IPs is populated
// when DNS resolution succeeds; Unresolved is true (and IPs empty) when
// it does not.
type NetworkTarget struct {
	Host           string
	Port           uint16
	UDP            bool
	RequireTLS     bool
	HostnameVerify bool
	SPKIPins       []string
	IPs            []net.IP
	Unresolved     bool
}

// IPCTarget is one compiled IPC endpoint.
type IPCTarget struct {
	Name   string
	Access AccessMode
}

// TimeSource is the compiled time capability.
type TimeSource struct {
	ResolutionMs uint32
	RDTSC        bool
}

// CapabilityPlan is the sole interface surface handed to the out-of-scope
// loader: a value-typed description of everything a process may do,
// containing no raw manifest bytes and no paths that failed
// canonicalization.
type CapabilityPlan struct {
	Name    string
	Version string

	Memory *MemoryQuota
	Files  []FileNamespace
	Network []NetworkTarget
	Exec   ExecFlags
	IPC    []IPCTarget
	Time   *TimeSource
	RNG    string
	Labels map[string]string
}

// ExecFlags carries the compiled exec/dlopen grants.
type ExecFlags struct {
	AllowSpawn  bool
	AllowDlopen bool
}

// Resolver resolves a hostname to a set of IPs. net.LookupHost satisfies
// this; tests supply a fake.
type Resolver func(host string) ([]string, error)

// Options controls compile-time DNS resolution.
type Options struct {
	// Resolve, if non-nil, is used to bake network.connect hostnames into
	// IP sets at compile time. A nil Resolve leaves every hostname target
	// unresolved (IP-literal hosts are always carried as their IP); the
	// consumer is then responsible for resolving at load time or refusing
	// to load.
	Resolve Resolver
}

// Compile transforms a validated manifest into a CapabilityPlan. It
// assumes m already passed manifest.Validate; it does not re-validate
// path shape but does refuse non-canonical paths defensively, since a
// caller could hand it an unvalidated manifest by mistake.
func Compile(m *manifest.Manifest, opts Options) (*CapabilityPlan, error) {
	plan := &CapabilityPlan{
		Name:    m.Name,
		Version: m.Version,
		Labels:  m.Labels,
		Exec: ExecFlags{},
	}

	if mem := m.Capabilities.Memory; mem != nil {
		q := &MemoryQuota{MaxBytes: mem.MaxBytes}
		if mem.RSSMax != nil {
			q.RSSMax = *mem.RSSMax
		}
		plan.Memory = q
	}

	files, err := compileFiles(m.Capabilities.Files)
	if err != nil {
		return nil, err
	}
	plan.Files = files

	plan.Network = compileNetwork(m.Capabilities.Network, opts.Resolve)

	if ex := m.Capabilities.Exec; ex != nil {
		plan.Exec = ExecFlags{AllowSpawn: ex.AllowSpawn, AllowDlopen: ex.AllowDlopen}
	}

	for _, ep := range m.Capabilities.IPC {
		mode := AccessHold
		if ep.Mode == manifest.IPCModeHoldAndNotify {
			mode = AccessHoldNotify
		}
		plan.IPC = append(plan.IPC, IPCTarget{Name: ep.Name, Access: mode})
	}

	if tc := m.Capabilities.Time; tc != nil {
		plan.Time = &TimeSource{ResolutionMs: tc.ResolutionMs, RDTSC: tc.RDTSC}
	}

	if rc := m.Capabilities.RNG; rc != nil {
		plan.RNG = string(rc.Provider)
	}

	return plan, nil
}

func compileFiles(fc manifest.FilesCaps) ([]FileNamespace, error) {
	var out []FileNamespace
	for _, p := range fc.Read.Paths {
		if manifest.HasGlobMeta(p) {
			continue // wildcard entries are a runtime concern, not a compiled namespace
		}
		if !manifest.CanonicalPath(p) {
			return nil, kpkgerr.Policy("refusing non-canonical path in capabilities.files.read: "+p, nil)
		}
		out = append(out, FileNamespace{Path: p, Access: AccessRead})
	}
	for _, p := range fc.Write.Paths {
		if manifest.HasGlobMeta(p) {
			continue
		}
		if !manifest.CanonicalPath(p) {
			return nil, kpkgerr.Policy("refusing non-canonical path in capabilities.files.write: "+p, nil)
		}
		out = append(out, FileNamespace{Path: p, Access: AccessWrite})
	}
	return out, nil
}

func compileNetwork(nc manifest.NetworkCaps, resolve Resolver) []NetworkTarget {
	var out []NetworkTarget
	for _, ep := range nc.Connect {
		t := NetworkTarget{
			Host:           ep.Host,
			Port:           ep.Port,
			UDP:            ep.UDP,
			RequireTLS:     nc.RequireTLS,
			HostnameVerify: ep.HostnameVerify,
			SPKIPins:       ep.SPKIPins,
		}
		if ip := net.ParseIP(ep.Host); ip != nil {
			t.IPs = []net.IP{ip}
		} else if resolve != nil {
			addrs, err := resolve(ep.Host)
			if err != nil || len(addrs) == 0 {
				t.Unresolved = true
			} else {
				for _, a := range addrs {
					if ip := net.ParseIP(a); ip != nil {
						t.IPs = append(t.IPs, ip)
					}
				}
				if len(t.IPs) == 0 {
					t.Unresolved = true
				}
			}
		} else {
			t.Unresolved = true
		}
		out = append(out, t)
	}
	return out
}
