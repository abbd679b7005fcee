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

// Package manifest is the strongly typed capability manifest: its text
// decoder (strict, deny-unknown-fields at every nesting level), its
// semantic validator, and the serializer used to write merged/annotated
// manifests back out (audit --manifest).
package manifest

// Manifest is the decoded, validated policy document embedded in a .kpkg
// package.
type Manifest struct {
	Name         string
	Version      string
	Epoch        *uint64
	Capabilities Capabilities
	Labels       map[string]string
}

// Capabilities groups every capability family. Every group defaults to
// empty; omission grants nothing.
type Capabilities struct {
	Memory  *MemoryCaps
	CPU     *CPUCaps
	Files   FilesCaps
	Network NetworkCaps
	Exec    *ExecCaps
	IPC     []IPCEndpoint
	Time    *TimeCaps
	RNG     *RNGCaps
}

// MemoryCaps bounds the address space mapped for the payload.
type MemoryCaps struct {
	MaxBytes uint64
	RSSMax   *uint64
}

// Schedule selects the CPU scheduling class.
type Schedule string

const (
	ScheduleFixed      Schedule = "fixed"
	ScheduleBestEffort Schedule = "best_effort"
)

// CPUCaps bounds CPU scheduling.
type CPUCaps struct {
	Schedule     Schedule
	QuotaMsPerS  *uint32
	Core         *uint32
	JitterMs     uint32
}

// FilesCaps groups the read and write path sets.
type FilesCaps struct {
	Read  PathSet
	Write PathSet
}

// PathSet is one files.read or files.write group: a set of canonical
// paths plus the group-level wildcard escape hatch.
type PathSet struct {
	Paths            []string
	WildcardsAllowed bool
}

// NetworkCaps groups the connect endpoints and the group-level TLS policy.
type NetworkCaps struct {
	RequireTLS bool
	Connect    []NetworkEndpoint
}

// NetworkEndpoint is one capabilities.network.connect entry.
type NetworkEndpoint struct {
	Host             string
	Port             uint16
	HostnameVerify   bool
	SPKIPins         []string
	UDP              bool
	Plaintext        bool
}

// ExecCaps governs process and dynamic-library spawning.
type ExecCaps struct {
	AllowSpawn  bool
	AllowDlopen bool
}

// IPCMode names the access a process holds on a named service endpoint.
type IPCMode string

const (
	IPCModeHold         IPCMode = "hold"
	IPCModeHoldAndNotify IPCMode = "hold_and_notify"
)

// IPCEndpoint is one named service endpoint the process may hold.
type IPCEndpoint struct {
	Name string
	Mode IPCMode
}

// TimeCaps governs the granularity of time the payload may observe.
type TimeCaps struct {
	ResolutionMs uint32
	RDTSC        bool
}

// RNGProvider names the entropy source handed to the payload.
type RNGProvider string

const (
	RNGProviderOSCSPRNG              RNGProvider = "os_csprng"
	RNGProviderDeterministicTesting  RNGProvider = "deterministic_for_testing"
)

// RNGCaps selects the RNG provider.
type RNGCaps struct {
	Provider RNGProvider
}
