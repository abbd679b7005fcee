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

package diff

import (
	"testing"

	"github.com/nestybox/kpkg/audit"
	"github.com/nestybox/kpkg/manifest"
)

func TestCompareEquivalentWhenDeclaredCoversProposed(t *testing.T) {
	proposed := &audit.Proposed{Manifest: &manifest.Manifest{
		Capabilities: manifest.Capabilities{
			Files: manifest.FilesCaps{Read: manifest.PathSet{Paths: []string{"/etc/resolv.conf"}}},
		},
	}}
	declared := &manifest.Manifest{
		Capabilities: manifest.Capabilities{
			Files: manifest.FilesCaps{Read: manifest.PathSet{Paths: []string{"/etc/resolv.conf", "/etc/hosts"}}},
		},
	}

	r := Compare(proposed, declared)
	if !r.Equivalent {
		t.Fatalf("expected equivalent, got %+v", r)
	}
	if len(r.ExtraInDeclared) != 1 || r.ExtraInDeclared[0] != "capabilities.files.read.paths: /etc/hosts" {
		t.Fatalf("ExtraInDeclared = %v", r.ExtraInDeclared)
	}
}

func TestCompareFlagsMissingCapability(t *testing.T) {
	proposed := &audit.Proposed{Manifest: &manifest.Manifest{
		Capabilities: manifest.Capabilities{
			Exec: &manifest.ExecCaps{AllowSpawn: true},
		},
	}}
	declared := &manifest.Manifest{}

	r := Compare(proposed, declared)
	if r.Equivalent {
		t.Fatal("expected not equivalent")
	}
	if len(r.MissingInDeclared) != 1 || r.MissingInDeclared[0] != "capabilities.exec.allow_spawn" {
		t.Fatalf("MissingInDeclared = %v", r.MissingInDeclared)
	}
}

func TestCompareNetworkConnectStubFlagsAbsentDeclaration(t *testing.T) {
	proposed := &audit.Proposed{Manifest: &manifest.Manifest{
		Capabilities: manifest.Capabilities{
			Network: manifest.NetworkCaps{Connect: []manifest.NetworkEndpoint{}},
		},
	}}
	declared := &manifest.Manifest{}

	r := Compare(proposed, declared)
	if r.Equivalent {
		t.Fatal("expected not equivalent: payload connected but nothing is declared")
	}
}

func TestCompareNetworkEndpointsByHostPortProto(t *testing.T) {
	proposed := &audit.Proposed{Manifest: &manifest.Manifest{
		Capabilities: manifest.Capabilities{
			Network: manifest.NetworkCaps{Connect: []manifest.NetworkEndpoint{
				{Host: "example.com", Port: 443},
			}},
		},
	}}
	declared := &manifest.Manifest{
		Capabilities: manifest.Capabilities{
			Network: manifest.NetworkCaps{Connect: []manifest.NetworkEndpoint{
				{Host: "example.com", Port: 443},
			}},
		},
	}

	r := Compare(proposed, declared)
	if !r.Equivalent {
		t.Fatalf("expected equivalent, got %+v", r)
	}
}

func TestReportTableRendersBothSections(t *testing.T) {
	r := &Report{MissingInDeclared: []string{"a"}, ExtraInDeclared: []string{"b"}}
	out := r.Table()
	if out == "" {
		t.Fatal("expected non-empty table output")
	}
}
