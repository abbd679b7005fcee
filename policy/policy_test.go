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

package policy

import (
	"testing"

	"github.com/nestybox/kpkg/kpkgerr"
	"github.com/nestybox/kpkg/manifest"
)

func TestCompileFilesSplitsReadAndWrite(t *testing.T) {
	m := &manifest.Manifest{
		Name:    "app",
		Version: "1.0.0",
		Capabilities: manifest.Capabilities{
			Files: manifest.FilesCaps{
				Read:  manifest.PathSet{Paths: []string{"/etc/resolv.conf"}},
				Write: manifest.PathSet{Paths: []string{"/var/log/app.log"}},
			},
		},
	}

	plan, err := Compile(m, Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(plan.Files) != 2 {
		t.Fatalf("Files = %v", plan.Files)
	}
	byPath := map[string]AccessMode{}
	for _, f := range plan.Files {
		byPath[f.Path] = f.Access
	}
	if byPath["/etc/resolv.conf"] != AccessRead {
		t.Fatalf("read path access = %v", byPath["/etc/resolv.conf"])
	}
	if byPath["/var/log/app.log"] != AccessWrite {
		t.Fatalf("write path access = %v", byPath["/var/log/app.log"])
	}
}

func TestCompileRefusesNonCanonicalPath(t *testing.T) {
	m := &manifest.Manifest{
		Name:    "app",
		Version: "1.0.0",
		Capabilities: manifest.Capabilities{
			Files: manifest.FilesCaps{
				Read: manifest.PathSet{Paths: []string{"/etc/../etc/passwd"}},
			},
		},
	}

	_, err := Compile(m, Options{})
	if err == nil {
		t.Fatal("expected an error for a non-canonical path")
	}
	if !kpkgerr.Is(err, kpkgerr.KindPolicy) {
		t.Fatalf("expected a PolicyError, got %v", err)
	}
}

func TestCompileNetworkResolvesHostname(t *testing.T) {
	m := &manifest.Manifest{
		Name:    "app",
		Version: "1.0.0",
		Capabilities: manifest.Capabilities{
			Network: manifest.NetworkCaps{
				RequireTLS: true,
				Connect: []manifest.NetworkEndpoint{
					{Host: "example.com", Port: 443, HostnameVerify: true},
				},
			},
		},
	}

	resolve := func(host string) ([]string, error) {
		if host != "example.com" {
			t.Fatalf("unexpected resolve host %q", host)
		}
		return []string{"93.184.216.34"}, nil
	}

	plan, err := Compile(m, Options{Resolve: resolve})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(plan.Network) != 1 {
		t.Fatalf("Network = %v", plan.Network)
	}
	if plan.Network[0].Unresolved {
		t.Fatal("expected resolution to succeed")
	}
	if len(plan.Network[0].IPs) != 1 || plan.Network[0].IPs[0].String() != "93.184.216.34" {
		t.Fatalf("IPs = %v", plan.Network[0].IPs)
	}
}

func TestCompileNetworkUnresolvedWithoutResolver(t *testing.T) {
	m := &manifest.Manifest{
		Name:    "app",
		Version: "1.0.0",
		Capabilities: manifest.Capabilities{
			Network: manifest.NetworkCaps{
				Connect: []manifest.NetworkEndpoint{{Host: "example.com", Port: 443}},
			},
		},
	}

	plan, err := Compile(m, Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !plan.Network[0].Unresolved {
		t.Fatal("expected an unresolved target with no resolver configured")
	}
}

func TestCompileNetworkLiteralIPSkipsResolver(t *testing.T) {
	m := &manifest.Manifest{
		Name:    "app",
		Version: "1.0.0",
		Capabilities: manifest.Capabilities{
			Network: manifest.NetworkCaps{
				Connect: []manifest.NetworkEndpoint{{Host: "93.184.216.34", Port: 443}},
			},
		},
	}

	resolve := func(host string) ([]string, error) {
		t.Fatal("resolver should not be called for an IP literal")
		return nil, nil
	}

	plan, err := Compile(m, Options{Resolve: resolve})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if plan.Network[0].Unresolved || len(plan.Network[0].IPs) != 1 {
		t.Fatalf("Network[0] = %+v", plan.Network[0])
	}
}

func TestCompileExecAndRNGPassThrough(t *testing.T) {
	m := &manifest.Manifest{
		Name:    "app",
		Version: "1.0.0",
		Capabilities: manifest.Capabilities{
			Exec: &manifest.ExecCaps{AllowSpawn: true, AllowDlopen: true},
			RNG:  &manifest.RNGCaps{Provider: manifest.RNGProviderOSCSPRNG},
		},
	}

	plan, err := Compile(m, Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !plan.Exec.AllowSpawn || !plan.Exec.AllowDlopen {
		t.Fatalf("Exec = %+v", plan.Exec)
	}
	if plan.RNG != string(manifest.RNGProviderOSCSPRNG) {
		t.Fatalf("RNG = %q", plan.RNG)
	}
}
