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

// Package diff compares a statically proposed manifest against the
// manifest a package actually declares, and reports where the two
// disagree. It never mutates either side.
package diff

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set"

	"github.com/nestybox/kpkg/audit"
	"github.com/nestybox/kpkg/manifest"
)

// Report is the result of comparing a proposed manifest against a
// declared one.
type Report struct {
	// MissingInDeclared lists capabilities the analyzer observed the
	// payload using that the declared manifest does not grant.
	MissingInDeclared []string
	// ExtraInDeclared lists capabilities the declared manifest grants
	// that the analyzer never observed in use.
	ExtraInDeclared []string
	// Equivalent is true when MissingInDeclared is empty; a declared
	// manifest with extra, unused grants still diffs clean for the
	// purpose of "did the payload get what it needs".
	Equivalent bool
}

// Compare diffs a proposed manifest against a declared one.
func Compare(proposed *audit.Proposed, declared *manifest.Manifest) *Report {
	r := &Report{}

	diffPathSet("capabilities.files.read", proposed.Manifest.Capabilities.Files.Read, declared.Capabilities.Files.Read, r)
	diffPathSet("capabilities.files.write", proposed.Manifest.Capabilities.Files.Write, declared.Capabilities.Files.Write, r)
	diffExec(proposed.Manifest.Capabilities.Exec, declared.Capabilities.Exec, r)
	diffNetwork(proposed.Manifest.Capabilities.Network, declared.Capabilities.Network, r)
	diffTime(proposed.Manifest.Capabilities.Time, declared.Capabilities.Time, r)

	r.Equivalent = len(r.MissingInDeclared) == 0
	return r
}

func diffPathSet(field string, proposed, declared manifest.PathSet, r *Report) {
	declSet := mapset.NewSet()
	for _, p := range declared.Paths {
		declSet.Add(p)
	}
	propSet := mapset.NewSet()
	for _, p := range proposed.Paths {
		propSet.Add(p)
	}

	for _, p := range proposed.Paths {
		if !declSet.Contains(p) {
			r.MissingInDeclared = append(r.MissingInDeclared, field+".paths: "+p)
		}
	}
	for _, p := range declared.Paths {
		if !propSet.Contains(p) {
			r.ExtraInDeclared = append(r.ExtraInDeclared, field+".paths: "+p)
		}
	}
}

// diffExec compares the inferred vs. declared exec flags. A nil side is
// treated as all-false.
func diffExec(proposed, declared *manifest.ExecCaps, r *Report) {
	var pSpawn, pDlopen, dSpawn, dDlopen bool
	if proposed != nil {
		pSpawn, pDlopen = proposed.AllowSpawn, proposed.AllowDlopen
	}
	if declared != nil {
		dSpawn, dDlopen = declared.AllowSpawn, declared.AllowDlopen
	}

	if pSpawn && !dSpawn {
		r.MissingInDeclared = append(r.MissingInDeclared, "capabilities.exec.allow_spawn")
	}
	if dSpawn && !pSpawn {
		r.ExtraInDeclared = append(r.ExtraInDeclared, "capabilities.exec.allow_spawn")
	}
	if pDlopen && !dDlopen {
		r.MissingInDeclared = append(r.MissingInDeclared, "capabilities.exec.allow_dlopen")
	}
	if dDlopen && !pDlopen {
		r.ExtraInDeclared = append(r.ExtraInDeclared, "capabilities.exec.allow_dlopen")
	}
}

// diffNetwork compares endpoint presence by (host, port, udp). A proposed
// manifest's Connect slice being non-nil but empty (the analyzers' "we saw
// a connect but can't say to where" stub) only flags a problem when the
// declared manifest grants no network capability at all.
func diffNetwork(proposed, declared manifest.NetworkCaps, r *Report) {
	if proposed.Connect != nil && len(declared.Connect) == 0 {
		r.MissingInDeclared = append(r.MissingInDeclared, "capabilities.network.connect: payload opened a connection but no endpoint is declared")
	}

	declSet := map[string]bool{}
	for _, ep := range declared.Connect {
		declSet[endpointKey(ep)] = true
	}
	propSet := map[string]bool{}
	for _, ep := range proposed.Connect {
		propSet[endpointKey(ep)] = true
	}
	for k := range propSet {
		if !declSet[k] {
			r.MissingInDeclared = append(r.MissingInDeclared, "capabilities.network.connect: "+k)
		}
	}
	for k := range declSet {
		if !propSet[k] {
			r.ExtraInDeclared = append(r.ExtraInDeclared, "capabilities.network.connect: "+k)
		}
	}
}

func endpointKey(ep manifest.NetworkEndpoint) string {
	proto := "tcp"
	if ep.UDP {
		proto = "udp"
	}
	return fmt.Sprintf("%s:%d/%s", ep.Host, ep.Port, proto)
}

func diffTime(proposed, declared *manifest.TimeCaps, r *Report) {
	if proposed == nil {
		return
	}
	if proposed.RDTSC && (declared == nil || !declared.RDTSC) {
		r.MissingInDeclared = append(r.MissingInDeclared, "capabilities.time.rdtsc")
	}
}

// Table renders the report as a short human-readable summary for the CLI.
func (r *Report) Table() string {
	var b strings.Builder
	if r.Equivalent {
		b.WriteString("equivalent: declared manifest covers every observed capability\n")
	} else {
		b.WriteString("NOT equivalent: declared manifest is missing observed capabilities\n")
	}
	if len(r.MissingInDeclared) > 0 {
		b.WriteString("missing_in_declared:\n")
		for _, m := range r.MissingInDeclared {
			b.WriteString("  - " + m + "\n")
		}
	}
	if len(r.ExtraInDeclared) > 0 {
		b.WriteString("extra_in_declared:\n")
		for _, e := range r.ExtraInDeclared {
			b.WriteString("  - " + e + "\n")
		}
	}
	return b.String()
}
