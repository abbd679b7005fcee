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

// Package audit holds the Proposed type the ELF and trace analyzers both
// produce. The analyzers live in the elfaudit and traceaudit subpackages;
// the diff engine that compares a Proposed against a declared manifest
// lives in audit/diff. This package is just their shared vocabulary.
package audit

import "github.com/nestybox/kpkg/manifest"

// Proposed is a candidate manifest inferred by a static analyzer. It is
// advisory only: nothing in this package grants capabilities, it only
// proposes and compares.
type Proposed struct {
	Manifest *manifest.Manifest
	// Annotations maps a manifest field path to a human note explaining
	// why the analyzer inferred that field, for --manifest output.
	Annotations map[string]string
	// Warnings are analyzer-level notes that do not map to one field
	// (e.g. "file-open symbol imported but no literal path available").
	Warnings []string
	// UnparseableLines counts trace lines that do not match the trace
	// grammar (lines naming an unrecognized syscall are ignored, not
	// counted); always zero for the ELF analyzer.
	UnparseableLines int
}
