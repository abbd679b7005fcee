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

package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nestybox/kpkg/audit"
	"github.com/nestybox/kpkg/audit/diff"
	"github.com/nestybox/kpkg/audit/elfaudit"
	"github.com/nestybox/kpkg/audit/traceaudit"
	"github.com/nestybox/kpkg/kpkgerr"
	"github.com/nestybox/kpkg/manifest"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Statically infer a candidate manifest and compare it against a declared one",
	}
	cmd.AddCommand(newAuditElfCmd(), newAuditTraceCmd())
	return cmd
}

func newAuditElfCmd() *cobra.Command {
	var jsonPath, manifestPath, declaredPath string
	var failOnDiff bool

	cmd := &cobra.Command{
		Use:   "elf <path>",
		Short: "Infer a candidate manifest from an ELF binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := afero.ReadFile(fs, args[0])
			if err != nil {
				return kpkgerr.IO("failed to read "+args[0], err)
			}
			proposed, err := elfaudit.Analyze(payload, elfaudit.Options{})
			if err != nil {
				return err
			}
			return renderAuditResult(proposed, jsonPath, manifestPath, declaredPath, failOnDiff)
		},
	}
	cmd.Flags().StringVar(&jsonPath, "json", "", "write the proposed manifest as JSON to this file")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "write an annotated manifest text file")
	cmd.Flags().StringVar(&declaredPath, "declared", "", "path to a declared manifest to diff against")
	cmd.Flags().BoolVar(&failOnDiff, "fail-on-diff", false, "exit 7 if --declared lacks a capability the payload was observed using")
	return cmd
}

func newAuditTraceCmd() *cobra.Command {
	var jsonPath, manifestPath, declaredPath, root string
	var strict, failOnDiff bool

	cmd := &cobra.Command{
		Use:   "trace <path>",
		Short: "Infer a candidate manifest from a syscall trace log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := afero.ReadFile(fs, args[0])
			if err != nil {
				return kpkgerr.IO("failed to read "+args[0], err)
			}
			proposed, err := traceaudit.Analyze(bytes.NewReader(data), traceaudit.Options{Strict: strict, Root: root})
			if err != nil {
				return err
			}
			if proposed.UnparseableLines > 0 {
				log.Warnf("%d trace line(s) could not be parsed", proposed.UnparseableLines)
			}
			return renderAuditResult(proposed, jsonPath, manifestPath, declaredPath, failOnDiff)
		},
	}
	cmd.Flags().StringVar(&jsonPath, "json", "", "write the proposed manifest as JSON to this file")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "write an annotated manifest text file")
	cmd.Flags().StringVar(&declaredPath, "declared", "", "path to a declared manifest to diff against")
	cmd.Flags().StringVar(&root, "root", "", "canonicalize observed paths relative to this root")
	cmd.Flags().BoolVar(&strict, "strict", false, "abort on the first unparseable trace line")
	cmd.Flags().BoolVar(&failOnDiff, "fail-on-diff", false, "exit 7 if --declared lacks a capability the payload was observed using")
	return cmd
}

func renderAuditResult(proposed *audit.Proposed, jsonPath, manifestPath, declaredPath string, failOnDiff bool) error {
	if jsonPath != "" {
		enc, err := json.MarshalIndent(proposed, "", "  ")
		if err != nil {
			return err
		}
		if err := afero.WriteFile(fs, jsonPath, enc, 0644); err != nil {
			return kpkgerr.IO("failed to write "+jsonPath, err)
		}
	}
	if manifestPath != "" {
		text := manifest.Write(proposed.Manifest, manifest.WriteOptions{Annotate: proposed.Annotations})
		if err := afero.WriteFile(fs, manifestPath, text, 0644); err != nil {
			return kpkgerr.IO("failed to write "+manifestPath, err)
		}
	}
	for _, w := range proposed.Warnings {
		fmt.Println("warning:", w)
	}

	if declaredPath == "" {
		if !jsonOutput {
			fmt.Println(string(manifest.Write(proposed.Manifest, manifest.WriteOptions{Annotate: proposed.Annotations})))
		}
		return nil
	}

	declaredText, err := afero.ReadFile(fs, declaredPath)
	if err != nil {
		return kpkgerr.IO("failed to read "+declaredPath, err)
	}
	declared, err := manifest.Parse(declaredText)
	if err != nil {
		return err
	}

	report := diff.Compare(proposed, declared)
	if jsonOutput {
		enc, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(enc))
	} else {
		fmt.Print(report.Table())
	}

	if failOnDiff && !report.Equivalent {
		return &diffNonEmptyError{}
	}
	return nil
}

// diffNonEmptyError signals exit code 7: the audit diff found a missing
// capability grant. It deliberately does not implement kpkgerr.Error so
// exitCodeFor falls through its switch; main.go checks for it explicitly.
type diffNonEmptyError struct{}

func (e *diffNonEmptyError) Error() string { return "audit diff is non-empty" }
