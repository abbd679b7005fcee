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
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nestybox/kpkg/container"
	"github.com/nestybox/kpkg/kpkgerr"
	"github.com/nestybox/kpkg/manifest"
)

// manifestFileName and payloadFileName are the fixed names package looks
// for inside --input: the manifest text and the raw binary payload.
const (
	manifestFileName = "manifest.kpkg"
	payloadFileName  = "payload"
)

func newPackageCmd() *cobra.Command {
	var input, output string

	cmd := &cobra.Command{
		Use:   "package",
		Short: "Build a .kpkg file from a manifest and a binary payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPackage(input, output)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "directory containing manifest.kpkg and payload")
	cmd.Flags().StringVar(&output, "output", "", "path to write the .kpkg file")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")
	return cmd
}

func runPackage(input, output string) error {
	manifestPath := filepath.Join(input, manifestFileName)
	payloadPath := filepath.Join(input, payloadFileName)

	manifestText, err := afero.ReadFile(fs, manifestPath)
	if err != nil {
		return kpkgerr.IO("failed to read "+manifestPath, err)
	}
	payload, err := afero.ReadFile(fs, payloadPath)
	if err != nil {
		return kpkgerr.IO("failed to read "+payloadPath, err)
	}

	m, err := manifest.Parse(manifestText)
	if err != nil {
		return err
	}
	if err := manifest.Validate(m); err != nil {
		return err
	}

	pkg, err := container.Encode(manifestText, payload)
	if err != nil {
		return err
	}

	if err := afero.WriteFile(fs, output, pkg, 0644); err != nil {
		return kpkgerr.IO("failed to write "+output, err)
	}

	if jsonOutput {
		enc, _ := json.Marshal(map[string]any{
			"output":        output,
			"manifest_size": len(manifestText),
			"binary_size":   len(payload),
		})
		fmt.Println(string(enc))
		return nil
	}

	fmt.Printf("wrote %s (%d bytes)\n", output, len(pkg))
	return nil
}
