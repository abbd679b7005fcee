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

	"github.com/spf13/cobra"

	"github.com/nestybox/kpkg/inspect"
)

func newInspectCmd() *cobra.Command {
	var path, pubkeyPath, sigPath string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print header, manifest, and signature status for a .kpkg file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(path, pubkeyPath, sigPath)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "path to the .kpkg file")
	cmd.Flags().StringVar(&pubkeyPath, "pubkey", "", "optional public key, enables signature status")
	cmd.Flags().StringVar(&sigPath, "signature", "", "optional signature file, enables signature status")
	cmd.MarkFlagRequired("path")
	return cmd
}

func runInspect(path, pubkeyPath, sigPath string) error {
	r, err := inspect.FromFile(fs, path, pubkeyPath, sigPath)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(enc))
		return nil
	}

	fmt.Printf("magic:            %s\n", r.Header.Magic)
	fmt.Printf("version:          %d\n", r.Header.Version)
	fmt.Printf("manifest_size:    %d\n", r.Header.ManifestSize)
	fmt.Printf("binary_size:      %d\n", r.Header.BinarySize)
	fmt.Printf("name:             %s\n", r.Manifest.Name)
	fmt.Printf("manifest_version: %s\n", r.Manifest.Version)
	fmt.Printf("payload_sha256:   %s\n", r.PayloadSHA256)
	fmt.Printf("signature:        %s\n", r.SignatureStatus)
	return nil
}
