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
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nestybox/kpkg/kpkgerr"
	"github.com/nestybox/kpkg/sign"
)

func newSignCmd() *cobra.Command {
	var path, keyPath, outPath string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Produce a detached signature over a .kpkg file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outPath == "" {
				outPath = strings.TrimSuffix(path, ".kpkg") + ".sig"
			}
			return runSign(path, keyPath, outPath)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "path to the .kpkg file to sign")
	cmd.Flags().StringVar(&keyPath, "key", "", "path to the private key")
	cmd.Flags().StringVar(&outPath, "out", "", "path to write the signature (default: <path without .kpkg>.sig)")
	cmd.MarkFlagRequired("path")
	cmd.MarkFlagRequired("key")
	return cmd
}

func runSign(path, keyPath, outPath string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return kpkgerr.IO("failed to read "+path, err)
	}
	priv, err := sign.ReadPrivateKey(fs, keyPath)
	if err != nil {
		return err
	}

	sig, err := sign.Sign(data, priv)
	if err != nil {
		return err
	}

	if err := afero.WriteFile(fs, outPath, sign.EncodeFile(sig), 0644); err != nil {
		return kpkgerr.IO("failed to write "+outPath, err)
	}

	fmt.Printf("signed %s -> %s (fingerprint %s)\n", path, outPath, sig.Fingerprint)
	return nil
}
