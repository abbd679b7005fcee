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

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nestybox/kpkg/container"
	"github.com/nestybox/kpkg/internal/epochstore"
	"github.com/nestybox/kpkg/kpkgerr"
	"github.com/nestybox/kpkg/manifest"
	"github.com/nestybox/kpkg/sign"
)

func newVerifyCmd() *cobra.Command {
	var path, pubkeyPath, sigPath, epochStorePath string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a detached signature over a .kpkg file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(path, pubkeyPath, sigPath, epochStorePath)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "path to the .kpkg file")
	cmd.Flags().StringVar(&pubkeyPath, "pubkey", "", "path to the trusted public key")
	cmd.Flags().StringVar(&sigPath, "signature", "", "path to the signature file")
	cmd.Flags().StringVar(&epochStorePath, "epoch-store", "", "optional JSON anti-rollback epoch store")
	cmd.MarkFlagRequired("path")
	cmd.MarkFlagRequired("pubkey")
	cmd.MarkFlagRequired("signature")
	return cmd
}

func runVerify(path, pubkeyPath, sigPath, epochStorePath string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return kpkgerr.IO("failed to read "+path, err)
	}
	pub, err := sign.ReadPublicKey(fs, pubkeyPath)
	if err != nil {
		return err
	}
	sigData, err := afero.ReadFile(fs, sigPath)
	if err != nil {
		return kpkgerr.IO("failed to read "+sigPath, err)
	}
	sig, err := sign.DecodeFile(sigData)
	if err != nil {
		return err
	}
	if sig.Fingerprint == (sign.Fingerprint{}) {
		sig.Fingerprint = sign.FingerprintOf(pub)
	}

	var epochs sign.EpochStore
	var name string
	var epoch uint64
	if epochStorePath != "" {
		epochs = epochstore.NewFileStore(fs, epochStorePath)
		if m, err := manifestFromPackage(data); err == nil {
			name = m.Name
			if m.Epoch != nil {
				epoch = *m.Epoch
			}
		}
	}

	v := sign.NewVerifier(sign.NewTrustStore(pub), 1, epochs)
	verifyErr := v.Verify(data, []sign.Signature{sig}, name, epoch)

	if jsonOutput {
		status := "valid"
		if verifyErr != nil {
			status = "invalid"
		}
		enc, _ := json.Marshal(map[string]any{"status": status, "error": errString(verifyErr)})
		fmt.Println(string(enc))
	} else if verifyErr == nil {
		fmt.Println("signature valid")
	}

	return verifyErr
}

func manifestFromPackage(pkg []byte) (*manifest.Manifest, error) {
	dec, err := container.Decode(pkg, container.DefaultLimits())
	if err != nil {
		return nil, err
	}
	return manifest.Parse(dec.Manifest)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
