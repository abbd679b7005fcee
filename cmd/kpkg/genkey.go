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

	"github.com/spf13/cobra"

	"github.com/nestybox/kpkg/sign"
)

func newGenKeyCmd() *cobra.Command {
	var privPath, pubPath string

	cmd := &cobra.Command{
		Use:   "gen-key",
		Short: "Generate an Ed25519 signing key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := sign.GenerateKeyPair()
			if err != nil {
				return err
			}
			if err := sign.WriteKeyFiles(fs, privPath, pubPath, pub, priv); err != nil {
				return err
			}
			fmt.Printf("wrote %s %s (fingerprint %s)\n", privPath, pubPath, sign.FingerprintOf(pub))
			return nil
		},
	}
	cmd.Flags().StringVar(&privPath, "private", "", "path to write the private key")
	cmd.Flags().StringVar(&pubPath, "public", "", "path to write the public key")
	cmd.MarkFlagRequired("private")
	cmd.MarkFlagRequired("public")
	return cmd
}
