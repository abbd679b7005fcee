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

package sign

import (
	"crypto/ed25519"

	"github.com/spf13/afero"

	"github.com/nestybox/kpkg/kpkgerr"
)

const (
	privateKeyMode = 0600
	publicKeyMode  = 0644
)

// WriteKeyFiles writes priv and pub as raw bytes (no PEM envelope, no
// header) to privPath/pubPath through fs, with 0600/0644 permission
// intent. The private key is never logged or echoed.
func WriteKeyFiles(fs afero.Fs, privPath, pubPath string, pub ed25519.PublicKey, priv ed25519.PrivateKey) error {
	if err := afero.WriteFile(fs, privPath, priv, privateKeyMode); err != nil {
		return kpkgerr.IO("failed to write private key", err)
	}
	if err := afero.WriteFile(fs, pubPath, pub, publicKeyMode); err != nil {
		return kpkgerr.IO("failed to write public key", err)
	}
	log.Infof("wrote key pair: private=%s public=%s", privPath, pubPath)
	return nil
}

// ReadPublicKey reads a raw 32-byte Ed25519 public key from path.
func ReadPublicKey(fs afero.Fs, path string) (ed25519.PublicKey, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, kpkgerr.IO("failed to read public key", err)
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, kpkgerr.Crypto("", "public key file has wrong size", nil)
	}
	return ed25519.PublicKey(data), nil
}

// ReadPrivateKey reads a raw 64-byte Ed25519 private key from path.
func ReadPrivateKey(fs afero.Fs, path string) (ed25519.PrivateKey, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, kpkgerr.IO("failed to read private key", err)
	}
	if len(data) != ed25519.PrivateKeySize {
		return nil, kpkgerr.Crypto("", "private key file has wrong size", nil)
	}
	return ed25519.PrivateKey(data), nil
}
