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

// Package inspect is a pure, read-only view over a .kpkg package: header
// fields, decoded manifest, payload hash, and signature status. It never
// writes anything back; reads go through an afero.Fs so callers can point
// it at a real file or at an in-memory filesystem in tests.
package inspect

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"

	"github.com/spf13/afero"

	"github.com/nestybox/kpkg/container"
	"github.com/nestybox/kpkg/kpkgerr"
	"github.com/nestybox/kpkg/manifest"
	"github.com/nestybox/kpkg/sign"
)

// SignatureStatus classifies the outcome of checking a package's signature
// during inspection. It is advisory only; inspect never enforces policy.
type SignatureStatus string

const (
	// StatusValid means a trusted key's signature verified over the whole
	// package bytes.
	StatusValid SignatureStatus = "valid"
	// StatusMissing means no signature could be checked: no signature file
	// or no public key was supplied, or the signature file did not decode.
	StatusMissing SignatureStatus = "missing"
	// StatusUntrustedKey means the signature's fingerprint is not in the
	// supplied public key set.
	StatusUntrustedKey SignatureStatus = "untrusted_key"
	// StatusMathFailed means the fingerprint was recognized but the
	// Ed25519 signature did not verify over the whole package bytes.
	StatusMathFailed SignatureStatus = "math_failed"
)

// Header is the decoded numeric view of the .kpkg header.
type Header struct {
	Magic          string
	Version        uint16
	ManifestSize   uint32
	BinarySize     uint64
	ManifestOffset uint64
	BinaryOffset   uint64
}

// Report is the full inspection result.
type Report struct {
	Header          Header
	Manifest        *manifest.Manifest
	ManifestRaw     string
	PayloadSHA256   string
	SignatureStatus SignatureStatus
}

// Inspect decodes pkg and produces a Report. pubKey and sigData are
// optional (nil/empty skip signature checking and yield StatusMissing).
func Inspect(pkg []byte, pubKey ed25519.PublicKey, sigData []byte) (*Report, error) {
	dec, err := container.Decode(pkg, container.DefaultLimits())
	if err != nil {
		return nil, err
	}

	m, err := manifest.Parse(dec.Manifest)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(dec.Binary)

	r := &Report{
		Header: Header{
			Magic:          string(container.Magic[:]),
			Version:        dec.Version,
			ManifestSize:   dec.ManifestSize,
			BinarySize:     dec.BinarySize,
			ManifestOffset: dec.ManifestOffset,
			BinaryOffset:   dec.BinaryOffset,
		},
		Manifest:        m,
		ManifestRaw:     string(dec.Manifest),
		PayloadSHA256:   hex.EncodeToString(sum[:]),
		SignatureStatus: signatureStatus(pkg, pubKey, sigData),
	}
	return r, nil
}

// FromFile reads a .kpkg file, an optional public key file, and an
// optional signature file through fs and inspects them.
func FromFile(fs afero.Fs, pkgPath, pubKeyPath, sigPath string) (*Report, error) {
	pkg, err := afero.ReadFile(fs, pkgPath)
	if err != nil {
		return nil, kpkgerr.IO("failed to read package", err)
	}

	var pub ed25519.PublicKey
	if pubKeyPath != "" {
		pub, err = sign.ReadPublicKey(fs, pubKeyPath)
		if err != nil {
			return nil, err
		}
	}

	var sigData []byte
	if sigPath != "" {
		sigData, err = afero.ReadFile(fs, sigPath)
		if err != nil {
			return nil, kpkgerr.IO("failed to read signature", err)
		}
	}

	return Inspect(pkg, pub, sigData)
}

func signatureStatus(pkg []byte, pubKey ed25519.PublicKey, sigData []byte) SignatureStatus {
	if len(sigData) == 0 || len(pubKey) == 0 {
		return StatusMissing
	}

	sig, err := sign.DecodeFile(sigData)
	if err != nil {
		return StatusMissing
	}

	fp := sign.FingerprintOf(pubKey)
	// A bare-64-byte signature file carries no fingerprint; assume the
	// caller-supplied key is the intended signer.
	if sig.Fingerprint != (sign.Fingerprint{}) && sig.Fingerprint != fp {
		return StatusUntrustedKey
	}

	if !ed25519.Verify(pubKey, pkg, sig.Sig[:]) {
		return StatusMathFailed
	}
	return StatusValid
}
