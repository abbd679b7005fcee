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

// Package sign implements Ed25519 detached signatures over an entire
// .kpkg file, key-pair generation, N-of-M verification against a pinned
// trust set, and anti-rollback epoch enforcement.
package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/kpkg/kpkgerr"
)

// Algorithm is the only signature algorithm identifier this package emits
// or accepts.
const Algorithm = "ed25519"

// sigFileHeader is the line prefix new signature files carry; bare 64-byte
// files are still accepted on read for backward compatibility.
const sigFileHeader = "ZKSIG1"

// Fingerprint is the SHA-256 hash of a raw Ed25519 public key.
type Fingerprint [32]byte

// String renders the fingerprint as lowercase hex.
func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// FingerprintOf computes the fingerprint of a public key.
func FingerprintOf(pub ed25519.PublicKey) Fingerprint {
	return sha256.Sum256(pub)
}

// Signature is one detached signature object: the pinned algorithm, the
// fingerprint of the signing key, and the 64-byte Ed25519 signature over
// the entire package bytes.
type Signature struct {
	Algorithm   string
	Fingerprint Fingerprint
	Sig         [ed25519.SignatureSize]byte
}

var log = logrus.WithField("pkg", "sign")

// Sign computes a detached signature over the entire package bytes f.
// Signing over a subregion is deliberately not supported: the whole-file
// signature is the invariant the threat model rests on.
func Sign(f []byte, priv ed25519.PrivateKey) (Signature, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return Signature{}, kpkgerr.Crypto("", "private key has wrong size", nil)
	}
	raw := ed25519.Sign(priv, f)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return Signature{}, kpkgerr.Crypto("", "could not derive public key", nil)
	}

	sig := Signature{Algorithm: Algorithm, Fingerprint: FingerprintOf(pub)}
	copy(sig.Sig[:], raw)

	log.Debugf("signed %d bytes with key fingerprint %s", len(f), sig.Fingerprint)
	return sig, nil
}

// EncodeFile renders a Signature in the new ZKSIG1-header form.
func EncodeFile(sig Signature) []byte {
	header := fmt.Sprintf("%s %s\n", sigFileHeader, sig.Fingerprint)
	return append([]byte(header), sig.Sig[:]...)
}

// DecodeFile parses a signature file in either the new ZKSIG1-header form
// or the bare 64-byte form. The bare form carries no fingerprint; callers
// must supply the expected public key out of band (that is what the
// verify CLI's --pubkey flag is for).
func DecodeFile(data []byte) (Signature, error) {
	if idx := indexNewline(data); idx >= 0 && strings.HasPrefix(string(data), sigFileHeader+" ") {
		line := string(data[:idx])
		rest := data[idx+1:]
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return Signature{}, kpkgerr.Format("", 0, "malformed ZKSIG1 header", nil)
		}
		fpBytes, err := hex.DecodeString(fields[1])
		if err != nil || len(fpBytes) != 32 {
			return Signature{}, kpkgerr.Format("", 0, "malformed ZKSIG1 fingerprint", err)
		}
		if len(rest) != ed25519.SignatureSize {
			return Signature{}, kpkgerr.Format("", 0, "signature body has wrong size", nil)
		}
		var sig Signature
		sig.Algorithm = Algorithm
		copy(sig.Fingerprint[:], fpBytes)
		copy(sig.Sig[:], rest)
		return sig, nil
	}

	if len(data) != ed25519.SignatureSize {
		return Signature{}, kpkgerr.Format("", 0, "signature file is neither ZKSIG1 nor a bare 64-byte signature", nil)
	}
	var sig Signature
	sig.Algorithm = Algorithm
	copy(sig.Sig[:], data)
	return sig, nil
}

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return -1
}

// GenerateKeyPair produces a fresh Ed25519 key pair using the OS CSPRNG.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, kpkgerr.Crypto("", "key generation failed", err)
	}
	return pub, priv, nil
}
