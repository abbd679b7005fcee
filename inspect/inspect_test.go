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

package inspect

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/spf13/afero"

	"github.com/nestybox/kpkg/container"
	"github.com/nestybox/kpkg/sign"
)

func buildPackage(t *testing.T) []byte {
	t.Helper()
	m := []byte("name=\"myapp\"\nversion=\"0.1.0\"\n")
	bin := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	pkg, err := container.Encode(m, bin)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return pkg
}

func TestInspectReportsHeaderAndManifest(t *testing.T) {
	pkg := buildPackage(t)
	r, err := Inspect(pkg, nil, nil)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if r.Header.Magic != "KPKG" {
		t.Fatalf("Magic = %q", r.Header.Magic)
	}
	if r.Header.ManifestSize != uint32(len("name=\"myapp\"\nversion=\"0.1.0\"\n")) {
		t.Fatalf("ManifestSize = %d", r.Header.ManifestSize)
	}
	if r.Manifest.Name != "myapp" {
		t.Fatalf("Manifest.Name = %q", r.Manifest.Name)
	}
	if r.SignatureStatus != StatusMissing {
		t.Fatalf("SignatureStatus = %q, want missing", r.SignatureStatus)
	}
}

func TestInspectPayloadSHA256CoversOnlyTheBinary(t *testing.T) {
	pkg := buildPackage(t)
	r, err := Inspect(pkg, nil, nil)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	want := sha256.Sum256([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	if r.PayloadSHA256 != hex.EncodeToString(want[:]) {
		t.Fatalf("PayloadSHA256 = %q, want %q", r.PayloadSHA256, hex.EncodeToString(want[:]))
	}
	if full := sha256.Sum256(pkg); r.PayloadSHA256 == hex.EncodeToString(full[:]) {
		t.Fatalf("PayloadSHA256 matched the hash of the whole package, not just the payload")
	}
}

func TestInspectSignatureValid(t *testing.T) {
	pkg := buildPackage(t)
	pub, priv, err := sign.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	sig, err := sign.Sign(pkg, priv)
	if err != nil {
		t.Fatal(err)
	}

	r, err := Inspect(pkg, pub, sign.EncodeFile(sig))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if r.SignatureStatus != StatusValid {
		t.Fatalf("SignatureStatus = %q, want valid", r.SignatureStatus)
	}
}

func TestInspectSignatureUntrustedKey(t *testing.T) {
	pkg := buildPackage(t)
	_, priv, _ := sign.GenerateKeyPair()
	otherPub, _, _ := sign.GenerateKeyPair()
	sig, _ := sign.Sign(pkg, priv)

	r, err := Inspect(pkg, otherPub, sign.EncodeFile(sig))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if r.SignatureStatus != StatusUntrustedKey {
		t.Fatalf("SignatureStatus = %q, want untrusted_key", r.SignatureStatus)
	}
}

func TestInspectSignatureMathFailed(t *testing.T) {
	pkg := buildPackage(t)
	pub, priv, _ := sign.GenerateKeyPair()
	sig, _ := sign.Sign(pkg, priv)

	tampered := append([]byte(nil), pkg...)
	tampered[len(tampered)-1] ^= 0xFF

	r, err := Inspect(tampered, pub, sign.EncodeFile(sig))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if r.SignatureStatus != StatusMathFailed {
		t.Fatalf("SignatureStatus = %q, want math_failed", r.SignatureStatus)
	}
}

func TestFromFileReadsThroughAfero(t *testing.T) {
	fs := afero.NewMemMapFs()
	pkg := buildPackage(t)
	if err := afero.WriteFile(fs, "/pkg.kpkg", pkg, 0644); err != nil {
		t.Fatal(err)
	}

	r, err := FromFile(fs, "/pkg.kpkg", "", "")
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if r.Manifest.Name != "myapp" {
		t.Fatalf("Manifest.Name = %q", r.Manifest.Name)
	}
}
