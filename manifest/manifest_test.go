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

package manifest

import (
	"strings"
	"testing"
)

func TestParseMinimal(t *testing.T) {
	text := []byte("name=\"myapp\"\nversion=\"0.1.0\"\n[capabilities.memory]\nmax_bytes=8388608\n")
	m, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Name != "myapp" || m.Version != "0.1.0" {
		t.Fatalf("unexpected name/version: %+v", m)
	}
	if m.Capabilities.Memory == nil || m.Capabilities.Memory.MaxBytes != 8388608 {
		t.Fatalf("unexpected memory caps: %+v", m.Capabilities.Memory)
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	text := []byte("name=\"myapp\"\nversion=\"0.1.0\"\n[capabilities.memory]\nmax_bytes=1\nextra=2\n")
	_, err := Parse(text)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "capabilities.memory.extra") {
		t.Fatalf("error not addressed at the unknown field: %v", err)
	}
}

func TestParseRejectsUnknownSection(t *testing.T) {
	text := []byte("name=\"myapp\"\nversion=\"0.1.0\"\n[capabilities.bogus]\nx=1\n")
	_, err := Parse(text)
	if err == nil {
		t.Fatal("expected error for unknown section")
	}
}

func TestParseRejectsUnknownRootKey(t *testing.T) {
	text := []byte("name=\"myapp\"\nversion=\"0.1.0\"\nextra=\"x\"\n")
	_, err := Parse(text)
	if err == nil {
		t.Fatal("expected error for unknown root key")
	}
}

func TestParseRejectsBOM(t *testing.T) {
	text := append([]byte{0xEF, 0xBB, 0xBF}, []byte("name=\"a\"\nversion=\"0.1.0\"\n")...)
	_, err := Parse(text)
	if err == nil {
		t.Fatal("expected error for BOM")
	}
}

func TestParseRejectsEmbeddedNUL(t *testing.T) {
	text := []byte("name=\"a\"\x00\nversion=\"0.1.0\"\n")
	_, err := Parse(text)
	if err == nil {
		t.Fatal("expected error for embedded NUL")
	}
}

func TestValidateRSSExceedsMax(t *testing.T) {
	text := []byte("name=\"a\"\nversion=\"0.1.0\"\n[capabilities.memory]\nmax_bytes=100\nrss_max=200\n")
	_, err := Parse(text)
	if err == nil {
		t.Fatal("expected rss_max > max_bytes to be rejected")
	}
}

func TestValidateQuotaTooHigh(t *testing.T) {
	text := []byte("name=\"a\"\nversion=\"0.1.0\"\n[capabilities.cpu]\nquota_ms_per_s=2000\n")
	_, err := Parse(text)
	if err == nil {
		t.Fatal("expected quota_ms_per_s > 1000 to be rejected")
	}
}

func TestValidateNonCanonicalPath(t *testing.T) {
	text := []byte("name=\"a\"\nversion=\"0.1.0\"\n[capabilities.files.read]\npaths=[\"etc/config\"]\n")
	_, err := Parse(text)
	if err == nil {
		t.Fatal("expected relative path to be rejected")
	}
}

func TestValidateDotDotPath(t *testing.T) {
	text := []byte("name=\"a\"\nversion=\"0.1.0\"\n[capabilities.files.read]\npaths=[\"/etc/../etc/passwd\"]\n")
	_, err := Parse(text)
	if err == nil {
		t.Fatal("expected .. path to be rejected")
	}
}

func TestValidateWildcardRejectedByDefault(t *testing.T) {
	text := []byte("name=\"a\"\nversion=\"0.1.0\"\n[capabilities.files.read]\npaths=[\"/etc/*\"]\n")
	_, err := Parse(text)
	if err == nil {
		t.Fatal("expected wildcard path to be rejected without wildcards_allowed")
	}
}

func TestValidateWildcardAllowed(t *testing.T) {
	text := []byte("name=\"a\"\nversion=\"0.1.0\"\n[capabilities.files.read]\nwildcards_allowed=true\npaths=[\"/etc/*\"]\n")
	if _, err := Parse(text); err != nil {
		t.Fatalf("expected wildcard path to be accepted: %v", err)
	}
}

func TestValidateReadWriteOverlapRejected(t *testing.T) {
	text := []byte(`name="a"
version="0.1.0"
[capabilities.files.read]
paths=["/etc/config"]
[capabilities.files.write]
paths=["/etc/config"]
`)
	_, err := Parse(text)
	if err == nil {
		t.Fatal("expected read/write overlap to be rejected")
	}
}

func TestValidateNetworkEndpoint(t *testing.T) {
	text := []byte(`name="a"
version="0.1.0"
[[capabilities.network.connect]]
host="api.example.com"
port=443
`)
	m, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Capabilities.Network.Connect) != 1 {
		t.Fatalf("expected one endpoint, got %d", len(m.Capabilities.Network.Connect))
	}
	ep := m.Capabilities.Network.Connect[0]
	if ep.Port != 443 || !ep.HostnameVerify {
		t.Fatalf("unexpected endpoint defaults: %+v", ep)
	}
}

func TestValidateRequireTLSRejectsPlaintext(t *testing.T) {
	text := []byte(`name="a"
version="0.1.0"
[[capabilities.network.connect]]
host="api.example.com"
port=80
plaintext=true
`)
	_, err := Parse(text)
	if err == nil {
		t.Fatal("expected plaintext=true to be rejected under default require_tls")
	}
}

func TestValidateSPKIPinNotBase64(t *testing.T) {
	text := []byte(`name="a"
version="0.1.0"
[[capabilities.network.connect]]
host="api.example.com"
port=443
spki_pins=["not-base64!!"]
`)
	_, err := Parse(text)
	if err == nil {
		t.Fatal("expected invalid base64 pin to be rejected")
	}
}

func TestWriteParseRoundTrip(t *testing.T) {
	text := []byte(`name="myapp"
version="1.2.3"
epoch=7

[capabilities.memory]
max_bytes=1024

[capabilities.exec]
allow_spawn=true
allow_dlopen=false
`)
	m, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out := Write(m, WriteOptions{})
	m2, err := Parse(out)
	if err != nil {
		t.Fatalf("re-Parse of Write output: %v\n%s", err, out)
	}
	if m2.Name != m.Name || m2.Version != m.Version || *m2.Epoch != *m.Epoch {
		t.Fatalf("round trip mismatch: %+v vs %+v", m, m2)
	}
	if m2.Capabilities.Exec.AllowSpawn != true {
		t.Fatalf("round trip lost exec.allow_spawn")
	}
}

func TestCanonicalPath(t *testing.T) {
	cases := map[string]bool{
		"/":              true,
		"/etc/config":    true,
		"etc/config":     false,
		"/etc/../x":      false,
		"/etc/":          false,
		"/etc//config":   false,
		"":                false,
	}
	for p, want := range cases {
		if got := CanonicalPath(p); got != want {
			t.Errorf("CanonicalPath(%q) = %v, want %v", p, got, want)
		}
	}
}
