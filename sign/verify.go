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

	"github.com/sirupsen/logrus"

	"github.com/nestybox/kpkg/kpkgerr"
)

// TrustStore maps a key fingerprint to the public key it belongs to. Only
// keys present here can ever satisfy verification.
type TrustStore map[Fingerprint]ed25519.PublicKey

// NewTrustStore builds a TrustStore from a list of trusted public keys.
func NewTrustStore(pubkeys ...ed25519.PublicKey) TrustStore {
	ts := make(TrustStore, len(pubkeys))
	for _, pub := range pubkeys {
		ts[FingerprintOf(pub)] = pub
	}
	return ts
}

// EpochStore tracks the highest epoch seen for each package name, for
// anti-rollback enforcement. Lookup's second return is false when no
// epoch has ever been recorded for name.
type EpochStore interface {
	Lookup(name string) (uint64, bool)
	Record(name string, epoch uint64) error
}

// MemoryEpochStore is an in-memory EpochStore reference implementation,
// suitable for tests and for hosts that do not need persistence across
// process restarts.
type MemoryEpochStore struct {
	epochs map[string]uint64
}

// NewMemoryEpochStore returns an empty in-memory epoch store.
func NewMemoryEpochStore() *MemoryEpochStore {
	return &MemoryEpochStore{epochs: map[string]uint64{}}
}

func (s *MemoryEpochStore) Lookup(name string) (uint64, bool) {
	e, ok := s.epochs[name]
	return e, ok
}

func (s *MemoryEpochStore) Record(name string, epoch uint64) error {
	if cur, ok := s.epochs[name]; ok && epoch <= cur {
		return nil
	}
	s.epochs[name] = epoch
	return nil
}

var vlog = logrus.WithField("pkg", "sign")

// Verifier checks detached signatures against a pinned trust set, with an
// N-of-M distinct-signer threshold and optional anti-rollback enforcement.
type Verifier struct {
	Trust  TrustStore
	N      int
	Epochs EpochStore
}

// NewVerifier builds a Verifier requiring n distinct trusted signers. A
// nil EpochStore disables anti-rollback enforcement.
func NewVerifier(trust TrustStore, n int, epochs EpochStore) *Verifier {
	if n < 1 {
		n = 1
	}
	return &Verifier{Trust: trust, N: n, Epochs: epochs}
}

// Verify checks f (the complete package bytes) against sigs. It requires
// at least v.N distinct trusted fingerprints to produce a mathematically
// valid signature over f; a signer appearing twice in sigs counts once,
// per the design's safe default for duplicate signers. If name is
// non-empty and v.Epochs is set, it also enforces anti-rollback.
func (v *Verifier) Verify(f []byte, sigs []Signature, name string, epoch uint64) error {
	if len(sigs) == 0 {
		return kpkgerr.Crypto(kpkgerr.CodeSignatureInvalid, "no signatures present", nil)
	}

	distinct := map[Fingerprint]bool{}
	sawUntrusted := false
	for _, sig := range sigs {
		pub, ok := v.Trust[sig.Fingerprint]
		if !ok {
			sawUntrusted = true
			continue
		}
		if !ed25519.Verify(pub, f, sig.Sig[:]) {
			continue
		}
		distinct[sig.Fingerprint] = true
	}

	if len(distinct) < v.N {
		if len(distinct) == 0 && sawUntrusted {
			return kpkgerr.Crypto(kpkgerr.CodeUntrustedKey, "no signature from a trusted key", nil)
		}
		return kpkgerr.Crypto(kpkgerr.CodeInsufficientSigs, "fewer than the required number of distinct trusted signatures verified", nil)
	}

	if v.Epochs != nil && name != "" {
		if err := v.checkRollback(name, epoch); err != nil {
			return err
		}
	}

	vlog.Debugf("verified %d distinct trusted signature(s) for %q", len(distinct), name)
	return nil
}

func (v *Verifier) checkRollback(name string, epoch uint64) error {
	max, ok := v.Epochs.Lookup(name)
	if ok && epoch < max {
		return kpkgerr.Crypto(kpkgerr.CodeRollback, "package epoch is below the stored maximum", nil)
	}
	if err := v.Epochs.Record(name, epoch); err != nil {
		return kpkgerr.IO("failed to record epoch", err)
	}
	return nil
}
