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

// Package container implements the bit-exact .kpkg wire format: a 40-byte
// header followed immediately by the manifest bytes and then the binary
// bytes, with no gaps and no trailing data. Encode and Decode are pure
// functions; neither performs I/O.
package container

import (
	"encoding/binary"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/kpkg/kpkgerr"
)

// HeaderSize is the fixed size of the .kpkg header in bytes.
const HeaderSize = 40

// Magic is the 4-byte magic value every package starts with.
var Magic = [4]byte{'K', 'P', 'K', 'G'}

// Version1 is the only format version this package recognizes.
const Version1 uint16 = 1

const (
	offMagic           = 0
	offVersion         = 4
	offManifestSize    = 6
	offBinarySize      = 10
	offBinaryOffset    = 18
	offManifestOffset  = 26
	offReserved        = 34
	reservedLen        = 6
	minRegionOffset    = HeaderSize
)

// DecodeLimits bounds the region sizes Decode accepts, checked before any
// allocation proportional to an untrusted size field. Zero means "use the
// package default".
type DecodeLimits struct {
	MaxManifestSize uint64
	MaxBinarySize   uint64
}

// DefaultLimits matches section 5 of the design: 64 MiB manifest, 1 GiB binary.
func DefaultLimits() DecodeLimits {
	return DecodeLimits{
		MaxManifestSize: 64 * 1024 * 1024,
		MaxBinarySize:   1024 * 1024 * 1024,
	}
}

// Package is the decoded view of a .kpkg file: the header fields plus
// slices into the original buffer for the manifest and binary regions.
// Decode never copies these slices out of the input.
type Package struct {
	Version        uint16
	ManifestSize   uint32
	BinarySize     uint64
	BinaryOffset   uint64
	ManifestOffset uint64

	Manifest []byte
	Binary   []byte
}

var log = logrus.WithField("pkg", "container")

// Encode lays out header ‖ manifest ‖ binary with the manifest placed
// immediately after the header and the binary immediately after the
// manifest, per the canonical-encoding requirement: identical (manifest,
// binary) pairs always produce byte-identical output.
func Encode(manifest, bin []byte) ([]byte, error) {
	if uint64(len(manifest)) > math.MaxUint32 {
		return nil, kpkgerr.Format(kpkgerr.CodeFieldOverflow, offManifestSize, "manifest too large for manifest_size field", nil)
	}
	if uint64(len(bin)) > math.MaxUint64-uint64(HeaderSize)-uint64(len(manifest)) {
		return nil, kpkgerr.Format(kpkgerr.CodeFieldOverflow, offBinarySize, "binary too large for binary_size field", nil)
	}

	manifestOffset := uint64(HeaderSize)
	binaryOffset := manifestOffset + uint64(len(manifest))
	total := binaryOffset + uint64(len(bin))

	out := make([]byte, total)
	copy(out[offMagic:offMagic+4], Magic[:])
	binaryNativeEndian.PutUint16(out[offVersion:offVersion+2], Version1)
	binaryNativeEndian.PutUint32(out[offManifestSize:offManifestSize+4], uint32(len(manifest)))
	binaryNativeEndian.PutUint64(out[offBinarySize:offBinarySize+8], uint64(len(bin)))
	binaryNativeEndian.PutUint64(out[offBinaryOffset:offBinaryOffset+8], binaryOffset)
	binaryNativeEndian.PutUint64(out[offManifestOffset:offManifestOffset+8], manifestOffset)
	// reserved bytes are already zero from make([]byte, ...)

	copy(out[manifestOffset:manifestOffset+uint64(len(manifest))], manifest)
	copy(out[binaryOffset:], bin)

	log.Debugf("encoded package: manifest=%d bytes binary=%d bytes total=%d bytes", len(manifest), len(bin), total)

	return out, nil
}

var binaryNativeEndian = binary.LittleEndian

// Decode parses a .kpkg byte slice, validating every invariant in the
// design's section 3.1 before returning slices into f. It never allocates
// a buffer proportional to an untrusted field before bounds are checked.
func Decode(f []byte, limits DecodeLimits) (*Package, error) {
	def := DefaultLimits()
	if limits.MaxManifestSize == 0 {
		limits.MaxManifestSize = def.MaxManifestSize
	}
	if limits.MaxBinarySize == 0 {
		limits.MaxBinarySize = def.MaxBinarySize
	}

	if len(f) < HeaderSize {
		return nil, kpkgerr.Format(kpkgerr.CodeBadMagic, 0, "file shorter than header", nil)
	}
	if string(f[offMagic:offMagic+4]) != string(Magic[:]) {
		return nil, kpkgerr.Format(kpkgerr.CodeBadMagic, offMagic, "bad magic", nil)
	}

	version := binaryNativeEndian.Uint16(f[offVersion : offVersion+2])
	if version != Version1 {
		return nil, kpkgerr.Format(kpkgerr.CodeUnsupportedVer, offVersion, "unsupported version", nil)
	}

	manifestSize := binaryNativeEndian.Uint32(f[offManifestSize : offManifestSize+4])
	binarySize := binaryNativeEndian.Uint64(f[offBinarySize : offBinarySize+8])
	binaryOffset := binaryNativeEndian.Uint64(f[offBinaryOffset : offBinaryOffset+8])
	manifestOffset := binaryNativeEndian.Uint64(f[offManifestOffset : offManifestOffset+8])

	reserved := f[offReserved : offReserved+reservedLen]
	for _, b := range reserved {
		if b != 0 {
			return nil, kpkgerr.Format(kpkgerr.CodeNonZeroReserved, offReserved, "reserved bytes must be zero", nil)
		}
	}

	if uint64(manifestSize) > limits.MaxManifestSize {
		return nil, kpkgerr.Format(kpkgerr.CodeFieldOverflow, offManifestSize, "manifest_size exceeds caller limit", nil)
	}
	if binarySize > limits.MaxBinarySize {
		return nil, kpkgerr.Format(kpkgerr.CodeFieldOverflow, offBinarySize, "binary_size exceeds caller limit", nil)
	}

	if manifestOffset < minRegionOffset {
		return nil, kpkgerr.Format(kpkgerr.CodeRegionOutOfBounds, offManifestOffset, "manifest_offset overlaps header", nil)
	}
	if binaryOffset < minRegionOffset {
		return nil, kpkgerr.Format(kpkgerr.CodeRegionOutOfBounds, offBinaryOffset, "binary_offset overlaps header", nil)
	}

	manifestEnd, ok := addOverflow(manifestOffset, uint64(manifestSize))
	if !ok {
		return nil, kpkgerr.Format(kpkgerr.CodeFieldOverflow, offManifestOffset, "manifest region overflows", nil)
	}
	binaryEnd, ok := addOverflow(binaryOffset, binarySize)
	if !ok {
		return nil, kpkgerr.Format(kpkgerr.CodeFieldOverflow, offBinaryOffset, "binary region overflows", nil)
	}

	fileLen := uint64(len(f))
	if manifestEnd > fileLen {
		return nil, kpkgerr.Format(kpkgerr.CodeRegionOutOfBounds, offManifestOffset, "manifest region exceeds file length", nil)
	}
	if binaryEnd > fileLen {
		return nil, kpkgerr.Format(kpkgerr.CodeRegionOutOfBounds, offBinaryOffset, "binary region exceeds file length", nil)
	}

	if regionsOverlap(manifestOffset, manifestEnd, binaryOffset, binaryEnd) {
		return nil, kpkgerr.Format(kpkgerr.CodeRegionOverlap, offManifestOffset, "manifest and binary regions overlap", nil)
	}

	maxEnd := manifestEnd
	if binaryEnd > maxEnd {
		maxEnd = binaryEnd
	}
	if fileLen != maxEnd {
		return nil, kpkgerr.Format(kpkgerr.CodeTrailingBytes, int64(maxEnd), "trailing bytes after last region", nil)
	}

	p := &Package{
		Version:        version,
		ManifestSize:   manifestSize,
		BinarySize:     binarySize,
		BinaryOffset:   binaryOffset,
		ManifestOffset: manifestOffset,
		Manifest:       f[manifestOffset:manifestEnd],
		Binary:         f[binaryOffset:binaryEnd],
	}

	log.Debugf("decoded package: version=%d manifest=%d bytes binary=%d bytes", p.Version, p.ManifestSize, p.BinarySize)

	return p, nil
}

func addOverflow(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

func regionsOverlap(aStart, aEnd, bStart, bEnd uint64) bool {
	if aStart == aEnd || bStart == bEnd {
		return false
	}
	return aStart < bEnd && bStart < aEnd
}
