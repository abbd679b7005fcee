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

// Package kpkgerr defines the error taxonomy shared by every kpkg core
// package: FormatError, ValidationError, CryptoError, IOError,
// AnalysisError and PolicyError. Every core function that can fail returns
// one of these (wrapped via github.com/pkg/errors so a cause chain
// survives), never a bare string error, so a caller can errors.As its way
// to the failure kind without parsing messages.
package kpkgerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind distinguishes the taxonomy buckets from section 7 of the design.
type Kind string

const (
	KindFormat     Kind = "format"
	KindValidation Kind = "validation"
	KindCrypto     Kind = "crypto"
	KindIO         Kind = "io"
	KindAnalysis   Kind = "analysis"
	KindPolicy     Kind = "policy"
)

// Code names a specific failure mode within a Kind, matching the literal
// names used in the design (BadMagic, TrailingBytes, Rollback, ...).
type Code string

// FormatError codes.
const (
	CodeBadMagic          Code = "BadMagic"
	CodeUnsupportedVer    Code = "UnsupportedVersion"
	CodeFieldOverflow     Code = "FieldOverflow"
	CodeRegionOverlap     Code = "RegionOverlap"
	CodeRegionOutOfBounds Code = "RegionOutOfBounds"
	CodeNonZeroReserved   Code = "NonZeroReserved"
	CodeTrailingBytes     Code = "TrailingBytes"
)

// CryptoError codes.
const (
	CodeSignatureInvalid Code = "SignatureInvalid"
	CodeUntrustedKey     Code = "UntrustedKey"
	CodeRollback         Code = "Rollback"
	CodeInsufficientSigs Code = "InsufficientSignatures"
)

// Error is the concrete type every exported kpkg error satisfies.
type Error struct {
	Kind Kind
	Code Code
	// Path addresses a manifest field ("capabilities.network.connect[2].spki_pins[0]")
	// for ValidationError, empty otherwise.
	Path string
	// Offset is a byte offset into a package for FormatError, zero otherwise.
	Offset int64
	// Line is a 1-based input line number for AnalysisError, zero otherwise.
	Line int
	msg  string
	err  error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.msg)
	case e.Offset != 0:
		return fmt.Sprintf("%s: offset %d: %s", e.Kind, e.Offset, e.msg)
	case e.Line != 0:
		return fmt.Sprintf("%s: line %d: %s", e.Kind, e.Line, e.msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.msg)
	}
}

func (e *Error) Unwrap() error { return e.err }

// newErr wraps cause with errors.Wrap so the chain carries a stack trace
// from the point of failure, not just from wherever it is later logged.
func newErr(kind Kind, code Code, msg string, cause error) *Error {
	var err error
	if cause != nil {
		err = errors.Wrap(cause, msg)
	}
	return &Error{Kind: kind, Code: code, msg: msg, err: err}
}

// Format builds a FormatError at a given byte offset in the package.
func Format(code Code, offset int64, msg string, cause error) *Error {
	e := newErr(KindFormat, code, msg, cause)
	e.Offset = offset
	return e
}

// Validation builds a ValidationError addressed at a manifest field path.
func Validation(path, msg string, cause error) *Error {
	e := newErr(KindValidation, "", msg, cause)
	e.Path = path
	return e
}

// Crypto builds a CryptoError.
func Crypto(code Code, msg string, cause error) *Error {
	return newErr(KindCrypto, code, msg, cause)
}

// IO builds an IOError.
func IO(msg string, cause error) *Error {
	return newErr(KindIO, "", msg, cause)
}

// Analysis builds an AnalysisError, optionally addressed at an input line.
func Analysis(line int, msg string, cause error) *Error {
	e := newErr(KindAnalysis, "", msg, cause)
	e.Line = line
	return e
}

// Policy builds a PolicyError.
func Policy(msg string, cause error) *Error {
	return newErr(KindPolicy, "", msg, cause)
}

// Is reports whether err is a kpkg Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// IsCode reports whether err is a kpkg Error with the given Code.
func IsCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
