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
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/nestybox/kpkg/kpkgerr"
)

// rawKind tags the dynamic type a rawValue holds.
type rawKind int

const (
	rawString rawKind = iota
	rawBool
	rawInt
	rawArray
)

type rawValue struct {
	kind rawKind
	str  string
	b    bool
	i    int64
	arr  []rawValue
	line int
}

// rawSection is one [section] or one element of a [[section]] array, holding
// the key-value pairs assigned directly under that header.
type rawSection struct {
	kv   map[string]rawValue
	line int
}

// rawDoc is the unchecked parse tree: root-level scalars, singleton
// sections addressed by dotted path, and array-of-table sections addressed
// by dotted path with one *rawSection per [[...]] occurrence, in order.
type rawDoc struct {
	root     map[string]rawValue
	sections map[string]*rawSection
	arrays   map[string][]*rawSection
	// sectionOrder records the order in which singleton sections first
	// appear. Parse does not consult it; its section checks iterate the
	// sections map.
	sectionOrder []string
}

var bom = []byte{0xEF, 0xBB, 0xBF}

// parseRaw tokenizes manifest text into a rawDoc without applying any
// schema knowledge: it enforces only lexical well-formedness (quoting,
// section nesting, NUL/BOM rejection), never which keys are legal where.
func parseRaw(text []byte) (*rawDoc, error) {
	if bytes.HasPrefix(text, bom) {
		return nil, kpkgerr.Validation("", "manifest must not start with a UTF-8 BOM", nil)
	}
	if bytes.IndexByte(text, 0) >= 0 {
		return nil, kpkgerr.Validation("", "manifest contains an embedded NUL byte", nil)
	}

	doc := &rawDoc{
		root:     map[string]rawValue{},
		sections: map[string]*rawSection{},
		arrays:   map[string][]*rawSection{},
	}

	var current *rawSection
	var currentPath string

	lines := strings.Split(string(text), "\n")
	for i, raw := range lines {
		lineNo := i + 1
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if strings.HasPrefix(trimmed, "[[") {
			path, err := parseSectionHeader(trimmed, "[[", "]]", lineNo)
			if err != nil {
				return nil, err
			}
			sec := &rawSection{kv: map[string]rawValue{}, line: lineNo}
			doc.arrays[path] = append(doc.arrays[path], sec)
			current = sec
			currentPath = path + "[" + strconv.Itoa(len(doc.arrays[path])-1) + "]"
			if path != "capabilities.network.connect" && path != "capabilities.ipc" {
				// fall back to a generic index label for any future array section
				currentPath = path + "[]"
			}
			continue
		}

		if strings.HasPrefix(trimmed, "[") {
			path, err := parseSectionHeader(trimmed, "[", "]", lineNo)
			if err != nil {
				return nil, err
			}
			if _, exists := doc.sections[path]; exists {
				return nil, kpkgerr.Validation(path, fmt.Sprintf("duplicate section at line %d", lineNo), nil)
			}
			sec := &rawSection{kv: map[string]rawValue{}, line: lineNo}
			doc.sections[path] = sec
			doc.sectionOrder = append(doc.sectionOrder, path)
			current = sec
			currentPath = path
			continue
		}

		key, val, err := parseAssignment(trimmed, lineNo)
		if err != nil {
			return nil, err
		}
		val.line = lineNo

		if current == nil {
			if _, exists := doc.root[key]; exists {
				return nil, kpkgerr.Validation(key, fmt.Sprintf("duplicate key at line %d", lineNo), nil)
			}
			doc.root[key] = val
		} else {
			if _, exists := current.kv[key]; exists {
				return nil, kpkgerr.Validation(currentPath+"."+key, fmt.Sprintf("duplicate key at line %d", lineNo), nil)
			}
			current.kv[key] = val
		}
	}

	return doc, nil
}

func parseSectionHeader(trimmed, open, close string, lineNo int) (string, error) {
	if !strings.HasSuffix(trimmed, close) {
		return "", kpkgerr.Validation("", fmt.Sprintf("malformed section header at line %d", lineNo), nil)
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, open), close)
	inner = strings.TrimSpace(inner)
	if inner == "" || !isDottedIdent(inner) {
		return "", kpkgerr.Validation("", fmt.Sprintf("invalid section path %q at line %d", inner, lineNo), nil)
	}
	return inner, nil
}

func isDottedIdent(s string) bool {
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				return false
			}
		}
	}
	return true
}

func parseAssignment(trimmed string, lineNo int) (string, rawValue, error) {
	eq := strings.Index(trimmed, "=")
	if eq < 0 {
		return "", rawValue{}, kpkgerr.Validation("", fmt.Sprintf("expected key=value at line %d", lineNo), nil)
	}
	key := strings.TrimSpace(trimmed[:eq])
	if key == "" || !isIdent(key) {
		return "", rawValue{}, kpkgerr.Validation("", fmt.Sprintf("invalid key %q at line %d", key, lineNo), nil)
	}
	valText := strings.TrimSpace(trimmed[eq+1:])
	val, err := parseValue(valText, lineNo)
	if err != nil {
		return "", rawValue{}, err
	}
	return key, val, nil
}

func isIdent(s string) bool {
	for _, r := range s {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

func parseValue(s string, lineNo int) (rawValue, error) {
	switch {
	case strings.HasPrefix(s, "\""):
		return parseQuotedString(s, lineNo)
	case strings.HasPrefix(s, "["):
		return parseArray(s, lineNo)
	case s == "true":
		return rawValue{kind: rawBool, b: true}, nil
	case s == "false":
		return rawValue{kind: rawBool, b: false}, nil
	default:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return rawValue{}, kpkgerr.Validation("", fmt.Sprintf("invalid value %q at line %d", s, lineNo), err)
		}
		return rawValue{kind: rawInt, i: n}, nil
	}
}

func parseQuotedString(s string, lineNo int) (rawValue, error) {
	if len(s) < 2 || s[len(s)-1] != '"' {
		return rawValue{}, kpkgerr.Validation("", fmt.Sprintf("unterminated string at line %d", lineNo), nil)
	}
	body := s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '"' {
			return rawValue{}, kpkgerr.Validation("", fmt.Sprintf("unescaped quote inside string at line %d", lineNo), nil)
		}
		if c == '\\' && i+1 < len(body) {
			i++
			switch body[i] {
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			case 'n':
				b.WriteByte('\n')
			default:
				return rawValue{}, kpkgerr.Validation("", fmt.Sprintf("invalid escape at line %d", lineNo), nil)
			}
			continue
		}
		b.WriteByte(c)
	}
	return rawValue{kind: rawString, str: b.String()}, nil
}

func parseArray(s string, lineNo int) (rawValue, error) {
	if s[len(s)-1] != ']' {
		return rawValue{}, kpkgerr.Validation("", fmt.Sprintf("unterminated array at line %d", lineNo), nil)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	arr := rawValue{kind: rawArray}
	if inner == "" {
		return arr, nil
	}
	for _, part := range splitTopLevelCommas(inner) {
		v, err := parseValue(strings.TrimSpace(part), lineNo)
		if err != nil {
			return rawValue{}, err
		}
		arr.arr = append(arr.arr, v)
	}
	return arr, nil
}

// splitTopLevelCommas splits on commas that are not inside a quoted string.
func splitTopLevelCommas(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' {
			inQuote = !inQuote
		}
		if c == ',' && !inQuote {
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	parts = append(parts, cur.String())
	return parts
}
