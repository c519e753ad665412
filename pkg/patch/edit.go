// Package patch holds the JSON-Patch shaped edits exchanged between the CRDT
// engine and the lens library.
package patch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the edit variant.
type Kind uint8

const (
	Add Kind = iota + 1
	Replace
	Remove
)

var kindNames = map[Kind]string{
	Add:     "add",
	Replace: "replace",
	Remove:  "remove",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind maps the JSON-Patch "op" string to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Edit is one structural edit against a value tree. Value is unset for Remove.
type Edit struct {
	Op    Kind   `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Patch is an ordered list of edits.
type Patch []Edit

func (e Edit) String() string {
	if e.Op == Remove {
		return fmt.Sprintf("%s %s", e.Op, e.Path)
	}
	raw, err := json.Marshal(e.Value)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", e.Value))
	}
	return fmt.Sprintf("%s %s %s", e.Op, e.Path, raw)
}

// WithPath returns a copy of the edit pointing at path.
func (e Edit) WithPath(path string) Edit {
	e.Path = path
	return e
}

// Split breaks a JSON pointer into unescaped segments. The empty pointer is the root.
func Split(pointer string) ([]string, error) {
	if pointer == "" {
		return []string{}, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPointer, pointer)
	}
	parts := strings.Split(pointer[1:], "/")
	for i, p := range parts {
		parts[i] = unescape(p)
	}
	return parts, nil
}

// Join builds a JSON pointer from segments.
func Join(segments ...string) string {
	if len(segments) == 0 {
		return ""
	}
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(escape(s))
	}
	return b.String()
}

// Index parses a list index segment.
func Index(segment string) (int, bool) {
	idx, err := strconv.Atoi(segment)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, "~1", "/")
	return strings.ReplaceAll(s, "~0", "~")
}
