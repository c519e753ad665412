package crdt

import (
	"fmt"
	"strconv"
	"strings"
)

// Comparison results.
const (
	Lower   = -1
	Equal   = 0
	Greater = 1
)

// OpID identifies an operation. Ops written by an actor have Sub == 0; ops
// derived during schema conversion borrow a source Counter and carry an
// increasing Sub so they sort right after it.
type OpID struct {
	Counter uint64
	Sub     uint32
	Actor   string
}

func (id OpID) IsZero() bool { return id.Counter == 0 && id.Sub == 0 && id.Actor == "" }

func (id OpID) Before(other OpID) bool { return Compare(id, other) == Lower }
func (id OpID) After(other OpID) bool  { return Compare(id, other) == Greater }

// String renders "counter@actor" or "counter.sub@actor".
func (id OpID) String() string {
	if id.Sub == 0 {
		return fmt.Sprintf("%d@%s", id.Counter, id.Actor)
	}
	return fmt.Sprintf("%d.%d@%s", id.Counter, id.Sub, id.Actor)
}

// Compare orders op ids by counter, then sub, then actor.
func Compare(a, b OpID) int {
	if a.Counter < b.Counter {
		return Lower
	}
	if a.Counter > b.Counter {
		return Greater
	}
	if a.Sub < b.Sub {
		return Lower
	}
	if a.Sub > b.Sub {
		return Greater
	}
	if a.Actor < b.Actor {
		return Lower
	}
	if a.Actor > b.Actor {
		return Greater
	}
	return Equal
}

// ParseOpID parses the textual form produced by OpID.String.
func ParseOpID(s string) (OpID, error) {
	at := strings.IndexByte(s, '@')
	if at <= 0 {
		return OpID{}, fmt.Errorf("%w: invalid op id %q", ErrMalformedChange, s)
	}
	counterPart, actor := s[:at], s[at+1:]
	var subPart string
	if dot := strings.IndexByte(counterPart, '.'); dot >= 0 {
		counterPart, subPart = counterPart[:dot], counterPart[dot+1:]
	}

	counter, err := strconv.ParseUint(counterPart, 10, 64)
	if err != nil {
		return OpID{}, fmt.Errorf("%w: invalid op id %q", ErrMalformedChange, s)
	}
	id := OpID{Counter: counter, Actor: actor}
	if subPart != "" {
		sub, err := strconv.ParseUint(subPart, 10, 32)
		if err != nil {
			return OpID{}, fmt.Errorf("%w: invalid op id %q", ErrMalformedChange, s)
		}
		id.Sub = uint32(sub)
	}
	return id, nil
}

func (id OpID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *OpID) UnmarshalText(text []byte) error {
	parsed, err := ParseOpID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
