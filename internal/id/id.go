// Package id provides opaque 128-bit identifiers for domain entities,
// generated by an injectable Generator so tests can produce deterministic
// sequences instead of random UUIDs.
package id

import "github.com/google/uuid"

// ID is an opaque, string-serialized 128-bit identifier.
type ID string

// Empty is the zero ID, used as a sentinel for an ID that has not been
// set.
const Empty ID = ""

func (i ID) String() string { return string(i) }

// IsEmpty reports whether the ID has not been assigned.
func (i ID) IsEmpty() bool { return i == Empty }

// Generator mints new IDs.
type Generator interface {
	New() ID
}

// UUIDGenerator is the production Generator, backed by google/uuid v4.
type UUIDGenerator struct{}

// New returns a fresh random UUID wrapped as an ID.
func (UUIDGenerator) New() ID {
	return ID(uuid.New().String())
}

// Sequential is a deterministic test Generator that yields "seq-0",
// "seq-1", ... in order, so fixtures can assert on exact identifiers.
type Sequential struct {
	prefix string
	next   int
}

// NewSequential creates a Sequential generator with the given prefix.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New returns the next identifier in sequence.
func (s *Sequential) New() ID {
	n := s.next
	s.next++
	return ID(s.prefix + "-" + itoa(n))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
