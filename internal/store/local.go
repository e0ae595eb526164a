// Package store holds the program images served by memstate. Each image is a
// fixed-length byte buffer registered under a caller-chosen identifier.
//
// All buffers share one reader/writer lock: reads of any identifier run in
// parallel, while Initialize and WriteByteAt exclude every other operation.
package store

import (
	"sync"

	"github.com/pkg/errors"
)

// addressSpace is the number of bytes reachable with a 16-bit address.
const addressSpace = 1 << 16

type Local struct {
	data map[string][]byte
	mu   sync.RWMutex
}

func NewLocal() *Local {
	return &Local{
		data: make(map[string][]byte),
	}
}

// Initialize installs a copy of data as the buffer for id, replacing any
// existing buffer wholesale.
func (s *Local) Initialize(id string, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = buf
}

func (s *Local) WriteByteAt(id string, address uint16, value uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := s.lookup(id, address)
	if err != nil {
		return err
	}
	buf[address] = value
	return nil
}

func (s *Local) ReadByteAt(id string, address uint16) (uint8, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, err := s.lookup(id, address)
	if err != nil {
		return 0, err
	}
	return buf[address], nil
}

// ReadRange returns a copy of buffer[address:address+length]. A zero length
// always succeeds once id exists. The end is computed without wrapping, and a
// range that would only fit by wrapping past the 16-bit address space fails
// with ErrInvalidRange.
func (s *Local) ReadRange(id string, address, length uint16) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, ok := s.data[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownIdentifier, "id %q", id)
	}
	if length == 0 {
		return []byte{}, nil
	}

	start := int(address)
	end := start + int(length)
	if end > addressSpace {
		return nil, errors.Wrapf(ErrInvalidRange, "id %q: range [%#x, %#x) wraps the address space", id, start, end)
	}
	if end > len(buf) {
		return nil, errors.Wrapf(ErrAddressOutOfRange, "id %q: range [%#x, %#x) exceeds length %d", id, start, end, len(buf))
	}

	out := make([]byte, length)
	copy(out, buf[start:end])
	return out, nil
}

// Len reports the length of the buffer registered under id.
func (s *Local) Len(id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, ok := s.data[id]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownIdentifier, "id %q", id)
	}
	return len(buf), nil
}

// Count reports how many identifiers hold a buffer.
func (s *Local) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// lookup must be called with s.mu held.
func (s *Local) lookup(id string, address uint16) ([]byte, error) {
	buf, ok := s.data[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownIdentifier, "id %q", id)
	}
	if int(address) >= len(buf) {
		return nil, errors.Wrapf(ErrAddressOutOfRange, "id %q: address %#x, length %d", id, address, len(buf))
	}
	return buf, nil
}
