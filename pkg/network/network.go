// pkg/network/network.go
package network

// MemoryStore is the set of memory operations the HTTP handlers dispatch to.
// *store.Local satisfies it.
type MemoryStore interface {
	Initialize(id string, data []byte)
	WriteByteAt(id string, address uint16, value uint8) error
	ReadByteAt(id string, address uint16) (uint8, error)
	ReadRange(id string, address, length uint16) ([]byte, error)
}
