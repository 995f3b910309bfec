package dataType

import (
	"errors"
	"fmt"
	"net/netip"
	"unsafe"
)

var (
	ErrInvalidPrefix = errors.New("invalid prefix")
	ErrInvalidFamily = errors.New("address family does not match trie")
)

type IPFamily int

const (
	IPv4 IPFamily = 4
	IPv6 IPFamily = 6
)

func (f IPFamily) bits() int {
	if f == IPv6 {
		return 128
	}
	return 32
}

func (f IPFamily) String() string {
	if f == IPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// FamilyOf reports the trie family an address belongs to. IPv4-mapped IPv6
// addresses count as IPv4.
func FamilyOf(addr netip.Addr) IPFamily {
	if addr.Unmap().Is4() {
		return IPv4
	}
	return IPv6
}

const (
	trieChunkSize = 64 // nodes reserved from the pool at a time
	trieNil       = 0  // the root can never be a child, and payload 0 means none
)

// trieNode lives inside a pool chunk, so it holds no Go pointers. Payload
// indexes IPTrie.payloads.
type trieNode struct {
	children [2]int32
	payload  int32
	isEnd    bool
}

const trieNodeSize = int(unsafe.Sizeof(trieNode{}))

// IPTrie is a binary trie over the bits of one address family. Nodes are
// packed into chunks allocated from the pool and reference each other by
// index; payload bytes are pool blocks of their own. Tries are rebuilt as a
// whole on rule reload and never shrink.
type IPTrie struct {
	family   IPFamily
	pool     Pool
	chunks   [][]byte
	count    int32
	payloads [][]byte
	matchAll bool
	size     int
}

func NewIPTrie(family IPFamily, pool Pool) (*IPTrie, error) {
	if family != IPv4 && family != IPv6 {
		return nil, fmt.Errorf("%w: unknown family %d", ErrInvalidFamily, family)
	}
	t := &IPTrie{family: family, pool: pool}
	if _, err := t.newNode(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *IPTrie) node(i int32) *trieNode {
	chunk := t.chunks[int(i)/trieChunkSize]
	off := (int(i) % trieChunkSize) * trieNodeSize
	return (*trieNode)(unsafe.Pointer(&chunk[off]))
}

func (t *IPTrie) newNode() (int32, error) {
	if int(t.count) == len(t.chunks)*trieChunkSize {
		chunk, err := t.pool.Allocate(trieChunkSize * trieNodeSize)
		if err != nil {
			return trieNil, fmt.Errorf("allocate trie nodes: %w", err)
		}
		t.chunks = append(t.chunks, chunk)
	}
	i := t.count
	t.count++
	*t.node(i) = trieNode{}
	return i, nil
}

func (t *IPTrie) payloadOf(n *trieNode) []byte {
	if n.payload == trieNil {
		return nil
	}
	return t.payloads[n.payload]
}

// Insert stores the first prefixLen bits of addr. A zero length prefix
// makes the trie match everything. Re-inserting a prefix replaces its
// payload.
func (t *IPTrie) Insert(addr netip.Addr, prefixLen int, payload []byte) error {
	addr = addr.Unmap()
	if !addr.IsValid() || FamilyOf(addr) != t.family {
		return fmt.Errorf("%w: %s in %s trie", ErrInvalidFamily, addr, t.family)
	}
	if prefixLen < 0 || prefixLen > t.family.bits() {
		return fmt.Errorf("%w: /%d for %s", ErrInvalidPrefix, prefixLen, t.family)
	}
	if prefixLen == 0 {
		if !addr.IsUnspecified() {
			return fmt.Errorf("%w: %s/0 must use the unspecified address", ErrInvalidPrefix, addr)
		}
		t.matchAll = true
		return nil
	}

	if t.count == 0 {
		if _, err := t.newNode(); err != nil {
			return err
		}
	}

	raw := addr.AsSlice()
	current := int32(0)
	for i := 0; i < prefixLen; i++ {
		bit := (raw[i/8] >> (7 - uint(i%8))) & 1
		next := t.node(current).children[bit]
		if next == trieNil {
			created, err := t.newNode()
			if err != nil {
				return err
			}
			t.node(current).children[bit] = created
			next = created
		}
		current = next
	}

	var stored []byte
	if len(payload) > 0 {
		block, err := t.pool.Allocate(len(payload))
		if err != nil {
			return fmt.Errorf("allocate trie payload: %w", err)
		}
		copy(block, payload)
		stored = block
	}
	node := t.node(current)
	switch {
	case node.payload != trieNil:
		t.pool.Release(t.payloads[node.payload])
		t.payloads[node.payload] = stored
	case stored != nil:
		if len(t.payloads) == 0 {
			t.payloads = append(t.payloads, nil)
		}
		node.payload = int32(len(t.payloads))
		t.payloads = append(t.payloads, stored)
	}
	if !node.isEnd {
		node.isEnd = true
		t.size++
	}
	return nil
}

// InsertPrefix inserts a parsed CIDR prefix.
func (t *IPTrie) InsertPrefix(prefix netip.Prefix, payload []byte) error {
	if !prefix.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidPrefix, prefix)
	}
	addr, bits := prefix.Addr(), prefix.Bits()
	if addr.Is4In6() {
		// ::ffff:a.b.c.d/n covers the IPv4 space below its first 96 bits
		if bits < 96 {
			return fmt.Errorf("%w: %s", ErrInvalidPrefix, prefix)
		}
		addr, bits = addr.Unmap(), bits-96
	}
	return t.Insert(addr, bits, payload)
}

// Contains walks the address bits and stops at the first node that ends a
// stored prefix, so the shortest covering prefix decides. The returned
// payload is nil for prefixes stored without one and for match-all.
func (t *IPTrie) Contains(addr netip.Addr) ([]byte, bool) {
	if t.matchAll {
		return nil, true
	}
	addr = addr.Unmap()
	if !addr.IsValid() || FamilyOf(addr) != t.family || t.count == 0 {
		return nil, false
	}

	raw := addr.AsSlice()
	current := int32(0)
	for i := 0; i < t.family.bits(); i++ {
		node := t.node(current)
		if node.isEnd {
			return t.payloadOf(node), true
		}
		bit := (raw[i/8] >> (7 - uint(i%8))) & 1
		if node.children[bit] == trieNil {
			return nil, false
		}
		current = node.children[bit]
	}
	node := t.node(current)
	return t.payloadOf(node), node.isEnd
}

// Len is the number of distinct prefixes stored, not counting /0.
func (t *IPTrie) Len() int { return t.size }

func (t *IPTrie) MatchAll() bool { return t.matchAll }

func (t *IPTrie) Family() IPFamily { return t.family }

// Release hands every block back to the pool. The trie is empty afterwards;
// a later Insert allocates a new root.
func (t *IPTrie) Release() {
	for _, block := range t.payloads {
		t.pool.Release(block)
	}
	for _, chunk := range t.chunks {
		t.pool.Release(chunk)
	}
	t.chunks, t.payloads, t.count = nil, nil, 0
	t.matchAll, t.size = false, 0
}
