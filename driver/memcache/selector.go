package memcache

import (
	"hash/crc32"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bradfitz/gomemcache/memcache"
)

// staticAddr mirrors what the underlying client's own ServerList does:
// resolve once at SetServers time and hand out a stable net.Addr, so a
// DNS flap cannot silently move keys.
type staticAddr struct {
	network, str string
}

func newStaticAddr(a net.Addr) net.Addr {
	return &staticAddr{network: a.Network(), str: a.String()}
}

func (a *staticAddr) Network() string { return a.network }
func (a *staticAddr) String() string  { return a.str }

func resolve(server string) (net.Addr, error) {
	if strings.Contains(server, "/") {
		ua, err := net.ResolveUnixAddr("unix", server)
		if err != nil {
			return nil, err
		}
		return newStaticAddr(ua), nil
	}
	ta, err := net.ResolveTCPAddr("tcp", server)
	if err != nil {
		return nil, err
	}
	return newStaticAddr(ta), nil
}

// defaultReplicas is the virtual-node count per server. 160 points keeps
// the arc sizes within a few percent of even for typical fleet sizes.
const defaultReplicas = 160

// ConsistentSelector places servers on a crc32 hash ring with virtual
// nodes. Adding or removing a server remaps only the keys on its arcs;
// keys owned by surviving servers stay exactly where they were.
type ConsistentSelector struct {
	mu    sync.RWMutex
	ring  []uint32 // sorted hash points
	owner map[uint32]net.Addr
	addrs []net.Addr
}

var _ memcache.ServerSelector = (*ConsistentSelector)(nil)

// NewConsistentSelector builds a ring over servers.
func NewConsistentSelector(servers ...string) (*ConsistentSelector, error) {
	s := &ConsistentSelector{}
	if err := s.SetServers(servers...); err != nil {
		return nil, err
	}
	return s, nil
}

// SetServers rebuilds the ring. Each server contributes defaultReplicas
// hash points derived from "<replica>:<server>".
func (s *ConsistentSelector) SetServers(servers ...string) error {
	addrs := make([]net.Addr, len(servers))
	for i, srv := range servers {
		a, err := resolve(srv)
		if err != nil {
			return err
		}
		addrs[i] = a
	}

	ring := make([]uint32, 0, len(servers)*defaultReplicas)
	owner := make(map[uint32]net.Addr, len(servers)*defaultReplicas)
	for i, srv := range servers {
		for r := 0; r < defaultReplicas; r++ {
			h := crc32.ChecksumIEEE([]byte(strconv.Itoa(r) + ":" + srv))
			if _, taken := owner[h]; !taken {
				ring = append(ring, h)
			}
			owner[h] = addrs[i] // last writer wins the rare collision
		}
	}
	sort.Slice(ring, func(a, b int) bool { return ring[a] < ring[b] })

	s.mu.Lock()
	s.ring, s.owner, s.addrs = ring, owner, addrs
	s.mu.Unlock()
	return nil
}

// PickServer walks clockwise from the key's hash to the first hash point.
func (s *ConsistentSelector) PickServer(key string) (net.Addr, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.ring) == 0 {
		return nil, memcache.ErrNoServers
	}
	h := crc32.ChecksumIEEE([]byte(key))
	i := sort.Search(len(s.ring), func(i int) bool { return s.ring[i] >= h })
	if i == len(s.ring) {
		i = 0 // wrap around the ring
	}
	return s.owner[s.ring[i]], nil
}

func (s *ConsistentSelector) Each(f func(net.Addr) error) error {
	s.mu.RLock()
	addrs := s.addrs
	s.mu.RUnlock()
	for _, a := range addrs {
		if err := f(a); err != nil {
			return err
		}
	}
	return nil
}

// PHPSelector reproduces the php memcache extension's standard key
// placement, (crc32(key) >> 16) & 0x7fff modulo the server count, so a
// Go deployment can share a fleet with php code without splitting the
// key space.
type PHPSelector struct {
	mu    sync.RWMutex
	addrs []net.Addr
}

var _ memcache.ServerSelector = (*PHPSelector)(nil)

// NewPHPSelector resolves servers in the given order. Order is part of
// the contract: it must match the php side's server list.
func NewPHPSelector(servers ...string) (*PHPSelector, error) {
	s := &PHPSelector{}
	if err := s.SetServers(servers...); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PHPSelector) SetServers(servers ...string) error {
	addrs := make([]net.Addr, len(servers))
	for i, srv := range servers {
		a, err := resolve(srv)
		if err != nil {
			return err
		}
		addrs[i] = a
	}
	s.mu.Lock()
	s.addrs = addrs
	s.mu.Unlock()
	return nil
}

func (s *PHPSelector) PickServer(key string) (net.Addr, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.addrs) == 0 {
		return nil, memcache.ErrNoServers
	}
	h := (crc32.ChecksumIEEE([]byte(key)) >> 16) & 0x7fff
	return s.addrs[int(h)%len(s.addrs)], nil
}

func (s *PHPSelector) Each(f func(net.Addr) error) error {
	s.mu.RLock()
	addrs := s.addrs
	s.mu.RUnlock()
	for _, a := range addrs {
		if err := f(a); err != nil {
			return err
		}
	}
	return nil
}
