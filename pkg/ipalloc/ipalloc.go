// Package ipalloc hands out IPv4 addresses from a fixed subnet for new
// tarantool instances. The reference implementation treats this as an
// external collaborator (it imports an "ip_pool" module never defined in
// the retrieved source); here it is a small, self-contained sequential
// allocator since no third-party library in the corpus provides
// CIDR-based address allocation.
package ipalloc

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/cuemby/tarantoolctl/pkg/errs"
)

// UsedFunc reports the set of IPv4 addresses already assigned to a
// running instance, so Pool never hands out one that is still claimed by
// a blueprint. The lifecycle package wires this to a scan over every
// group's projected blueprint instances.
type UsedFunc func() map[string]bool

// Pool allocates sequential addresses from a CIDR, skipping the network
// address, the broadcast address, and anything UsedFunc reports as taken.
type Pool struct {
	mu    sync.Mutex
	cidr  *net.IPNet
	used  UsedFunc
	start uint32
	end   uint32
	next  uint32
}

// New builds a Pool over cidr (e.g. "10.20.0.0/24"). used is consulted on
// every AllocateIP call to skip addresses already in use.
func New(cidr string, used UsedFunc) (*Pool, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, err, "parse ip pool cidr")
	}
	start := ipToUint32(ipnet.IP) + 1 // skip network address
	ones, bits := ipnet.Mask.Size()
	size := uint32(1) << uint32(bits-ones)
	end := ipToUint32(ipnet.IP) + size - 2 // skip broadcast address
	if used == nil {
		used = func() map[string]bool { return nil }
	}
	return &Pool{cidr: ipnet, used: used, start: start, end: end, next: start}, nil
}

// AllocateIP returns the next free address in the subnet.
func (p *Pool) AllocateIP() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	taken := p.used()
	for i := uint32(0); i <= p.end-p.start; i++ {
		candidate := p.start + (p.next-p.start+i)%(p.end-p.start+1)
		ip := uint32ToIP(candidate).String()
		if !taken[ip] {
			p.next = candidate + 1
			return ip, nil
		}
	}
	return "", errs.New(errs.Capacity, "ip pool "+p.cidr.String()+" is exhausted")
}

func ipToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	return binary.BigEndian.Uint32(ip4)
}

func uint32ToIP(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}
