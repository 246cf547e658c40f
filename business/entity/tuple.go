// Package entity provides entities for business logic.
package entity

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
)

const (
	fnvBasis = 14695981039346656037
	fnvPrime = 1099511628211
)

const (
	// IPProtocolTCP transport protocol number for TCP
	IPProtocolTCP uint8 = 6
	// IPProtocolUDP transport protocol number for UDP
	IPProtocolUDP uint8 = 17
)

// FiveTuple identifies one direction of a flow. IP addresses are kept
// in wire byte order: octet 0 of the dotted quad lives in the low byte.
// Hashing and equality operate on this representation, which keeps
// shard selection stable across runs.
type FiveTuple struct {
	SrcIP    uint32
	DstIP    uint32
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Reverse returns the tuple of the opposite direction.
func (t FiveTuple) Reverse() FiveTuple {
	return FiveTuple{
		SrcIP:    t.DstIP,
		DstIP:    t.SrcIP,
		SrcPort:  t.DstPort,
		DstPort:  t.SrcPort,
		Protocol: t.Protocol,
	}
}

// Hash mixes all five fields with FNV-1a. Used by both dispatch stages,
// so every packet of a tuple lands on the same load balancer and the
// same fast path worker.
func (t FiveTuple) Hash() uint64 {
	var buf [13]byte
	buf[0] = byte(t.SrcIP)
	buf[1] = byte(t.SrcIP >> 8)
	buf[2] = byte(t.SrcIP >> 16)
	buf[3] = byte(t.SrcIP >> 24)
	buf[4] = byte(t.DstIP)
	buf[5] = byte(t.DstIP >> 8)
	buf[6] = byte(t.DstIP >> 16)
	buf[7] = byte(t.DstIP >> 24)
	buf[8] = byte(t.SrcPort)
	buf[9] = byte(t.SrcPort >> 8)
	buf[10] = byte(t.DstPort)
	buf[11] = byte(t.DstPort >> 8)
	buf[12] = t.Protocol

	h := uint64(fnvBasis)
	for i := 0; i < len(buf); i++ {
		h ^= uint64(buf[i])
		h *= fnvPrime
	}
	return h
}

func (t FiveTuple) String() string {
	proto := "?"
	switch t.Protocol {
	case IPProtocolTCP:
		proto = "TCP"
	case IPProtocolUDP:
		proto = "UDP"
	}
	return fmt.Sprintf("%s:%d -> %s:%d (%s)",
		IPToString(t.SrcIP), t.SrcPort, IPToString(t.DstIP), t.DstPort, proto)
}

// IPToString formats a wire-order IPv4 address, low byte first.
func IPToString(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip), byte(ip>>8), byte(ip>>16), byte(ip>>24))
}

// IPFromBytes packs four wire-order octets into the wire-order uint32.
func IPFromBytes(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// ParseIP converts a dotted quad into the wire-order uint32.
func ParseIP(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, errors.Wrapf(ErrBadIPAddress, "%q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, errors.Wrapf(ErrBadIPAddress, "%q is not IPv4", s)
	}
	return IPFromBytes(v4), nil
}
