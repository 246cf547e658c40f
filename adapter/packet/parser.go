// Package packet decodes Ethernet/IPv4/TCP/UDP frames into a view the
// pipeline can hash and inspect without copying payload bytes.
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/forest33/dpipe/business/entity"
)

const (
	ethHeaderLen    = 14
	minIPHeaderLen  = 20
	minTCPHeaderLen = 20
	udpHeaderLen    = 8
)

// Parser decodes raw frames. Stateless; safe for concurrent use.
type Parser struct{}

func New() *Parser {
	return &Parser{}
}

// Parse decodes one frame. Frames that are not IPv4 still parse the
// Ethernet layer; IPv4 frames carrying neither TCP nor UDP parse the
// network layer only. Malformed headers are rejected with an error.
func (p *Parser) Parse(data []byte) (*entity.ParsedPacket, error) {
	if len(data) < ethHeaderLen {
		return nil, entity.ErrWrongPacketLength
	}

	parsed := &entity.ParsedPacket{
		DstMAC:    macToString(data[0:6]),
		SrcMAC:    macToString(data[6:12]),
		EtherType: binary.BigEndian.Uint16(data[12:14]),
	}
	offset := ethHeaderLen

	if parsed.EtherType != entity.EtherTypeIPv4 {
		return parsed, nil
	}

	offset, err := p.parseIPv4(data, offset, parsed)
	if err != nil {
		return nil, err
	}

	switch parsed.Protocol {
	case entity.IPProtocolTCP:
		offset, err = p.parseTCP(data, offset, parsed)
	case entity.IPProtocolUDP:
		offset, err = p.parseUDP(data, offset, parsed)
	default:
		// Valid IP packet without an inspected transport layer.
	}
	if err != nil {
		return nil, err
	}

	// Bytes past the IPv4 total length are link-layer padding, not payload.
	end := len(data)
	if totalLen := int(binary.BigEndian.Uint16(data[ethHeaderLen+2 : ethHeaderLen+4])); totalLen >= minIPHeaderLen && ethHeaderLen+totalLen < end {
		end = ethHeaderLen + totalLen
	}
	if offset < end {
		parsed.PayloadOffset = offset
		parsed.PayloadLength = end - offset
	}

	return parsed, nil
}

func (p *Parser) parseIPv4(data []byte, offset int, parsed *entity.ParsedPacket) (int, error) {
	if len(data) < offset+minIPHeaderLen {
		return 0, entity.ErrWrongPacketLength
	}

	ip := data[offset:]
	parsed.IPVersion = ip[0] >> 4
	if parsed.IPVersion != 4 {
		return 0, entity.ErrWrongPacketData
	}

	ihl := int(ip[0]&0x0F) * 4
	if ihl < minIPHeaderLen || len(data) < offset+ihl {
		return 0, entity.ErrWrongPacketData
	}

	parsed.TTL = ip[8]
	parsed.Protocol = ip[9]
	parsed.SrcIP = entity.IPFromBytes(ip[12:16])
	parsed.DstIP = entity.IPFromBytes(ip[16:20])
	parsed.HasIP = true

	return offset + ihl, nil
}

func (p *Parser) parseTCP(data []byte, offset int, parsed *entity.ParsedPacket) (int, error) {
	if len(data) < offset+minTCPHeaderLen {
		return 0, entity.ErrWrongPacketLength
	}

	tcp := data[offset:]
	parsed.SrcPort = binary.BigEndian.Uint16(tcp[0:2])
	parsed.DstPort = binary.BigEndian.Uint16(tcp[2:4])
	parsed.Seq = binary.BigEndian.Uint32(tcp[4:8])
	parsed.Ack = binary.BigEndian.Uint32(tcp[8:12])
	parsed.TCPFlags = tcp[13]

	headerLen := int(tcp[12]>>4) * 4
	if headerLen < minTCPHeaderLen || len(data) < offset+headerLen {
		return 0, entity.ErrWrongPacketData
	}

	parsed.HasTCP = true
	return offset + headerLen, nil
}

func (p *Parser) parseUDP(data []byte, offset int, parsed *entity.ParsedPacket) (int, error) {
	if len(data) < offset+udpHeaderLen {
		return 0, entity.ErrWrongPacketLength
	}

	udp := data[offset:]
	parsed.SrcPort = binary.BigEndian.Uint16(udp[0:2])
	parsed.DstPort = binary.BigEndian.Uint16(udp[2:4])
	parsed.HasUDP = true

	return offset + udpHeaderLen, nil
}

// Tuple builds the five-tuple of a parsed TCP/UDP packet.
func Tuple(parsed *entity.ParsedPacket) entity.FiveTuple {
	return entity.FiveTuple{
		SrcIP:    parsed.SrcIP,
		DstIP:    parsed.DstIP,
		SrcPort:  parsed.SrcPort,
		DstPort:  parsed.DstPort,
		Protocol: parsed.Protocol,
	}
}

func macToString(b []byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}
