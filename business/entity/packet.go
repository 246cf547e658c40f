package entity

// EtherTypeIPv4 the only EtherType the pipeline inspects beyond layer 2.
const EtherTypeIPv4 uint16 = 0x0800

// ParsedPacket is a decoded view over a raw frame. Payload is
// referenced by offset and length into the frame bytes, never copied.
type ParsedPacket struct {
	DstMAC    string
	SrcMAC    string
	EtherType uint16

	HasIP     bool
	IPVersion uint8
	TTL       uint8
	Protocol  uint8
	SrcIP     uint32 // wire byte order
	DstIP     uint32 // wire byte order

	HasTCP   bool
	HasUDP   bool
	SrcPort  uint16
	DstPort  uint16
	Seq      uint32
	Ack      uint32
	TCPFlags uint8

	PayloadOffset int
	PayloadLength int
}

// PacketJob travels between pipeline stages. The raw frame buffer is
// owned by exactly one stage at a time and handed over by move.
type PacketJob struct {
	ID    uint32
	Tuple FiveTuple
	Data  []byte

	TCPFlags      uint8
	PayloadOffset int
	PayloadLength int

	TsSec  uint32
	TsUsec uint32

	OrigLen uint32
}

// Payload returns the payload view into the frame, nil when empty.
func (j *PacketJob) Payload() []byte {
	if j.PayloadLength == 0 || j.PayloadOffset >= len(j.Data) {
		return nil
	}
	return j.Data[j.PayloadOffset : j.PayloadOffset+j.PayloadLength]
}
