package fingerprint

const (
	dnsHeaderLen = 12
	dnsQRMask    = 0x80
	dnsMaxLabel  = 63
)

// IsDNSQuery reports whether the payload looks like a DNS query with
// at least one question.
func IsDNSQuery(payload []byte) bool {
	if len(payload) < dnsHeaderLen {
		return false
	}
	if payload[2]&dnsQRMask != 0 {
		// QR bit set: a response.
		return false
	}
	return be16(payload[4:]) > 0
}

// ExtractDNSQuery assembles the first question name from its labels.
// A label longer than 63 bytes is a compression pointer or garbage and
// ends the parse at whatever was collected so far.
func ExtractDNSQuery(payload []byte) (string, bool) {
	if !IsDNSQuery(payload) {
		return "", false
	}

	var name []byte
	offset := dnsHeaderLen
	for offset < len(payload) {
		labelLength := int(payload[offset])
		if labelLength == 0 {
			break
		}
		if labelLength > dnsMaxLabel {
			break
		}
		offset++
		if offset+labelLength > len(payload) {
			break
		}
		if len(name) > 0 {
			name = append(name, '.')
		}
		name = append(name, payload[offset:offset+labelLength]...)
		offset += labelLength
	}

	if len(name) == 0 {
		return "", false
	}
	return string(name), true
}
