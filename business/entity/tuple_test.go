package entity

import "testing"

func TestTupleReverse(t *testing.T) {
	tuple := FiveTuple{SrcIP: 1, DstIP: 2, SrcPort: 3, DstPort: 4, Protocol: IPProtocolTCP}
	rev := tuple.Reverse()

	if rev.SrcIP != 2 || rev.DstIP != 1 || rev.SrcPort != 4 || rev.DstPort != 3 || rev.Protocol != IPProtocolTCP {
		t.Fatalf("reverse = %+v", rev)
	}
	if rev.Reverse() != tuple {
		t.Fatal("double reverse is not the identity")
	}
}

func TestTupleHash(t *testing.T) {
	tuple := FiveTuple{SrcIP: 0x0100000a, DstIP: 0x0200000a, SrcPort: 40000, DstPort: 443, Protocol: IPProtocolTCP}

	h := tuple.Hash()
	for i := 0; i < 10; i++ {
		if tuple.Hash() != h {
			t.Fatal("hash not deterministic")
		}
	}

	if tuple.Reverse().Hash() == h {
		t.Fatal("reverse tuple hashes identically")
	}

	other := tuple
	other.DstPort = 80
	if other.Hash() == h {
		t.Fatal("different tuple hashes identically")
	}
}

func TestIPWireOrder(t *testing.T) {
	ip, err := ParseIP("192.168.1.200")
	if err != nil {
		t.Fatal(err)
	}

	// Wire order: first octet in the low byte.
	if byte(ip) != 192 || byte(ip>>8) != 168 || byte(ip>>16) != 1 || byte(ip>>24) != 200 {
		t.Fatalf("wire order broken: %#x", ip)
	}
	if got := IPToString(ip); got != "192.168.1.200" {
		t.Fatalf("IPToString = %s", got)
	}
	if got := IPFromBytes([]byte{192, 168, 1, 200}); got != ip {
		t.Fatalf("IPFromBytes = %#x, want %#x", got, ip)
	}
}

func TestParseIPErrors(t *testing.T) {
	for _, s := range []string{"", "nope", "1.2.3", "300.1.1.1", "::1"} {
		if _, err := ParseIP(s); err == nil {
			t.Errorf("ParseIP(%q) succeeded", s)
		}
	}
}

func TestTupleString(t *testing.T) {
	tuple := FiveTuple{
		SrcIP:    IPFromBytes([]byte{10, 0, 0, 1}),
		DstIP:    IPFromBytes([]byte{10, 0, 0, 2}),
		SrcPort:  1234,
		DstPort:  443,
		Protocol: IPProtocolTCP,
	}
	if got := tuple.String(); got != "10.0.0.1:1234 -> 10.0.0.2:443 (TCP)" {
		t.Fatalf("String = %q", got)
	}
}
