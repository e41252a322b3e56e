package frame

import "testing"

func TestAddressValidate(t *testing.T) {
	cases := []struct {
		addr    Address
		wantErr bool
	}{
		{0x00, false},
		{0x3F, false},
		{0x20, false},
		{0x40, true},
		{0xFF, true},
	}
	for _, c := range cases {
		err := c.addr.Validate()
		if (err != nil) != c.wantErr {
			t.Fatalf("Address(0x%02X).Validate() err=%v, wantErr=%v", uint8(c.addr), err, c.wantErr)
		}
	}
}

func TestGetProtocol(t *testing.T) {
	cases := []struct {
		id    uint32
		class Class
		ok    bool
	}{
		{0b000 << 26, ClassRTACP, true},
		{0b010 << 26, ClassRPCACP, true},
		{0b100 << 26, ClassPSACPHi, true},
		{0b101 << 26, ClassBWACP, true},
		{0b110 << 26, ClassPSACPLo, true},
		{0b001 << 26, 0, false},
		{0b011 << 26, 0, false},
		{0b111 << 26, 0, false},
	}
	for _, c := range cases {
		got, ok := GetProtocol(c.id)
		if ok != c.ok {
			t.Fatalf("GetProtocol(0x%08X) ok=%v, want %v", c.id, ok, c.ok)
		}
		if ok && got != c.class {
			t.Fatalf("GetProtocol(0x%08X) = %v, want %v", c.id, got, c.class)
		}
	}
}

func TestFrameSetPayload(t *testing.T) {
	var f Frame
	if err := f.SetPayload([]byte("Hello")); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}
	if f.Len != 5 {
		t.Fatalf("Len = %d, want 5", f.Len)
	}
	if string(f.Payload()) != "Hello" {
		t.Fatalf("Payload = %q, want Hello", f.Payload())
	}
	if err := f.SetPayload(make([]byte, 9)); err == nil {
		t.Fatalf("expected error for 9-byte payload")
	}
}

func TestRTACPIdentifierLayout(t *testing.T) {
	// S1 from spec.md: A=0x01 sends MSG payload "Hello" MED_LOW to target 0x02.
	// identifier msb->lsb: proto(3)=000 gap(1)=0 kind(1)=1 priority(2)=10 sender(6)=000001 target(6)=000010 allones(10)
	id := uint32(0)
	id |= uint32(ClassRTACP) << 26
	id |= 1 << 24 // MSG
	id |= uint32(PriorityMedLow) << 22
	id |= uint32(0x01) << 16
	id |= uint32(0x02) << 10
	id |= 0x3FF
	const want = 0b000_1_10_000001_000010_1111111111
	if id != want {
		t.Fatalf("identifier = %029b, want %029b", id, want)
	}
	class, ok := GetProtocol(id)
	if !ok || class != ClassRTACP {
		t.Fatalf("GetProtocol(%029b) = %v, %v", id, class, ok)
	}
}
