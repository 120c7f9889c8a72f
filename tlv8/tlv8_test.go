package tlv8

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeDecodeSingleRecord(t *testing.T) {
	m := NewMap()
	m.Set(Tag(0x0A), []byte("123"))

	got := Encode(m)
	want := []byte{0x0A, 0x03, '1', '2', '3'}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode() = % X, want % X", got, want)
	}

	back, err := Decode(got)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	v, ok := back.Get(Tag(0x0A))
	if !ok || string(v) != "123" {
		t.Fatalf("Decode() recovered %q, ok=%v", v, ok)
	}
}

func TestEncodeFragmentsLongValues(t *testing.T) {
	value := bytes.Repeat([]byte{0x31}, 256)
	m := NewMap()
	m.Set(TagSalt, value)

	got := Encode(m)

	wantPrefix := append([]byte{byte(TagSalt), 0xFF}, bytes.Repeat([]byte{0x31}, 255)...)
	wantPrefix = append(wantPrefix, byte(TagSalt), 0x01, 0x31)
	if !bytes.Equal(got, wantPrefix) {
		t.Fatalf("fragmented encoding mismatch:\n got % X\nwant % X", got, wantPrefix)
	}

	back, err := Decode(got)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	v, ok := back.Get(TagSalt)
	if !ok || !bytes.Equal(v, value) {
		t.Fatalf("Decode() did not reassemble 256-byte fragmented value")
	}
}

func TestEncodeZeroLengthValue(t *testing.T) {
	m := NewMap()
	m.Set(TagFlags, nil)
	got := Encode(m)
	if !bytes.Equal(got, []byte{byte(TagFlags), 0x00}) {
		t.Fatalf("Encode() of empty value = % X", got)
	}
}

func TestDecodeTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{0x01})
	if err == nil {
		t.Fatal("expected ProtocolError for truncated header")
	}
	var pe *ProtocolError
	if !asProtocolError(err, &pe) {
		t.Fatalf("expected *ProtocolError, got %T", err)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x05, 0x01, 0x02})
	if err == nil {
		t.Fatal("expected ProtocolError for truncated payload")
	}
}

func TestRoundTripMultipleTags(t *testing.T) {
	m := NewMap()
	m.SetByte(TagMethod, 0x00)
	m.Set(TagSalt, bytes.Repeat([]byte{0xAB}, 16))
	m.SetByte(TagSeqNo, 0x01)

	encoded := Encode(m)
	back, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	for _, tag := range m.Tags() {
		want, _ := m.Get(tag)
		got, ok := back.Get(tag)
		if !ok || !bytes.Equal(got, want) {
			t.Fatalf("tag %v mismatch: got %x want %x", tag, got, want)
		}
	}
}

func TestStringify(t *testing.T) {
	m := NewMap()
	m.SetByte(TagMethod, 0x00)
	m.SetByte(TagSeqNo, 0x01)
	m.SetByte(TagError, 0x03)
	m.Set(TagBackOff, []byte{0x01, 0x00})

	got := Stringify(m)
	want := "Method=PairSetup, SeqNo=M1, Error=BackOff, BackOff=1s"
	if got != want {
		t.Fatalf("Stringify() = %q, want %q", got, want)
	}
}

func TestTagStringUnknown(t *testing.T) {
	s := Tag(0x7E).String()
	if !strings.Contains(s, "0x7E") {
		t.Fatalf("Tag.String() = %q", s)
	}
}

func asProtocolError(err error, target **ProtocolError) bool {
	pe, ok := err.(*ProtocolError)
	if ok {
		*target = pe
	}
	return ok
}
