package field

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	page := make([]byte, 16)
	h := Header{Kind: NodeKind(3), Count: 42}
	h.Encode(page)

	got := DecodeHeader(page)
	if got.Kind != h.Kind {
		t.Errorf("kind: want %d, got %d", h.Kind, got.Kind)
	}
	if got.Count != h.Count {
		t.Errorf("count: want %d, got %d", h.Count, got.Count)
	}
}

func TestKindLeafAndDepth(t *testing.T) {
	if !LeafKind.IsLeaf() {
		t.Error("LeafKind.IsLeaf() should be true")
	}
	n := NodeKind(5)
	if n.IsLeaf() {
		t.Error("NodeKind(5).IsLeaf() should be false")
	}
	if n.Depth() != 5 {
		t.Errorf("depth: want 5, got %d", n.Depth())
	}
}

func TestAddressSentinel(t *testing.T) {
	if NilAddress.Valid() {
		t.Error("NilAddress should not be Valid")
	}
	if !Address(0).Valid() {
		t.Error("Address(0) should be Valid")
	}
}

func TestAddressEncoding(t *testing.T) {
	buf := make([]byte, 8)
	PutAddress(buf, Address(123456789))
	if got := GetAddress(buf); got != Address(123456789) {
		t.Errorf("want 123456789, got %d", got)
	}
}
