package codec

import (
	"bytes"
	"testing"
)

func TestUint64RoundTrip(t *testing.T) {
	c := Uint64{}
	buf := make([]byte, c.Size())
	c.Encode(42, buf)
	if got := c.Decode(buf); got != 42 {
		t.Errorf("want 42, got %d", got)
	}
}

func TestUint64Order(t *testing.T) {
	c := Uint64{}
	if c.Compare(1, 2) >= 0 {
		t.Error("1 should compare less than 2")
	}
	if c.Compare(2, 1) <= 0 {
		t.Error("2 should compare greater than 1")
	}
	if c.Compare(5, 5) != 0 {
		t.Error("5 should compare equal to 5")
	}
}

func TestFixedBytesRoundTrip(t *testing.T) {
	c := FixedBytes{Width: 8}
	buf := make([]byte, c.Size())
	c.Encode([]byte("hi"), buf)

	got := c.Decode(buf)
	if !bytes.Equal(got[:2], []byte("hi")) {
		t.Errorf("want prefix hi, got %q", got)
	}
	for _, b := range got[2:] {
		if b != 0 {
			t.Errorf("expected zero padding, got %v", got)
		}
	}
}

func TestFixedBytesTooLongPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for oversized value")
		}
	}()
	c := FixedBytes{Width: 2}
	c.Encode([]byte("too long"), make([]byte, 2))
}
