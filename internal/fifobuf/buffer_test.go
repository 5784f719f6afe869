package fifobuf

import "testing"

func TestWriteThenReadInOrder(t *testing.T) {
	b := New(64)
	defer b.Release()

	want := []byte("hello, buffer")
	if _, err := b.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := append([]byte(nil), b.Peek()...)
	if string(got) != string(want) {
		t.Fatalf("Peek = %q, want %q", got, want)
	}
	b.Consume(len(got))
	if !b.Empty() {
		t.Fatalf("expected empty after consuming everything")
	}
}

func TestFullRejectsFurtherWrites(t *testing.T) {
	b := New(8)
	defer b.Release()

	if _, err := b.Write(make([]byte, b.Cap())); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !b.Full() {
		t.Fatalf("expected Full() after filling capacity")
	}
	if _, err := b.Write([]byte{1}); err != ErrFull {
		t.Fatalf("Write on full buffer = %v, want ErrFull", err)
	}
}

func TestConsumeFullLengthEmptiesAndReopensCapacity(t *testing.T) {
	b := New(8)
	defer b.Release()

	full := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if _, err := b.Write(full); err != nil {
		t.Fatalf("Write: %v", err)
	}
	b.Consume(len(full))
	if !b.Empty() {
		t.Fatalf("expected Empty() after consuming full length")
	}
	if _, err := b.Write(full); err != nil {
		t.Fatalf("Write after drain should succeed, got: %v", err)
	}
}

func TestCompactReclaimsSpaceAfterPartialConsume(t *testing.T) {
	b := New(8)
	defer b.Release()

	head := make([]byte, b.Cap()-4)
	if _, err := b.Write(append(head, 1, 2, 3, 4)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	b.Consume(len(head))
	if _, err := b.Write([]byte{5, 6, 7, 8}); err != nil {
		t.Fatalf("Write after consume: %v", err)
	}
	if got := b.Peek(); string(got) != string([]byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("Peek = %v, want [1 2 3 4 5 6 7 8]", got)
	}
}
