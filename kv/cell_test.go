package kv

import "testing"

func TestCellCompareOrdersKeyAscendingTimeDescending(t *testing.T) {
	a := Cell{Key: []byte("a"), Time: 5}
	b := Cell{Key: []byte("a"), Time: 9}
	c := Cell{Key: []byte("b"), Time: 1}

	if a.Compare(b) <= 0 {
		t.Fatalf("same key, newer time should sort first: a=%v b=%v", a, b)
	}
	if a.Compare(c) >= 0 {
		t.Fatalf("lower key bytes should sort first regardless of time: a=%v c=%v", a, c)
	}
	if a.Compare(a) != 0 {
		t.Fatalf("a cell should compare equal to itself")
	}
}

func TestCellLess(t *testing.T) {
	newer := Cell{Key: []byte("k"), Time: 10}
	older := Cell{Key: []byte("k"), Time: 1}
	if !newer.Less(older) {
		t.Fatal("newer version of the same key should sort before the older one")
	}
	if older.Less(newer) {
		t.Fatal("older version should not sort before newer")
	}
}

func TestKeyEqualAndAt(t *testing.T) {
	k1 := NewKey([]byte("foo"))
	k2 := NewKey([]byte("foo"))
	if !k1.Equal(k2) {
		t.Fatal("keys built from identical bytes should be equal")
	}
	kt := k1.At(42)
	if kt.Key != string(k1.Bytes) || kt.Time != 42 {
		t.Fatalf("At(42) = %+v, want Key=%q Time=42", kt, k1.Bytes)
	}
}

func TestNewKeyCopiesBytes(t *testing.T) {
	b := []byte("mutate-me")
	k := NewKey(b)
	b[0] = 'X'
	if k.Bytes[0] == 'X' {
		t.Fatal("NewKey must copy its input so later mutation of the caller's slice is invisible")
	}
}
