package pack

import (
	"bytes"
	"math"
	"testing"
)

var uintCases = []uint64{
	0, 1, 2, 127, 128, 129, 255, 256, 16383, 16384,
	1<<32 - 1, 1 << 32, 1<<62 + 3, math.MaxUint64,
}

func TestUintRoundTrip(t *testing.T) {
	for _, v := range uintCases {
		enc := AppendUint(nil, v)
		got, n, ok := Uint(enc)
		if !ok || n != len(enc) || got != v {
			t.Errorf("Uint(%d): got %d, n=%d, ok=%v, enc=%x", v, got, n, ok, enc)
		}
		// Trailing bytes must not be consumed.
		got, n, ok = Uint(append(enc, 0x42))
		if !ok || n != len(enc) || got != v {
			t.Errorf("Uint(%d) with trailer: got %d, n=%d, ok=%v", v, got, n, ok)
		}
	}
}

func TestUintTruncated(t *testing.T) {
	if _, _, ok := Uint(nil); ok {
		t.Error("decoding empty buffer should fail")
	}
	if _, _, ok := Uint([]byte{0x80, 0x80}); ok {
		t.Error("decoding unterminated varint should fail")
	}
}

func TestUintLastRoundTrip(t *testing.T) {
	for _, v := range uintCases {
		enc := AppendUintLast(nil, v)
		got, ok := UintLast(enc)
		if !ok || got != v {
			t.Errorf("UintLast(%d): got %d, ok=%v", v, got, ok)
		}
	}
	if enc := AppendUintLast(nil, 0); len(enc) != 0 {
		t.Errorf("UintLast(0) should encode to nothing, got %x", enc)
	}
}

func TestUintPreservingSortRoundTrip(t *testing.T) {
	for _, v := range uintCases {
		enc := AppendUintPreservingSort(nil, v)
		got, n, ok := UintPreservingSort(enc)
		if !ok || n != len(enc) || got != v {
			t.Errorf("UintPreservingSort(%d): got %d, n=%d, ok=%v", v, got, n, ok)
		}
	}
}

func TestUintPreservingSortOrder(t *testing.T) {
	for _, a := range uintCases {
		for _, b := range uintCases {
			ea := AppendUintPreservingSort(nil, a)
			eb := AppendUintPreservingSort(nil, b)
			cmp := bytes.Compare(ea, eb)
			want := 0
			if a < b {
				want = -1
			} else if a > b {
				want = 1
			}
			if cmp != want {
				t.Errorf("order(%d, %d): memcmp=%d, want %d", a, b, cmp, want)
			}
		}
	}
}

func TestStringPreservingSortRoundTrip(t *testing.T) {
	cases := []string{"", "a", "abc", "a\x00b", "\x00", "\x00\x00", "\xff", "a\x00\xffz"}
	for _, s := range cases {
		enc := AppendStringPreservingSort(nil, []byte(s))
		got, n, ok := StringPreservingSort(enc)
		if !ok || n != len(enc) || string(got) != s {
			t.Errorf("StringPreservingSort(%q): got %q, n=%d, ok=%v", s, got, n, ok)
		}
	}
}

func TestStringPreservingSortOrder(t *testing.T) {
	cases := []string{"", "a", "ab", "a\x00", "a\x00b", "b", "\x00", "\xff"}
	for _, a := range cases {
		for _, b := range cases {
			ea := AppendStringPreservingSort(nil, []byte(a))
			eb := AppendStringPreservingSort(nil, []byte(b))
			cmp := bytes.Compare(ea, eb)
			want := bytes.Compare([]byte(a), []byte(b))
			if cmp != want {
				t.Errorf("order(%q, %q): memcmp=%d, want %d", a, b, cmp, want)
			}
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "term", string(make([]byte, 300))} {
		enc := AppendString(nil, []byte(s))
		got, n, ok := String(enc)
		if !ok || n != len(enc) || string(got) != s {
			t.Errorf("String(%q): got %q, n=%d, ok=%v", s, got, n, ok)
		}
	}
	if _, _, ok := String([]byte{5, 'a'}); ok {
		t.Error("truncated string should fail to decode")
	}
}
