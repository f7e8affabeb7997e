// Package pack implements the canonical byte encodings used by every table:
// variable-length unsigned integers, an end-of-buffer integer variant, and
// two memcmp-order-preserving encodings for integers and byte strings.
package pack

// AppendUint appends v as a varint: 7 data bits per byte, high bit set on
// every byte except the last. The encoding is minimal-length.
func AppendUint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// Uint decodes a varint from the front of b, returning the value, the number
// of bytes consumed, and whether the input was well formed.
func Uint(b []byte) (v uint64, n int, ok bool) {
	var shift uint
	for i, c := range b {
		if shift >= 64 || (shift == 63 && c > 1) {
			return 0, 0, false
		}
		v |= uint64(c&0x7f) << shift
		if c < 0x80 {
			return v, i + 1, true
		}
		shift += 7
	}
	return 0, 0, false
}

// AppendUintLast appends v with no length marker; every byte is data, least
// significant first. It may only be used as the final field of a value, where
// the decoder consumes the remainder of the buffer. Zero encodes to nothing.
func AppendUintLast(dst []byte, v uint64) []byte {
	for v != 0 {
		dst = append(dst, byte(v))
		v >>= 8
	}
	return dst
}

// UintLast decodes an AppendUintLast encoding spanning all of b.
func UintLast(b []byte) (v uint64, ok bool) {
	if len(b) > 8 {
		return 0, false
	}
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, true
}

// AppendUintPreservingSort appends v such that the bytewise order of the
// encodings matches the numeric order of the values. A leading byte holds
// the width of the big-endian payload that follows; shorter encodings sort
// first because a minimal-width payload implies a smaller value.
func AppendUintPreservingSort(dst []byte, v uint64) []byte {
	var payload [8]byte
	w := 0
	for x := v; x != 0; x >>= 8 {
		w++
	}
	for i := w - 1; i >= 0; i-- {
		payload[i] = byte(v)
		v >>= 8
	}
	dst = append(dst, byte(w))
	return append(dst, payload[:w]...)
}

// UintPreservingSort decodes an AppendUintPreservingSort encoding from the
// front of b.
func UintPreservingSort(b []byte) (v uint64, n int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	w := int(b[0])
	if w > 8 || len(b) < 1+w {
		return 0, 0, false
	}
	for _, c := range b[1 : 1+w] {
		v = v<<8 | uint64(c)
	}
	// Reject non-minimal payloads: they would break the ordering property.
	if w > 0 && b[1] == 0 {
		return 0, 0, false
	}
	return v, 1 + w, true
}

// AppendStringPreservingSort appends s with every zero byte escaped as
// 0x00 0xff and a 0x00 0x00 terminator, so that bytewise comparison of the
// encodings matches bytewise comparison of the original strings.
func AppendStringPreservingSort(dst []byte, s []byte) []byte {
	for _, c := range s {
		if c == 0 {
			dst = append(dst, 0, 0xff)
		} else {
			dst = append(dst, c)
		}
	}
	return append(dst, 0, 0)
}

// StringPreservingSort decodes an AppendStringPreservingSort encoding from
// the front of b.
func StringPreservingSort(b []byte) (s []byte, n int, ok bool) {
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != 0 {
			s = append(s, c)
			continue
		}
		if i+1 >= len(b) {
			return nil, 0, false
		}
		switch b[i+1] {
		case 0:
			return s, i + 2, true
		case 0xff:
			s = append(s, 0)
			i++
		default:
			return nil, 0, false
		}
	}
	return nil, 0, false
}

// AppendString appends s length-prefixed with a varint.
func AppendString(dst []byte, s []byte) []byte {
	dst = AppendUint(dst, uint64(len(s)))
	return append(dst, s...)
}

// String decodes a length-prefixed string from the front of b.
func String(b []byte) (s []byte, n int, ok bool) {
	l, n, ok := Uint(b)
	if !ok || uint64(len(b)-n) < l {
		return nil, 0, false
	}
	return b[n : n+int(l)], n + int(l), true
}
