package classfile

import "bytes"

// byteWriter is a small big-endian accumulator used by the constant pool
// and class-file encoders. It mirrors the teacher's preference for
// explicit, mutation-via-small-functions builders (vm/classloader.go's
// Cache-mutating methods) rather than a generic io.Writer chain, since the
// writer needs to patch lengths back in after the fact (attribute_length,
// code_length) which a streaming io.Writer can't do without buffering
// anyway.
type byteWriter struct {
	buf bytes.Buffer
	err error
}

func (w *byteWriter) u8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf.WriteByte(v)
}

func (w *byteWriter) u16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf.WriteByte(byte(v >> 8))
	w.buf.WriteByte(byte(v))
}

func (w *byteWriter) u32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf.WriteByte(byte(v >> 24))
	w.buf.WriteByte(byte(v >> 16))
	w.buf.WriteByte(byte(v >> 8))
	w.buf.WriteByte(byte(v))
}

func (w *byteWriter) u64(v uint64) {
	w.u32(uint32(v >> 32))
	w.u32(uint32(v))
}

func (w *byteWriter) bytes(b []byte) {
	if w.err != nil {
		return
	}
	w.buf.Write(b)
}

// lengthPrefixed writes the bytes produced by fn, preceded by a uint32
// length, without needing to know the length in advance.
func (w *byteWriter) lengthPrefixed(fn func(*byteWriter)) {
	if w.err != nil {
		return
	}
	var inner byteWriter
	fn(&inner)
	if inner.err != nil {
		w.err = inner.err
		return
	}
	w.u32(uint32(inner.buf.Len()))
	w.buf.Write(inner.buf.Bytes())
}
