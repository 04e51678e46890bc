// Package npy writes the standard NumPy .npy container: the version 1.0
// header (magic, version, a little-endian header length, an ASCII Python
// dict literal describing dtype/fortran-order/shape, padded to a 64-byte
// boundary) followed by raw row-major array data.
package npy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

const (
	magic        = "\x93NUMPY"
	majorVersion = 1
	minorVersion = 0
)

// WriteFloat64 writes a row-major float64 array of the given shape to path.
func WriteFloat64(path string, shape []int, data []float64) error {
	expected := product(shape)
	if len(data) != expected {
		return fmt.Errorf("npy: data length %d does not match shape %v (expected %d)", len(data), shape, expected)
	}
	buf := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return write(path, "<f8", shape, buf)
}

// WriteInt64 writes a row-major int64 array of the given shape to path.
func WriteInt64(path string, shape []int, data []int64) error {
	expected := product(shape)
	if len(data) != expected {
		return fmt.Errorf("npy: data length %d does not match shape %v (expected %d)", len(data), shape, expected)
	}
	buf := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return write(path, "<i8", shape, buf)
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func write(path, dtype string, shape []int, data []byte) error {
	header := buildHeader(dtype, shape)

	var out bytes.Buffer
	out.WriteString(magic)
	out.WriteByte(majorVersion)
	out.WriteByte(minorVersion)
	var headerLen [2]byte
	binary.LittleEndian.PutUint16(headerLen[:], uint16(len(header)))
	out.Write(headerLen[:])
	out.WriteString(header)
	out.Write(data)

	return os.WriteFile(path, out.Bytes(), 0o644)
}

// buildHeader renders the ASCII Python-dict-literal header and pads it
// (including the trailing newline) so the full preamble
// (magic+version+headerlen+header) is a multiple of 64 bytes, the
// alignment the format requires for fast array access.
func buildHeader(dtype string, shape []int) string {
	shapeStr := shapeLiteral(shape)
	base := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", dtype, shapeStr)

	preambleFixed := len(magic) + 2 + 2 // magic + version bytes + header-length field
	total := preambleFixed + len(base) + 1
	pad := (64 - total%64) % 64
	base += string(bytes.Repeat([]byte{' '}, pad))
	base += "\n"
	return base
}

func shapeLiteral(shape []int) string {
	var b bytes.Buffer
	b.WriteByte('(')
	for i, s := range shape {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d", s)
	}
	if len(shape) == 1 {
		b.WriteByte(',')
	}
	b.WriteByte(')')
	return b.String()
}
