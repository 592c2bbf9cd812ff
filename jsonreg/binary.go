package jsonreg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Binary format: a tag byte per node followed by the kind-specific payload.
// Strings, object keys, and arrays/objects are length-prefixed with a
// uvarint count. There is no corpus library for serializing a dynamically
// typed JSON-like tree to a compact binary form without a fixed schema
// (encoding/gob requires concrete Go types registered ahead of time, which
// does not fit a tree whose shape is only known at runtime), so this is a
// small hand-rolled format; it only has to round-trip losslessly with
// encodeBinary, which is the only thing exercising it.
const (
	tagNull byte = iota
	tagBool
	tagI64
	tagF64
	tagStr
	tagObject
	tagArray
)

func encodeBinary(n *node) []byte {
	var buf bytes.Buffer
	writeBinaryNode(&buf, n)
	return buf.Bytes()
}

func writeBinaryNode(buf *bytes.Buffer, n *node) {
	switch n.kind {
	case kindNull:
		buf.WriteByte(tagNull)
	case kindBool:
		buf.WriteByte(tagBool)
		if n.b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case kindI64:
		buf.WriteByte(tagI64)
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(n.i))
		buf.Write(tmp[:])
	case kindF64:
		buf.WriteByte(tagF64)
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(n.f))
		buf.Write(tmp[:])
	case kindStr:
		buf.WriteByte(tagStr)
		writeBinaryBytes(buf, []byte(n.s))
	case kindObject:
		buf.WriteByte(tagObject)
		writeUvarint(buf, uint64(len(n.obj)))
		for k, v := range n.obj {
			writeBinaryBytes(buf, []byte(k))
			writeBinaryNode(buf, v)
		}
	case kindArray:
		buf.WriteByte(tagArray)
		writeUvarint(buf, uint64(len(n.arr)))
		for _, v := range n.arr {
			writeBinaryNode(buf, v)
		}
	}
}

func writeBinaryBytes(buf *bytes.Buffer, b []byte) {
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func decodeBinary(data []byte) (*node, error) {
	r := bytes.NewReader(data)
	n, err := readBinaryNode(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("trailing bytes in binary registry file")
	}
	return n, nil
}

func readBinaryNode(r *bytes.Reader) (*node, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNull:
		return newNull(), nil
	case tagBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return newBoolNode(b != 0), nil
	case tagI64:
		var tmp [8]byte
		if _, err := r.Read(tmp[:]); err != nil {
			return nil, err
		}
		return newI64Node(int64(binary.LittleEndian.Uint64(tmp[:]))), nil
	case tagF64:
		var tmp [8]byte
		if _, err := r.Read(tmp[:]); err != nil {
			return nil, err
		}
		return newF64Node(math.Float64frombits(binary.LittleEndian.Uint64(tmp[:]))), nil
	case tagStr:
		b, err := readBinaryBytes(r)
		if err != nil {
			return nil, err
		}
		return newStrNode(string(b)), nil
	case tagObject:
		count, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		o := newObjectNode()
		for i := uint64(0); i < count; i++ {
			key, err := readBinaryBytes(r)
			if err != nil {
				return nil, err
			}
			child, err := readBinaryNode(r)
			if err != nil {
				return nil, err
			}
			o.obj[string(key)] = child
		}
		return o, nil
	case tagArray:
		count, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		a := newArrayNode()
		for i := uint64(0); i < count; i++ {
			child, err := readBinaryNode(r)
			if err != nil {
				return nil, err
			}
			a.arr = append(a.arr, child)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown binary tag %d", tag)
	}
}

func readBinaryBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
