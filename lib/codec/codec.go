package codec

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

/*
	A minimal protobuf wire-format encoder for 'sign bytes'.
	Every field is always written (including zero values) in the order the caller writes them, so the output is
	deterministic across nodes and any two messages that differ in a signed field differ in their bytes.
*/

// Encoder appends protobuf wire-format fields to an internal buffer
type Encoder struct {
	buf []byte
}

// NewEncoder() creates an empty Encoder
func NewEncoder() *Encoder { return &Encoder{} }

// Uint64() writes a varint field
func (e *Encoder) Uint64(field protowire.Number, v uint64) *Encoder {
	e.buf = protowire.AppendTag(e.buf, field, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
	return e
}

// Int64() writes a zig-zag encoded signed varint field
func (e *Encoder) Int64(field protowire.Number, v int64) *Encoder {
	e.buf = protowire.AppendTag(e.buf, field, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, protowire.EncodeZigZag(v))
	return e
}

// Bool() writes a boolean as a varint field
func (e *Encoder) Bool(field protowire.Number, v bool) *Encoder {
	return e.Uint64(field, protowire.EncodeBool(v))
}

// Bytes() writes a length delimited field
func (e *Encoder) Bytes(field protowire.Number, v []byte) *Encoder {
	e.buf = protowire.AppendTag(e.buf, field, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, v)
	return e
}

// String() writes a length delimited utf-8 field
func (e *Encoder) String(field protowire.Number, v string) *Encoder {
	e.buf = protowire.AppendTag(e.buf, field, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, v)
	return e
}

// Message() writes a nested encoder as a length delimited field
func (e *Encoder) Message(field protowire.Number, nested *Encoder) *Encoder {
	return e.Bytes(field, nested.Done())
}

// Done() returns the encoded bytes
func (e *Encoder) Done() []byte { return e.buf }

// Field is a single decoded wire-format field
type Field struct {
	Number protowire.Number
	Type   protowire.Type
	Varint uint64
	Bytes  []byte
}

// Decode() splits wire-format bytes into their fields; used to inspect sign bytes
func Decode(bz []byte) (fields []Field, err error) {
	for len(bz) > 0 {
		num, typ, n := protowire.ConsumeTag(bz)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		bz = bz[n:]
		f := Field{Number: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			f.Varint, n = protowire.ConsumeVarint(bz)
		case protowire.BytesType:
			f.Bytes, n = protowire.ConsumeBytes(bz)
		default:
			return nil, errors.New("unsupported wire type")
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		bz = bz[n:]
		fields = append(fields, f)
	}
	return
}
