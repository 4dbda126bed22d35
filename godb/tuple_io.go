package godb

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// Tuple wire format (spec.md §6): integer fields are big-endian signed
// 32-bit, string fields are a big-endian 32-bit length prefix followed by
// StringLength bytes, zero-padded.

func writeIntField(b *bytes.Buffer, f IntField) error {
	return binary.Write(b, binary.BigEndian, int32(f.Value))
}

func writeStringField(b *bytes.Buffer, f StringField) error {
	if err := binary.Write(b, binary.BigEndian, int32(len(f.Value))); err != nil {
		return err
	}
	padded := make([]byte, StringLength)
	copy(padded, f.Value)
	_, err := b.Write(padded)
	return err
}

func (t *Tuple) writeTo(b *bytes.Buffer) error {
	for _, field := range t.Fields {
		switch v := field.(type) {
		case IntField:
			if err := writeIntField(b, v); err != nil {
				return err
			}
		case StringField:
			if err := writeStringField(b, v); err != nil {
				return err
			}
		default:
			return GoDBError{MalformedDataError, "unsupported field type"}
		}
	}
	return nil
}

func readIntField(b *bytes.Buffer) (IntField, error) {
	var v int32
	if err := binary.Read(b, binary.BigEndian, &v); err != nil {
		return IntField{}, err
	}
	return IntField{Value: int64(v)}, nil
}

func readStringField(b *bytes.Buffer) (StringField, error) {
	var n int32
	if err := binary.Read(b, binary.BigEndian, &n); err != nil {
		return StringField{}, err
	}
	buf := make([]byte, StringLength)
	if _, err := b.Read(buf); err != nil {
		return StringField{}, err
	}
	if int(n) > len(buf) {
		n = int32(len(buf))
	}
	return StringField{Value: strings.TrimRight(string(buf[:n]), "\x00")}, nil
}

func readTupleFrom(b *bytes.Buffer, desc *TupleDesc) (*Tuple, error) {
	t := &Tuple{Desc: *desc}
	for _, ft := range desc.Fields {
		switch ft.Ftype {
		case IntType:
			f, err := readIntField(b)
			if err != nil {
				return nil, err
			}
			t.Fields = append(t.Fields, f)
		case StringType:
			f, err := readStringField(b)
			if err != nil {
				return nil, err
			}
			t.Fields = append(t.Fields, f)
		default:
			return nil, GoDBError{MalformedDataError, "unsupported field type in descriptor"}
		}
	}
	return t, nil
}
