// Package tuple implements the fixed-width field types, tuple descriptors and
// tuples stored in heap pages, along with the page and record identifiers.
package tuple

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// StringLen is the maximum number of bytes a string field can hold on disk.
const StringLen = 128

// Type is the type of a field. Every type has a fixed on-disk length.
type Type int

const (
	IntType    Type = 0
	StringType Type = 1
)

// ErrFieldTooShort is returned when a buffer is too small to hold a field.
var ErrFieldTooShort = errors.New("buffer too short for field")

// Len returns the number of bytes a field of this type occupies on disk.
func (t Type) Len() int {
	switch t {
	case IntType:
		return 4
	case StringType:
		return 4 + StringLen
	}
	panic(fmt.Sprintf("unknown field type %d", int(t)))
}

func (t Type) String() string {
	switch t {
	case IntType:
		return "int"
	case StringType:
		return "string"
	}
	return "unknown"
}

// ParseType converts a type name ("int" or "string") into a Type.
func ParseType(name string) (Type, error) {
	switch name {
	case "int":
		return IntType, nil
	case "string":
		return StringType, nil
	}
	return 0, errors.Errorf("unknown field type %q", name)
}

// Parse deserializes a field of this type from the start of data.
func (t Type) Parse(data []byte) (Field, error) {
	if len(data) < t.Len() {
		return nil, ErrFieldTooShort
	}
	switch t {
	case IntType:
		return IntField{Value: int32(binary.BigEndian.Uint32(data))}, nil
	case StringType:
		n := int(binary.BigEndian.Uint32(data))
		if n < 0 || n > StringLen {
			return nil, errors.Errorf("string field length %d out of range", n)
		}
		return StringField{Value: string(data[4 : 4+n])}, nil
	}
	return nil, errors.Errorf("unknown field type %d", int(t))
}

// Field is a single value in a tuple.
type Field interface {
	Type() Type
	// Serialize writes exactly Type().Len() bytes into buf.
	Serialize(buf []byte)
	String() string
}

// IntField is a 4-byte signed integer field.
type IntField struct {
	Value int32
}

func (f IntField) Type() Type {
	return IntType
}

func (f IntField) Serialize(buf []byte) {
	binary.BigEndian.PutUint32(buf, uint32(f.Value))
}

func (f IntField) String() string {
	return strconv.Itoa(int(f.Value))
}

// StringField is a string of at most StringLen bytes. Longer values are
// truncated when serialized.
type StringField struct {
	Value string
}

func (f StringField) Type() Type {
	return StringType
}

func (f StringField) Serialize(buf []byte) {
	s := f.Value
	if len(s) > StringLen {
		s = s[:StringLen]
	}
	binary.BigEndian.PutUint32(buf, uint32(len(s)))
	n := copy(buf[4:4+StringLen], s)
	clear(buf[4+n : 4+StringLen])
}

func (f StringField) String() string {
	return f.Value
}

// ParseField builds a field of type t from its textual form.
func ParseField(t Type, s string) (Field, error) {
	switch t {
	case IntType:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "parse int field %q", s)
		}
		return IntField{Value: int32(v)}, nil
	case StringType:
		if len(s) > StringLen {
			return nil, errors.Errorf("string field longer than %d bytes", StringLen)
		}
		return StringField{Value: s}, nil
	}
	return nil, errors.Errorf("unknown field type %d", int(t))
}
